package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/tenantauth/internal/auth/service"
	"github.com/smallbiznis/tenantauth/internal/auth/session"
	"github.com/smallbiznis/tenantauth/internal/config"
	"github.com/smallbiznis/tenantauth/internal/observability"
	obsmiddleware "github.com/smallbiznis/tenantauth/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/tenantauth/internal/observability/metrics"
	obstracing "github.com/smallbiznis/tenantauth/internal/observability/tracing"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

type EngineParams struct {
	fx.In

	Cfg         config.Config
	ObsCfg      observability.Config
	HTTPMetrics *obsmetrics.HTTPMetrics `optional:"true"`
}

func NewEngine(p EngineParams) (*gin.Engine, error) {
	if p.Cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if err := r.SetTrustedProxies(p.Cfg.TrustedProxies); err != nil {
		return nil, err
	}

	r.Use(gin.Recovery())
	if len(p.Cfg.CORSAllowedOrigins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = p.Cfg.CORSAllowedOrigins
		corsConfig.AllowCredentials = true
		corsConfig.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
		corsConfig.AllowHeaders = []string{
			"Origin",
			"Content-Type",
			"Accept",
			"X-Request-Id",
			"X-CSRF-TOKEN",
			"X-XSRF-TOKEN",
		}
		corsConfig.ExposeHeaders = []string{"X-Request-Id"}
		corsConfig.MaxAge = 12 * time.Hour
		r.Use(cors.New(corsConfig))
	}
	opsRoutes := []string{"/health", "/metrics"}
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           p.ObsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
		QuietRoutes:     opsRoutes,
		WarnResults: []string{
			obsmetrics.OutcomeCSRFMismatch,
			obsmetrics.OutcomeThrottled,
			obsmetrics.OutcomeUnavailable,
		},
	}))
	r.Use(obstracing.GinMiddleware(obstracing.MiddlewareConfig{
		SkipRoutes:    opsRoutes,
		FailedResults: []string{obsmetrics.OutcomeUnavailable},
	}))
	if p.HTTPMetrics != nil {
		r.Use(p.HTTPMetrics.GinMiddleware())
	}
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r, nil
}

func run(lc fx.Lifecycle, s *Server, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine   *gin.Engine
	cfg      config.Config
	auth     *service.Service
	sessions *session.Manager
	log      *zap.Logger
}

type ServerParams struct {
	fx.In

	Gin      *gin.Engine
	Cfg      config.Config
	Auth     *service.Service
	Sessions *session.Manager
	Log      *zap.Logger
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:   p.Gin,
		cfg:      p.Cfg,
		auth:     p.Auth,
		sessions: p.Sessions,
		log:      p.Log.Named("http.server"),
	}

	svc.registerAuthRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAuthRoutes() {
	loginPath := s.cfg.Auth.LoginPath
	if loginPath == "" {
		loginPath = "/login"
	}

	s.engine.GET(loginPath, s.ShowLogin)
	s.engine.POST(loginPath, s.SubmitLogin)
	s.engine.POST("/logout", s.Logout)

	auth := s.engine.Group("/auth")
	auth.GET("/me", s.WebAuthRequired(), s.Me)
}
