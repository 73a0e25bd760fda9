package migration

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantauth/internal/config"
	"github.com/smallbiznis/tenantauth/internal/seed"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(migrateAndSeed),
)

// migrateAndSeed runs before the HTTP server starts, so no login is served
// against a missing table.
func migrateAndSeed(conn *gorm.DB, cfg config.Config, node *snowflake.Node, log *zap.Logger) error {
	if err := Apply(conn, cfg.DBType); err != nil {
		return err
	}
	if !cfg.Bootstrap.Enabled {
		log.Debug("bootstrap tenant disabled")
		return nil
	}
	return seed.EnsureBootstrap(context.Background(), conn, node, cfg.Bootstrap, log)
}
