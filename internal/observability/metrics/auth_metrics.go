package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

// Login outcomes. Kept to a closed set so the outcome label stays low-cardinality.
const (
	OutcomeSuccess            = "success"
	OutcomeInvalidCredentials = "invalid_credentials"
	OutcomeThrottled          = "throttled"
	OutcomeCSRFMismatch       = "csrf_mismatch"
	OutcomeTrialExpired       = "trial_expired"
	OutcomeTenantIneligible   = "tenant_ineligible"
	OutcomeUnavailable        = "unavailable"
)

// Auto-login results for remember-me tokens.
const (
	AutoLoginSuccess    = "success"
	AutoLoginInvalid    = "invalid"
	AutoLoginIneligible = "ineligible"
	AutoLoginFailed     = "failed"
)

// Store error reasons.
const (
	StoreReasonDeadline        = "deadline_exceeded"
	StoreReasonLockTimeout     = "db_lock_timeout"
	StoreReasonUniqueViolation = "unique_violation"
	StoreReasonDB              = "db"
	StoreReasonUnknown         = "unknown"
)

// AuthMetrics captures login flow health signals.
type AuthMetrics struct {
	loginOutcomes  *prometheus.CounterVec
	loginDuration  prometheus.Observer
	autoLogins     *prometheus.CounterVec
	logouts        prometheus.Counter
	throttleErrors *prometheus.CounterVec
	lockContention prometheus.Counter
}

// NewAuthMetrics registers the login flow collectors on registerer.
func NewAuthMetrics(registerer prometheus.Registerer) *AuthMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	loginOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tenantauth_login_attempts_total",
		Help: "Login submissions by outcome.",
	}, []string{"outcome"})
	loginDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tenantauth_login_duration_seconds",
		Help:    "Login submission latency including password verification.",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})
	autoLogins := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tenantauth_auto_login_total",
		Help: "Remember-me auto-login attempts by result.",
	}, []string{"result"})
	logouts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tenantauth_logout_total",
		Help: "Completed logouts.",
	})
	throttleErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tenantauth_throttle_store_errors_total",
		Help: "Attempt store failures by low-cardinality reason.",
	}, []string{"reason"})
	lockContention := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tenantauth_throttle_lock_contention_total",
		Help: "Login submissions rejected because another submission held the identity lock.",
	})

	registerer.MustRegister(
		loginOutcomes,
		loginDuration,
		autoLogins,
		logouts,
		throttleErrors,
		lockContention,
	)

	return &AuthMetrics{
		loginOutcomes:  loginOutcomes,
		loginDuration:  loginDuration,
		autoLogins:     autoLogins,
		logouts:        logouts,
		throttleErrors: throttleErrors,
		lockContention: lockContention,
	}
}

// IncLoginOutcome counts a finished login submission.
func (m *AuthMetrics) IncLoginOutcome(outcome string) {
	if m == nil {
		return
	}
	m.loginOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveLoginDuration records submission latency.
func (m *AuthMetrics) ObserveLoginDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.loginDuration.Observe(duration.Seconds())
}

func (m *AuthMetrics) IncAutoLogin(result string) {
	if m == nil {
		return
	}
	m.autoLogins.WithLabelValues(result).Inc()
}

func (m *AuthMetrics) IncLogout() {
	if m == nil {
		return
	}
	m.logouts.Inc()
}

// IncThrottleError counts an attempt store failure with classification.
func (m *AuthMetrics) IncThrottleError(err error) {
	if m == nil || err == nil {
		return
	}
	m.throttleErrors.WithLabelValues(ClassifyStoreError(err)).Inc()
}

func (m *AuthMetrics) IncLockContention() {
	if m == nil {
		return
	}
	m.lockContention.Inc()
}

// ClassifyStoreError maps persistence errors to low-cardinality reasons.
func ClassifyStoreError(err error) string {
	if err == nil {
		return StoreReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return StoreReasonDeadline
	}
	if hasPGCode(err, "55P03") {
		return StoreReasonLockTimeout
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505") {
		return StoreReasonUniqueViolation
	}
	if isDBError(err) {
		return StoreReasonDB
	}
	return StoreReasonUnknown
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	if errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidField) ||
		errors.Is(err, gorm.ErrInvalidData) ||
		errors.Is(err, gorm.ErrMissingWhereClause) ||
		errors.Is(err, gorm.ErrUnsupportedDriver) ||
		errors.Is(err, gorm.ErrNotImplemented) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}
