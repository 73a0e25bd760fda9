package observability

import (
	"strings"

	"github.com/smallbiznis/tenantauth/internal/config"
)

// Config is the observability view of the application config.
type Config struct {
	ServiceName string
	Environment string
	Version     string
	Telemetry   config.TelemetryConfig
}

func LoadConfig(cfg config.Config) Config {
	name := strings.TrimSpace(cfg.AppName)
	if name == "" {
		name = "tenantauth"
	}
	return Config{
		ServiceName: name,
		Environment: strings.TrimSpace(cfg.Environment),
		Version:     strings.TrimSpace(cfg.AppVersion),
		Telemetry:   cfg.Telemetry,
	}
}

// Debug reports whether request logs carry stacks. Production never does:
// stacks from the login handlers would include request values.
func (c Config) Debug() bool {
	switch strings.ToLower(c.Environment) {
	case "production", "prod":
		return false
	case "dev", "development", "local", "test":
		return true
	}
	return c.Telemetry.LogLevel == "debug"
}
