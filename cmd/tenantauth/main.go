package main

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantauth/internal/auth"
	"github.com/smallbiznis/tenantauth/internal/cache"
	"github.com/smallbiznis/tenantauth/internal/clock"
	"github.com/smallbiznis/tenantauth/internal/config"
	"github.com/smallbiznis/tenantauth/internal/migration"
	"github.com/smallbiznis/tenantauth/internal/observability"
	"github.com/smallbiznis/tenantauth/internal/ratelimit"
	"github.com/smallbiznis/tenantauth/internal/server"
	"github.com/smallbiznis/tenantauth/pkg/db"
	"go.uber.org/fx"
)

func main() {
	fx.New(
		config.Module,
		observability.Module,
		fx.Provide(newIDNode),
		db.Module,
		cache.Module,
		clock.Module,
		migration.Module,

		// login flow: throttle and limiter first, HTTP last
		ratelimit.Module,
		auth.Module,
		server.Module,
	).Run()
}

// newIDNode allocates tenant and user ids for the bootstrap seed.
func newIDNode(cfg config.Config) (*snowflake.Node, error) {
	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", cfg.NodeID, err)
	}
	return node, nil
}
