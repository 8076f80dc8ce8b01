package main

import (
	"os"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/rentflow/internal/clock"
	"github.com/smallbiznis/rentflow/internal/config"
	"github.com/smallbiznis/rentflow/internal/migration"
	"github.com/smallbiznis/rentflow/internal/observability"
	"github.com/smallbiznis/rentflow/internal/scheduler"
	"github.com/smallbiznis/rentflow/internal/server"
	"github.com/smallbiznis/rentflow/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Payments, ipn logs, staff API
		server.Module,
		scheduler.Module,
	)
	app.Run()
}

// RegisterSnowflake builds the id generator. NODE_ID must differ per replica.
func RegisterSnowflake() (*snowflake.Node, error) {
	nodeID := int64(1)
	if raw := os.Getenv("NODE_ID"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, err
		}
		nodeID = parsed
	}
	return snowflake.NewNode(nodeID)
}
