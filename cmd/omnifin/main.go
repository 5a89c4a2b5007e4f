package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/omnifin/platform/internal/clock"
	"github.com/omnifin/platform/internal/config"
	"github.com/omnifin/platform/internal/logger"
	"github.com/omnifin/platform/internal/migration"
	"github.com/omnifin/platform/internal/server"
	"github.com/omnifin/platform/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
