package app

import (
	"context"

	"github.com/gvanjoic/neo4j/src/cli"
)

var rootCmd = cli.Init("kernel")

func MustExecute(ctx context.Context) {
	initStart()
	rootCmd.MustExecute(ctx)
}
