package main

import (
	"context"

	"github.com/gvanjoic/neo4j/cmd/kernel/app"
)

func main() {
	app.MustExecute(context.Background())
}
