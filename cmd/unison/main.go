// Package main provides the entry point for the unison demo server.
package main

import (
	"context"
	"os"

	"github.com/jacobclevenger/unison/internal/cli"
)

// Version information populated at build time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	ctx, cancel := cli.ContextWithSignals(context.Background())
	defer cancel()

	app := cli.New(cli.BuildInfo{Version: version, Commit: commit, Date: date})
	if err := app.Execute(ctx, os.Args[1:]); err != nil {
		cli.ExitOnError(err)
	}
}
