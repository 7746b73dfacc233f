/*
main.go - Application entry point

PURPOSE:
  Runs the achievement engine: the HTTP server by default, plus a few
  operator commands that work directly against the configured store.

COMMANDS:
  serve        HTTP API with the notification scheduler (default)
  seed         Write the reward catalog into the store
  catalog      Print the stored catalog
  leaderboard  Print the top users
  stats        Print one user's statistics
  notify       Flush pending celebration mail once

CONFIGURATION:
  --config points at a YAML file. Every key can be overridden from the
  environment with the ACHIEVE_ prefix, e.g.:

    ACHIEVE_STORE_DRIVER=memory
    ACHIEVE_STORE_SQLITE_PATH=:memory:
    ACHIEVE_HTTP_ADDR=:3000

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the notification scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close the store

SEE ALSO:
  - commands.go: Command implementations
  - config/config.go: Configuration keys and defaults
  - api/server.go: Router configuration
*/
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
)

var CLI struct {
	Config string `help:"Config file path (YAML)." type:"path" default:"achievements.yaml"`

	Serve       ServeCmd       `cmd:"" help:"Run the HTTP API." default:"1"`
	Seed        SeedCmd        `cmd:"" help:"Write the reward catalog into the store."`
	Catalog     CatalogCmd     `cmd:"" help:"Print the stored reward catalog."`
	Leaderboard LeaderboardCmd `cmd:"" help:"Print the top users by points."`
	Stats       StatsCmd       `cmd:"" help:"Print a user's achievement statistics."`
	Notify      NotifyCmd      `cmd:"" help:"Flush pending celebration mail once."`
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("achievements"),
		kong.Description("Goal tracking achievement engine"),
		kong.UsageOnError(),
	)

	app, err := newApp(CLI.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	err = ctx.Run(app)
	if err != nil {
		app.Log.Error("command failed", "command", ctx.Command(), "error", err)
	}
	app.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
