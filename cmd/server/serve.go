package main

import (
	"fmt"
	"os"

	"github.com/amber7117/server-api/bootstrap"
	"github.com/amber7117/server-api/config"
	"github.com/spf13/cobra"
)

var (
	hotReload bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long: `Start the server-api HTTP server.

The server will:
  - Load configuration from server-api.yaml (or --config)
  - Or load configuration from SERVER_API_* environment variables
  - Open the configured record store
  - Build the search indexes in the background
  - Serve the route table of every registered resource

Environment variables (for Docker deployments):
  SERVER_API_SERVER_PORT        - Server port (default: 8080)
  SERVER_API_STORAGE_ADAPTER    - memory or sqlite
  SERVER_API_STORAGE_DSN        - SQLite database path
  SERVER_API_AUTH_JWT_SECRET    - Secret used to verify bearer tokens
  SERVER_API_LOG_LEVEL          - Log level: debug, info, warn, error

Examples:
  server-api serve
  server-api serve --config /etc/server-api/config.yaml
  server-api serve --hot-reload=false`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&hotReload, "hot-reload", true, "enable hot reload of configuration")
}

func runServe(cmd *cobra.Command, args []string) error {
	hasConfigFile := false
	if _, err := os.Stat(cfgFile); err == nil {
		hasConfigFile = true
	}

	var (
		app *bootstrap.App
		err error
	)
	if hasConfigFile && hotReload {
		// Hot reload only works with a config file
		app, err = bootstrap.NewWithHotReload(cfgFile)
	} else {
		cfg, loadErr := config.LoadWithFallback(cfgFile)
		if loadErr != nil {
			return fmt.Errorf("error loading config: %w", loadErr)
		}
		if !hasConfigFile {
			fmt.Println("Running with environment variables (no config file)")
		}
		app, err = bootstrap.New(cfg)
	}
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}

	// Run (blocks until shutdown)
	return app.Run()
}
