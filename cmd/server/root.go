package main

import (
	"fmt"
	"os"

	"github.com/amber7117/server-api/config"
	"github.com/amber7117/server-api/core/registry"
	"github.com/amber7117/server-api/definitions"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd serves by default when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "server-api",
	Short: "Declarative resource API server",
	Long: `server-api serves CRUD and search endpoints for every resource in
its catalog, with per-operation security and an in-memory search index.

Quick start:
  server-api serve     # Start the server
  server-api routes    # Print the route table
  server-api validate  # Check configuration and resource definitions`,
	RunE: runServe,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "server-api.yaml", "config file path")
	rootCmd.Flags().BoolVar(&hotReload, "hot-reload", true, "enable hot reload of configuration")
}

// compileRoutes loads the configuration and compiles the resource catalog
// without opening storage.
func compileRoutes() (*config.Config, *registry.Registry, error) {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("config error: %w", err)
	}

	reg := registry.New(registry.Options{
		Prefix: cfg.Server.APIPrefix,
		Logger: zerolog.Nop(),
	})
	if err := reg.RegisterAll(definitions.All(cfg.Auth.RolesResource)...); err != nil {
		return cfg, nil, fmt.Errorf("resource error: %w", err)
	}
	return cfg, reg, nil
}
