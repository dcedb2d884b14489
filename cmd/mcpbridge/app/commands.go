// Package app wires the mcpbridge command-line interface: cobra commands
// bound to viper-resolved flags, following the layout of the teacher's own
// CLI entry point.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/billyjbryant/mcp-foxxy-bridge/internal/bridgelog"
	"github.com/billyjbryant/mcp-foxxy-bridge/pkg/bridge/config"
	"github.com/billyjbryant/mcp-foxxy-bridge/pkg/bridge/controller"
	bridgehttp "github.com/billyjbryant/mcp-foxxy-bridge/pkg/transport/http"
)

// version is overwritten at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:               "mcpbridge",
	DisableAutoGenTag: true,
	Short:             "One-to-many MCP bridge - aggregate and proxy multiple MCP servers",
	Long: `mcpbridge is a proxy that multiplexes several local MCP (Model Context
Protocol) server processes behind a single client-facing endpoint. It:

- Spawns and supervises each configured backend as a stdio subprocess
- Aggregates tools, resources, and prompts into one namespaced catalog
- Restarts unhealthy backends automatically with exponential backoff
- Routes each client call to the backend that owns the requested capability`,
	Run: func(cmd *cobra.Command, _ []string) {
		if err := cmd.Help(); err != nil {
			bridgelog.Errorf("error displaying help: %v", err)
		}
	},
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		if viper.GetBool("debug") {
			_ = os.Setenv("MCPBRIDGE_DEBUG", "1")
		}
		bridgelog.Initialize()
	},
}

// NewRootCmd builds the mcpbridge root command.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		bridgelog.Errorf("error binding debug flag: %v", err)
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the mcpbridge configuration file")
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		bridgelog.Errorf("error binding config flag: %v", err)
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newVersionCmd())

	rootCmd.SilenceUsage = true
	return rootCmd
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "start the bridge",
		Long: `Start the bridge: spawn every enabled backend, wait for the initial
readiness window, and begin serving client requests over HTTP.`,
		RunE: runServe,
	}
	cmd.Flags().String("host", "127.0.0.1", "host address to bind to")
	cmd.Flags().Int("port", 8585, "port to listen on")
	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "validate a configuration file",
		Long:  "Load and validate the mcpbridge configuration file without starting the bridge.",
		RunE: func(_ *cobra.Command, _ []string) error {
			configPath := viper.GetString("config")
			if configPath == "" {
				return errors.New("no configuration file specified, use --config")
			}

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			bridgelog.Infof("configuration is valid")
			bridgelog.Infof("  backends: %d", len(cfg.Backends))
			bridgelog.Infof("  conflict resolution: %s", cfg.Bridge.ConflictResolution)
			for _, b := range cfg.Backends {
				bridgelog.Infof("    - %s (enabled=%v, command=%s)", b.Name, b.Enabled, b.Command)
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print version information",
		Run: func(_ *cobra.Command, _ []string) {
			bridgelog.Infof("mcpbridge version: %s", version)
		},
	}
}

// loadConfig loads and validates the configuration at path, logging the
// outcome the way the rest of the CLI reports progress.
func loadConfig(path string) (*config.Config, error) {
	bridgelog.Infof("loading configuration from: %s", path)
	cfg, err := config.Load(path)
	if err != nil {
		bridgelog.Errorf("failed to load configuration: %v", err)
		return nil, fmt.Errorf("configuration loading failed: %w", err)
	}
	bridgelog.Infof("configuration loaded and validated successfully")
	return cfg, nil
}

// runServe implements the serve command: load config, start the Bridge
// Controller, serve HTTP until a shutdown signal arrives, then drain.
func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	configPath := viper.GetString("config")
	if configPath == "" {
		return errors.New("no configuration file specified, use --config")
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	host, _ := cmd.Flags().GetString("host")
	port, _ := cmd.Flags().GetInt("port")

	ctrl := controller.New(cfg.Backends, cfg.Bridge)

	if err := ctrl.Start(ctx); err != nil {
		return fmt.Errorf("failed to start bridge controller: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", host, port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           bridgehttp.NewRouter(ctrl),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		bridgelog.Infof("mcpbridge listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	bridgelog.Infof("shutdown signal received, draining")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		bridgelog.Errorf("http server shutdown error: %v", err)
	}
	if err := ctrl.Shutdown(shutdownCtx); err != nil {
		bridgelog.Errorf("controller shutdown error: %v", err)
	}
	return nil
}
