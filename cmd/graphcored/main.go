// Package main implements the graphcored CLI for operating the storage
// backends: config validation, connection preloading and health probes.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/graphcore/internal/config"
	"github.com/fyrsmithlabs/graphcore/internal/logging"
	"github.com/fyrsmithlabs/graphcore/internal/registry"
	"github.com/fyrsmithlabs/graphcore/internal/store"
)

var (
	configPath string
	timeout    time.Duration

	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "graphcored",
	Short: "Operate graphcore storage backends",
	Long: `graphcored manages the graph and vector storage backends:
validating configuration, warming connections and probing health.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file (env vars override)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "overall command timeout")
	rootCmd.AddCommand(validateConfigCmd)
	rootCmd.AddCommand(preloadCmd)
	rootCmd.AddCommand(healthCmd)
}

// validateConfigCmd checks the configuration without touching any backend.
var validateConfigCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Validate configuration and print the resolved values",
	Long: `Load the configuration from file and environment, apply defaults and
validate it. No backend connection is made.

Examples:
  graphcored validate-config --config /etc/graphcore/config.yaml
  GRAPHCORE_BACKEND_MODE=local graphcored validate-config`,
	RunE: runValidateConfig,
}

var preloadCmd = &cobra.Command{
	Use:   "preload",
	Short: "Connect every backend the configured mode requires",
	Long: `Initialize the storage registry and eagerly connect the graph and
vector backends, so failures surface here instead of on first request.

Examples:
  graphcored preload --config /etc/graphcore/config.yaml`,
	RunE: runPreload,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe backend health and print the results as JSON",
	Long: `Connect the configured backends and run a health check against each,
printing status and latency per backend.

Examples:
  graphcored health --config /etc/graphcore/config.yaml`,
	RunE: runHealth,
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func newRegistry(cfg *config.Config) (*registry.Registry, *logging.Logger, error) {
	logger, err := logging.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("creating logger: %w", err)
	}
	return registry.New(registry.Options{Logger: logger}), logger, nil
}

func runValidateConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	resolved := map[string]any{
		"backend": map[string]any{
			"mode":       cfg.Backend.Mode,
			"lazy":       cfg.Backend.Lazy,
			"local_path": cfg.Backend.LocalPath,
		},
		"neo4j": map[string]any{
			"uri":      cfg.Neo4j.URI,
			"username": cfg.Neo4j.Username,
			"database": cfg.Neo4j.Database,
		},
		"qdrant": map[string]any{
			"host":        cfg.Qdrant.Host,
			"port":        cfg.Qdrant.Port,
			"use_tls":     cfg.Qdrant.UseTLS,
			"vector_size": cfg.Qdrant.VectorSize,
		},
		"logging": map[string]any{
			"level":  cfg.Logging.Level,
			"format": cfg.Logging.Format,
		},
	}
	out, err := json.MarshalIndent(resolved, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	fmt.Fprintln(cmd.OutOrStdout(), "config valid")
	return nil
}

func runPreload(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	reg, logger, err := newRegistry(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	defer reg.Cleanup(context.WithoutCancel(ctx))

	if err := reg.Initialize(ctx, cfg); err != nil {
		return fmt.Errorf("initializing registry: %w", err)
	}
	if err := reg.Preload(ctx); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "backends ready (mode=%s)\n", reg.Mode())
	return nil
}

func runHealth(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	reg, logger, err := newRegistry(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	defer reg.Cleanup(context.WithoutCancel(ctx))

	if err := reg.Initialize(ctx, cfg); err != nil {
		return fmt.Errorf("initializing registry: %w", err)
	}
	if err := reg.Preload(ctx); err != nil {
		return err
	}

	results, err := reg.CachedHealthCheck(ctx)
	if err != nil {
		return err
	}

	type entry struct {
		Status    string `json:"status"`
		LatencyMS int64  `json:"latency_ms"`
	}
	report := map[string]entry{}
	healthy := true
	for name, h := range results {
		report[name] = entry{Status: h.Status, LatencyMS: h.Latency.Milliseconds()}
		if h.Status != store.StatusHealthy {
			healthy = false
		}
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	if !healthy {
		return fmt.Errorf("one or more backends unhealthy")
	}
	return nil
}
