package main

import (
	"fmt"
	"strings"

	"github.com/pysugar/chat-relay/internal/config"
	"github.com/pysugar/chat-relay/internal/logging"
	"github.com/pysugar/chat-relay/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// runtime is filled by the root command's PersistentPreRunE.
type runtime struct {
	v      *viper.Viper
	cfg    config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	rt := &runtime{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:           "relay",
		Short:         "Relay chat prompts through logged-in browser sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			if err := bindFlags(rt.v, cmd.Flags()); err != nil {
				return err
			}
			cfg, err := config.Load(rt.v)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.LogLevel)
			if err != nil {
				return fmt.Errorf("failed to build logger: %w", err)
			}
			rt.cfg = cfg
			rt.logger = logger.With(zap.String("worker_id", cfg.WorkerID))
			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if rt.logger != nil {
				_ = rt.logger.Sync()
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (yaml, toml or json)")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("database-path", "relay.db", "SQLite database file")
	flags.String("redis-url", "redis://localhost:6379", "Redis connection URL")
	flags.String("http-addr", "127.0.0.1:8080", "listen address for the HTTP API and health endpoint")
	flags.String("worker-id", "browser-worker-1", "identity reported by /health and in logs")
	flags.String("catalog-path", "", "provider catalog file")

	rootCmd.AddCommand(
		newWorkerCmd(rt),
		newTrackerCmd(rt),
		newServeCmd(rt),
		newAllCmd(rt),
		newAPIKeyCmd(rt),
		newVersionCmd(),
	)
	return rootCmd
}

// bindFlags maps every flag onto the viper key with dashes replaced by
// underscores, so --redis-url and RELAY_REDIS_URL set the same value.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		err = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
	})
	return err
}

// workerFlags registers the browser side options shared by `worker` and `all`.
func workerFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.Int("concurrency", 2, "jobs run in parallel")
	flags.Float64("jobs-per-second", 10, "maximum rate at which jobs are started")
	flags.Bool("headless", true, "run browsers without a window")
	flags.Bool("install-browsers", false, "download the playwright driver and Chromium before starting")
	flags.String("sessions-dir", "/app/sessions", "per-account browser profiles")
	flags.String("screenshots-dir", "/app/screenshots", "failure screenshots")
	flags.String("quota-unit", config.QuotaUnitRequests, "what a quota counts: requests or tokens")
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
