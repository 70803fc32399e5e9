package main

import (
	"fmt"

	"github.com/pysugar/chat-relay/internal/db"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newWorkerCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run queued chat jobs in browser sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), rt)
			if err != nil {
				return err
			}
			defer a.Close()

			w, err := a.worker()
			if err != nil {
				return err
			}
			srv := a.server(withWorker(a.apiDeps(), w))
			rt.logger.Info("worker starting",
				zap.Int("concurrency", a.cfg.Concurrency),
				zap.String("queue", a.cfg.QueueName))
			return runUntilSignal(cmd.Context(), rt.logger, w.run, srv.Run)
		},
	}
	workerFlags(cmd)
	return cmd
}

func newTrackerCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "tracker",
		Short: "Reset quota windows, suspend exhausted accounts and raise alerts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), rt)
			if err != nil {
				return err
			}
			defer a.Close()

			t := a.tracker()
			srv := a.server(a.apiDeps())
			rt.logger.Info("quota tracker starting", zap.Duration("check_interval", a.cfg.CheckInterval))
			return runUntilSignal(cmd.Context(), rt.logger, t.Run, srv.Run)
		},
	}
}

func newServeCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the intake and status API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), rt)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := a.server(a.withIntake(a.apiDeps()))
			return runUntilSignal(cmd.Context(), rt.logger, srv.Run)
		},
	}
}

func newAllCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "all",
		Short: "Run the API, the worker and the quota tracker in one process",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), rt)
			if err != nil {
				return err
			}
			defer a.Close()

			w, err := a.worker()
			if err != nil {
				return err
			}
			t := a.tracker()
			srv := a.server(withWorker(a.withIntake(a.apiDeps()), w))
			return runUntilSignal(cmd.Context(), rt.logger, w.run, t.Run, srv.Run)
		},
	}
	workerFlags(cmd)
	return cmd
}

func newAPIKeyCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage caller API keys",
	}

	var (
		userID, name string
		ifMissing    bool
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key and print it once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), rt)
			if err != nil {
				return err
			}
			defer a.Close()

			database := a.db.WithContext(cmd.Context())
			if ifMissing {
				key, err := db.EnsureAPIKey(database, userID)
				if err != nil {
					return err
				}
				if key == "" {
					fmt.Fprintf(cmd.ErrOrStderr(), "user %s already has an active key\n", userID)
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), key)
				return nil
			}
			key, err := db.CreateAPIKey(database, userID, name)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
	create.Flags().StringVar(&userID, "user", "", "owner of the key")
	create.Flags().StringVar(&name, "name", "default", "label shown in listings")
	create.Flags().BoolVar(&ifMissing, "if-missing", false, "only create a key when the user has none")
	_ = create.MarkFlagRequired("user")

	cmd.AddCommand(create)
	return cmd
}
