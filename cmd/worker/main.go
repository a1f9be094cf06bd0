package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/GoSim-25-26J-441/adsec-backend/config"
	"github.com/GoSim-25-26J-441/adsec-backend/internal/bootstrap"
	"github.com/GoSim-25-26J-441/adsec-backend/internal/logging"
	"github.com/GoSim-25-26J-441/adsec-backend/internal/storage/postgres"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "worker",
		Short:         "Offline maintenance commands for the assessment backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(newAnalyzeCmd(), newResumeCmd(), newMigrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setup() (context.Context, context.CancelFunc, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("config: %w", err)
	}
	logging.Setup(cfg.App.Environment, cfg.App.LogLevel)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return ctx, cancel, cfg, nil
}

func newAnalyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <assessment-id>",
		Short: "Run or resume the analysis of one assessment in the foreground",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel, cfg, err := setup()
			if err != nil {
				return err
			}
			defer cancel()

			app, err := bootstrap.NewApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			summary, err := app.Runs.RunSync(ctx, args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}
}

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume every assessment left analyzing, one after another",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel, cfg, err := setup()
			if err != nil {
				return err
			}
			defer cancel()

			app, err := bootstrap.NewApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			stale, err := app.Assessments.Stale(ctx)
			if err != nil {
				return err
			}
			for _, a := range stale {
				summary, err := app.Runs.RunSync(ctx, a.ID)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", a.ID, err)
					if ctx.Err() != nil {
						return ctx.Err()
					}
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d completed, %d failed, %d findings\n",
					a.ID, len(summary.Completed), len(summary.Failed), summary.Findings)
			}
			return nil
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel, cfg, err := setup()
			if err != nil {
				return err
			}
			defer cancel()

			db, err := postgres.NewConnection(ctx, &cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := postgres.EnsureSchema(ctx, db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	}
}
