package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vendi-market/vendi/internal/app"
	"github.com/vendi-market/vendi/internal/config"
	"github.com/vendi-market/vendi/internal/observability"
	"github.com/vendi-market/vendi/internal/repository"
)

type rootOptions struct {
	envFile string
}

// NewRootCommand builds the vendi server binary's command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "vendi",
		Short:         "Vendi marketplace web server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file to seed configuration from")
	cmd.AddCommand(newServeCommand(opts), newMigrateCommand(opts))
	return cmd
}

func loadConfig(opts *rootOptions) (*config.Config, error) {
	if err := config.LoadEnvFile(opts.envFile); err != nil {
		return nil, err
	}
	return config.Load()
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server until SIGINT or SIGTERM",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger, lp, err := observability.InitLogger(ctx, cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			slog.SetDefault(logger)

			a, cleanup, err := app.InitializeApp(ctx, cfg, logger, lp)
			if err != nil {
				if lp != nil {
					_ = lp.Shutdown(context.Background())
				}
				return fmt.Errorf("initialize app: %w", err)
			}
			defer cleanup()
			return a.Run(ctx)
		},
	}
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			db, err := repository.Open(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = repository.Close(db) }()
			if err := repository.AutoMigrate(cmd.Context(), db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			cmd.Printf("schema up to date (%s)\n", cfg.DatabaseDriver)
			return nil
		},
	}
}
