package vendictl

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/vendi-market/vendi/internal/config"
	"github.com/vendi-market/vendi/internal/repository"
	"github.com/vendi-market/vendi/internal/service"
	"github.com/vendi-market/vendi/internal/tools/common"
	"github.com/vendi-market/vendi/internal/tools/ui"
)

// ExitCodeFailure is returned to the shell when an action fails.
const ExitCodeFailure = 4

var errEmailRequired = errors.New("--email is required")

type options struct {
	envFile string
	email   string
	ci      bool
}

// AdminFactory opens the stores an Admin needs and returns a cleanup.
type AdminFactory func(ctx context.Context) (*Admin, func(), error)

func NewRootCommand() *cobra.Command {
	opts := &options{}
	return newRootCommand(opts, func(ctx context.Context) (*Admin, func(), error) {
		return openAdmin(ctx, opts)
	})
}

func newRootCommand(opts *options, factory AdminFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "vendictl",
		Short:         "Operator tooling for Vendi accounts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file to seed configuration from")
	cmd.PersistentFlags().BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")

	users := &cobra.Command{Use: "users", Short: "Manage user accounts"}
	users.PersistentFlags().StringVar(&opts.email, "email", "", "account email")
	users.AddCommand(
		newUserAction(opts, factory, "verify", "Mark the account email as verified", (*Admin).Verify),
		newUserAction(opts, factory, "activate", "Allow the account to sign in", (*Admin).Activate),
		newUserAction(opts, factory, "deactivate", "Block the account and revoke its logins", (*Admin).Deactivate),
	)

	tokens := &cobra.Command{Use: "tokens", Short: "Maintain remember-me tokens"}
	tokens.AddCommand(&cobra.Command{
		Use:   "prune",
		Short: "Delete expired remember-me tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, opts, factory, "tokens prune", func(ctx context.Context, a *Admin) ([]string, error) {
				return a.PruneTokens(ctx)
			})
		},
	})

	cmd.AddCommand(users, tokens)
	return cmd
}

func newUserAction(opts *options, factory AdminFactory, use, short string, action func(*Admin, context.Context, string) ([]string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.email == "" {
				return errEmailRequired
			}
			return execute(cmd, opts, factory, "users "+use, func(ctx context.Context, a *Admin) ([]string, error) {
				return action(a, ctx, opts.email)
			})
		},
	}
}

func execute(cmd *cobra.Command, opts *options, factory AdminFactory, title string, fn func(context.Context, *Admin) ([]string, error)) error {
	work := func(ctx context.Context) ([]string, error) {
		admin, cleanup, err := factory(ctx)
		if err != nil {
			return nil, err
		}
		defer cleanup()
		return fn(ctx, admin)
	}

	var (
		details []string
		err     error
	)
	if opts.ci {
		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()
		details, err = work(ctx)
		common.PrintCIResult(err == nil, title, details, err)
	} else {
		details, err = ui.Run(title, work)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", title, err)
	}
	return nil
}

func openAdmin(ctx context.Context, opts *options) (*Admin, func(), error) {
	if err := config.LoadEnvFile(opts.envFile); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	db, err := repository.Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	cleanups := []func(){func() { _ = repository.Close(db) }}
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	var sessions *service.SessionService
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		cleanups = append(cleanups, func() { _ = client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		store := service.NewRedisSessionStore(client, cfg.RedisKeyPrefix+":session", nil)
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		sessions = service.NewSessionService(store, cfg.SessionTTL, nil, rand.Reader, logger)
	}

	admin := NewAdmin(repository.NewUserRepository(db), repository.NewRememberTokenRepository(db), sessions, nil)
	return admin, cleanup, nil
}
