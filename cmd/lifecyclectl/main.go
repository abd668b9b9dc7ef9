package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-lifecycle/internal/api/dto"
	"github.com/spec-kit/ticket-lifecycle/internal/auth"
	"github.com/spec-kit/ticket-lifecycle/internal/bootstrap"
	"github.com/spec-kit/ticket-lifecycle/internal/config"
	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/observability"
	"github.com/spec-kit/ticket-lifecycle/internal/persistence"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "lifecyclectl",
	Short: "Operate the ticket lifecycle service",
	Long: `lifecyclectl runs the scheduled jobs on demand, manages the schema
and inspects the notification outbox. It reads the same environment as the
api and worker binaries.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one escalation sweep",
	RunE: withContainer(func(ctx context.Context, c *bootstrap.Container, _ []string) error {
		report, err := c.Sweeper.Run(ctx)
		if err != nil {
			return err
		}
		return printJSON(report)
	}),
}

var remindersCmd = &cobra.Command{
	Use:   "reminders",
	Short: "Send TAT reminders for deadlines that are close or passed",
	RunE: withContainer(func(ctx context.Context, c *bootstrap.Container, _ []string) error {
		report, err := c.Reminder.Run(ctx)
		if err != nil {
			return err
		}
		return printJSON(report)
	}),
}

var drainLimit int

var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Deliver pending outbox events",
	RunE: withContainer(func(ctx context.Context, c *bootstrap.Container, _ []string) error {
		result, err := c.Dispatcher.Drain(ctx, drainLimit)
		if err != nil {
			return err
		}
		return printJSON(result)
	}),
}

var exhaustedLimit int

var exhaustedCmd = &cobra.Command{
	Use:   "exhausted",
	Short: "List outbox events that ran out of attempts",
	RunE: withContainer(func(ctx context.Context, c *bootstrap.Container, _ []string) error {
		rows, err := c.Dispatcher.ListExhausted(ctx, exhaustedLimit)
		if err != nil {
			return err
		}
		return printJSON(dto.NewOutboxEventResponses(rows))
	}),
}

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down|status]",
	Short:     "Manage the database schema",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{string(persistence.MigrateUp), string(persistence.MigrateDown), string(persistence.MigrateStatus)},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck
		pg, err := persistence.NewPostgres(cmd.Context(), cfg.Postgres, logger)
		if err != nil {
			return err
		}
		defer pg.Close()
		return persistence.RunMigrationCommand(cmd.Context(), pg.PoolHandle(), logger, persistence.MigrationCommand(args[0]))
	},
}

var hashCost int

var hashSecretCmd = &cobra.Command{
	Use:   "hash-secret <secret>",
	Short: "Print a bcrypt hash for SCHEDULER_SECRET_HASH",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hashed, err := auth.HashSecret(args[0], hashCost)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hashed)
		return nil
	},
}

var tokenRole string

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Mint an access token for local testing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		role := domain.Role(tokenRole)
		if !role.Valid() {
			return fmt.Errorf("unknown role %q", tokenRole)
		}
		tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
		token, _, err := tokens.GenerateToken(domain.Actor{ID: args[0], Role: role})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	drainCmd.Flags().IntVar(&drainLimit, "limit", 100, "Maximum events to claim")
	exhaustedCmd.Flags().IntVar(&exhaustedLimit, "limit", 50, "Maximum events to list")
	hashSecretCmd.Flags().IntVar(&hashCost, "cost", 0, "bcrypt cost (default 10)")
	tokenCmd.Flags().StringVar(&tokenRole, "role", string(domain.RoleAdmin), "Role claim for the token")

	rootCmd.AddCommand(sweepCmd, remindersCmd, drainCmd, exhaustedCmd, migrateCmd, hashSecretCmd, tokenCmd)
}

func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}

// withContainer builds the application for a one-shot command.
func withContainer(run func(ctx context.Context, c *bootstrap.Container, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck
		c, err := bootstrap.Build(cmd.Context(), cfg, logger, bootstrap.Options{SkipMigrations: true})
		if err != nil {
			return err
		}
		defer c.Close()
		return run(cmd.Context(), c, args)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
