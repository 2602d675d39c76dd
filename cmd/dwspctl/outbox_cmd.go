package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/nzwater/compliance-core/modules"
	"github.com/nzwater/compliance-core/modules/compliance"
	"github.com/nzwater/compliance-core/pkg/application"
	"github.com/nzwater/compliance-core/pkg/eventbus"
	"github.com/nzwater/compliance-core/pkg/outbox"
)

func newOutboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Operate the plan event outbox without running the server",
	}
	cmd.AddCommand(newOutboxDrainCmd())
	cmd.AddCommand(newOutboxCleanCmd())
	return cmd
}

func newOutboxDrainCmd() *cobra.Command {
	var maxBatches int
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Relay pending events until none are due",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOutboxApp(cmd.Context(), func(ctx context.Context, app application.Application) error {
				relay, ok := app.Workers()["outbox-relay"].(*outbox.Relay)
				if !ok {
					return withCode(exitUsage, fmt.Errorf("outbox relay is disabled (OUTBOX_RELAY_ENABLED=false)"))
				}
				total := 0
				for i := 0; maxBatches <= 0 || i < maxBatches; i++ {
					n, err := relay.ProcessOnce(ctx)
					if err != nil {
						return withCode(exitDB, err)
					}
					if n == 0 {
						break
					}
					total += n
				}
				fmt.Fprintf(cmd.OutOrStdout(), "relayed %d message(s)\n", total)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&maxBatches, "max-batches", 0, "Stop after this many batches (0 = until empty)")
	return cmd
}

func newOutboxCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Purge published events past retention",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOutboxApp(cmd.Context(), func(ctx context.Context, app application.Application) error {
				cleaner, ok := app.Workers()["outbox-cleaner"].(*outbox.Cleaner)
				if !ok {
					return withCode(exitUsage, fmt.Errorf("outbox cleaner is disabled (OUTBOX_CLEANER_ENABLED=false)"))
				}
				n, err := cleaner.CleanOnce(ctx)
				if err != nil {
					return withCode(exitDB, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "purged %d message(s)\n", n)
				return nil
			})
		},
	}
}

// withOutboxApp loads the compliance module against the configured database so relayed events
// reach the same subscribers the server runs.
func withOutboxApp(ctx context.Context, fn func(context.Context, application.Application) error) error {
	conf, err := loadConfig()
	if err != nil {
		return err
	}
	pool, err := connectDB(ctx, conf)
	if err != nil {
		return err
	}
	defer pool.Close()

	opts := &compliance.ModuleOptions{Config: conf}
	if conf.Compliance.CacheEnabled && conf.RedisURL != "" {
		redisOpts, err := redis.ParseURL(conf.RedisURL)
		if err != nil {
			return withCode(exitUsage, fmt.Errorf("invalid REDIS_URL: %w", err))
		}
		client := redis.NewClient(redisOpts)
		defer client.Close()
		opts.Redis = client
	}

	logger := conf.Logger()
	app := application.New(&application.ApplicationOptions{
		Pool:     pool,
		EventBus: eventbus.New(logger),
		Logger:   logger,
	})
	if err := modules.Load(app, opts); err != nil {
		return err
	}
	return fn(ctx, app)
}
