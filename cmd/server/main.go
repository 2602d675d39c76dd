package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/nzwater/compliance-core/modules"
	"github.com/nzwater/compliance-core/modules/compliance"
	"github.com/nzwater/compliance-core/modules/compliance/presentation/controllers"
	"github.com/nzwater/compliance-core/pkg/application"
	"github.com/nzwater/compliance-core/pkg/authz"
	"github.com/nzwater/compliance-core/pkg/configuration"
	"github.com/nzwater/compliance-core/pkg/eventbus"
	"github.com/nzwater/compliance-core/pkg/httpapi"
	"github.com/nzwater/compliance-core/pkg/logging"
	"github.com/nzwater/compliance-core/pkg/metrics"
	"github.com/nzwater/compliance-core/pkg/middleware"
	"github.com/nzwater/compliance-core/pkg/server"
)

func main() {
	conf, err := configuration.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	defer func() {
		if r := recover(); r != nil {
			conf.Unload()
			log.Println(r)
			debug.PrintStack()
			os.Exit(1)
		}
	}()
	if err := run(conf); err != nil {
		conf.Logger().WithError(err).Error("server stopped")
		conf.Unload()
		os.Exit(1)
	}
	conf.Unload()
}

func run(conf *configuration.Configuration) error {
	logger := conf.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if conf.OpenTelemetry.Enabled {
		cleanup := logging.SetupTracing(ctx, conf.OpenTelemetry.ServiceName, conf.OpenTelemetry.Endpoint)
		defer cleanup()
		logger.Info("OpenTelemetry tracing enabled, exporting to " + conf.OpenTelemetry.Endpoint)
	}

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.New(connectCtx, conf.Database.Opts)
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient := newRedisClient(conf, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	authorizer, err := authz.NewService(authz.OptionsFromConfig(conf.Authz, logger))
	if err != nil {
		return err
	}

	app := application.New(&application.ApplicationOptions{
		Pool:     pool,
		EventBus: eventbus.New(logger),
		Logger:   logger,
	})
	moduleOpts := &compliance.ModuleOptions{
		Config:     conf,
		Redis:      redisClient,
		Authorizer: authorizer,
	}
	if err := modules.Load(app, moduleOpts); err != nil {
		return err
	}

	healthChecks := []controllers.HealthCheck{controllers.PoolCheck(pool)}
	if redisClient != nil {
		healthChecks = append(healthChecks, controllers.RedisCheck(redisClient))
	}
	app.RegisterControllers(controllers.NewHealthController(healthChecks...))
	guarded := []string{"/health"}
	if conf.Prometheus.Enabled {
		app.RegisterControllers(metrics.NewPrometheusController(conf.Prometheus.Path))
		guarded = append(guarded, conf.Prometheus.Path)
	}

	loggerOpts := middleware.DefaultLoggerOptions()
	loggerOpts.APIPrefixes = []string{controllers.APIPrefix}
	app.RegisterMiddleware(
		middleware.WithLogger(logger, conf, loggerOpts),
		middleware.WithCORS(conf.CORSOrigins),
		middleware.OpsGuard(conf, guarded...),
		middleware.Provide(pool, conf.RLSEnforce),
	)

	g, gctx := errgroup.WithContext(ctx)
	for name, worker := range app.Workers() {
		g.Go(func() error {
			logger.WithField("worker", name).Info("worker started")
			if err := worker.Run(gctx); err != nil && gctx.Err() == nil {
				logger.WithError(err).WithField("worker", name).Error("worker stopped")
			}
			return nil
		})
	}

	g.Go(func() error {
		reloadPolicyOnHangup(gctx, authorizer, logger)
		return nil
	})

	srv := server.NewHTTPServer(app, httpapi.NotFound(), httpapi.MethodNotAllowed())
	g.Go(func() error {
		logger.Infof("listening on %s", conf.SocketAddress)
		err := srv.Start(gctx, conf.SocketAddress)
		stop()
		return err
	})
	return g.Wait()
}

// reloadPolicyOnHangup re-reads the authz policy file on SIGHUP.
func reloadPolicyOnHangup(ctx context.Context, authorizer *authz.Service, logger *logrus.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := authorizer.ReloadPolicy(ctx); err != nil {
				logger.WithError(err).Error("authz policy reload failed")
			}
		}
	}
}

// newRedisClient returns nil when REDIS_URL is empty or the cache is disabled.
func newRedisClient(conf *configuration.Configuration, logger *logrus.Logger) *redis.Client {
	if conf.RedisURL == "" || !conf.Compliance.CacheEnabled {
		return nil
	}
	opts, err := redis.ParseURL(conf.RedisURL)
	if err != nil {
		logger.WithError(err).Warn("invalid REDIS_URL; using in-process cache")
		return nil
	}
	return redis.NewClient(opts)
}
