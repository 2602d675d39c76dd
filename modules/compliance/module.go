package compliance

import (
	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/nzwater/compliance-core/modules/compliance/handlers"
	"github.com/nzwater/compliance-core/modules/compliance/infrastructure/cache"
	complianceoutbox "github.com/nzwater/compliance-core/modules/compliance/infrastructure/outbox"
	"github.com/nzwater/compliance-core/modules/compliance/infrastructure/persistence"
	"github.com/nzwater/compliance-core/modules/compliance/presentation/controllers"
	"github.com/nzwater/compliance-core/modules/compliance/services"
	"github.com/nzwater/compliance-core/pkg/application"
	"github.com/nzwater/compliance-core/pkg/configuration"
	"github.com/nzwater/compliance-core/pkg/outbox"
)

type ModuleOptions struct {
	Config *configuration.Configuration
	// Redis backs the read cache. Nil falls back to an in-process cache.
	Redis      *redis.Client
	Authorizer services.Authorizer
}

func NewModule(opts *ModuleOptions) application.Module {
	if opts == nil {
		opts = &ModuleOptions{}
	}
	return &Module{options: opts}
}

type Module struct {
	options *ModuleOptions
}

func (m *Module) Register(app application.Application) error {
	conf := m.options.Config
	if conf == nil {
		return errors.New("compliance: configuration is required")
	}

	app.RegisterServices(
		services.NewPlanService(services.PlanServiceOptions{
			Repo:       persistence.NewPlanRepository(),
			AuditRepo:  persistence.NewAuditRepository(),
			Events:     complianceoutbox.NewEventPublisher(conf.OutboxTable(), outbox.NewPublisher()),
			Cache:      m.planCache(conf),
			Authorizer: m.options.Authorizer,
			Policy: services.SubmitPolicy{
				Enforce:         conf.Compliance.SubmitPolicy == configuration.SubmitPolicyEnforce,
				MinCompleteness: conf.Compliance.MinCompleteness,
			},
			DefaultPageSize: conf.Compliance.DefaultPageSize,
			MaxPageSize:     conf.Compliance.MaxPageSize,
		}),
	)

	app.RegisterControllers(
		controllers.NewComplianceAPIController(app),
	)

	handlers.RegisterOutboxEventHandlers(app)

	return m.registerWorkers(app, conf)
}

func (m *Module) planCache(conf *configuration.Configuration) services.PlanCache {
	if !conf.Compliance.CacheEnabled {
		return nil
	}
	if m.options.Redis != nil {
		return cache.NewRedisCache(m.options.Redis, conf.Compliance.CacheTTL)
	}
	return services.NewMemoryCache(conf.Compliance.CacheTTL)
}

func (m *Module) registerWorkers(app application.Application, conf *configuration.Configuration) error {
	pool := app.DB()
	if pool == nil {
		return nil
	}
	logger := app.Logger()
	table := conf.OutboxTable()
	oc := conf.Outbox

	if oc.RelayEnabled {
		relay, err := outbox.NewRelay(pool, table, complianceoutbox.NewDispatcher(app.EventPublisher()), outbox.RelayOptions{
			PollInterval:    oc.RelayPollInterval,
			BatchSize:       oc.RelayBatchSize,
			LockTTL:         oc.RelayLockTTL,
			MaxAttempts:     oc.RelayMaxAttempts,
			SingleActive:    oc.RelaySingleActive,
			LastErrorMaxLen: oc.LastErrorMaxBytes,
			DispatchTimeout: oc.RelayDispatchTimeout,
			Logger:          logger.WithField("worker", "outbox-relay"),
		})
		if err != nil {
			return err
		}
		app.RegisterWorker("outbox-relay", relay)
	}

	if oc.CleanerEnabled {
		cleaner, err := outbox.NewCleaner(pool, table, outbox.CleanerOptions{
			Interval:      oc.CleanerInterval,
			Retention:     oc.CleanerRetention,
			DeadRetention: oc.CleanerDeadRetention,
			DeadAttempts:  oc.RelayMaxAttempts,
			Logger:        logger.WithField("worker", "outbox-cleaner"),
		})
		if err != nil {
			return err
		}
		app.RegisterWorker("outbox-cleaner", cleaner)
	}

	app.RegisterWorker("audit-cleaner", services.NewAuditCleaner(
		persistence.NewAuditRepository(),
		conf.Compliance.AuditRetention,
		conf.Compliance.AuditCleanEvery,
		logger.WithField("worker", "audit-cleaner"),
	))
	return nil
}

func (m *Module) Name() string {
	return "compliance"
}
