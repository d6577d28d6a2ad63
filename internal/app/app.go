package app

import (
	"time"

	"notifyq/internal/alert"
	"notifyq/internal/config"
	"notifyq/internal/domain"
	"notifyq/internal/health"
	"notifyq/internal/infra/directory"
	"notifyq/internal/infra/prefstore"
	"notifyq/internal/infra/redisq"
	"notifyq/internal/infra/secrets"
	"notifyq/internal/metrics"
	"notifyq/internal/retry"
	"notifyq/internal/selector"
	"notifyq/internal/transport"
	"notifyq/internal/usecase"
	"notifyq/internal/worker"

	"github.com/prometheus/client_golang/prometheus"
)

// App is the composed delivery subsystem shared by the api and worker
// commands.
type App struct {
	Cfg        *config.Config
	Client     *redisq.Client
	DLQ        *redisq.DeadLetter
	Collector  *metrics.Collector
	Dispatcher *usecase.Dispatcher
	Deliverer  *usecase.Deliverer
	Orch       *usecase.Orchestrator
	Runtime    *worker.Runtime
	Scheduler  *redisq.Scheduler
}

// Policies is the built-in per-type retry policy table. Types not listed
// here, and zero fields, fall back to the global defaults from config.
func Policies() []domain.RetryPolicy {
	return []domain.RetryPolicy{
		{JobType: "critical", Critical: true, MaxAttempts: 5},
		{JobType: "transactional", Critical: true},
	}
}

func Build(cfg *config.Config) *App {
	client := redisq.New(cfg.Redis)
	dlq := redisq.NewDeadLetter(client)
	limiter := redisq.NewRateLimiter(client)
	dir := directory.New(client.Rdb)
	prefs := prefstore.New(client.Rdb)

	tracker := health.NewTracker(dir, cfg.Health)
	sel := selector.New(dir, tracker)
	engine := retry.NewEngine(cfg.Retry, Policies())
	alerts := alert.NewWebhook(cfg.Alert)
	sender := transport.NewHTTP(10 * time.Second)
	resolver := secrets.Plain{}

	collector := metrics.NewCollector(prometheus.DefaultRegisterer)

	deliverer := &usecase.Deliverer{
		Selector:  sel,
		Limiter:   limiter,
		Secrets:   resolver,
		Transport: sender,
		Tracker:   tracker,
		Metrics:   collector,
	}

	orch := &usecase.Orchestrator{
		Queue:  client,
		DLQ:    dlq,
		Engine: engine,
		Alerts: alerts,
	}

	dispatcher := &usecase.Dispatcher{
		Queue:     client,
		Prefs:     prefs,
		Directory: dir,
		Limiter:   limiter,
		Secrets:   resolver,
		Transport: sender,
		Selector:  sel,
		Tracker:   tracker,
		Alerts:    alerts,
		Metrics:   collector,
		Direct:    cfg.Direct,
	}

	runtime := worker.NewRuntime(cfg.Worker, client, collector, orch, deliverer.Handle)

	return &App{
		Cfg:        cfg,
		Client:     client,
		DLQ:        dlq,
		Collector:  collector,
		Dispatcher: dispatcher,
		Deliverer:  deliverer,
		Orch:       orch,
		Runtime:    runtime,
		Scheduler:  redisq.NewScheduler(client, time.Second),
	}
}
