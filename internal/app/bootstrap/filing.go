package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/lca-filing-automation/internal/browser"
	appconfig "github.com/wolfman30/lca-filing-automation/internal/config"
	"github.com/wolfman30/lca-filing-automation/internal/decision"
	"github.com/wolfman30/lca-filing-automation/internal/events"
	"github.com/wolfman30/lca-filing-automation/internal/filing"
	"github.com/wolfman30/lca-filing-automation/internal/formschema"
	"github.com/wolfman30/lca-filing-automation/internal/interaction"
	"github.com/wolfman30/lca-filing-automation/internal/notify"
	"github.com/wolfman30/lca-filing-automation/internal/observability/metrics"
	"github.com/wolfman30/lca-filing-automation/internal/portal"
	"github.com/wolfman30/lca-filing-automation/internal/progress"
	"github.com/wolfman30/lca-filing-automation/internal/recovery"
	"github.com/wolfman30/lca-filing-automation/internal/store"
	"github.com/wolfman30/lca-filing-automation/internal/validation"
	"github.com/wolfman30/lca-filing-automation/pkg/logging"
)

// Infra carries the shared connections a process opened. Every field is
// optional; missing ones select in-memory fallbacks.
type Infra struct {
	SQL        *sql.DB
	PG         *pgxpool.Pool
	Redis      *redis.Client
	AWS        *aws.Config
	Registerer prometheus.Registerer
}

// Runtime is the assembled filing pipeline.
type Runtime struct {
	Service     *filing.Service
	Dispatcher  *filing.Dispatcher
	Deliverer   *events.Deliverer
	Broadcaster *progress.Broadcaster
	Browser     *browser.Client
	Pool        *browser.Pool
	Bridge      *interaction.Bridge
	ResultStore string

	closers []func() error
}

// Start launches the background workers that are configured.
func (r *Runtime) Start(ctx context.Context) {
	if r.Dispatcher != nil {
		r.Dispatcher.Start(ctx)
	}
	if r.Deliverer != nil {
		go r.Deliverer.Start(ctx)
	}
}

// Close waits for the dispatcher, cancels pending operator requests and
// releases browser sessions. Call it after the start context is cancelled.
func (r *Runtime) Close(ctx context.Context) error {
	if r.Dispatcher != nil {
		r.Dispatcher.Wait()
	}
	r.Bridge.Close()
	errs := []error{r.Pool.Close(ctx)}
	for _, c := range r.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// BuildFilingRuntime wires the orchestrator and everything around it.
func BuildFilingRuntime(ctx context.Context, cfg *appconfig.Config, infra Infra, logger *logging.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	schema, err := formschema.Default()
	if err != nil {
		return nil, fmt.Errorf("bootstrap: load form schema: %w", err)
	}

	awsCfg := aws.Config{}
	if infra.AWS != nil {
		awsCfg = *infra.AWS
	}
	orc, closeOracle, err := BuildOracle(ctx, cfg, awsCfg, logger)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{closers: []func() error{closeOracle}}

	var dynamo store.DynamoAPI
	if infra.AWS != nil {
		dynamo = dynamodb.NewFromConfig(awsCfg)
	}
	results, backend, err := BuildResultStore(cfg, infra.SQL, dynamo, logger)
	if err != nil {
		_ = closeOracle()
		return nil, err
	}
	rt.ResultStore = backend

	var archive *store.Archive
	if infra.AWS != nil && cfg.ArchiveBucket != "" {
		archive = store.NewArchive(s3.NewFromConfig(awsCfg), cfg.ArchiveBucket, logger)
	}

	reg := infra.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	filingMetrics := metrics.NewFilingMetrics(reg)

	// Progress fans out to live websocket streams, Redis snapshots and the outbox.
	registry := progress.NewRegistry(progress.WithLogger(logger))
	rt.Broadcaster = progress.NewBroadcaster(0)
	registry.Observe(rt.Broadcaster)
	var snapshots *progress.RedisSnapshots
	if infra.Redis != nil {
		snapshots = progress.NewRedisSnapshots(infra.Redis, progress.DefaultSnapshotTTL)
		registry.Observe(snapshots)
	}
	if infra.PG != nil {
		outbox := events.NewOutboxStore(infra.PG)
		registry.Observe(events.NewOutboxObserver(outbox, logger))
		email, provider := BuildEmailSender(cfg, infra.AWS, logger)
		notifier := notify.NewService(email, notify.Config{
			Recipients: []string{cfg.OperatorEmail},
			APIBaseURL: cfg.APIBaseURL,
		}, logger)
		rt.Deliverer = events.NewDeliverer(outbox, notifier, logger).
			WithInterval(cfg.OutboxInterval).
			WithMaxAttempts(cfg.OutboxMaxAttempts)
		logger.Info("operator notifications enabled", "email_provider", provider)
	}

	var history interaction.HistoryStore = interaction.NewMemoryHistory()
	if infra.Redis != nil {
		history = interaction.NewRedisHistory(infra.Redis)
	}
	rt.Bridge = interaction.NewBridge(interaction.WithHistory(history), interaction.WithLogger(logger))

	rt.Browser = browser.NewClient(cfg.BrowserSidecarURL,
		browser.WithLogger(logger),
		browser.WithActionTimeout(cfg.StepTimeout),
	)
	rt.Pool = browser.NewPool(browser.ClientOpener(rt.Browser), cfg.MaxBrowserSessions, cfg.SessionIdleTimeout, logger)

	nav := portal.NewNavigator(cfg.PortalURL,
		portal.WithNavigationRetries(cfg.NavigationRetries),
		portal.WithNavigatorLogger(logger),
	)
	filler := portal.NewFiller(portal.DefaultSelectors(), logger)

	var (
		validatorOracle validation.Oracle
		decisionOracle  decision.Oracle
		fixer           recovery.Fixer
	)
	if orc != nil {
		validatorOracle, decisionOracle, fixer = orc, orc, orc
	}

	deps := filing.Deps{
		Schema:    schema,
		Pool:      rt.Pool,
		Validator: validation.New(validatorOracle, logger),
		Portal:    nav,
		Decider:   decision.NewEngine(decisionOracle, logger),
		Filler:    filler,
		Recoverer: recovery.NewRecoverer(fixer, filler, logger),
		Sweep:     recovery.NewSystemSweep(nav, logger, recovery.WithMaxRetries(cfg.MaxSystemRetries)),
		Bridge:    rt.Bridge,
		Progress:  registry,
		Metrics:   filingMetrics,
	}
	if archive != nil {
		deps.Screenshots = archive
	}
	orch := filing.NewOrchestrator(deps, filing.Config{
		StepTimeout:          cfg.StepTimeout,
		MaxInteractionRounds: cfg.MaxInteractionRounds,
	}, logger)

	opts := []filing.ServiceOption{
		filing.WithMetrics(filingMetrics),
		filing.WithMaxConcurrentFilings(cfg.MaxConcurrentFilings),
		filing.WithFinishedRetention(cfg.FinishedRetention),
	}
	if archive != nil {
		opts = append(opts, filing.WithResultArchive(archive))
	}
	if snapshots != nil {
		opts = append(opts, filing.WithSnapshots(snapshots))
	}

	var queue filing.Queue
	switch {
	case cfg.FilingQueueURL != "" && infra.AWS != nil:
		queue = filing.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.FilingQueueURL)
		logger.Info("filing queue: sqs", "url", cfg.FilingQueueURL)
	case cfg.UseMemoryQueue:
		queue = filing.NewMemoryQueue(0)
		logger.Info("filing queue: in-memory")
	}
	if queue != nil {
		opts = append(opts, filing.WithQueue(queue))
	}

	rt.Service = filing.NewService(orch, results, rt.Bridge, logger, opts...)
	if queue != nil {
		rt.Dispatcher = filing.NewDispatcher(rt.Service, queue, logger, filing.WithWorkerCount(cfg.WorkerCount))
	}
	return rt, nil
}
