package filing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/wolfman30/lca-filing-automation/internal/interaction"
	"github.com/wolfman30/lca-filing-automation/internal/lca"
	"github.com/wolfman30/lca-filing-automation/internal/observability/metrics"
	"github.com/wolfman30/lca-filing-automation/internal/progress"
	"github.com/wolfman30/lca-filing-automation/internal/store"
	"github.com/wolfman30/lca-filing-automation/pkg/logging"
)

// ErrQueueDisabled is returned by Submit when no queue is configured.
var ErrQueueDisabled = errors.New("filing: asynchronous submission is not configured")

// InteractionDesk is the operator side of the interaction bridge.
type InteractionDesk interface {
	Resolve(ctx context.Context, filingID string, res interaction.Result) (bool, error)
	Pending(filingID string) (interaction.Request, bool)
	History(ctx context.Context, filingID string) ([]interaction.Record, error)
	Cancel(filingID string) int
}

// ResultArchive copies terminal results to long-term storage.
type ResultArchive interface {
	PutResult(ctx context.Context, res lca.FilingResult) error
}

// SnapshotLoader reads progress persisted by another process.
type SnapshotLoader interface {
	Load(ctx context.Context, filingID string) (progress.State, bool, error)
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

func WithQueue(q Queue) ServiceOption {
	return func(s *Service) { s.queue = q }
}

func WithResultArchive(a ResultArchive) ServiceOption {
	return func(s *Service) { s.archive = a }
}

func WithSnapshots(l SnapshotLoader) ServiceOption {
	return func(s *Service) { s.snapshots = l }
}

func WithMetrics(m *metrics.FilingMetrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithMaxConcurrentFilings caps filings holding a browser session at once.
func WithMaxConcurrentFilings(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.maxActive = n
		}
	}
}

// WithFinishedRetention sets how long a finished filing's tracker stays in
// memory. With snapshots configured trackers are dropped as soon as the filing
// ends, since GetProgress can read the persisted state.
func WithFinishedRetention(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d >= 0 {
			s.retention = d
		}
	}
}

func withIDs(fn func() string) ServiceOption {
	return func(s *Service) { s.newID = fn }
}

const (
	defaultMaxConcurrentFilings = 5
	defaultFinishedRetention    = time.Hour
)

// Service is the inbound surface: it admits filings through a bounded gate,
// persists their results and answers operator queries.
type Service struct {
	orch      *Orchestrator
	results   store.ResultStore
	desk      InteractionDesk
	archive   ResultArchive
	snapshots SnapshotLoader
	queue     Queue
	metrics   *metrics.FilingMetrics
	logger    *logging.Logger

	maxActive int
	retention time.Duration
	gate      *semaphore.Weighted
	newID     func() string

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

func NewService(orch *Orchestrator, results store.ResultStore, desk InteractionDesk, logger *logging.Logger, opts ...ServiceOption) *Service {
	if orch == nil {
		panic("filing: orchestrator cannot be nil")
	}
	if results == nil {
		panic("filing: result store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{
		orch:      orch,
		results:   results,
		desk:      desk,
		logger:    logger,
		maxActive: defaultMaxConcurrentFilings,
		retention: defaultFinishedRetention,
		newID:     uuid.NewString,
		running:   make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.gate = semaphore.NewWeighted(int64(s.maxActive))
	return s
}

// FileApplication files app synchronously and returns its terminal result.
func (s *Service) FileApplication(ctx context.Context, app lca.Application) lca.FilingResult {
	return s.file(ctx, s.newID(), app)
}

// Start files app in the background and returns its filing id at once. The
// filing does not inherit ctx's cancellation: only Cancel aborts it. The
// terminal result is sent on the returned channel.
func (s *Service) Start(ctx context.Context, app lca.Application) (string, <-chan lca.FilingResult) {
	filingID := s.newID()
	s.orch.Progress().Create(filingID, len(s.orch.deps.Schema.Sections))

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.track(filingID, cancel)

	done := make(chan lca.FilingResult, 1)
	go func() {
		defer cancel()
		done <- s.file(ctx, filingID, app)
	}()
	s.logger.Info("filing accepted", "filing_id", filingID, "application_id", app.ID)
	return filingID, done
}

// Submit enqueues app for the dispatcher and returns the filing id.
func (s *Service) Submit(ctx context.Context, app lca.Application) (string, error) {
	if s.queue == nil {
		return "", ErrQueueDisabled
	}
	filingID := s.newID()
	payload, body, err := encodePayload(queuePayload{FilingID: filingID, Application: app})
	if err != nil {
		return "", err
	}
	// Visible as pending before a worker picks it up.
	s.orch.Progress().Create(filingID, len(s.orch.deps.Schema.Sections))
	if err := s.queue.Send(ctx, payload.job(body)); err != nil {
		s.orch.Progress().Remove(filingID)
		return "", err
	}
	s.logger.Info("filing queued", "filing_id", filingID, "application_id", app.ID, "job_id", payload.ID)
	return filingID, nil
}

func (s *Service) file(ctx context.Context, filingID string, app lca.Application) lca.FilingResult {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.track(filingID, cancel)
	defer s.untrack(filingID)

	s.metrics.WaitingDelta(1)
	err := s.gate.Acquire(ctx, 1)
	s.metrics.WaitingDelta(-1)
	if err != nil {
		rec := lca.NewRecorder(filingID, app.ID, nil)
		res := rec.Finish(lca.StatusError, "Filing cancelled while waiting for a free slot: "+err.Error())
		if t, ok := s.orch.Progress().Get(filingID); ok {
			t.Finish(context.WithoutCancel(ctx), res.Status, res.Error)
		}
		s.persist(ctx, res)
		s.retire(filingID)
		return res
	}
	defer s.gate.Release(1)

	s.metrics.FilingStarted()
	res := s.orch.FileApplication(ctx, filingID, app)
	s.metrics.FilingDone()

	s.persist(ctx, res)
	s.retire(filingID)
	return res
}

// retire drops a finished filing's tracker once its retention has passed.
func (s *Service) retire(filingID string) {
	reg := s.orch.Progress()
	if s.snapshots != nil || s.retention == 0 {
		reg.Remove(filingID)
		return
	}
	time.AfterFunc(s.retention, func() { reg.Remove(filingID) })
}

func (s *Service) persist(ctx context.Context, res lca.FilingResult) {
	ctx = context.WithoutCancel(ctx)
	if err := s.results.Save(ctx, res); err != nil {
		s.logger.Error("failed to save filing result", "filing_id", res.FilingID, "error", err)
	}
	if s.archive != nil {
		if err := s.archive.PutResult(ctx, res); err != nil {
			s.logger.Error("failed to archive filing result", "filing_id", res.FilingID, "error", err)
		}
	}
}

// handled reports whether filingID is running here or already has a result.
// A store error counts as handled: skipping a job is recoverable, filing an
// LCA twice is not.
func (s *Service) handled(ctx context.Context, filingID string) bool {
	s.mu.Lock()
	_, running := s.running[filingID]
	s.mu.Unlock()
	if running {
		return true
	}
	_, err := s.results.Get(ctx, filingID)
	return !errors.Is(err, store.ErrNotFound)
}

func (s *Service) track(filingID string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[filingID] = cancel
}

func (s *Service) untrack(filingID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, filingID)
}

// Cancel aborts a running filing. A filing suspended on an operator ends
// with status "error".
func (s *Service) Cancel(filingID string) bool {
	s.mu.Lock()
	cancel, ok := s.running[filingID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// ResolveInteraction delivers an operator answer. It returns false when the
// filing has nothing pending.
func (s *Service) ResolveInteraction(ctx context.Context, filingID string, res interaction.Result) (bool, error) {
	if s.desk == nil {
		return false, nil
	}
	return s.desk.Resolve(ctx, filingID, res)
}

// GetPendingInteraction returns the question currently blocking filingID.
func (s *Service) GetPendingInteraction(filingID string) (*interaction.Request, bool) {
	if s.desk == nil {
		return nil, false
	}
	req, ok := s.desk.Pending(filingID)
	if !ok {
		return nil, false
	}
	return &req, true
}

// InteractionHistory lists resolved interactions for filingID.
func (s *Service) InteractionHistory(ctx context.Context, filingID string) ([]interaction.Record, error) {
	if s.desk == nil {
		return nil, nil
	}
	return s.desk.History(ctx, filingID)
}

// GetProgress returns the live tracker state, falling back to a persisted
// snapshot for filings run by another process.
func (s *Service) GetProgress(ctx context.Context, filingID string) (progress.State, bool, error) {
	if t, ok := s.orch.Progress().Get(filingID); ok {
		return t.State(), true, nil
	}
	if s.snapshots == nil {
		return progress.State{}, false, nil
	}
	st, ok, err := s.snapshots.Load(ctx, filingID)
	if err != nil {
		return progress.State{}, false, fmt.Errorf("filing: load progress: %w", err)
	}
	return st, ok, nil
}

// ActiveFilings lists the filings this process is running, including those
// suspended on an operator.
func (s *Service) ActiveFilings() []progress.State {
	states := s.orch.Progress().States()
	active := states[:0]
	for _, st := range states {
		if st.Status == progress.StatusCompleted || st.Status == progress.StatusFailed {
			continue
		}
		active = append(active, st)
	}
	return active
}

// GetResult returns the stored terminal result.
func (s *Service) GetResult(ctx context.Context, filingID string) (lca.FilingResult, error) {
	return s.results.Get(ctx, filingID)
}

// ListResults returns recent results, newest first.
func (s *Service) ListResults(ctx context.Context, limit int) ([]lca.FilingResult, error) {
	return s.results.List(ctx, limit)
}
