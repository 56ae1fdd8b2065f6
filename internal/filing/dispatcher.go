package filing

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/wolfman30/lca-filing-automation/pkg/logging"
)

// Dispatcher consumes queued filings and runs them through the Service.
// Each worker runs one filing at a time; the Service gate still bounds how
// many hold a browser session.
type Dispatcher struct {
	service *Service
	queue   Queue
	logger  *logging.Logger

	cfg dispatcherConfig
	wg  sync.WaitGroup
}

type dispatcherConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
}

const (
	defaultWorkerCount   = 2
	defaultWaitSeconds   = 10
	defaultBatchSize     = 1
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
)

// DispatcherOption customizes dispatcher behavior.
type DispatcherOption func(*dispatcherConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) DispatcherOption {
	return func(cfg *dispatcherConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the SQS long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) DispatcherOption {
	return func(cfg *dispatcherConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) DispatcherOption {
	return func(cfg *dispatcherConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

func NewDispatcher(service *Service, queue Queue, logger *logging.Logger, opts ...DispatcherOption) *Dispatcher {
	if service == nil {
		panic("filing: service cannot be nil")
	}
	if queue == nil {
		panic("filing: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg := dispatcherConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Dispatcher{service: service, queue: queue, logger: logger, cfg: cfg}
}

// Start launches the consumer goroutines. They stop when ctx is done.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.cfg.workers; i++ {
		d.wg.Add(1)
		go d.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context, workerID int) {
	defer d.wg.Done()
	d.logger.Debug("filing worker started", "worker_id", workerID)

	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			d.logger.Debug("filing worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := d.queue.Receive(ctx, d.cfg.receiveBatchSize, d.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			d.logger.Error("failed to receive filing jobs", "error", err, "worker_id", workerID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			d.handleMessage(ctx, msg)
		}
	}
}

func (d *Dispatcher) handleMessage(ctx context.Context, msg QueueMessage) {
	var payload queuePayload
	if err := json.Unmarshal([]byte(msg.Body), &payload); err != nil {
		d.logger.Error("failed to decode filing job", "error", err, "msg_id", msg.ID)
		d.deleteMessage(msg.ReceiptHandle)
		return
	}
	if payload.Kind != jobKindFile || payload.FilingID == "" {
		d.logger.Warn("dropping unknown filing job", "kind", payload.Kind, "job_id", payload.ID)
		d.deleteMessage(msg.ReceiptHandle)
		return
	}

	// A filing is never retried from the queue: a partially filled form
	// must not be submitted twice.
	d.deleteMessage(msg.ReceiptHandle)
	if msg.ReceiveCount > 1 && d.service.handled(ctx, payload.FilingID) {
		d.logger.Warn("skipping redelivered filing job", "job_id", payload.ID, "filing_id", payload.FilingID,
			"receive_count", msg.ReceiveCount)
		return
	}

	d.logger.Info("worker processing filing", "job_id", payload.ID, "filing_id", payload.FilingID,
		"application_id", payload.Application.ID)
	res := d.service.file(ctx, payload.FilingID, payload.Application)
	d.logger.Info("worker finished filing", "filing_id", payload.FilingID, "status", res.Status)
}

func (d *Dispatcher) deleteMessage(receiptHandle string) {
	ctx, cancel := context.WithTimeout(context.Background(), deleteTimeoutSeconds*time.Second)
	defer cancel()
	if err := d.queue.Delete(ctx, receiptHandle); err != nil {
		d.logger.Error("failed to delete filing job", "error", err)
	}
}
