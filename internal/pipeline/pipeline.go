// SPDX-License-Identifier: Apache-2.0

// Package pipeline wires the ingestion queue, the consumer, the dedup ledger
// and the processed-event log into the surface the transports use.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/adiadia/event-aggregator/internal/domain"
	"github.com/adiadia/event-aggregator/internal/eventlog"
	"github.com/adiadia/event-aggregator/internal/metrics"
	"github.com/adiadia/event-aggregator/internal/queue"
	"github.com/adiadia/event-aggregator/internal/stats"
	"github.com/adiadia/event-aggregator/internal/worker"
)

// Ledger is the durable dedup store. Only the consumer calls MarkProcessed.
type Ledger interface {
	IsProcessed(ctx context.Context, topic, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, topic, eventID string, processedAt time.Time) (bool, error)
	ListTopics(ctx context.Context) ([]string, error)
	ListEventsForTopic(ctx context.Context, topic string) ([]domain.LedgerEntry, error)
	CountProcessed(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
}

type Deps struct {
	Ledger       Ledger
	Logger       *slog.Logger
	Now          func() time.Time
	ClaimTimeout time.Duration
}

var errAlreadyStarted = errors.New("pipeline already started")

// Pipeline runs for one process lifetime. Restarting means building a new
// Pipeline over the same ledger.
type Pipeline struct {
	ledger Ledger
	logger *slog.Logger
	queue  *queue.Queue
	log    *eventlog.Log
	worker *worker.Worker
	stats  *stats.Aggregator

	mu      sync.Mutex
	started bool
	stopped bool
}

func New(deps Deps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics.Init()

	q := queue.New()
	log := eventlog.New()

	return &Pipeline{
		ledger: deps.Ledger,
		logger: logger,
		queue:  q,
		log:    log,
		worker: worker.New(worker.Deps{
			Queue:        q,
			Ledger:       deps.Ledger,
			Log:          log,
			Logger:       logger.With("component", "consumer"),
			Now:          deps.Now,
			ClaimTimeout: deps.ClaimTimeout,
		}),
		stats: stats.New(stats.Deps{
			Ledger: deps.Ledger,
			Now:    deps.Now,
		}),
	}
}

// Start launches the consumer goroutine.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return domain.ErrPipelineStopped
	}
	if p.started {
		return errAlreadyStarted
	}
	p.started = true

	go func() {
		if err := p.worker.Run(ctx); err != nil {
			p.logger.Error("consumer exited", "error", err)
		}
	}()
	return nil
}

// Stop halts the consumer after its current iteration and closes the queue.
// Events still queued are abandoned. Stop waits for the consumer until ctx
// is done and is safe to call more than once.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	started := p.started
	p.mu.Unlock()

	p.worker.Stop()

	var err error
	if started {
		select {
		case <-p.worker.Done():
		case <-ctx.Done():
			err = ctx.Err()
		}
	}

	if abandoned := p.queue.Close(); abandoned > 0 {
		p.logger.Warn("queued events abandoned on stop", "count", abandoned)
	}
	metrics.SetQueueDepth(0)
	return err
}

// Submit enqueues every event and returns how many were accepted. Events are
// expected to be validated already. It never waits for the consumer.
func (p *Pipeline) Submit(events []domain.Event) (int, error) {
	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	if stopped {
		return 0, domain.ErrPipelineStopped
	}

	accepted := 0
	for _, ev := range events {
		p.stats.RecordReceived(1)
		if err := p.queue.Enqueue(ev); err != nil {
			p.stats.RecordReceived(-1)
			metrics.AddEventsReceived(accepted)
			return accepted, domain.ErrPipelineStopped
		}
		accepted++
	}

	metrics.AddEventsReceived(accepted)
	metrics.SetQueueDepth(p.queue.Len())
	return accepted, nil
}

// Events returns the processed views of this process, in processing order,
// restricted to topic when it is non-empty.
func (p *Pipeline) Events(topic string) []domain.ProcessedEvent {
	return p.log.List(topic)
}

// EventsAfter returns the processed views with a sequence number above seq.
func (p *Pipeline) EventsAfter(seq int64) []domain.ProcessedEvent {
	return p.log.After(seq)
}

// LedgerEvents returns the durable history of topic across restarts.
func (p *Pipeline) LedgerEvents(ctx context.Context, topic string) ([]domain.LedgerEntry, error) {
	return p.ledger.ListEventsForTopic(ctx, topic)
}

func (p *Pipeline) Topics(ctx context.Context) ([]string, error) {
	return p.ledger.ListTopics(ctx)
}

func (p *Pipeline) IsProcessed(ctx context.Context, topic, eventID string) (bool, error) {
	return p.ledger.IsProcessed(ctx, topic, eventID)
}

func (p *Pipeline) Stats(ctx context.Context) (domain.Stats, error) {
	return p.stats.Snapshot(ctx)
}

func (p *Pipeline) Check(ctx context.Context) error {
	return p.ledger.Ping(ctx)
}

func (p *Pipeline) State() worker.State {
	return p.worker.State()
}

// QueueDepth reports how many accepted events are waiting for the consumer.
func (p *Pipeline) QueueDepth() int {
	return p.queue.Len()
}
