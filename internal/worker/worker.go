// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adiadia/event-aggregator/internal/domain"
	"github.com/adiadia/event-aggregator/internal/metrics"
	"github.com/adiadia/event-aggregator/internal/queue"
)

type Dequeuer interface {
	Dequeue(ctx context.Context) (domain.Event, error)
	Len() int
}

type Claimer interface {
	MarkProcessed(ctx context.Context, topic, eventID string, processedAt time.Time) (bool, error)
}

type Appender interface {
	Append(ev domain.ProcessedEvent) domain.ProcessedEvent
}

type State int32

const (
	StateStopped State = iota
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "running"
	}
	return "stopped"
}

type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeFailed    Outcome = "failed"
)

type Deps struct {
	Queue  Dequeuer
	Ledger Claimer
	Log    Appender
	Logger *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
	// ClaimTimeout bounds one ledger write; it is not cut short by Stop.
	ClaimTimeout time.Duration
}

// Worker is the single consumer: it drains the queue, claims each event's
// key in the ledger and records the events that won their claim.
type Worker struct {
	queue        Dequeuer
	ledger       Claimer
	log          Appender
	logger       *slog.Logger
	now          func() time.Time
	claimTimeout time.Duration

	// lastProcessedAt is only touched by the consumer goroutine.
	lastProcessedAt time.Time

	state    atomic.Int32
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func New(deps Deps) *Worker {
	l := deps.Logger
	if l == nil {
		l = slog.Default()
	}

	now := deps.Now
	if now == nil {
		now = time.Now
	}

	claimTimeout := deps.ClaimTimeout
	if claimTimeout <= 0 {
		claimTimeout = 10 * time.Second
	}

	return &Worker{
		queue:        deps.Queue,
		ledger:       deps.Ledger,
		log:          deps.Log,
		logger:       l,
		now:          now,
		claimTimeout: claimTimeout,
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
	}
}

func (w *Worker) State() State {
	return State(w.state.Load())
}

// Run consumes events until Stop is called, ctx is canceled or the queue is
// closed. A Worker runs at most once.
func (w *Worker) Run(ctx context.Context) error {
	w.state.Store(int32(StateRunning))
	defer func() {
		w.state.Store(int32(StateStopped))
		close(w.done)
	}()

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stopCh:
			cancel()
		case <-loopCtx.Done():
		}
	}()

	w.logger.Info("consumer started")

	for {
		select {
		case <-w.stopCh:
			w.logger.Info("consumer stopped", "reason", "stop requested", "abandoned", w.queue.Len())
			return nil
		default:
		}

		ev, err := w.queue.Dequeue(loopCtx)
		if err != nil {
			switch {
			case errors.Is(err, queue.ErrClosed):
				w.logger.Info("consumer stopped", "reason", "queue closed")
				return nil
			case loopCtx.Err() != nil:
				w.logger.Info("consumer stopped", "reason", "stop requested", "abandoned", w.queue.Len())
				return nil
			default:
				w.logger.Error("dequeue failed", "error", err)
				return err
			}
		}
		metrics.SetQueueDepth(w.queue.Len())

		// The iteration finishes even if a stop arrives meanwhile.
		_, _ = w.ProcessOnce(context.WithoutCancel(ctx), ev)
	}
}

// Stop asks Run to return after the current iteration. It is safe to call
// more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Done is closed once Run has returned.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// ProcessOnce runs one iteration for ev. A failed claim is logged and the
// event is dropped; it never stops the loop.
func (w *Worker) ProcessOnce(ctx context.Context, ev domain.Event) (Outcome, error) {
	processedAt := w.nextProcessedAt()

	claimCtx, cancel := context.WithTimeout(ctx, w.claimTimeout)
	defer cancel()

	started := time.Now()
	inserted, err := w.ledger.MarkProcessed(claimCtx, ev.Topic, ev.EventID, processedAt)
	metrics.ObserveLedgerClaimLatency(time.Since(started))
	if err != nil {
		metrics.IncLedgerErrors()
		w.logger.Error("ledger claim failed",
			"topic", ev.Topic,
			"event_id", ev.EventID,
			"error", err,
		)
		return OutcomeFailed, err
	}

	if !inserted {
		metrics.IncEventsDuplicate()
		w.logger.Info("duplicate dropped",
			"topic", ev.Topic,
			"event_id", ev.EventID,
		)
		return OutcomeDuplicate, nil
	}

	view := w.log.Append(domain.ProcessedEvent{
		Topic:       ev.Topic,
		EventID:     ev.EventID,
		ProcessedAt: processedAt,
		Source:      ev.Source,
		Payload:     ev.Payload,
	})
	metrics.IncEventsProcessed()

	w.logger.Info("event processed",
		"topic", ev.Topic,
		"event_id", ev.EventID,
		"seq", view.Seq,
	)

	return OutcomeProcessed, nil
}

// nextProcessedAt never goes backwards within one Worker, even if the wall
// clock does.
func (w *Worker) nextProcessedAt() time.Time {
	ts := w.now().UTC()
	if ts.Before(w.lastProcessedAt) {
		ts = w.lastProcessedAt
	}
	w.lastProcessedAt = ts
	return ts
}
