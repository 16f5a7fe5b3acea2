package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"otp-service/internal/clock"
	"otp-service/internal/util"
)

const (
	DefaultQueueSize = 1024
	maxBatchSize     = 100
	sinkTimeout      = 5 * time.Second
)

type Sink interface {
	Name() string
	Write(ctx context.Context, events []Event) error
}

// Recorder fans events out to every sink from a single background
// goroutine. Record never blocks: when the queue is full the event is
// dropped with a warning.
type Recorder struct {
	sinks []Sink
	clock clock.Clock
	queue chan Event
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewRecorder(queueSize int, clk clock.Clock, sinks ...Sink) *Recorder {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	r := &Recorder{
		sinks: sinks,
		clock: clk,
		queue: make(chan Event, queueSize),
		done:  make(chan struct{}),
	}
	go r.run()
	return r
}

// Enabled is false when no sink is configured.
func (r *Recorder) Enabled() bool {
	return r != nil && len(r.sinks) > 0
}

func (r *Recorder) Record(e Event) {
	if !r.Enabled() {
		return
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = r.clock.Now().UTC()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- e:
	default:
		util.Warn("Audit queue full, dropping event", zap.String("type", string(e.Type)))
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for e := range r.queue {
		batch := []Event{e}
	drain:
		for len(batch) < maxBatchSize {
			select {
			case next, ok := <-r.queue:
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}
		r.flush(batch)
	}
}

func (r *Recorder) flush(batch []Event) {
	for _, sink := range r.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		if err := sink.Write(ctx, batch); err != nil {
			util.Error("Failed to write audit events",
				zap.String("sink", sink.Name()),
				zap.Int("events", len(batch)),
				zap.Error(err))
		}
		cancel()
	}
}

// Close stops accepting events and waits for the queue to drain or ctx to
// end, whichever comes first.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
