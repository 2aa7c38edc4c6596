package event

import (
	"context"
	"errors"
	"sync"

	"cleanops/pkg/logger"
	"cleanops/pkg/task"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Publisher hands committed events to the notification boundary. It never
// fails the caller: the state change is already durable.
type Publisher interface {
	Publish(ctx context.Context, events ...Event)
}

type asynqPublisher struct {
	enqueuer task.Enqueuer
}

type PublisherParams struct {
	fx.In
	Enqueuer task.Enqueuer
}

func NewPublisher(p PublisherParams) Publisher {
	return &asynqPublisher{enqueuer: p.Enqueuer}
}

func (p *asynqPublisher) Publish(ctx context.Context, events ...Event) {
	log := logger.Ctx(ctx)
	for _, e := range events {
		t, err := NewTask(e)
		if err != nil {
			log.Error("failed to encode event", zap.String("type", e.Type()), zap.Error(err))
			continue
		}

		if _, err := p.enqueuer.Enqueue(ctx, t); err != nil {
			if errors.Is(err, asynq.ErrTaskIDConflict) {
				continue
			}
			log.Error("failed to publish event",
				zap.String("type", e.Type()),
				zap.String("event_id", e.Meta().ID),
				zap.Error(err),
			)
			continue
		}

		log.Debug("event published", zap.String("type", e.Type()), zap.String("event_id", e.Meta().ID))
	}
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, events ...Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type())
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
