package event

import (
	"context"
	"fmt"
	"time"

	"cleanops/pkg/logger"
	"cleanops/pkg/metrics"
	"cleanops/pkg/rediskey"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Deduper drops redeliveries of an event the worker already handled.
// Forget releases an event whose handling failed so the retry runs.
type Deduper interface {
	FirstSeen(ctx context.Context, e Event) (bool, error)
	Forget(ctx context.Context, e Event) error
}

type redisDeduper struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisDeduper(rdb *redis.Client) Deduper {
	return &redisDeduper{rdb: rdb, ttl: 24 * time.Hour}
}

func (d *redisDeduper) FirstSeen(ctx context.Context, e Event) (bool, error) {
	return d.rdb.SetNX(ctx, rediskey.BuildEventKey(e.Type(), e.Meta().ID), 1, d.ttl).Result()
}

func (d *redisDeduper) Forget(ctx context.Context, e Event) error {
	return d.rdb.Del(ctx, rediskey.BuildEventKey(e.Type(), e.Meta().ID)).Err()
}

type RegisterParams struct {
	fx.In
	Mux     *asynq.ServeMux
	Handler Handler
	Deduper Deduper `optional:"true"`
}

// Register routes every event type on the asynq mux to h.
func Register(p RegisterParams) {
	for _, typ := range Types {
		p.Mux.HandleFunc(typ, Process(p.Handler, p.Deduper))
	}
}

// Process decodes one task and visits h with it. Malformed payloads are
// not retried. An event counts as handled only once h returns nil.
func Process(h Handler, dedupe Deduper) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		e, err := Decode(t)
		if err != nil {
			metrics.WorkerTask(t.Type(), err)
			return fmt.Errorf("decode %s: %v: %w", t.Type(), err, asynq.SkipRetry)
		}

		if dedupe != nil {
			first, err := dedupe.FirstSeen(ctx, e)
			if err != nil {
				logger.Ctx(ctx).Warn("event dedupe unavailable", zap.String("event_id", e.Meta().ID), zap.Error(err))
			} else if !first {
				logger.Ctx(ctx).Debug("duplicate event delivery skipped", zap.String("event_id", e.Meta().ID))
				return nil
			}
		}

		err = e.Visit(ctx, h)
		metrics.WorkerTask(t.Type(), err)
		if err != nil && dedupe != nil {
			if ferr := dedupe.Forget(ctx, e); ferr != nil {
				logger.Ctx(ctx).Warn("failed to release event for retry", zap.String("event_id", e.Meta().ID), zap.Error(ferr))
			}
		}
		return err
	}
}
