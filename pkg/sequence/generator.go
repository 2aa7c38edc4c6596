package sequence

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cleanops/pkg/rediskey"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("sequence",
	fx.Provide(NewRedisGenerator),
)

type Generator interface {
	NextInvoiceNumber(ctx context.Context, businessID string) (string, error)
}

type RedisGenerator struct {
	rdb *redis.Client
	now func() time.Time
}

type Params struct {
	fx.In

	Redis *redis.Client
}

func NewRedisGenerator(p Params) Generator {
	return &RedisGenerator{
		rdb: p.Redis,
		now: time.Now,
	}
}

// NextInvoiceNumber returns INV-{yymm}-{seq}, where seq restarts every month
// per business.
func (g *RedisGenerator) NextInvoiceNumber(ctx context.Context, businessID string) (string, error) {
	now := g.now().UTC()
	period := now.Format("0601")
	key := rediskey.BuildInvoiceNumberKey(businessID, period)

	seq, err := g.rdb.Incr(ctx, key).Result()
	if err != nil {
		return "", err
	}

	if seq == 1 {
		// keep the counter one extra month so late retries never reuse a number
		_ = g.rdb.Expire(ctx, key, 62*24*time.Hour).Err()
	}

	return FormatInvoiceNumber(period, seq), nil
}

// FormatInvoiceNumber encodes seq in base36, padded to four characters.
func FormatInvoiceNumber(period string, seq int64) string {
	encoded := strings.ToUpper(strconv.FormatInt(seq, 36))
	if len(encoded) < 4 {
		encoded = strings.Repeat("0", 4-len(encoded)) + encoded
	}
	return fmt.Sprintf("INV-%s-%s", period, encoded)
}
