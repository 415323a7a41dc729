// Package redisledger implements ratelimit.Ledger as a Redis sorted set,
// the idiomatic shape for a sliding-window rate limiter: members are
// start timestamps, scored by their own unix-nano value, trimmed with
// ZREMRANGEBYSCORE and counted with ZCOUNT. Repurposes the go-redis
// dependency the reference stack originally used for its SSE pub/sub
// bus.
package redisledger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Ledger is a Redis-backed ratelimit.Ledger for one named queue.
type Ledger struct {
	rdb *goredis.Client
	key string
	ctx context.Context
}

// New builds a Redis-backed ledger. ctx bounds every Redis call issued by
// the ledger; callers typically pass context.Background() since the
// limiter itself has no per-call context.
func New(ctx context.Context, rdb *goredis.Client, queue string) *Ledger {
	return &Ledger{rdb: rdb, key: fmt.Sprintf("jobqueue:ratelimit:%s", queue), ctx: ctx}
}

func (l *Ledger) Record(t time.Time) error {
	score := float64(t.UnixNano())
	member := strconv.FormatInt(t.UnixNano(), 10)
	return l.rdb.ZAdd(l.ctx, l.key, goredis.Z{Score: score, Member: member}).Err()
}

func (l *Ledger) CountSince(since time.Time) (int, error) {
	n, err := l.rdb.ZCount(l.ctx, l.key, strconv.FormatInt(since.UnixNano(), 10), "+inf").Result()
	return int(n), err
}

func (l *Ledger) Prune(olderThan time.Time) error {
	return l.rdb.ZRemRangeByScore(l.ctx, l.key, "-inf", strconv.FormatInt(olderThan.UnixNano(), 10)).Err()
}
