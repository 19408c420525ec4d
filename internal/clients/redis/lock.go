package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/orderlens/orderlens-backend/internal/platform/ctxutil"
	"github.com/orderlens/orderlens-backend/internal/platform/envutil"
	"github.com/orderlens/orderlens-backend/internal/platform/logger"
)

// RunLocker guards the single-writer sections of the pipeline: analytics
// rebuilds and duplicate process(run_id) invocations.
type RunLocker interface {
	// Acquire returns a release func and whether the lock was obtained.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

type runLocker struct {
	log    *logger.Logger
	client *goredis.Client
}

func NewRunLocker(log *logger.Logger) (RunLocker, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr := envutil.String("REDIS_ADDR", "localhost:6379")
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: envutil.String("REDIS_PASSWORD", ""),
		DB:       envutil.Int("REDIS_DB", 0),
	})
	return &runLocker{
		log:    log.With("service", "RunLocker"),
		client: client,
	}, nil
}

func (l *runLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	ctx = ctxutil.Default(ctx)
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	fullKey := "orderlens:lock:" + key
	ok, err := l.client.SetNX(ctx, fullKey, "1", ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("setnx %q: %w", fullKey, err)
	}
	if !ok {
		return func() {}, false, nil
	}
	release := func() {
		relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.client.Del(relCtx, fullKey).Err(); err != nil {
			l.log.Warn("release lock failed", "key", fullKey, "error", err)
		}
	}
	return release, true, nil
}
