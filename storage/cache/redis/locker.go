// Package rediscache holds the Redis backed helpers shared by API instances.
package rediscache

import (
	"context"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/student"
)

const (
	lockTries      = 32
	lockRetryDelay = 100 * time.Millisecond
)

// ClassLocker serializes roll number assignment per class across API instances.
type ClassLocker struct {
	rs     *redsync.Redsync
	expiry time.Duration
	logger core.Logger
}

var _ student.ClassLocker = (*ClassLocker)(nil)

func NewClient(conf *core.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     conf.Redis.Addr,
		Password: conf.Redis.Password,
		DB:       conf.Redis.DB,
	})
}

func NewClassLocker(client *redis.Client, conf *core.Config, logger core.Logger) *ClassLocker {
	expiry := conf.Redis.LockExpiry
	if expiry <= 0 {
		expiry = 8 * time.Second
	}
	return &ClassLocker{
		rs:     redsync.New(goredis.NewPool(client)),
		expiry: expiry,
		logger: logger,
	}
}

func lockKey(classID string) string { return "shule:lock:class:" + classID + ":roll" }

// WithClassLock runs fn while holding the class lock. The lock is released when fn returns.
func (l *ClassLocker) WithClassLock(ctx context.Context, classID string, fn func(ctx context.Context) error) error {
	key := lockKey(classID)
	mutex := l.rs.NewMutex(
		key,
		redsync.WithExpiry(l.expiry),
		redsync.WithTries(lockTries),
		redsync.WithRetryDelay(lockRetryDelay),
	)
	if err := mutex.LockContext(ctx); err != nil {
		return core.NewConflictError(errors.Wrapf(err, "acquiring lock %s", key).Error())
	}
	defer func() {
		if ok, err := mutex.UnlockContext(context.Background()); !ok || err != nil {
			l.logger.Warn("releasing class lock", err, map[string]interface{}{"key": key})
		}
	}()
	return fn(ctx)
}
