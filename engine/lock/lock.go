package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/chenyingqiao/pipeline-engine/engine"
)

const (
	//DefaultExpired 锁的默认过期时间
	DefaultExpired = 10 * time.Second
	//retryInterval 抢锁失败的重试间隔
	retryInterval = 100 * time.Millisecond
)

// 只有持有者能解锁
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLock 基于Redis的分布式锁，同一把锁对象持有一个随机持有者标识
type RedisLock struct {
	client  redis.UniversalClient
	key     string
	owner   string
	expired time.Duration
}

// NewRedisLock 创建一把锁，expired为0时取默认过期时间
func NewRedisLock(client redis.UniversalClient, key string, expired time.Duration) *RedisLock {
	if expired <= 0 {
		expired = DefaultExpired
	}
	return &RedisLock{
		client:  client,
		key:     key,
		owner:   uuid.NewString(),
		expired: expired,
	}
}

// TryLock 抢一次锁，抢不到立即返回ErrLockNotAcquired
func (l *RedisLock) TryLock(ctx context.Context) error {
	ok, err := l.client.SetNX(ctx, l.key, l.owner, l.expired).Result()
	if err != nil {
		return errors.Wrapf(err, "抢锁失败 %s", l.key)
	}
	if !ok {
		return engine.ErrLockNotAcquired
	}
	return nil
}

// Lock 阻塞式抢锁，最多等一个过期周期
func (l *RedisLock) Lock(ctx context.Context) error {
	deadline := time.Now().Add(l.expired)
	for {
		err := l.TryLock(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, engine.ErrLockNotAcquired) {
			return err
		}
		if time.Now().After(deadline) {
			return engine.ErrLockNotAcquired
		}
		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "等锁被中断 %s", l.key)
		case <-time.After(retryInterval):
		}
	}
}

// Unlock 释放锁，不是自己持有的锁不会被误删
func (l *RedisLock) Unlock(ctx context.Context) error {
	err := unlockScript.Run(ctx, l.client, []string{l.key}, l.owner).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return errors.Wrapf(err, "解锁失败 %s", l.key)
	}
	return nil
}

// NewBuildIDLock 构建粒度的锁，启动/取消/结束对同一构建的裁决靠它串行
func NewBuildIDLock(client redis.UniversalClient, buildID string) *RedisLock {
	return NewRedisLock(client, fmt.Sprintf("engine:lock:build:%s", buildID), 0)
}

// NewDetailLock 详情树读改写的锁，与构建裁决锁分开，
// 持有裁决锁的控制器才能安全地调详情更新
func NewDetailLock(client redis.UniversalClient, buildID string) *RedisLock {
	return NewRedisLock(client, fmt.Sprintf("engine:lock:detail:%s", buildID), 0)
}

// NewPipelineStartLock 流水线启动锁，构建号分配与排队检查靠它串行
func NewPipelineStartLock(client redis.UniversalClient, pipelineID string) *RedisLock {
	return NewRedisLock(client, fmt.Sprintf("engine:lock:pipeline:start:%s", pipelineID), 0)
}

// NewContainerIDLock Job粒度的锁，互斥组抢占与Job状态切换靠它串行
func NewContainerIDLock(client redis.UniversalClient, buildID, containerID string) *RedisLock {
	return NewRedisLock(client, fmt.Sprintf("engine:lock:container:%s:%s", buildID, containerID), 0)
}
