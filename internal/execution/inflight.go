package execution

import (
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"
)

// ErrDuplicateInFlight 同一 key 的提交仍未完成
var ErrDuplicateInFlight = fmt.Errorf("duplicate in-flight")

// InFlightDeduper 按 key 互斥的提交闸门。
//
// 与限流不同，令牌一直持有到调用方 Release 为止；
// ttl 只是兜底，防止调用方异常退出后 key 永久占用（ttl<=0 表示不过期）。
// 每次获取都分配一个 owner 令牌，Release 只删除同一 owner 的占用，
// 过期后被他人重新获取的 key 不会被旧的持有者释放。
type InFlightDeduper struct {
	ttl    time.Duration
	now    func() time.Time
	owners atomic.Uint64
	shards []inFlightShard
}

type inFlightShard struct {
	mu sync.Mutex
	m  map[string]inFlightEntry
}

type inFlightEntry struct {
	owner      uint64
	acquiredAt time.Time
	expiresAt  time.Time // 零值表示不过期
}

// NewInFlightDeduper 创建闸门。ttl 应明显大于一次提交的请求超时。
func NewInFlightDeduper(ttl time.Duration, shardCount int) *InFlightDeduper {
	if shardCount <= 0 {
		shardCount = 16
	}
	shards := make([]inFlightShard, shardCount)
	for i := range shards {
		shards[i].m = make(map[string]inFlightEntry)
	}
	return &InFlightDeduper{ttl: ttl, now: time.Now, shards: shards}
}

// TryAcquire 获取 key 的令牌；已被占用时返回 ErrDuplicateInFlight。
// 返回的 owner 交给 Release。
func (d *InFlightDeduper) TryAcquire(key string) (uint64, error) {
	if d == nil || key == "" {
		return 0, nil
	}
	now := d.now()
	sh := d.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if e, ok := sh.m[key]; ok {
		if e.expiresAt.IsZero() || e.expiresAt.After(now) {
			return 0, ErrDuplicateInFlight
		}
	}
	e := inFlightEntry{owner: d.owners.Add(1), acquiredAt: now}
	if d.ttl > 0 {
		e.expiresAt = now.Add(d.ttl)
	}
	sh.m[key] = e
	return e.owner, nil
}

// Release 释放 owner 持有的 key；key 已被其他 owner 占用时不做任何事。可重复调用。
func (d *InFlightDeduper) Release(key string, owner uint64) {
	if d == nil || key == "" {
		return
	}
	sh := d.shard(key)
	sh.mu.Lock()
	if e, ok := sh.m[key]; ok && e.owner == owner {
		delete(sh.m, key)
	}
	sh.mu.Unlock()
}

// Renew 延长 owner 持有的 key 的过期时间。
// 已过期或已被其他 owner 占用时返回 false，调用方不应再继续提交。
func (d *InFlightDeduper) Renew(key string, owner uint64) bool {
	if d == nil || key == "" {
		return true
	}
	now := d.now()
	sh := d.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.m[key]
	if !ok || e.owner != owner || (!e.expiresAt.IsZero() && !e.expiresAt.After(now)) {
		return false
	}
	if d.ttl > 0 {
		e.expiresAt = now.Add(d.ttl)
		sh.m[key] = e
	}
	return true
}

// Busy 报告 key 当前是否被占用
func (d *InFlightDeduper) Busy(key string) bool {
	if d == nil || key == "" {
		return false
	}
	now := d.now()
	sh := d.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.m[key]
	return ok && (e.expiresAt.IsZero() || e.expiresAt.After(now))
}

func (d *InFlightDeduper) shard(key string) *inFlightShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &d.shards[h.Sum32()%uint32(len(d.shards))]
}
