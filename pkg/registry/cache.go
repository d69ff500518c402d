/*
Copyright 2022 The Numaproj Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package registry

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/numaproj/keyflow/pkg/unit"
)

// Eviction reasons
const (
	ReasonSize     = "size"
	ReasonTTL      = "ttl"
	ReasonRemoved  = "removed"
	ReasonShutdown = "shutdown"
)

// Recoverer restores the persisted state of a new instance. It is called with the instance locked,
// before the instance becomes visible to other callers.
type Recoverer interface {
	Recover(ctx context.Context, inst *unit.Instance)
}

type evicted struct {
	inst   *unit.Instance
	reason string
	// done is closed once the instance is torn down
	done chan struct{}
}

// Cache holds the live instances of one unit type, at most one per key.
type Cache struct {
	appID        string
	typ          *unit.Type
	recoverer    Recoverer
	checkpointer unit.Checkpointer
	clock        func() time.Time
	log          *zap.SugaredLogger
	group        singleflight.Group

	lock sync.Mutex
	lru  *simplelru.LRU[string, *unit.Instance]
	// reason is attached to the evictions reported by the lru callback, guarded by lock
	reason string
	// pending are evicted instances waiting for teardown, guarded by lock
	pending []evicted
	// tearingDown holds the keys whose evicted instance is not torn down yet, guarded by lock. A key
	// is not re-created before its final checkpoint is handed to the checkpointer.
	tearingDown map[string]chan struct{}
}

func newCache(appID string, typ *unit.Type, opts *options, log *zap.SugaredLogger) (*Cache, error) {
	c := &Cache{
		appID:        appID,
		typ:          typ,
		recoverer:    opts.recoverer,
		checkpointer: opts.checkpointer,
		clock:        opts.clock,
		log:          log.With("unit", typ.Name()),
		reason:       ReasonSize,
		tearingDown:  map[string]chan struct{}{},
	}
	size := typ.Options().MaxInstances
	if size == 0 {
		size = math.MaxInt
	}
	lru, err := simplelru.NewLRU[string, *unit.Instance](size, func(_ string, inst *unit.Instance) {
		c.pending = append(c.pending, evicted{inst: inst, reason: c.reason})
	})
	if err != nil {
		return nil, err
	}
	c.lru = lru
	return c, nil
}

// Type returns the unit type of the cache.
func (c *Cache) Type() *unit.Type {
	return c.typ
}

// GetOrCreate returns the live instance for key, creating and recovering it if needed. Concurrent
// callers for the same key share one creation.
func (c *Cache) GetOrCreate(ctx context.Context, key string) (*unit.Instance, error) {
	now := c.clock()
	c.lock.Lock()
	if inst, ok := c.lru.Get(key); ok {
		inst.Touch(now)
		c.lock.Unlock()
		return inst, nil
	}
	c.lock.Unlock()

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		for {
			c.lock.Lock()
			if inst, ok := c.lru.Get(key); ok {
				c.lock.Unlock()
				return inst, nil
			}
			done, busy := c.tearingDown[key]
			c.lock.Unlock()
			if !busy {
				break
			}
			select {
			case <-done:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		inst := c.typ.NewInstance(key, now)
		inst.Lock()
		if c.recoverer != nil {
			c.recoverer.Recover(ctx, inst)
		}
		c.typ.Created(inst)
		inst.Unlock()

		c.lock.Lock()
		c.reason = ReasonSize
		c.lru.Add(key, inst)
		out := c.takePending()
		size := c.lru.Len()
		c.lock.Unlock()

		createdInstances.WithLabelValues(c.appID, c.typ.Name()).Inc()
		activeInstances.WithLabelValues(c.appID, c.typ.Name()).Set(float64(size))
		c.teardown(out)
		return inst, nil
	})
	if err != nil {
		return nil, err
	}
	inst := v.(*unit.Instance)
	inst.Touch(now)
	return inst, nil
}

// Get returns the live instance for key without creating it or refreshing its recency.
func (c *Cache) Get(key string) (*unit.Instance, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.lru.Peek(key)
}

// Instances returns a snapshot of the live instances, least recently used first.
func (c *Cache) Instances() []*unit.Instance {
	c.lock.Lock()
	defer c.lock.Unlock()
	keys := c.lru.Keys()
	out := make([]*unit.Instance, 0, len(keys))
	for _, k := range keys {
		if inst, ok := c.lru.Peek(k); ok {
			out = append(out, inst)
		}
	}
	return out
}

// Len returns the number of live instances.
func (c *Cache) Len() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.lru.Len()
}

// Remove tears down inst if it is still the live instance of its key.
func (c *Cache) Remove(inst *unit.Instance) bool {
	c.lock.Lock()
	cur, ok := c.lru.Peek(inst.Key())
	if !ok || cur != inst {
		c.lock.Unlock()
		return false
	}
	c.reason = ReasonRemoved
	c.lru.Remove(inst.Key())
	out := c.takePending()
	size := c.lru.Len()
	c.lock.Unlock()
	activeInstances.WithLabelValues(c.appID, c.typ.Name()).Set(float64(size))
	c.teardown(out)
	return true
}

// EvictIfNeeded tears down the instances idle for longer than the TTL and returns how many were evicted.
func (c *Cache) EvictIfNeeded() int {
	ttl := c.typ.Options().TTL
	if ttl <= 0 || c.typ.Options().Singleton {
		return 0
	}
	now := c.clock()
	c.lock.Lock()
	c.reason = ReasonTTL
	for _, k := range c.lru.Keys() {
		if inst, ok := c.lru.Peek(k); ok && inst.Expired(now, ttl) {
			c.lru.Remove(k)
		}
	}
	out := c.takePending()
	size := c.lru.Len()
	c.reason = ReasonSize
	c.lock.Unlock()
	activeInstances.WithLabelValues(c.appID, c.typ.Name()).Set(float64(size))
	c.teardown(out)
	return len(out)
}

// RemoveAll tears down every instance.
func (c *Cache) RemoveAll() {
	c.lock.Lock()
	c.reason = ReasonShutdown
	c.lru.Purge()
	out := c.takePending()
	c.reason = ReasonSize
	c.lock.Unlock()
	activeInstances.WithLabelValues(c.appID, c.typ.Name()).Set(0)
	c.teardown(out)
}

// takePending must be called with the lock held. It marks the keys of the taken instances as being
// torn down.
func (c *Cache) takePending() []evicted {
	out := c.pending
	c.pending = nil
	for i := range out {
		out[i].done = make(chan struct{})
		c.tearingDown[out[i].inst.Key()] = out[i].done
	}
	return out
}

// teardown runs outside the cache lock, it waits for in-flight handlers of each instance.
func (c *Cache) teardown(items []evicted) {
	for _, ev := range items {
		inst := ev.inst
		inst.Lock()
		if !inst.Removed() {
			if ev.reason != ReasonRemoved && c.checkpointer != nil && inst.Dirty() && c.typ.Options().CheckpointOnEvict() {
				c.checkpointer.Checkpoint(inst)
			}
			c.typ.Removed(inst)
			inst.MarkRemoved()
		}
		inst.Unlock()
		c.lock.Lock()
		if c.tearingDown[inst.Key()] == ev.done {
			delete(c.tearingDown, inst.Key())
		}
		c.lock.Unlock()
		close(ev.done)
		evictedInstances.WithLabelValues(c.appID, c.typ.Name(), ev.reason).Inc()
		c.log.Debugw("Instance torn down", zap.String("key", inst.Key()), zap.String("reason", ev.reason))
	}
}
