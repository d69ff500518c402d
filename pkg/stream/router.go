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

/*
Package stream routes the events of one stream to the unit instances owning their keys.

A Router owns a bounded queue and a single goroutine. Producers put events on the queue, the
goroutine resolves the key of each event, gets the instance from the registry and calls the
handler with the instance locked. Timer and time based checkpoint ticks go through the same queue,
so they never run concurrently with a handler of the same instance.
*/
package stream

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/numaproj/keyflow/pkg/dispatch"
	"github.com/numaproj/keyflow/pkg/event"
	"github.com/numaproj/keyflow/pkg/keyed"
	"github.com/numaproj/keyflow/pkg/registry"
	"github.com/numaproj/keyflow/pkg/shared/logging"
	"github.com/numaproj/keyflow/pkg/unit"
)

// TickKind is the kind of periodic work delivered through the queue.
type TickKind int

const (
	// TickTimer runs the timer callback of every instance.
	TickTimer TickKind = iota
	// TickCheckpoint checkpoints every dirty instance.
	TickCheckpoint
)

func (k TickKind) String() string {
	if k == TickCheckpoint {
		return "checkpoint"
	}
	return "timer"
}

// maxRemovedRetries bounds the lookups of an instance removed between the lookup and the lock.
const maxRemovedRetries = 3

type state int32

const (
	stateCreated state = iota
	stateRunning
	stateStopped
)

type item struct {
	e     event.Event
	key   string
	keyed bool
	// tick items carry the cache to tick instead of an event
	tick  *registry.Cache
	kind  TickKind
	since time.Time
}

// Router is the processing loop of one stream.
type Router struct {
	name    string
	appID   string
	key     *keyed.Key
	targets []*registry.Cache
	opts    *options
	queue   chan item
	log     *zap.SugaredLogger

	state    *atomic.Int32
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
	dropped  *atomic.Int64
}

// NewRouter returns a stopped router for the stream name feeding targets. A nil key makes the stream a
// broadcast stream: its events reach every live instance of the targets, on every partition.
func NewRouter(ctx context.Context, appID, name string, key *keyed.Key, targets []*registry.Cache, opts ...Option) (*Router, error) {
	o := DefaultOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	if name == "" {
		return nil, fmt.Errorf("stream name can not be empty")
	}
	return &Router{
		name:    name,
		appID:   appID,
		key:     key,
		targets: targets,
		opts:    o,
		queue:   make(chan item, o.capacity),
		log:     logging.FromContext(ctx).With("stream", name),
		state:   atomic.NewInt32(int32(stateCreated)),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		dropped: atomic.NewInt64(0),
	}, nil
}

// Name returns the stream name.
func (r *Router) Name() string {
	return r.name
}

// Broadcast reports whether the stream has no key finder.
func (r *Router) Broadcast() bool {
	return r.key == nil
}

// Dropped returns the number of events dropped by the router.
func (r *Router) Dropped() int64 {
	return r.dropped.Load()
}

// Running reports whether the processing loop is running.
func (r *Router) Running() bool {
	return state(r.state.Load()) == stateRunning
}

// Start spawns the processing loop. A stopped router can not be started again.
func (r *Router) Start(ctx context.Context) error {
	if !r.state.CompareAndSwap(int32(stateCreated), int32(stateRunning)) {
		return fmt.Errorf("stream %q can not be started, it is already running or stopped", r.name)
	}
	go r.run(ctx)
	r.log.Infow("Stream router started", zap.Int("capacity", r.opts.capacity))
	return nil
}

// Stop asks the processing loop to exit and waits for it. In-flight handlers finish; queued events are
// processed or discarded depending on WithDrainOnStop.
func (r *Router) Stop() {
	r.stopOnce.Do(func() {
		prev := state(r.state.Swap(int32(stateStopped)))
		close(r.stopCh)
		if prev == stateRunning {
			<-r.doneCh
		}
		r.log.Infow("Stream router stopped", zap.Int64("dropped", r.dropped.Load()))
	})
}

// Put routes e: it is sent to the owning partition when the key is not local, and queued otherwise.
func (r *Router) Put(ctx context.Context, e event.Event) error {
	eventsReceived.WithLabelValues(r.appID, r.name).Inc()
	if r.key == nil {
		r.sendToOthers(ctx, e)
		return r.enqueue(ctx, item{e: e})
	}
	key := r.key.Get(e)
	if p := r.opts.partitioner; p != nil {
		if partition := p.PartitionFor(key); partition != p.LocalPartition() {
			data, err := r.opts.codec.Marshal(r.appID, r.name, e)
			if err != nil {
				r.drop(reasonSerialization)
				return fmt.Errorf("failed to serialize event for stream %q, %w", r.name, err)
			}
			if r.opts.sender.Send(ctx, partition, data) {
				eventsSent.WithLabelValues(r.appID, r.name).Inc()
				return nil
			}
			r.log.Debugw("Remote delivery failed, processing locally", zap.Int("partition", partition))
		}
	}
	return r.enqueue(ctx, item{e: e, key: key, keyed: true})
}

// Deliver queues an event received from another partition. It is never sent again.
func (r *Router) Deliver(ctx context.Context, e event.Event) error {
	eventsReceived.WithLabelValues(r.appID, r.name).Inc()
	return r.enqueue(ctx, item{e: e})
}

// Tick queues periodic work for the instances of c. It does not wait: a tick is dropped when the queue
// is full, the next one will do the work.
func (r *Router) Tick(c *registry.Cache, kind TickKind) bool {
	if state(r.state.Load()) == stateStopped {
		return false
	}
	select {
	case r.queue <- item{tick: c, kind: kind}:
		return true
	default:
		ticksDropped.WithLabelValues(r.appID, r.name, c.Type().Name()).Inc()
		return false
	}
}

func (r *Router) sendToOthers(ctx context.Context, e event.Event) {
	p := r.opts.partitioner
	if p == nil || p.PartitionCount() < 2 {
		return
	}
	data, err := r.opts.codec.Marshal(r.appID, r.name, e)
	if err != nil {
		r.log.Errorw("Failed to serialize broadcast event", zap.Error(err))
		return
	}
	for i := 0; i < p.PartitionCount(); i++ {
		if i == p.LocalPartition() {
			continue
		}
		if r.opts.sender.Send(ctx, i, data) {
			eventsSent.WithLabelValues(r.appID, r.name).Inc()
		}
	}
}

func (r *Router) enqueue(ctx context.Context, it item) error {
	if state(r.state.Load()) == stateStopped {
		r.drop(reasonStopped)
		return ErrRouterStopped
	}
	it.since = r.opts.clock()
	select {
	case r.queue <- it:
		queueLength.WithLabelValues(r.appID, r.name).Set(float64(len(r.queue)))
		return nil
	default:
	}
	timer := time.NewTimer(r.opts.sendTimeout)
	defer timer.Stop()
	select {
	case r.queue <- it:
		return nil
	case <-timer.C:
		r.drop(reasonQueueFull)
		return QueueFullErr{Stream: r.name, Message: fmt.Sprintf("queue full after %s, event dropped", r.opts.sendTimeout)}
	case <-r.stopCh:
		r.drop(reasonStopped)
		return ErrRouterStopped
	case <-ctx.Done():
		r.drop(reasonStopped)
		return ctx.Err()
	}
}

func (r *Router) drop(reason string) {
	r.dropped.Inc()
	eventsDropped.WithLabelValues(r.appID, r.name, reason).Inc()
}

func (r *Router) run(ctx context.Context) {
	defer close(r.doneCh)
	for {
		select {
		case <-r.stopCh:
			r.finish(ctx)
			return
		case it := <-r.queue:
			r.process(ctx, it)
		}
	}
}

// finish empties the queue once the stop was requested.
func (r *Router) finish(ctx context.Context) {
	for {
		select {
		case it := <-r.queue:
			if r.opts.drain {
				r.process(ctx, it)
			} else if it.tick == nil {
				r.drop(reasonDiscarded)
			}
		default:
			queueLength.WithLabelValues(r.appID, r.name).Set(0)
			return
		}
	}
}

func (r *Router) process(ctx context.Context, it item) {
	if it.tick != nil {
		r.tick(ctx, it.tick, it.kind)
		return
	}
	defer func() {
		processingTime.WithLabelValues(r.appID, r.name).Observe(r.opts.clock().Sub(it.since).Seconds())
	}()
	if r.key == nil {
		for _, c := range r.targets {
			r.broadcast(ctx, c, it.e)
		}
		return
	}
	key := it.key
	if !it.keyed {
		key = r.key.Get(it.e)
	}
	for _, c := range r.targets {
		r.deliver(ctx, c, key, it.e)
	}
}

func (r *Router) deliver(ctx context.Context, c *registry.Cache, key string, e event.Event) {
	if c.Type().Options().Singleton {
		key = unit.SingletonKey
	}
	for attempt := 0; attempt < maxRemovedRetries; attempt++ {
		inst, err := c.GetOrCreate(ctx, key)
		if err != nil {
			r.log.Errorw("Failed to get instance, event dropped", zap.String("unit", c.Type().Name()), zap.String("key", key), zap.Error(err))
			return
		}
		if r.handleLocked(ctx, c, inst, e) {
			return
		}
	}
	r.log.Warnw("Instance kept being removed, event dropped", zap.String("unit", c.Type().Name()), zap.String("key", key))
}

func (r *Router) broadcast(ctx context.Context, c *registry.Cache, e event.Event) {
	if c.Type().Options().Singleton {
		r.deliver(ctx, c, unit.SingletonKey, e)
		return
	}
	for _, inst := range c.Instances() {
		r.handleLocked(ctx, c, inst, e)
	}
}

// handleLocked runs the handler of inst for e and returns false if inst was removed before it could be
// locked.
func (r *Router) handleLocked(ctx context.Context, c *registry.Cache, inst *unit.Instance, e event.Event) bool {
	inst.Lock()
	if inst.Removed() {
		inst.Unlock()
		return false
	}
	remove := r.handle(ctx, inst, e)
	inst.Unlock()
	if remove {
		c.Remove(inst)
	}
	return true
}

// handle runs with the instance locked and returns whether the instance asked to be removed.
func (r *Router) handle(ctx context.Context, inst *unit.Instance, e event.Event) (remove bool) {
	typ := inst.Type()
	defer r.recoverPanic(typ.Name(), inst.Key())
	uc := unit.NewContext(ctx, inst, r.opts.emitter, r.opts.checkpointer)
	if err := typ.Dispatch(uc, e); err != nil {
		if errors.Is(err, dispatch.ErrNoMatchingHandler) {
			noHandler.WithLabelValues(r.appID, r.name, typ.Name()).Inc()
			r.log.Debugw("No handler for event, dropped", zap.String("unit", typ.Name()), zap.String("type", e.EventType()))
			return false
		}
		handlerErrors.WithLabelValues(r.appID, r.name, typ.Name(), "error").Inc()
		r.log.Warnw("Handler failed", zap.String("unit", typ.Name()), zap.String("key", inst.Key()), zap.Error(err))
	}
	eventsProcessed.WithLabelValues(r.appID, r.name, typ.Name()).Inc()
	fired, err := typ.Trigger(uc, e, r.opts.clock())
	if err != nil && !errors.Is(err, dispatch.ErrNoMatchingHandler) {
		handlerErrors.WithLabelValues(r.appID, r.name, typ.Name(), "trigger").Inc()
		r.log.Warnw("Trigger handler failed", zap.String("unit", typ.Name()), zap.String("key", inst.Key()), zap.Error(err))
	}
	if fired {
		triggersFired.WithLabelValues(r.appID, r.name, typ.Name()).Inc()
	}
	if r.opts.checkpointer != nil && inst.CheckpointDue() {
		r.opts.checkpointer.Checkpoint(inst)
	}
	return inst.RemovalRequested()
}

func (r *Router) tick(ctx context.Context, c *registry.Cache, kind TickKind) {
	typ := c.Type()
	instances := c.Instances()
	if typ.Options().Singleton && len(instances) == 0 {
		inst, err := c.GetOrCreate(ctx, unit.SingletonKey)
		if err != nil {
			r.log.Errorw("Failed to get singleton instance", zap.String("unit", typ.Name()), zap.Error(err))
			return
		}
		instances = append(instances, inst)
	}
	for _, inst := range instances {
		inst.Lock()
		if inst.Removed() {
			inst.Unlock()
			continue
		}
		r.tickOne(ctx, inst, kind)
		remove := inst.RemovalRequested()
		inst.Unlock()
		if remove {
			c.Remove(inst)
		}
	}
}

func (r *Router) tickOne(ctx context.Context, inst *unit.Instance, kind TickKind) {
	typ := inst.Type()
	defer r.recoverPanic(typ.Name(), inst.Key())
	switch kind {
	case TickTimer:
		if err := typ.Tick(unit.NewContext(ctx, inst, r.opts.emitter, r.opts.checkpointer)); err != nil {
			handlerErrors.WithLabelValues(r.appID, r.name, typ.Name(), "timer").Inc()
			r.log.Warnw("Timer callback failed", zap.String("unit", typ.Name()), zap.String("key", inst.Key()), zap.Error(err))
		}
	case TickCheckpoint:
		if r.opts.checkpointer != nil && inst.Dirty() {
			r.opts.checkpointer.Checkpoint(inst)
		}
	}
}

func (r *Router) recoverPanic(unitType, key string) {
	if rec := recover(); rec != nil {
		handlerErrors.WithLabelValues(r.appID, r.name, unitType, "panic").Inc()
		r.log.Errorw("Handler panicked", zap.String("unit", unitType), zap.String("key", key),
			zap.Any("panic", rec), zap.ByteString("stack", debug.Stack()))
	}
}
