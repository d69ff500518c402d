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
Package checkpoint saves the state of unit instances to a state store and restores it when an
instance is created again.

Saves are asynchronous. The state is serialized under the instance lock and handed to a storage
worker chosen by hashing the instance id, so the saves of one instance are persisted in order.
A save which is queued or in progress is visible to recovery, a new instance never starts from a
state older than the one of the instance it replaces.

Recovery runs synchronously while an instance is created, bounded by the recovery timeout. Any
failure leaves the instance with its fresh state.
*/
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/numaproj/keyflow/pkg/checkpoint/store"
	"github.com/numaproj/keyflow/pkg/registry"
	"github.com/numaproj/keyflow/pkg/shared/logging"
	"github.com/numaproj/keyflow/pkg/shuffle"
	"github.com/numaproj/keyflow/pkg/unit"
)

var (
	// ErrManagerClosed is reported for saves requested after Close.
	ErrManagerClosed = errors.New("checkpoint manager is closed")
	// ErrQueueFull is reported when the storage worker of an instance has too many pending saves.
	ErrQueueFull = errors.New("checkpoint queue is full")
)

// StorageCallback is called once per save with its result. It may run on a storage worker or, for a
// rejected save, on the caller while it holds the instance lock, so it must not lock the instance.
type StorageCallback func(id store.ID, version uint64, err error)

type saveRequest struct {
	id       store.ID
	version  uint64
	data     []byte
	callback StorageCallback
}

// Manager checkpoints and recovers the instances of one application.
type Manager struct {
	appID   string
	store   store.StateStore
	opts    *options
	shuffle *shuffle.Shuffle
	queues  []chan *saveRequest
	fetches *semaphore.Weighted
	log     *zap.SugaredLogger
	wg      sync.WaitGroup

	// lifecycle guards closed against the sends on the queues
	lifecycle sync.RWMutex
	closed    bool

	pendingLock sync.Mutex
	// pending holds the newest save of each id which is not persisted yet
	pending map[store.ID]*saveRequest

	failures      *atomic.Int32
	disabledUntil *atomic.Int64
}

var (
	_ unit.Checkpointer  = (*Manager)(nil)
	_ registry.Recoverer = (*Manager)(nil)
)

// NewManager returns a manager persisting to s and starts its storage workers. Close stops them.
func NewManager(ctx context.Context, appID string, s store.StateStore, opts ...Option) (*Manager, error) {
	o := DefaultOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	sh, err := shuffle.NewShuffle(o.workers, shuffle.WithHashAlgorithm(o.hashAlgorithm))
	if err != nil {
		return nil, err
	}
	m := &Manager{
		appID:         appID,
		store:         s,
		opts:          o,
		shuffle:       sh,
		queues:        make([]chan *saveRequest, o.workers),
		fetches:       semaphore.NewWeighted(o.maxConcurrentFetches),
		log:           logging.FromContext(ctx).With("app", appID),
		pending:       make(map[store.ID]*saveRequest),
		failures:      atomic.NewInt32(0),
		disabledUntil: atomic.NewInt64(0),
	}
	for i := range m.queues {
		m.queues[i] = make(chan *saveRequest, o.queueSize)
		m.wg.Add(1)
		go m.storageWorker(m.queues[i])
	}
	return m, nil
}

// Checkpoint saves the state of inst. The caller holds the instance lock.
func (m *Manager) Checkpoint(inst *unit.Instance) {
	m.CheckpointWithCallback(inst, nil)
}

// CheckpointWithCallback saves the state of inst and reports the result to callback, which may be nil.
// The caller holds the instance lock.
func (m *Manager) CheckpointWithCallback(inst *unit.Instance, callback StorageCallback) {
	typ := inst.Type()
	id := m.idOf(inst)
	if typ.Options().Mode() == unit.CheckpointNone {
		saves.WithLabelValues(m.appID, id.UnitType, resultSkipped).Inc()
		return
	}
	state, version, err := inst.Snapshot()
	if err == nil {
		var data []byte
		data, err = EncodeRecord(&Record{
			AppID:    id.AppID,
			UnitType: id.UnitType,
			Key:      id.Key,
			Version:  version,
			State:    state,
		})
		if err == nil {
			m.enqueue(inst, &saveRequest{id: id, version: version, data: data, callback: callback})
			return
		}
	}
	inst.MarkDirty()
	saves.WithLabelValues(m.appID, id.UnitType, resultEncode).Inc()
	m.log.Errorw("Failed to serialize the instance state", zap.String("id", id.String()), zap.Error(err))
	if callback != nil {
		callback(id, version, fmt.Errorf("failed to serialize the state of %s, %w", id, err))
	}
}

func (m *Manager) enqueue(inst *unit.Instance, req *saveRequest) {
	m.lifecycle.RLock()
	defer m.lifecycle.RUnlock()
	var err error
	if m.closed {
		err = ErrManagerClosed
	} else {
		m.pendingLock.Lock()
		prev, hadPrev := m.pending[req.id]
		m.pending[req.id] = req
		m.pendingLock.Unlock()
		select {
		case m.queues[m.shuffle.PartitionFor(req.id.Encode())] <- req:
			pendingSaves.WithLabelValues(m.appID).Inc()
			return
		default:
			m.pendingLock.Lock()
			if m.pending[req.id] == req {
				if hadPrev {
					m.pending[req.id] = prev
				} else {
					delete(m.pending, req.id)
				}
			}
			m.pendingLock.Unlock()
			err = ErrQueueFull
		}
	}
	// the state was not handed over, it stays unsaved
	inst.MarkDirty()
	saves.WithLabelValues(m.appID, req.id.UnitType, resultRejected).Inc()
	m.log.Warnw("Checkpoint rejected", zap.String("id", req.id.String()), zap.Error(err))
	if req.callback != nil {
		req.callback(req.id, req.version, err)
	}
}

func (m *Manager) storageWorker(queue <-chan *saveRequest) {
	defer m.wg.Done()
	for req := range queue {
		err := m.save(req)
		m.pendingLock.Lock()
		if m.pending[req.id] == req {
			delete(m.pending, req.id)
		}
		m.pendingLock.Unlock()
		pendingSaves.WithLabelValues(m.appID).Dec()
		if err != nil {
			saves.WithLabelValues(m.appID, req.id.UnitType, resultFailure).Inc()
			m.log.Errorw("Failed to save checkpoint", zap.String("id", req.id.String()), zap.Uint64("version", req.version), zap.Error(err))
		} else {
			saves.WithLabelValues(m.appID, req.id.UnitType, resultSuccess).Inc()
		}
		if req.callback != nil {
			req.callback(req.id, req.version, err)
		}
	}
}

func (m *Manager) save(req *saveRequest) error {
	start := time.Now()
	defer func() {
		saveDuration.WithLabelValues(m.appID).Observe(time.Since(start).Seconds())
	}()
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.saveTimeout)
	defer cancel()
	var lastErr error
	err := wait.ExponentialBackoffWithContext(ctx, m.opts.saveBackoff, func(ctx context.Context) (bool, error) {
		if lastErr = m.store.Save(ctx, req.id, req.data); lastErr != nil {
			if errors.Is(lastErr, store.ErrStoreClosed) {
				return false, lastErr
			}
			m.log.Warnw("Checkpoint save attempt failed, retrying", zap.String("id", req.id.String()), zap.Error(lastErr))
			return false, nil
		}
		return true, nil
	})
	if err != nil && lastErr != nil {
		return lastErr
	}
	return err
}

// Recover implements registry.Recoverer.
func (m *Manager) Recover(ctx context.Context, inst *unit.Instance) {
	_ = m.Restore(ctx, inst)
}

// Restore fetches the checkpoint of inst and installs it. The caller holds the instance lock. Every
// outcome but Restored leaves the state untouched.
func (m *Manager) Restore(ctx context.Context, inst *unit.Instance) Outcome {
	start := time.Now()
	id := m.idOf(inst)
	outcome := m.restore(ctx, inst, id)
	recoveries.WithLabelValues(m.appID, id.UnitType, outcome.String()).Inc()
	recoveryDuration.WithLabelValues(m.appID).Observe(time.Since(start).Seconds())
	return outcome
}

func (m *Manager) restore(ctx context.Context, inst *unit.Instance, id store.ID) Outcome {
	if inst.Type().Options().Mode() == unit.CheckpointNone {
		return Skipped
	}
	m.pendingLock.Lock()
	req, ok := m.pending[id]
	m.pendingLock.Unlock()
	if ok {
		return m.apply(inst, id, req.data)
	}
	if m.fetchDisabled() {
		return Disabled
	}
	fetchCtx, cancel := context.WithTimeout(ctx, m.opts.recoveryTimeout)
	defer cancel()
	data, err := m.fetch(fetchCtx, id)
	switch {
	case err == nil:
		m.failures.Store(0)
		return m.apply(inst, id, data)
	case errors.Is(err, store.ErrNotFound):
		m.failures.Store(0)
		return NotFound
	case errors.Is(fetchCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		m.fetchFailed()
		m.log.Warnw("Checkpoint fetch timed out, starting fresh", zap.String("id", id.String()), zap.Duration("timeout", m.opts.recoveryTimeout))
		return TimedOut
	case ctx.Err() != nil:
		// the caller gave up, the store is not at fault
		m.log.Infow("Checkpoint fetch abandoned, starting fresh", zap.String("id", id.String()), zap.Error(ctx.Err()))
		return Failed
	default:
		m.fetchFailed()
		m.log.Warnw("Checkpoint fetch failed, starting fresh", zap.String("id", id.String()), zap.Error(err))
		return Failed
	}
}

// fetch returns as soon as ctx is done. An abandoned fetch keeps its semaphore slot until the store
// returns, which bounds the number of stuck fetches.
func (m *Manager) fetch(ctx context.Context, id store.ID) ([]byte, error) {
	if err := m.fetches.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		defer m.fetches.Release(1)
		data, err := m.store.Fetch(ctx, id)
		ch <- result{data: data, err: err}
	}()
	select {
	case r := <-ch:
		return r.data, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) apply(inst *unit.Instance, id store.ID, data []byte) Outcome {
	rec, err := DecodeRecord(data, id)
	if err != nil {
		m.log.Errorw("Discarding checkpoint", zap.String("id", id.String()), zap.Error(err))
		return Corrupt
	}
	state, err := inst.Type().DecodeState(rec.State)
	if err != nil {
		m.log.Errorw("Discarding checkpoint with undecodable state", zap.String("id", id.String()), zap.Error(err))
		return Corrupt
	}
	inst.Restore(state, rec.Version)
	return Restored
}

func (m *Manager) fetchDisabled() bool {
	until := m.disabledUntil.Load()
	if until == 0 {
		return false
	}
	if m.opts.clock().UnixNano() < until {
		return true
	}
	if m.disabledUntil.CompareAndSwap(until, 0) {
		m.failures.Store(0)
		fetchDisabled.WithLabelValues(m.appID).Set(0)
		m.log.Infow("Checkpoint fetching enabled again")
	}
	return false
}

func (m *Manager) fetchFailed() {
	limit := m.opts.maxConsecutiveFetchFailures
	if n := m.failures.Inc(); limit == 0 || int(n) < limit {
		return
	}
	until := m.opts.clock().Add(m.opts.fetchDisabledDuration).UnixNano()
	if m.disabledUntil.CompareAndSwap(0, until) {
		fetchDisabled.WithLabelValues(m.appID).Set(1)
		m.log.Errorw("Too many consecutive checkpoint fetch failures, fetching is disabled",
			zap.Int("failures", limit), zap.Duration("duration", m.opts.fetchDisabledDuration))
	}
}

// Fetch returns the stored checkpoint of id.
func (m *Manager) Fetch(ctx context.Context, id store.ID) (*Record, error) {
	data, err := m.store.Fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	return DecodeRecord(data, id)
}

// ListCheckpoints returns the ids of the stored checkpoints of the application.
func (m *Manager) ListCheckpoints(ctx context.Context) ([]store.ID, error) {
	return m.store.ListKeys(ctx, m.appID)
}

// Close persists the queued saves, stops the workers and closes the store.
func (m *Manager) Close() error {
	m.lifecycle.Lock()
	if m.closed {
		m.lifecycle.Unlock()
		return nil
	}
	m.closed = true
	for _, q := range m.queues {
		close(q)
	}
	m.lifecycle.Unlock()
	m.wg.Wait()
	return m.store.Close()
}

func (m *Manager) idOf(inst *unit.Instance) store.ID {
	return store.ID{AppID: m.appID, UnitType: inst.Type().Name(), Key: inst.Key()}
}
