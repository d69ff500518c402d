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

package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/goleak"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/numaproj/keyflow/pkg/checkpoint/store"
	"github.com/numaproj/keyflow/pkg/checkpoint/store/memory"
	"github.com/numaproj/keyflow/pkg/event"
	"github.com/numaproj/keyflow/pkg/unit"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type countState struct {
	Count int `json:"count"`
}

func newCounterType(t *testing.T, opts ...unit.Option) *unit.Type {
	t.Helper()
	if len(opts) == 0 {
		opts = []unit.Option{unit.WithCheckpointing(unit.CheckpointCount, 1, 0)}
	}
	typ, err := unit.NewType(unit.Definition{
		Name:     "Counter",
		NewState: func() any { return &countState{} },
		Handlers: []unit.Handler{{EventType: event.RootType, Fn: func(c *unit.Context, _ event.Event) error {
			unit.StateOf[*countState](c).Count++
			return nil
		}}},
	}, event.NewRegistry(), opts...)
	require.NoError(t, err)
	return typ
}

// hookStore wraps a memory store, the hooks replace the matching calls when set.
type hookStore struct {
	store.StateStore
	onSave  func(ctx context.Context, id store.ID, data []byte) error
	onFetch func(ctx context.Context, id store.ID) ([]byte, error)
	fetches atomic.Int32
	saves   atomic.Int32
}

func newHookStore() *hookStore {
	return &hookStore{StateStore: memory.NewMemoryStore()}
}

func (h *hookStore) Save(ctx context.Context, id store.ID, data []byte) error {
	h.saves.Inc()
	if h.onSave != nil {
		if err := h.onSave(ctx, id, data); err != nil {
			return err
		}
	}
	return h.StateStore.Save(ctx, id, data)
}

func (h *hookStore) Fetch(ctx context.Context, id store.ID) ([]byte, error) {
	h.fetches.Inc()
	if h.onFetch != nil {
		return h.onFetch(ctx, id)
	}
	return h.StateStore.Fetch(ctx, id)
}

func newTestManager(t *testing.T, s store.StateStore, opts ...Option) *Manager {
	t.Helper()
	m, err := NewManager(context.Background(), "counter", s, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

// checkpointAndWait checkpoints inst and waits for the save result.
func checkpointAndWait(t *testing.T, m *Manager, inst *unit.Instance) error {
	t.Helper()
	done := make(chan error, 1)
	inst.Lock()
	m.CheckpointWithCallback(inst, func(_ store.ID, _ uint64, err error) { done <- err })
	inst.Unlock()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("checkpoint was not reported")
		return nil
	}
}

func process(t *testing.T, inst *unit.Instance, n int) {
	t.Helper()
	inst.Lock()
	defer inst.Unlock()
	for i := 0; i < n; i++ {
		require.NoError(t, inst.Type().Dispatch(unit.NewContext(context.Background(), inst, nil, nil), event.NewGeneric("Tick")))
	}
}

func TestManager_CheckpointAndRestore(t *testing.T) {
	typ := newCounterType(t)
	m := newTestManager(t, memory.NewMemoryStore())
	ctx := context.Background()

	inst := typ.NewInstance("333", time.Now())
	process(t, inst, 1)
	require.NoError(t, checkpointAndWait(t, m, inst))
	assert.False(t, inst.Dirty())
	assert.Equal(t, uint64(1), inst.Version())

	// simulate a restart
	fresh := typ.NewInstance("333", time.Now())
	fresh.Lock()
	assert.Equal(t, Restored, m.Restore(ctx, fresh))
	fresh.Unlock()
	assert.Equal(t, 1, fresh.State().(*countState).Count)
	assert.Equal(t, uint64(1), fresh.Version())

	ids, err := m.ListCheckpoints(ctx)
	require.NoError(t, err)
	assert.Equal(t, []store.ID{{AppID: "counter", UnitType: "Counter", Key: "333"}}, ids)
	rec, err := m.Fetch(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.Version)
}

func TestManager_RestoreNotFound(t *testing.T) {
	m := newTestManager(t, memory.NewMemoryStore())
	inst := newCounterType(t).NewInstance("new", time.Now())
	assert.Equal(t, NotFound, m.Restore(context.Background(), inst))
	assert.Equal(t, 0, inst.State().(*countState).Count)
}

func TestManager_SkippedWithoutCheckpointing(t *testing.T) {
	s := newHookStore()
	m := newTestManager(t, s)
	typ := newCounterType(t, unit.WithCheckpointing(unit.CheckpointNone, 0, 0))
	inst := typ.NewInstance("k", time.Now())
	assert.Equal(t, Skipped, m.Restore(context.Background(), inst))
	process(t, inst, 1)
	inst.Lock()
	m.Checkpoint(inst)
	inst.Unlock()
	require.NoError(t, m.Close())
	assert.Equal(t, int32(0), s.fetches.Load())
	assert.Equal(t, int32(0), s.saves.Load())
}

func TestManager_RestoreTimeout(t *testing.T) {
	s := newHookStore()
	s.onFetch = func(ctx context.Context, _ store.ID) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	m := newTestManager(t, s, WithRecoveryTimeout(50*time.Millisecond))
	inst := newCounterType(t).NewInstance("slow", time.Now())

	start := time.Now()
	assert.Equal(t, TimedOut, m.Restore(context.Background(), inst))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 0, inst.State().(*countState).Count)
}

func TestManager_FetchBreaker(t *testing.T) {
	now := time.Unix(1000, 0)
	var clockLock sync.Mutex
	clock := func() time.Time {
		clockLock.Lock()
		defer clockLock.Unlock()
		return now
	}
	s := newHookStore()
	s.onFetch = func(context.Context, store.ID) ([]byte, error) {
		return nil, errors.New("connection refused")
	}
	m := newTestManager(t, s, WithFetchBreaker(3, time.Minute), WithClock(clock))
	typ := newCounterType(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.Equal(t, Failed, m.Restore(ctx, typ.NewInstance(fmt.Sprint(i), now)))
	}
	assert.Equal(t, Disabled, m.Restore(ctx, typ.NewInstance("x", now)))
	assert.Equal(t, int32(3), s.fetches.Load())

	clockLock.Lock()
	now = now.Add(2 * time.Minute)
	clockLock.Unlock()
	s.onFetch = nil
	assert.Equal(t, NotFound, m.Restore(ctx, typ.NewInstance("x", now)))
	assert.Equal(t, int32(4), s.fetches.Load())
}

func TestManager_CancelledRestoreDoesNotTripBreaker(t *testing.T) {
	s := newHookStore()
	s.onFetch = func(ctx context.Context, _ store.ID) ([]byte, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, store.ErrNotFound
	}
	m := newTestManager(t, s, WithFetchBreaker(1, time.Minute))
	typ := newCounterType(t)

	cctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 3; i++ {
		assert.Equal(t, Failed, m.Restore(cctx, typ.NewInstance(fmt.Sprint(i), time.Now())))
	}
	assert.Equal(t, NotFound, m.Restore(context.Background(), typ.NewInstance("x", time.Now())))
}

func TestManager_RestoreCorrupt(t *testing.T) {
	s := memory.NewMemoryStore()
	m := newTestManager(t, s)
	typ := newCounterType(t)
	ctx := context.Background()

	id := store.ID{AppID: "counter", UnitType: "Counter", Key: "bad"}
	require.NoError(t, s.Save(ctx, id, []byte("garbage")))
	inst := typ.NewInstance("bad", time.Now())
	assert.Equal(t, Corrupt, m.Restore(ctx, inst))
	assert.Equal(t, 0, inst.State().(*countState).Count)

	// intact record with a state the codec can not decode
	data, err := EncodeRecord(&Record{AppID: "counter", UnitType: "Counter", Key: "bad", Version: 1, State: []byte(`{"count":"x"}`)})
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, id, data))
	assert.Equal(t, Corrupt, m.Restore(ctx, inst))
	assert.Equal(t, 0, inst.State().(*countState).Count)
}

func TestManager_RestoreSeesPendingSave(t *testing.T) {
	release := make(chan struct{})
	s := newHookStore()
	s.onSave = func(context.Context, store.ID, []byte) error {
		<-release
		return nil
	}
	m := newTestManager(t, s, WithSaveTimeout(10*time.Second))
	typ := newCounterType(t)

	inst := typ.NewInstance("333", time.Now())
	process(t, inst, 2)
	done := make(chan error, 1)
	inst.Lock()
	m.CheckpointWithCallback(inst, func(_ store.ID, _ uint64, err error) { done <- err })
	inst.Unlock()

	fresh := typ.NewInstance("333", time.Now())
	assert.Equal(t, Restored, m.Restore(context.Background(), fresh))
	assert.Equal(t, 2, fresh.State().(*countState).Count)
	assert.Equal(t, int32(0), s.fetches.Load())

	close(release)
	require.NoError(t, <-done)
}

func TestManager_QueueFullRejects(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	s := newHookStore()
	s.onSave = func(context.Context, store.ID, []byte) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	}
	m := newTestManager(t, s, WithWorkers(1, 1), WithSaveTimeout(10*time.Second))
	typ := newCounterType(t)
	results := make(chan error, 3)
	cb := func(_ store.ID, _ uint64, err error) { results <- err }

	a := typ.NewInstance("a", time.Now())
	process(t, a, 1)
	a.Lock()
	m.CheckpointWithCallback(a, cb)
	a.Unlock()
	<-started

	b := typ.NewInstance("b", time.Now())
	process(t, b, 1)
	b.Lock()
	m.CheckpointWithCallback(b, cb)
	b.Unlock()

	c := typ.NewInstance("c", time.Now())
	process(t, c, 1)
	c.Lock()
	m.CheckpointWithCallback(c, cb)
	assert.True(t, c.Dirty())
	c.Unlock()
	assert.ErrorIs(t, <-results, ErrQueueFull)

	close(release)
	assert.NoError(t, <-results)
	assert.NoError(t, <-results)
}

func TestManager_SaveRetries(t *testing.T) {
	s := newHookStore()
	var attempts atomic.Int32
	s.onSave = func(context.Context, store.ID, []byte) error {
		if attempts.Inc() < 3 {
			return errors.New("try again")
		}
		return nil
	}
	m := newTestManager(t, s, WithSaveBackoff(wait.Backoff{Steps: 3, Duration: time.Millisecond, Factor: 1}))
	inst := newCounterType(t).NewInstance("k", time.Now())
	process(t, inst, 1)
	require.NoError(t, checkpointAndWait(t, m, inst))
	assert.Equal(t, int32(3), attempts.Load())

	attempts.Store(-10)
	process(t, inst, 1)
	assert.Error(t, checkpointAndWait(t, m, inst))
}

func TestManager_SavesOfOneKeyKeepTheirOrder(t *testing.T) {
	s := memory.NewMemoryStore()
	m, err := NewManager(context.Background(), "counter", s, WithWorkers(4, 100))
	require.NoError(t, err)
	typ := newCounterType(t)
	inst := typ.NewInstance("333", time.Now())
	for i := 0; i < 50; i++ {
		process(t, inst, 1)
		inst.Lock()
		m.Checkpoint(inst)
		inst.Unlock()
	}
	require.NoError(t, m.Close())

	data, err := s.Fetch(context.Background(), store.ID{AppID: "counter", UnitType: "Counter", Key: "333"})
	require.NoError(t, err)
	rec, err := DecodeRecord(data, store.ID{AppID: "counter", UnitType: "Counter", Key: "333"})
	require.NoError(t, err)
	assert.Equal(t, uint64(50), rec.Version)
	assert.JSONEq(t, `{"count":50}`, string(rec.State))
}

func TestManager_Closed(t *testing.T) {
	m, err := NewManager(context.Background(), "counter", memory.NewMemoryStore())
	require.NoError(t, err)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	inst := newCounterType(t).NewInstance("k", time.Now())
	process(t, inst, 1)
	var got error
	inst.Lock()
	m.CheckpointWithCallback(inst, func(_ store.ID, _ uint64, err error) { got = err })
	inst.Unlock()
	assert.ErrorIs(t, got, ErrManagerClosed)
	assert.True(t, inst.Dirty())
}

func TestNewManager_BadOptions(t *testing.T) {
	_, err := NewManager(context.Background(), "a", memory.NewMemoryStore(), WithWorkers(0, 1))
	assert.Error(t, err)
	_, err = NewManager(context.Background(), "a", memory.NewMemoryStore(), WithRecoveryTimeout(0))
	assert.Error(t, err)
	_, err = NewManager(context.Background(), "a", memory.NewMemoryStore(), WithClock(nil))
	assert.Error(t, err)
}
