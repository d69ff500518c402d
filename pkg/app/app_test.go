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

package app

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/goleak"

	"github.com/numaproj/keyflow/pkg/checkpoint/store/memory"
	"github.com/numaproj/keyflow/pkg/event"
	"github.com/numaproj/keyflow/pkg/keyed"
	"github.com/numaproj/keyflow/pkg/shuffle"
	"github.com/numaproj/keyflow/pkg/transport/loopback"
	"github.com/numaproj/keyflow/pkg/unit"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type countState struct {
	Count int `json:"count"`
}

func newEvents() *event.Registry {
	events := event.NewRegistry()
	events.MustRegister("Word", "", nil)
	return events
}

func word(w string) event.Event {
	return event.NewGeneric("Word").Put("word", w)
}

func counterDef() unit.Definition {
	return unit.Definition{
		Name:     "Counter",
		NewState: func() any { return &countState{} },
		Handlers: []unit.Handler{{EventType: "Word", Fn: func(c *unit.Context, _ event.Event) error {
			unit.StateOf[*countState](c).Count++
			return nil
		}}},
	}
}

func countOf(t *testing.T, a *App, key string) int {
	t.Helper()
	c, ok := a.Registry().Cache("Counter")
	require.True(t, ok)
	inst, ok := c.Get(key)
	if !ok {
		return -1
	}
	inst.Lock()
	defer inst.Unlock()
	return inst.State().(*countState).Count
}

func TestBuild_Validation(t *testing.T) {
	finder := keyed.AttributeFinder("word")
	tests := []struct {
		name    string
		builder *Builder
		opts    []Option
	}{
		{"empty id", NewBuilder("", newEvents()).AddUnit(counterDef()), nil},
		{"no units", NewBuilder("a", newEvents()), nil},
		{"duplicate unit", NewBuilder("a", newEvents()).AddUnit(counterDef()).AddUnit(counterDef()), nil},
		{"duplicate stream", NewBuilder("a", newEvents()).AddUnit(counterDef()).
			AddStream("words", finder, "Counter").AddStream("words", finder, "Counter"), nil},
		{"no target", NewBuilder("a", newEvents()).AddUnit(counterDef()).AddStream("words", finder), nil},
		{"unknown target", NewBuilder("a", newEvents()).AddUnit(counterDef()).AddStream("words", finder, "Nope"), nil},
		{"target twice", NewBuilder("a", newEvents()).AddUnit(counterDef()).AddStream("words", finder, "Counter", "Counter"), nil},
		{"invalid unit policy", NewBuilder("a", newEvents()).AddUnit(counterDef(), unit.WithCheckpointing(unit.CheckpointCount, 0, 0)), nil},
		{"invalid schedule", NewBuilder("a", newEvents()).AddUnit(counterDef()), []Option{WithEvictionSchedule("every now and then")}},
		{"invalid overrides", NewBuilder("a", newEvents()).AddUnit(counterDef()), []Option{WithUnitOverrides(func(string) ([]unit.Option, error) {
			return nil, fmt.Errorf("broken")
		})}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := tt.builder.Build(context.Background(), tt.opts...)
			assert.Error(t, err)
			assert.Nil(t, a)
		})
	}
}

func TestApp_Lifecycle(t *testing.T) {
	ctx := context.Background()
	a, err := NewBuilder("wc", newEvents()).
		AddUnit(counterDef()).
		AddStream("words", keyed.AttributeFinder("word"), "Counter").
		Build(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, a.RunID())
	assert.Error(t, a.IsHealthy(ctx))

	require.NoError(t, a.Start(ctx))
	assert.Error(t, a.Start(ctx))
	assert.NoError(t, a.IsHealthy(ctx))

	for _, w := range []string{"to", "be", "to"} {
		require.NoError(t, a.Put(ctx, "words", word(w)))
	}
	assert.ErrorIs(t, a.Emit(ctx, "sentences", word("x")), ErrUnknownStream)
	assert.Eventually(t, func() bool {
		return countOf(t, a, "to") == 2 && countOf(t, a, "be") == 1
	}, 5*time.Second, 10*time.Millisecond)

	r, ok := a.Router("words")
	require.True(t, ok)
	assert.True(t, r.Running())

	require.NoError(t, a.Stop())
	require.NoError(t, a.Stop())
	assert.Error(t, a.IsHealthy(ctx))
	assert.Equal(t, 0, a.Registry().Len())
}

func TestApp_StopWithoutStart(t *testing.T) {
	a, err := NewBuilder("wc", newEvents()).AddUnit(counterDef()).Build(context.Background())
	require.NoError(t, err)
	assert.NoError(t, a.Stop())
	assert.Error(t, a.Start(context.Background()))
}

func TestApp_RecoversAfterRestart(t *testing.T) {
	ctx := context.Background()
	st := memory.NewMemoryStore()
	build := func() *App {
		a, err := NewBuilder("counter", newEvents()).
			AddUnit(counterDef(), unit.WithCheckpointing(unit.CheckpointCount, 1, 0)).
			AddStream("words", keyed.AttributeFinder("word"), "Counter").
			Build(ctx, WithStateStore(st))
		require.NoError(t, err)
		require.NoError(t, a.Start(ctx))
		return a
	}

	first := build()
	require.NoError(t, first.Put(ctx, "words", word("333")))
	assert.Eventually(t, func() bool { return countOf(t, first, "333") == 1 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, first.Stop())

	second := build()
	defer func() { _ = second.Stop() }()
	inst, err := second.Registry().GetOrCreate(ctx, "Counter", "333")
	require.NoError(t, err)
	inst.Lock()
	assert.Equal(t, 1, inst.State().(*countState).Count)
	inst.Unlock()

	require.NoError(t, second.Put(ctx, "words", word("333")))
	assert.Eventually(t, func() bool { return countOf(t, second, "333") == 2 }, 5*time.Second, 10*time.Millisecond)
}

func TestApp_TimerOnlyUnit(t *testing.T) {
	ctx := context.Background()
	ticks := atomic.NewInt32(0)
	a, err := NewBuilder("clock", newEvents()).
		AddUnit(unit.Definition{
			Name:     "Clock",
			NewState: func() any { return &countState{} },
			OnTime: func(c *unit.Context) error {
				unit.StateOf[*countState](c).Count++
				ticks.Inc()
				return nil
			},
		}, unit.AsSingleton(), unit.WithTimerInterval(10*time.Millisecond)).
		Build(ctx)
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))
	assert.NoError(t, a.IsHealthy(ctx))
	assert.Eventually(t, func() bool { return ticks.Load() >= 3 }, 5*time.Second, 10*time.Millisecond)
	c, ok := a.Registry().Cache("Clock")
	require.True(t, ok)
	assert.Equal(t, 1, c.Len())
	require.NoError(t, a.Stop())
}

func TestApp_ScheduledEviction(t *testing.T) {
	ctx := context.Background()
	var lock sync.Mutex
	now := time.Now()
	clock := func() time.Time {
		lock.Lock()
		defer lock.Unlock()
		return now
	}
	a, err := NewBuilder("wc", newEvents()).
		AddUnit(counterDef(), unit.WithTTL(time.Minute)).
		AddStream("words", keyed.AttributeFinder("word"), "Counter").
		Build(ctx, WithClock(clock), WithEvictionSchedule("@every 1s"))
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))
	defer func() { _ = a.Stop() }()

	require.NoError(t, a.Put(ctx, "words", word("to")))
	assert.Eventually(t, func() bool { return countOf(t, a, "to") == 1 }, 5*time.Second, 10*time.Millisecond)
	lock.Lock()
	now = now.Add(time.Hour)
	lock.Unlock()
	assert.Eventually(t, func() bool { return a.Registry().Len() == 0 }, 5*time.Second, 50*time.Millisecond)
}

func TestApp_UnitOverrides(t *testing.T) {
	a, err := NewBuilder("wc", newEvents()).
		AddUnit(counterDef(), unit.WithMaxInstances(10)).
		Build(context.Background(), WithUnitOverrides(func(name string) ([]unit.Option, error) {
			if name == "Counter" {
				return []unit.Option{unit.WithMaxInstances(2)}, nil
			}
			return nil, nil
		}))
	require.NoError(t, err)
	defer func() { _ = a.Stop() }()
	c, ok := a.Registry().Cache("Counter")
	require.True(t, ok)
	assert.Equal(t, 2, c.Type().Options().MaxInstances)
}

func TestApp_RemoteDelivery(t *testing.T) {
	ctx := context.Background()
	network, err := loopback.NewNetwork(2, 100)
	require.NoError(t, err)
	apps := make([]*App, 2)
	for i := range apps {
		ep, err := network.Endpoint(i)
		require.NoError(t, err)
		apps[i], err = NewBuilder("wc", newEvents()).
			AddUnit(counterDef()).
			AddStream("words", keyed.AttributeFinder("word"), "Counter").
			Build(ctx, WithTransport(ep))
		require.NoError(t, err)
		require.NoError(t, apps[i].Start(ctx))
	}
	defer func() {
		for _, a := range apps {
			_ = a.Stop()
		}
	}()

	s, err := shuffle.NewShuffle(2)
	require.NoError(t, err)
	remote := ""
	for i := 0; remote == ""; i++ {
		if k := fmt.Sprintf("w%d", i); s.PartitionFor(k) == 1 {
			remote = k
		}
	}
	require.NoError(t, apps[0].Put(ctx, "words", word(remote)))
	assert.Eventually(t, func() bool { return countOf(t, apps[1], remote) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, -1, countOf(t, apps[0], remote))
}

// idleTransport never receives anything and returns at once.
type idleTransport struct {
	receives atomic.Int32
}

func (t *idleTransport) Send(context.Context, int, []byte) bool { return false }

func (t *idleTransport) Receive(context.Context) ([]byte, error) {
	t.receives.Inc()
	return nil, nil
}

func (t *idleTransport) PartitionCount() int { return 1 }

func (t *idleTransport) LocalPartition() int { return 0 }

func (t *idleTransport) Close() error { return nil }

func TestApp_EmptyReceivesArePaced(t *testing.T) {
	ctx := context.Background()
	tr := &idleTransport{}
	a, err := NewBuilder("wc", newEvents()).
		AddUnit(counterDef()).
		AddStream("words", keyed.AttributeFinder("word"), "Counter").
		Build(ctx, WithTransport(tr))
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))
	time.Sleep(3 * receiveErrorPause)
	require.NoError(t, a.Stop())
	assert.Positive(t, tr.receives.Load())
	assert.LessOrEqual(t, tr.receives.Load(), int32(5))
}
