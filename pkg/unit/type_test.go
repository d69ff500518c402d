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

package unit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/numaproj/keyflow/pkg/dispatch"
	"github.com/numaproj/keyflow/pkg/event"
)

type counterState struct {
	Count int `json:"count"`
}

type recordingEmitter struct {
	streams []string
}

func (r *recordingEmitter) Emit(_ context.Context, stream string, _ event.Event) error {
	r.streams = append(r.streams, stream)
	return nil
}

type recordingCheckpointer struct {
	saved []string
}

func (r *recordingCheckpointer) Checkpoint(inst *Instance) {
	r.saved = append(r.saved, inst.Key())
}

func newRegistry() *event.Registry {
	r := event.NewRegistry()
	r.MustRegister("Base", "", nil)
	r.MustRegister("Derived", "Base", nil)
	r.MustRegister("Tick", "", nil)
	return r
}

func countingDefinition(handled *[]string) Definition {
	return Definition{
		Name:     "counter",
		NewState: func() any { return &counterState{} },
		Handlers: []Handler{
			{EventType: "Base", Fn: func(c *Context, e event.Event) error {
				*handled = append(*handled, "Base")
				StateOf[*counterState](c).Count++
				return nil
			}},
			{EventType: "Derived", Fn: func(c *Context, e event.Event) error {
				*handled = append(*handled, "Derived")
				StateOf[*counterState](c).Count += 10
				return nil
			}},
		},
	}
}

func TestNewType_Validation(t *testing.T) {
	r := newRegistry()
	noop := func(*Context, event.Event) error { return nil }
	tests := []struct {
		name string
		def  Definition
		opts []Option
	}{
		{name: "no name", def: Definition{NewState: func() any { return &counterState{} }, Handlers: []Handler{{EventType: "Base", Fn: noop}}}},
		{name: "no state", def: Definition{Name: "x", Handlers: []Handler{{EventType: "Base", Fn: noop}}}},
		{name: "non pointer state", def: Definition{Name: "x", NewState: func() any { return counterState{} }, Handlers: []Handler{{EventType: "Base", Fn: noop}}}},
		{name: "no handlers no timer", def: Definition{Name: "x", NewState: func() any { return &counterState{} }}},
		{name: "unknown event type", def: Definition{Name: "x", NewState: func() any { return &counterState{} }, Handlers: []Handler{{EventType: "Nope", Fn: noop}}}},
		{name: "duplicate handler", def: Definition{Name: "x", NewState: func() any { return &counterState{} }, Handlers: []Handler{{EventType: "Base", Fn: noop}, {EventType: "Base", Fn: noop}}}},
		{name: "nil handler", def: Definition{Name: "x", NewState: func() any { return &counterState{} }, Handlers: []Handler{{EventType: "Base"}}}},
		{name: "bad count policy", def: Definition{Name: "x", NewState: func() any { return &counterState{} }, Handlers: []Handler{{EventType: "Base", Fn: noop}}}, opts: []Option{WithCheckpointing(CheckpointCount, 0, 0)}},
		{name: "bad time policy", def: Definition{Name: "x", NewState: func() any { return &counterState{} }, Handlers: []Handler{{EventType: "Base", Fn: noop}}}, opts: []Option{WithCheckpointing(CheckpointTime, 0, 0)}},
		{name: "negative max", def: Definition{Name: "x", NewState: func() any { return &counterState{} }, Handlers: []Handler{{EventType: "Base", Fn: noop}}}, opts: []Option{WithMaxInstances(-1)}},
		{name: "timer interval without callback", def: Definition{Name: "x", NewState: func() any { return &counterState{} }, Handlers: []Handler{{EventType: "Base", Fn: noop}}}, opts: []Option{WithTimerInterval(time.Second)}},
		{name: "unknown trigger type", def: Definition{Name: "x", NewState: func() any { return &counterState{} }, Handlers: []Handler{{EventType: "Base", Fn: noop}}}, opts: []Option{WithTrigger("Nope", 1, 0)}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := NewType(test.def, r, test.opts...)
			assert.Error(t, err)
		})
	}

	timerOnly, err := NewType(Definition{
		Name:     "ticker",
		NewState: func() any { return &counterState{} },
		OnTime:   func(*Context) error { return nil },
	}, r, WithTimerInterval(time.Second))
	require.NoError(t, err)
	assert.False(t, timerOnly.HasHandlers())
	assert.True(t, timerOnly.HasTimer())
	assert.Equal(t, CheckpointNone, timerOnly.Options().Mode())
}

func TestType_Dispatch(t *testing.T) {
	var handled []string
	typ, err := NewType(countingDefinition(&handled), newRegistry())
	require.NoError(t, err)
	inst := typ.NewInstance("k", time.Now())
	c := NewContext(context.Background(), inst, nil, nil)

	require.NoError(t, typ.Dispatch(c, event.NewGeneric("Base")))
	require.NoError(t, typ.Dispatch(c, event.NewGeneric("Derived")))
	assert.ErrorIs(t, typ.Dispatch(c, event.NewGeneric("Tick")), dispatch.ErrNoMatchingHandler)

	assert.Equal(t, []string{"Base", "Derived"}, handled)
	assert.Equal(t, 11, inst.State().(*counterState).Count)
	assert.Equal(t, uint64(2), inst.Processed())
	assert.True(t, inst.Dirty())
}

func TestType_Trigger(t *testing.T) {
	var fired int
	def := Definition{
		Name:     "trig",
		NewState: func() any { return &counterState{} },
		Handlers: []Handler{{EventType: event.RootType, Fn: func(*Context, event.Event) error { return nil }}},
		Triggers: []Handler{{EventType: event.RootType, Fn: func(*Context, event.Event) error {
			fired++
			return nil
		}}},
	}
	r := newRegistry()

	t.Run("count", func(t *testing.T) {
		fired = 0
		typ, err := NewType(def, r, WithTrigger("", 3, 0))
		require.NoError(t, err)
		now := time.Now()
		inst := typ.NewInstance("k", now)
		c := NewContext(context.Background(), inst, nil, nil)
		for i := 0; i < 7; i++ {
			_, err := typ.Trigger(c, event.NewGeneric("Base"), now)
			require.NoError(t, err)
		}
		assert.Equal(t, 2, fired)
	})

	t.Run("interval", func(t *testing.T) {
		fired = 0
		typ, err := NewType(def, r, WithTrigger("", 0, time.Minute))
		require.NoError(t, err)
		now := time.Now()
		inst := typ.NewInstance("k", now)
		c := NewContext(context.Background(), inst, nil, nil)
		ok, err := typ.Trigger(c, event.NewGeneric("Base"), now.Add(time.Second))
		require.NoError(t, err)
		assert.False(t, ok)
		ok, err = typ.Trigger(c, event.NewGeneric("Base"), now.Add(2*time.Minute))
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 1, fired)
	})

	t.Run("scoped to event type", func(t *testing.T) {
		fired = 0
		typ, err := NewType(def, r, WithTrigger("Base", 1, 0))
		require.NoError(t, err)
		now := time.Now()
		inst := typ.NewInstance("k", now)
		c := NewContext(context.Background(), inst, nil, nil)
		_, _ = typ.Trigger(c, event.NewGeneric("Tick"), now)
		_, _ = typ.Trigger(c, event.NewGeneric("Derived"), now)
		assert.Equal(t, 1, fired)
	})

	t.Run("disabled", func(t *testing.T) {
		fired = 0
		typ, err := NewType(def, r)
		require.NoError(t, err)
		inst := typ.NewInstance("k", time.Now())
		ok, err := typ.Trigger(NewContext(context.Background(), inst, nil, nil), event.NewGeneric("Base"), time.Now())
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, 0, fired)
	})
}

func TestType_StateCodec(t *testing.T) {
	var handled []string
	typ, err := NewType(countingDefinition(&handled), newRegistry(), WithCheckpointing(CheckpointCount, 2, 0))
	require.NoError(t, err)
	inst := typ.NewInstance("k", time.Now())
	inst.State().(*counterState).Count = 5
	inst.sinceCheckpoint = 2
	assert.True(t, inst.CheckpointDue())

	data, version, err := inst.Snapshot()
	require.NoError(t, err)
	assert.JSONEq(t, `{"count":5}`, string(data))
	assert.Equal(t, uint64(1), version)
	assert.False(t, inst.Dirty())
	assert.False(t, inst.CheckpointDue())

	s, err := typ.DecodeState(data)
	require.NoError(t, err)
	fresh := typ.NewInstance("k", time.Now())
	fresh.Restore(s, version)
	assert.Equal(t, 5, fresh.State().(*counterState).Count)
	assert.Equal(t, uint64(1), fresh.Version())

	_, err = typ.DecodeState([]byte("{broken"))
	assert.Error(t, err)
}

func TestContext(t *testing.T) {
	var handled []string
	typ, err := NewType(countingDefinition(&handled), newRegistry())
	require.NoError(t, err)
	inst := typ.NewInstance("k1", time.Now())
	em := &recordingEmitter{}
	cp := &recordingCheckpointer{}
	c := NewContext(context.Background(), inst, em, cp)

	assert.Equal(t, "k1", c.Key())
	require.NoError(t, c.Emit("out", event.NewGeneric("Base")))
	assert.Equal(t, []string{"out"}, em.streams)
	c.Checkpoint()
	assert.Equal(t, []string{"k1"}, cp.saved)
	c.Remove()
	assert.True(t, inst.RemovalRequested())
	c.SetState(&counterState{Count: 3})
	assert.Equal(t, 3, StateOf[*counterState](c).Count)
	assert.NotNil(t, c.Logger())

	noEmit := NewContext(context.Background(), inst, nil, nil)
	assert.Error(t, noEmit.Emit("out", event.NewGeneric("Base")))
	noEmit.Checkpoint()
}

func TestInstance_Lifecycle(t *testing.T) {
	created, removed := 0, 0
	typ, err := NewType(Definition{
		Name:     "life",
		NewState: func() any { return &counterState{} },
		Handlers: []Handler{{EventType: event.RootType, Fn: func(*Context, event.Event) error { return errors.New("boom") }}},
		OnCreate: func(*Instance) { created++ },
		OnRemove: func(*Instance) { removed++ },
	}, newRegistry(), WithTTL(time.Minute))
	require.NoError(t, err)
	now := time.Now()
	inst := typ.NewInstance("k", now)
	typ.Created(inst)
	typ.Removed(inst)
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, removed)

	assert.False(t, inst.Expired(now.Add(30*time.Second), time.Minute))
	assert.True(t, inst.Expired(now.Add(2*time.Minute), time.Minute))
	assert.False(t, inst.Expired(now.Add(time.Hour), 0))
	inst.Touch(now.Add(time.Hour))
	assert.False(t, inst.Expired(now.Add(time.Hour+time.Second), time.Minute))

	assert.False(t, inst.Removed())
	inst.MarkRemoved()
	assert.True(t, inst.Removed())

	assert.Error(t, typ.Dispatch(NewContext(context.Background(), inst, nil, nil), event.NewGeneric("Base")))
}

func TestOptions(t *testing.T) {
	m, err := ParseCheckpointMode("")
	require.NoError(t, err)
	assert.Equal(t, CheckpointNone, m)
	_, err = ParseCheckpointMode("sometimes")
	assert.Error(t, err)

	assert.True(t, Options{CheckpointMode: CheckpointCount, CheckpointFrequency: 1}.CheckpointOnEvict())
	assert.True(t, Options{CheckpointMode: CheckpointTime, CheckpointInterval: time.Second}.CheckpointOnEvict())
	assert.False(t, Options{CheckpointMode: CheckpointExplicit}.CheckpointOnEvict())
	assert.False(t, Options{CheckpointMode: CheckpointCount, CheckpointFrequency: 1, DisableCheckpointOnEvict: true}.CheckpointOnEvict())
	assert.Error(t, Options{TriggerEventCount: -1}.Validate())
	assert.Error(t, Options{TTL: -time.Second}.Validate())
	assert.Error(t, Options{Singleton: true, TTL: time.Minute}.Validate())
	o := Options{}
	AsSingleton()(&o)
	assert.NoError(t, o.Validate())
	assert.True(t, o.Singleton)
}
