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
Package unit defines the keyed processing units of an application.

A unit type is declared once with a Definition: a state constructor, handlers bound to event types,
optional trigger handlers and timer callback, and its policies. The runtime creates one Instance of the
type per distinct routing key and calls the handlers with the instance lock held.
*/
package unit

import (
	"fmt"
	"reflect"
	"time"

	"github.com/numaproj/keyflow/pkg/dispatch"
	"github.com/numaproj/keyflow/pkg/event"
)

// HandlerFunc processes one event for one instance.
type HandlerFunc func(c *Context, e event.Event) error

// TimerFunc runs periodically for every live instance of a type.
type TimerFunc func(c *Context) error

// Handler binds a HandlerFunc to an event type and its subtypes.
type Handler struct {
	EventType string
	Fn        HandlerFunc
}

// Definition declares a unit type.
type Definition struct {
	Name string
	// NewState returns the initial state of a new instance, it must be a pointer.
	NewState func() any
	// Codec serializes state for checkpoints, JSONCodec when nil.
	Codec    StateCodec
	Handlers []Handler
	Triggers []Handler
	OnTime   TimerFunc
	// OnCreate runs once when an instance is created, after recovery.
	OnCreate func(inst *Instance)
	// OnRemove runs once when an instance is evicted or removed.
	OnRemove func(inst *Instance)
	Options  Options
}

// Type is a validated unit type. It is immutable and safe for concurrent use.
type Type struct {
	def         Definition
	registry    *event.Registry
	opts        Options
	codec       StateCodec
	handlers    *dispatch.Table[HandlerFunc]
	triggers    *dispatch.Table[HandlerFunc]
	triggerType *event.Type
}

// NewType validates def against the application's event registry. Options override def.Options.
func NewType(def Definition, registry *event.Registry, opts ...Option) (*Type, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("unit type name can not be empty")
	}
	if def.NewState == nil {
		return nil, fmt.Errorf("unit type %q has no state constructor", def.Name)
	}
	if s := def.NewState(); s == nil || reflect.ValueOf(s).Kind() != reflect.Pointer {
		return nil, fmt.Errorf("state of unit type %q should be a pointer, got %T", def.Name, s)
	}
	if len(def.Handlers) == 0 && def.OnTime == nil {
		return nil, fmt.Errorf("unit type %q has neither handlers nor a timer callback", def.Name)
	}
	t := &Type{
		def:      def,
		registry: registry,
		opts:     def.Options,
		codec:    def.Codec,
		handlers: dispatch.NewTable[HandlerFunc](registry),
		triggers: dispatch.NewTable[HandlerFunc](registry),
	}
	for _, opt := range opts {
		opt(&t.opts)
	}
	if err := t.opts.Validate(); err != nil {
		return nil, fmt.Errorf("unit type %q, %w", def.Name, err)
	}
	if t.opts.TimerInterval > 0 && def.OnTime == nil {
		return nil, fmt.Errorf("unit type %q has a timer interval but no timer callback", def.Name)
	}
	if t.codec == nil {
		t.codec = JSONCodec{}
	}
	for _, h := range def.Handlers {
		if h.Fn == nil {
			return nil, fmt.Errorf("unit type %q has a nil handler for %q", def.Name, h.EventType)
		}
		if err := t.handlers.Add(h.EventType, h.Fn); err != nil {
			return nil, fmt.Errorf("unit type %q, %w", def.Name, err)
		}
	}
	for _, h := range def.Triggers {
		if h.Fn == nil {
			return nil, fmt.Errorf("unit type %q has a nil trigger handler for %q", def.Name, h.EventType)
		}
		if err := t.triggers.Add(h.EventType, h.Fn); err != nil {
			return nil, fmt.Errorf("unit type %q, %w", def.Name, err)
		}
	}
	if t.opts.TriggerEventType != "" {
		tt, ok := registry.Lookup(t.opts.TriggerEventType)
		if !ok {
			return nil, fmt.Errorf("unit type %q, trigger %w: %q", def.Name, event.ErrUnknownType, t.opts.TriggerEventType)
		}
		t.triggerType = tt
	}
	return t, nil
}

// Name returns the unit type name.
func (t *Type) Name() string {
	return t.def.Name
}

// Options returns the effective policies.
func (t *Type) Options() Options {
	return t.opts
}

// HasHandlers reports whether the type handles events.
func (t *Type) HasHandlers() bool {
	return t.handlers.Len() > 0
}

// HasTimer reports whether the type has a periodic callback.
func (t *Type) HasTimer() bool {
	return t.def.OnTime != nil && t.opts.TimerInterval > 0
}

// NewInstance creates an instance with the initial state. It does not run OnCreate.
func (t *Type) NewInstance(key string, now time.Time) *Instance {
	inst := &Instance{
		typ:       t,
		key:       key,
		state:     t.def.NewState(),
		createdAt: now,
	}
	inst.lastAccess.Store(now.UnixNano())
	inst.trigger.lastFired = now
	return inst
}

// Created runs the OnCreate hook.
func (t *Type) Created(inst *Instance) {
	if t.def.OnCreate != nil {
		t.def.OnCreate(inst)
	}
}

// Removed runs the OnRemove hook.
func (t *Type) Removed(inst *Instance) {
	if t.def.OnRemove != nil {
		t.def.OnRemove(inst)
	}
}

// Dispatch calls the most specific handler for e. The caller holds the instance lock.
func (t *Type) Dispatch(c *Context, e event.Event) error {
	h, _, err := t.handlers.Resolve(e)
	if err != nil {
		return err
	}
	c.inst.processed++
	c.inst.dirty = true
	c.inst.sinceCheckpoint++
	return h(c, e)
}

// Trigger evaluates the trigger rules for e and calls the matching trigger handler when they fire.
// The caller holds the instance lock.
func (t *Type) Trigger(c *Context, e event.Event, now time.Time) (bool, error) {
	if t.triggers.Len() == 0 || (t.opts.TriggerEventCount == 0 && t.opts.TriggerInterval == 0) {
		return false, nil
	}
	if t.triggerType != nil && !t.registry.TypeOf(e).IsA(t.triggerType) {
		return false, nil
	}
	ts := &c.inst.trigger
	ts.count++
	fire := (t.opts.TriggerEventCount > 0 && ts.count >= t.opts.TriggerEventCount) ||
		(t.opts.TriggerInterval > 0 && now.Sub(ts.lastFired) >= t.opts.TriggerInterval)
	if !fire {
		return false, nil
	}
	ts.count = 0
	ts.lastFired = now
	h, _, err := t.triggers.Resolve(e)
	if err != nil {
		return false, err
	}
	return true, h(c, e)
}

// Tick runs the timer callback, the state is considered changed. The caller holds the instance lock.
func (t *Type) Tick(c *Context) error {
	if t.def.OnTime == nil {
		return nil
	}
	c.inst.dirty = true
	return t.def.OnTime(c)
}

// EncodeState serializes the state of inst.
func (t *Type) EncodeState(inst *Instance) ([]byte, error) {
	return t.codec.Encode(inst.state)
}

// DecodeState deserializes data into a fresh state value, leaving any existing instance untouched.
func (t *Type) DecodeState(data []byte) (any, error) {
	s := t.def.NewState()
	if err := t.codec.Decode(data, s); err != nil {
		return nil, err
	}
	return s, nil
}
