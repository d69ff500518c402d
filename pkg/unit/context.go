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
	"fmt"

	"go.uber.org/zap"

	"github.com/numaproj/keyflow/pkg/event"
	"github.com/numaproj/keyflow/pkg/shared/logging"
)

// Emitter puts events on named streams.
type Emitter interface {
	Emit(ctx context.Context, stream string, e event.Event) error
}

// Checkpointer saves the state of an instance. It is called with the instance lock held.
type Checkpointer interface {
	Checkpoint(inst *Instance)
}

// Context is passed to handlers and timer callbacks.
type Context struct {
	context.Context
	inst         *Instance
	emitter      Emitter
	checkpointer Checkpointer
}

// NewContext returns the handler context for inst.
func NewContext(ctx context.Context, inst *Instance, emitter Emitter, checkpointer Checkpointer) *Context {
	return &Context{
		Context:      ctx,
		inst:         inst,
		emitter:      emitter,
		checkpointer: checkpointer,
	}
}

// Instance returns the instance being processed.
func (c *Context) Instance() *Instance {
	return c.inst
}

// Key returns the key of the instance.
func (c *Context) Key() string {
	return c.inst.key
}

// State returns the state of the instance.
func (c *Context) State() any {
	return c.inst.state
}

// SetState replaces the state of the instance.
func (c *Context) SetState(s any) {
	c.inst.SetState(s)
}

// Emit puts e on the named stream.
func (c *Context) Emit(stream string, e event.Event) error {
	if c.emitter == nil {
		return fmt.Errorf("no emitter, can not emit to stream %q", stream)
	}
	return c.emitter.Emit(c.Context, stream, e)
}

// Checkpoint saves the state of the instance now. It does nothing for types in CheckpointNone mode.
func (c *Context) Checkpoint() {
	if c.checkpointer != nil {
		c.checkpointer.Checkpoint(c.inst)
	}
}

// Remove removes the instance once the current call returns.
func (c *Context) Remove() {
	c.inst.RequestRemoval()
}

// Logger returns the logger of the context, annotated with the instance.
func (c *Context) Logger() *zap.SugaredLogger {
	return logging.FromContext(c.Context).With("unit", c.inst.typ.Name(), "key", c.inst.key)
}

// StateOf returns the state of the instance as S. It panics if the state has another type, which is a
// programming error in the unit definition.
func StateOf[S any](c *Context) S {
	return c.inst.state.(S)
}
