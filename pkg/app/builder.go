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
Package app wires unit types and streams into a runnable application.

An application is declared with a Builder: unit types, then streams with their key finder and target
unit types. Build validates the graph and creates the registry, the checkpoint manager and one router
per stream. Unit types with a timer or a time based checkpoint policy which no stream targets get an
internal router, so their ticks still run on a single goroutine.
*/
package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/numaproj/keyflow/pkg/checkpoint"
	"github.com/numaproj/keyflow/pkg/checkpoint/store/memory"
	"github.com/numaproj/keyflow/pkg/event"
	"github.com/numaproj/keyflow/pkg/keyed"
	"github.com/numaproj/keyflow/pkg/membership"
	"github.com/numaproj/keyflow/pkg/registry"
	"github.com/numaproj/keyflow/pkg/shared/logging"
	"github.com/numaproj/keyflow/pkg/stream"
	"github.com/numaproj/keyflow/pkg/unit"
)

// internalStreamPrefix names the routers created for unit types no stream targets.
const internalStreamPrefix = "_internal."

type unitDecl struct {
	def  unit.Definition
	opts []unit.Option
}

type streamDecl struct {
	name    string
	finder  keyed.Finder
	keyOpts []keyed.Option
	targets []string
}

// Builder declares the graph of an application.
type Builder struct {
	id      string
	events  *event.Registry
	units   []unitDecl
	streams []streamDecl
}

// NewBuilder returns an empty graph for the application id, whose events are declared in events.
func NewBuilder(id string, events *event.Registry) *Builder {
	return &Builder{id: id, events: events}
}

// AddUnit declares a unit type. opts override def.Options.
func (b *Builder) AddUnit(def unit.Definition, opts ...unit.Option) *Builder {
	b.units = append(b.units, unitDecl{def: def, opts: opts})
	return b
}

// AddStream declares a stream feeding the named unit types. A nil finder makes it a broadcast stream.
func (b *Builder) AddStream(name string, finder keyed.Finder, targets ...string) *Builder {
	return b.AddKeyedStream(name, finder, nil, targets...)
}

// AddKeyedStream is AddStream with options on the key resolver.
func (b *Builder) AddKeyedStream(name string, finder keyed.Finder, keyOpts []keyed.Option, targets ...string) *Builder {
	b.streams = append(b.streams, streamDecl{name: name, finder: finder, keyOpts: keyOpts, targets: targets})
	return b
}

func (b *Builder) validate() error {
	if b.id == "" {
		return fmt.Errorf("application id can not be empty")
	}
	if b.events == nil {
		return fmt.Errorf("application %q has no event registry", b.id)
	}
	if len(b.units) == 0 {
		return fmt.Errorf("application %q has no unit types", b.id)
	}
	units := make(map[string]bool, len(b.units))
	for _, u := range b.units {
		if units[u.def.Name] {
			return fmt.Errorf("duplicate unit type %q", u.def.Name)
		}
		units[u.def.Name] = true
	}
	streams := make(map[string]bool, len(b.streams))
	for _, s := range b.streams {
		if s.name == "" {
			return fmt.Errorf("stream name can not be empty")
		}
		if streams[s.name] {
			return fmt.Errorf("duplicate stream %q", s.name)
		}
		streams[s.name] = true
		if len(s.targets) == 0 {
			return fmt.Errorf("stream %q has no target unit type", s.name)
		}
		seen := make(map[string]bool, len(s.targets))
		for _, t := range s.targets {
			if !units[t] {
				return fmt.Errorf("stream %q targets unknown unit type %q", s.name, t)
			}
			if seen[t] {
				return fmt.Errorf("stream %q targets unit type %q twice", s.name, t)
			}
			seen[t] = true
		}
	}
	return nil
}

// Build validates the graph and returns a stopped application.
func (b *Builder) Build(ctx context.Context, opts ...Option) (*App, error) {
	o := DefaultOptions()
	for _, opt := range opts {
		if opt != nil {
			if err := opt(o); err != nil {
				return nil, err
			}
		}
	}
	log := logging.FromContext(ctx).With("app", b.id)
	a := &App{
		id:       b.id,
		runID:    uuid.NewString(),
		opts:     o,
		codec:    event.NewCodec(b.events),
		routers:  make(map[string]*stream.Router),
		owners:   make(map[string]*stream.Router),
		caches:   make(map[string]*registry.Cache),
		state:    atomic.NewInt32(int32(stateCreated)),
		log:      log,
		events:   b.events,
	}
	fail := func(err error) (*App, error) {
		if rerr := a.release(); rerr != nil {
			log.Warnw("Failed to release resources of the application", zap.Error(rerr))
		}
		return nil, err
	}
	if err := b.validate(); err != nil {
		return fail(err)
	}
	schedule, err := cron.ParseStandard(o.evictionSchedule)
	if err != nil {
		return fail(fmt.Errorf("invalid eviction schedule %q, %w", o.evictionSchedule, err))
	}
	a.schedule = schedule

	types := make([]*unit.Type, 0, len(b.units))
	for _, u := range b.units {
		uopts := u.opts
		if o.unitOverrides != nil {
			overrides, err := o.unitOverrides(u.def.Name)
			if err != nil {
				return fail(fmt.Errorf("unit type %q, invalid overrides, %w", u.def.Name, err))
			}
			uopts = append(append([]unit.Option{}, uopts...), overrides...)
		}
		t, err := unit.NewType(u.def, b.events, uopts...)
		if err != nil {
			return fail(err)
		}
		types = append(types, t)
	}

	if o.store == nil {
		o.store = memory.NewMemoryStore()
	}
	cm, err := checkpoint.NewManager(ctx, b.id, o.store, append([]checkpoint.Option{
		checkpoint.WithHashAlgorithm(o.hash),
		checkpoint.WithClock(o.clock),
	}, o.checkpointOpts...)...)
	if err != nil {
		return fail(err)
	}
	a.checkpoints = cm

	rm, err := registry.NewManager(ctx, b.id,
		registry.WithRecoverer(cm),
		registry.WithCheckpointer(cm),
		registry.WithClock(o.clock))
	if err != nil {
		return fail(err)
	}
	a.registry = rm
	for _, t := range types {
		c, err := rm.Register(t)
		if err != nil {
			return fail(err)
		}
		a.caches[t.Name()] = c
		a.types = append(a.types, t)
	}

	streamOpts := append([]stream.Option{
		stream.WithEmitter(a),
		stream.WithCheckpointer(cm),
		stream.WithClock(o.clock),
	}, o.streamOpts...)
	if o.transport != nil {
		provider := o.membership
		if provider == nil {
			provider, err = membership.NewStatic(o.transport.PartitionCount(), o.transport.LocalPartition())
			if err != nil {
				return fail(err)
			}
		}
		a.partitioner = membership.NewPartitioner(provider, o.hash)
		streamOpts = append(streamOpts, stream.WithRemote(a.partitioner, o.transport, a.codec))
	} else if o.membership != nil {
		log.Warn("Membership is ignored without a transport, every key is processed locally")
	}

	for _, s := range b.streams {
		var key *keyed.Key
		if s.finder != nil {
			key = keyed.NewKey(s.finder, s.keyOpts...)
		}
		targets := make([]*registry.Cache, 0, len(s.targets))
		for _, name := range s.targets {
			targets = append(targets, a.caches[name])
		}
		r, err := stream.NewRouter(ctx, b.id, s.name, key, targets, streamOpts...)
		if err != nil {
			return fail(err)
		}
		a.routers[s.name] = r
		a.order = append(a.order, r)
		for _, name := range s.targets {
			if _, ok := a.owners[name]; !ok {
				a.owners[name] = r
			}
		}
	}

	for _, t := range a.types {
		if !needsTicks(t) {
			continue
		}
		if _, ok := a.owners[t.Name()]; ok {
			continue
		}
		r, err := stream.NewRouter(ctx, b.id, internalStreamPrefix+t.Name(), nil, []*registry.Cache{a.caches[t.Name()]}, streamOpts...)
		if err != nil {
			return fail(err)
		}
		a.owners[t.Name()] = r
		a.order = append(a.order, r)
		log.Infow("Created an internal router for untargeted unit type", zap.String("unit", t.Name()))
	}
	log.Infow("Application built", zap.Int("units", len(a.types)), zap.Int("streams", len(b.streams)), zap.String("runID", a.runID))
	return a, nil
}

func needsTicks(t *unit.Type) bool {
	return t.HasTimer() || (t.Options().Mode() == unit.CheckpointTime && t.Options().CheckpointInterval > 0)
}
