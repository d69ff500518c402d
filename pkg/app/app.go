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
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/numaproj/keyflow/pkg/checkpoint"
	"github.com/numaproj/keyflow/pkg/event"
	"github.com/numaproj/keyflow/pkg/membership"
	"github.com/numaproj/keyflow/pkg/metrics"
	"github.com/numaproj/keyflow/pkg/registry"
	"github.com/numaproj/keyflow/pkg/stream"
	"github.com/numaproj/keyflow/pkg/unit"
)

// ErrUnknownStream is returned when an event is put on a stream the application does not declare.
var ErrUnknownStream = errors.New("unknown stream")

// receiveErrorPause is the wait after a failed or empty receive.
const receiveErrorPause = 100 * time.Millisecond

type state int32

const (
	stateCreated state = iota
	stateRunning
	stateStopped
)

// App is a built application. It is started once and stopped once.
type App struct {
	id          string
	runID       string
	opts        *options
	events      *event.Registry
	codec       *event.Codec
	registry    *registry.Manager
	checkpoints *checkpoint.Manager
	partitioner *membership.Partitioner
	types       []*unit.Type
	caches      map[string]*registry.Cache
	// routers of the declared streams, by name
	routers map[string]*stream.Router
	// owners run the ticks of each unit type
	owners map[string]*stream.Router
	// order is the declaration order of every router, internal ones last
	order []*stream.Router
	log   *zap.SugaredLogger

	schedule cron.Schedule

	state         *atomic.Int32
	cancel        context.CancelFunc
	cancelRouters context.CancelFunc
	group         *errgroup.Group
	stopOnce      sync.Once
	stopErr       error
}

var (
	_ unit.Emitter          = (*App)(nil)
	_ metrics.HealthChecker = (*App)(nil)
)

// ID returns the application id.
func (a *App) ID() string {
	return a.id
}

// RunID returns the unique id of this run of the application.
func (a *App) RunID() string {
	return a.runID
}

// Events returns the event type registry.
func (a *App) Events() *event.Registry {
	return a.events
}

// Registry returns the instance registry.
func (a *App) Registry() *registry.Manager {
	return a.registry
}

// Checkpoints returns the checkpoint manager.
func (a *App) Checkpoints() *checkpoint.Manager {
	return a.checkpoints
}

// Router returns the router of a declared stream.
func (a *App) Router(name string) (*stream.Router, bool) {
	r, ok := a.routers[name]
	return r, ok
}

// Emit puts e on the named stream. Handlers emit through it.
func (a *App) Emit(ctx context.Context, name string, e event.Event) error {
	r, ok := a.routers[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownStream, name)
	}
	return r.Put(ctx, e)
}

// Put injects an event from outside the application, it is Emit.
func (a *App) Put(ctx context.Context, name string, e event.Event) error {
	return a.Emit(ctx, name, e)
}

// Start starts the routers, then the tick loops, the eviction schedule and the transport receiver.
// ctx scopes the background loops; Stop must still be called to release the application.
func (a *App) Start(ctx context.Context) error {
	if !a.state.CompareAndSwap(int32(stateCreated), int32(stateRunning)) {
		return fmt.Errorf("application %q can not be started, it is already running or stopped", a.id)
	}
	// routers outlive the background loops, they are stopped explicitly
	routerCtx, cancelRouters := context.WithCancel(ctx)
	loopCtx, cancelLoops := context.WithCancel(routerCtx)
	a.cancelRouters = cancelRouters
	a.cancel = cancelLoops
	g, gctx := errgroup.WithContext(loopCtx)
	a.group = g
	for _, r := range a.order {
		if err := r.Start(routerCtx); err != nil {
			return err
		}
	}
	for _, t := range a.types {
		a.startTickers(gctx, g, t)
	}
	sweeper := cron.New()
	sweeper.Schedule(a.schedule, cron.FuncJob(func() {
		evictionSweeps.WithLabelValues(a.id).Inc()
		a.registry.EvictIfNeeded()
	}))
	sweeper.Start()
	g.Go(func() error {
		<-gctx.Done()
		<-sweeper.Stop().Done()
		return nil
	})
	if a.opts.transport != nil {
		g.Go(func() error {
			return a.receive(gctx)
		})
	}
	metrics.AppInfo.WithLabelValues(a.id).Set(1)
	a.log.Infow("Application started", zap.String("runID", a.runID), zap.Int("routers", len(a.order)))
	return nil
}

func (a *App) startTickers(ctx context.Context, g *errgroup.Group, t *unit.Type) {
	owner := a.owners[t.Name()]
	c := a.caches[t.Name()]
	if owner == nil {
		return
	}
	if t.HasTimer() {
		g.Go(func() error {
			a.tickEvery(ctx, t.Options().TimerInterval, func() {
				ticks.WithLabelValues(a.id, t.Name(), stream.TickTimer.String()).Inc()
				owner.Tick(c, stream.TickTimer)
			})
			return nil
		})
	}
	if t.Options().Mode() == unit.CheckpointTime && t.Options().CheckpointInterval > 0 {
		g.Go(func() error {
			a.tickEvery(ctx, t.Options().CheckpointInterval, func() {
				ticks.WithLabelValues(a.id, t.Name(), stream.TickCheckpoint.String()).Inc()
				owner.Tick(c, stream.TickCheckpoint)
			})
			return nil
		})
	}
}

// tickEvery calls f every interval until ctx is done, starting one interval from now.
func (a *App) tickEvery(ctx context.Context, interval time.Duration, f func()) {
	first := true
	wait.UntilWithContext(ctx, func(context.Context) {
		if first {
			first = false
			return
		}
		f()
	}, interval)
}

// pause waits for d and returns false if ctx is done first.
func pause(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// receive delivers the events sent to the local partition until ctx is done.
func (a *App) receive(ctx context.Context) error {
	log := a.log.With("transport", "receiver")
	for {
		data, err := a.opts.transport.Receive(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			remoteReceived.WithLabelValues(a.id, outcomeError).Inc()
			log.Warnw("Failed to receive from transport", zap.Error(err))
			if !pause(ctx, receiveErrorPause) {
				return nil
			}
			continue
		}
		if data == nil {
			// nothing arrived, don't spin on a receiver which returns early
			if !pause(ctx, receiveErrorPause) {
				return nil
			}
			continue
		}
		env, e, err := a.codec.Unmarshal(data)
		if err != nil {
			remoteReceived.WithLabelValues(a.id, outcomeMalformed).Inc()
			log.Warnw("Dropped malformed message", zap.Error(err))
			continue
		}
		if env.AppID != a.id {
			remoteReceived.WithLabelValues(a.id, outcomeForeignApp).Inc()
			log.Debugw("Dropped message of another application", zap.String("from", env.AppID))
			continue
		}
		r, ok := a.routers[env.Stream]
		if !ok {
			remoteReceived.WithLabelValues(a.id, outcomeUnknownStream).Inc()
			log.Warnw("Dropped message for an unknown stream", zap.String("stream", env.Stream))
			continue
		}
		if err := r.Deliver(ctx, e); err != nil {
			remoteReceived.WithLabelValues(a.id, outcomeRejected).Inc()
			log.Debugw("Remote event rejected", zap.String("stream", env.Stream), zap.Error(err))
			continue
		}
		remoteReceived.WithLabelValues(a.id, outcomeDelivered).Inc()
	}
}

// Stop stops the background loops, then the routers in declaration order, then tears down every
// instance, saving the dirty ones, and finally closes the checkpoint store and the transport.
// It is safe to call more than once.
func (a *App) Stop() error {
	a.stopOnce.Do(func() {
		prev := state(a.state.Swap(int32(stateStopped)))
		if prev == stateRunning {
			a.cancel()
			if err := a.group.Wait(); err != nil {
				a.stopErr = multierr.Append(a.stopErr, err)
			}
			for _, r := range a.order {
				r.Stop()
			}
			a.cancelRouters()
			a.registry.ShutDown()
			metrics.AppInfo.DeleteLabelValues(a.id)
		}
		a.stopErr = multierr.Append(a.stopErr, a.release())
		a.log.Infow("Application stopped", zap.Error(a.stopErr))
	})
	return a.stopErr
}

// release closes what the application owns.
func (a *App) release() error {
	var err error
	if a.checkpoints != nil {
		err = multierr.Append(err, a.checkpoints.Close())
	} else if a.opts.store != nil {
		err = multierr.Append(err, a.opts.store.Close())
	}
	if a.opts.transport != nil {
		err = multierr.Append(err, a.opts.transport.Close())
	}
	for _, f := range a.opts.onStop {
		err = multierr.Append(err, f())
	}
	return err
}

// IsHealthy returns an error unless the application and all its routers are running.
func (a *App) IsHealthy(_ context.Context) error {
	if state(a.state.Load()) != stateRunning {
		return fmt.Errorf("application %q is not running", a.id)
	}
	for _, r := range a.order {
		if !r.Running() {
			return fmt.Errorf("stream %q of application %q is not running", r.Name(), a.id)
		}
	}
	return nil
}
