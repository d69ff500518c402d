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
Package counter is a sample application counting values by key, with every count checkpointed.

A singleton Clock unit broadcasts a tick on every timer interval, each live counter reports its count
when it sees one.
*/
package counter

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/numaproj/keyflow/pkg/app"
	"github.com/numaproj/keyflow/pkg/event"
	"github.com/numaproj/keyflow/pkg/keyed"
	"github.com/numaproj/keyflow/pkg/unit"
)

const (
	AppID = "counter"

	ValuesStream = "values"
	TicksStream  = "ticks"
)

// Value increments the counter of Key.
type Value struct {
	Key string `json:"key"`
}

func (*Value) EventType() string { return "Value" }

// Tick is broadcast by the clock.
type Tick struct {
	Seq  int64     `json:"seq"`
	Time time.Time `json:"time"`
}

func (*Tick) EventType() string { return "Tick" }

type counterState struct {
	Count int `json:"count"`
}

type clockState struct {
	Seq int64 `json:"seq"`
}

// Events returns the event types of the application.
func Events() *event.Registry {
	r := event.NewRegistry()
	r.MustRegister("Value", "", func() event.Event { return &Value{} })
	r.MustRegister("Tick", "", func() event.Event { return &Tick{} })
	return r
}

// NewBuilder declares the application graph. A zero clockInterval leaves out the clock.
func NewBuilder(clockInterval time.Duration) *app.Builder {
	b := app.NewBuilder(AppID, Events()).
		AddUnit(unit.Definition{
			Name:     "Counter",
			NewState: func() any { return &counterState{} },
			Handlers: []unit.Handler{
				{EventType: "Value", Fn: func(c *unit.Context, _ event.Event) error {
					unit.StateOf[*counterState](c).Count++
					return nil
				}},
				{EventType: "Tick", Fn: func(c *unit.Context, e event.Event) error {
					c.Logger().Infow("Count", zap.Int("count", unit.StateOf[*counterState](c).Count), zap.Int64("tick", e.(*Tick).Seq))
					return nil
				}},
			},
		}, unit.WithCheckpointing(unit.CheckpointCount, 1, 0)).
		AddStream(ValuesStream, valueKey, "Counter")
	if clockInterval > 0 {
		b.AddUnit(unit.Definition{
			Name:     "Clock",
			NewState: func() any { return &clockState{} },
			OnTime: func(c *unit.Context) error {
				s := unit.StateOf[*clockState](c)
				s.Seq++
				return c.Emit(TicksStream, &Tick{Seq: s.Seq, Time: time.Now()})
			},
		}, unit.AsSingleton(), unit.WithTimerInterval(clockInterval)).
			AddStream(TicksStream, nil, "Counter")
	}
	return b
}

// Count returns the count of key, recovering it from the checkpoints when it is not live.
func Count(ctx context.Context, a *app.App, key string) (int, error) {
	inst, err := a.Registry().GetOrCreate(ctx, "Counter", key)
	if err != nil {
		return 0, err
	}
	inst.Lock()
	defer inst.Unlock()
	return inst.State().(*counterState).Count, nil
}

var valueKey keyed.Finder = func(e event.Event) []string {
	if v, ok := e.(*Value); ok {
		return []string{v.Key}
	}
	return nil
}
