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
	"fmt"
	"time"
)

// CheckpointMode selects when the state of an instance is saved.
type CheckpointMode string

const (
	// CheckpointNone never saves state, and never recovers it.
	CheckpointNone CheckpointMode = "none"
	// CheckpointCount saves after every CheckpointFrequency processed events.
	CheckpointCount CheckpointMode = "count"
	// CheckpointTime saves dirty instances every CheckpointInterval.
	CheckpointTime CheckpointMode = "time"
	// CheckpointExplicit saves only when a handler asks for it.
	CheckpointExplicit CheckpointMode = "explicit"
)

// ParseCheckpointMode validates a mode name, an empty name means CheckpointNone.
func ParseCheckpointMode(s string) (CheckpointMode, error) {
	switch CheckpointMode(s) {
	case "":
		return CheckpointNone, nil
	case CheckpointNone, CheckpointCount, CheckpointTime, CheckpointExplicit:
		return CheckpointMode(s), nil
	default:
		return "", fmt.Errorf("unsupported checkpoint mode %q", s)
	}
}

// Options are the per unit type policies. Zero values disable the matching policy.
type Options struct {
	// MaxInstances bounds the number of live instances, least recently used ones are evicted first.
	MaxInstances int
	// TTL evicts instances which have not been accessed for that long.
	TTL time.Duration
	// TimerInterval is the period of the OnTime callback.
	TimerInterval time.Duration
	// TriggerEventCount fires the trigger handlers after that many events.
	TriggerEventCount int
	// TriggerInterval fires the trigger handlers when that much time passed since the last firing.
	TriggerInterval time.Duration
	// TriggerEventType restricts the events counted by the trigger rules to a type and its subtypes.
	TriggerEventType string
	CheckpointMode   CheckpointMode
	// CheckpointFrequency is the number of events between saves in CheckpointCount mode.
	CheckpointFrequency int
	// CheckpointInterval is the period of saves in CheckpointTime mode.
	CheckpointInterval time.Duration
	// DisableCheckpointOnEvict skips the final save of dirty instances when they are evicted.
	DisableCheckpointOnEvict bool
	// Singleton types have one instance under SingletonKey, it is never evicted.
	Singleton bool
}

// SingletonKey is the implicit key of the instance of a singleton type.
const SingletonKey = ""


// Validate returns an error for inconsistent policies.
func (o Options) Validate() error {
	if o.MaxInstances < 0 {
		return fmt.Errorf("max instances can not be negative, got %d", o.MaxInstances)
	}
	if o.TTL < 0 || o.TimerInterval < 0 || o.TriggerInterval < 0 || o.CheckpointInterval < 0 {
		return fmt.Errorf("durations can not be negative")
	}
	if o.TriggerEventCount < 0 {
		return fmt.Errorf("trigger event count can not be negative, got %d", o.TriggerEventCount)
	}
	if o.Singleton && (o.MaxInstances > 0 || o.TTL > 0) {
		return fmt.Errorf("a singleton can not have an instance bound or a ttl")
	}
	if _, err := ParseCheckpointMode(string(o.CheckpointMode)); err != nil {
		return err
	}
	switch o.CheckpointMode {
	case CheckpointCount:
		if o.CheckpointFrequency < 1 {
			return fmt.Errorf("checkpoint frequency should be at least 1 in count mode, got %d", o.CheckpointFrequency)
		}
	case CheckpointTime:
		if o.CheckpointInterval <= 0 {
			return fmt.Errorf("checkpoint interval should be positive in time mode")
		}
	}
	return nil
}

// Mode returns the checkpoint mode, CheckpointNone when unset.
func (o Options) Mode() CheckpointMode {
	if o.CheckpointMode == "" {
		return CheckpointNone
	}
	return o.CheckpointMode
}

// CheckpointOnEvict reports whether dirty instances are saved before they are evicted.
func (o Options) CheckpointOnEvict() bool {
	if o.DisableCheckpointOnEvict {
		return false
	}
	m := o.Mode()
	return m == CheckpointCount || m == CheckpointTime
}

// Option overrides one policy of a unit type.
type Option func(*Options)

// WithMaxInstances sets the LRU bound.
func WithMaxInstances(n int) Option {
	return func(o *Options) {
		o.MaxInstances = n
	}
}

// WithTTL sets the idle expiry.
func WithTTL(ttl time.Duration) Option {
	return func(o *Options) {
		o.TTL = ttl
	}
}

// WithTimerInterval sets the OnTime period.
func WithTimerInterval(d time.Duration) Option {
	return func(o *Options) {
		o.TimerInterval = d
	}
}

// WithTrigger sets the trigger rules, an empty eventType counts every event.
func WithTrigger(eventType string, count int, interval time.Duration) Option {
	return func(o *Options) {
		o.TriggerEventType = eventType
		o.TriggerEventCount = count
		o.TriggerInterval = interval
	}
}

// WithCheckpointing sets the checkpoint policy.
func WithCheckpointing(mode CheckpointMode, frequency int, interval time.Duration) Option {
	return func(o *Options) {
		o.CheckpointMode = mode
		o.CheckpointFrequency = frequency
		o.CheckpointInterval = interval
	}
}

// WithoutCheckpointOnEvict disables the final save on eviction.
func WithoutCheckpointOnEvict() Option {
	return func(o *Options) {
		o.DisableCheckpointOnEvict = true
	}
}

// AsSingleton makes the type a singleton.
func AsSingleton() Option {
	return func(o *Options) {
		o.Singleton = true
	}
}
