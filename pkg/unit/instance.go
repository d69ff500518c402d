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
	"sync"
	"time"

	"go.uber.org/atomic"
)

type triggerState struct {
	count     int
	lastFired time.Time
}

// Instance is the live state of one unit type for one key. Handlers, timer callbacks and checkpoints
// run with the instance locked, so the state is never accessed concurrently.
type Instance struct {
	sync.Mutex
	typ       *Type
	key       string
	state     any
	createdAt time.Time
	// lastAccess is read by eviction sweeps without the lock
	lastAccess atomic.Int64
	removed    atomic.Bool

	trigger         triggerState
	processed       uint64
	sinceCheckpoint int
	dirty           bool
	version         uint64
	removeRequested bool
}

// Type returns the unit type of the instance.
func (i *Instance) Type() *Type {
	return i.typ
}

// Key returns the routing key of the instance.
func (i *Instance) Key() string {
	return i.key
}

// State returns the current state. The caller holds the lock.
func (i *Instance) State() any {
	return i.state
}

// SetState replaces the state. The caller holds the lock.
func (i *Instance) SetState(s any) {
	i.state = s
	i.dirty = true
}

// CreatedAt returns the creation time.
func (i *Instance) CreatedAt() time.Time {
	return i.createdAt
}

// Touch records an access.
func (i *Instance) Touch(now time.Time) {
	i.lastAccess.Store(now.UnixNano())
}

// LastAccess returns the time of the last access.
func (i *Instance) LastAccess() time.Time {
	return time.Unix(0, i.lastAccess.Load())
}

// Expired reports whether the instance has been idle for longer than ttl. A zero ttl never expires.
func (i *Instance) Expired(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && now.Sub(i.LastAccess()) > ttl
}

// Processed returns the number of events handled. The caller holds the lock.
func (i *Instance) Processed() uint64 {
	return i.processed
}

// Dirty reports whether the state changed since the last checkpoint. The caller holds the lock.
func (i *Instance) Dirty() bool {
	return i.dirty
}

// MarkDirty flags the state as unsaved, for instance after a rejected checkpoint. The caller holds the lock.
func (i *Instance) MarkDirty() {
	i.dirty = true
}

// Version returns the version of the last checkpoint taken or restored. The caller holds the lock.
func (i *Instance) Version() uint64 {
	return i.version
}

// CheckpointDue reports whether the count policy asks for a save. The caller holds the lock.
func (i *Instance) CheckpointDue() bool {
	o := i.typ.opts
	return o.Mode() == CheckpointCount && i.sinceCheckpoint >= o.CheckpointFrequency
}

// Snapshot encodes the state, bumps the version and clears the dirty flag. The caller holds the lock.
func (i *Instance) Snapshot() ([]byte, uint64, error) {
	data, err := i.typ.EncodeState(i)
	if err != nil {
		return nil, 0, err
	}
	i.version++
	i.dirty = false
	i.sinceCheckpoint = 0
	return data, i.version, nil
}

// Restore installs a recovered state. The caller holds the lock.
func (i *Instance) Restore(state any, version uint64) {
	i.state = state
	i.version = version
	i.dirty = false
	i.sinceCheckpoint = 0
}

// RequestRemoval asks the runtime to remove the instance once the current handler returns.
func (i *Instance) RequestRemoval() {
	i.removeRequested = true
}

// RemovalRequested reports whether a handler asked for removal. The caller holds the lock.
func (i *Instance) RemovalRequested() bool {
	return i.removeRequested
}

// MarkRemoved flags the instance as torn down, it must not process events anymore.
func (i *Instance) MarkRemoved() {
	i.removed.Store(true)
}

// Removed reports whether the instance was torn down.
func (i *Instance) Removed() bool {
	return i.removed.Load()
}
