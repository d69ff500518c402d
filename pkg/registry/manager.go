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

package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/numaproj/keyflow/pkg/shared/logging"
	"github.com/numaproj/keyflow/pkg/unit"
)

// Manager holds the instance caches of all the unit types of an application.
type Manager struct {
	appID  string
	opts   *options
	caches map[string]*Cache
	log    *zap.SugaredLogger
	sync.RWMutex
}

// NewManager returns an empty manager.
func NewManager(ctx context.Context, appID string, opts ...Option) (*Manager, error) {
	o := DefaultOptions()
	for _, opt := range opts {
		if opt != nil {
			if err := opt(o); err != nil {
				return nil, err
			}
		}
	}
	return &Manager{
		appID:  appID,
		opts:   o,
		caches: make(map[string]*Cache),
		log:    logging.FromContext(ctx).With("app", appID),
	}, nil
}

// Register creates the cache of a unit type.
func (m *Manager) Register(t *unit.Type) (*Cache, error) {
	m.Lock()
	defer m.Unlock()
	if _, ok := m.caches[t.Name()]; ok {
		return nil, fmt.Errorf("unit type %q is already registered", t.Name())
	}
	c, err := newCache(m.appID, t, m.opts, m.log)
	if err != nil {
		return nil, fmt.Errorf("failed to create the cache of unit type %q, %w", t.Name(), err)
	}
	m.caches[t.Name()] = c
	return c, nil
}

// Cache returns the cache of the named unit type.
func (m *Manager) Cache(unitType string) (*Cache, bool) {
	m.RLock()
	defer m.RUnlock()
	c, ok := m.caches[unitType]
	return c, ok
}

// Caches returns all caches sorted by unit type name.
func (m *Manager) Caches() []*Cache {
	m.RLock()
	defer m.RUnlock()
	out := make([]*Cache, 0, len(m.caches))
	for _, c := range m.caches {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].typ.Name() < out[j].typ.Name() })
	return out
}

// GetOrCreate returns the live instance of unitType for key.
func (m *Manager) GetOrCreate(ctx context.Context, unitType, key string) (*unit.Instance, error) {
	c, ok := m.Cache(unitType)
	if !ok {
		return nil, fmt.Errorf("unknown unit type %q", unitType)
	}
	return c.GetOrCreate(ctx, key)
}

// EvictIfNeeded runs the TTL sweep of every cache.
func (m *Manager) EvictIfNeeded() int {
	n := 0
	for _, c := range m.Caches() {
		n += c.EvictIfNeeded()
	}
	if n > 0 {
		m.log.Infow("Evicted expired instances", zap.Int("count", n))
	}
	return n
}

// Len returns the number of live instances of all types.
func (m *Manager) Len() int {
	n := 0
	for _, c := range m.Caches() {
		n += c.Len()
	}
	return n
}

// ShutDown tears down every instance, saving the dirty ones according to their checkpoint policy.
func (m *Manager) ShutDown() {
	for _, c := range m.Caches() {
		c.RemoveAll()
	}
}
