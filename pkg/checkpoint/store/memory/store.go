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

// Package memory implements an in memory checkpoint store, it does not survive a restart of the process.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/numaproj/keyflow/pkg/checkpoint/store"
)

type memoryStore struct {
	sync.RWMutex
	data map[store.ID][]byte
}

var _ store.StateStore = (*memoryStore)(nil)

// NewMemoryStore returns an empty in memory store.
func NewMemoryStore() store.StateStore {
	return &memoryStore{data: make(map[store.ID][]byte)}
}

func (m *memoryStore) Save(_ context.Context, id store.ID, data []byte) error {
	m.Lock()
	defer m.Unlock()
	v := make([]byte, len(data))
	copy(v, data)
	m.data[id] = v
	return nil
}

func (m *memoryStore) Fetch(_ context.Context, id store.ID) ([]byte, error) {
	m.RLock()
	defer m.RUnlock()
	v, ok := m.data[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *memoryStore) ListKeys(_ context.Context, appID string) ([]store.ID, error) {
	m.RLock()
	defer m.RUnlock()
	ids := []store.ID{}
	for id := range m.data {
		if id.AppID == appID {
			ids = append(ids, id)
		}
	}
	store.SortIDs(ids)
	return ids, nil
}

func (m *memoryStore) Delete(_ context.Context, id store.ID) error {
	m.Lock()
	defer m.Unlock()
	delete(m.data, id)
	return nil
}

// Close keeps the data, so a store shared by two application runs in one process still recovers.
func (m *memoryStore) Close() error {
	return nil
}
