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

// Package noop implements a checkpoint store which keeps nothing, every fetch is a miss.
package noop

import (
	"context"

	"github.com/numaproj/keyflow/pkg/checkpoint/store"
)

// NoOpStore is a checkpoint store which does not do any operation but can be safely invoked.
type NoOpStore struct {
}

var _ store.StateStore = (*NoOpStore)(nil)

func NewNoOpStore() *NoOpStore {
	return &NoOpStore{}
}

func (n *NoOpStore) Save(context.Context, store.ID, []byte) error {
	return nil
}

func (n *NoOpStore) Fetch(context.Context, store.ID) ([]byte, error) {
	return nil, store.ErrNotFound
}

func (n *NoOpStore) ListKeys(context.Context, string) ([]store.ID, error) {
	return []store.ID{}, nil
}

func (n *NoOpStore) Delete(context.Context, store.ID) error {
	return nil
}

func (n *NoOpStore) Close() error {
	return nil
}
