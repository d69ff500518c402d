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

// Package store defines the persistence backends of instance checkpoints.
package store

import (
	"context"
)

// StateStore persists opaque checkpoint blobs by composite id. Implementations are safe for concurrent
// use. Ordering between saves of the same id is the caller's concern.
type StateStore interface {
	// Save stores data under id, replacing any previous value.
	Save(ctx context.Context, id ID, data []byte) error
	// Fetch returns the data stored under id, ErrNotFound when there is none.
	Fetch(ctx context.Context, id ID) ([]byte, error)
	// ListKeys returns the ids stored for an application.
	ListKeys(ctx context.Context, appID string) ([]ID, error)
	// Delete removes id, it is not an error if it does not exist.
	Delete(ctx context.Context, id ID) error
	// Close releases the backend resources.
	Close() error
}
