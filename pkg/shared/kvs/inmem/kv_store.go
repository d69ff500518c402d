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
Package inmem implements the KV store in memory, for tests and single node deployments.
*/
package inmem

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/numaproj/keyflow/pkg/shared/kvs"
	"github.com/numaproj/keyflow/pkg/shared/logging"
)

// watcherBufferSize bounds the updates queued for one watcher before writers block.
const watcherBufferSize = 128

// kvEntry is each key-value entry in the store and the operation associated with the kv pair.
type kvEntry struct {
	key   string
	value []byte
	op    kvs.Op
}

// Key returns the key
func (k kvEntry) Key() string {
	return k.key
}

// Value returns the value.
func (k kvEntry) Value() []byte {
	return k.value
}

// Operation returns the operation on that key-value pair.
func (k kvEntry) Operation() kvs.Op {
	return k.op
}

type watcher struct {
	updates chan kvs.Entry
	done    chan struct{}
}

// inMemStore implements the KV store backed up by a map.
type inMemStore struct {
	bucketName string
	lock       sync.RWMutex
	kv         map[string][]byte
	watchers   map[*watcher]struct{}
	isClosed   bool
	doneCh     chan struct{}
	log        *zap.SugaredLogger
}

var _ kvs.Store = (*inMemStore)(nil)

// NewKVInMemKVStore returns inMemStore.
func NewKVInMemKVStore(ctx context.Context, bucketName string) (kvs.Store, error) {
	return &inMemStore{
		bucketName: bucketName,
		kv:         make(map[string][]byte),
		watchers:   make(map[*watcher]struct{}),
		doneCh:     make(chan struct{}),
		log:        logging.FromContext(ctx).With("bucketName", bucketName),
	}, nil
}

// GetAllKeys returns all the keys in the key-value store, sorted.
func (kv *inMemStore) GetAllKeys(_ context.Context) ([]string, error) {
	kv.lock.RLock()
	defer kv.lock.RUnlock()
	keys := make([]string, 0, len(kv.kv))
	for key := range kv.kv {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// GetValue returns a copy of the value for a given key.
func (kv *inMemStore) GetValue(_ context.Context, k string) ([]byte, error) {
	kv.lock.RLock()
	defer kv.lock.RUnlock()
	val, ok := kv.kv[k]
	if !ok {
		return nil, fmt.Errorf("%w: %s", kvs.ErrKeyNotFound, k)
	}
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

// GetStoreName returns the store name.
func (kv *inMemStore) GetStoreName() string {
	return kv.bucketName
}

// DeleteKey deletes the key from the in mem key-value store.
func (kv *inMemStore) DeleteKey(_ context.Context, k string) error {
	kv.lock.Lock()
	defer kv.lock.Unlock()
	val, ok := kv.kv[k]
	if !ok {
		return fmt.Errorf("%w: %s", kvs.ErrKeyNotFound, k)
	}
	delete(kv.kv, k)
	kv.notify(kvEntry{key: k, value: val, op: kvs.OpDelete})
	return nil
}

// PutKV puts an element to the in mem key-value store.
func (kv *inMemStore) PutKV(_ context.Context, k string, v []byte) error {
	kv.lock.Lock()
	defer kv.lock.Unlock()
	if kv.isClosed {
		return fmt.Errorf("kv store %s is closed", kv.bucketName)
	}
	val := make([]byte, len(v))
	copy(val, v)
	kv.kv[k] = val
	kv.notify(kvEntry{key: k, value: val, op: kvs.OpPut})
	return nil
}

// notify must be called with the lock held.
func (kv *inMemStore) notify(entry kvEntry) {
	for w := range kv.watchers {
		select {
		case w.updates <- entry:
		case <-w.done:
		}
	}
}

// Watch returns the current content of the store as put entries followed by every later change.
func (kv *inMemStore) Watch(ctx context.Context) <-chan kvs.Entry {
	out := make(chan kvs.Entry)
	w := &watcher{updates: make(chan kvs.Entry, watcherBufferSize), done: make(chan struct{})}

	kv.lock.Lock()
	snapshot := make([]kvs.Entry, 0, len(kv.kv))
	for k, v := range kv.kv {
		snapshot = append(snapshot, kvEntry{key: k, value: v, op: kvs.OpPut})
	}
	if !kv.isClosed {
		kv.watchers[w] = struct{}{}
	}
	kv.lock.Unlock()

	go func() {
		defer close(out)
		defer func() {
			// unblock writers before taking the lock they hold
			close(w.done)
			kv.lock.Lock()
			delete(kv.watchers, w)
			kv.lock.Unlock()
		}()
		for _, e := range snapshot {
			select {
			case out <- e:
			case <-ctx.Done():
				return
			case <-kv.doneCh:
				return
			}
		}
		for {
			select {
			case <-ctx.Done():
				kv.log.Infow("Stopping watching", zap.String("watcher", kv.bucketName))
				return
			case <-kv.doneCh:
				return
			case e := <-w.updates:
				select {
				case out <- e:
				case <-ctx.Done():
					return
				case <-kv.doneCh:
					return
				}
			}
		}
	}()
	return out
}

// Close closes the in mem key-value store. It will close all the watchers.
func (kv *inMemStore) Close() {
	kv.lock.Lock()
	defer kv.lock.Unlock()
	if kv.isClosed {
		return
	}
	kv.isClosed = true
	close(kv.doneCh)
}
