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
Package jetstream implements the KV store and watcher using a JetStream key-value bucket.
*/
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	natsclient "github.com/numaproj/keyflow/pkg/shared/clients/nats"
	"github.com/numaproj/keyflow/pkg/shared/kvs"
	"github.com/numaproj/keyflow/pkg/shared/logging"
)

// jetStreamStore implements the KV store backed up by Jetstream.
type jetStreamStore struct {
	kvName string
	kv     nats.KeyValue
	doneCh chan struct{}
	log    *zap.SugaredLogger
	opts   *options
}

var _ kvs.Store = (*jetStreamStore)(nil)

// NewKVJetStreamKVStore returns a KV store bound to the bucket kvName, the bucket is created if needed.
func NewKVJetStreamKVStore(ctx context.Context, kvName string, client *natsclient.Client, opts ...Option) (kvs.Store, error) {
	kvOpts := defaultOptions()
	for _, o := range opts {
		o(kvOpts)
	}
	kvStore, err := client.BindKVStore(kvName)
	if err != nil {
		return nil, fmt.Errorf("failed to bind kv store: %w", err)
	}
	return &jetStreamStore{
		kvName: kvName,
		kv:     kvStore,
		opts:   kvOpts,
		doneCh: make(chan struct{}),
		log:    logging.FromContext(ctx).With("kvName", kvName),
	}, nil
}

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

// GetAllKeys returns all the keys in the key-value store, sorted.
func (jss *jetStreamStore) GetAllKeys(_ context.Context) ([]string, error) {
	keyLister, err := jss.kv.ListKeys()
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return []string{}, nil
		}
		return nil, err
	}
	defer func() {
		_ = keyLister.Stop()
	}()

	keys := []string{}
	for key := range keyLister.Keys() {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// GetValue returns the value for a given key.
func (jss *jetStreamStore) GetValue(_ context.Context, k string) ([]byte, error) {
	entry, err := jss.kv.Get(k)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", kvs.ErrKeyNotFound, k)
		}
		return nil, err
	}
	return entry.Value(), nil
}

// GetStoreName returns the store name.
func (jss *jetStreamStore) GetStoreName() string {
	return jss.kv.Bucket()
}

// DeleteKey deletes the key from the JS key-value store.
func (jss *jetStreamStore) DeleteKey(_ context.Context, k string) error {
	// will return error if nats connection is closed
	return jss.kv.Delete(k)
}

// PutKV puts an element to the JS key-value store.
func (jss *jetStreamStore) PutKV(_ context.Context, k string, v []byte) error {
	// will return error if nats connection is closed
	_, err := jss.kv.Put(k, v)
	return err
}

// Watch watches the bucket and returns the updates channel, starting with the current values.
func (jss *jetStreamStore) Watch(ctx context.Context) <-chan kvs.Entry {
	updates := make(chan kvs.Entry)
	go func() {
		defer close(updates)
		kvWatcher := jss.newWatcher(ctx)
		// if kvWatcher is nil, it means the context is done
		for kvWatcher != nil {
			select {
			case <-ctx.Done():
				jss.stopWatcher(kvWatcher)
				return
			case <-jss.doneCh:
				jss.stopWatcher(kvWatcher)
				return
			case value, ok := <-kvWatcher.Updates():
				if !ok {
					// the channel can be closed by a reconnection while the service is still running
					jss.stopWatcher(kvWatcher)
					kvWatcher = jss.newWatcher(ctx)
					continue
				}
				// nil marks the end of the initial values
				if value == nil {
					continue
				}
				var op kvs.Op
				switch value.Operation() {
				case nats.KeyValuePut:
					op = kvs.OpPut
				case nats.KeyValueDelete:
					op = kvs.OpDelete
				case nats.KeyValuePurge:
					op = kvs.OpPurge
				}
				select {
				case updates <- kvEntry{key: value.Key(), value: value.Value(), op: op}:
				case <-ctx.Done():
					jss.stopWatcher(kvWatcher)
					return
				case <-jss.doneCh:
					jss.stopWatcher(kvWatcher)
					return
				}
			}
		}
	}()
	return updates
}

func (jss *jetStreamStore) stopWatcher(w nats.KeyWatcher) {
	if err := w.Stop(); err != nil {
		jss.log.Warnw("Failed to stop the watcher", zap.String("watcher", jss.kvName), zap.Error(err))
	}
}

// newWatcher creates a new watcher for the bucket, retrying until it succeeds or the context is done.
func (jss *jetStreamStore) newWatcher(ctx context.Context) nats.KeyWatcher {
	for {
		kvWatcher, err := jss.kv.WatchAll(nats.Context(ctx))
		if err == nil {
			jss.log.Infow("Successfully created watcher", zap.String("watcher", jss.kvName))
			return kvWatcher
		}
		jss.log.Errorw("Creating watcher failed", zap.String("watcher", jss.kvName), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil
		case <-jss.doneCh:
			return nil
		case <-time.After(jss.opts.watcherRetryInterval):
		}
	}
}

// Close gives the signal to watchers to stop watching, the connection is closed by its owner.
func (jss *jetStreamStore) Close() {
	select {
	case <-jss.doneCh:
	default:
		close(jss.doneCh)
	}
}
