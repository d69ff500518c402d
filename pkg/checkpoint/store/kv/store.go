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

// Package kv implements a checkpoint store on a key-value bucket, in memory or JetStream.
package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/numaproj/keyflow/pkg/checkpoint/store"
	"github.com/numaproj/keyflow/pkg/shared/kvs"
	"github.com/numaproj/keyflow/pkg/shared/logging"
)

// keyMarker prefixes the encoded instance key, JetStream rejects keys ending with a dot.
const keyMarker = "k"

type kvStore struct {
	kv  kvs.Store
	log *zap.SugaredLogger
}

var _ store.StateStore = (*kvStore)(nil)

// NewKVStore returns a checkpoint store writing to kv. Closing the store closes kv.
func NewKVStore(ctx context.Context, kv kvs.Store) store.StateStore {
	return &kvStore{
		kv:  kv,
		log: logging.FromContext(ctx).With("bucket", kv.GetStoreName()),
	}
}

func bucketKey(id store.ID) string {
	return strings.Join([]string{store.EncodePart(id.AppID), store.EncodePart(id.UnitType), keyMarker + store.EncodePart(id.Key)}, ".")
}

func parseBucketKey(s string) (store.ID, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 || !strings.HasPrefix(parts[2], keyMarker) {
		return store.ID{}, fmt.Errorf("%w: %q", store.ErrInvalidID, s)
	}
	parts[2] = strings.TrimPrefix(parts[2], keyMarker)
	var decoded [3]string
	for i, p := range parts {
		d, err := store.DecodePart(p)
		if err != nil {
			return store.ID{}, err
		}
		decoded[i] = d
	}
	return store.ID{AppID: decoded[0], UnitType: decoded[1], Key: decoded[2]}, nil
}

func (k *kvStore) Save(ctx context.Context, id store.ID, data []byte) error {
	return k.kv.PutKV(ctx, bucketKey(id), data)
}

func (k *kvStore) Fetch(ctx context.Context, id store.ID) ([]byte, error) {
	data, err := k.kv.GetValue(ctx, bucketKey(id))
	if errors.Is(err, kvs.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	return data, err
}

func (k *kvStore) ListKeys(ctx context.Context, appID string) ([]store.ID, error) {
	keys, err := k.kv.GetAllKeys(ctx)
	if err != nil {
		return nil, err
	}
	prefix := store.EncodePart(appID) + "."
	ids := []store.ID{}
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		id, err := parseBucketKey(key)
		if err != nil {
			k.log.Warnw("Skipping unexpected key", zap.String("key", key))
			continue
		}
		ids = append(ids, id)
	}
	store.SortIDs(ids)
	return ids, nil
}

func (k *kvStore) Delete(ctx context.Context, id store.ID) error {
	err := k.kv.DeleteKey(ctx, bucketKey(id))
	if errors.Is(err, kvs.ErrKeyNotFound) {
		return nil
	}
	return err
}

func (k *kvStore) Close() error {
	k.kv.Close()
	return nil
}
