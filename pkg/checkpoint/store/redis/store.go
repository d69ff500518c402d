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

// Package redis implements a checkpoint store on redis, one string key per instance.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/numaproj/keyflow/pkg/checkpoint/store"
	redisclient "github.com/numaproj/keyflow/pkg/shared/clients/redis"
	"github.com/numaproj/keyflow/pkg/shared/logging"
)

// DefaultKeyPrefix namespaces the checkpoint keys.
const DefaultKeyPrefix = "keyflow:ckpt:"

type redisStore struct {
	client     *redisclient.RedisClient
	prefix     string
	expiration time.Duration
	log        *zap.SugaredLogger
}

var _ store.StateStore = (*redisStore)(nil)

// Option configures the redis store
type Option func(*redisStore)

// WithKeyPrefix overrides DefaultKeyPrefix
func WithKeyPrefix(prefix string) Option {
	return func(r *redisStore) {
		r.prefix = prefix
	}
}

// WithExpiration makes checkpoints expire, zero keeps them forever
func WithExpiration(d time.Duration) Option {
	return func(r *redisStore) {
		r.expiration = d
	}
}

// NewRedisStore returns a checkpoint store on client. Closing the store closes the client.
func NewRedisStore(ctx context.Context, client *redisclient.RedisClient, opts ...Option) store.StateStore {
	r := &redisStore{
		client: client,
		prefix: DefaultKeyPrefix,
		log:    logging.FromContext(ctx),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *redisStore) key(id store.ID) string {
	return r.prefix + id.Encode()
}

func (r *redisStore) Save(ctx context.Context, id store.ID, data []byte) error {
	return r.client.Set(ctx, r.key(id), data, redisclient.WithExpiration(r.expiration))
}

func (r *redisStore) Fetch(ctx context.Context, id store.ID) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key(id))
	if errors.Is(err, redisclient.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	return data, err
}

func (r *redisStore) ListKeys(ctx context.Context, appID string) ([]store.ID, error) {
	pattern := r.prefix + store.EncodePart(appID) + ".*"
	keys, err := r.client.ScanKeys(ctx, pattern)
	if err != nil {
		return nil, err
	}
	ids := []store.ID{}
	for _, k := range keys {
		id, err := store.ParseID(strings.TrimPrefix(k, r.prefix))
		if err != nil {
			r.log.Warnw("Skipping unexpected key", zap.String("key", k))
			continue
		}
		ids = append(ids, id)
	}
	store.SortIDs(ids)
	return ids, nil
}

func (r *redisStore) Delete(ctx context.Context, id store.ID) error {
	return r.client.DeleteKeys(ctx, r.key(id))
}

func (r *redisStore) Close() error {
	return r.client.Close()
}
