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

// Package redis wraps the go-redis universal client used by the redis checkpoint store.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("redis key not found")

// Config holds the connection settings, MasterName switches to sentinel mode.
type Config struct {
	Addrs            []string
	User             string
	Password         string
	MasterName       string
	SentinelPassword string
	DB               int
}

// RedisClient datatype to hold redis client attributes.
type RedisClient struct {
	Client redis.UniversalClient
}

// NewRedisClient returns a new Redis Client.
func NewRedisClient(options *redis.UniversalOptions) *RedisClient {
	client := new(RedisClient)
	client.Client = redis.NewUniversalClient(options)
	return client
}

// NewRedisClientFromConfig returns a new Redis Client for a single node, a cluster or a sentinel setup.
func NewRedisClientFromConfig(cfg Config) (*RedisClient, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("at least one redis address is required")
	}
	return NewRedisClient(&redis.UniversalOptions{
		Addrs:            cfg.Addrs,
		Username:         cfg.User,
		Password:         cfg.Password,
		MasterName:       cfg.MasterName,
		SentinelPassword: cfg.SentinelPassword,
		DB:               cfg.DB,
	}), nil
}

// ParseAddrs splits a comma separated address list.
func ParseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// Get returns the value of key, ErrNotFound if it does not exist.
func (cl *RedisClient) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := cl.Client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return b, err
}

// Set stores value under key. A non-zero expiration makes the key volatile.
func (cl *RedisClient) Set(ctx context.Context, key string, value []byte, opts ...Option) error {
	o := applyOptions(opts)
	return cl.Client.Set(ctx, key, value, o.Expiration).Err()
}

// DeleteKeys deletes redis keys
func (cl *RedisClient) DeleteKeys(ctx context.Context, keys ...string) error {
	return cl.Client.Del(ctx, keys...).Err()
}

// ScanKeys returns all the keys matching pattern, without blocking the server like KEYS would.
func (cl *RedisClient) ScanKeys(ctx context.Context, pattern string, opts ...Option) ([]string, error) {
	o := applyOptions(opts)
	var (
		cursor uint64
		out    []string
	)
	for {
		keys, next, err := cl.Client.Scan(ctx, cursor, pattern, o.ScanCount).Result()
		if err != nil {
			return nil, err
		}
		out = append(out, keys...)
		if next == 0 {
			return out, nil
		}
		cursor = next
	}
}

// Ping checks the connection.
func (cl *RedisClient) Ping(ctx context.Context) error {
	return cl.Client.Ping(ctx).Err()
}

// Close closes the client.
func (cl *RedisClient) Close() error {
	return cl.Client.Close()
}
