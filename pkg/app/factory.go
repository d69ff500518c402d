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

package app

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/numaproj/keyflow/pkg/checkpoint"
	"github.com/numaproj/keyflow/pkg/checkpoint/store"
	fsstore "github.com/numaproj/keyflow/pkg/checkpoint/store/fs"
	kvstore "github.com/numaproj/keyflow/pkg/checkpoint/store/kv"
	"github.com/numaproj/keyflow/pkg/checkpoint/store/memory"
	"github.com/numaproj/keyflow/pkg/checkpoint/store/noop"
	redisstore "github.com/numaproj/keyflow/pkg/checkpoint/store/redis"
	"github.com/numaproj/keyflow/pkg/checkpoint/store/sqlite"
	"github.com/numaproj/keyflow/pkg/membership"
	natsclient "github.com/numaproj/keyflow/pkg/shared/clients/nats"
	redisclient "github.com/numaproj/keyflow/pkg/shared/clients/redis"
	"github.com/numaproj/keyflow/pkg/shared/config"
	"github.com/numaproj/keyflow/pkg/shared/kvs/inmem"
	"github.com/numaproj/keyflow/pkg/shared/kvs/jetstream"
	"github.com/numaproj/keyflow/pkg/shared/logging"
	"github.com/numaproj/keyflow/pkg/shuffle"
	"github.com/numaproj/keyflow/pkg/stream"
	"github.com/numaproj/keyflow/pkg/transport"
	"github.com/numaproj/keyflow/pkg/transport/kafka"
	natstransport "github.com/numaproj/keyflow/pkg/transport/nats"
)

// Store types
const (
	StoreMemory    = "memory"
	StoreNoop      = "noop"
	StoreFS        = "fs"
	StoreSQLite    = "sqlite"
	StoreKV        = "kv"
	StoreJetStream = "jetstream"
	StoreRedis     = "redis"
)

// Transport types
const (
	TransportNone  = "none"
	TransportNATS  = "nats"
	TransportKafka = "kafka"
)

// Membership types
const (
	MembershipStatic = "static"
	MembershipKV     = "kv"
)

// closingStore closes extra resources after the store itself.
type closingStore struct {
	store.StateStore
	after func()
}

func (c closingStore) Close() error {
	err := c.StateStore.Close()
	c.after()
	return err
}

// closingTransport closes extra resources after the transport itself.
type closingTransport struct {
	transport.Transport
	after func()
}

func (c closingTransport) Close() error {
	err := c.Transport.Close()
	c.after()
	return err
}

// NewStateStore opens the checkpoint store selected by cfg.
func NewStateStore(ctx context.Context, cfg config.StoreConfig) (store.StateStore, error) {
	switch strings.ToLower(cfg.Type) {
	case "", StoreMemory:
		return memory.NewMemoryStore(), nil
	case StoreNoop:
		return noop.NewNoOpStore(), nil
	case StoreFS:
		return fsstore.NewFSStore(ctx, cfg.Dir)
	case StoreSQLite:
		return sqlite.NewSQLiteStore(ctx, cfg.Path)
	case StoreKV:
		kv, err := inmem.NewKVInMemKVStore(ctx, cfg.Bucket)
		if err != nil {
			return nil, err
		}
		return kvstore.NewKVStore(ctx, kv), nil
	case StoreJetStream:
		client, err := natsclient.NewNATSClient(ctx, cfg.NatsURL)
		if err != nil {
			return nil, err
		}
		kv, err := jetstream.NewKVJetStreamKVStore(ctx, cfg.Bucket, client)
		if err != nil {
			client.Close()
			return nil, err
		}
		return closingStore{StateStore: kvstore.NewKVStore(ctx, kv), after: client.Close}, nil
	case StoreRedis:
		client, err := redisclient.NewRedisClientFromConfig(redisclient.Config{
			Addrs:      redisclient.ParseAddrs(cfg.Redis.Addrs),
			User:       cfg.Redis.User,
			Password:   cfg.Redis.Password,
			MasterName: cfg.Redis.MasterName,
			DB:         cfg.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		var opts []redisstore.Option
		if cfg.Redis.Prefix != "" {
			opts = append(opts, redisstore.WithKeyPrefix(cfg.Redis.Prefix))
		}
		if cfg.Redis.Expiration > 0 {
			opts = append(opts, redisstore.WithExpiration(cfg.Redis.Expiration))
		}
		return redisstore.NewRedisStore(ctx, client, opts...), nil
	default:
		return nil, fmt.Errorf("unsupported store type %q", cfg.Type)
	}
}

// NewTransport connects to the other partitions as selected by cfg, nil for the none type.
func NewTransport(ctx context.Context, cfg config.Config) (transport.Transport, error) {
	tc := cfg.Transport
	switch strings.ToLower(tc.Type) {
	case "", TransportNone:
		return nil, nil
	case TransportNATS:
		client, err := natsclient.NewNATSClient(ctx, tc.NatsURL)
		if err != nil {
			return nil, err
		}
		t, err := natstransport.NewTransport(ctx, client, tc.Subject, cfg.Partitions, cfg.Partition)
		if err != nil {
			client.Close()
			return nil, err
		}
		return closingTransport{Transport: t, after: client.Close}, nil
	case TransportKafka:
		sc, err := kafka.ConfigFromYAML(tc.Kafka.Config)
		if err != nil {
			return nil, err
		}
		t, err := kafka.NewTransport(ctx, splitList(tc.Kafka.Brokers), tc.Kafka.Topic, sc, cfg.Partitions, cfg.Partition)
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unsupported transport type %q", tc.Type)
	}
}

// NewMembership returns the topology provider selected by cfg, with a function releasing it.
func NewMembership(ctx context.Context, cfg config.Config) (membership.Provider, func() error, error) {
	mc := cfg.Membership
	switch strings.ToLower(mc.Type) {
	case "", MembershipStatic:
		p, err := membership.NewStatic(cfg.Partitions, cfg.Partition)
		if err != nil {
			return nil, nil, err
		}
		return p, func() error { return nil }, nil
	case MembershipKV:
		if cfg.MemberID == "" {
			return nil, nil, fmt.Errorf("kv membership requires a member id")
		}
		url := mc.NatsURL
		if url == "" {
			url = cfg.Transport.NatsURL
		}
		client, err := natsclient.NewNATSClient(ctx, url)
		if err != nil {
			return nil, nil, err
		}
		kv, err := jetstream.NewKVJetStreamKVStore(ctx, mc.Bucket, client)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		log := logging.FromContext(ctx)
		watchCtx, cancel := context.WithCancel(ctx)
		p, err := membership.NewKVProvider(watchCtx, kv, cfg.MemberID,
			membership.Topology{PartitionCount: cfg.Partitions, LocalPartition: cfg.Partition},
			membership.WithOnChange(func(t membership.Topology) {
				log.Infow("Topology changed", zap.Int("partitions", t.PartitionCount), zap.Int("local", t.LocalPartition))
			}))
		if err != nil {
			cancel()
			kv.Close()
			client.Close()
			return nil, nil, err
		}
		return p, func() error {
			cancel()
			<-p.Done()
			kv.Close()
			client.Close()
			return nil
		}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported membership type %q", mc.Type)
	}
}

// FromConfig opens the store, the transport and the membership selected by cfg and returns the options
// handing them to the application. Everything opened is released by the application's Stop.
func FromConfig(ctx context.Context, cfg config.Config) ([]Option, error) {
	hash, err := shuffle.ParseHashAlgorithm(cfg.Hash)
	if err != nil {
		return nil, err
	}
	opts := []Option{
		WithHashAlgorithm(hash),
		WithStreamOptions(
			stream.WithCapacity(cfg.Stream.Capacity),
			stream.WithSendTimeout(cfg.Stream.SendTimeout),
			stream.WithDrainOnStop(cfg.Stream.DrainOnStop),
		),
		WithCheckpointOptions(
			checkpoint.WithWorkers(cfg.Checkpoint.Workers, cfg.Checkpoint.QueueSize),
			checkpoint.WithSaveTimeout(cfg.Checkpoint.SaveTimeout),
			checkpoint.WithRecoveryTimeout(cfg.Checkpoint.RecoveryTimeout),
			checkpoint.WithMaxConcurrentFetches(cfg.Checkpoint.MaxConcurrentFetches),
			checkpoint.WithFetchBreaker(cfg.Checkpoint.MaxConsecutiveFetchFailures, cfg.Checkpoint.FetchDisabledDuration),
		),
	}
	if cfg.Eviction.Schedule != "" {
		opts = append(opts, WithEvictionSchedule(cfg.Eviction.Schedule))
	}
	st, err := NewStateStore(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open the %q checkpoint store, %w", cfg.Store.Type, err)
	}
	opts = append(opts, WithStateStore(st))
	t, err := NewTransport(ctx, cfg)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("failed to open the %q transport, %w", cfg.Transport.Type, err), st.Close())
	}
	if t == nil {
		return opts, nil
	}
	opts = append(opts, WithTransport(t))
	p, release, err := NewMembership(ctx, cfg)
	if err != nil {
		return nil, multierr.Combine(fmt.Errorf("failed to start the %q membership, %w", cfg.Membership.Type, err), st.Close(), t.Close())
	}
	return append(opts, WithMembership(p), WithOnStop(release)), nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
