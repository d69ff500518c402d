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

package membership

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/numaproj/keyflow/pkg/shared/kvs"
	"github.com/numaproj/keyflow/pkg/shared/logging"
)

const (
	// PartitionCountKey holds the number of partitions of the application.
	PartitionCountKey = "partitions"
	memberKeyPrefix   = "member."
)

// MemberKey returns the key holding the partition assigned to a member.
func MemberKey(memberID string) string {
	return memberKeyPrefix + memberID
}

// PublishPartitionCount stores the partition count.
func PublishPartitionCount(ctx context.Context, kv kvs.Store, count int) error {
	if count < 1 {
		return fmt.Errorf("partition count should be at least 1, got %d", count)
	}
	return kv.PutKV(ctx, PartitionCountKey, []byte(strconv.Itoa(count)))
}

// Assign stores the partition of a member.
func Assign(ctx context.Context, kv kvs.Store, memberID string, partition int) error {
	if partition < 0 {
		return fmt.Errorf("partition can not be negative, got %d", partition)
	}
	return kv.PutKV(ctx, MemberKey(memberID), []byte(strconv.Itoa(partition)))
}

// KVProvider follows the topology stored in a key-value bucket. Until the bucket holds a valid
// topology for the member, the initial one is used.
type KVProvider struct {
	kv       kvs.Store
	memberID string
	log      *zap.SugaredLogger
	onChange func(Topology)

	lock    sync.RWMutex
	count   int
	local   int
	current Topology

	done chan struct{}
}

var _ Provider = (*KVProvider)(nil)

// KVOption configures a KVProvider
type KVOption func(*KVProvider)

// WithOnChange is called with every new valid topology.
func WithOnChange(f func(Topology)) KVOption {
	return func(p *KVProvider) {
		p.onChange = f
	}
}

// NewKVProvider reads the topology of memberID and keeps following it until ctx is done.
func NewKVProvider(ctx context.Context, kv kvs.Store, memberID string, initial Topology, opts ...KVOption) (*KVProvider, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	p := &KVProvider{
		kv:       kv,
		memberID: memberID,
		log:      logging.FromContext(ctx).With("member", memberID),
		count:    -1,
		local:    -1,
		current:  initial,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	for _, k := range []string{PartitionCountKey, MemberKey(memberID)} {
		v, err := kv.GetValue(ctx, k)
		if errors.Is(err, kvs.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %q, %w", k, err)
		}
		p.apply(k, v, kvs.OpPut)
	}
	go p.watch(ctx)
	return p, nil
}

func (p *KVProvider) Topology() Topology {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return p.current
}

// Done is closed when the provider stopped following the bucket.
func (p *KVProvider) Done() <-chan struct{} {
	return p.done
}

func (p *KVProvider) watch(ctx context.Context) {
	defer close(p.done)
	kvs.WatchUntilDone(ctx, p.kv.Watch(ctx), func(e kvs.Entry) {
		p.apply(e.Key(), e.Value(), e.Operation())
	})
}

func (p *KVProvider) apply(key string, value []byte, op kvs.Op) {
	if key != PartitionCountKey && key != MemberKey(p.memberID) {
		return
	}
	n := -1
	if op == kvs.OpPut {
		v, err := strconv.Atoi(string(value))
		if err != nil {
			p.log.Warnw("Ignoring invalid topology value", zap.String("key", key), zap.ByteString("value", value))
			return
		}
		n = v
	}
	p.lock.Lock()
	if key == PartitionCountKey {
		p.count = n
	} else {
		p.local = n
	}
	next := Topology{PartitionCount: p.count, LocalPartition: p.local}
	changed := next.Validate() == nil && next != p.current
	if changed {
		p.current = next
	}
	p.lock.Unlock()
	if changed {
		p.log.Infow("Topology changed", zap.Int("partitions", next.PartitionCount), zap.Int("local", next.LocalPartition))
		if p.onChange != nil {
			p.onChange(next)
		}
	}
}
