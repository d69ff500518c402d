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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/numaproj/keyflow/pkg/shared/kvs/inmem"
	"github.com/numaproj/keyflow/pkg/shuffle"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestStatic(t *testing.T) {
	s, err := NewStatic(4, 3)
	require.NoError(t, err)
	assert.Equal(t, Topology{PartitionCount: 4, LocalPartition: 3}, s.Topology())
	_, err = NewStatic(0, 0)
	assert.Error(t, err)
	_, err = NewStatic(2, 2)
	assert.Error(t, err)
}

func TestPartitioner(t *testing.T) {
	s, err := NewStatic(4, 1)
	require.NoError(t, err)
	p := NewPartitioner(s, shuffle.HashXXHash64)
	sh, err := shuffle.NewShuffle(4)
	require.NoError(t, err)
	for _, k := range []string{"", "333", "to", "be"} {
		assert.Equal(t, sh.PartitionFor(k), p.PartitionFor(k))
	}
	assert.Equal(t, 4, p.PartitionCount())
	assert.Equal(t, 1, p.LocalPartition())
}

func TestKVProvider(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	kv, err := inmem.NewKVInMemKVStore(ctx, "topology")
	require.NoError(t, err)
	defer kv.Close()

	require.NoError(t, PublishPartitionCount(ctx, kv, 2))
	changes := make(chan Topology, 10)
	p, err := NewKVProvider(ctx, kv, "m1", Topology{PartitionCount: 1}, WithOnChange(func(t Topology) { changes <- t }))
	require.NoError(t, err)
	// the member is not assigned yet
	assert.Equal(t, Topology{PartitionCount: 1}, p.Topology())

	require.NoError(t, Assign(ctx, kv, "m1", 1))
	select {
	case got := <-changes:
		assert.Equal(t, Topology{PartitionCount: 2, LocalPartition: 1}, got)
	case <-time.After(5 * time.Second):
		t.Fatal("topology change not observed")
	}
	assert.Equal(t, Topology{PartitionCount: 2, LocalPartition: 1}, p.Topology())

	// other members and invalid layouts are ignored
	require.NoError(t, Assign(ctx, kv, "m2", 0))
	require.NoError(t, PublishPartitionCount(ctx, kv, 3))
	assert.Eventually(t, func() bool { return p.Topology().PartitionCount == 3 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, kv.PutKV(ctx, PartitionCountKey, []byte("many")))
	assert.Equal(t, 3, p.Topology().PartitionCount)

	assert.Error(t, PublishPartitionCount(ctx, kv, 0))
	assert.Error(t, Assign(ctx, kv, "m1", -1))
	cancel()
	<-p.Done()
}
