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


package kvs_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/numaproj/keyflow/pkg/shared/kvs"
	"github.com/numaproj/keyflow/pkg/shared/kvs/inmem"
)

func TestWatchUntilDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store, err := inmem.NewKVInMemKVStore(ctx, "watch")
	require.NoError(t, err)

	w := store.Watch(ctx)
	require.NoError(t, store.PutKV(ctx, "a", []byte("1")))
	require.NoError(t, store.DeleteKey(ctx, "a"))

	var ops []string
	kvs.WatchUntilDone(ctx, w, func(e kvs.Entry) {
		ops = append(ops, e.Key()+":"+e.Operation().String())
		if len(ops) == 2 {
			cancel()
		}
	})
	assert.Equal(t, []string{"a:put", "a:delete"}, ops)
	store.Close()
}

func TestOpString(t *testing.T) {
	assert.Equal(t, "purge", kvs.OpPurge.String())
	assert.Equal(t, "unknown", kvs.Op(9).String())
}
