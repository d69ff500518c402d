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

// Package storetest holds the behavior shared by every StateStore implementation, run by their tests.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/numaproj/keyflow/pkg/checkpoint/store"
)

// RunStateStoreTests exercises s, which must be empty.
func RunStateStoreTests(t *testing.T, s store.StateStore) {
	t.Helper()
	ctx := context.Background()
	id := store.ID{AppID: "app", UnitType: "Counter", Key: "333"}
	other := store.ID{AppID: "other", UnitType: "Counter", Key: "333"}

	t.Run("fetch missing", func(t *testing.T) {
		_, err := s.Fetch(ctx, id)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("save and fetch", func(t *testing.T) {
		require.NoError(t, s.Save(ctx, id, []byte("v1")))
		require.NoError(t, s.Save(ctx, id, []byte("v2")))
		data, err := s.Fetch(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), data)
	})

	t.Run("empty key and odd characters", func(t *testing.T) {
		odd := store.ID{AppID: "app", UnitType: "Counter", Key: ""}
		require.NoError(t, s.Save(ctx, odd, []byte("empty")))
		weird := store.ID{AppID: "app", UnitType: "Counter", Key: "a/b^c d"}
		require.NoError(t, s.Save(ctx, weird, []byte("weird")))
		data, err := s.Fetch(ctx, odd)
		require.NoError(t, err)
		assert.Equal(t, []byte("empty"), data)
		data, err = s.Fetch(ctx, weird)
		require.NoError(t, err)
		assert.Equal(t, []byte("weird"), data)
	})

	t.Run("list is scoped to the app", func(t *testing.T) {
		require.NoError(t, s.Save(ctx, other, []byte("o")))
		ids, err := s.ListKeys(ctx, "app")
		require.NoError(t, err)
		store.SortIDs(ids)
		assert.Equal(t, []store.ID{
			{AppID: "app", UnitType: "Counter", Key: ""},
			{AppID: "app", UnitType: "Counter", Key: "333"},
			{AppID: "app", UnitType: "Counter", Key: "a/b^c d"},
		}, ids)
		ids, err = s.ListKeys(ctx, "none")
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, id))
		require.NoError(t, s.Delete(ctx, id))
		_, err := s.Fetch(ctx, id)
		assert.ErrorIs(t, err, store.ErrNotFound)
		data, err := s.Fetch(ctx, other)
		require.NoError(t, err)
		assert.Equal(t, []byte("o"), data)
	})

	t.Run("concurrent saves of distinct ids", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				cid := store.ID{AppID: "conc", UnitType: "T", Key: fmt.Sprintf("k%d", i)}
				assert.NoError(t, s.Save(ctx, cid, []byte(cid.Key)))
			}(i)
		}
		wg.Wait()
		ids, err := s.ListKeys(ctx, "conc")
		require.NoError(t, err)
		assert.Len(t, ids, 20)
	})

	t.Run("close", func(t *testing.T) {
		assert.NoError(t, s.Close())
	})
}
