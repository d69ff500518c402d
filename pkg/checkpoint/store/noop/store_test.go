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

package noop

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/numaproj/keyflow/pkg/checkpoint/store"
)

func TestNoOpStore(t *testing.T) {
	ctx := context.Background()
	s := NewNoOpStore()
	id := store.ID{AppID: "a", UnitType: "t", Key: "k"}
	assert.NoError(t, s.Save(ctx, id, []byte("x")))
	_, err := s.Fetch(ctx, id)
	assert.ErrorIs(t, err, store.ErrNotFound)
	ids, err := s.ListKeys(ctx, "a")
	assert.NoError(t, err)
	assert.Empty(t, ids)
	assert.NoError(t, s.Delete(ctx, id))
	assert.NoError(t, s.Close())
}
