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

package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/numaproj/keyflow/pkg/unit"
)

func TestManager(t *testing.T) {
	h := &hooks{}
	clock := &fakeClock{now: time.Unix(0, 0)}
	m, err := NewManager(context.Background(), "app", WithClock(clock.Now))
	require.NoError(t, err)
	typ := newTestType(t, h, unit.WithTTL(time.Second))
	_, err = m.Register(typ)
	require.NoError(t, err)
	_, err = m.Register(typ)
	assert.Error(t, err)

	_, err = m.GetOrCreate(context.Background(), "nope", "k")
	assert.Error(t, err)
	_, err = m.GetOrCreate(context.Background(), "counter", "k1")
	require.NoError(t, err)
	_, err = m.GetOrCreate(context.Background(), "counter", "k2")
	require.NoError(t, err)
	assert.Equal(t, 2, m.Len())
	assert.Len(t, m.Caches(), 1)

	clock.Advance(2 * time.Second)
	assert.Equal(t, 2, m.EvictIfNeeded())
	assert.Equal(t, 0, m.Len())

	_, err = m.GetOrCreate(context.Background(), "counter", "k3")
	require.NoError(t, err)
	m.ShutDown()
	assert.Equal(t, 0, m.Len())
	assert.ElementsMatch(t, []string{"k1", "k2", "k3"}, h.removed)
}

func TestNewManager_BadOption(t *testing.T) {
	_, err := NewManager(context.Background(), "app", WithClock(nil))
	assert.Error(t, err)
}
