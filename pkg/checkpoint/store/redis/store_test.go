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

package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/numaproj/keyflow/pkg/checkpoint/store"
	redisclient "github.com/numaproj/keyflow/pkg/shared/clients/redis"
)

type mockUniversalClient struct {
	mock.Mock
	goredis.UniversalClient
}

func (m *mockUniversalClient) Get(ctx context.Context, key string) *goredis.StringCmd {
	args := m.Called(key)
	cmd := goredis.NewStringCmd(ctx)
	cmd.SetVal(args.String(0))
	cmd.SetErr(args.Error(1))
	return cmd
}

func (m *mockUniversalClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.StatusCmd {
	args := m.Called(key, value, expiration)
	cmd := goredis.NewStatusCmd(ctx)
	cmd.SetErr(args.Error(0))
	return cmd
}

func (m *mockUniversalClient) Del(ctx context.Context, keys ...string) *goredis.IntCmd {
	args := m.Called(keys)
	cmd := goredis.NewIntCmd(ctx)
	cmd.SetErr(args.Error(0))
	return cmd
}

func (m *mockUniversalClient) Scan(ctx context.Context, cursor uint64, match string, count int64) *goredis.ScanCmd {
	args := m.Called(cursor, match)
	cmd := goredis.NewScanCmd(ctx, nil)
	cmd.SetVal(args.Get(0).([]string), 0)
	return cmd
}

func (m *mockUniversalClient) Close() error {
	return m.Called().Error(0)
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	m := new(mockUniversalClient)
	s := NewRedisStore(ctx, &redisclient.RedisClient{Client: m}, WithKeyPrefix("p:"), WithExpiration(time.Hour))
	id := store.ID{AppID: "counter", UnitType: "Counter", Key: "333"}
	key := "p:" + id.Encode()

	m.On("Set", key, []byte("state"), time.Hour).Return(nil)
	require.NoError(t, s.Save(ctx, id, []byte("state")))

	m.On("Get", key).Return("state", nil).Once()
	data, err := s.Fetch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("state"), data)

	m.On("Get", key).Return("", goredis.Nil).Once()
	_, err = s.Fetch(ctx, id)
	assert.ErrorIs(t, err, store.ErrNotFound)

	m.On("Get", "p:"+store.ID{AppID: "x", UnitType: "y", Key: "z"}.Encode()).Return("", errors.New("timeout"))
	_, err = s.Fetch(ctx, store.ID{AppID: "x", UnitType: "y", Key: "z"})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, store.ErrNotFound)

	m.On("Scan", uint64(0), "p:"+store.EncodePart("counter")+".*").Return([]string{key, "p:garbage"})
	ids, err := s.ListKeys(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, []store.ID{id}, ids)

	m.On("Del", []string{key}).Return(nil)
	require.NoError(t, s.Delete(ctx, id))

	m.On("Close").Return(nil)
	require.NoError(t, s.Close())
	m.AssertExpectations(t)
}
