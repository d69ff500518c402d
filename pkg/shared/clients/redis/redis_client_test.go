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

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

// MockRedisClient mocks the universal client
type MockRedisClient struct {
	mock.Mock
	redis.UniversalClient
}

func (m *MockRedisClient) Get(ctx context.Context, key string) *redis.StringCmd {
	args := m.Called(ctx, key)
	cmd := redis.NewStringCmd(ctx)
	cmd.SetVal(args.String(0))
	cmd.SetErr(args.Error(1))
	return cmd
}

func (m *MockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	args := m.Called(ctx, key, value, expiration)
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetErr(args.Error(0))
	return cmd
}

func (m *MockRedisClient) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	args := m.Called(ctx, keys)
	cmd := redis.NewIntCmd(ctx)
	cmd.SetErr(args.Error(0))
	return cmd
}

func (m *MockRedisClient) Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd {
	args := m.Called(ctx, cursor, match, count)
	cmd := redis.NewScanCmd(ctx, nil)
	cmd.SetVal(args.Get(0).([]string), args.Get(1).(uint64))
	cmd.SetErr(args.Error(2))
	return cmd
}

func (m *MockRedisClient) Ping(ctx context.Context) *redis.StatusCmd {
	args := m.Called(ctx)
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetErr(args.Error(0))
	return cmd
}

type RedisClientTestSuite struct {
	suite.Suite
	mock   *MockRedisClient
	client *RedisClient
}

func (s *RedisClientTestSuite) SetupTest() {
	s.mock = new(MockRedisClient)
	s.client = &RedisClient{Client: s.mock}
}

func (s *RedisClientTestSuite) TestGet() {
	ctx := context.Background()
	s.mock.On("Get", ctx, "found").Return("value", nil)
	s.mock.On("Get", ctx, "missing").Return("", redis.Nil)
	s.mock.On("Get", ctx, "broken").Return("", errors.New("conn reset"))

	v, err := s.client.Get(ctx, "found")
	s.NoError(err)
	s.Equal([]byte("value"), v)

	_, err = s.client.Get(ctx, "missing")
	s.ErrorIs(err, ErrNotFound)

	_, err = s.client.Get(ctx, "broken")
	s.Error(err)
	s.NotErrorIs(err, ErrNotFound)
}

func (s *RedisClientTestSuite) TestSetAndDelete() {
	ctx := context.Background()
	s.mock.On("Set", ctx, "k", []byte("v"), time.Minute).Return(nil)
	s.mock.On("Del", ctx, []string{"k"}).Return(nil)
	s.NoError(s.client.Set(ctx, "k", []byte("v"), WithExpiration(time.Minute)))
	s.NoError(s.client.DeleteKeys(ctx, "k"))
	s.mock.AssertExpectations(s.T())
}

func (s *RedisClientTestSuite) TestScanKeys() {
	ctx := context.Background()
	s.mock.On("Scan", ctx, uint64(0), "ckpt:*", int64(100)).Return([]string{"ckpt:a"}, uint64(7), nil)
	s.mock.On("Scan", ctx, uint64(7), "ckpt:*", int64(100)).Return([]string{"ckpt:b"}, uint64(0), nil)
	keys, err := s.client.ScanKeys(ctx, "ckpt:*")
	s.NoError(err)
	s.Equal([]string{"ckpt:a", "ckpt:b"}, keys)
}

func (s *RedisClientTestSuite) TestScanKeysError() {
	ctx := context.Background()
	s.mock.On("Scan", ctx, uint64(0), "*", int64(5)).Return([]string{}, uint64(0), errors.New("boom"))
	_, err := s.client.ScanKeys(ctx, "*", WithScanCount(5))
	s.Error(err)
}

func (s *RedisClientTestSuite) TestPing() {
	ctx := context.Background()
	s.mock.On("Ping", ctx).Return(nil)
	s.NoError(s.client.Ping(ctx))
}

func TestRedisClientTestSuite(t *testing.T) {
	suite.Run(t, new(RedisClientTestSuite))
}

func TestNewRedisClientFromConfig(t *testing.T) {
	_, err := NewRedisClientFromConfig(Config{})
	assert.Error(t, err)
	c, err := NewRedisClientFromConfig(Config{Addrs: []string{"localhost:6379"}, User: "u", Password: "p"})
	assert.NoError(t, err)
	assert.NotNil(t, c.Client)
	assert.NoError(t, c.Close())
}
