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

package nats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	natsclient "github.com/numaproj/keyflow/pkg/shared/clients/nats"
	natstest "github.com/numaproj/keyflow/pkg/shared/clients/nats/test"
)

func TestTransport(t *testing.T) {
	s := natstest.RunNatsServer(t)
	defer s.Shutdown()
	ctx := context.Background()

	clientA := natsclient.NewTestClientWithServer(t, s)
	defer clientA.Close()
	clientB := natsclient.NewTestClientWithServer(t, s)
	defer clientB.Close()

	a, err := NewTransport(ctx, clientA, "keyflow.wc", 2, 0)
	require.NoError(t, err)
	b, err := NewTransport(ctx, clientB, "keyflow.wc", 2, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, a.PartitionCount())
	assert.Equal(t, 1, b.LocalPartition())

	assert.True(t, a.Send(ctx, 1, []byte("to b")))
	assert.True(t, b.Send(ctx, 0, []byte("to a")))
	assert.False(t, a.Send(ctx, 2, []byte("nowhere")))

	rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	got, err := b.Receive(rctx)
	require.NoError(t, err)
	assert.Equal(t, "to b", string(got))
	got, err = a.Receive(rctx)
	require.NoError(t, err)
	assert.Equal(t, "to a", string(got))

	short, cancelShort := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancelShort()
	got, err = a.Receive(short)
	assert.NoError(t, err)
	assert.Nil(t, got)

	assert.NoError(t, a.Close())
	assert.NoError(t, b.Close())

	_, err = NewTransport(ctx, clientA, "keyflow.wc", 2, 2)
	assert.Error(t, err)
	assert.Equal(t, "keyflow.wc.p3", Subject("keyflow.wc", 3))
}
