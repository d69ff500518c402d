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

package kafka

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMocks(t *testing.T) (*mocks.SyncProducer, *mocks.Consumer) {
	conf := mocks.NewTestConfig()
	applyRequired(conf)
	return mocks.NewSyncProducer(t, conf), mocks.NewConsumer(t, conf)
}

func TestTransport_Send(t *testing.T) {
	producer, consumer := newMocks(t)
	consumer.ExpectConsumePartition("events", 0, sarama.OffsetNewest)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != "payload" {
			return fmt.Errorf("unexpected value %q", val)
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(errors.New("broker down"))

	tr, err := NewTransportWithClients(context.Background(), producer, consumer, "events", 3, 0)
	require.NoError(t, err)
	ctx := context.Background()
	assert.True(t, tr.Send(ctx, 2, []byte("payload")))
	assert.False(t, tr.Send(ctx, 1, []byte("payload")))
	assert.False(t, tr.Send(ctx, 3, []byte("out of range")))
	assert.Equal(t, 3, tr.PartitionCount())
	assert.Equal(t, 0, tr.LocalPartition())
	assert.NoError(t, tr.Close())
}

func TestTransport_Receive(t *testing.T) {
	producer, consumer := newMocks(t)
	pc := consumer.ExpectConsumePartition("events", 1, sarama.OffsetNewest)
	pc.YieldMessage(&sarama.ConsumerMessage{Topic: "events", Partition: 1, Value: []byte("hello")})

	tr, err := NewTransportWithClients(context.Background(), producer, consumer, "events", 2, 1)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got, err := tr.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	short, cancelShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelShort()
	got, err = tr.Receive(short)
	assert.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, tr.Close())
}

func TestNewTransportWithClients_BadPartition(t *testing.T) {
	producer, consumer := newMocks(t)
	_, err := NewTransportWithClients(context.Background(), producer, consumer, "events", 2, 2)
	assert.Error(t, err)
	assert.NoError(t, producer.Close())
	assert.NoError(t, consumer.Close())
}
