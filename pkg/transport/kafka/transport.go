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

// Package kafka carries events between partitions on a kafka topic, partition i of the application
// reads partition i of the topic.
package kafka

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/numaproj/keyflow/pkg/shared/logging"
	"github.com/numaproj/keyflow/pkg/transport"
)

const name = "kafka"

// Transport produces to the topic partition of the destination and consumes the local one.
type Transport struct {
	topic      string
	partitions int
	local      int
	producer   sarama.SyncProducer
	consumer   sarama.Consumer
	pc         sarama.PartitionConsumer
	log        *zap.SugaredLogger
}

var _ transport.Transport = (*Transport)(nil)

// NewTransport connects to brokers. The topic must have at least partitions partitions.
func NewTransport(ctx context.Context, brokers []string, topic string, config *sarama.Config, partitions, local int) (*Transport, error) {
	if config == nil {
		config = sarama.NewConfig()
	}
	applyRequired(config)
	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer, %w", err)
	}
	consumer, err := sarama.NewConsumer(brokers, config)
	if err != nil {
		_ = producer.Close()
		return nil, fmt.Errorf("failed to create kafka consumer, %w", err)
	}
	t, err := NewTransportWithClients(ctx, producer, consumer, topic, partitions, local)
	if err != nil {
		_ = producer.Close()
		_ = consumer.Close()
		return nil, err
	}
	return t, nil
}

// NewTransportWithClients uses the given producer and consumer, the transport owns them afterwards.
// The producer must use the manual partitioner.
func NewTransportWithClients(ctx context.Context, producer sarama.SyncProducer, consumer sarama.Consumer, topic string, partitions, local int) (*Transport, error) {
	if partitions < 1 || local < 0 || local >= partitions {
		return nil, fmt.Errorf("invalid partition %d of %d", local, partitions)
	}
	pc, err := consumer.ConsumePartition(topic, int32(local), sarama.OffsetNewest)
	if err != nil {
		return nil, fmt.Errorf("failed to consume partition %d of topic %q, %w", local, topic, err)
	}
	return &Transport{
		topic:      topic,
		partitions: partitions,
		local:      local,
		producer:   producer,
		consumer:   consumer,
		pc:         pc,
		log:        logging.FromContext(ctx).With("transport", name, "topic", topic, "partition", local),
	}, nil
}

func (t *Transport) Send(_ context.Context, partition int, data []byte) bool {
	if partition < 0 || partition >= t.partitions {
		transport.SentMessages.WithLabelValues(name, transport.OutcomeFailed).Inc()
		return false
	}
	_, _, err := t.producer.SendMessage(&sarama.ProducerMessage{
		Topic:     t.topic,
		Partition: int32(partition),
		Value:     sarama.ByteEncoder(data),
	})
	if err != nil {
		transport.SentMessages.WithLabelValues(name, transport.OutcomeFailed).Inc()
		t.log.Warnw("SendMessage failed", zap.Int("to", partition), zap.Error(err))
		return false
	}
	transport.SentMessages.WithLabelValues(name, transport.OutcomeSent).Inc()
	return true
}

func (t *Transport) Receive(ctx context.Context) ([]byte, error) {
	for {
		select {
		case msg, ok := <-t.pc.Messages():
			if !ok {
				return nil, fmt.Errorf("partition consumer of %q is closed", t.topic)
			}
			transport.ReceivedMessages.WithLabelValues(name).Inc()
			return msg.Value, nil
		case err, ok := <-t.pc.Errors():
			if !ok {
				return nil, fmt.Errorf("partition consumer of %q is closed", t.topic)
			}
			return nil, err
		case <-ctx.Done():
			return nil, nil
		}
	}
}

func (t *Transport) PartitionCount() int {
	return t.partitions
}

func (t *Transport) LocalPartition() int {
	return t.local
}

func (t *Transport) Close() error {
	t.log.Info("Closing kafka transport...")
	return multierr.Combine(t.pc.Close(), t.consumer.Close(), t.producer.Close())
}
