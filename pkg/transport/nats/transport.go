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

// Package nats carries events between partitions on core NATS, one subject per partition.
package nats

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	natsclient "github.com/numaproj/keyflow/pkg/shared/clients/nats"
	"github.com/numaproj/keyflow/pkg/shared/logging"
	"github.com/numaproj/keyflow/pkg/transport"
)

const name = "nats"

// Transport publishes to the subjects of the other partitions and reads the subject of the local one.
type Transport struct {
	client     *natsclient.Client
	prefix     string
	partitions int
	local      int
	sub        *nats.Subscription
	log        *zap.SugaredLogger
}

var _ transport.Transport = (*Transport)(nil)

// Subject returns the subject of a partition.
func Subject(prefix string, partition int) string {
	return fmt.Sprintf("%s.p%d", prefix, partition)
}

// NewTransport subscribes to the subject of partition local. prefix is usually derived from the application id.
func NewTransport(ctx context.Context, client *natsclient.Client, prefix string, partitions, local int) (*Transport, error) {
	if partitions < 1 || local < 0 || local >= partitions {
		return nil, fmt.Errorf("invalid partition %d of %d", local, partitions)
	}
	sub, err := client.Conn().SubscribeSync(Subject(prefix, local))
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to partition %d, %w", local, err)
	}
	// a slow consumer only drops messages, the senders already moved on
	if err := sub.SetPendingLimits(64*1024, 64*1024*1024); err != nil {
		_ = sub.Unsubscribe()
		return nil, err
	}
	// make sure the subscription is known to the server before anyone publishes
	if err := client.Conn().Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, err
	}
	return &Transport{
		client:     client,
		prefix:     prefix,
		partitions: partitions,
		local:      local,
		sub:        sub,
		log:        logging.FromContext(ctx).With("transport", name, "partition", local),
	}, nil
}

func (t *Transport) Send(_ context.Context, partition int, data []byte) bool {
	if partition < 0 || partition >= t.partitions {
		transport.SentMessages.WithLabelValues(name, transport.OutcomeFailed).Inc()
		return false
	}
	if err := t.client.Conn().Publish(Subject(t.prefix, partition), data); err != nil {
		transport.SentMessages.WithLabelValues(name, transport.OutcomeFailed).Inc()
		t.log.Warnw("Failed to publish", zap.Int("to", partition), zap.Error(err))
		return false
	}
	transport.SentMessages.WithLabelValues(name, transport.OutcomeSent).Inc()
	return true
}

func (t *Transport) Receive(ctx context.Context) ([]byte, error) {
	msg, err := t.sub.NextMsgWithContext(ctx)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, err
	}
	transport.ReceivedMessages.WithLabelValues(name).Inc()
	return msg.Data, nil
}

func (t *Transport) PartitionCount() int {
	return t.partitions
}

func (t *Transport) LocalPartition() int {
	return t.local
}

// Close unsubscribes, the client is owned by the caller.
func (t *Transport) Close() error {
	if err := t.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
		return err
	}
	return nil
}
