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

// Package loopback is an in process transport, every partition of an application runs in the same process.
package loopback

import (
	"context"
	"fmt"

	"github.com/numaproj/keyflow/pkg/transport"
)

const name = "loopback"

// Network holds one queue per partition.
type Network struct {
	queues []chan []byte
}

// NewNetwork returns a network of partitions queues holding up to capacity messages each.
func NewNetwork(partitions, capacity int) (*Network, error) {
	if partitions < 1 || capacity < 1 {
		return nil, fmt.Errorf("partitions and capacity should be positive, got %d and %d", partitions, capacity)
	}
	n := &Network{queues: make([]chan []byte, partitions)}
	for i := range n.queues {
		n.queues[i] = make(chan []byte, capacity)
	}
	return n, nil
}

// Endpoint returns the transport of partition local.
func (n *Network) Endpoint(local int) (*Endpoint, error) {
	if local < 0 || local >= len(n.queues) {
		return nil, fmt.Errorf("partition %d out of range [0, %d)", local, len(n.queues))
	}
	return &Endpoint{network: n, local: local}, nil
}

// Endpoint is the view of the network from one partition.
type Endpoint struct {
	network *Network
	local   int
}

var _ transport.Transport = (*Endpoint)(nil)

// Send does not wait, a full queue refuses the message.
func (e *Endpoint) Send(ctx context.Context, partition int, data []byte) bool {
	if partition < 0 || partition >= len(e.network.queues) || ctx.Err() != nil {
		transport.SentMessages.WithLabelValues(name, transport.OutcomeFailed).Inc()
		return false
	}
	msg := make([]byte, len(data))
	copy(msg, data)
	select {
	case e.network.queues[partition] <- msg:
		transport.SentMessages.WithLabelValues(name, transport.OutcomeSent).Inc()
		return true
	default:
		transport.SentMessages.WithLabelValues(name, transport.OutcomeFailed).Inc()
		return false
	}
}

func (e *Endpoint) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-e.network.queues[e.local]:
		transport.ReceivedMessages.WithLabelValues(name).Inc()
		return msg, nil
	case <-ctx.Done():
		return nil, nil
	}
}

func (e *Endpoint) PartitionCount() int {
	return len(e.network.queues)
}

func (e *Endpoint) LocalPartition() int {
	return e.local
}

func (e *Endpoint) Close() error {
	return nil
}
