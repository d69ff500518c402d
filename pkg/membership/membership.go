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

// Package membership tells a process how many partitions the application has and which one is local.
package membership

import (
	"fmt"
	"sync"

	"github.com/numaproj/keyflow/pkg/shuffle"
)

// Topology is the partition layout seen by one process.
type Topology struct {
	PartitionCount int
	LocalPartition int
}

// Validate returns an error if the local partition is not one of the partitions.
func (t Topology) Validate() error {
	if t.PartitionCount < 1 {
		return fmt.Errorf("partition count should be at least 1, got %d", t.PartitionCount)
	}
	if t.LocalPartition < 0 || t.LocalPartition >= t.PartitionCount {
		return fmt.Errorf("local partition %d out of range [0, %d)", t.LocalPartition, t.PartitionCount)
	}
	return nil
}

// Provider returns the current topology, it may change over time.
type Provider interface {
	Topology() Topology
}

// Static is a fixed topology.
type Static struct {
	topology Topology
}

var _ Provider = (*Static)(nil)

// NewStatic returns a provider which always returns the same topology.
func NewStatic(partitionCount, local int) (*Static, error) {
	t := Topology{PartitionCount: partitionCount, LocalPartition: local}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &Static{topology: t}, nil
}

func (s *Static) Topology() Topology {
	return s.topology
}

// Partitioner maps keys to partitions with the current topology of a provider.
type Partitioner struct {
	provider Provider
	algo     shuffle.HashAlgorithm

	lock    sync.Mutex
	shuffle *shuffle.Shuffle
}

// NewPartitioner returns a partitioner hashing keys with algo.
func NewPartitioner(provider Provider, algo shuffle.HashAlgorithm) *Partitioner {
	return &Partitioner{provider: provider, algo: algo}
}

// PartitionFor returns the partition owning key.
func (p *Partitioner) PartitionFor(key string) int {
	count := p.provider.Topology().PartitionCount
	p.lock.Lock()
	if p.shuffle == nil || p.shuffle.PartitionCount() != count {
		s, err := shuffle.NewShuffle(count, shuffle.WithHashAlgorithm(p.algo))
		if err != nil {
			// an invalid topology keeps everything local
			p.lock.Unlock()
			return p.LocalPartition()
		}
		p.shuffle = s
	}
	s := p.shuffle
	p.lock.Unlock()
	return s.PartitionFor(key)
}

func (p *Partitioner) PartitionCount() int {
	return p.provider.Topology().PartitionCount
}

func (p *Partitioner) LocalPartition() int {
	return p.provider.Topology().LocalPartition
}
