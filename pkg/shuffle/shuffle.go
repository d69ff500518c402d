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

package shuffle

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/spaolacci/murmur3"
)

// HashAlgorithm names the hash used to map keys to partitions.
type HashAlgorithm string

const (
	// HashXXHash64 is the default partitioning hash.
	HashXXHash64 HashAlgorithm = "xxhash64"
	// HashMurmur3 is the 32 bit murmur3 hash.
	HashMurmur3 HashAlgorithm = "murmur3"
)

// ParseHashAlgorithm validates a hash algorithm name, an empty name means the default.
func ParseHashAlgorithm(s string) (HashAlgorithm, error) {
	switch HashAlgorithm(s) {
	case "":
		return HashXXHash64, nil
	case HashXXHash64, HashMurmur3:
		return HashAlgorithm(s), nil
	default:
		return "", fmt.Errorf("unsupported hash algorithm %q", s)
	}
}

// Hash returns the hash of key under the given algorithm.
func Hash(algo HashAlgorithm, key string) uint64 {
	if algo == HashMurmur3 {
		return uint64(murmur3.Sum32([]byte(key)))
	}
	return xxhash.Sum64String(key)
}

// Shuffle maps keys onto a fixed number of partitions. It keeps no per call state and is safe for
// concurrent use.
type Shuffle struct {
	partitionCount int
	algo           HashAlgorithm
}

// Option configures a Shuffle.
type Option func(*Shuffle)

// WithHashAlgorithm selects the hash algorithm.
func WithHashAlgorithm(algo HashAlgorithm) Option {
	return func(s *Shuffle) {
		s.algo = algo
	}
}

// NewShuffle returns a shuffle over partitionCount partitions.
func NewShuffle(partitionCount int, opts ...Option) (*Shuffle, error) {
	if partitionCount < 1 {
		return nil, fmt.Errorf("partition count should be at least 1, got %d", partitionCount)
	}
	s := &Shuffle{partitionCount: partitionCount, algo: HashXXHash64}
	for _, opt := range opts {
		opt(s)
	}
	if _, err := ParseHashAlgorithm(string(s.algo)); err != nil {
		return nil, err
	}
	return s, nil
}

// PartitionFor returns the partition owning key, in [0, PartitionCount()).
func (s *Shuffle) PartitionFor(key string) int {
	if s.partitionCount == 1 {
		return 0
	}
	return int(Hash(s.algo, key) % uint64(s.partitionCount))
}

// PartitionCount returns the number of partitions.
func (s *Shuffle) PartitionCount() int {
	return s.partitionCount
}

// Algorithm returns the configured hash algorithm.
func (s *Shuffle) Algorithm() HashAlgorithm {
	return s.algo
}

// ShuffleKeys groups keys by their owning partition.
func (s *Shuffle) ShuffleKeys(keys []string) map[int][]string {
	result := make(map[int][]string)
	for _, k := range keys {
		p := s.PartitionFor(k)
		result[p] = append(result[p], k)
	}
	return result
}
