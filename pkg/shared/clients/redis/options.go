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
	"time"
)

// Options for redis commands
type Options struct {
	// Expiration is the TTL of written keys, zero keeps them forever
	Expiration time.Duration
	// ScanCount is the COUNT hint of SCAN iterations
	ScanCount int64
}

// Option to apply different options
type Option interface {
	Apply(*Options)
}

func applyOptions(opts []Option) *Options {
	o := &Options{ScanCount: 100}
	for _, opt := range opts {
		if opt != nil {
			opt.Apply(o)
		}
	}
	return o
}

// expiration option
type expiration time.Duration

func (e expiration) Apply(o *Options) {
	o.Expiration = time.Duration(e)
}

// WithExpiration sets the TTL of written keys
func WithExpiration(t time.Duration) Option {
	return expiration(t)
}

// scanCount option
type scanCount int64

func (s scanCount) Apply(o *Options) {
	o.ScanCount = int64(s)
}

// WithScanCount sets the SCAN count hint
func WithScanCount(n int64) Option {
	return scanCount(n)
}
