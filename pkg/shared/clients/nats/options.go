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

import "github.com/nats-io/nats.go"

// Options for the NATS client
type Options struct {
	user        string
	password    string
	tlsEnabled  bool
	natsOptions []nats.Option
}

// Option is a function on the options of the NATS client
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{}
}

// WithUserInfo sets the credentials
func WithUserInfo(user, password string) Option {
	return func(o *Options) {
		o.user = user
		o.password = password
	}
}

// WithTLS enables TLS without server certificate verification
func WithTLS(enabled bool) Option {
	return func(o *Options) {
		o.tlsEnabled = enabled
	}
}

// WithNatsOptions appends raw nats.go options
func WithNatsOptions(opts ...nats.Option) Option {
	return func(o *Options) {
		o.natsOptions = append(o.natsOptions, opts...)
	}
}
