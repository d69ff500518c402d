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

// Package keyed resolves the routing key of an event.
package keyed

import (
	"strings"

	"github.com/numaproj/keyflow/pkg/event"
)

// DefaultSeparator joins the values returned by a Finder.
const DefaultSeparator = "^"

// Finder extracts the key values of an event. It must be a pure function of the event.
// Returning no values yields the empty key.
type Finder func(e event.Event) []string

// Key resolves the routing key of events with a Finder.
type Key struct {
	finder    Finder
	separator string
}

// Option configures a Key.
type Option func(*Key)

// WithSeparator overrides the separator placed between key values.
func WithSeparator(sep string) Option {
	return func(k *Key) {
		k.separator = sep
	}
}

// NewKey returns a key resolver over finder.
func NewKey(finder Finder, opts ...Option) *Key {
	k := &Key{finder: finder, separator: DefaultSeparator}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Get returns the routing key of e.
func (k *Key) Get(e event.Event) string {
	if k == nil || k.finder == nil {
		return ""
	}
	return strings.Join(k.finder(e), k.separator)
}

// Resolve returns the routing key of e using the default separator.
func Resolve(e event.Event, finder Finder) string {
	return NewKey(finder).Get(e)
}

// AttributeFinder returns a finder reading the named attributes of generic events in order.
// Missing attributes contribute an empty value. Non generic events yield the empty key.
func AttributeFinder(names ...string) Finder {
	return func(e event.Event) []string {
		g, ok := e.(*event.Generic)
		if !ok {
			return nil
		}
		values := make([]string, 0, len(names))
		for _, n := range names {
			values = append(values, g.Get(n))
		}
		return values
	}
}

// ConstantFinder returns a finder which maps every event to the same key, used for singleton units.
func ConstantFinder(key string) Finder {
	return func(event.Event) []string {
		return []string{key}
	}
}
