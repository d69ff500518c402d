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

/*
Package dispatch selects the handler for an event by walking the event's type hierarchy.

A Table is filled while the application is built and is read only afterwards. Resolution walks the
ancestor chain of the event's runtime type, most specific first, and returns the first type with a
registered handler. Results are memoized per event type.
*/
package dispatch

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/numaproj/keyflow/pkg/event"
)

// ErrNoMatchingHandler is returned when neither the event type nor any of its supertypes has a handler.
var ErrNoMatchingHandler = errors.New("no matching handler")

// Entry is one handler bound to an event type.
type Entry[H any] struct {
	Type    *event.Type
	Handler H
}

type resolution[H any] struct {
	entry *Entry[H]
}

// Table maps event types to handlers.
type Table[H any] struct {
	registry *event.Registry
	byType   map[*event.Type]*Entry[H]
	entries  []*Entry[H]
	memo     sync.Map
}

// NewTable returns an empty table resolving types against registry.
func NewTable[H any](registry *event.Registry) *Table[H] {
	return &Table[H]{
		registry: registry,
		byType:   make(map[*event.Type]*Entry[H]),
	}
}

// Add binds handler to the named event type. It must not be called once the table is used for
// resolution.
func (t *Table[H]) Add(typeName string, handler H) error {
	typ, ok := t.registry.Lookup(typeName)
	if !ok {
		return fmt.Errorf("%w: %q", event.ErrUnknownType, typeName)
	}
	if _, ok := t.byType[typ]; ok {
		return fmt.Errorf("duplicate handler for event type %q", typeName)
	}
	e := &Entry[H]{Type: typ, Handler: handler}
	t.byType[typ] = e
	t.entries = append(t.entries, e)
	// most specific first, ties broken by name to keep the order stable
	sort.SliceStable(t.entries, func(i, j int) bool {
		if t.entries[i].Type.Depth() != t.entries[j].Type.Depth() {
			return t.entries[i].Type.Depth() > t.entries[j].Type.Depth()
		}
		return t.entries[i].Type.Name() < t.entries[j].Type.Name()
	})
	return nil
}

// Len returns the number of handlers.
func (t *Table[H]) Len() int {
	return len(t.entries)
}

// Entries returns the handlers sorted from the most to the least specific type.
func (t *Table[H]) Entries() []Entry[H] {
	out := make([]Entry[H], 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *e)
	}
	return out
}

// Resolve returns the handler for e together with the type it was registered for.
func (t *Table[H]) Resolve(e event.Event) (H, *event.Type, error) {
	return t.ResolveType(t.registry.TypeOf(e))
}

// ResolveType returns the handler for events of typ.
func (t *Table[H]) ResolveType(typ *event.Type) (H, *event.Type, error) {
	var zero H
	if v, ok := t.memo.Load(typ); ok {
		r := v.(resolution[H])
		if r.entry == nil {
			return zero, nil, ErrNoMatchingHandler
		}
		return r.entry.Handler, r.entry.Type, nil
	}
	var found *Entry[H]
	for c := typ; c != nil; c = c.Parent() {
		if e, ok := t.byType[c]; ok {
			found = e
			break
		}
	}
	t.memo.Store(typ, resolution[H]{entry: found})
	if found == nil {
		return zero, nil, ErrNoMatchingHandler
	}
	return found.Handler, found.Type, nil
}
