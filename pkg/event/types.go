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
Package event defines the events routed through keyflow streams, the explicit type hierarchy used for
handler resolution, and the codec used for remote delivery.

Go has no class inheritance, so every application declares its event types in a Registry together with
their parent type. The implicit root type is RootType; an event whose type was never registered is
treated as an instance of the root.
*/
package event

import (
	"fmt"
	"sort"
	"sync"
)

// RootType is the name of the implicit root of every type hierarchy.
const RootType = "Event"

// Event is anything that can be put on a stream.
type Event interface {
	// EventType returns the name of the runtime type of the event, as registered in a Registry.
	EventType() string
}

// Factory returns a new, empty event of one registered type. It is used when decoding.
type Factory func() Event

// Type is one node of the event type hierarchy.
type Type struct {
	name    string
	parent  *Type
	depth   int
	factory Factory
}

// Name returns the type name.
func (t *Type) Name() string {
	return t.name
}

// Parent returns the direct supertype, nil for the root.
func (t *Type) Parent() *Type {
	return t.parent
}

// Depth returns the distance from the root, the root has depth 0.
func (t *Type) Depth() int {
	return t.depth
}

// Ancestors returns the type and all its supertypes, most specific first.
func (t *Type) Ancestors() []*Type {
	chain := make([]*Type, 0, t.depth+1)
	for c := t; c != nil; c = c.parent {
		chain = append(chain, c)
	}
	return chain
}

// IsA returns true if t is other or a subtype of other.
func (t *Type) IsA(other *Type) bool {
	for c := t; c != nil; c = c.parent {
		if c == other {
			return true
		}
	}
	return false
}

func (t *Type) String() string {
	return t.name
}

// Registry holds the event types of one application. It is safe for concurrent use, but types are
// expected to be registered while the application graph is built.
type Registry struct {
	lock  sync.RWMutex
	root  *Type
	types map[string]*Type
}

// NewRegistry returns a registry which only knows the root type.
func NewRegistry() *Registry {
	root := &Type{name: RootType, factory: func() Event { return NewGeneric(RootType) }}
	return &Registry{
		root:  root,
		types: map[string]*Type{RootType: root},
	}
}

// Register declares a new event type. An empty parent means the root type. A nil factory makes the type
// decode into a *Generic.
func (r *Registry) Register(name string, parent string, factory Factory) (*Type, error) {
	if name == "" {
		return nil, fmt.Errorf("event type name can not be empty")
	}
	if parent == "" {
		parent = RootType
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.types[name]; ok {
		return nil, fmt.Errorf("event type %q is already registered", name)
	}
	p, ok := r.types[parent]
	if !ok {
		return nil, fmt.Errorf("parent type %q of %q is not registered", parent, name)
	}
	if factory == nil {
		typeName := name
		factory = func() Event { return NewGeneric(typeName) }
	}
	t := &Type{name: name, parent: p, depth: p.depth + 1, factory: factory}
	r.types[name] = t
	return t, nil
}

// MustRegister is Register which panics on error, it is meant for static application wiring.
func (r *Registry) MustRegister(name string, parent string, factory Factory) *Type {
	t, err := r.Register(name, parent, factory)
	if err != nil {
		panic(err)
	}
	return t
}

// Root returns the root type.
func (r *Registry) Root() *Type {
	return r.root
}

// Lookup returns the type registered under name.
func (r *Registry) Lookup(name string) (*Type, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	t, ok := r.types[name]
	return t, ok
}

// TypeOf returns the registered type of e, or the root type if e's type is unknown.
func (r *Registry) TypeOf(e Event) *Type {
	if e == nil {
		return r.root
	}
	if t, ok := r.Lookup(e.EventType()); ok {
		return t
	}
	return r.root
}

// New returns an empty event of the named type.
func (r *Registry) New(name string) (Event, error) {
	t, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
	return t.factory(), nil
}

// Names returns all registered type names, sorted.
func (r *Registry) Names() []string {
	r.lock.RLock()
	defer r.lock.RUnlock()
	names := make([]string, 0, len(r.types))
	for n := range r.types {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
