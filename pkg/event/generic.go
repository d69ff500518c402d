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

package event

import "sort"

// Generic is a schemaless event carrying string attributes. Applications which don't need their own
// Go types register a type name with a nil factory and emit Generic events of that name.
type Generic struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

var _ Event = (*Generic)(nil)

// NewGeneric returns an empty generic event of the given type.
func NewGeneric(typ string) *Generic {
	return &Generic{Type: typ, Attributes: map[string]string{}}
}

// EventType implements Event.
func (g *Generic) EventType() string {
	if g.Type == "" {
		return RootType
	}
	return g.Type
}

// Put sets an attribute and returns the event for chaining.
func (g *Generic) Put(name, value string) *Generic {
	if g.Attributes == nil {
		g.Attributes = map[string]string{}
	}
	g.Attributes[name] = value
	return g
}

// Get returns an attribute, empty if it's not set.
func (g *Generic) Get(name string) string {
	return g.Attributes[name]
}

// Has reports whether an attribute is set.
func (g *Generic) Has(name string) bool {
	_, ok := g.Attributes[name]
	return ok
}

// Names returns the attribute names, sorted.
func (g *Generic) Names() []string {
	names := make([]string, 0, len(g.Attributes))
	for n := range g.Attributes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
