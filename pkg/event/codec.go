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

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

var (
	// ErrUnknownType is returned when an event type name is not in the registry.
	ErrUnknownType = errors.New("unknown event type")
	// ErrMalformedEnvelope is returned when an envelope can not be decoded.
	ErrMalformedEnvelope = errors.New("malformed envelope")
)

// Envelope is the wire form of an event sent to another partition.
type Envelope struct {
	AppID   string          `json:"app"`
	Stream  string          `json:"stream"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Codec encodes events into envelopes and decodes them back into their registered Go types.
type Codec struct {
	registry *Registry
}

// NewCodec returns a codec which resolves types against the given registry.
func NewCodec(registry *Registry) *Codec {
	return &Codec{registry: registry}
}

// Marshal encodes e for delivery on the named stream of the named application.
func (c *Codec) Marshal(appID, stream string, e Event) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("can not marshal a nil event")
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event of type %q, %w", e.EventType(), err)
	}
	return json.Marshal(Envelope{
		AppID:   appID,
		Stream:  stream,
		Type:    e.EventType(),
		Payload: payload,
	})
}

// Unmarshal decodes an envelope and its event. Events of unknown types decode into a *Generic carrying
// the original type name, so they still reach the root handlers.
func (c *Codec) Unmarshal(data []byte) (*Envelope, Event, error) {
	env := &Envelope{}
	if err := json.Unmarshal(data, env); err != nil {
		return nil, nil, fmt.Errorf("%w, %v", ErrMalformedEnvelope, err)
	}
	if env.Stream == "" {
		return nil, nil, fmt.Errorf("%w, missing stream", ErrMalformedEnvelope)
	}
	var e Event
	if t, ok := c.registry.Lookup(env.Type); ok {
		e = t.factory()
	} else {
		e = NewGeneric(env.Type)
	}
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, e); err != nil {
			return nil, nil, fmt.Errorf("%w, failed to decode %q payload, %v", ErrMalformedEnvelope, env.Type, err)
		}
	}
	if g, ok := e.(*Generic); ok && g.Type == "" {
		g.Type = env.Type
	}
	return env, e, nil
}
