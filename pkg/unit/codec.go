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

package unit

import (
	"github.com/goccy/go-json"
)

// StateCodec serializes the state of instances for checkpoints.
type StateCodec interface {
	Encode(state any) ([]byte, error)
	// Decode fills into, which is a fresh value returned by the type's NewState.
	Decode(data []byte, into any) error
}

// JSONCodec is the default StateCodec, only exported fields of the state are saved.
type JSONCodec struct{}

var _ StateCodec = JSONCodec{}

func (JSONCodec) Encode(state any) ([]byte, error) {
	return json.Marshal(state)
}

func (JSONCodec) Decode(data []byte, into any) error {
	return json.Unmarshal(data, into)
}
