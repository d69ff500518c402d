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

package checkpoint

import (
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"

	"github.com/numaproj/keyflow/pkg/checkpoint/store"
)

// ErrCorruptRecord is returned when stored bytes are not a valid checkpoint of the expected instance.
var ErrCorruptRecord = errors.New("corrupt checkpoint record")

// Record is the persisted form of a checkpoint.
type Record struct {
	AppID    string `json:"app"`
	UnitType string `json:"unitType"`
	Key      string `json:"key"`
	Version  uint64 `json:"version"`
	// Checksum is the xxHash64 of State.
	Checksum uint64 `json:"checksum"`
	State    []byte `json:"state"`
}

// ID returns the composite id of the record.
func (r *Record) ID() store.ID {
	return store.ID{AppID: r.AppID, UnitType: r.UnitType, Key: r.Key}
}

// EncodeRecord computes the checksum and serializes r.
func EncodeRecord(r *Record) ([]byte, error) {
	r.Checksum = xxhash.Sum64(r.State)
	return json.Marshal(r)
}

// DecodeRecord deserializes data and verifies it is an intact checkpoint of id.
func DecodeRecord(data []byte, id store.ID) (*Record, error) {
	r := &Record{}
	if err := json.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("%w, %v", ErrCorruptRecord, err)
	}
	if r.ID() != id {
		return nil, fmt.Errorf("%w, record of %s stored under %s", ErrCorruptRecord, r.ID(), id)
	}
	if sum := xxhash.Sum64(r.State); sum != r.Checksum {
		return nil, fmt.Errorf("%w, checksum mismatch %x != %x", ErrCorruptRecord, sum, r.Checksum)
	}
	return r, nil
}
