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

package store

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
)

// idSeparator can't appear in the url-safe base64 alphabet.
const idSeparator = "."

var idEncoding = base64.RawURLEncoding

// ID identifies the checkpoint of one instance.
type ID struct {
	AppID    string
	UnitType string
	Key      string
}

// Encode returns a reversible form of the id which only uses [A-Za-z0-9_-.], safe for file names,
// key-value bucket keys and redis keys.
func (id ID) Encode() string {
	return strings.Join([]string{
		idEncoding.EncodeToString([]byte(id.AppID)),
		idEncoding.EncodeToString([]byte(id.UnitType)),
		idEncoding.EncodeToString([]byte(id.Key)),
	}, idSeparator)
}

func (id ID) String() string {
	return fmt.Sprintf("%s/%s/%s", id.AppID, id.UnitType, id.Key)
}

// ParseID inverts Encode.
func ParseID(s string) (ID, error) {
	parts := strings.Split(s, idSeparator)
	if len(parts) != 3 {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	var decoded [3]string
	for i, p := range parts {
		b, err := idEncoding.DecodeString(p)
		if err != nil {
			return ID{}, fmt.Errorf("%w: %q, %v", ErrInvalidID, s, err)
		}
		decoded[i] = string(b)
	}
	return ID{AppID: decoded[0], UnitType: decoded[1], Key: decoded[2]}, nil
}

// EncodePart encodes one id component, used by backends laying ids out hierarchically.
func EncodePart(s string) string {
	return idEncoding.EncodeToString([]byte(s))
}

// DecodePart inverts EncodePart.
func DecodePart(s string) (string, error) {
	b, err := idEncoding.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("%w: %q, %v", ErrInvalidID, s, err)
	}
	return string(b), nil
}

// SortIDs orders ids by unit type then key.
func SortIDs(ids []ID) {
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].AppID != ids[j].AppID {
			return ids[i].AppID < ids[j].AppID
		}
		if ids[i].UnitType != ids[j].UnitType {
			return ids[i].UnitType < ids[j].UnitType
		}
		return ids[i].Key < ids[j].Key
	})
}
