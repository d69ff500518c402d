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

import "errors"

var (
	// ErrNotFound is returned by Fetch when no checkpoint exists for an id.
	ErrNotFound = errors.New("checkpoint not found")
	// ErrStoreClosed is returned by operations on a closed store.
	ErrStoreClosed = errors.New("checkpoint store is closed")
	// ErrInvalidID is returned when an encoded id can not be parsed.
	ErrInvalidID = errors.New("invalid checkpoint id")
)
