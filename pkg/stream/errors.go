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

package stream

import (
	"errors"
	"fmt"
)

// ErrRouterStopped is returned when an event is put on a stopped router.
var ErrRouterStopped = errors.New("stream router is stopped")

// QueueFullErr is returned when an event could not be queued before the send timeout, the event is dropped.
type QueueFullErr struct {
	Stream  string
	Message string
}

func (e QueueFullErr) Error() string {
	return fmt.Sprintf("(%s) %s", e.Stream, e.Message)
}

// IsFull returns true, a QueueFullErr always means a full queue.
func (e QueueFullErr) IsFull() bool {
	return true
}
