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

// Outcome is the result of the recovery of one instance.
type Outcome int

const (
	// Skipped means the unit type does not checkpoint.
	Skipped Outcome = iota
	// Restored means the instance starts with the checkpointed state.
	Restored
	// NotFound means the key was never checkpointed, the instance starts fresh.
	NotFound
	// TimedOut means the store did not answer within the recovery timeout.
	TimedOut
	// Failed means the store returned an error.
	Failed
	// Corrupt means the checkpoint could not be decoded.
	Corrupt
	// Disabled means fetching is paused after too many consecutive failures.
	Disabled
)

func (o Outcome) String() string {
	switch o {
	case Skipped:
		return "skipped"
	case Restored:
		return "restored"
	case NotFound:
		return "not_found"
	case TimedOut:
		return "timed_out"
	case Failed:
		return "failed"
	case Corrupt:
		return "corrupt"
	case Disabled:
		return "disabled"
	default:
		return "unknown"
	}
}
