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

package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/numaproj/keyflow/pkg/metrics"
)

const (
	outcomeDelivered     = "delivered"
	outcomeMalformed     = "malformed"
	outcomeForeignApp    = "foreign_app"
	outcomeUnknownStream = "unknown_stream"
	outcomeRejected      = "rejected"
	outcomeError         = "error"
)

// remoteReceived counts the messages read from the transport, by outcome
var remoteReceived = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "keyflow",
	Subsystem: "app",
	Name:      "remote_received_total",
	Help:      "Total number of messages received from other partitions",
}, []string{metrics.LabelApp, metrics.LabelOutcome})

// evictionSweeps counts the scheduled TTL sweeps
var evictionSweeps = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "keyflow",
	Subsystem: "app",
	Name:      "eviction_sweeps_total",
	Help:      "Total number of scheduled eviction sweeps",
}, []string{metrics.LabelApp})

// ticks counts the periodic ticks queued for unit types, by kind
var ticks = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "keyflow",
	Subsystem: "app",
	Name:      "ticks_total",
	Help:      "Total number of timer and checkpoint ticks queued",
}, []string{metrics.LabelApp, metrics.LabelUnit, metrics.LabelReason})
