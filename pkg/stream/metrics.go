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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/numaproj/keyflow/pkg/metrics"
)

// Drop reasons
const (
	reasonQueueFull     = "queue_full"
	reasonStopped       = "stopped"
	reasonSerialization = "serialization"
	reasonDiscarded     = "discarded"
)

// eventsReceived is used to indicate the number of events put on a stream
var eventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "keyflow",
	Subsystem: "router",
	Name:      "received_total",
	Help:      "Total number of events put on a stream",
}, []string{metrics.LabelApp, metrics.LabelStream})

// eventsSent is used to indicate the number of events handed to the transport
var eventsSent = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "keyflow",
	Subsystem: "router",
	Name:      "remote_sent_total",
	Help:      "Total number of events sent to other partitions",
}, []string{metrics.LabelApp, metrics.LabelStream})

// eventsDropped is used to indicate the number of events dropped by reason
var eventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "keyflow",
	Subsystem: "router",
	Name:      "dropped_total",
	Help:      "Total number of dropped events",
}, []string{metrics.LabelApp, metrics.LabelStream, metrics.LabelReason})

// eventsProcessed is used to indicate the number of events handled by an instance
var eventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "keyflow",
	Subsystem: "router",
	Name:      "processed_total",
	Help:      "Total number of events handled by unit instances",
}, []string{metrics.LabelApp, metrics.LabelStream, metrics.LabelUnit})

// noHandler is used to indicate the number of events without a matching handler
var noHandler = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "keyflow",
	Subsystem: "router",
	Name:      "no_handler_total",
	Help:      "Total number of events dropped because no handler matches their type",
}, []string{metrics.LabelApp, metrics.LabelStream, metrics.LabelUnit})

// handlerErrors is used to indicate the number of handler errors and panics
var handlerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "keyflow",
	Subsystem: "router",
	Name:      "handler_errors_total",
	Help:      "Total number of handler errors and panics",
}, []string{metrics.LabelApp, metrics.LabelStream, metrics.LabelUnit, metrics.LabelReason})

// triggersFired is used to indicate the number of trigger handler calls
var triggersFired = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "keyflow",
	Subsystem: "router",
	Name:      "triggers_total",
	Help:      "Total number of fired triggers",
}, []string{metrics.LabelApp, metrics.LabelStream, metrics.LabelUnit})

// ticksDropped is used to indicate the number of timer or checkpoint ticks lost on a full queue
var ticksDropped = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "keyflow",
	Subsystem: "router",
	Name:      "ticks_dropped_total",
	Help:      "Total number of ticks dropped on a full queue",
}, []string{metrics.LabelApp, metrics.LabelStream, metrics.LabelUnit})

// queueLength is used to indicate the number of queued items
var queueLength = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "keyflow",
	Subsystem: "router",
	Name:      "queue_length",
	Help:      "Number of items waiting in the queue of a stream",
}, []string{metrics.LabelApp, metrics.LabelStream})

// processingTime is used to indicate the time taken to route and handle one event
var processingTime = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "keyflow",
	Subsystem: "router",
	Name:      "processing_time_seconds",
	Help:      "Time taken to route and handle one event",
	Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
}, []string{metrics.LabelApp, metrics.LabelStream})
