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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/numaproj/keyflow/pkg/metrics"
)

// Save results
const (
	resultSuccess  = "success"
	resultFailure  = "failure"
	resultRejected = "rejected"
	resultEncode   = "encode_error"
	resultSkipped  = "skipped"
)

// saves is used to indicate the number of checkpoint saves by result
var saves = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "keyflow",
	Subsystem: "checkpoint",
	Name:      "save_total",
	Help:      "Total number of checkpoint saves",
}, []string{metrics.LabelApp, metrics.LabelUnit, metrics.LabelOutcome})

// saveDuration is used to indicate the time taken to persist a checkpoint, retries included
var saveDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "keyflow",
	Subsystem: "checkpoint",
	Name:      "save_duration_seconds",
	Help:      "Time taken to persist a checkpoint",
	Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
}, []string{metrics.LabelApp})

// pendingSaves is used to indicate the number of saves queued or in progress
var pendingSaves = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "keyflow",
	Subsystem: "checkpoint",
	Name:      "pending_saves",
	Help:      "Number of checkpoint saves queued or in progress",
}, []string{metrics.LabelApp})

// recoveries is used to indicate the number of recoveries by outcome
var recoveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "keyflow",
	Subsystem: "checkpoint",
	Name:      "recovery_total",
	Help:      "Total number of instance recoveries",
}, []string{metrics.LabelApp, metrics.LabelUnit, metrics.LabelOutcome})

// recoveryDuration is used to indicate the time spent recovering an instance
var recoveryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "keyflow",
	Subsystem: "checkpoint",
	Name:      "recovery_duration_seconds",
	Help:      "Time spent recovering an instance",
	Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
}, []string{metrics.LabelApp})

// fetchDisabled is set to 1 while fetching is disabled by consecutive failures
var fetchDisabled = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "keyflow",
	Subsystem: "checkpoint",
	Name:      "fetch_disabled",
	Help:      "1 while checkpoint fetching is disabled after consecutive failures",
}, []string{metrics.LabelApp})
