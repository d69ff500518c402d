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

package registry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/numaproj/keyflow/pkg/metrics"
)

// activeInstances is the number of live instances per unit type
var activeInstances = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "keyflow",
	Subsystem: "registry",
	Name:      "active_instances",
	Help:      "Number of live unit instances",
}, []string{metrics.LabelApp, metrics.LabelUnit})

// createdInstances counts instance creations
var createdInstances = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "keyflow",
	Subsystem: "registry",
	Name:      "instances_created_total",
	Help:      "Total number of unit instances created",
}, []string{metrics.LabelApp, metrics.LabelUnit})

// evictedInstances counts instance teardowns, by reason
var evictedInstances = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "keyflow",
	Subsystem: "registry",
	Name:      "instances_evicted_total",
	Help:      "Total number of unit instances evicted or removed",
}, []string{metrics.LabelApp, metrics.LabelUnit, metrics.LabelReason})
