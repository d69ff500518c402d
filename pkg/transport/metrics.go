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

package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/numaproj/keyflow/pkg/metrics"
)

// Send outcomes
const (
	OutcomeSent   = "sent"
	OutcomeFailed = "failed"
)

// SentMessages is used to indicate the number of messages handed to a transport
var SentMessages = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "keyflow",
	Subsystem: "transport",
	Name:      "sent_total",
	Help:      "Total number of messages sent to other partitions",
}, []string{metrics.LabelTransport, metrics.LabelOutcome})

// ReceivedMessages is used to indicate the number of messages read from a transport
var ReceivedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "keyflow",
	Subsystem: "transport",
	Name:      "received_total",
	Help:      "Total number of messages received from other partitions",
}, []string{metrics.LabelTransport})
