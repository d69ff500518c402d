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

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestBuildInfo(t *testing.T) {
	BuildInfo.WithLabelValues("test", "v0.0.1", "linux/amd64").Set(1)
	assert.Equal(t, float64(1), testutil.ToFloat64(BuildInfo.WithLabelValues("test", "v0.0.1", "linux/amd64")))
	AppInfo.WithLabelValues("wordcount").Set(1)
	assert.Equal(t, float64(1), testutil.ToFloat64(AppInfo.WithLabelValues("wordcount")))
}
