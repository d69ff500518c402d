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

// Package test runs embedded NATS servers for tests.
package test

import (
	"testing"

	"github.com/nats-io/nats-server/v2/server"
	natstestserver "github.com/nats-io/nats-server/v2/test"
)

func runServer(t *testing.T, jetStream bool) *server.Server {
	t.Helper()
	opts := natstestserver.DefaultTestOptions
	opts.Port = -1
	if jetStream {
		opts.JetStream = true
		// removed by the testing package once the test and its cleanups are done
		opts.StoreDir = t.TempDir()
	}
	return natstestserver.RunServer(&opts)
}

// RunNatsServer starts a core nats server on a random port.
func RunNatsServer(t *testing.T) *server.Server {
	return runServer(t, false)
}

// RunJetStreamServer starts a JetStream enabled server on a random port, its storage lives in a
// test temp dir.
func RunJetStreamServer(t *testing.T) *server.Server {
	return runServer(t, true)
}

// ShutdownJetStreamServer stops s and waits for it.
func ShutdownJetStreamServer(t *testing.T, s *server.Server) {
	t.Helper()
	s.Shutdown()
	s.WaitForShutdown()
}
