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

package tls

import (
	"crypto/x509"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelfSigned(t *testing.T) {
	t.Run("default host", func(t *testing.T) {
		certBytes, key, err := selfSigned(nil)
		require.NoError(t, err)
		assert.NotNil(t, key)
		cert, err := x509.ParseCertificate(certBytes)
		require.NoError(t, err)
		assert.Equal(t, []string{"localhost"}, cert.DNSNames)
		assert.Empty(t, cert.IPAddresses)
		assert.LessOrEqual(t, int64(time.Since(cert.NotBefore)), int64(10*time.Second))
	})

	t.Run("dns and ip hosts", func(t *testing.T) {
		certBytes, _, err := selfSigned([]string{"keyflow.local", "127.0.0.1"})
		require.NoError(t, err)
		cert, err := x509.ParseCertificate(certBytes)
		require.NoError(t, err)
		assert.Equal(t, []string{"keyflow.local"}, cert.DNSNames)
		assert.Len(t, cert.IPAddresses, 1)
	})
}

func TestGenerateX509KeyPair(t *testing.T) {
	cert, err := GenerateX509KeyPair()
	require.NoError(t, err)
	assert.NotEmpty(t, cert.Certificate)
}
