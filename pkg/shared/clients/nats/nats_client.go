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

package nats

import (
	"context"
	"crypto/tls"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/numaproj/keyflow/pkg/shared/logging"
)

// Client is a client for NATS server which is shared by the transport and the key-value stores
type Client struct {
	nc  *nats.Conn
	log *zap.SugaredLogger
}

// NewNATSClient creates a new NATS client connected to url
func NewNATSClient(ctx context.Context, url string, opts ...Option) (*Client, error) {
	if url == "" {
		return nil, fmt.Errorf("nats url can not be empty")
	}
	log := logging.FromContext(ctx)
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	natsOpts := []nats.Option{
		// if max reconnects is set to -1, it will try to reconnect forever
		nats.MaxReconnects(-1),
		nats.PingInterval(3 * time.Second),
		// If the server doesn't respond to 2 pings we will reconnect
		nats.MaxPingsOutstanding(2),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Errorw("Nats default: error occurred for subscription", zap.Error(err))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Info("Nats default: connection closed")
		}),
		// retry on failed connect should be true, else it wont try to reconnect during initial connect
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Errorw("Nats default: disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("Nats default: reconnected")
		}),
		nats.FlusherTimeout(10 * time.Second),
	}
	if o.user != "" {
		natsOpts = append(natsOpts, nats.UserInfo(o.user, o.password))
	}
	if o.tlsEnabled {
		natsOpts = append(natsOpts, nats.Secure(&tls.Config{
			InsecureSkipVerify: true,
		}))
	}
	natsOpts = append(natsOpts, o.natsOptions...)
	nc, err := nats.Connect(url, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats url=%s: %w", url, err)
	}
	return &Client{nc: nc, log: log}, nil
}

// Conn returns the underlying connection
func (c *Client) Conn() *nats.Conn {
	return c.nc
}

// JetStreamContext returns a new JetStreamContext
func (c *Client) JetStreamContext(opts ...nats.JSOpt) (nats.JetStreamContext, error) {
	return c.nc.JetStream(opts...)
}

// BindKVStore looks up and binds to a KeyValue bucket, creating it when it does not exist
func (c *Client) BindKVStore(kvName string) (nats.KeyValue, error) {
	js, err := c.nc.JetStream()
	if err != nil {
		return nil, err
	}
	kv, err := js.KeyValue(kvName)
	if err == nats.ErrBucketNotFound {
		return js.CreateKeyValue(&nats.KeyValueConfig{Bucket: kvName})
	}
	return kv, err
}

// Close closes the NATS client
func (c *Client) Close() {
	c.nc.Close()
}

// NewTestClient creates a new NATS client for testing
// only use this for testing
func NewTestClient(t *testing.T, url string) *Client {
	t.Helper()
	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("Failed to connect to %s: %v", url, err)
	}
	return &Client{nc: nc, log: zap.NewNop().Sugar()}
}

// NewTestClientWithServer is used to get a testing client of an embedded server
func NewTestClientWithServer(t *testing.T, s *server.Server) *Client {
	return NewTestClient(t, s.ClientURL())
}
