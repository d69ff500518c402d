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

// Package config loads the keyflow configuration file, with KEYFLOW_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/numaproj/keyflow/pkg/unit"
)

// DefaultConfigDir is searched for keyflow.yaml when no file is given.
const DefaultConfigDir = "/etc/keyflow"

// GlobalConfig is the configuration of a keyflow process. It is reloaded when the file changes.
type GlobalConfig struct {
	conf      *Config
	lock      *sync.RWMutex
	listeners []func(*Config)
}

// Config is the content of the configuration file.
type Config struct {
	// App overrides the id of the application.
	App        string           `json:"app"`
	Partitions int              `json:"partitions"`
	Partition  int              `json:"partition"`
	MemberID   string           `json:"memberID"`
	Hash       string           `json:"hash"`
	Eviction   EvictionConfig   `json:"eviction"`
	Stream     StreamConfig     `json:"stream"`
	Checkpoint CheckpointConfig `json:"checkpoint"`
	Store      StoreConfig      `json:"store"`
	Transport  TransportConfig  `json:"transport"`
	Membership MembershipConfig `json:"membership"`
	Metrics    MetricsConfig    `json:"metrics"`
	// Units overrides the options of unit types, by lower case name.
	Units map[string]UnitConfig `json:"units"`
}

type EvictionConfig struct {
	// Schedule is a cron expression, "@every 10s" by default.
	Schedule string `json:"schedule"`
}

type StreamConfig struct {
	Capacity    int           `json:"capacity"`
	SendTimeout time.Duration `json:"sendTimeout"`
	DrainOnStop bool          `json:"drainOnStop"`
}

type CheckpointConfig struct {
	Workers                     int           `json:"workers"`
	QueueSize                   int           `json:"queueSize"`
	SaveTimeout                 time.Duration `json:"saveTimeout"`
	RecoveryTimeout             time.Duration `json:"recoveryTimeout"`
	MaxConcurrentFetches        int64         `json:"maxConcurrentFetches"`
	MaxConsecutiveFetchFailures int           `json:"maxConsecutiveFetchFailures"`
	FetchDisabledDuration       time.Duration `json:"fetchDisabledDuration"`
}

// StoreConfig selects the state store: memory, noop, fs, sqlite, kv, jetstream or redis.
type StoreConfig struct {
	Type string `json:"type"`
	// Dir is the root of the fs store.
	Dir string `json:"dir"`
	// Path is the database file of the sqlite store.
	Path string `json:"path"`
	// Bucket is the kv and jetstream bucket.
	Bucket  string      `json:"bucket"`
	NatsURL string      `json:"natsURL"`
	Redis   RedisConfig `json:"redis"`
}

type RedisConfig struct {
	Addrs      string        `json:"addrs"`
	User       string        `json:"user"`
	Password   string        `json:"password"`
	MasterName string        `json:"masterName"`
	DB         int           `json:"db"`
	Prefix     string        `json:"prefix"`
	Expiration time.Duration `json:"expiration"`
}

// TransportConfig selects how events reach other partitions: none, nats or kafka.
type TransportConfig struct {
	Type    string      `json:"type"`
	NatsURL string      `json:"natsURL"`
	Subject string      `json:"subject"`
	Kafka   KafkaConfig `json:"kafka"`
}

type KafkaConfig struct {
	Brokers string `json:"brokers"`
	Topic   string `json:"topic"`
	// Config is a yaml document of sarama settings.
	Config string `json:"config"`
}

// MembershipConfig selects the topology provider: static or kv.
type MembershipConfig struct {
	Type    string `json:"type"`
	Bucket  string `json:"bucket"`
	NatsURL string `json:"natsURL"`
}

type MetricsConfig struct {
	Disabled bool `json:"disabled"`
	Port     int  `json:"port"`
	Insecure bool `json:"insecure"`
	Pprof    bool `json:"pprof"`
}

// UnitConfig overrides the options of one unit type, zero values keep the declared ones.
type UnitConfig struct {
	MaxInstances        int           `json:"maxInstances"`
	TTL                 time.Duration `json:"ttl"`
	TimerInterval       time.Duration `json:"timerInterval"`
	TriggerEventCount   int           `json:"triggerEventCount"`
	TriggerInterval     time.Duration `json:"triggerInterval"`
	CheckpointMode      string        `json:"checkpointMode"`
	CheckpointFrequency int           `json:"checkpointFrequency"`
	CheckpointInterval  time.Duration `json:"checkpointInterval"`
}

// Options converts the overrides into unit options.
func (u UnitConfig) Options() ([]unit.Option, error) {
	var opts []unit.Option
	if u.MaxInstances > 0 {
		opts = append(opts, unit.WithMaxInstances(u.MaxInstances))
	}
	if u.TTL > 0 {
		opts = append(opts, unit.WithTTL(u.TTL))
	}
	if u.TimerInterval > 0 {
		opts = append(opts, unit.WithTimerInterval(u.TimerInterval))
	}
	if u.TriggerEventCount > 0 || u.TriggerInterval > 0 {
		count, interval := u.TriggerEventCount, u.TriggerInterval
		opts = append(opts, func(o *unit.Options) {
			o.TriggerEventCount = count
			o.TriggerInterval = interval
		})
	}
	if u.CheckpointMode != "" {
		mode, err := unit.ParseCheckpointMode(u.CheckpointMode)
		if err != nil {
			return nil, err
		}
		opts = append(opts, unit.WithCheckpointing(mode, u.CheckpointFrequency, u.CheckpointInterval))
	}
	return opts, nil
}

// Get returns the current configuration.
func (g *GlobalConfig) Get() Config {
	g.lock.RLock()
	defer g.lock.RUnlock()
	return *g.conf
}

// UnitOptions returns the overrides of a unit type. Keys are case insensitive.
func (g *GlobalConfig) UnitOptions(name string) ([]unit.Option, error) {
	g.lock.RLock()
	u, ok := g.conf.Units[strings.ToLower(name)]
	g.lock.RUnlock()
	if !ok {
		return nil, nil
	}
	return u.Options()
}

// OnChange registers a function called with every reloaded configuration.
func (g *GlobalConfig) OnChange(f func(*Config)) {
	g.lock.Lock()
	defer g.lock.Unlock()
	g.listeners = append(g.listeners, f)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app", "")
	v.SetDefault("partitions", 1)
	v.SetDefault("partition", 0)
	v.SetDefault("memberID", "")
	v.SetDefault("hash", "xxhash64")
	v.SetDefault("eviction.schedule", "@every 10s")
	v.SetDefault("stream.capacity", 1000)
	v.SetDefault("stream.sendTimeout", time.Second)
	v.SetDefault("stream.drainOnStop", true)
	v.SetDefault("checkpoint.workers", 4)
	v.SetDefault("checkpoint.queueSize", 1000)
	v.SetDefault("checkpoint.saveTimeout", 5*time.Second)
	v.SetDefault("checkpoint.recoveryTimeout", time.Second)
	v.SetDefault("checkpoint.maxConcurrentFetches", 16)
	v.SetDefault("checkpoint.maxConsecutiveFetchFailures", 10)
	v.SetDefault("checkpoint.fetchDisabledDuration", 10*time.Minute)
	v.SetDefault("store.type", "memory")
	v.SetDefault("store.dir", "/var/lib/keyflow/checkpoints")
	v.SetDefault("store.path", "/var/lib/keyflow/checkpoints.db")
	v.SetDefault("store.bucket", "keyflow-checkpoints")
	v.SetDefault("store.natsURL", "nats://localhost:4222")
	v.SetDefault("store.redis.addrs", "localhost:6379")
	v.SetDefault("store.redis.user", "")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.masterName", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.prefix", "keyflow:ckpt:")
	v.SetDefault("store.redis.expiration", time.Duration(0))
	v.SetDefault("transport.type", "none")
	v.SetDefault("transport.natsURL", "nats://localhost:4222")
	v.SetDefault("transport.subject", "keyflow")
	v.SetDefault("transport.kafka.brokers", "localhost:9092")
	v.SetDefault("transport.kafka.topic", "keyflow")
	v.SetDefault("transport.kafka.config", "")
	v.SetDefault("membership.type", "static")
	v.SetDefault("membership.bucket", "keyflow-membership")
	v.SetDefault("membership.natsURL", "")
	v.SetDefault("metrics.disabled", false)
	v.SetDefault("metrics.port", 2469)
	v.SetDefault("metrics.insecure", false)
	v.SetDefault("metrics.pprof", false)
}

// LoadConfig reads path, or keyflow.yaml in DefaultConfigDir when path is empty. A missing default file
// is not an error, the defaults and the environment are used.
func LoadConfig(path string, onErrorReloading func(error)) (*GlobalConfig, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("KEYFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("keyflow")
		v.SetConfigType("yaml")
		v.AddConfigPath(DefaultConfigDir)
	}
	watch := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to load configuration file. %w", err)
		}
		watch = false
	}
	conf := &Config{}
	if err := v.Unmarshal(conf); err != nil {
		return nil, fmt.Errorf("failed unmarshal configuration file. %w", err)
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	g := &GlobalConfig{
		conf: conf,
		lock: new(sync.RWMutex),
	}
	if watch {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			cf := &Config{}
			if err := v.Unmarshal(cf); err != nil {
				onErrorReloading(err)
				return
			}
			if err := cf.Validate(); err != nil {
				onErrorReloading(err)
				return
			}
			g.lock.Lock()
			g.conf = cf
			listeners := append([]func(*Config){}, g.listeners...)
			g.lock.Unlock()
			for _, l := range listeners {
				l(cf)
			}
		})
	}
	return g, nil
}

// Validate returns an error for unusable settings.
func (c *Config) Validate() error {
	if c.Partitions < 1 {
		return fmt.Errorf("partitions should be at least 1, got %d", c.Partitions)
	}
	if c.Partition < 0 || c.Partition >= c.Partitions {
		return fmt.Errorf("partition %d out of range [0, %d)", c.Partition, c.Partitions)
	}
	for name, u := range c.Units {
		if _, err := u.Options(); err != nil {
			return fmt.Errorf("unit %q, %w", name, err)
		}
	}
	return nil
}
