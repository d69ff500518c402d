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

// Package logging builds the zap loggers of keyflow and carries them through contexts.
package logging

import (
	"context"
	"os"

	"go.uber.org/zap"
)

const (
	// EnvDebug turns on the development logger when set to "true".
	EnvDebug = "KEYFLOW_DEBUG"
	// EnvLogLevel overrides the level, e.g. "warn".
	EnvLogLevel = "KEYFLOW_LOG_LEVEL"
)

// NewLogger returns the process logger, named "keyflow" and writing to stdout.
func NewLogger() *zap.SugaredLogger {
	config := zap.NewProductionConfig()
	if os.Getenv(EnvDebug) == "true" {
		config = zap.NewDevelopmentConfig()
	}
	if lvl, ok := os.LookupEnv(EnvLogLevel); ok {
		if level, err := zap.ParseAtomicLevel(lvl); err == nil {
			config.Level = level
		}
	}
	config.OutputPaths = []string{"stdout"}
	logger, err := config.Build()
	if err != nil {
		panic(err)
	}
	return logger.Named("keyflow").Sugar()
}

type loggerKey struct{}

// WithLogger returns a copy of ctx carrying logger.
func WithLogger(ctx context.Context, logger *zap.SugaredLogger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext returns the logger carried by ctx, or a new process logger.
func FromContext(ctx context.Context) *zap.SugaredLogger {
	if logger, ok := ctx.Value(loggerKey{}).(*zap.SugaredLogger); ok {
		return logger
	}
	return NewLogger()
}
