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

package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/numaproj/keyflow"
	"github.com/numaproj/keyflow/pkg/app"
	"github.com/numaproj/keyflow/pkg/event"
	"github.com/numaproj/keyflow/pkg/metrics"
	"github.com/numaproj/keyflow/pkg/sampleapps/counter"
	"github.com/numaproj/keyflow/pkg/sampleapps/wordcount"
	"github.com/numaproj/keyflow/pkg/shared/config"
	"github.com/numaproj/keyflow/pkg/shared/logging"
	sharedutil "github.com/numaproj/keyflow/pkg/shared/util"
)

// sample is one of the bundled applications.
type sample struct {
	builder func() *app.Builder
	stream  string
	input   func(line string) event.Event
	report  func(ctx context.Context, a *app.App, inputs []string) string
}

func samples(clockInterval time.Duration) map[string]sample {
	return map[string]sample{
		wordcount.AppID: {
			builder: wordcount.NewBuilder,
			stream:  wordcount.SentencesStream,
			input:   func(line string) event.Event { return &wordcount.Sentence{Text: line} },
			report: func(_ context.Context, a *app.App, _ []string) string {
				counts, ok := wordcount.Results(a)
				if !ok {
					return "the classifier runs on another partition"
				}
				return formatCounts(counts)
			},
		},
		counter.AppID: {
			builder: func() *app.Builder { return counter.NewBuilder(clockInterval) },
			stream:  counter.ValuesStream,
			input:   func(line string) event.Event { return &counter.Value{Key: line} },
			report: func(ctx context.Context, a *app.App, inputs []string) string {
				counts := map[string]int{}
				for _, k := range inputs {
					if n, err := counter.Count(ctx, a, k); err == nil {
						counts[k] = n
					}
				}
				return formatCounts(counts)
			},
		},
	}
}

func formatCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := ""
	for _, k := range keys {
		out += fmt.Sprintf("%s=%d\n", k, counts[k])
	}
	return out
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

func NewRunCommand() *cobra.Command {
	var (
		fromStdin     bool
		duration      time.Duration
		clockInterval time.Duration
	)

	command := &cobra.Command{
		Use:   "run (wordcount|counter) [INPUT...]",
		Short: "Run a sample application",
		Long: "Run a sample application, feeding it the inputs given as arguments or read from stdin. " +
			"The application runs until interrupted or until the duration elapsed, then reports its results.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, ok := samples(clockInterval)[args[0]]
			if !ok {
				return fmt.Errorf("unknown application %q", args[0])
			}
			inputs := args[1:]
			if fromStdin {
				lines, err := readLines(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read stdin, %w", err)
				}
				inputs = append(inputs, lines...)
			}
			log := logging.NewLogger().With("app", args[0])
			log.Infow("Starting application", "version", keyflow.GetVersion())
			g, err := config.LoadConfig(configFile, func(err error) {
				log.Errorw("Failed to reload configuration", zap.Error(err))
			})
			if err != nil {
				return err
			}
			g.OnChange(func(c *config.Config) {
				log.Infow("Configuration reloaded, unit overrides apply at the next start", zap.Int("units", len(c.Units)))
			})
			cfg := g.Get()

			ctx, stop := signal.NotifyContext(logging.WithLogger(cmd.Context(), log), syscall.SIGTERM, os.Interrupt)
			defer stop()
			opts, err := app.FromConfig(ctx, cfg)
			if err != nil {
				return err
			}
			a, err := s.builder().Build(ctx, append(opts, app.WithUnitOverrides(g.UnitOptions))...)
			if err != nil {
				return err
			}
			if !cfg.Metrics.Disabled {
				mopts := []metrics.Option{
					metrics.WithPort(cfg.Metrics.Port),
					metrics.WithPprof(cfg.Metrics.Pprof),
					metrics.WithHealthCheckers(ctx, 2*time.Second, a),
				}
				if cfg.Metrics.Insecure {
					mopts = append(mopts, metrics.WithInsecure())
				}
				shutdown, err := metrics.NewMetricsServer(mopts...).Start(ctx)
				if err != nil {
					_ = a.Stop()
					return err
				}
				defer func() {
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = shutdown(sctx)
				}()
			}
			if err := a.Start(ctx); err != nil {
				_ = a.Stop()
				return err
			}
			for _, in := range inputs {
				if err := a.Put(ctx, s.stream, s.input(in)); err != nil {
					log.Warnw("Failed to put input", zap.String("input", in), zap.Error(err))
				}
			}
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}
			<-ctx.Done()
			fmt.Fprint(cmd.OutOrStdout(), s.report(context.Background(), a, inputs))
			return a.Stop()
		},
	}
	command.Flags().BoolVar(&fromStdin, "stdin", false, "Read inputs from stdin, one per line.")
	command.Flags().DurationVar(&duration, "duration", sharedutil.LookupEnvDurationOr("KEYFLOW_RUN_DURATION", 0), "Stop after this long, 0 runs until interrupted.")
	command.Flags().DurationVar(&clockInterval, "clock-interval", sharedutil.LookupEnvDurationOr("KEYFLOW_CLOCK_INTERVAL", 0), "Tick interval of the counter clock, 0 disables it.")
	return command
}
