// Licensed to the Apache Software Foundation (ASF) under one or more
// contributor license agreements.  See the NOTICE file distributed with
// this work for additional information regarding copyright ownership.
// The ASF licenses this file to You under the Apache License, Version 2.0
// (the "License"); you may not use this file except in compliance with
// the License.  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// splitrun runs a synthetic splittable source through the direct executor.
//
// It exists to exercise checkpointing end to end from the command line:
// sessions are bounded by output count and duration, residuals are parked
// in an in-memory or bbolt backed state store, and a JSON report of the
// run is printed on completion.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/jba/slog/handlers/loghandler"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	flag "github.com/spf13/pflag"

	"lostluck.dev/splitrun"
	"lostluck.dev/splitrun/coders"
	"lostluck.dev/splitrun/runner/direct"
	"lostluck.dev/splitrun/state"
	"lostluck.dev/splitrun/state/boltstate"
	"lostluck.dev/splitrun/transforms/io/synthetic"
)

// Config is the merged file and flag configuration for one run.
type Config struct {
	Records     int           `koanf:"records"`
	KeySize     int           `koanf:"key-size"`
	ValueSize   int           `koanf:"value-size"`
	MaxOutputs  int           `koanf:"max-outputs"`
	MaxDuration time.Duration `koanf:"max-duration"`
	ResumeDelay time.Duration `koanf:"resume-delay"`
	Parallelism int           `koanf:"parallelism"`
	StatePath   string        `koanf:"state-path"`
	Verbose     bool          `koanf:"verbose"`
}

// Report is printed as JSON at the end of a run.
type Report struct {
	Elements        int64  `json:"elements"`
	Sessions        int64  `json:"sessions"`
	Resumptions     int64  `json:"resumptions"`
	Outputs         int64  `json:"outputs"`
	OutputBytes     int64  `json:"outputBytes"`
	OutputWatermark string `json:"outputWatermark"`
	Duration        string `json:"duration"`
}

func initConfig() (Config, error) {
	f := flag.NewFlagSet("splitrun", flag.ContinueOnError)
	f.Usage = func() {
		fmt.Println(f.FlagUsages())
		os.Exit(0)
	}
	f.String("config", "", "path to an optional yaml config file")
	f.Int("records", 100, "number of synthetic records to produce")
	f.Int("key-size", 8, "bytes per record key")
	f.Int("value-size", 32, "bytes per record value")
	f.Int("max-outputs", 10, "outputs per session before a checkpoint (0 = unlimited)")
	f.Duration("max-duration", time.Second, "wall clock bound per session (0 = unbounded)")
	f.Duration("resume-delay", 0, "delay before a residual is reprocessed")
	f.Int("parallelism", 4, "worker pool size")
	f.String("state-path", "", "bbolt state file; empty keeps state in memory")
	f.Bool("verbose", false, "enable debug logging")

	if err := f.Parse(os.Args[1:]); err != nil {
		return Config{}, err
	}

	ko := koanf.New(".")
	if path, _ := f.GetString("config"); path != "" {
		if err := ko.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("reading config %v: %w", path, err)
		}
	}
	if err := ko.Load(posflag.Provider(f, ".", ko), nil); err != nil {
		return Config{}, fmt.Errorf("reading flag config: %w", err)
	}
	var cfg Config
	if err := ko.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

func main() {
	cfg, err := initConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	log := slog.New(loghandler.New(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	if err := run(context.Background(), cfg, log); err != nil {
		log.Error("run failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg Config, log *slog.Logger) error {
	source := synthetic.SourceConfig{
		NumRecords: cfg.Records,
		KeySize:    cfg.KeySize,
		ValueSize:  cfg.ValueSize,
		Seed:       uint64(time.Now().UnixNano()),
	}

	var store splitrun.StateStore[string, synthetic.SourceConfig, splitrun.Range[int64]]
	if cfg.StatePath != "" {
		bs, err := boltstate.Open(cfg.StatePath, coders.String(), synthetic.ConfigCoder(), splitrun.RangeCoder[int64]())
		if err != nil {
			return err
		}
		defer bs.Close()
		store = bs
	} else {
		store = state.NewMemory[string, synthetic.SourceConfig, splitrun.Range[int64]]()
	}

	r := direct.New(direct.Config{
		Parallelism: cfg.Parallelism,
		MaxOutputs:  cfg.MaxOutputs,
		MaxDuration: cfg.MaxDuration,
		ResumeDelay: cfg.ResumeDelay,
		Log:         log,
	}, store, synthetic.MakeTracker, synthetic.Source())

	elements := func(yield func(splitrun.ElementAndRestriction[synthetic.SourceConfig, splitrun.Range[int64]]) bool) {
		yield(splitrun.ElementAndRestriction[synthetic.SourceConfig, splitrun.Range[int64]]{
			Element:     source,
			Restriction: synthetic.Restriction(source),
		})
	}

	var outputs, outputBytes int64
	start := time.Now()
	err := r.Run(ctx, elements, func(wv splitrun.WindowedValue[synthetic.Record]) error {
		outputs++
		outputBytes += int64(len(wv.Value.Key) + len(wv.Value.Value))
		return nil
	})
	if err != nil {
		return err
	}

	stats := r.Stats()
	report := Report{
		Elements:        stats.Elements,
		Sessions:        stats.Sessions,
		Resumptions:     stats.Resumptions,
		Outputs:         outputs,
		OutputBytes:     outputBytes,
		OutputWatermark: r.OutputWatermark().String(),
		Duration:        time.Since(start).String(),
	}
	out, err := json.Marshal(report)
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
