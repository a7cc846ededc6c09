// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/flagtune/pkg/logging"
	"github.com/AleutianAI/flagtune/services/tune/measure"
	"github.com/AleutianAI/flagtune/services/tune/sink"
	"github.com/AleutianAI/flagtune/services/tune/store"
	"github.com/AleutianAI/flagtune/services/tune/telemetry"
	"github.com/AleutianAI/flagtune/services/tune/tuner"
)

// DefaultPath is the configuration file looked up in the working directory.
const DefaultPath = "flagtune.yaml"

var (
	// ErrExists is returned by CreateDefault when the file is already there.
	ErrExists = errors.New("config file already exists")

	// ErrInvalid wraps every validation failure.
	ErrInvalid = errors.New("invalid configuration")
)

// configValidate checks the struct tags in types.go. Field names in its
// errors are the yaml keys.
var configValidate *validator.Validate

func init() {
	configValidate = validator.New()
	configValidate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	_ = configValidate.RegisterValidation("template", validateTemplate)
}

// validateTemplate requires the {options} placeholder in a compile command.
func validateTemplate(fl validator.FieldLevel) bool {
	return strings.Contains(fl.Field().String(), "{options}")
}

// DefaultConfig returns the configuration written by `flagtune init`.
func DefaultConfig() FlagtuneConfig {
	tc := tuner.DefaultConfig()
	return FlagtuneConfig{
		Workspace: WorkspaceConfig{
			Dir:   "tuning",
			Store: "file",
		},
		Compiler: CompilerConfig{
			CC:           "gcc",
			Source:       "main.c",
			Output:       "a.out",
			Template:     measure.DefaultTemplate,
			Base:         "-O3",
			ExcludeFlags: []string{},
			Timeout:      measure.DefaultTimeout,
		},
		Measure: MeasureConfig{
			Metric: measure.MetricDuration,
			Scale:  1000,
			Events: []string{},
		},
		Baseline: BaselineConfig{
			Warmup:     tc.Warmup,
			Samples:    tc.Samples,
			Symmetrize: tc.Symmetrize,
			TrimRatio:  tc.TrimRatio,
		},
		Selection: SelectionConfig{
			FlagSamples:  tc.FlagSamples,
			ParamSamples: tc.ParamSamples,
			ZThreshold:   tc.ZThreshold,
			TThreshold:   tc.TThreshold,
		},
		Bandit: BanditConfig{
			Alpha:       tc.Alpha,
			NumBins:     tc.NumBins,
			NumEpochs:   tc.NumEpochs,
			Samples:     tc.BanditSamples,
			Mode:        string(tc.Mode),
			NthChoice:   tc.NthChoice,
			RewardScale: tc.RewardScale,
		},
		Compare: CompareConfig{
			Samples: tc.CompareSamples,
		},
		Telemetry: TelemetryConfig{
			Config: telemetry.DefaultConfig(),
		},
		Influx: sink.DefaultConfig(),
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads path on top of DefaultConfig and validates the result.
// Keys missing from the file keep their defaults.
func Load(path string) (FlagtuneConfig, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read the config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path as YAML, creating the parent directory.
func Save(path string, cfg FlagtuneConfig) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create the config directory: %w", err)
		}
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal the config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// CreateDefault writes DefaultConfig to path. It refuses to overwrite an
// existing file.
func CreateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrExists, path)
	} else if !os.IsNotExist(err) {
		return err
	}
	return Save(path, DefaultConfig())
}

// Validate checks every section. The returned error lists all failing
// fields by their yaml path and wraps ErrInvalid.
func (c FlagtuneConfig) Validate() error {
	err := configValidate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", yamlPath(fe.Namespace()), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}

// yamlPath drops the root struct name from a validator namespace.
func yamlPath(ns string) string {
	_, rest, ok := strings.Cut(ns, ".")
	if !ok {
		return ns
	}
	return rest
}

// ----- Conversions -----

// TunerConfig returns the hyperparameters handed to tuner.New.
func (c FlagtuneConfig) TunerConfig() tuner.Config {
	return tuner.Config{
		Warmup:         c.Baseline.Warmup,
		Samples:        c.Baseline.Samples,
		Symmetrize:     c.Baseline.Symmetrize,
		TrimRatio:      c.Baseline.TrimRatio,
		FlagSamples:    c.Selection.FlagSamples,
		ParamSamples:   c.Selection.ParamSamples,
		ZThreshold:     c.Selection.ZThreshold,
		TThreshold:     c.Selection.TThreshold,
		Alpha:          c.Bandit.Alpha,
		NumBins:        c.Bandit.NumBins,
		NumEpochs:      c.Bandit.NumEpochs,
		BanditSamples:  c.Bandit.Samples,
		Mode:           tuner.Mode(c.Bandit.Mode),
		NthChoice:      c.Bandit.NthChoice,
		RewardScale:    c.Bandit.RewardScale,
		CompareSamples: c.Compare.Samples,
	}
}

// GCCConfig returns the compiler driver settings.
func (c FlagtuneConfig) GCCConfig() measure.GCCConfig {
	return measure.GCCConfig{
		CC:          c.Compiler.CC,
		Source:      c.Compiler.Source,
		Output:      c.Compiler.Output,
		Template:    c.Compiler.Template,
		Base:        c.Compiler.Base,
		Metric:      c.Measure.Metric,
		Scale:       c.Measure.Scale,
		RunCommand:  c.Measure.RunCommand,
		Events:      c.Measure.Events,
		DisablePerf: c.Measure.DisablePerf,
	}
}

// LoggingConfig returns the logger settings. File logs go to
// <workspace>/logs.
func (c FlagtuneConfig) LoggingConfig() logging.Config {
	level, _ := logging.ParseLevel(c.Log.Level)
	return logging.Config{
		Level:   level,
		LogDir:  filepath.Join(c.Workspace.Dir, "logs"),
		Service: "flagtune",
		JSON:    c.Log.JSON,
		Quiet:   c.Log.Quiet,
	}
}

// BadgerPath is the database directory used by the badger store.
func (c FlagtuneConfig) BadgerPath() string {
	return filepath.Join(c.Workspace.Dir, "db")
}

// OpenStore opens the configured phase store.
func (c FlagtuneConfig) OpenStore(logger *logging.Logger) (store.PhaseStore, error) {
	if c.Workspace.Store == "badger" {
		bc := store.DefaultBadgerConfig(c.BadgerPath())
		if logger != nil {
			bc.Logger = logger.Slog()
		}
		db, err := store.OpenBadger(bc)
		if err != nil {
			return nil, err
		}
		return db, nil
	}
	fs, err := store.NewFileStore(c.Workspace.Dir)
	if err != nil {
		return nil, err
	}
	return fs, nil
}
