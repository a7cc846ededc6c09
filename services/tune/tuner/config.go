// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tuner

import "fmt"

// Mode selects how the bandit optimizer schedules its arms.
type Mode string

const (
	// ModeParallel lets every parameter recommend in each round and
	// updates all arms with the shared reward.
	ModeParallel Mode = "parallel"

	// ModeSerial tunes the parameters one after another, fixing each at
	// its final choice before moving to the next.
	ModeSerial Mode = "serial"
)

// Config holds the tuning hyperparameters.
type Config struct {
	// Warmup measurements are taken and discarded before the baseline.
	Warmup int

	// Samples is the number of baseline measurements kept.
	Samples int

	// Symmetrize mirrors the baseline through its KDE mode. When false the
	// baseline is trimmed to its lowest TrimRatio fraction instead.
	Symmetrize bool
	TrimRatio  float64

	// FlagSamples is the number of draws per candidate flag.
	FlagSamples int

	// ParamSamples is the number of draws per parameter extreme.
	ParamSamples int

	// ZThreshold and TThreshold are the significance levels.
	ZThreshold float64
	TThreshold float64

	// Bandit settings.
	Alpha         float64
	NumBins       int
	NumEpochs     int
	BanditSamples int
	Mode          Mode
	NthChoice     int

	// RewardScale divides the objective improvement into a reward.
	RewardScale float64

	// CompareSamples is the number of draws per configuration in Compare.
	CompareSamples int
}

// DefaultConfig returns the settings used by the CLI when nothing is
// configured.
func DefaultConfig() Config {
	return Config{
		Warmup:         50,
		Samples:        200,
		Symmetrize:     true,
		TrimRatio:      0.8,
		FlagSamples:    10,
		ParamSamples:   10,
		ZThreshold:     0.05,
		TThreshold:     0.05,
		Alpha:          0.5,
		NumBins:        25,
		NumEpochs:      200,
		BanditSamples:  10,
		Mode:           ModeParallel,
		NthChoice:      3,
		RewardScale:    1000,
		CompareSamples: 10,
	}
}

// Validate checks the settings every phase relies on. Bandit mode and
// bin count are checked by OptimizeBandit itself.
func (c Config) Validate() error {
	switch {
	case c.Warmup < 0:
		return configError("warmup", "must not be negative, got %d", c.Warmup)
	case c.Samples < 2:
		return configError("samples", "need at least 2, got %d", c.Samples)
	case !c.Symmetrize && !(c.TrimRatio > 0 && c.TrimRatio <= 1):
		return configError("trim_ratio", "must be in (0, 1], got %g", c.TrimRatio)
	case c.FlagSamples < 2:
		return configError("flag_samples", "need at least 2, got %d", c.FlagSamples)
	case c.ParamSamples < 2:
		return configError("param_samples", "need at least 2, got %d", c.ParamSamples)
	case !(c.ZThreshold > 0 && c.ZThreshold < 1):
		return configError("z_threshold", "must be in (0, 1), got %g", c.ZThreshold)
	case !(c.TThreshold > 0 && c.TThreshold < 1):
		return configError("t_threshold", "must be in (0, 1), got %g", c.TThreshold)
	case c.Alpha < 0:
		return configError("alpha", "must not be negative, got %g", c.Alpha)
	case c.NumBins < 1:
		return configError("num_bins", "must be positive, got %d", c.NumBins)
	case c.BanditSamples < 1:
		return configError("bandit_samples", "must be positive, got %d", c.BanditSamples)
	case !(c.RewardScale > 0):
		return configError("reward_scale", "must be positive, got %g", c.RewardScale)
	case c.CompareSamples < 1:
		return configError("compare_samples", "must be positive, got %d", c.CompareSamples)
	}
	return nil
}

// validateBandit checks the settings that only the bandit phase uses.
func (c Config) validateBandit() error {
	if c.Mode != ModeParallel && c.Mode != ModeSerial {
		return configError("mode", "must be %q or %q, got %q", ModeParallel, ModeSerial, c.Mode)
	}
	if c.NumBins > c.NumEpochs {
		return configError("num_bins", "%d bins exceed %d epochs", c.NumBins, c.NumEpochs)
	}
	return nil
}

func (m Mode) String() string {
	return string(m)
}

// ParseMode converts a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeParallel, ModeSerial:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown bandit mode %q", s)
}
