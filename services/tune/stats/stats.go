// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stats implements the descriptive statistics and hypothesis tests
// used to filter compiler flags and parameters.
//
// All functions are stateless and safe for concurrent use. Distributions
// come from gonum's stat/distuv so p-values are exact rather than
// approximated.
//
// Degenerate variance (every sample identical) is not an error for the
// z and t tests: a non-zero mean difference yields an infinite statistic
// with p = 0, and a zero difference yields p = 1. Deterministic objectives
// such as binary size rely on this.
package stats

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrInsufficientSamples indicates not enough samples for analysis.
	ErrInsufficientSamples = errors.New("insufficient samples for statistical analysis")

	// ErrZeroVariance indicates a sample set has zero variance where a
	// positive one is required.
	ErrZeroVariance = errors.New("sample set has zero variance")

	// ErrInvalidRatio indicates a trim ratio outside (0, 1].
	ErrInvalidRatio = errors.New("trim ratio must be in (0, 1]")
)

// -----------------------------------------------------------------------------
// Descriptive Statistics
// -----------------------------------------------------------------------------

// Mean returns the arithmetic mean. Returns NaN for an empty slice.
func Mean(samples []float64) float64 {
	if len(samples) == 0 {
		return math.NaN()
	}
	return stat.Mean(samples, nil)
}

// PopMeanStdDev returns the mean and the population (ddof=0) standard
// deviation, the estimator used for the baseline distribution.
func PopMeanStdDev(samples []float64) (mean, std float64) {
	if len(samples) == 0 {
		return math.NaN(), math.NaN()
	}
	return stat.PopMeanStdDev(samples, nil)
}

// Min returns the smallest sample. Returns NaN for an empty slice.
func Min(samples []float64) float64 {
	if len(samples) == 0 {
		return math.NaN()
	}
	m := samples[0]
	for _, v := range samples[1:] {
		m = math.Min(m, v)
	}
	return m
}

// Max returns the largest sample. Returns NaN for an empty slice.
func Max(samples []float64) float64 {
	if len(samples) == 0 {
		return math.NaN()
	}
	m := samples[0]
	for _, v := range samples[1:] {
		m = math.Max(m, v)
	}
	return m
}

// Median returns the median, averaging the two middle values for an even
// count. The input is not modified.
func Median(samples []float64) float64 {
	n := len(samples)
	if n == 0 {
		return math.NaN()
	}
	sorted := Sorted(samples)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// Sorted returns an ascending copy of samples.
func Sorted(samples []float64) []float64 {
	out := make([]float64, len(samples))
	copy(out, samples)
	sort.Float64s(out)
	return out
}

// -----------------------------------------------------------------------------
// Distribution Shaping
// -----------------------------------------------------------------------------

// TrimUpper sorts the samples and keeps the lowest floor(n*ratio) of them,
// discarding upper-tail outliers such as scheduler preemptions.
//
// Inputs:
//   - samples: Raw measurements. Not modified.
//   - ratio: Fraction to keep, in (0, 1].
//
// Outputs:
//   - []float64: The retained samples in ascending order.
//   - error: ErrInvalidRatio, or ErrInsufficientSamples if nothing remains.
func TrimUpper(samples []float64, ratio float64) ([]float64, error) {
	if !(ratio > 0 && ratio <= 1) {
		return nil, ErrInvalidRatio
	}
	keep := int(float64(len(samples)) * ratio)
	if keep == 0 {
		return nil, ErrInsufficientSamples
	}
	return Sorted(samples)[:keep], nil
}

// Symmetrize reflects the samples through their kernel-density mode.
//
// Description:
//
//	Timing measurements are right-skewed. Appending 2*mode - x for every
//	sample x produces a distribution symmetric around its mode, which makes
//	the normal-theory tests downstream better behaved. The mode is the
//	maximum of a Gaussian KDE found by bounded scalar search over
//	[min, max].
//
// Outputs:
//   - []float64: The sorted samples followed by their mirrors (2n values).
//   - float64: The estimated mode.
//   - error: Non-nil if the KDE cannot be built (fewer than two samples or
//     zero variance).
func Symmetrize(samples []float64) ([]float64, float64, error) {
	sorted := Sorted(samples)
	kde, err := NewGaussianKDE(sorted)
	if err != nil {
		return nil, 0, err
	}
	mode := kde.Mode()

	out := make([]float64, 0, 2*len(sorted))
	out = append(out, sorted...)
	for _, v := range sorted {
		out = append(out, 2*mode-v)
	}
	return out, mode, nil
}
