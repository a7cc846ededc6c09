// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// -----------------------------------------------------------------------------
// Results
// -----------------------------------------------------------------------------

// TestResult holds the outcome of a single hypothesis test.
type TestResult struct {
	// Statistic is the test statistic (z, t, W or D depending on the test).
	Statistic float64

	// PValue is the p-value. Two-sided for z and t tests.
	PValue float64

	// DegreesOfFreedom is the df used for t tests, NaN otherwise.
	DegreesOfFreedom float64

	// Degenerate is true when the standard error was zero.
	Degenerate bool
}

// Significant reports whether the p-value is below alpha.
func (r TestResult) Significant(alpha float64) bool {
	return r.PValue < alpha
}

// -----------------------------------------------------------------------------
// Location Tests
// -----------------------------------------------------------------------------

// ZTest compares the mean of samples against a known normal reference.
//
// Description:
//
//	z = (mean - mu) / (sigma / sqrt(n)) and p = 2 * P(Z > |z|).
//
// Inputs:
//   - samples: Observations under test. Must not be empty.
//   - mu: Reference mean.
//   - sigma: Reference standard deviation.
//
// Outputs:
//   - TestResult: z statistic and two-sided p-value.
//   - error: ErrInsufficientSamples if samples is empty.
func ZTest(samples []float64, mu, sigma float64) (TestResult, error) {
	if len(samples) == 0 {
		return TestResult{}, ErrInsufficientSamples
	}
	diff := stat.Mean(samples, nil) - mu
	se := sigma / math.Sqrt(float64(len(samples)))
	if se == 0 {
		return degenerate(diff, math.NaN()), nil
	}
	z := diff / se
	return TestResult{
		Statistic:        z,
		PValue:           2 * distuv.UnitNormal.Survival(math.Abs(z)),
		DegreesOfFreedom: math.NaN(),
	}, nil
}

// OneSampleTTest tests whether the mean of samples differs from mu.
//
// Uses the unbiased sample standard deviation and n-1 degrees of freedom.
// Requires at least two samples.
func OneSampleTTest(samples []float64, mu float64) (TestResult, error) {
	n := len(samples)
	if n < 2 {
		return TestResult{}, ErrInsufficientSamples
	}
	mean, std := stat.MeanStdDev(samples, nil)
	df := float64(n - 1)
	se := std / math.Sqrt(float64(n))
	if se == 0 {
		return degenerate(mean-mu, df), nil
	}
	t := (mean - mu) / se
	return TestResult{
		Statistic:        t,
		PValue:           studentsTwoSided(t, df),
		DegreesOfFreedom: df,
	}, nil
}

// TwoSampleTTest tests whether two independent samples share a mean.
//
// Description:
//
//	With equalVar the pooled-variance Student test is used, otherwise
//	Welch's test with Welch-Satterthwaite degrees of freedom.
//
// Inputs:
//   - a, b: Sample sets, each with at least two values.
//   - equalVar: Assume equal population variances.
//
// Outputs:
//   - TestResult: t statistic (mean(a) - mean(b) direction) and p-value.
//   - error: ErrInsufficientSamples if either set has fewer than two values.
func TwoSampleTTest(a, b []float64, equalVar bool) (TestResult, error) {
	n1, n2 := float64(len(a)), float64(len(b))
	if n1 < 2 || n2 < 2 {
		return TestResult{}, ErrInsufficientSamples
	}

	mean1, var1 := stat.MeanVariance(a, nil)
	mean2, var2 := stat.MeanVariance(b, nil)
	diff := mean1 - mean2

	var se, df float64
	if equalVar {
		df = n1 + n2 - 2
		pooled := ((n1-1)*var1 + (n2-1)*var2) / df
		se = math.Sqrt(pooled * (1/n1 + 1/n2))
	} else {
		v1, v2 := var1/n1, var2/n2
		se = math.Sqrt(v1 + v2)
		denom := v1*v1/(n1-1) + v2*v2/(n2-1)
		if denom > 0 {
			df = (v1 + v2) * (v1 + v2) / denom
		} else {
			df = n1 + n2 - 2
		}
	}

	if se == 0 {
		return degenerate(diff, df), nil
	}
	t := diff / se
	return TestResult{
		Statistic:        t,
		PValue:           studentsTwoSided(t, df),
		DegreesOfFreedom: df,
	}, nil
}

// WelchTTest is TwoSampleTTest with unequal variances.
func WelchTTest(a, b []float64) (TestResult, error) {
	return TwoSampleTTest(a, b, false)
}

// -----------------------------------------------------------------------------
// Variance Tests
// -----------------------------------------------------------------------------

// Levene performs the Brown-Forsythe variant of Levene's test (deviations
// from the group median) for equality of variances across groups.
//
// Description:
//
//	W = (N-k)/(k-1) * sum_i n_i (Zi - Z)^2 / sum_ij (Zij - Zi)^2 with
//	Zij = |Xij - median_i|. p is the upper tail of F(k-1, N-k).
//
// Inputs:
//   - groups: At least two non-empty groups with N > k overall.
//
// Outputs:
//   - TestResult: W statistic and p-value. When every deviation equals its
//     group mean the result is degenerate: p = 0 if the group means of the
//     deviations differ, p = 1 otherwise.
//   - error: ErrInsufficientSamples if the inputs are too small.
func Levene(groups ...[]float64) (TestResult, error) {
	k := len(groups)
	if k < 2 {
		return TestResult{}, ErrInsufficientSamples
	}

	total := 0
	for _, g := range groups {
		if len(g) == 0 {
			return TestResult{}, ErrInsufficientSamples
		}
		total += len(g)
	}
	if total <= k {
		return TestResult{}, ErrInsufficientSamples
	}

	deviations := make([][]float64, k)
	groupMeans := make([]float64, k)
	grandSum := 0.0
	for i, g := range groups {
		med := Median(g)
		dev := make([]float64, len(g))
		for j, v := range g {
			dev[j] = math.Abs(v - med)
			grandSum += dev[j]
		}
		deviations[i] = dev
		groupMeans[i] = stat.Mean(dev, nil)
	}
	grandMean := grandSum / float64(total)

	between := 0.0
	within := 0.0
	for i, dev := range deviations {
		d := groupMeans[i] - grandMean
		between += float64(len(dev)) * d * d
		for _, z := range dev {
			within += (z - groupMeans[i]) * (z - groupMeans[i])
		}
	}

	d1 := float64(k - 1)
	d2 := float64(total - k)
	if within == 0 {
		return degenerate(between, math.NaN()), nil
	}

	w := d2 / d1 * between / within
	return TestResult{
		Statistic:        w,
		PValue:           distuv.F{D1: d1, D2: d2}.Survival(w),
		DegreesOfFreedom: math.NaN(),
	}, nil
}

// -----------------------------------------------------------------------------
// Goodness of Fit
// -----------------------------------------------------------------------------

// KSTestNormal runs a one-sample Kolmogorov-Smirnov test of samples
// against Normal(mu, sigma).
//
// The p-value uses the asymptotic Kolmogorov distribution with Stephens'
// small-sample correction, which is accurate enough for the normality
// warning it feeds.
//
// Outputs:
//   - TestResult: D statistic and p-value.
//   - error: ErrInsufficientSamples for empty input, ErrZeroVariance if
//     sigma is not positive.
func KSTestNormal(samples []float64, mu, sigma float64) (TestResult, error) {
	n := len(samples)
	if n == 0 {
		return TestResult{}, ErrInsufficientSamples
	}
	if !(sigma > 0) {
		return TestResult{}, ErrZeroVariance
	}

	sorted := make([]float64, n)
	copy(sorted, samples)
	sort.Float64s(sorted)

	ref := distuv.Normal{Mu: mu, Sigma: sigma}
	fn := float64(n)
	d := 0.0
	for i, x := range sorted {
		cdf := ref.CDF(x)
		d = math.Max(d, math.Max(float64(i+1)/fn-cdf, cdf-float64(i)/fn))
	}

	en := math.Sqrt(fn)
	return TestResult{
		Statistic:        d,
		PValue:           kolmogorovSurvival((en + 0.12 + 0.11/en) * d),
		DegreesOfFreedom: math.NaN(),
	}, nil
}

// kolmogorovSurvival evaluates Q_KS(lambda) = 2 sum (-1)^(j-1) exp(-2 j^2 lambda^2).
func kolmogorovSurvival(lambda float64) float64 {
	if lambda < 0.2 {
		return 1
	}
	a2 := -2 * lambda * lambda
	fac := 2.0
	sum := 0.0
	prev := 0.0
	for j := 1; j <= 100; j++ {
		term := fac * math.Exp(a2*float64(j*j))
		sum += term
		if math.Abs(term) <= 0.001*prev || math.Abs(term) <= 1e-8*sum {
			return math.Min(math.Max(sum, 0), 1)
		}
		fac = -fac
		prev = math.Abs(term)
	}
	return 1
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func studentsTwoSided(t, df float64) float64 {
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	return math.Min(1, 2*dist.Survival(math.Abs(t)))
}

// degenerate builds the result for a zero standard error.
func degenerate(diff, df float64) TestResult {
	if diff == 0 {
		return TestResult{Statistic: 0, PValue: 1, DegreesOfFreedom: df, Degenerate: true}
	}
	return TestResult{Statistic: math.Copysign(math.Inf(1), diff), PValue: 0, DegreesOfFreedom: df, Degenerate: true}
}
