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

	"gonum.org/v1/gonum/stat"
)

// GaussianKDE is a one-dimensional Gaussian kernel density estimate with
// Scott's rule bandwidth.
type GaussianKDE struct {
	points    []float64
	bandwidth float64
	norm      float64
}

// NewGaussianKDE builds a KDE over points.
//
// The bandwidth is the unbiased sample standard deviation scaled by
// n^(-1/5). Requires at least two points with non-zero spread.
func NewGaussianKDE(points []float64) (*GaussianKDE, error) {
	n := len(points)
	if n < 2 {
		return nil, ErrInsufficientSamples
	}
	std := stat.StdDev(points, nil)
	if !(std > 0) {
		return nil, ErrZeroVariance
	}
	h := std * math.Pow(float64(n), -0.2)

	p := make([]float64, n)
	copy(p, points)
	return &GaussianKDE{
		points:    p,
		bandwidth: h,
		norm:      1 / (float64(n) * h * math.Sqrt(2*math.Pi)),
	}, nil
}

// Bandwidth returns the kernel standard deviation.
func (k *GaussianKDE) Bandwidth() float64 {
	return k.bandwidth
}

// Density evaluates the estimate at x.
func (k *GaussianKDE) Density(x float64) float64 {
	sum := 0.0
	for _, p := range k.points {
		u := (x - p) / k.bandwidth
		sum += math.Exp(-0.5 * u * u)
	}
	return sum * k.norm
}

// Mode returns the location of the density maximum on [min, max] of the
// input points.
func (k *GaussianKDE) Mode() float64 {
	lo, hi := Min(k.points), Max(k.points)
	return MinimizeBounded(func(x float64) float64 { return -k.Density(x) }, lo, hi, 1e-5, 500)
}

// MinimizeBounded finds a local minimum of f on [lo, hi] with Brent's
// bounded method (golden-section steps combined with parabolic
// interpolation).
//
// Inputs:
//   - f: Objective. Evaluated only inside [lo, hi].
//   - lo, hi: Search bounds, lo <= hi.
//   - xatol: Absolute tolerance on x.
//   - maxEval: Upper bound on function evaluations.
//
// Outputs:
//   - float64: The best x found.
func MinimizeBounded(f func(float64) float64, lo, hi, xatol float64, maxEval int) float64 {
	if lo == hi {
		return lo
	}
	if lo > hi {
		lo, hi = hi, lo
	}

	sqrtEps := math.Sqrt(2.2e-16)
	goldenMean := 0.5 * (3.0 - math.Sqrt(5.0))

	a, b := lo, hi
	fulc := a + goldenMean*(b-a)
	nfc, xf := fulc, fulc
	rat, e := 0.0, 0.0
	x := xf
	fx := f(x)
	num := 1
	ffulc, fnfc := fx, fx
	xm := 0.5 * (a + b)
	tol1 := sqrtEps*math.Abs(xf) + xatol/3.0
	tol2 := 2.0 * tol1

	for math.Abs(xf-xm) > (tol2 - 0.5*(b-a)) {
		golden := true

		if math.Abs(e) > tol1 {
			golden = false
			r := (xf - nfc) * (fx - ffulc)
			q := (xf - fulc) * (fx - fnfc)
			p := (xf-fulc)*q - (xf-nfc)*r
			q = 2.0 * (q - r)
			if q > 0.0 {
				p = -p
			}
			q = math.Abs(q)
			r = e
			e = rat

			if math.Abs(p) < math.Abs(0.5*q*r) && p > q*(a-xf) && p < q*(b-xf) {
				rat = p / q
				x = xf + rat
				if (x-a) < tol2 || (b-x) < tol2 {
					rat = tol1 * signOrOne(xm-xf)
				}
			} else {
				golden = true
			}
		}

		if golden {
			if xf >= xm {
				e = a - xf
			} else {
				e = b - xf
			}
			rat = goldenMean * e
		}

		x = xf + signOrOne(rat)*math.Max(math.Abs(rat), tol1)
		fu := f(x)
		num++

		if fu <= fx {
			if x >= xf {
				a = xf
			} else {
				b = xf
			}
			fulc, ffulc = nfc, fnfc
			nfc, fnfc = xf, fx
			xf, fx = x, fu
		} else {
			if x < xf {
				a = x
			} else {
				b = x
			}
			if fu <= fnfc || nfc == xf {
				fulc, ffulc = nfc, fnfc
				nfc, fnfc = x, fu
			} else if fu <= ffulc || fulc == xf || fulc == nfc {
				fulc, ffulc = x, fu
			}
		}

		xm = 0.5 * (a + b)
		tol1 = sqrtEps*math.Abs(xf) + xatol/3.0
		tol2 = 2.0 * tol1

		if num >= maxEval {
			break
		}
	}
	return xf
}

// signOrOne returns the sign of v, treating zero as positive.
func signOrOne(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}
