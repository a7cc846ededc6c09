// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package linucb implements the disjoint linear upper-confidence-bound
// bandit used to choose a value for one numeric compiler parameter.
//
// An Arm owns one ridge-regression model per discretized value (bin) of
// its parameter. Every model keeps A (d×d), its inverse, b (d) and
// theta = A⁻¹b. A round is Recommend(context) followed by Update(reward).
package linucb

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrNotInitialized is returned by Recommend before Init.
	ErrNotInitialized = errors.New("linucb: arm not initialized")

	// ErrNoRecommendation is returned by Update without a preceding Recommend.
	ErrNoRecommendation = errors.New("linucb: update without recommendation")

	// ErrDimensionMismatch is returned for a context of the wrong length.
	ErrDimensionMismatch = errors.New("linucb: context dimension mismatch")
)

// binModel is the per-value model. It is mutated only by its Arm's Update.
type binModel struct {
	a     *mat.Dense
	aInv  *mat.Dense
	b     *mat.VecDense
	theta *mat.VecDense
}

// Arm is a LinUCB bandit over the discretized values of one parameter.
//
// Arm is not safe for concurrent use.
type Arm struct {
	dim       int
	values    []int
	alpha     float64
	nthChoice int
	rng       *rand.Rand

	bins     []*binModel
	excluded []bool
	chosen   int
	settled  int
	context  *mat.VecDense
}

// Option configures an Arm.
type Option func(*Arm)

// WithAlpha sets the exploration weight. Default 0.25.
func WithAlpha(alpha float64) Option {
	return func(a *Arm) {
		a.alpha = alpha
	}
}

// WithNthChoice makes Recommend pick uniformly among the top n scores
// instead of the single best. Values below 1 are treated as 1.
func WithNthChoice(n int) Option {
	return func(a *Arm) {
		a.nthChoice = max(n, 1)
	}
}

// WithRand sets the random source used by the top-n choice.
func WithRand(rng *rand.Rand) Option {
	return func(a *Arm) {
		a.rng = rng
	}
}

// NewArm creates an arm over values for contexts of length dim.
//
// # Inputs
//
//   - dim: Context dimension, at least 1.
//   - values: Candidate parameter values, one model per entry. Duplicates
//     are allowed and get independent models.
//   - opts: Alpha, top-n choice and random source.
//
// # Outputs
//
//   - *Arm: The arm. Init must be called before Recommend.
//   - error: Non-nil for a non-positive dim or empty values.
func NewArm(dim int, values []int, opts ...Option) (*Arm, error) {
	if dim < 1 {
		return nil, fmt.Errorf("linucb: dimension must be positive, got %d", dim)
	}
	if len(values) == 0 {
		return nil, errors.New("linucb: no candidate values")
	}

	v := make([]int, len(values))
	copy(v, values)
	a := &Arm{
		dim:       dim,
		values:    v,
		alpha:     0.25,
		nthChoice: 1,
		chosen:    -1,
		settled:   -1,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.rng == nil {
		a.rng = rand.New(rand.NewPCG(1, 2))
	}
	return a, nil
}

// Init resets every bin to A = A⁻¹ = I and b = theta = 0 and clears
// exclusions.
func (a *Arm) Init() {
	a.bins = make([]*binModel, len(a.values))
	for i := range a.bins {
		a.bins[i] = &binModel{
			a:     identity(a.dim),
			aInv:  identity(a.dim),
			b:     mat.NewVecDense(a.dim, nil),
			theta: mat.NewVecDense(a.dim, nil),
		}
	}
	a.excluded = make([]bool, len(a.values))
	a.chosen = -1
	a.settled = -1
	a.context = nil
}

// Dim returns the context dimension.
func (a *Arm) Dim() int {
	return a.dim
}

// Values returns a copy of the candidate values.
func (a *Arm) Values() []int {
	out := make([]int, len(a.values))
	copy(out, a.values)
	return out
}

// Scores returns the UCB score of every bin for context.
//
// score_v = x·theta_v + alpha * sqrt(x A⁻¹_v xᵀ)
func (a *Arm) Scores(context []float64) ([]float64, error) {
	if a.bins == nil {
		return nil, ErrNotInitialized
	}
	if len(context) != a.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(context), a.dim)
	}
	x := mat.NewVecDense(a.dim, append([]float64(nil), context...))
	scores := make([]float64, len(a.bins))
	for i, bin := range a.bins {
		scores[i] = mat.Dot(x, bin.theta) + a.alpha*math.Sqrt(mat.Inner(x, bin.aInv, x))
	}
	return scores, nil
}

// Recommend picks a value for context and remembers it for Update.
//
// Excluded bins are not considered unless every bin is excluded, in which
// case all bins compete again. With nthChoice == 1 the first bin with the
// highest score wins. Otherwise the scores are ranked in descending order
// and one of the top nthChoice bins is drawn uniformly.
func (a *Arm) Recommend(context []float64) (int, error) {
	scores, err := a.Scores(context)
	if err != nil {
		return 0, err
	}

	order := make([]int, 0, len(scores))
	for i := range scores {
		if !a.excluded[i] {
			order = append(order, i)
		}
	}
	if len(order) == 0 {
		for i := range scores {
			order = append(order, i)
		}
	}

	pick := order[0]
	if a.nthChoice > 1 {
		sort.SliceStable(order, func(i, j int) bool {
			return scores[order[i]] > scores[order[j]]
		})
		pick = order[a.rng.IntN(min(a.nthChoice, len(order)))]
	} else {
		for _, i := range order {
			if scores[i] > scores[pick] {
				pick = i
			}
		}
	}

	a.chosen = pick
	a.context = mat.NewVecDense(a.dim, append([]float64(nil), context...))
	return a.values[pick], nil
}

// Reject excludes the last recommended bin from future recommendations
// and drops the pending recommendation without touching any model.
func (a *Arm) Reject() error {
	if a.chosen < 0 || a.context == nil {
		return ErrNoRecommendation
	}
	a.excluded[a.chosen] = true
	a.chosen = -1
	a.context = nil
	return nil
}

// Excluded reports whether bin was rejected since the last Init.
func (a *Arm) Excluded(bin int) bool {
	return bin >= 0 && bin < len(a.excluded) && a.excluded[bin]
}

// Update folds reward into the model of the last recommended bin.
//
// A += x xᵀ, b += r x, A⁻¹ = solve(A, I), theta = A⁻¹ b.
func (a *Arm) Update(reward float64) error {
	if a.chosen < 0 || a.context == nil {
		return ErrNoRecommendation
	}
	bin := a.bins[a.chosen]
	x := a.context

	bin.a.RankOne(bin.a, 1, x, x)
	bin.b.AddScaledVec(bin.b, reward, x)
	if err := bin.aInv.Solve(bin.a, identity(a.dim)); err != nil {
		// A near-singular A still yields a usable inverse with a Condition error.
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return fmt.Errorf("linucb: invert design matrix: %w", err)
		}
	}
	bin.theta.MulVec(bin.aInv, bin.b)
	a.settled = a.chosen
	return nil
}

// Chosen returns the bin index and value of the last recommendation.
// ok is false before the first Recommend.
func (a *Arm) Chosen() (bin, value int, ok bool) {
	if a.chosen < 0 {
		return 0, 0, false
	}
	return a.chosen, a.values[a.chosen], true
}

// Settled returns the bin index and value of the last recommendation that
// received an Update. ok is false until the first successful Update.
func (a *Arm) Settled() (bin, value int, ok bool) {
	if a.settled < 0 {
		return 0, 0, false
	}
	return a.settled, a.values[a.settled], true
}

// BinState is a copy of one bin's model.
type BinState struct {
	Value int
	A     *mat.Dense
	AInv  *mat.Dense
	B     *mat.VecDense
	Theta *mat.VecDense
}

// Snapshot returns deep copies of every bin's model, in bin order.
func (a *Arm) Snapshot() []BinState {
	out := make([]BinState, len(a.bins))
	for i, bin := range a.bins {
		out[i] = BinState{
			Value: a.values[i],
			A:     mat.DenseCopyOf(bin.a),
			AInv:  mat.DenseCopyOf(bin.aInv),
			B:     mat.VecDenseCopyOf(bin.b),
			Theta: mat.VecDenseCopyOf(bin.theta),
		}
	}
	return out
}

func identity(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// Discretize returns bins evenly spaced integers over [lo, hi] with both
// endpoints included. Intermediate points are truncated toward zero, so
// narrow ranges produce repeated values.
func Discretize(lo, hi, bins int) []int {
	if bins <= 0 {
		return nil
	}
	if bins == 1 {
		return []int{lo}
	}
	out := make([]int, bins)
	step := float64(hi-lo) / float64(bins-1)
	for i := 0; i < bins-1; i++ {
		out[i] = int(float64(lo) + float64(i)*step)
	}
	out[bins-1] = hi
	return out
}
