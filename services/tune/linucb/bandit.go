// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package linucb

import (
	"errors"
	"fmt"
)

// Domain is the discretized value set of one named parameter.
type Domain struct {
	Name   string
	Values []int
}

// Bandit holds one Arm per parameter in a fixed order.
//
// All arms share the context dimension and the options passed to
// NewBandit, including the random source. Bandit is not safe for
// concurrent use.
type Bandit struct {
	names []string
	arms  []*Arm
}

// NewBandit creates an initialized arm for every domain.
//
// # Inputs
//
//   - dim: Context dimension shared by all arms.
//   - domains: Parameters in tuning order. Names must be unique.
//   - opts: Applied to every arm.
//
// # Outputs
//
//   - *Bandit: Ready for Recommend.
//   - error: Non-nil for an empty or duplicate name, or an invalid arm.
func NewBandit(dim int, domains []Domain, opts ...Option) (*Bandit, error) {
	b := &Bandit{
		names: make([]string, 0, len(domains)),
		arms:  make([]*Arm, 0, len(domains)),
	}
	seen := make(map[string]bool, len(domains))
	for _, d := range domains {
		if d.Name == "" {
			return nil, errors.New("linucb: empty parameter name")
		}
		if seen[d.Name] {
			return nil, fmt.Errorf("linucb: duplicate parameter %q", d.Name)
		}
		seen[d.Name] = true

		arm, err := NewArm(dim, d.Values, opts...)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", d.Name, err)
		}
		arm.Init()
		b.names = append(b.names, d.Name)
		b.arms = append(b.arms, arm)
	}
	return b, nil
}

// Len returns the number of arms.
func (b *Bandit) Len() int {
	return len(b.arms)
}

// Name returns the parameter name of arm i.
func (b *Bandit) Name(i int) string {
	return b.names[i]
}

// Arm returns arm i.
func (b *Bandit) Arm(i int) *Arm {
	return b.arms[i]
}

// RecommendAll asks every arm for a value on the same context.
func (b *Bandit) RecommendAll(context []float64) ([]int, error) {
	out := make([]int, len(b.arms))
	for i, arm := range b.arms {
		v, err := arm.Recommend(context)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", b.names[i], err)
		}
		out[i] = v
	}
	return out, nil
}

// UpdateAll applies the same reward to every arm.
func (b *Bandit) UpdateAll(reward float64) error {
	for i, arm := range b.arms {
		if err := arm.Update(reward); err != nil {
			return fmt.Errorf("parameter %s: %w", b.names[i], err)
		}
	}
	return nil
}

// RejectAll excludes the pending bin of every arm.
func (b *Bandit) RejectAll() error {
	for i, arm := range b.arms {
		if err := arm.Reject(); err != nil {
			return fmt.Errorf("parameter %s: %w", b.names[i], err)
		}
	}
	return nil
}
