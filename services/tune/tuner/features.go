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

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrFeatureMismatch is returned when a counter snapshot lacks a counter
// of the feature space.
var ErrFeatureMismatch = errors.New("performance counters do not match the feature space")

// FeatureSpace fixes the order of performance counters in the bandit
// context. It is built from the first snapshot of a bandit phase.
type FeatureSpace struct {
	keys []string
}

// NewFeatureSpace takes the sorted counter names of counters.
func NewFeatureSpace(counters map[string]float64) FeatureSpace {
	keys := make([]string, 0, len(counters))
	for k := range counters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return FeatureSpace{keys: keys}
}

// Dim returns the context dimension.
func (f FeatureSpace) Dim() int {
	return len(f.keys)
}

// Keys returns the counter names in context order.
func (f FeatureSpace) Keys() []string {
	return append([]string(nil), f.keys...)
}

// Vector maps counters to log10(1 + value) in key order. Counters outside
// the space are ignored and negative values count as zero.
func (f FeatureSpace) Vector(counters map[string]float64) ([]float64, error) {
	out := make([]float64, len(f.keys))
	for i, k := range f.keys {
		v, ok := counters[k]
		if !ok {
			return nil, fmt.Errorf("%w: missing %q", ErrFeatureMismatch, k)
		}
		out[i] = math.Log10(1 + math.Max(v, 0))
	}
	return out, nil
}
