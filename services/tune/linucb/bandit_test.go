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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestNewBandit_Validation(t *testing.T) {
	_, err := NewBandit(2, []Domain{{Name: "", Values: []int{1}}})
	assert.Error(t, err)

	_, err = NewBandit(2, []Domain{{Name: "a", Values: []int{1}}, {Name: "a", Values: []int{2}}})
	assert.Error(t, err)

	_, err = NewBandit(2, []Domain{{Name: "a"}})
	assert.Error(t, err)

	b, err := NewBandit(2, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, b.Len())
}

func TestBandit_RecommendAndUpdateAll(t *testing.T) {
	b, err := NewBandit(2, []Domain{
		{Name: "max-unroll-times", Values: Discretize(1, 8, 4)},
		{Name: "inline-unit-growth", Values: Discretize(0, 100, 3)},
	})
	require.NoError(t, err)
	require.Equal(t, 2, b.Len())
	assert.Equal(t, "max-unroll-times", b.Name(0))
	assert.Equal(t, "inline-unit-growth", b.Name(1))

	assert.ErrorIs(t, b.UpdateAll(1), ErrNoRecommendation)

	values, err := b.RecommendAll([]float64{1, 2})
	require.NoError(t, err)
	require.Len(t, values, 2)
	assert.Contains(t, b.Arm(0).Values(), values[0])
	assert.Contains(t, b.Arm(1).Values(), values[1])

	require.NoError(t, b.UpdateAll(0.5))
	for i := 0; i < b.Len(); i++ {
		bin, _, ok := b.Arm(i).Chosen()
		require.True(t, ok)
		state := b.Arm(i).Snapshot()[bin]
		assert.InDelta(t, 0.5, state.B.AtVec(0), 1e-12)
		assert.False(t, mat.Equal(identity(2), state.A))
	}

	_, err = b.RecommendAll([]float64{1})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestBandit_RejectAll(t *testing.T) {
	b, err := NewBandit(1, []Domain{
		{Name: "max-unroll-times", Values: []int{1, 8}},
		{Name: "inline-unit-growth", Values: []int{0, 100}},
	})
	require.NoError(t, err)

	assert.ErrorIs(t, b.RejectAll(), ErrNoRecommendation)

	values, err := b.RecommendAll([]float64{1})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0}, values)
	require.NoError(t, b.RejectAll())

	values, err = b.RecommendAll([]float64{1})
	require.NoError(t, err)
	assert.Equal(t, []int{8, 100}, values)
	for i := 0; i < b.Len(); i++ {
		assert.True(t, b.Arm(i).Excluded(0))
		_, _, ok := b.Arm(i).Settled()
		assert.False(t, ok)
	}
}
