package vector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func testIndex() *MockIndex {
	return NewMock([]MockDoc{
		{Code: "CS 3110", Title: "Functional Programming", Vector: []float32{1, 0, 0}},
		{Code: "CS 2110", Title: "OO Programming", Vector: []float32{0.9, 0.1, 0}},
		{Code: "MATH 1920", Title: "Multivariable Calculus", Vector: []float32{0, 1, 0}},
		{Code: "HIST 1500", Title: "History", Vector: []float32{0, 0, 1}},
	})
}

func TestSearchOrdersBySimilarity(t *testing.T) {
	hits, err := testIndex().Search(context.Background(), []float32{1, 0, 0}, 10, 0)
	require.NoError(t, err)
	require.Len(t, hits, 4)
	require.Equal(t, "CS 3110", hits[0].Code)
	require.InDelta(t, 1.0, hits[0].Similarity, 1e-9)
	require.Equal(t, "CS 2110", hits[1].Code)
	for i := 1; i < len(hits); i++ {
		require.LessOrEqual(t, hits[i].Similarity, hits[i-1].Similarity)
	}
}

func TestSearchThresholdAndTopK(t *testing.T) {
	idx := testIndex()

	hits, err := idx.Search(context.Background(), []float32{1, 0, 0}, 10, 0.5)
	require.NoError(t, err)
	require.Len(t, hits, 2, "orthogonal courses fall below the threshold")

	hits, err = idx.Search(context.Background(), []float32{1, 0, 0}, 1, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "CS 3110", hits[0].Code)

	hits, err = idx.Search(context.Background(), []float32{1, 0, 0}, 0, 0.99)
	require.NoError(t, err)
	require.Len(t, hits, 1, "topK <= 0 defaults to 5")
}

func TestSearchTieBreaksOnCode(t *testing.T) {
	idx := NewMock([]MockDoc{
		{Code: "CS 2", Vector: []float32{1, 0}},
		{Code: "CS 1", Vector: []float32{1, 0}},
	})
	hits, err := idx.Search(context.Background(), []float32{1, 0}, 5, 0)
	require.NoError(t, err)
	require.Equal(t, "CS 1", hits[0].Code)
	require.Equal(t, "CS 2", hits[1].Code)
}

func TestCosineZeroVector(t *testing.T) {
	require.Zero(t, cosine([]float32{0, 0}, []float32{1, 0}))
	require.InDelta(t, 1.0, cosine([]float32{2, 0}, []float32{1, 0}), 1e-9)
}
