package util

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sheafdata/sheaf/go/sherr"
)

func TestChunkIter(t *testing.T) {
	check := func(length, chunkSize int, expect [][]int) {
		got := [][]int{}
		require.NoError(t, ChunkIter(length, chunkSize, func(start, end int) error {
			got = append(got, []int{start, end})
			return nil
		}))
		require.Equal(t, expect, got)
	}
	check(0, 5, [][]int{{0, 0}})
	check(5, 5, [][]int{{0, 5}})
	check(5, 2, [][]int{{0, 2}, {2, 4}, {4, 5}})
	check(3, 100, [][]int{{0, 3}})

	require.Error(t, ChunkIter(5, 0, func(start, end int) error { return nil }))

	// Errors from fn stop the iteration.
	calls := 0
	err := ChunkIter(10, 2, func(start, end int) error {
		calls++
		return sherr.New(sherr.Internal, "boom")
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}
