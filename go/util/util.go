// Package util holds small helpers shared across packages.
package util

import "fmt"

// MinInt returns the smaller of the two ints.
func MinInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// ChunkIter iterates over a set of n items in chunks of at most chunkSize,
// calling fn with the [start, end) bounds of each chunk. fn is called at
// least once, even for a zero length.
func ChunkIter(length, chunkSize int, fn func(startIdx, endIdx int) error) error {
	if chunkSize < 1 {
		return fmt.Errorf("Chunk size may not be less than 1.")
	}
	chunkStart := 0
	chunkEnd := MinInt(length, chunkSize)
	for {
		if err := fn(chunkStart, chunkEnd); err != nil {
			return err
		}
		if chunkEnd == length {
			return nil
		}
		chunkStart = chunkEnd
		chunkEnd = MinInt(length, chunkEnd+chunkSize)
	}
}
