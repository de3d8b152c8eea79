// Package derive implements the operations that read a commit's row set
// and produce derived output: persisted samples as new commits on derived
// refs, and column profiles. Derived operations never mutate existing
// commits, manifests, rows or refs.
package derive

import (
	"context"

	"github.com/sheafdata/sheaf/go/commitstore"
	"github.com/sheafdata/sheaf/go/types"
)

// iteratorPageSize is the number of rows fetched per page.
const iteratorPageSize = 5000

// RowIterator pages through every row of one table of a commit, in
// manifest order.
type RowIterator struct {
	commits commitstore.Store
	commit  types.CommitID
	table   types.TableKey

	offset int
	buf    []commitstore.RowRecord
	pos    int
	done   bool
}

// NewRowIterator returns an iterator over (commit, table).
func NewRowIterator(commits commitstore.Store, commit types.CommitID, table types.TableKey) *RowIterator {
	return &RowIterator{commits: commits, commit: commit, table: table}
}

// Next returns the next row, or false when the table is exhausted.
func (it *RowIterator) Next(ctx context.Context) (commitstore.RowRecord, bool, error) {
	if it.pos >= len(it.buf) {
		if it.done {
			return commitstore.RowRecord{}, false, nil
		}
		page, err := it.commits.ReadRows(ctx, it.commit, it.table, it.offset, iteratorPageSize)
		if err != nil {
			return commitstore.RowRecord{}, false, err
		}
		if len(page) < iteratorPageSize {
			it.done = true
		}
		if len(page) == 0 {
			return commitstore.RowRecord{}, false, nil
		}
		it.offset += len(page)
		it.buf = page
		it.pos = 0
	}
	row := it.buf[it.pos]
	it.pos++
	return row, true, nil
}

// collectAll drains the iterator. Sampling needs the full population to
// draw from; profiles stream instead.
func collectAll(ctx context.Context, it *RowIterator) ([]commitstore.RowRecord, error) {
	ret := []commitstore.RowRecord{}
	for {
		row, ok, err := it.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return ret, nil
		}
		ret = append(ret, row)
	}
}
