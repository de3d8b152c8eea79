// Package sqlrowstore implements rowstore.Store on SQL.
//
// Rows are keyed by the SHA-256 of their canonical payload and written with
// set-based INSERT ... ON CONFLICT DO NOTHING statements so duplicates are
// silently skipped. An LRU cache of recently written hashes keeps re-imports
// of mostly-unchanged files from even reaching the database.
package sqlrowstore

import (
	"context"
	"encoding/json"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sheafdata/sheaf/go/metrics"
	"github.com/sheafdata/sheaf/go/rowstore"
	"github.com/sheafdata/sheaf/go/sherr"
	"github.com/sheafdata/sheaf/go/sql/pool"
	"github.com/sheafdata/sheaf/go/sql/sqlutil"
	"github.com/sheafdata/sheaf/go/types"
	"github.com/sheafdata/sheaf/go/util"
)

// writeRowsChunkSize is the number of rows written per SQL statement. Two
// placeholders per row keeps us well under the driver's parameter limit.
const writeRowsChunkSize = 1000

// defaultCacheSize is the number of recently written hashes remembered.
const defaultCacheSize = 100 * 1000

const (
	insertRows = `
        INSERT INTO
            Rows (row_hash, data)
        VALUES
            %s
        ON CONFLICT
        DO NOTHING`
	getRows = `
        SELECT
            row_hash, data
        FROM
            Rows
        WHERE
            row_hash = ANY($1)`
)

// SQLRowStore implements rowstore.Store.
type SQLRowStore struct {
	db pool.Pool

	// cache holds hashes already written, so re-imports skip the INSERT.
	cache *lru.Cache

	rowsWritten prometheus.Counter
	rowsSkipped prometheus.Counter
}

// New returns a new SQLRowStore.
func New(db pool.Pool) (*SQLRowStore, error) {
	cache, err := lru.New(defaultCacheSize)
	if err != nil {
		return nil, sherr.Wrap(err)
	}
	return &SQLRowStore{
		db:          db,
		cache:       cache,
		rowsWritten: metrics.GetCounter("sheaf_rowstore_rows_written"),
		rowsSkipped: metrics.GetCounter("sheaf_rowstore_rows_skipped_cached"),
	}, nil
}

// WithPool returns a copy of the store bound to a different pool, sharing
// the hash cache. Used to run writes inside a transaction.
func (s *SQLRowStore) WithPool(db pool.Pool) *SQLRowStore {
	return &SQLRowStore{
		db:          db,
		cache:       s.cache,
		rowsWritten: s.rowsWritten,
		rowsSkipped: s.rowsSkipped,
	}
}

// Put implements rowstore.Store.
func (s *SQLRowStore) Put(ctx context.Context, rows []types.RowData) ([]types.RowHash, error) {
	hashes := make([]types.RowHash, len(rows))

	type pending struct {
		hash types.RowHash
		data []byte
	}
	toWrite := make([]pending, 0, len(rows))
	seen := map[types.RowHash]bool{}
	for i, r := range rows {
		canonical, err := rowstore.CanonicalJSON(r)
		if err != nil {
			return nil, sherr.Wrapf(err, "canonicalizing row %d", i)
		}
		h, err := rowstore.HashRow(r)
		if err != nil {
			return nil, sherr.Wrap(err)
		}
		hashes[i] = h
		if seen[h] {
			continue
		}
		seen[h] = true
		if s.cache.Contains(string(h)) {
			s.rowsSkipped.Add(1)
			continue
		}
		toWrite = append(toWrite, pending{hash: h, data: canonical})
	}

	err := util.ChunkIter(len(toWrite), writeRowsChunkSize, func(startIdx, endIdx int) error {
		chunk := toWrite[startIdx:endIdx]
		args := make([]interface{}, 0, 2*len(chunk))
		for _, p := range chunk {
			args = append(args, p.hash.Bytes(), string(p.data))
		}
		stmt := insertStatement(len(chunk))
		if _, err := s.db.Exec(ctx, stmt, args...); err != nil {
			return sherr.Wrapf(err, "writing %d rows", len(chunk))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, p := range toWrite {
		s.cache.Add(string(p.hash), true)
		s.rowsWritten.Add(1)
	}
	return hashes, nil
}

func insertStatement(numRows int) string {
	return fmt.Sprintf(insertRows, sqlutil.ValuesPlaceholders(2, numRows))
}

// Get implements rowstore.Store.
func (s *SQLRowStore) Get(ctx context.Context, hashes []types.RowHash) (map[types.RowHash]types.RowData, error) {
	byteHashes := make([][]byte, 0, len(hashes))
	for _, h := range hashes {
		byteHashes = append(byteHashes, h.Bytes())
	}
	rows, err := s.db.Query(ctx, getRows, byteHashes)
	if err != nil {
		return nil, sherr.Wrap(err)
	}
	defer rows.Close()

	ret := make(map[types.RowHash]types.RowData, len(hashes))
	for rows.Next() {
		var hash []byte
		var raw []byte
		if err := rows.Scan(&hash, &raw); err != nil {
			return nil, sherr.Wrap(err)
		}
		var data types.RowData
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, sherr.Wrapf(err, "corrupt row payload for %x", hash)
		}
		ret[types.RowHashFromBytes(hash)] = data
	}
	if err := rows.Err(); err != nil {
		return nil, sherr.Wrap(err)
	}
	return ret, nil
}

// Assert that SQLRowStore implements rowstore.Store.
var _ rowstore.Store = (*SQLRowStore)(nil)
