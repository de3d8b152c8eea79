// Package types holds the primitive identifiers and records shared by every
// layer of Sheaf: dataset ids, content hashes, logical row ids and table
// schemas.
package types

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/sheafdata/sheaf/go/sherr"
)

// DatasetID identifies a dataset.
type DatasetID = uuid.UUID

// UserID identifies a user.
type UserID = uuid.UUID

// RowHash is the lowercase hex encoding of the 32 byte content hash of a
// canonicalized row payload.
type RowHash string

// BadRowHash is returned from functions that fail to produce a RowHash.
const BadRowHash = RowHash("")

// rowHashHexLen is the length of a RowHash: 32 bytes, hex encoded.
const rowHashHexLen = 64

// Bytes returns the decoded hash bytes, suitable for a BYTEA column.
func (h RowHash) Bytes() []byte {
	b, err := hex.DecodeString(string(h))
	if err != nil {
		return nil
	}
	return b
}

// RowHashFromBytes converts hash bytes read from the database back into a
// RowHash.
func RowHashFromBytes(b []byte) RowHash {
	return RowHash(hex.EncodeToString(b))
}

// Valid returns true if h is a well-formed RowHash.
func (h RowHash) Valid() bool {
	if len(h) != rowHashHexLen {
		return false
	}
	_, err := hex.DecodeString(string(h))
	return err == nil
}

// CommitID is the lowercase hex encoding of the 32 byte commit digest.
type CommitID string

// BadCommitID is returned from functions that fail to produce a CommitID.
const BadCommitID = CommitID("")

// Bytes returns the decoded commit id bytes, suitable for a BYTEA column.
func (c CommitID) Bytes() []byte {
	b, err := hex.DecodeString(string(c))
	if err != nil {
		return nil
	}
	return b
}

// CommitIDFromBytes converts commit id bytes read from the database back
// into a CommitID.
func CommitIDFromBytes(b []byte) CommitID {
	if len(b) == 0 {
		return BadCommitID
	}
	return CommitID(hex.EncodeToString(b))
}

// Valid returns true if c is a well-formed CommitID.
func (c CommitID) Valid() bool {
	if len(c) != rowHashHexLen {
		return false
	}
	_, err := hex.DecodeString(string(c))
	return err == nil
}

// RefName is the name of a movable pointer into a dataset's commit graph.
type RefName string

// MainRef is the canonical branch, auto-created with every dataset and
// protected from deletion.
const MainRef = RefName("main")

// Validate rejects empty or malformed ref names.
func (r RefName) Validate() error {
	if r == "" {
		return sherr.New(sherr.Validation, "ref name must not be empty")
	}
	if len(r) > 256 {
		return sherr.New(sherr.Validation, "ref name too long")
	}
	if strings.ContainsAny(string(r), " \t\n") {
		return sherr.New(sherr.Validation, "ref name %q must not contain whitespace", r)
	}
	return nil
}

// TableKey names one logical table inside a commit, e.g. the sheet name of
// an XLSX workbook. Files without sheets use DefaultTableKey.
type TableKey string

// DefaultTableKey is the table key used for single-table formats.
const DefaultTableKey = TableKey("primary")

// Validate rejects table keys that cannot be embedded in a LogicalRowID.
func (k TableKey) Validate() error {
	if k == "" {
		return sherr.New(sherr.Validation, "table key must not be empty")
	}
	if strings.Contains(string(k), ":") {
		return sherr.New(sherr.Validation, "table key %q must not contain ':'", k)
	}
	return nil
}

// LogicalRowID is "<table_key>:<1-based row index>", stable within a commit.
type LogicalRowID string

// MakeLogicalRowID builds a LogicalRowID from its parts.
func MakeLogicalRowID(table TableKey, index int) LogicalRowID {
	return LogicalRowID(string(table) + ":" + strconv.Itoa(index))
}

// Split returns the table key and 1-based row index of the id.
func (l LogicalRowID) Split() (TableKey, int, error) {
	i := strings.LastIndex(string(l), ":")
	if i < 1 {
		return "", 0, sherr.New(sherr.Validation, "malformed logical row id %q", l)
	}
	idx, err := strconv.Atoi(string(l)[i+1:])
	if err != nil || idx < 1 {
		return "", 0, sherr.New(sherr.Validation, "malformed logical row id %q", l)
	}
	return TableKey(string(l)[:i]), idx, nil
}

// RowData is one structured record. Keys preserve the source column names
// verbatim. CSV and XLSX cells are strings; Parquet values keep their
// primitive types.
type RowData map[string]interface{}

// ColumnType is the inferred type of a column.
type ColumnType string

const (
	ColumnString  ColumnType = "string"
	ColumnInteger ColumnType = "integer"
	ColumnFloat   ColumnType = "float"
	ColumnBoolean ColumnType = "boolean"
)

// Column describes one column of a table schema.
type Column struct {
	Name     string     `json:"name"`
	Type     ColumnType `json:"type"`
	Nullable bool       `json:"nullable"`
}

// TableSchema is the ordered column list of one table.
type TableSchema struct {
	Columns []Column `json:"columns"`
}

// CommitSchema maps each table key in a commit to its schema. There is one
// CommitSchema per commit.
type CommitSchema map[TableKey]TableSchema
