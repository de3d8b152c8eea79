// Package parser turns uploaded tabular files into a stream of rows plus
// the inferred per-table schemas.
//
// Three formats are supported: CSV (header row required), XLSX (one
// logical table per sheet, keyed by sheet name) and Parquet. The format is
// sniffed from the file's magic bytes, never from its name.
package parser

import (
	"io"
	"os"

	"github.com/sheafdata/sheaf/go/sherr"
	"github.com/sheafdata/sheaf/go/types"
)

// Format is a detected file format.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatXLSX    Format = "xlsx"
	FormatParquet Format = "parquet"
)

// Row is one record emitted by a Reader. Index is the 1-based data row
// index within its table; header rows are not counted.
type Row struct {
	Table types.TableKey
	Index int64
	Data  types.RowData
}

// Reader streams the rows of one file.
type Reader interface {
	// Next returns the next row, or io.EOF after the last one. Parse
	// failures carry the InvalidFileFormat kind and name the offending
	// row.
	Next() (Row, error)

	// Schemas returns the per-table schemas. Complete once Next has
	// returned io.EOF.
	Schemas() types.CommitSchema

	// Close releases the underlying file.
	Close() error
}

// DetectFormat sniffs the format from the file's leading magic bytes.
// XLSX is a ZIP container ("PK\x03\x04"), Parquet opens with "PAR1",
// anything else is treated as CSV.
func DetectFormat(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", sherr.Wrap(err)
	}
	defer func() {
		_ = f.Close()
	}()
	magic := make([]byte, 4)
	n, err := f.Read(magic)
	if err != nil && err != io.EOF {
		return "", sherr.Wrap(err)
	}
	magic = magic[:n]
	if len(magic) == 4 && magic[0] == 'P' && magic[1] == 'K' && magic[2] == 0x03 && magic[3] == 0x04 {
		return FormatXLSX, nil
	}
	if string(magic) == "PAR1" {
		return FormatParquet, nil
	}
	return FormatCSV, nil
}

// Open detects the file's format and returns a Reader for it.
func Open(path string) (Reader, Format, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, "", err
	}
	var r Reader
	switch format {
	case FormatXLSX:
		r, err = NewXLSXReader(path)
	case FormatParquet:
		r, err = NewParquetReader(path)
	default:
		r, err = NewCSVReader(path)
	}
	if err != nil {
		return nil, "", err
	}
	return r, format, nil
}

// stringColumns builds the schema of a header row: source column names
// verbatim, all nullable strings. CSV and XLSX cells carry no type
// information.
func stringColumns(header []string) types.TableSchema {
	cols := make([]types.Column, 0, len(header))
	for _, name := range header {
		cols = append(cols, types.Column{Name: name, Type: types.ColumnString, Nullable: true})
	}
	return types.TableSchema{Columns: cols}
}
