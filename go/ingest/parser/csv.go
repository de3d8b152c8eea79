package parser

import (
	"encoding/csv"
	"io"
	"os"

	"github.com/sheafdata/sheaf/go/sherr"
	"github.com/sheafdata/sheaf/go/types"
)

// CSVReader implements Reader for CSV files. The first record is the
// header; every data record must have the same number of fields.
type CSVReader struct {
	f      *os.File
	r      *csv.Reader
	header []string
	index  int64
	done   bool
}

// NewCSVReader opens a CSV file and consumes its header.
func NewCSVReader(path string) (*CSVReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, sherr.Wrap(err)
	}
	r := csv.NewReader(f)
	ret := &CSVReader{f: f, r: r}
	header, err := r.Read()
	if err == io.EOF {
		// An empty file has no header, no rows and no schema.
		ret.done = true
		return ret, nil
	}
	if err != nil {
		_ = f.Close()
		return nil, sherr.WithKind(sherr.Wrapf(err, "reading CSV header"), sherr.InvalidFileFormat)
	}
	ret.header = header
	return ret, nil
}

// Next implements Reader.
func (c *CSVReader) Next() (Row, error) {
	if c.done {
		return Row{}, io.EOF
	}
	record, err := c.r.Read()
	if err == io.EOF {
		c.done = true
		return Row{}, io.EOF
	}
	if err != nil {
		return Row{}, sherr.WithKind(
			sherr.Wrapf(err, "malformed CSV row %s", types.MakeLogicalRowID(types.DefaultTableKey, int(c.index)+1)),
			sherr.InvalidFileFormat)
	}
	c.index++
	data := make(types.RowData, len(c.header))
	for i, name := range c.header {
		data[name] = record[i]
	}
	return Row{Table: types.DefaultTableKey, Index: c.index, Data: data}, nil
}

// Schemas implements Reader.
func (c *CSVReader) Schemas() types.CommitSchema {
	if c.header == nil {
		return types.CommitSchema{}
	}
	return types.CommitSchema{types.DefaultTableKey: stringColumns(c.header)}
}

// Close implements Reader.
func (c *CSVReader) Close() error {
	return c.f.Close()
}

var _ Reader = (*CSVReader)(nil)
