package parser

import (
	"io"

	"github.com/tealeg/xlsx"

	"github.com/sheafdata/sheaf/go/sherr"
	"github.com/sheafdata/sheaf/go/types"
)

// sheet is one parsed worksheet with its header consumed.
type sheet struct {
	key    types.TableKey
	header []string
	rows   [][]string
}

// XLSXReader implements Reader for XLSX workbooks. Each sheet becomes one
// logical table keyed by its name; the first row of each sheet is its
// header. Sheets without a header row are skipped.
type XLSXReader struct {
	sheets  []sheet
	schemas types.CommitSchema

	// Cursor over sheets and their data rows.
	sheetIdx int
	rowIdx   int
}

// NewXLSXReader opens an XLSX workbook and parses its sheets.
func NewXLSXReader(path string) (*XLSXReader, error) {
	file, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, sherr.WithKind(sherr.Wrapf(err, "opening XLSX workbook"), sherr.InvalidFileFormat)
	}
	ret := &XLSXReader{schemas: types.CommitSchema{}}
	for _, ws := range file.Sheets {
		key := types.TableKey(ws.Name)
		if err := key.Validate(); err != nil {
			return nil, sherr.WithKind(sherr.Wrapf(err, "sheet %q", ws.Name), sherr.InvalidFileFormat)
		}
		if len(ws.Rows) == 0 {
			continue
		}
		header, err := cellValues(ws.Rows[0])
		if err != nil {
			return nil, sherr.WithKind(sherr.Wrapf(err, "header of sheet %q", ws.Name), sherr.InvalidFileFormat)
		}
		if len(header) == 0 {
			continue
		}
		sh := sheet{key: key, header: header}
		for i, row := range ws.Rows[1:] {
			values, err := cellValues(row)
			if err != nil {
				return nil, sherr.WithKind(
					sherr.Wrapf(err, "malformed row %s", types.MakeLogicalRowID(key, i+1)),
					sherr.InvalidFileFormat)
			}
			if len(values) > len(header) {
				return nil, sherr.New(sherr.InvalidFileFormat,
					"row %s has %d cells, header has %d", types.MakeLogicalRowID(key, i+1), len(values), len(header))
			}
			// Trailing cells Excel omitted read back as empty strings.
			for len(values) < len(header) {
				values = append(values, "")
			}
			sh.rows = append(sh.rows, values)
		}
		ret.sheets = append(ret.sheets, sh)
		ret.schemas[key] = stringColumns(header)
	}
	return ret, nil
}

func cellValues(row *xlsx.Row) ([]string, error) {
	values := make([]string, 0, len(row.Cells))
	for _, cell := range row.Cells {
		v, err := cell.FormattedValue()
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

// Next implements Reader.
func (x *XLSXReader) Next() (Row, error) {
	for x.sheetIdx < len(x.sheets) {
		sh := x.sheets[x.sheetIdx]
		if x.rowIdx >= len(sh.rows) {
			x.sheetIdx++
			x.rowIdx = 0
			continue
		}
		values := sh.rows[x.rowIdx]
		x.rowIdx++
		data := make(types.RowData, len(sh.header))
		for i, name := range sh.header {
			data[name] = values[i]
		}
		return Row{Table: sh.key, Index: int64(x.rowIdx), Data: data}, nil
	}
	return Row{}, io.EOF
}

// Schemas implements Reader.
func (x *XLSXReader) Schemas() types.CommitSchema {
	return x.schemas
}

// Close implements Reader.
func (x *XLSXReader) Close() error {
	return nil
}

var _ Reader = (*XLSXReader)(nil)
