package parser

import (
	"io"
	"strings"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/common"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/source"

	"github.com/sheafdata/sheaf/go/sherr"
	"github.com/sheafdata/sheaf/go/types"
)

// parquetReadBatch is the number of rows fetched per column per read.
const parquetReadBatch = 8192

// parquetColumn is one leaf column plus its current value chunk.
type parquetColumn struct {
	path     string
	name     string
	colType  types.ColumnType
	nullable bool
	buf      []interface{}
}

// ParquetReader implements Reader for flat Parquet files. Columns are read
// in chunks and zipped back into rows; nested schemas are rejected.
type ParquetReader struct {
	fr   source.ParquetFile
	pr   *reader.ParquetReader
	cols []*parquetColumn

	totalRows int64
	emitted   int64
	bufPos    int
	bufLen    int
}

// NewParquetReader opens a Parquet file and inspects its schema.
func NewParquetReader(path string) (*ParquetReader, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, sherr.Wrap(err)
	}
	pr, err := reader.NewParquetColumnReader(fr, 1)
	if err != nil {
		_ = fr.Close()
		return nil, sherr.WithKind(sherr.Wrapf(err, "opening Parquet file"), sherr.InvalidFileFormat)
	}
	ret := &ParquetReader{fr: fr, pr: pr, totalRows: pr.GetNumRows()}
	sh := pr.SchemaHandler
	for _, colPath := range sh.ValueColumns {
		if len(strings.Split(colPath, common.PAR_GO_PATH_DELIMITER)) != 2 {
			_ = fr.Close()
			return nil, sherr.New(sherr.InvalidFileFormat, "nested Parquet schemas are not supported")
		}
		idx := sh.MapIndex[colPath]
		elem := sh.SchemaElements[idx]
		ret.cols = append(ret.cols, &parquetColumn{
			path:     colPath,
			name:     sh.Infos[idx].ExName,
			colType:  parquetColumnType(elem),
			nullable: elem.GetRepetitionType() == parquet.FieldRepetitionType_OPTIONAL,
		})
	}
	return ret, nil
}

func parquetColumnType(elem *parquet.SchemaElement) types.ColumnType {
	switch elem.GetType() {
	case parquet.Type_BOOLEAN:
		return types.ColumnBoolean
	case parquet.Type_INT32, parquet.Type_INT64:
		return types.ColumnInteger
	case parquet.Type_FLOAT, parquet.Type_DOUBLE:
		return types.ColumnFloat
	}
	return types.ColumnString
}

// refill reads the next chunk of every column.
func (p *ParquetReader) refill() error {
	remaining := p.totalRows - p.emitted
	if remaining <= 0 {
		return io.EOF
	}
	n := int64(parquetReadBatch)
	if remaining < n {
		n = remaining
	}
	for _, col := range p.cols {
		values, _, _, err := p.pr.ReadColumnByPath(col.path, n)
		if err != nil {
			return sherr.WithKind(sherr.Wrapf(err, "reading Parquet column %q", col.name), sherr.InvalidFileFormat)
		}
		if int64(len(values)) != n {
			return sherr.New(sherr.InvalidFileFormat, "column %q returned %d of %d values", col.name, len(values), n)
		}
		col.buf = values
	}
	p.bufPos = 0
	p.bufLen = int(n)
	return nil
}

// Next implements Reader.
func (p *ParquetReader) Next() (Row, error) {
	if len(p.cols) == 0 {
		return Row{}, io.EOF
	}
	if p.bufPos >= p.bufLen {
		if err := p.refill(); err != nil {
			return Row{}, err
		}
	}
	data := make(types.RowData, len(p.cols))
	for _, col := range p.cols {
		data[col.name] = normalizeParquetValue(col.buf[p.bufPos])
	}
	p.bufPos++
	p.emitted++
	return Row{Table: types.DefaultTableKey, Index: p.emitted, Data: data}, nil
}

// normalizeParquetValue widens the small primitives the reader hands back
// so that equal logical values canonicalize identically.
func normalizeParquetValue(v interface{}) interface{} {
	switch t := v.(type) {
	case int32:
		return int64(t)
	case float32:
		return float64(t)
	case []byte:
		return string(t)
	}
	return v
}

// Schemas implements Reader.
func (p *ParquetReader) Schemas() types.CommitSchema {
	if len(p.cols) == 0 {
		return types.CommitSchema{}
	}
	cols := make([]types.Column, 0, len(p.cols))
	for _, col := range p.cols {
		cols = append(cols, types.Column{Name: col.name, Type: col.colType, Nullable: col.nullable})
	}
	return types.CommitSchema{types.DefaultTableKey: {Columns: cols}}
}

// Close implements Reader.
func (p *ParquetReader) Close() error {
	p.pr.ReadStop()
	return p.fr.Close()
}

var _ Reader = (*ParquetReader)(nil)
