package parser

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/sheafdata/sheaf/go/types"
)

type parquetPerson struct {
	Name  string  `parquet:"name=name, type=BYTE_ARRAY, convertedtype=UTF8"`
	Age   int64   `parquet:"name=age, type=INT64"`
	Score float64 `parquet:"name=score, type=DOUBLE"`
}

func writeParquet(t *testing.T, people []parquetPerson) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "people.parquet")
	fw, err := local.NewLocalFileWriter(path)
	require.NoError(t, err)
	pw, err := writer.NewParquetWriter(fw, new(parquetPerson), 1)
	require.NoError(t, err)
	for _, p := range people {
		require.NoError(t, pw.Write(p))
	}
	require.NoError(t, pw.WriteStop())
	require.NoError(t, fw.Close())
	return path
}

func TestParquetReader_RoundTrip(t *testing.T) {
	path := writeParquet(t, []parquetPerson{
		{Name: "ada", Age: 36, Score: 1.5},
		{Name: "grace", Age: 85, Score: 2.25},
	})

	r, format, err := Open(path)
	require.NoError(t, err)
	require.Equal(t, FormatParquet, format)
	defer func() {
		require.NoError(t, r.Close())
	}()

	rows := readAll(t, r)
	require.Len(t, rows, 2)
	require.Equal(t, types.DefaultTableKey, rows[0].Table)
	require.Equal(t, int64(1), rows[0].Index)
	// Unlike CSV, Parquet values keep their primitive types.
	require.Equal(t, types.RowData{"name": "ada", "age": int64(36), "score": 1.5}, rows[0].Data)
	require.Equal(t, types.RowData{"name": "grace", "age": int64(85), "score": 2.25}, rows[1].Data)

	schema := r.Schemas()
	byName := map[string]types.Column{}
	for _, col := range schema[types.DefaultTableKey].Columns {
		byName[col.Name] = col
	}
	require.Equal(t, types.ColumnString, byName["name"].Type)
	require.Equal(t, types.ColumnInteger, byName["age"].Type)
	require.Equal(t, types.ColumnFloat, byName["score"].Type)
	require.False(t, byName["age"].Nullable)
}

func TestParquetReader_EmptyFile(t *testing.T) {
	path := writeParquet(t, nil)
	r, _, err := Open(path)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, r.Close())
	}()
	require.Empty(t, readAll(t, r))
	// The schema still comes from the file metadata.
	require.Len(t, r.Schemas()[types.DefaultTableKey].Columns, 3)
}
