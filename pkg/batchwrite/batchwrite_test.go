package batchwrite

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eunmann/zonal-extract/pkg/extract"
	"github.com/eunmann/zonal-extract/pkg/project"
	"github.com/eunmann/zonal-extract/pkg/record"
)

type recordingSink struct {
	header  []string
	batches [][]project.Row
	closed  bool
	failAt  int
}

func (s *recordingSink) WriteHeader(fields []string) error {
	s.header = fields
	return nil
}

func (s *recordingSink) WriteRows(rows []project.Row) error {
	if s.failAt > 0 && len(s.batches)+1 == s.failAt {
		return errors.New("disk full")
	}
	s.batches = append(s.batches, rows)
	return nil
}

func (s *recordingSink) Close() error {
	s.closed = true
	return nil
}

func spec(t *testing.T) project.FieldSpec {
	t.Helper()
	s, err := project.NewFieldSpec(extract.Zonal, []string{"mean"}, []string{"id"}, nil)
	require.NoError(t, err)
	return s
}

func row(i int) project.Row {
	return project.Row{record.TextValue(fmt.Sprintf("%d.00000", i)), record.IntValue(int64(i))}
}

func TestWriter_FlushCount(t *testing.T) {
	cases := []struct{ features, batch int }{
		{0, 3}, {1, 3}, {3, 3}, {4, 3}, {2500, 2000}, {4000, 2000}, {7, 1},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("F=%d,B=%d", tc.features, tc.batch), func(t *testing.T) {
			sink := &recordingSink{}
			w, err := New(sink, spec(t), tc.batch)
			require.NoError(t, err)
			for i := 0; i < tc.features; i++ {
				require.NoError(t, w.Add(row(i)))
				assert.LessOrEqual(t, w.Pending(), tc.batch)
			}
			require.NoError(t, w.Close())

			want := (tc.features + tc.batch - 1) / tc.batch
			assert.Len(t, sink.batches, want)
			assert.Equal(t, want, w.Flushes())
			assert.Equal(t, int64(tc.features), w.Rows())

			var n int
			for i, b := range sink.batches {
				if i < len(sink.batches)-1 {
					assert.Len(t, b, tc.batch)
				}
				for _, r := range b {
					assert.Equal(t, record.IntValue(int64(n)), r[1], "rows keep input order")
					n++
				}
			}
			assert.Equal(t, tc.features, n)
			assert.True(t, sink.closed)
		})
	}
}

func TestWriter_HeaderBeforeRows(t *testing.T) {
	sink := &recordingSink{}
	w, err := New(sink, spec(t), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"mean", "id"}, sink.header)
	require.NoError(t, w.Close())
	assert.Empty(t, sink.batches)
}

func TestWriter_FlushHook(t *testing.T) {
	var infos []FlushInfo
	w, err := New(&recordingSink{}, spec(t), 2, WithFlushHook(func(fi FlushInfo) { infos = append(infos, fi) }))
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, w.Add(row(i)))
	}
	require.NoError(t, w.Close())

	require.Len(t, infos, 3)
	assert.Equal(t, 3, infos[2].Batch)
	assert.Equal(t, 1, infos[2].Rows)
	assert.Equal(t, int64(5), infos[2].TotalRows)
}

func TestWriter_AbortKeepsFlushedRows(t *testing.T) {
	sink := &recordingSink{}
	w, err := New(sink, spec(t), 2)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, w.Add(row(i)))
	}
	require.NoError(t, w.Abort())
	assert.Len(t, sink.batches, 1)
	assert.True(t, sink.closed)
	assert.Error(t, w.Add(row(9)))
}

func TestWriter_SinkError(t *testing.T) {
	w, err := New(&recordingSink{failAt: 2}, spec(t), 1)
	require.NoError(t, err)
	require.NoError(t, w.Add(row(0)))
	assert.ErrorContains(t, w.Add(row(1)), "write batch 2: disk full")
}

func TestWriter_RejectsBadBatchSize(t *testing.T) {
	_, err := New(&recordingSink{}, spec(t), 0)
	assert.Error(t, err)
}

func TestCSVSink(t *testing.T) {
	for _, tc := range []struct {
		term LineTerminator
		want string
	}{
		{CRLF, "mean,id\r\n1.50000,1\r\n,2\r\n\"a,b\",3\r\n"},
		{LF, "mean,id\n1.50000,1\n,2\n\"a,b\",3\n"},
	} {
		var buf bytes.Buffer
		w, err := New(NewCSVSink(&buf, tc.term), spec(t), 2)
		require.NoError(t, err)
		require.NoError(t, w.Add(project.Row{record.TextValue("1.50000"), record.IntValue(1)}))
		require.NoError(t, w.Add(project.Row{record.NullValue(), record.IntValue(2)}))
		assert.Equal(t, 3, bytes.Count(buf.Bytes(), []byte("\n")), "header and full batch reach the writer")
		require.NoError(t, w.Add(project.Row{record.TextValue("a,b"), record.IntValue(3)}))
		require.NoError(t, w.Close())
		assert.Equal(t, tc.want, buf.String())
	}
}

func TestParseLineTerminator(t *testing.T) {
	term, err := ParseLineTerminator("")
	require.NoError(t, err)
	assert.Equal(t, CRLF, term)
	term, err = ParseLineTerminator("lf")
	require.NoError(t, err)
	assert.Equal(t, LF, term)
	_, err = ParseLineTerminator("cr")
	assert.Error(t, err)
}

func TestParquetSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.parquet")
	sink, err := CreateParquet(path)
	require.NoError(t, err)

	w, err := New(sink, spec(t), 2)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, w.Add(row(i)))
	}
	require.NoError(t, w.Add(project.Row{record.NullValue(), record.IntValue(5)}))
	require.NoError(t, w.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	st, err := f.Stat()
	require.NoError(t, err)
	pf, err := parquet.OpenFile(f, st.Size())
	require.NoError(t, err)

	assert.Equal(t, int64(6), pf.NumRows())
	assert.Len(t, pf.RowGroups(), 3)
	order, ok := pf.Lookup(FieldOrderKey)
	assert.True(t, ok)
	assert.Equal(t, "mean,id", order)
	assert.Len(t, pf.Schema().Columns(), 2)
}
