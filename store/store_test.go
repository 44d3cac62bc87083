package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func makeRows(n int) []SampleRow {
	rows := make([]SampleRow, n)
	for i := range rows {
		cells := make([]int8, 49)
		cells[i%49] = 1
		cells[(i+1)%49] = -1
		rows[i] = SampleRow{
			GameID:       "g",
			Ply:          int32(i),
			Mover:        1,
			Board:        PackCells(cells),
			Encoded:      make([]float32, 3*49),
			Policy:       make([]float32, 49),
			Action:       int32(i % 49),
			Value:        1,
			Source:       "selfplay",
			MCTSRootJSON: []byte(`[]`),
		}
	}
	return rows
}

func TestBatchesInclusive(t *testing.T) {
	items := []int{0, 1, 2, 3, 4, 5, 6}

	batches := Batches(items, 3)
	require.Equal(t, [][]int{{0, 1, 2}, {3, 4, 5}, {6}}, batches)

	// Every element appears exactly once.
	total := 0
	for _, b := range batches {
		total += len(b)
	}
	require.Equal(t, len(items), total)

	require.Equal(t, [][]int{{0, 1, 2, 3, 4, 5, 6}}, Batches(items, 10))
	require.Equal(t, [][]int{{0, 1, 2}, {3, 4, 5}}, Batches(items[:6], 3))
	require.Nil(t, Batches(items, 0))
	require.Nil(t, Batches([]int{}, 3))
}

func TestPackCellsRoundTrip(t *testing.T) {
	cells := []int8{-1, 0, 1, 1, -1}
	row := SampleRow{Board: PackCells(cells)}
	require.Equal(t, cells, row.Cells())
}

func TestWriteSamplesParquetAtomic(t *testing.T) {
	dir := t.TempDir()
	rows := makeRows(5)

	path, err := WriteSamplesParquetAtomic(dir, rows)
	require.NoError(t, err)
	require.Equal(t, dir, filepath.Dir(path))

	got, err := ReadSamples(path)
	require.NoError(t, err)
	require.Equal(t, rows, got)

	tmp, err := os.ReadDir(filepath.Join(dir, "tmp"))
	require.NoError(t, err)
	require.Empty(t, tmp)

	info, err := InspectShard(path)
	require.NoError(t, err)
	require.Equal(t, int64(5), info.Rows)
	require.Equal(t, SchemaVersion, info.Schema)
}

func TestBatchWriterRowGroupPerBatch(t *testing.T) {
	dir := t.TempDir()
	w, err := NewBatchWriter(dir, 4)
	require.NoError(t, err)

	rows := makeRows(10)
	require.NoError(t, w.WriteRows(rows[:3]))
	require.Equal(t, 0, w.Batches())
	require.NoError(t, w.WriteRows(rows[3:]))
	require.Equal(t, 2, w.Batches())
	w.NoteGameWritten()

	// Nothing is visible until Finalize.
	shards, err := ListShards(dir)
	require.NoError(t, err)
	require.Empty(t, shards)

	out, n, games, err := w.Finalize()
	require.NoError(t, err)
	require.Equal(t, 10, n)
	require.Equal(t, 1, games)
	require.Equal(t, w.OutPath(), out)

	info, err := InspectShard(out)
	require.NoError(t, err)
	require.Equal(t, int64(10), info.Rows)
	require.Equal(t, 3, info.RowGroups)

	got, err := ReadSamples(out)
	require.NoError(t, err)
	require.Equal(t, rows, got)

	shards, err = ListShards(dir)
	require.NoError(t, err)
	require.Equal(t, []string{out}, shards)
}

func TestBatchWriterEmptyFinalize(t *testing.T) {
	dir := t.TempDir()
	w, err := NewBatchWriter(dir, 4)
	require.NoError(t, err)

	out, n, _, err := w.Finalize()
	require.NoError(t, err)
	require.Empty(t, out)
	require.Zero(t, n)
	require.NoFileExists(t, w.TmpPath())

	require.Error(t, w.WriteRows(makeRows(1)))
}

func TestNewBatchWriterValidates(t *testing.T) {
	_, err := NewBatchWriter("", 4)
	require.Error(t, err)
	_, err = NewBatchWriter(t.TempDir(), 0)
	require.Error(t, err)
}

func TestBatchWriterAbort(t *testing.T) {
	dir := t.TempDir()
	w, err := NewBatchWriter(dir, 2)
	require.NoError(t, err)
	require.NoError(t, w.WriteRows(makeRows(3)))

	w.Abort()
	require.NoFileExists(t, w.TmpPath())
	shards, err := ListShards(dir)
	require.NoError(t, err)
	require.Empty(t, shards)
}
