package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleRows(gameID string, n int) []TrainingRow {
	rows := make([]TrainingRow, n)
	for i := range rows {
		state := make([]int8, 25)
		state[i%25] = 1
		policy := make([]float32, 25)
		policy[(i+1)%25] = 1
		rows[i] = TrainingRow{
			GameID:    gameID,
			Turn:      int32(i),
			BoardSize: 5,
			Player:    int32(1 - 2*(i%2)),
			Move:      int32((i + 1) % 25),
			State:     PackState(state),
			Policy:    policy,
			Outcome:   1,
			Value:     float32(1 - 2*(i%2)),
			Source:    "selfplay",
		}
	}
	return rows
}

func TestWriteBatchParquetAtomic_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	rows := sampleRows("g1", 7)

	path, err := WriteBatchParquetAtomic(dir, TrainingSchema, rows)
	require.NoError(t, err)
	require.Equal(t, dir, filepath.Dir(path))

	tmpEntries, err := os.ReadDir(filepath.Join(dir, "tmp"))
	require.NoError(t, err)
	require.Empty(t, tmpEntries, "temp file must be moved out")

	got, err := ReadRows[TrainingRow](path)
	require.NoError(t, err)
	require.Equal(t, rows, got)

	schema, err := Schema(path)
	require.NoError(t, err)
	require.Equal(t, TrainingSchema, schema)
}

func TestBatchWriter(t *testing.T) {
	dir := t.TempDir()
	w, err := NewBatchWriter[TrainingRow](dir, TrainingSchema)
	require.NoError(t, err)

	require.NoError(t, w.WriteGame(sampleRows("a", 3)))
	require.NoError(t, w.WriteGame(sampleRows("b", 4)))
	require.NoError(t, w.WriteGame(nil))
	require.Equal(t, 2, w.BufferedGames())
	require.Equal(t, 7, w.BufferedRows())

	path, rows, games, err := w.Finalize()
	require.NoError(t, err)
	require.Equal(t, 7, rows)
	require.Equal(t, 2, games)
	require.FileExists(t, path)

	got, err := ReadRows[TrainingRow](path)
	require.NoError(t, err)
	require.Len(t, got, 7)
	require.Equal(t, "b", got[6].GameID)

	require.Error(t, w.WriteGame(sampleRows("c", 1)))
	again, _, _, err := w.Finalize()
	require.NoError(t, err)
	require.Empty(t, again)
}

func TestBatchWriter_EmptyLeavesNoFile(t *testing.T) {
	dir := t.TempDir()
	w, err := NewBatchWriter[TrainingRow](dir, TrainingSchema)
	require.NoError(t, err)
	path, rows, _, err := w.Finalize()
	require.NoError(t, err)
	require.Empty(t, path)
	require.Zero(t, rows)

	matches, err := filepath.Glob(filepath.Join(dir, "*.parquet"))
	require.NoError(t, err)
	require.Empty(t, matches)
}

func TestDebugGameParquet(t *testing.T) {
	dir := t.TempDir()
	rows := []DebugTurnRow{{GameID: "dbg", Turn: 0, BoardSize: 5, Board: make([]int32, 25), TreeJSON: []byte(`{"n":3}`), Sims: 3, Cpuct: 1}}
	path, err := WriteDebugGameParquet(dir, "dbg", rows)
	require.NoError(t, err)
	require.Equal(t, "debug_dbg.parquet", filepath.Base(path))

	got, err := ReadRows[DebugTurnRow](path)
	require.NoError(t, err)
	require.Equal(t, rows, got)
}

func TestLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "done.log")
	l, err := OpenLedger(path)
	require.NoError(t, err)
	require.NoError(t, l.Mark("a", "b", "a", ""))
	require.True(t, l.Has("a"))
	require.False(t, l.Has("c"))
	require.Equal(t, 2, l.Len())
	require.NoError(t, l.Close())
	require.Error(t, l.Mark("c"))

	reopened, err := OpenLedger(path)
	require.NoError(t, err)
	defer reopened.Close()
	require.True(t, reopened.Has("b"))
	require.Equal(t, 2, reopened.Len())
}

func TestPackState(t *testing.T) {
	s := []int8{1, 0, -1}
	require.Equal(t, []int32{1, 0, -1}, PackState(s))
	require.Equal(t, s, UnpackState(PackState(s)))
}
