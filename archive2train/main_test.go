package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/brensch/gomokuzero/executor/convert"
	"github.com/brensch/gomokuzero/store"
	"github.com/stretchr/testify/require"
)

func row(gameID string, turn int32) store.TrainingRow {
	state := make([]int8, 25)
	state[1] = 1 // (0,1)
	state[7] = -1
	policy := make([]float32, 25)
	policy[1] = 1
	return store.TrainingRow{
		GameID:    gameID,
		Turn:      turn,
		BoardSize: 5,
		Player:    1,
		State:     store.PackState(state),
		Policy:    policy,
		Outcome:   1,
		Value:     1,
	}
}

func TestMaterialize_AlignsStateAndPolicy(t *testing.T) {
	xs, err := materialize(row("g", 0), true)
	require.NoError(t, err)
	require.Len(t, xs, convert.Symmetries)

	for k, x := range xs {
		require.EqualValues(t, k, x.Symmetry)
		planes := convert.BytesToFloat32(x.X)
		moved := convert.TransformIndex(5, 1, k)
		require.Equal(t, float32(1), planes[moved])
		require.Equal(t, float32(1), x.Policy[moved], "policy follows the stone")
	}

	xs, err = materialize(row("g", 0), false)
	require.NoError(t, err)
	require.Len(t, xs, 1)
	require.Equal(t, float32(-1), convert.BytesToFloat32(xs[0].X)[7])

	bad := row("g", 0)
	bad.Policy = bad.Policy[:3]
	_, err = materialize(bad, true)
	require.Error(t, err)
}

func TestRun_ConvertsOnceAndSkipsOtherSchemas(t *testing.T) {
	in, out := t.TempDir(), filepath.Join(t.TempDir(), "out")
	_, err := store.WriteBatchParquetAtomic(in, store.TrainingSchema, []store.TrainingRow{row("a", 0), row("a", 1), row("b", 0)})
	require.NoError(t, err)
	_, err = store.WriteDebugGameParquet(in, "dbg", []store.DebugTurnRow{{GameID: "dbg", BoardSize: 5}})
	require.NoError(t, err)

	files, rows, err := run(in, out, true)
	require.NoError(t, err)
	require.Equal(t, 2, files)
	require.Equal(t, 3*convert.Symmetries, rows)

	paths, err := filepath.Glob(filepath.Join(out, "*.parquet"))
	require.NoError(t, err)
	require.Len(t, paths, 1)
	schema, err := store.Schema(paths[0])
	require.NoError(t, err)
	require.Equal(t, store.TensorSchema, schema)

	files, rows, err = run(in, out, true)
	require.NoError(t, err)
	require.Zero(t, files, "ledger skips converted inputs")
	require.Zero(t, rows)

	_, _, err = run(in, in, true)
	require.Error(t, err)

	empty := t.TempDir()
	_, _, err = run(empty, out, true)
	require.ErrorIs(t, err, errNoInputs)
	_, statErr := os.Stat(filepath.Join(out, ledgerName))
	require.NoError(t, statErr)
}
