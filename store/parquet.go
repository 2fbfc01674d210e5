// Package store reads and writes self-play output as Parquet.
package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
)

const (
	TrainingSchema  = "gomoku_training_row_v1"
	TensorSchema    = "gomoku_training_x_v1"
	DebugGameSchema = "gomoku_debug_game_v1"
)

// TrainingRow is one (position, target) pair from a finished game.
//
// State is the board seen by Player (own stones +1, opponent -1, empty 0),
// row-major, BoardSize*BoardSize long. Policy is the search distribution
// over the same cells. Outcome is the winning colour (+1 black, -1 white,
// 0 draw) and Value is Outcome from Player's side.
type TrainingRow struct {
	GameID    string    `parquet:"game_id,dict"`
	Turn      int32     `parquet:"turn"`
	BoardSize int32     `parquet:"board_size"`
	Player    int32     `parquet:"player"`
	Move      int32     `parquet:"move"`
	State     []int32   `parquet:"state"`
	Policy    []float32 `parquet:"policy"`
	Outcome   float32   `parquet:"outcome"`
	Value     float32   `parquet:"value"`
	Source    string    `parquet:"source,dict"`
	ModelPath string    `parquet:"model_path,dict,optional"`
}

// TrainingXRow is a materialised tensor row, ready to be fed to a trainer
// without any featurisation. X is little-endian float32 [1, N, N].
type TrainingXRow struct {
	GameID    string    `parquet:"game_id,dict"`
	Turn      int32     `parquet:"turn"`
	Symmetry  int32     `parquet:"symmetry"`
	BoardSize int32     `parquet:"board_size"`
	X         []byte    `parquet:"x"`
	Policy    []float32 `parquet:"policy"`
	Value     float32   `parquet:"value"`
}

func PackState(s []int8) []int32 {
	out := make([]int32, len(s))
	for i, v := range s {
		out[i] = int32(v)
	}
	return out
}

func UnpackState(s []int32) []int8 {
	out := make([]int8, len(s))
	for i, v := range s {
		out[i] = int8(v)
	}
	return out
}

// WriteBatchParquetAtomic writes rows into outDir/tmp and then renames the
// file into outDir, so readers never observe a partially written file.
func WriteBatchParquetAtomic[T any](outDir, schema string, rows []T) (string, error) {
	return writeAtomic(outDir, fmt.Sprintf("batch_%d.parquet", time.Now().UnixNano()), schema, rows)
}

func writeAtomic[T any](outDir, name, schema string, rows []T) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	tmpDir := filepath.Join(outDir, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return "", fmt.Errorf("create tmp dir: %w", err)
	}

	finalPath := filepath.Join(outDir, name)
	tmpPath := filepath.Join(tmpDir, name+".tmp")
	_ = os.Remove(tmpPath)

	if err := parquet.WriteFile(tmpPath, rows,
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
		parquet.KeyValueMetadata("schema", schema),
	); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write parquet: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("rename parquet: %w", err)
	}
	return finalPath, nil
}

// ReadRows loads every row of a Parquet file.
func ReadRows[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}

	r := parquet.NewGenericReader[T](f)
	defer r.Close()

	out := make([]T, 0, r.NumRows())
	for {
		// Fresh buffer each pass: the reader may reuse nested slices.
		buf := make([]T, 256)
		n, err := r.Read(buf)
		out = append(out, buf[:n]...)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s (%d bytes): %w", path, st.Size(), err)
		}
	}
	return out, nil
}

// Schema returns the schema tag a file was written with.
func Schema(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return "", err
	}
	pf, err := parquet.OpenFile(f, st.Size())
	if err != nil {
		return "", fmt.Errorf("open parquet: %w", err)
	}
	v, _ := pf.Lookup("schema")
	return v, nil
}
