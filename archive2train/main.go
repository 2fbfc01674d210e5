// Command archive2train materialises self-play training shards into tensor
// rows (x as little-endian float32 bytes), optionally expanded with the 8
// board symmetries. Processed inputs are recorded in a ledger so reruns
// only convert new shards.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/brensch/gomokuzero/executor/convert"
	"github.com/brensch/gomokuzero/logging"
	"github.com/brensch/gomokuzero/store"
	"github.com/rs/zerolog/log"
)

const ledgerName = "processed.log"

var errNoInputs = errors.New("no parquet inputs found")

func main() {
	inDir := flag.String("in-dir", "", "Directory containing training parquet shards")
	outDir := flag.String("out-dir", "", "Output directory for tensor parquet shards")
	augment := flag.Bool("augment", true, "Write all 8 board symmetries of every position")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	if _, err := logging.Setup(*logLevel, "console"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *inDir == "" || *outDir == "" {
		fmt.Fprintln(os.Stderr, "-in-dir and -out-dir are required")
		os.Exit(2)
	}

	files, rows, err := run(*inDir, *outDir, *augment)
	if err != nil {
		log.Fatal().Err(err).Msg("archive2train failed")
	}
	log.Info().Int("files", files).Int("rows", rows).Msg("done")
}

// run converts every unprocessed training shard under inDir and returns
// the number of input files converted and rows written.
func run(inDir, outDir string, augment bool) (int, int, error) {
	absIn, _ := filepath.Abs(inDir)
	absOut, _ := filepath.Abs(outDir)
	if absIn == absOut {
		return 0, 0, fmt.Errorf("out-dir must be different from in-dir")
	}
	if err := os.MkdirAll(absOut, 0o755); err != nil {
		return 0, 0, fmt.Errorf("create out-dir: %w", err)
	}

	inputs, err := findInputs(absIn)
	if err != nil {
		return 0, 0, err
	}
	if len(inputs) == 0 {
		return 0, 0, errNoInputs
	}

	ledger, err := store.OpenLedger(filepath.Join(absOut, ledgerName))
	if err != nil {
		return 0, 0, err
	}
	defer ledger.Close()

	files, total := 0, 0
	for _, inPath := range inputs {
		key, _ := filepath.Rel(absIn, inPath)
		if ledger.Has(key) {
			continue
		}
		n, err := convertOne(inPath, absOut, augment)
		if err != nil {
			log.Warn().Err(err).Str("file", inPath).Msg("convert failed")
			continue
		}
		if err := ledger.Mark(key); err != nil {
			return files, total, err
		}
		files++
		total += n
		log.Debug().Str("file", key).Int("rows", n).Msg("converted")
	}
	return files, total, nil
}

func findInputs(root string) ([]string, error) {
	var inputs []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "tmp" || d.Name() == "debug_games" {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(strings.ToLower(d.Name()), ".parquet") {
			inputs = append(inputs, path)
		}
		return nil
	})
	sort.Strings(inputs)
	return inputs, err
}

// convertOne writes the tensor rows of one training shard. Files with any
// other schema are skipped without error.
func convertOne(inPath, outDir string, augment bool) (int, error) {
	schema, err := store.Schema(inPath)
	if err != nil {
		return 0, err
	}
	if schema != store.TrainingSchema {
		log.Debug().Str("file", inPath).Str("schema", schema).Msg("skipping non-training shard")
		return 0, nil
	}
	rows, err := store.ReadRows[store.TrainingRow](inPath)
	if err != nil {
		return 0, err
	}

	w, err := store.NewBatchWriter[store.TrainingXRow](outDir, store.TensorSchema)
	if err != nil {
		return 0, err
	}

	var game []store.TrainingXRow
	flushGame := func() error {
		if len(game) == 0 {
			return nil
		}
		err := w.WriteGame(game)
		game = game[:0]
		return err
	}
	for i, row := range rows {
		if i > 0 && row.GameID != rows[i-1].GameID {
			if err := flushGame(); err != nil {
				_, _, _, _ = w.Finalize()
				return 0, err
			}
		}
		xs, err := materialize(row, augment)
		if err != nil {
			_, _, _, _ = w.Finalize()
			return 0, fmt.Errorf("game %s turn %d: %w", row.GameID, row.Turn, err)
		}
		game = append(game, xs...)
	}
	if err := flushGame(); err != nil {
		_, _, _, _ = w.Finalize()
		return 0, err
	}
	_, n, _, err := w.Finalize()
	return n, err
}

// materialize encodes one row, once per symmetry when augment is set.
// State and policy are transformed together so the targets stay aligned.
func materialize(row store.TrainingRow, augment bool) ([]store.TrainingXRow, error) {
	size := int(row.BoardSize)
	cells := size * size
	if size <= 0 || len(row.State) != cells || len(row.Policy) != cells {
		return nil, fmt.Errorf("board %d with state %d and policy %d cells", size, len(row.State), len(row.Policy))
	}
	state := store.UnpackState(row.State)

	syms := 1
	if augment {
		syms = convert.Symmetries
	}
	out := make([]store.TrainingXRow, 0, syms)
	for k := 0; k < syms; k++ {
		out = append(out, store.TrainingXRow{
			GameID:    row.GameID,
			Turn:      row.Turn,
			Symmetry:  int32(k),
			BoardSize: row.BoardSize,
			X:         convert.PerspectiveToBytes(convert.TransformPlane(size, state, k)),
			Policy:    convert.TransformPlane(size, row.Policy, k),
			Value:     row.Value,
		})
	}
	return out, nil
}
