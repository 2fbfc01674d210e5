package main

import (
	"github.com/brensch/gomokuzero/executor/selfplay"
	"github.com/brensch/gomokuzero/store"
	"github.com/rs/zerolog/log"
)

// parquetWriterLoop streams finished games into rolling parquet files of
// gamesPerFile games each. The last partial file is flushed when in is
// closed.
func parquetWriterLoop(outDir string, gamesPerFile int, modelPath string, in <-chan *selfplay.GameRecord) (files int, err error) {
	if gamesPerFile <= 0 {
		gamesPerFile = 50
	}

	var w *store.BatchWriter[store.TrainingRow]
	flush := func() {
		if w == nil {
			return
		}
		outPath, rows, games, ferr := w.Finalize()
		w = nil
		if ferr != nil {
			log.Error().Err(ferr).Msg("parquet flush failed")
			err = ferr
			return
		}
		if outPath != "" {
			files++
			log.Info().Str("file", outPath).Int("games", games).Int("rows", rows).Msg("parquet flush ok")
		}
	}

	for rec := range in {
		rows := rec.Rows(modelPath)
		if len(rows) == 0 {
			continue
		}
		if w == nil {
			nw, werr := store.NewBatchWriter[store.TrainingRow](outDir, store.TrainingSchema)
			if werr != nil {
				log.Error().Err(werr).Str("game_id", rec.GameID).Msg("open parquet batch failed; dropping game")
				err = werr
				continue
			}
			w = nw
		}
		if werr := w.WriteGame(rows); werr != nil {
			log.Error().Err(werr).Str("game_id", rec.GameID).Msg("parquet write failed")
			err = werr
			continue
		}
		if w.BufferedGames() >= gamesPerFile {
			flush()
		}
	}
	flush()
	return files, err
}
