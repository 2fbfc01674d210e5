// Command debuggame plays one traced self-play game and writes it, search
// trees included, to a parquet file the viewer can replay.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/brensch/gomokuzero/executor/inference"
	"github.com/brensch/gomokuzero/executor/mcts"
	"github.com/brensch/gomokuzero/executor/selfplay"
	"github.com/brensch/gomokuzero/game"
	"github.com/brensch/gomokuzero/logging"
	"github.com/brensch/gomokuzero/store"
	"github.com/muesli/termenv"
	"github.com/rs/zerolog/log"
)

func main() {
	modelPath := flag.String("model", "", "Path to ONNX model (empty plays with random rollouts)")
	outDir := flag.String("out-dir", "debug_games", "Output directory for debug games")
	size := flag.Int("size", game.DefaultSize, "Board size")
	sims := flag.Int("sims", 200, "Number of MCTS simulations per move")
	cpuct := flag.Float64("cpuct", 1.0, "MCTS exploration constant")
	depth := flag.Int("depth", 2, "Tree depth stored per turn")
	minVisits := flag.Int("min-visits", 1, "Skip tree nodes with fewer visits")
	cuda := flag.Bool("cuda", true, "Enable CUDA for inference")
	seed := flag.Int64("seed", 0, "Rollout seed (0 picks one from the clock)")
	frontendHost := flag.String("frontend", "http://localhost:5173", "Frontend base URL")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	if _, err := logging.Setup(*logLevel, "console"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	var predictor mcts.Predictor
	if *modelPath != "" {
		log.Info().Str("model", *modelPath).Msg("loading model")
		client, err := inference.NewOnnxClientWithConfig(*modelPath, inference.OnnxClientConfig{
			BoardSize:   *size,
			BatchSize:   1,
			DisableCUDA: !*cuda,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load model")
		}
		defer client.Close()
		predictor = client
	} else {
		predictor = inference.NewRollout(inference.DefaultPlayouts, *seed)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = log.Logger.WithContext(ctx)

	state, err := game.NewChecked(*size)
	if err != nil {
		log.Fatal().Err(err).Msg("bad board size")
	}

	log.Info().Int("sims", *sims).Float64("cpuct", *cpuct).Msg("generating debug game")
	profile := termenv.ColorProfile()
	replay := game.New(*size)
	rec, err := selfplay.PlayGame(ctx, state, predictor, selfplay.Options{
		SimulationsPerStep: *sims,
		Cpuct:              float32(*cpuct),
		Source:             "debug",
		Seed:               *seed,
		Trace:              true,
		TraceDepth:         *depth,
		TraceMinVisits:     *minVisits,
		OnStep: func(st selfplay.Step) {
			replay.Play(st.Move)
			p := replay.PointOf(st.Move)
			fmt.Printf("  Turn %3d | %s -> (%d,%d) | nodes=%d depth=%d\n",
				st.Turn, st.Player, p.Row, p.Col, st.Tree.Nodes, st.Tree.MaxDepth)
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to generate debug game")
	}
	fmt.Print(selfplay.RenderBoard(replay, profile))
	log.Info().Int("turns", len(rec.Moves)).Stringer("winner", rec.Winner).Msg("game complete")

	rows, err := debugRows(rec, *modelPath, *sims, float32(*cpuct))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to encode trees")
	}
	parquetPath, err := store.WriteDebugGameParquet(*outDir, rec.GameID, rows)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to write debug game")
	}
	log.Info().Str("file", parquetPath).Msg("debug game written")

	fmt.Println()
	fmt.Printf("  Debug game ready! Open in browser:\n")
	fmt.Printf("  %s/debug/%s\n", *frontendHost, rec.GameID)
	fmt.Printf("  (raw: %s)\n\n", filepath.Base(parquetPath))
}

// debugRows turns the trace of a finished game into one row per turn.
func debugRows(rec *selfplay.GameRecord, modelPath string, sims int, cpuct float32) ([]store.DebugTurnRow, error) {
	rows := make([]store.DebugTurnRow, 0, len(rec.Trace))
	for _, tt := range rec.Trace {
		tree, err := json.Marshal(tt)
		if err != nil {
			return nil, fmt.Errorf("turn %d: %w", tt.Turn, err)
		}
		rows = append(rows, store.DebugTurnRow{
			GameID:    rec.GameID,
			ModelPath: modelPath,
			Turn:      int32(tt.Turn),
			BoardSize: int32(rec.BoardSize),
			Player:    int32(tt.Player),
			Move:      int32(tt.Move),
			Board:     store.PackState(tt.Board),
			TreeJSON:  tree,
			Sims:      int32(sims),
			Cpuct:     cpuct,
			Winner:    int32(rec.Winner),
		})
	}
	return rows, nil
}
