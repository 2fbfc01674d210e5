package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brensch/gomokuzero/config"
	"github.com/brensch/gomokuzero/executor/events"
	"github.com/brensch/gomokuzero/executor/inference"
	"github.com/brensch/gomokuzero/executor/selfplay"
	"github.com/brensch/gomokuzero/game"
	"github.com/brensch/gomokuzero/store"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/muesli/termenv"
	"github.com/stretchr/testify/require"
)

func playRecords(t *testing.T, n int) []*selfplay.GameRecord {
	t.Helper()
	out := make([]*selfplay.GameRecord, 0, n)
	for i := 0; i < n; i++ {
		rec, err := selfplay.PlayGame(context.Background(), game.New(5), inference.Uniform{}, selfplay.Options{SimulationsPerStep: 4, Seed: int64(i + 1)})
		require.NoError(t, err)
		out = append(out, rec)
	}
	return out
}

func parquetFiles(t *testing.T, dir string) []string {
	t.Helper()
	paths, err := filepath.Glob(filepath.Join(dir, "*.parquet"))
	require.NoError(t, err)
	return paths
}

func TestParquetWriterLoop_RollsFiles(t *testing.T) {
	dir := t.TempDir()
	recs := playRecords(t, 5)

	in := make(chan *selfplay.GameRecord, len(recs)+1)
	for _, r := range recs {
		in <- r
	}
	in <- &selfplay.GameRecord{GameID: "partial"} // incomplete, skipped
	close(in)

	files, err := parquetWriterLoop(dir, 2, "models/m.onnx", in)
	require.NoError(t, err)
	require.Equal(t, 3, files)

	paths := parquetFiles(t, dir)
	require.Len(t, paths, 3)
	total := 0
	for _, p := range paths {
		rows, err := store.ReadRows[store.TrainingRow](p)
		require.NoError(t, err)
		total += len(rows)
		require.Equal(t, "models/m.onnx", rows[0].ModelPath)
	}
	want := 0
	for _, r := range recs {
		want += len(r.Examples)
	}
	require.Equal(t, want, total)
}

func TestRun_FixedNumberOfGames(t *testing.T) {
	t.Setenv("GOMOKU_BOARD_SIZE", "5")
	t.Setenv("GOMOKU_WORKERS", "2")
	t.Setenv("GOMOKU_GAMES", "3")
	t.Setenv("GOMOKU_SEARCH_SIMULATIONS", "4")
	t.Setenv("GOMOKU_PREDICTOR_KIND", "uniform")
	t.Setenv("GOMOKU_OUTPUT_DIR", t.TempDir())
	t.Setenv("GOMOKU_OUTPUT_GAMES_PER_FILE", "10")
	cfg, err := config.Load("")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, run(ctx, cfg))

	paths := parquetFiles(t, cfg.Output.Dir)
	require.Len(t, paths, 1)
	rows, err := store.ReadRows[store.TrainingRow](paths[0])
	require.NoError(t, err)
	games := map[string]bool{}
	for _, r := range rows {
		games[r.GameID] = true
	}
	require.Len(t, games, 3)
}

func TestWorker_KeepsGameFinishedDuringShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	records := make(chan *selfplay.GameRecord, 1)
	var played atomic.Int64
	w := worker{
		claim: func() (int64, bool) { return 1, true },
		play: func(context.Context, int64) (*selfplay.GameRecord, error) {
			cancel()
			return &selfplay.GameRecord{GameID: "last", Complete: true}, nil
		},
		played:  &played,
		records: records,
		updates: make(chan GameUpdate),
	}

	require.NoError(t, w.loop(ctx))
	require.Len(t, records, 1)
	require.Equal(t, "last", (<-records).GameID)
	require.Equal(t, int64(1), played.Load())
}

func TestWorker_StopsWhenSlotsRunOut(t *testing.T) {
	records := make(chan *selfplay.GameRecord, 4)
	var played, claimed atomic.Int64
	w := worker{
		claim: func() (int64, bool) {
			n := claimed.Add(1)
			return n, n <= 2
		},
		play: func(_ context.Context, n int64) (*selfplay.GameRecord, error) {
			if n == 1 {
				return nil, errors.New("boom")
			}
			return &selfplay.GameRecord{GameID: "ok", Complete: true}, nil
		},
		played:  &played,
		records: records,
		updates: make(chan GameUpdate, 4),
	}

	require.NoError(t, w.loop(context.Background()))
	require.Len(t, records, 1, "the aborted game is skipped")
	require.Equal(t, int64(1), played.Load())
}

func TestNewPredictor(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	cfg.Predictor.Kind = "uniform"
	p, c, stats, err := newPredictor(cfg)
	require.NoError(t, err)
	require.IsType(t, inference.Uniform{}, p)
	require.Nil(t, stats)
	require.NoError(t, c.Close())

	cfg.Predictor.Kind = "onnx"
	cfg.Predictor.ModelPath = filepath.Join(t.TempDir(), "missing.onnx")
	_, _, _, err = newPredictor(cfg)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestModel_FollowsWatchedGame(t *testing.T) {
	m := initialModel(nil, nil, func() runStats { return runStats{Moves: 7, States: 21} })
	m.profile = termenv.Ascii

	s := game.New(5)
	next, _ := m.Update(eventMsg(events.Snapshot(events.GameReset, "game-one", s)))
	m = next.(model)
	// Events from other games are ignored once one is being watched.
	next, _ = m.Update(eventMsg(events.Snapshot(events.GameReset, "game-two", game.New(5))))
	m = next.(model)
	require.Equal(t, "game-one", m.watched)

	s.PlayAt(2, 2)
	next, _ = m.Update(eventMsg(events.Snapshot(events.MoveCommitted, "game-one", s)))
	m = next.(model)
	require.Equal(t, game.Black, m.board.At(2, 2))

	next, _ = m.Update(TickMsg(time.Now()))
	m = next.(model)
	next, _ = m.Update(GameUpdate{WorkerID: 1, GameID: "game-one", Winner: game.Black, Moves: 9, Examples: 9})
	m = next.(model)

	view := m.View()
	require.Contains(t, view, "Games Played:     1")
	require.Contains(t, view, "Total Moves:      7")
	require.Contains(t, view, "Watching game-one")
	require.Contains(t, view, "[X]")
	require.True(t, strings.Contains(view, "Worker 1: game-one winner="))

	next, _ = m.Update(eventMsg(events.Snapshot(events.GameFinished, "game-one", s)))
	m = next.(model)
	require.Empty(t, m.watched)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
}
