// Command executor runs self-play workers and writes their games as parquet
// training shards.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/brensch/gomokuzero/config"
	"github.com/brensch/gomokuzero/executor/events"
	"github.com/brensch/gomokuzero/executor/inference"
	"github.com/brensch/gomokuzero/executor/selfplay"
	"github.com/brensch/gomokuzero/game"
	"github.com/brensch/gomokuzero/logging"
	"github.com/brensch/gomokuzero/viewer"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// worker plays games until ctx is done or claim refuses another slot.
type worker struct {
	id      int
	claim   func() (n int64, ok bool)
	play    func(ctx context.Context, n int64) (*selfplay.GameRecord, error)
	played  *atomic.Int64
	records chan<- *selfplay.GameRecord
	updates chan<- GameUpdate
}

func (w worker) loop(ctx context.Context) error {
	lg := log.With().Int("worker", w.id).Logger()
	wctx := lg.WithContext(ctx)
	for ctx.Err() == nil {
		n, ok := w.claim()
		if !ok {
			return nil
		}
		rec, err := w.play(wctx, n)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			lg.Warn().Err(err).Msg("game aborted")
			continue
		}
		total := w.played.Add(1)
		lg.Debug().Int64("games", total).Str("game_id", rec.GameID).Msg("game finished")

		// The writer drains records until it is closed, so a finished game
		// is never lost to shutdown.
		w.records <- rec
		select {
		case w.updates <- GameUpdate{
			WorkerID: w.id,
			GameID:   rec.GameID,
			Winner:   rec.Winner,
			Moves:    len(rec.Moves),
			Examples: len(rec.Examples),
			Duration: rec.Duration,
		}:
		default:
		}
	}
	return nil
}

type runStats struct {
	Moves  int64
	States int64
	Batch  string
}

func main() {
	cfgPath := flag.String("config", "", "Optional YAML/TOML config file (GOMOKU_* env vars override it)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	if _, err := logging.Setup(cfg.Log.Level, cfg.Log.Format); err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("self-play failed")
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	if cfg.TUI {
		// The dashboard owns the terminal; logs go to a file instead.
		if err := os.MkdirAll(cfg.Output.Dir, 0o755); err != nil {
			return err
		}
		f, err := os.OpenFile(filepath.Join(cfg.Output.Dir, "executor.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		defer f.Close()
		logger, err := logging.New(f, cfg.Log.Level, "json")
		if err != nil {
			return err
		}
		log.Logger = logger
		zerolog.DefaultContextLogger = &logger
	}

	base, closer, runtimeStats, err := newPredictor(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()
	predictor := &inference.Instrumented{Next: base}

	log.Info().
		Str("predictor", cfg.Predictor.Kind).
		Int("workers", cfg.Workers).
		Int("board_size", cfg.BoardSize).
		Int("simulations", cfg.Search.Simulations).
		Msg("starting self-play")
	if cfg.Predictor.Kind == "onnx" && cfg.Predictor.BatchSize > cfg.Workers {
		log.Warn().
			Int("batch_size", cfg.Predictor.BatchSize).
			Int("workers", cfg.Workers).
			Msg("batch size exceeds in-flight requests; batches will be flushed by timeout")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	bus := events.NewBus()
	defer bus.Close()

	var totalMoves atomic.Int64
	stats := func() runStats {
		st := runStats{Moves: totalMoves.Load(), States: predictor.Stats().States}
		if runtimeStats != nil {
			rs := runtimeStats()
			st.Batch = fmt.Sprintf("avg=%.1f last=%d q=%d run=%.2fms", rs.AvgBatchSize, rs.LastBatchSize, rs.QueueLen, rs.AvgRunMs)
		}
		return st
	}

	if cfg.Viewer.Addr != "" {
		stopViewer := startViewer(ctx, cfg, bus, predictor)
		defer stopViewer()
	}

	records := make(chan *selfplay.GameRecord, cfg.Workers*2)
	updates := make(chan GameUpdate, cfg.Workers)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		files, err := parquetWriterLoop(cfg.Output.Dir, cfg.Output.GamesPerFile, cfg.Predictor.ModelPath, records)
		if err != nil {
			log.Error().Err(err).Int("files", files).Msg("writer finished with errors")
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	var claimed, played atomic.Int64
	for i := 0; i < cfg.Workers; i++ {
		w := worker{
			id: i,
			claim: func() (int64, bool) {
				n := claimed.Add(1)
				return n, cfg.Games == 0 || n <= int64(cfg.Games)
			},
			play: func(ctx context.Context, n int64) (*selfplay.GameRecord, error) {
				opts := selfplay.Options{
					SimulationsPerStep: cfg.Search.Simulations,
					Cpuct:              float32(cfg.Search.Cpuct),
					SampleMoves:        cfg.Search.SampleMoves,
					Bus:                bus,
					OnStep:             func(selfplay.Step) { totalMoves.Add(1) },
				}
				if cfg.Predictor.Seed != 0 {
					opts.Seed = cfg.Predictor.Seed + n
				}
				return selfplay.PlayGame(ctx, game.New(cfg.BoardSize), predictor, opts)
			},
			played:  &played,
			records: records,
			updates: updates,
		}
		g.Go(func() error { return w.loop(gctx) })
	}

	workersDone := make(chan error, 1)
	go func() {
		workersDone <- g.Wait()
		close(records)
	}()

	var runErr error
	if cfg.TUI {
		runErr = runTUI(ctx, cancel, bus, updates, stats, workersDone)
	} else {
		runErr = logStats(ctx, updates, stats, workersDone)
	}

	cancel()
	<-writerDone
	log.Info().Int64("games", played.Load()).Msg("shutdown complete: final parquet flush done")
	return runErr
}

// logStats reports throughput once a second until the workers finish or
// ctx is cancelled.
func logStats(ctx context.Context, updates <-chan GameUpdate, stats func() runStats, done <-chan error) error {
	start := time.Now()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			log.Info().Msg("shutdown requested; waiting for workers to finish current games")
			return <-done
		case u := <-updates:
			log.Info().
				Int("worker", u.WorkerID).
				Str("game_id", u.GameID).
				Stringer("winner", u.Winner).
				Int("moves", u.Moves).
				Dur("duration", u.Duration).
				Msg("game complete")
		case <-ticker.C:
			st := stats()
			secs := time.Since(start).Seconds()
			ev := log.Info().
				Float64("moves_per_sec", float64(st.Moves)/secs).
				Float64("inferences_per_sec", float64(st.States)/secs)
			if st.Batch != "" {
				ev = ev.Str("batch", st.Batch)
			}
			ev.Msg("stats")
		}
	}
}

func runTUI(ctx context.Context, cancel context.CancelFunc, bus *events.Bus, updates <-chan GameUpdate, stats func() runStats, done <-chan error) error {
	feed, unsubscribe := bus.Subscribe(256)
	defer unsubscribe()

	p := tea.NewProgram(initialModel(updates, feed, stats), tea.WithAltScreen(), tea.WithContext(ctx))
	doneErr := make(chan error, 1)
	go func() {
		// Quit the dashboard when the workers are done on their own.
		err := <-done
		p.Quit()
		doneErr <- err
	}()
	_, err := p.Run()
	cancel()
	werr := <-doneErr
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return werr
}

func startViewer(ctx context.Context, cfg *config.Config, bus *events.Bus, predictor *inference.Instrumented) func() {
	hub := viewer.NewHub()
	feed, unsubscribe := bus.Subscribe(256)
	go hub.Run(ctx, feed)

	srv := viewer.NewServer([]string{cfg.Output.Dir}, filepath.Join(cfg.Output.Dir, "debug_games"))
	srv.Hub = hub
	srv.Predictor = predictor

	httpSrv := &http.Server{
		Addr:              cfg.Viewer.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.Viewer.Addr).Msg("viewer listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("viewer stopped")
		}
	}()
	return func() {
		unsubscribe()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}
}
