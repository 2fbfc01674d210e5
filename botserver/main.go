// Command botserver plays gomoku over HTTP using MCTS with an ONNX model or
// random rollouts.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brensch/gomokuzero/executor/inference"
	"github.com/brensch/gomokuzero/executor/mcts"
	"github.com/brensch/gomokuzero/logging"
	"github.com/rs/zerolog/log"
)

func main() {
	fs := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	listen := fs.String("listen", ":8080", "HTTP listen address")
	modelPath := fs.String("model-path", "", "Path to ONNX model (empty uses random rollouts)")
	boardSize := fs.Int("board-size", 15, "Board size the model was trained for")
	sessions := fs.Int("sessions", 1, "Number of ONNX sessions (for parallel games)")
	moveTimeout := fs.Duration("move-timeout", 1*time.Second, "Default move timeout")
	mctsSims := fs.Int("mcts-sims", 10000, "Max MCTS simulations per move (stops early at the timeout)")
	disableCUDA := fs.Bool("disable-cuda", false, "Disable CUDA execution provider")
	logLevel := fs.String("log-level", "info", "Log level")
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}
	if _, err := logging.Setup(*logLevel, "console"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	var predictor mcts.Predictor
	if *modelPath != "" {
		log.Info().Str("model", *modelPath).Bool("cuda", !*disableCUDA).Msg("loading model")
		pool, err := inference.NewOnnxClientPool(*modelPath, *sessions, inference.OnnxClientConfig{
			BoardSize:   *boardSize,
			DisableCUDA: *disableCUDA,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create inference pool")
		}
		defer pool.Close()
		predictor = pool
	} else {
		predictor = inference.NewRollout(inference.DefaultPlayouts, 0)
	}

	server := NewServer(predictor, *moveTimeout, *mctsSims)
	srv := &http.Server{
		Addr:              *listen,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
				return
			case <-ticker.C:
				if n := server.Prune(10 * time.Minute); n > 0 {
					log.Debug().Int("pruned", n).Msg("dropped idle games")
				}
			}
		}
	}()

	log.Info().Str("addr", *listen).Msg("bot server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
