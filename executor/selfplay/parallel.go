package selfplay

import (
	"context"
	"fmt"

	"github.com/brensch/gomokuzero/executor/mcts"
	"github.com/brensch/gomokuzero/game"
	"golang.org/x/sync/errgroup"
)

// PlayN plays n independent games on up to workers goroutines and sends
// every completed record to out. Each game owns its tree; only the
// predictor is shared. The first failing game stops the rest.
//
// newState builds the starting position for each game (nil means an empty
// board of DefaultSize). opts.GameID and opts.Rng are per game and are
// ignored; game i is seeded with opts.Seed+i when opts.Seed is set.
func PlayN(ctx context.Context, n, workers int, newState func() *game.GameState, predictor mcts.Predictor, opts Options, out chan<- *GameRecord) error {
	if workers <= 0 {
		workers = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		gameOpts := opts
		gameOpts.GameID = ""
		gameOpts.Rng = nil
		if opts.Seed != 0 {
			gameOpts.Seed = opts.Seed + int64(i)
		}

		g.Go(func() error {
			var initial *game.GameState
			if newState != nil {
				initial = newState()
			}
			rec, err := PlayGame(ctx, initial, predictor, gameOpts)
			if err != nil {
				return fmt.Errorf("game %d: %w", i, err)
			}
			select {
			case out <- rec:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}
	return g.Wait()
}
