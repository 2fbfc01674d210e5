package inference

import (
	"context"
	"fmt"
	"math"

	"github.com/brensch/gomokuzero/executor/mcts"
	"github.com/brensch/gomokuzero/game"
)

// Adapter exposes a Predictor through the single-state queries used by
// players: a move distribution restricted to legal moves, and a value.
type Adapter struct {
	Predictor mcts.Predictor
}

// Policy returns the predictor's move distribution with occupied cells
// masked out and the rest renormalized. A missing or misshapen policy is
// ErrMalformedPrediction. If the predictor put no mass on any legal move the
// result is uniform over legal moves.
func (a Adapter) Policy(ctx context.Context, state *game.GameState) ([]float32, error) {
	preds, _, err := a.predict(ctx, []*game.GameState{state})
	if err != nil {
		return nil, err
	}
	return MaskPolicy(state, preds[0].Policy)
}

func (a Adapter) Value(ctx context.Context, state *game.GameState) (float32, error) {
	_, values, err := a.predict(ctx, []*game.GameState{state})
	if err != nil {
		return 0, err
	}
	return values[0], nil
}

// Values evaluates many states in one predictor call.
func (a Adapter) Values(ctx context.Context, states []*game.GameState) ([]float32, error) {
	_, values, err := a.predict(ctx, states)
	return values, err
}

// predict runs the batch and checks every prediction the way the search
// does, returning the clamped values alongside.
func (a Adapter) predict(ctx context.Context, states []*game.GameState) ([]mcts.Prediction, []float32, error) {
	if a.Predictor == nil {
		return nil, nil, mcts.ErrNoPredictor
	}
	preds, err := a.Predictor.Predict(ctx, states)
	if err != nil {
		return nil, nil, err
	}
	if len(preds) != len(states) {
		return nil, nil, fmt.Errorf("%w: %d predictions for %d states", mcts.ErrMalformedPrediction, len(preds), len(states))
	}
	values := make([]float32, len(preds))
	for i, p := range preds {
		if values[i], err = mcts.CheckedValue(p, states[i].ActionSpace()); err != nil {
			return nil, nil, err
		}
	}
	return preds, values, nil
}

// MaskPolicy zeroes illegal moves and renormalizes. The policy must have one
// finite entry per cell.
func MaskPolicy(state *game.GameState, policy []float32) ([]float32, error) {
	out := make([]float32, state.ActionSpace())
	if len(policy) != len(out) {
		return nil, fmt.Errorf("%w: policy length %d, want %d", mcts.ErrMalformedPrediction, len(policy), len(out))
	}
	legal := state.LegalMoves()
	if len(legal) == 0 {
		return out, nil
	}

	var sum float32
	for _, m := range legal {
		p := policy[m]
		if math.IsNaN(float64(p)) || math.IsInf(float64(p), 0) {
			return nil, fmt.Errorf("%w: policy[%d] = %v", mcts.ErrMalformedPrediction, m, p)
		}
		if p > 0 {
			out[m] = p
			sum += p
		}
	}
	if sum <= 0 {
		u := 1 / float32(len(legal))
		for _, m := range legal {
			out[m] = u
		}
		return out, nil
	}
	for _, m := range legal {
		out[m] /= sum
	}
	return out, nil
}
