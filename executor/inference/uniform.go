package inference

import (
	"context"

	"github.com/brensch/gomokuzero/executor/mcts"
	"github.com/brensch/gomokuzero/game"
)

// Uniform predicts a uniform policy over legal moves and a value of 0.
// It needs no model and is deterministic.
type Uniform struct{}

func (Uniform) Predict(_ context.Context, states []*game.GameState) ([]mcts.Prediction, error) {
	out := make([]mcts.Prediction, len(states))
	for i, s := range states {
		out[i] = mcts.Prediction{Policy: uniformPolicy(s)}
	}
	return out, nil
}

func uniformPolicy(s *game.GameState) []float32 {
	policy := make([]float32, s.ActionSpace())
	legal := s.LegalMoves()
	if len(legal) == 0 {
		return policy
	}
	u := 1 / float32(len(legal))
	for _, m := range legal {
		policy[m] = u
	}
	return policy
}
