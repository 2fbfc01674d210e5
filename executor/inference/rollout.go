package inference

import (
	"context"
	"math/rand"
	"sync"

	"github.com/brensch/gomokuzero/executor/mcts"
	"github.com/brensch/gomokuzero/game"
)

const DefaultPlayouts = 8

// Rollout estimates a state's value by playing random games to the end.
// The policy is uniform over legal moves. It lets self-play run before any
// model exists.
type Rollout struct {
	Playouts int

	mu  sync.Mutex
	rng *rand.Rand
}

func NewRollout(playouts int, seed int64) *Rollout {
	if playouts <= 0 {
		playouts = DefaultPlayouts
	}
	return &Rollout{Playouts: playouts, rng: rand.New(rand.NewSource(seed))}
}

func (r *Rollout) Predict(ctx context.Context, states []*game.GameState) ([]mcts.Prediction, error) {
	out := make([]mcts.Prediction, len(states))
	for i, s := range states {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = mcts.Prediction{Policy: uniformPolicy(s), Value: r.value(s)}
	}
	return out, nil
}

// value is the mean playout result for the player to move in s.
func (r *Rollout) value(s *game.GameState) float32 {
	if v, ok := mcts.TerminalValue(s); ok {
		return v
	}
	me := s.ToMove()
	var total float32
	for i := 0; i < r.Playouts; i++ {
		total += r.playout(s, me)
	}
	return total / float32(r.Playouts)
}

func (r *Rollout) playout(s *game.GameState, me game.Player) float32 {
	sim := s.Clone()
	sim.TruncateHistory()
	legal := sim.LegalMoves()

	r.mu.Lock()
	r.rng.Shuffle(len(legal), func(i, j int) { legal[i], legal[j] = legal[j], legal[i] })
	r.mu.Unlock()

	// Cells only ever fill up, so a shuffled list of the empty cells is a
	// valid random move order until the game ends.
	for _, m := range legal {
		if sim.IsTerminal() {
			break
		}
		sim.Play(m)
	}

	winner, ok := sim.Winner()
	switch {
	case !ok:
		return 0
	case winner == me:
		return 1
	default:
		return -1
	}
}
