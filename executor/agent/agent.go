// Package agent contains players that pick moves for a single side, for
// evaluation matches and interactive play.
package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/brensch/gomokuzero/executor/inference"
	"github.com/brensch/gomokuzero/executor/mcts"
	"github.com/brensch/gomokuzero/game"
)

var ErrGameOver = errors.New("game is over")

// Player chooses a move for the side to move in state.
type Player interface {
	Play(ctx context.Context, state *game.GameState) (game.Move, error)
}

// PolicyPlayer plays the most likely legal move of the raw policy, without
// search.
type PolicyPlayer struct {
	Adapter inference.Adapter
}

func NewPolicyPlayer(p mcts.Predictor) *PolicyPlayer {
	return &PolicyPlayer{Adapter: inference.Adapter{Predictor: p}}
}

func (p *PolicyPlayer) Play(ctx context.Context, state *game.GameState) (game.Move, error) {
	if state.IsTerminal() {
		return game.NoMove, ErrGameOver
	}
	policy, err := p.Adapter.Policy(ctx, state)
	if err != nil {
		return game.NoMove, err
	}
	best := game.NoMove
	var bestP float32
	for _, m := range state.LegalMoves() {
		if best == game.NoMove || policy[m] > bestP {
			best, bestP = m, policy[m]
		}
	}
	return best, nil
}

// SearchPlayer runs MCTS and keeps its tree between moves. Opponent moves
// must be reported with Observe so the tree can follow the game.
type SearchPlayer struct {
	Predictor   mcts.Predictor
	Config      mcts.Config
	Simulations int

	tree *mcts.Tree
	last mcts.Stats
}

func NewSearchPlayer(p mcts.Predictor, cfg mcts.Config, simulations int) *SearchPlayer {
	return &SearchPlayer{Predictor: p, Config: cfg, Simulations: simulations}
}

// Play searches from state, commits the best move in the tree and returns
// it. The caller applies the move to its own state. If ctx has a deadline,
// the search stops there and plays the best move found so far.
func (p *SearchPlayer) Play(ctx context.Context, state *game.GameState) (game.Move, error) {
	if state.IsTerminal() {
		return game.NoMove, ErrGameOver
	}
	p.sync(state)
	if err := p.tree.Search(ctx, p.Simulations); err != nil {
		// A deadline ends the search early; whatever was searched still
		// counts as long as the root was expanded.
		if !errors.Is(err, context.DeadlineExceeded) || p.tree.Stats().RootVisits == 0 {
			return game.NoMove, err
		}
	}
	p.last = p.tree.Stats()
	m, ok := p.tree.BestMove()
	if !ok {
		return game.NoMove, fmt.Errorf("no move from %d simulations", p.Simulations)
	}
	if err := p.tree.Advance(m); err != nil {
		return game.NoMove, err
	}
	return m, nil
}

// Observe advances the tree past a move made by someone else.
func (p *SearchPlayer) Observe(m game.Move) error {
	if p.tree == nil {
		return nil
	}
	if err := p.tree.Advance(m); err != nil {
		p.tree = nil
		return err
	}
	return nil
}

// Reset drops the tree, e.g. when a new game starts.
func (p *SearchPlayer) Reset() { p.tree = nil }

// LastSearch describes the tree the last played move was chosen from.
func (p *SearchPlayer) LastSearch() mcts.Stats { return p.last }

// Tree exposes the current tree for inspection. It may be nil.
func (p *SearchPlayer) Tree() *mcts.Tree { return p.tree }

// sync reuses the tree if it is rooted at state, otherwise starts over.
func (p *SearchPlayer) sync(state *game.GameState) {
	if p.tree != nil && samePosition(p.tree.State(), state) {
		return
	}
	p.tree = mcts.NewTree(state, p.Predictor, p.Config)
}

func samePosition(a, b *game.GameState) bool {
	if a.Size() != b.Size() || a.ToMove() != b.ToMove() || a.MoveCount() != b.MoveCount() {
		return false
	}
	ac, bc := a.Cells(), b.Cells()
	for i := range ac {
		if ac[i] != bc[i] {
			return false
		}
	}
	return true
}
