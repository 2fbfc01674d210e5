package mcts

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/brensch/gomokuzero/game"
)

var (
	// ErrMalformedPrediction is returned when the predictor's output does not
	// match the batch it was given. The current game must be discarded.
	ErrMalformedPrediction = errors.New("malformed prediction")
	ErrIllegalMove         = errors.New("illegal move")
	ErrNoPredictor         = errors.New("no predictor configured")
)

// NodeID indexes a node in the tree's arena.
type NodeID int32

// NoNode is the parent of the root.
const NoNode NodeID = -1

// Node represents a state in the MCTS tree.
//
// ValueSum accumulates backed-up values from the perspective of the player
// to move in State. Prior is the predictor's value for State from that same
// perspective; it is set once at creation.
type Node struct {
	Parent     NodeID
	Move       game.Move
	State      *game.GameState
	Children   []NodeID
	VisitCount int
	ValueSum   float32
	Prior      float32
	IsExpanded bool
}

// Q is the mean backed-up value for the player to move at this node.
func (n *Node) Q() float32 {
	if n.VisitCount == 0 {
		return 0
	}
	return n.ValueSum / float32(n.VisitCount)
}

// Config holds MCTS configuration
type Config struct {
	Cpuct float32
}

func DefaultConfig() Config {
	return Config{Cpuct: 1.0}
}

// Prediction is the network output for one state. Policy is a distribution
// over the row-major action space (it may be nil for value-only
// predictors); Value is in [-1, 1] for the state's player to move.
type Prediction struct {
	Policy []float32
	Value  float32
}

// Predictor defines the interface for inference. A single call evaluates a
// whole batch and must return one Prediction per state, in order. Policy is
// either nil (value-only evaluators) or N² long. Value must be finite and is
// clamped to [-1, 1], which absorbs rounding at the edges of a tanh head.
// Implementations are shared between games and must be safe for
// concurrent use.
type Predictor interface {
	Predict(ctx context.Context, states []*game.GameState) ([]Prediction, error)
}

// CheckedValue validates p for a state with actionSpace moves and returns
// its value clamped to [-1, 1].
func CheckedValue(p Prediction, actionSpace int) (float32, error) {
	if p.Policy != nil && len(p.Policy) != actionSpace {
		return 0, fmt.Errorf("%w: policy length %d, want %d", ErrMalformedPrediction, len(p.Policy), actionSpace)
	}
	v := float64(p.Value)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: value %v", ErrMalformedPrediction, p.Value)
	}
	return float32(math.Max(-1, math.Min(1, v))), nil
}

// PredictorFunc adapts a function to Predictor.
type PredictorFunc func(ctx context.Context, states []*game.GameState) ([]Prediction, error)

func (f PredictorFunc) Predict(ctx context.Context, states []*game.GameState) ([]Prediction, error) {
	return f(ctx, states)
}

// ChildSummary is a compact representation of a child at the root level
type ChildSummary struct {
	Move       int     `json:"move"`
	VisitCount int     `json:"n"`
	ValueSum   float32 `json:"value_sum"`
	Score      float32 `json:"score"`
	Prior      float32 `json:"p"`
}
