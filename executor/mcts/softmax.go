package mcts

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Softmax turns raw scores into a distribution. It is stable for very
// negative entries such as UnexpandedScore, which come out as exactly 0.
func Softmax(scores []float32) []float32 {
	if len(scores) == 0 {
		return nil
	}
	x := make([]float64, len(scores))
	for i, s := range scores {
		x[i] = float64(s)
	}
	lse := floats.LogSumExp(x)
	out := make([]float32, len(scores))
	for i, v := range x {
		out[i] = float32(math.Exp(v - lse))
	}
	return out
}

// Distribution is the softmax of Scores: the move distribution recorded as
// the training target for the root position.
func (t *Tree) Distribution() []float32 {
	return Softmax(t.Scores())
}
