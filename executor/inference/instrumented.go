package inference

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/brensch/gomokuzero/executor/mcts"
	"github.com/brensch/gomokuzero/game"
)

// Instrumented wraps a Predictor and counts its traffic.
type Instrumented struct {
	Next mcts.Predictor

	calls  atomic.Int64
	states atomic.Int64
	errors atomic.Int64
	nanos  atomic.Int64
}

func (c *Instrumented) Predict(ctx context.Context, states []*game.GameState) ([]mcts.Prediction, error) {
	start := time.Now()
	out, err := c.Next.Predict(ctx, states)
	c.nanos.Add(time.Since(start).Nanoseconds())
	c.calls.Add(1)
	c.states.Add(int64(len(states)))
	if err != nil {
		c.errors.Add(1)
	}
	return out, err
}

type InstrumentedStats struct {
	Calls  int64
	States int64
	Errors int64
	AvgMs  float64
}

func (c *Instrumented) Stats() InstrumentedStats {
	st := InstrumentedStats{
		Calls:  c.calls.Load(),
		States: c.states.Load(),
		Errors: c.errors.Load(),
	}
	if st.Calls > 0 {
		st.AvgMs = float64(c.nanos.Load()) / 1e6 / float64(st.Calls)
	}
	return st
}
