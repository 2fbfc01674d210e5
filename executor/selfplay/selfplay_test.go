package selfplay

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"testing"

	"github.com/brensch/gomokuzero/executor/events"
	"github.com/brensch/gomokuzero/executor/inference"
	"github.com/brensch/gomokuzero/executor/mcts"
	"github.com/brensch/gomokuzero/game"
	"github.com/muesli/termenv"
	"github.com/stretchr/testify/require"
)

func TestPlayGame_RecordIsWellFormed(t *testing.T) {
	bus := events.NewBus()
	evs, cancel := bus.Subscribe(1024)
	defer cancel()

	steps := 0
	rec, err := PlayGame(context.Background(), game.New(5), inference.Uniform{}, Options{
		SimulationsPerStep: 8,
		Bus:                bus,
		GameID:             "g-test",
		Seed:               1,
		OnStep:             func(Step) { steps++ },
	})
	require.NoError(t, err)
	require.True(t, rec.Complete)
	require.Equal(t, "g-test", rec.GameID)
	require.Equal(t, 5, rec.BoardSize)

	require.Len(t, rec.Examples, len(rec.Moves), "one example per move played")
	require.Equal(t, len(rec.Moves), steps)

	replay := game.New(5)
	for i, ex := range rec.Examples {
		require.Equal(t, replay.PerspectiveState(), ex.State, "example %d", i)
		require.Equal(t, replay.ToMove(), ex.Player)
		require.Len(t, ex.Policy, 25)
		var total float32
		for m, p := range ex.Policy {
			if !replay.IsLegal(game.Move(m)) {
				require.Zero(t, p, "mass on illegal move %d", m)
			}
			total += p
		}
		require.InDelta(t, 1, total, 1e-4)
		require.Equal(t, rec.Examples[0].Outcome, ex.Outcome, "outcome is shared by every tuple")
		require.Equal(t, ex.Outcome*float32(ex.Player), ex.Value)
		require.True(t, replay.Play(ex.Move))
	}
	require.True(t, replay.IsTerminal())
	winner, _ := replay.Winner()
	require.Equal(t, winner, rec.Winner)
	require.Equal(t, float32(winner), rec.Examples[0].Outcome)

	var kinds []events.Kind
	for len(evs) > 0 {
		kinds = append(kinds, (<-evs).Kind)
	}
	require.Equal(t, events.GameReset, kinds[0])
	require.Equal(t, events.GameFinished, kinds[len(kinds)-1])
	require.Len(t, kinds, len(rec.Moves)+2)
}

func TestPlayGame_FinishesImmediateWin(t *testing.T) {
	s := game.New(7)
	for i := 0; i < 4; i++ {
		require.True(t, s.PlayAt(3, i))
		require.True(t, s.PlayAt(6, 6-i))
	}
	rec, err := PlayGame(context.Background(), s, inference.Uniform{}, Options{SimulationsPerStep: 60, Seed: 3})
	require.NoError(t, err)
	require.Equal(t, []game.Move{s.MoveOf(3, 4)}, rec.Moves)
	require.Equal(t, game.Black, rec.Winner)
	require.Equal(t, float32(1), rec.Examples[0].Value)
}

func TestPlayGame_SampledOpeningIsReproducible(t *testing.T) {
	play := func() []game.Move {
		rec, err := PlayGame(context.Background(), game.New(5), inference.Uniform{}, Options{
			SimulationsPerStep: 4,
			SampleMoves:        6,
			Rng:                rand.New(rand.NewSource(99)),
		})
		require.NoError(t, err)
		return rec.Moves
	}
	require.Equal(t, play(), play())
}

func TestPlayGame_MalformedPredictorDiscardsGame(t *testing.T) {
	bad := mcts.PredictorFunc(func(context.Context, []*game.GameState) ([]mcts.Prediction, error) {
		return []mcts.Prediction{}, nil
	})
	rec, err := PlayGame(context.Background(), game.New(5), bad, Options{SimulationsPerStep: 2})
	require.ErrorIs(t, err, mcts.ErrMalformedPrediction)
	require.Nil(t, rec)
}

func TestPlayGame_CancelStopsAfterCommit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rec, err := PlayGame(ctx, game.New(7), inference.Uniform{}, Options{
		SimulationsPerStep: 3,
		OnStep:             func(Step) { cancel() },
	})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, rec)
	require.False(t, rec.Complete)
	require.Len(t, rec.Moves, 1, "the move in progress is committed before stopping")
	require.Empty(t, NewBatch(rec).Outcomes)
}

func TestPlayGame_Trace(t *testing.T) {
	rec, err := PlayGame(context.Background(), game.New(5), inference.Uniform{}, Options{
		SimulationsPerStep: 6,
		Trace:              true,
		TraceDepth:         1,
	})
	require.NoError(t, err)
	require.Len(t, rec.Trace, len(rec.Moves))
	require.Equal(t, 6, rec.Trace[0].Tree.VisitCount)
	require.NotEmpty(t, rec.Trace[0].Children)
}

func TestPlayN(t *testing.T) {
	out := make(chan *GameRecord, 4)
	var mu sync.Mutex
	ids := map[string]bool{}

	err := PlayN(context.Background(), 4, 2, func() *game.GameState { return game.New(5) }, inference.Uniform{}, Options{SimulationsPerStep: 4, Seed: 5}, out)
	require.NoError(t, err)
	close(out)

	n := 0
	for rec := range out {
		n++
		require.True(t, rec.Complete)
		mu.Lock()
		require.False(t, ids[rec.GameID], "game ids are unique")
		ids[rec.GameID] = true
		mu.Unlock()
	}
	require.Equal(t, 4, n)
}

func TestNewBatchAndRows(t *testing.T) {
	rec, err := PlayGame(context.Background(), game.New(5), inference.Uniform{}, Options{SimulationsPerStep: 4, Seed: 2})
	require.NoError(t, err)

	b := NewBatch(rec, nil)
	require.Equal(t, len(rec.Examples), b.Len())
	require.Len(t, b.States, b.Len())
	require.Len(t, b.Policies, b.Len())
	require.Len(t, b.States[0], 25)
	for i, ex := range rec.Examples {
		require.Equal(t, ex.Value, b.Outcomes[i])
	}

	rows := rec.Rows("models/latest.onnx")
	require.Len(t, rows, len(rec.Examples))
	require.Equal(t, int32(5), rows[0].BoardSize)
	require.Equal(t, "models/latest.onnx", rows[0].ModelPath)
	require.Equal(t, int32(1), rows[0].Player)
	require.Equal(t, "selfplay", rows[0].Source)
}

func TestSampleMove(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	dist := []float32{0, 0, 1, 0}
	for i := 0; i < 10; i++ {
		m, ok := sampleMove(rng, dist)
		require.True(t, ok)
		require.Equal(t, game.Move(2), m)
	}
	_, ok := sampleMove(rng, []float32{0, 0})
	require.False(t, ok)
}

func TestRenderBoard(t *testing.T) {
	s := game.New(5)
	require.True(t, s.PlayAt(1, 1))
	require.True(t, s.PlayAt(2, 2))
	out := RenderBoard(s, termenv.Ascii)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 6)
	require.Contains(t, lines[2], " X ")
	require.Contains(t, lines[3], "[O]")
}
