package selfplay

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/brensch/gomokuzero/executor/events"
	"github.com/brensch/gomokuzero/executor/mcts"
	"github.com/brensch/gomokuzero/game"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
)

const DefaultSimulations = 400

var ErrNoMove = errors.New("search produced no move")

// Example is one training tuple: the position seen by the player to move,
// the target move distribution, and the final result.
type Example struct {
	State  []int8      // perspective state, own stones +1
	Policy []float32   // softmax of the root scores, length N*N
	Player game.Player // player to move in State
	Move   game.Move   // move actually played
	// Outcome is the winner's colour (+1 black, -1 white, 0 draw). It is
	// the same for every example of a game.
	Outcome float32
	// Value is Outcome seen by Player: +1 if Player went on to win.
	Value float32
}

// TurnTrace captures the search at one turn when Options.Trace is set.
type TurnTrace struct {
	Turn     int                 `json:"turn"`
	Move     game.Move           `json:"move"`
	Player   game.Player         `json:"player"`
	Board    []int8              `json:"board"`
	Children []mcts.ChildSummary `json:"children"`
	Tree     *mcts.DebugNode     `json:"tree,omitempty"`
}

// GameRecord is the output of one self-play game.
type GameRecord struct {
	GameID    string
	Source    string
	BoardSize int
	Examples  []Example
	Moves     []game.Move
	Winner    game.Player
	// Complete is false when the game was interrupted; such records carry
	// no outcome and must not be used for training.
	Complete bool
	Started  time.Time
	Duration time.Duration
	Trace    []TurnTrace
}

// Step is passed to Options.OnStep after every committed move.
type Step struct {
	GameID string
	Turn   int
	Move   game.Move
	Player game.Player
	Tree   mcts.Stats
}

type Options struct {
	SimulationsPerStep int
	Cpuct              float32
	Bus                events.Publisher
	GameID             string
	Source             string
	// SampleMoves is the number of opening moves drawn from the search
	// distribution instead of taking the best move.
	SampleMoves int
	Rng         *rand.Rand
	Seed        int64
	OnStep      func(Step)

	Trace          bool
	TraceDepth     int
	TraceMinVisits int
}

func (o Options) withDefaults() Options {
	if o.SimulationsPerStep <= 0 {
		o.SimulationsPerStep = DefaultSimulations
	}
	if o.Cpuct <= 0 {
		o.Cpuct = mcts.DefaultConfig().Cpuct
	}
	if o.GameID == "" {
		o.GameID = uuid.NewString()
	}
	if o.Source == "" {
		o.Source = "selfplay"
	}
	if o.Rng == nil {
		seed := o.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		o.Rng = rand.New(rand.NewSource(seed))
	}
	if o.TraceDepth <= 0 {
		o.TraceDepth = 2
	}
	return o
}

// PlayGame plays one game against itself from initial (nil means an empty
// board of DefaultSize) and returns its training record.
//
// Cancellation is only observed after a move has been committed. In that
// case the partial record is returned with Complete=false together with
// the context error. Any predictor failure discards the game.
func PlayGame(ctx context.Context, initial *game.GameState, predictor mcts.Predictor, opts Options) (*GameRecord, error) {
	if predictor == nil {
		return nil, mcts.ErrNoPredictor
	}
	opts = opts.withDefaults()
	if initial == nil {
		initial = game.New(game.DefaultSize)
	}

	lg := zerolog.Ctx(ctx).With().Str("game_id", opts.GameID).Logger()

	state := initial.Clone()
	rec := &GameRecord{
		GameID:    opts.GameID,
		Source:    opts.Source,
		BoardSize: state.Size(),
		Examples:  make([]Example, 0, len(state.LegalMoves())),
		Started:   time.Now(),
	}
	publish(opts.Bus, events.Snapshot(events.GameReset, opts.GameID, state))

	// Rounds are never interrupted, so the tree gets a context that is
	// not cancelled; ctx itself is checked between moves.
	searchCtx := context.WithoutCancel(ctx)
	tree := mcts.NewTree(state, predictor, mcts.Config{Cpuct: opts.Cpuct})

	for !state.IsTerminal() {
		if err := tree.Search(searchCtx, opts.SimulationsPerStep); err != nil {
			return nil, fmt.Errorf("game %s turn %d: %w", opts.GameID, state.MoveCount(), err)
		}

		dist := tree.Distribution()
		move, ok := chooseMove(tree, dist, len(rec.Moves) < opts.SampleMoves, opts.Rng)
		if !ok {
			return nil, fmt.Errorf("game %s turn %d: %w", opts.GameID, state.MoveCount(), ErrNoMove)
		}

		mover := state.ToMove()
		rec.Examples = append(rec.Examples, Example{
			State:  state.PerspectiveState(),
			Policy: dist,
			Player: mover,
			Move:   move,
		})
		if opts.Trace {
			rec.Trace = append(rec.Trace, TurnTrace{
				Turn:     state.MoveCount(),
				Move:     move,
				Player:   mover,
				Board:    state.PerspectiveFor(game.Black),
				Children: tree.RootChildren(),
				Tree:     tree.Snapshot(opts.TraceDepth, opts.TraceMinVisits),
			})
		}

		if !state.Play(move) {
			return nil, fmt.Errorf("game %s: %w: %d", opts.GameID, mcts.ErrIllegalMove, move)
		}
		if err := tree.Advance(move); err != nil {
			return nil, fmt.Errorf("game %s: %w", opts.GameID, err)
		}
		rec.Moves = append(rec.Moves, move)

		publish(opts.Bus, events.Snapshot(events.MoveCommitted, opts.GameID, state))
		if opts.OnStep != nil {
			opts.OnStep(Step{GameID: opts.GameID, Turn: state.MoveCount(), Move: move, Player: mover, Tree: tree.Stats()})
		}
		lg.Trace().Int("turn", state.MoveCount()).Int("move", int(move)).Stringer("player", mover).Msg("move committed")

		if err := ctx.Err(); err != nil && !state.IsTerminal() {
			rec.Duration = time.Since(rec.Started)
			return rec, err
		}
	}

	winner, _ := state.Winner()
	rec.Winner = winner
	rec.Complete = true
	rec.Duration = time.Since(rec.Started)
	outcome := float32(winner)
	for i := range rec.Examples {
		rec.Examples[i].Outcome = outcome
		rec.Examples[i].Value = outcome * float32(rec.Examples[i].Player)
	}

	publish(opts.Bus, events.Snapshot(events.GameFinished, opts.GameID, state))
	lg.Debug().
		Int("moves", len(rec.Moves)).
		Stringer("winner", winner).
		Dur("duration", rec.Duration).
		Msg("game finished")
	return rec, nil
}

func publish(bus events.Publisher, ev events.Event) {
	if bus != nil {
		bus.Publish(ev)
	}
}

func chooseMove(tree *mcts.Tree, dist []float32, sample bool, rng *rand.Rand) (game.Move, bool) {
	if sample {
		if m, ok := sampleMove(rng, dist); ok && tree.State().IsLegal(m) {
			return m, true
		}
	}
	return tree.BestMove()
}

// sampleMove draws an index from dist. It reports false if dist has no
// mass.
func sampleMove(rng *rand.Rand, dist []float32) (game.Move, bool) {
	if len(dist) == 0 {
		return game.NoMove, false
	}
	cum := make([]float64, len(dist))
	for i, p := range dist {
		cum[i] = float64(p)
	}
	floats.CumSum(cum, cum)
	total := cum[len(cum)-1]
	if total <= 0 {
		return game.NoMove, false
	}
	r := rng.Float64() * total
	for i, c := range cum {
		if r < c && dist[i] > 0 {
			return game.Move(i), true
		}
	}
	// Rounding can leave r just above the last cumulative value.
	for i := len(dist) - 1; i >= 0; i-- {
		if dist[i] > 0 {
			return game.Move(i), true
		}
	}
	return game.NoMove, false
}
