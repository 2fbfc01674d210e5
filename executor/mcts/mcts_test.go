package mcts

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/brensch/gomokuzero/game"
	"github.com/stretchr/testify/require"
)

// mockPredictor returns a fixed value for every state and records the size
// of each batch it is asked for.
type mockPredictor struct {
	value   float32
	batches []int
}

func (m *mockPredictor) Predict(_ context.Context, states []*game.GameState) ([]Prediction, error) {
	m.batches = append(m.batches, len(states))
	out := make([]Prediction, len(states))
	for i, s := range states {
		policy := make([]float32, s.ActionSpace())
		for j := range policy {
			policy[j] = 1 / float32(len(policy))
		}
		out[i] = Prediction{Policy: policy, Value: m.value}
	}
	return out, nil
}

func TestExpand_OneChildPerLegalMoveInOneBatch(t *testing.T) {
	s := game.New(game.DefaultSize)
	require.True(t, s.PlayAt(7, 7))
	client := &mockPredictor{value: 0.25}
	tree := NewTree(s, client, DefaultConfig())

	expanded, err := tree.Expand(context.Background(), tree.Root())
	require.NoError(t, err)
	require.True(t, expanded)

	root := tree.Node(tree.Root())
	require.True(t, root.IsExpanded)
	require.Len(t, root.Children, len(s.LegalMoves()))
	require.Equal(t, []int{len(s.LegalMoves())}, client.batches, "priors must come from one batched call")

	for i, cid := range root.Children {
		c := tree.Node(cid)
		require.Equal(t, tree.Root(), c.Parent)
		require.Equal(t, s.LegalMoves()[i], c.Move)
		require.Equal(t, float32(0.25), c.Prior)
		require.Empty(t, c.State.History(), "child history must be truncated")
		require.Equal(t, 2, c.State.MoveCount())
	}

	before := tree.Len()
	expanded, err = tree.Expand(context.Background(), tree.Root())
	require.NoError(t, err)
	require.False(t, expanded, "second expand is a no-op")
	require.Equal(t, before, tree.Len())
	require.Len(t, tree.Node(tree.Root()).Children, len(s.LegalMoves()))
	require.Len(t, client.batches, 1)
}

func TestBackup_FreshlyExpandedChildNegatesAtRoot(t *testing.T) {
	s := game.New(game.DefaultSize)
	require.True(t, s.PlayAt(7, 7))
	client := &mockPredictor{value: 0.4}
	tree := NewTree(s, client, DefaultConfig())
	ctx := context.Background()

	_, err := tree.Expand(ctx, tree.Root())
	require.NoError(t, err)
	child := tree.Node(tree.Root()).Children[0]
	_, err = tree.Expand(ctx, child)
	require.NoError(t, err)

	require.Equal(t, 0, tree.Node(tree.Root()).VisitCount)
	require.NoError(t, tree.Backup(ctx, child))

	root := tree.Node(tree.Root())
	require.Equal(t, 1, root.VisitCount)
	require.InDelta(t, -0.4, root.ValueSum, 1e-6)
	c := tree.Node(child)
	require.Equal(t, 1, c.VisitCount)
	require.InDelta(t, 0.4, c.ValueSum, 1e-6)
}

func TestPropagate_AlternatesSignWithDepth(t *testing.T) {
	s := game.New(9)
	tree := NewTree(s, &mockPredictor{}, DefaultConfig())
	ctx := context.Background()

	path := []NodeID{tree.Root()}
	for d := 0; d < 4; d++ {
		_, err := tree.Expand(ctx, path[len(path)-1])
		require.NoError(t, err)
		path = append(path, tree.Node(path[len(path)-1]).Children[d])
	}

	type snap struct {
		visits int
		sum    float32
	}
	before := make([]snap, len(path))
	for i, id := range path {
		before[i] = snap{tree.Node(id).VisitCount, tree.Node(id).ValueSum}
	}

	const v = float32(0.5)
	leaf := len(path) - 1
	tree.Propagate(path[leaf], v)

	for i, id := range path {
		n := tree.Node(id)
		require.Equal(t, before[i].visits+1, n.VisitCount, "depth %d", i)
		want := v
		if (leaf-i)%2 == 1 {
			want = -v
		}
		require.InDelta(t, want, n.ValueSum-before[i].sum, 1e-6, "depth %d", i)
	}
}

func TestSelect_UnvisitedParentPicksFirstChild(t *testing.T) {
	s := game.New(7)
	tree := NewTree(s, &mockPredictor{}, DefaultConfig())
	_, err := tree.Expand(context.Background(), tree.Root())
	require.NoError(t, err)

	require.Equal(t, 0, tree.Node(tree.Root()).VisitCount)
	got := tree.Select()
	require.Equal(t, tree.Node(tree.Root()).Children[0], got)
}

func TestSelect_StopsAtUnexpandedNode(t *testing.T) {
	s := game.New(7)
	tree := NewTree(s, &mockPredictor{}, DefaultConfig())
	require.Equal(t, tree.Root(), tree.Select(), "fresh root is the leaf")
}

func TestSearch_FindsImmediateWin(t *testing.T) {
	s := game.New(9)
	// Black: (4,0)..(4,3). White scattered. Black to move wins at (4,4).
	black := []game.Point{{Row: 4, Col: 0}, {Row: 4, Col: 1}, {Row: 4, Col: 2}, {Row: 4, Col: 3}}
	white := []game.Point{{Row: 0, Col: 8}, {Row: 8, Col: 8}, {Row: 0, Col: 0}, {Row: 8, Col: 0}}
	for i := range black {
		require.True(t, s.PlayAt(black[i].Row, black[i].Col))
		require.True(t, s.PlayAt(white[i].Row, white[i].Col))
	}
	require.Equal(t, game.Black, s.ToMove())

	tree := NewTree(s, &mockPredictor{value: 0}, DefaultConfig())
	require.NoError(t, tree.Search(context.Background(), 40))

	best, ok := tree.BestMove()
	require.True(t, ok)
	require.Equal(t, s.MoveOf(4, 4), best, "root children: %+v", tree.RootChildren())
	require.Equal(t, 40, tree.Node(tree.Root()).VisitCount)
}

func TestSearch_RootVisitsEqualSimulations(t *testing.T) {
	tree := NewTree(game.New(game.DefaultSize), &mockPredictor{value: 0.1}, DefaultConfig())
	require.NoError(t, tree.Search(context.Background(), 25))

	root := tree.Node(tree.Root())
	require.Equal(t, 25, root.VisitCount)
	total := 0
	for _, c := range root.Children {
		total += tree.Node(c).VisitCount
	}
	require.Equal(t, 24, total, "first round only visits the root")
}

func TestSearch_CancelledBeforeFirstRound(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tree := NewTree(game.New(7), &mockPredictor{}, DefaultConfig())

	err := tree.Search(ctx, 10)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, tree.Len())
	require.Equal(t, 0, tree.Node(tree.Root()).VisitCount)
}

func TestExpand_MalformedPredictionLeavesNodeUnexpanded(t *testing.T) {
	tests := []struct {
		name   string
		client Predictor
	}{
		{"short batch", PredictorFunc(func(_ context.Context, states []*game.GameState) ([]Prediction, error) {
			return make([]Prediction, len(states)-1), nil
		})},
		{"wrong policy length", PredictorFunc(func(_ context.Context, states []*game.GameState) ([]Prediction, error) {
			out := make([]Prediction, len(states))
			for i := range out {
				out[i].Policy = []float32{1}
			}
			return out, nil
		})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := NewTree(game.New(7), tt.client, DefaultConfig())
			expanded, err := tree.Expand(context.Background(), tree.Root())
			require.ErrorIs(t, err, ErrMalformedPrediction)
			require.False(t, expanded)
			require.False(t, tree.Node(tree.Root()).IsExpanded)
			require.Equal(t, 1, tree.Len())
		})
	}
}

func TestSearch_PredictorErrorIsReturned(t *testing.T) {
	boom := errors.New("boom")
	client := PredictorFunc(func(context.Context, []*game.GameState) ([]Prediction, error) {
		return nil, boom
	})
	tree := NewTree(game.New(7), client, DefaultConfig())
	require.ErrorIs(t, tree.Search(context.Background(), 3), boom)
}

func TestScores_UnexpandedMovesAreStronglyNegative(t *testing.T) {
	s := game.New(7)
	require.True(t, s.PlayAt(3, 3))
	tree := NewTree(s, &mockPredictor{value: 0.2}, DefaultConfig())
	require.NoError(t, tree.Search(context.Background(), 10))

	scores := tree.Scores()
	require.Len(t, scores, 49)
	require.Equal(t, UnexpandedScore, scores[s.MoveOf(3, 3)], "occupied cell")
	for _, cid := range tree.Node(tree.Root()).Children {
		c := tree.Node(cid)
		require.Equal(t, MoveScore(c), scores[c.Move])
		require.Greater(t, scores[c.Move], UnexpandedScore)
	}
}

func TestAdvance_ReleasesSiblingsAndKeepsSubtree(t *testing.T) {
	s := game.New(7)
	tree := NewTree(s, &mockPredictor{value: 0.1}, DefaultConfig())
	require.NoError(t, tree.Search(context.Background(), 60))

	best, ok := tree.BestMove()
	require.True(t, ok)
	cid := tree.ChildFor(tree.Root(), best)
	require.NotEqual(t, NoNode, cid)
	keptVisits := tree.Node(cid).VisitCount
	keptSum := tree.Node(cid).ValueSum
	keptSize := tree.subtreeSize(cid)
	require.Less(t, keptSize, tree.Len())

	require.NoError(t, tree.Advance(best))

	require.Equal(t, keptSize, tree.Len())
	root := tree.Node(tree.Root())
	require.Equal(t, NoNode, root.Parent)
	require.Equal(t, keptVisits, root.VisitCount)
	require.Equal(t, keptSum, root.ValueSum)
	require.Equal(t, 1, root.State.MoveCount())
	for i := 1; i < tree.Len(); i++ {
		n := tree.Node(NodeID(i))
		require.NotEqual(t, NoNode, n.Parent)
		require.Contains(t, tree.Node(n.Parent).Children, NodeID(i))
	}
}

func TestAdvance_UnexpandedRootRestarts(t *testing.T) {
	s := game.New(7)
	tree := NewTree(s, &mockPredictor{}, DefaultConfig())

	require.NoError(t, tree.Advance(s.MoveOf(2, 2)))
	require.Equal(t, 1, tree.Len())
	require.Equal(t, game.Black, tree.State().At(2, 2))
	require.Equal(t, game.White, tree.State().ToMove())

	err := tree.Advance(s.MoveOf(2, 2))
	require.ErrorIs(t, err, ErrIllegalMove)
}

func TestTerminalValue(t *testing.T) {
	s := game.New(7)
	_, ok := TerminalValue(s)
	require.False(t, ok)

	for i := 0; i < 4; i++ {
		require.True(t, s.PlayAt(0, i))
		require.True(t, s.PlayAt(6, i))
	}
	require.True(t, s.PlayAt(0, 4))
	v, ok := TerminalValue(s)
	require.True(t, ok)
	require.Equal(t, float32(-1), v, "white to move has lost")
}

func TestCheckedValue(t *testing.T) {
	v, err := CheckedValue(Prediction{Value: 1.0001}, 25)
	require.NoError(t, err)
	require.Equal(t, float32(1), v)

	v, err = CheckedValue(Prediction{Policy: make([]float32, 25), Value: -0.25}, 25)
	require.NoError(t, err)
	require.Equal(t, float32(-0.25), v)

	for _, p := range []Prediction{
		{Value: float32(math.NaN())},
		{Value: float32(math.Inf(-1))},
		{Policy: make([]float32, 3)},
	} {
		_, err := CheckedValue(p, 25)
		require.ErrorIs(t, err, ErrMalformedPrediction)
	}
}

func TestStats_Depth(t *testing.T) {
	tree := NewTree(game.New(7), &mockPredictor{}, DefaultConfig())
	require.NoError(t, tree.Search(context.Background(), 30))
	st := tree.Stats()
	require.Equal(t, tree.Len(), st.Nodes)
	require.Equal(t, 30, st.RootVisits)
	require.GreaterOrEqual(t, st.MaxDepth, 1)
}

func TestSoftmax(t *testing.T) {
	got := Softmax([]float32{0, 0, UnexpandedScore, float32(math.Log(2))})
	require.InDelta(t, 0.25, got[0], 1e-6)
	require.InDelta(t, 0.25, got[1], 1e-6)
	require.Zero(t, got[2])
	require.InDelta(t, 0.5, got[3], 1e-6)
	require.Nil(t, Softmax(nil))
}

func TestDistribution_SumsToOne(t *testing.T) {
	tree := NewTree(game.New(7), &mockPredictor{value: 0.3}, DefaultConfig())
	require.NoError(t, tree.Search(context.Background(), 15))
	dist := tree.Distribution()
	var total float32
	for _, p := range dist {
		require.GreaterOrEqual(t, p, float32(0))
		total += p
	}
	require.InDelta(t, 1, total, 1e-5)
}

func TestSnapshot(t *testing.T) {
	tree := NewTree(game.New(7), &mockPredictor{}, DefaultConfig())
	require.NoError(t, tree.Search(context.Background(), 20))

	snap := tree.Snapshot(1, 1)
	require.Equal(t, 20, snap.VisitCount)
	require.Equal(t, -1, snap.Row)
	require.Len(t, snap.Children, 19, "one visited child per round after the first")
	for _, c := range snap.Children {
		require.Empty(t, c.Children)
		require.GreaterOrEqual(t, c.Row, 0)
	}
}

func BenchmarkSearch(b *testing.B) {
	client := &mockPredictor{value: 0}
	state := game.New(game.DefaultSize)
	state.PlayAt(7, 7)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tree := NewTree(state, client, DefaultConfig())
		if err := tree.Search(context.Background(), 200); err != nil {
			b.Fatalf("Search failed: %v", err)
		}
	}
}
