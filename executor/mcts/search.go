package mcts

import (
	"context"
	"fmt"
	"math"

	"github.com/brensch/gomokuzero/game"
)

// UnexpandedScore is the raw score given to moves that were never expanded
// under the root. It vanishes after a softmax.
const UnexpandedScore = float32(-1e9)

// Tree is a single search tree. Nodes live in one arena and refer to each
// other by index. A Tree is not safe for concurrent use: selection depends
// on the visit counts left by the previous backup.
type Tree struct {
	cfg    Config
	client Predictor
	nodes  []Node
	root   NodeID
}

// NewTree creates a tree rooted at a copy of state.
func NewTree(state *game.GameState, client Predictor, cfg Config) *Tree {
	t := &Tree{cfg: cfg, client: client}
	t.reset(state.Clone())
	return t
}

func (t *Tree) reset(state *game.GameState) {
	state.TruncateHistory()
	t.nodes = []Node{{Parent: NoNode, Move: game.NoMove, State: state}}
	t.root = 0
}

// Root returns the id of the root node.
func (t *Tree) Root() NodeID { return t.root }

// Node returns the node with the given id. The pointer is only valid until
// the next Expand or Advance.
func (t *Tree) Node(id NodeID) *Node { return &t.nodes[id] }

// Len is the number of nodes held by the tree.
func (t *Tree) Len() int { return len(t.nodes) }

// State is the position at the root. Callers must not mutate it.
func (t *Tree) State() *game.GameState { return t.nodes[t.root].State }

// ChildFor finds the child of id reached by m, or NoNode.
func (t *Tree) ChildFor(id NodeID, m game.Move) NodeID {
	for _, c := range t.nodes[id].Children {
		if t.nodes[c].Move == m {
			return c
		}
	}
	return NoNode
}

// Select descends from the root to the first unexpanded node (or a
// terminal node, which expands to no children).
func (t *Tree) Select() NodeID {
	id := t.root
	for {
		n := &t.nodes[id]
		if !n.IsExpanded || len(n.Children) == 0 {
			return id
		}
		id = t.bestChild(n)
	}
}

// bestChild picks the child maximising
//
//	Q + Cpuct * P * sqrt(2 ln N / (n + 1))
//
// with Q and P seen by the player choosing the move. Before the parent has
// any visits every child scores +Inf, so the first one wins.
func (t *Tree) bestChild(parent *Node) NodeID {
	lnN := 0.0
	if parent.VisitCount > 0 {
		lnN = math.Log(float64(parent.VisitCount))
	}

	best := NoNode
	bestScore := math.Inf(-1)
	for _, cid := range parent.Children {
		score := math.Inf(1)
		if parent.VisitCount > 0 {
			score = t.uct(&t.nodes[cid], lnN)
		}
		if best == NoNode || score > bestScore {
			best = cid
			bestScore = score
		}
	}
	return best
}

func (t *Tree) uct(child *Node, lnParentVisits float64) float64 {
	q := 0.0
	if child.VisitCount > 0 {
		q = -float64(child.ValueSum) / float64(child.VisitCount)
	}
	// Prior is from the child's side to move; flip it and map to [0, 1].
	p := (1 - float64(child.Prior)) / 2
	u := float64(t.cfg.Cpuct) * p * math.Sqrt(2*lnParentVisits/float64(child.VisitCount+1))
	return q + u
}

// Expand creates one child per legal move of id, evaluating all of them in
// a single predictor call. It returns false without touching the tree if
// id is already expanded.
func (t *Tree) Expand(ctx context.Context, id NodeID) (bool, error) {
	n := &t.nodes[id]
	if n.IsExpanded {
		return false, nil
	}

	legal := n.State.LegalMoves()
	if len(legal) == 0 {
		n.IsExpanded = true
		return true, nil
	}

	states := make([]*game.GameState, len(legal))
	priors := make([]float32, len(legal))
	pending := make([]*game.GameState, 0, len(legal))
	pendingIdx := make([]int, 0, len(legal))
	for i, m := range legal {
		st := n.State.Clone()
		st.Play(m)
		st.TruncateHistory()
		states[i] = st
		if v, ok := TerminalValue(st); ok {
			priors[i] = v
			continue
		}
		pending = append(pending, st)
		pendingIdx = append(pendingIdx, i)
	}

	if len(pending) > 0 {
		values, err := t.values(ctx, pending)
		if err != nil {
			return false, fmt.Errorf("expand node %d: %w", id, err)
		}
		for j, i := range pendingIdx {
			priors[i] = values[j]
		}
	}

	first := NodeID(len(t.nodes))
	children := make([]NodeID, len(legal))
	for i, m := range legal {
		t.nodes = append(t.nodes, Node{
			Parent: id,
			Move:   m,
			State:  states[i],
			Prior:  priors[i],
		})
		children[i] = first + NodeID(i)
	}

	n = &t.nodes[id]
	n.Children = children
	n.IsExpanded = true
	return true, nil
}

// Backup evaluates the leaf and propagates the value to the root.
func (t *Tree) Backup(ctx context.Context, id NodeID) error {
	v, ok := TerminalValue(t.nodes[id].State)
	if !ok {
		values, err := t.values(ctx, []*game.GameState{t.nodes[id].State})
		if err != nil {
			return fmt.Errorf("evaluate node %d: %w", id, err)
		}
		v = values[0]
	}
	t.Propagate(id, v)
	return nil
}

// Propagate adds v (from id's side to move) to id and every ancestor,
// flipping the sign at each hop, and counts one visit on each.
func (t *Tree) Propagate(id NodeID, v float32) {
	for id != NoNode {
		n := &t.nodes[id]
		n.VisitCount++
		n.ValueSum += v
		v = -v
		id = n.Parent
	}
}

// Simulate runs one select/expand/backup round. Once started the round is
// not cancelled, so the predictor sees a context without cancellation.
func (t *Tree) Simulate(ctx context.Context) error {
	rctx := context.WithoutCancel(ctx)
	leaf := t.Select()
	if _, err := t.Expand(rctx, leaf); err != nil {
		return err
	}
	return t.Backup(rctx, leaf)
}

// Search runs the MCTS simulations. The context is only checked between
// rounds.
func (t *Tree) Search(ctx context.Context, simulations int) error {
	if t.client == nil {
		return ErrNoPredictor
	}
	for i := 0; i < simulations; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := t.Simulate(ctx); err != nil {
			return err
		}
	}
	return nil
}

// MoveScore is the commitment score of a root child, from the perspective
// of the player choosing it.
func MoveScore(child *Node) float32 {
	return -child.ValueSum / float32(child.VisitCount+1)
}

// BestMove returns the root child with the highest MoveScore. The first
// child wins ties.
func (t *Tree) BestMove() (game.Move, bool) {
	root := &t.nodes[t.root]
	best := game.NoMove
	var bestScore float32
	for _, cid := range root.Children {
		c := &t.nodes[cid]
		s := MoveScore(c)
		if best == game.NoMove || s > bestScore {
			best = c.Move
			bestScore = s
		}
	}
	return best, best != game.NoMove
}

// Scores returns one raw score per action. Moves without an expanded root
// child get UnexpandedScore.
func (t *Tree) Scores() []float32 {
	root := &t.nodes[t.root]
	out := make([]float32, root.State.ActionSpace())
	for i := range out {
		out[i] = UnexpandedScore
	}
	for _, cid := range root.Children {
		c := &t.nodes[cid]
		out[c.Move] = MoveScore(c)
	}
	return out
}

// RootChildren summarises the root's children in move order.
func (t *Tree) RootChildren() []ChildSummary {
	root := &t.nodes[t.root]
	out := make([]ChildSummary, 0, len(root.Children))
	for _, cid := range root.Children {
		c := &t.nodes[cid]
		out = append(out, ChildSummary{
			Move:       int(c.Move),
			VisitCount: c.VisitCount,
			ValueSum:   c.ValueSum,
			Score:      MoveScore(c),
			Prior:      c.Prior,
		})
	}
	return out
}

// Advance commits m: the child reached by m becomes the root and every
// sibling subtree is released. If the root was never expanded the tree
// restarts from the resulting position.
func (t *Tree) Advance(m game.Move) error {
	root := &t.nodes[t.root]
	if !root.State.IsLegal(m) {
		return fmt.Errorf("%w: %d", ErrIllegalMove, m)
	}
	child := t.ChildFor(t.root, m)
	if child == NoNode {
		st := root.State.Clone()
		st.Play(m)
		t.reset(st)
		return nil
	}
	t.compact(child)
	return nil
}

// compact copies the subtree under keep into a fresh arena, breadth first,
// so keep becomes node 0 and everything else is garbage.
func (t *Tree) compact(keep NodeID) {
	old := t.nodes
	nodes := make([]Node, 1, t.subtreeSize(keep))
	nodes[0] = old[keep]
	nodes[0].Parent = NoNode

	for head := 0; head < len(nodes); head++ {
		oldChildren := nodes[head].Children
		if len(oldChildren) == 0 {
			continue
		}
		kids := make([]NodeID, len(oldChildren))
		for i, oc := range oldChildren {
			c := old[oc]
			c.Parent = NodeID(head)
			kids[i] = NodeID(len(nodes))
			nodes = append(nodes, c)
		}
		nodes[head].Children = kids
	}

	t.nodes = nodes
	t.root = 0
}

func (t *Tree) subtreeSize(id NodeID) int {
	size := 0
	stack := []NodeID{id}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		size++
		stack = append(stack, t.nodes[n].Children...)
	}
	return size
}

// Stats describes the current tree.
type Stats struct {
	Nodes      int `json:"nodes"`
	RootVisits int `json:"root_visits"`
	MaxDepth   int `json:"max_depth"`
}

func (t *Tree) Stats() Stats {
	depth := make([]int, len(t.nodes))
	maxDepth := 0
	// Children are always appended after their parent, so one forward pass
	// sees every parent before its children.
	for i := range t.nodes {
		p := t.nodes[i].Parent
		if p == NoNode {
			continue
		}
		depth[i] = depth[p] + 1
		if depth[i] > maxDepth {
			maxDepth = depth[i]
		}
	}
	return Stats{
		Nodes:      len(t.nodes),
		RootVisits: t.nodes[t.root].VisitCount,
		MaxDepth:   maxDepth,
	}
}

// TerminalValue scores a finished game for its side to move: -1 if the
// opponent just won, 0 for a full board.
func TerminalValue(s *game.GameState) (float32, bool) {
	if _, won := s.Winner(); won {
		return -1, true
	}
	if s.IsFull() {
		return 0, true
	}
	return 0, false
}

func (t *Tree) values(ctx context.Context, states []*game.GameState) ([]float32, error) {
	if t.client == nil {
		return nil, ErrNoPredictor
	}
	preds, err := t.client.Predict(ctx, states)
	if err != nil {
		return nil, err
	}
	if len(preds) != len(states) {
		return nil, fmt.Errorf("%w: %d predictions for %d states", ErrMalformedPrediction, len(preds), len(states))
	}
	out := make([]float32, len(preds))
	for i, p := range preds {
		if out[i], err = CheckedValue(p, states[i].ActionSpace()); err != nil {
			return nil, err
		}
	}
	return out, nil
}
