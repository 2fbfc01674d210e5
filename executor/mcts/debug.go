package mcts

// DebugNode is a JSON-friendly copy of part of the tree, used by the debug
// game tool and the viewer.
type DebugNode struct {
	Move       int          `json:"move"`
	Row        int          `json:"row"`
	Col        int          `json:"col"`
	VisitCount int          `json:"n"`
	ValueSum   float32      `json:"value_sum"`
	Q          float32      `json:"q"`
	Prior      float32      `json:"p"`
	Terminal   bool         `json:"terminal,omitempty"`
	Children   []*DebugNode `json:"children,omitempty"`
}

// Snapshot copies the tree down to maxDepth, keeping only children with at
// least minVisits visits.
func (t *Tree) Snapshot(maxDepth, minVisits int) *DebugNode {
	return t.snapshot(t.root, maxDepth, minVisits)
}

func (t *Tree) snapshot(id NodeID, depth, minVisits int) *DebugNode {
	n := &t.nodes[id]
	out := &DebugNode{
		Move:       int(n.Move),
		Row:        -1,
		Col:        -1,
		VisitCount: n.VisitCount,
		ValueSum:   n.ValueSum,
		Q:          n.Q(),
		Prior:      n.Prior,
		Terminal:   n.State.IsTerminal(),
	}
	if n.Move >= 0 {
		p := n.State.PointOf(n.Move)
		out.Row, out.Col = p.Row, p.Col
	}
	if depth <= 0 {
		return out
	}
	for _, c := range n.Children {
		if t.nodes[c].VisitCount < minVisits {
			continue
		}
		out.Children = append(out.Children, t.snapshot(c, depth-1, minVisits))
	}
	return out
}
