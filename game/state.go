// Package game defines the five-in-a-row board used by search and self-play.
//
// The state is designed to be cheaply clonable for MCTS tree exploration:
// the board is a flat row-major slice and history is only kept when the
// caller needs undo/rewind.
package game

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultSize is the standard gomoku board.
const DefaultSize = 15

// WinLength is the number of contiguous stones that wins the game.
const WinLength = 5

var ErrInvalidSize = errors.New("board size must be at least 5")

// Player is the colour of a stone. Empty cells hold Empty.
type Player int8

const (
	Empty Player = 0
	Black Player = 1
	White Player = -1
)

// Opponent returns the other colour. Empty has no opponent.
func (p Player) Opponent() Player {
	return -p
}

func (p Player) String() string {
	switch p {
	case Black:
		return "black"
	case White:
		return "white"
	default:
		return "empty"
	}
}

// Move is a row-major action index: row*size + col.
type Move int

// NoMove marks the absence of a move (e.g. the root of a search tree).
const NoMove Move = -1

// Point is a board coordinate. (0,0) is the top-left cell.
type Point struct {
	Row int
	Col int
}

// GameState is the complete state needed for search + inference.
type GameState struct {
	size    int
	cells   []Player
	toMove  Player
	winner  Player
	stones  int
	history []Move
	last    Move
	// base is the last move at the time history was truncated.
	base Move
}

// New returns an empty board with Black to move. It panics on sizes below
// WinLength; use NewChecked for untrusted input.
func New(size int) *GameState {
	s, err := NewChecked(size)
	if err != nil {
		panic(err)
	}
	return s
}

func NewChecked(size int) (*GameState, error) {
	if size < WinLength {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSize, size)
	}
	return &GameState{
		size:   size,
		cells:  make([]Player, size*size),
		toMove: Black,
		last:   NoMove,
		base:   NoMove,
	}, nil
}

// Size is the side length of the board.
func (s *GameState) Size() int { return s.size }

// ActionSpace is the number of cells, including occupied ones.
func (s *GameState) ActionSpace() int { return s.size * s.size }

// ToMove is the player whose turn it is.
func (s *GameState) ToMove() Player { return s.toMove }

// LastMove is the most recently placed stone, or NoMove on an empty board.
func (s *GameState) LastMove() Move { return s.last }

// MoveCount is the number of stones on the board.
func (s *GameState) MoveCount() int { return s.stones }

// History returns the moves still retained in history, oldest first.
func (s *GameState) History() []Move {
	return append([]Move(nil), s.history...)
}

// MoveOf converts a coordinate into an action index.
func (s *GameState) MoveOf(row, col int) Move {
	return Move(row*s.size + col)
}

// PointOf converts an action index into a coordinate.
func (s *GameState) PointOf(m Move) Point {
	return Point{Row: int(m) / s.size, Col: int(m) % s.size}
}

// At returns the stone at (row, col). Out of range cells read as Empty.
func (s *GameState) At(row, col int) Player {
	if !s.inBounds(row, col) {
		return Empty
	}
	return s.cells[row*s.size+col]
}

// Cells returns a copy of the board, row-major.
func (s *GameState) Cells() []Player {
	return append([]Player(nil), s.cells...)
}

// Winner reports the winning colour, if any.
func (s *GameState) Winner() (Player, bool) {
	return s.winner, s.winner != Empty
}

// IsFull reports whether every cell is occupied.
func (s *GameState) IsFull() bool {
	return s.stones == len(s.cells)
}

// IsTerminal is true iff a winner exists or all cells are occupied.
func (s *GameState) IsTerminal() bool {
	return s.winner != Empty || s.IsFull()
}

// IsLegal reports whether m can be played right now.
func (s *GameState) IsLegal(m Move) bool {
	if m < 0 || int(m) >= len(s.cells) {
		return false
	}
	return s.cells[m] == Empty && !s.IsTerminal()
}

// Play places a stone for the player to move. It returns false, leaving the
// state untouched, if the cell is occupied or out of range, or if the game
// is already decided.
func (s *GameState) Play(m Move) bool {
	if !s.IsLegal(m) {
		return false
	}
	s.cells[m] = s.toMove
	s.stones++
	s.history = append(s.history, m)
	s.last = m

	p := s.PointOf(m)
	if s.fiveThrough(p.Row, p.Col) {
		s.winner = s.toMove
	}
	s.toMove = s.toMove.Opponent()
	return true
}

// PlayAt is Play for a (row, col) coordinate.
func (s *GameState) PlayAt(row, col int) bool {
	if !s.inBounds(row, col) {
		return false
	}
	return s.Play(s.MoveOf(row, col))
}

var directions = [4][2]int{{1, 0}, {0, 1}, {1, 1}, {1, -1}}

// fiveThrough checks the four axes through (row, col) for a run of at least
// WinLength stones of the colour placed there.
func (s *GameState) fiveThrough(row, col int) bool {
	colour := s.cells[row*s.size+col]
	for _, d := range directions {
		count := 1
		count += s.run(row, col, d[0], d[1], colour)
		count += s.run(row, col, -d[0], -d[1], colour)
		if count >= WinLength {
			return true
		}
	}
	return false
}

func (s *GameState) run(row, col, dr, dc int, colour Player) int {
	n := 0
	for step := 1; step < WinLength; step++ {
		r, c := row+step*dr, col+step*dc
		if !s.inBounds(r, c) || s.cells[r*s.size+c] != colour {
			break
		}
		n++
	}
	return n
}

func (s *GameState) inBounds(row, col int) bool {
	return row >= 0 && row < s.size && col >= 0 && col < s.size
}

// LegalMoves returns every empty cell in row-major order. A decided game has
// no legal moves.
func (s *GameState) LegalMoves() []Move {
	if s.IsTerminal() {
		return nil
	}
	moves := make([]Move, 0, len(s.cells)-s.stones)
	for i, c := range s.cells {
		if c == Empty {
			moves = append(moves, Move(i))
		}
	}
	return moves
}

// PerspectiveState encodes the board for the player to move: own stones +1,
// opponent stones -1, empty 0.
func (s *GameState) PerspectiveState() []int8 {
	return s.PerspectiveFor(s.toMove)
}

// PerspectiveFor encodes the board with p's stones as +1.
func (s *GameState) PerspectiveFor(p Player) []int8 {
	out := make([]int8, len(s.cells))
	for i, c := range s.cells {
		out[i] = int8(c) * int8(p)
	}
	return out
}

// Clone performs a deep copy of the game state.
func (s *GameState) Clone() *GameState {
	if s == nil {
		return nil
	}
	out := &GameState{
		size:   s.size,
		cells:  make([]Player, len(s.cells)),
		toMove: s.toMove,
		winner: s.winner,
		stones: s.stones,
		last:   s.last,
		base:   s.base,
	}
	copy(out.cells, s.cells)
	if len(s.history) > 0 {
		out.history = make([]Move, len(s.history))
		copy(out.history, s.history)
	}
	return out
}

// TruncateHistory drops the move history but keeps the current position,
// including its last move. Undo is no longer possible past this point.
func (s *GameState) TruncateHistory() {
	s.history = nil
	s.base = s.last
}

// Undo takes back the most recent move still in history.
func (s *GameState) Undo() bool {
	n := len(s.history)
	if n == 0 {
		return false
	}
	m := s.history[n-1]
	s.history = s.history[:n-1]
	s.cells[m] = Empty
	s.stones--
	s.winner = Empty
	s.toMove = s.toMove.Opponent()
	if n > 1 {
		s.last = s.history[n-2]
	} else {
		s.last = s.base
	}
	return true
}

// Rewind undoes up to n moves and returns how many were taken back.
func (s *GameState) Rewind(n int) int {
	undone := 0
	for undone < n && s.Undo() {
		undone++
	}
	return undone
}

// Reset clears the board back to the opening position.
func (s *GameState) Reset() {
	clear(s.cells)
	s.toMove = Black
	s.winner = Empty
	s.stones = 0
	s.history = nil
	s.last = NoMove
	s.base = NoMove
}

// String renders the board with X for black, O for white and the last move
// in brackets.
func (s *GameState) String() string {
	var sb strings.Builder
	sb.WriteString("   ")
	for c := 0; c < s.size; c++ {
		fmt.Fprintf(&sb, "%2d ", c)
	}
	sb.WriteString("\n")
	for r := 0; r < s.size; r++ {
		fmt.Fprintf(&sb, "%2d ", r)
		for c := 0; c < s.size; c++ {
			ch := "."
			switch s.cells[r*s.size+c] {
			case Black:
				ch = "X"
			case White:
				ch = "O"
			}
			if s.last != NoMove && s.MoveOf(r, c) == s.last {
				fmt.Fprintf(&sb, "[%s]", ch)
				continue
			}
			fmt.Fprintf(&sb, " %s ", ch)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
