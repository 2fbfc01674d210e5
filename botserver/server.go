package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/brensch/gomokuzero/executor/agent"
	"github.com/brensch/gomokuzero/executor/mcts"
	"github.com/brensch/gomokuzero/game"
	"github.com/rs/zerolog/log"
)

// overhead is kept back from the caller's timeout for encoding and network.
const overhead = 100 * time.Millisecond

type InfoResponse struct {
	APIVersion string `json:"apiversion"`
	Author     string `json:"author"`
	Version    string `json:"version"`
}

// MoveRequest describes a position as the moves played from an empty board,
// as cell indices (row*size + col).
type MoveRequest struct {
	GameID    string `json:"game_id"`
	Size      int    `json:"size"`
	Moves     []int  `json:"moves"`
	TimeoutMs int    `json:"timeout_ms"`
}

type MoveResponse struct {
	Move        int    `json:"move"`
	Row         int    `json:"row"`
	Col         int    `json:"col"`
	Simulations int    `json:"simulations"`
	Reused      bool   `json:"reused"`
	Shout       string `json:"shout,omitempty"`
}

type EndRequest struct {
	GameID string `json:"game_id"`
}

type session struct {
	mu     sync.Mutex
	player *agent.SearchPlayer
	last   time.Time
}

// Server answers move requests with MCTS. Each game keeps its own player
// so the tree carries over between turns.
type Server struct {
	predictor   mcts.Predictor
	mctsConfig  mcts.Config
	moveTimeout time.Duration
	mctsSims    int

	mu       sync.Mutex
	sessions map[string]*session
}

func NewServer(p mcts.Predictor, moveTimeout time.Duration, mctsSims int) *Server {
	return &Server{
		predictor:   p,
		mctsConfig:  mcts.DefaultConfig(),
		moveTimeout: moveTimeout,
		mctsSims:    mctsSims,
		sessions:    make(map[string]*session),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/move", s.handleMove)
	mux.HandleFunc("/end", s.handleEnd)
	return mux
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, InfoResponse{APIVersion: "1", Author: "gomokuzero", Version: "1.0.0"})
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	start := time.Now()

	var req MoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	state, err := replay(req.Size, req.Moves)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if state.IsTerminal() {
		http.Error(w, "game is over", http.StatusConflict)
		return
	}

	timeout := s.moveTimeout
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}
	computeTime := timeout - overhead
	if computeTime < 20*time.Millisecond {
		computeTime = 20 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(r.Context(), computeTime)
	defer cancel()

	sess := s.session(req.GameID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	reused := follow(sess.player, state)
	move, err := sess.player.Play(ctx, state)
	sims := sess.player.LastSearch().RootVisits
	if err != nil {
		sims = 0
		log.Warn().Err(err).Str("game_id", req.GameID).Msg("search failed; using fallback move")
		sess.player.Reset()
		move = state.LegalMoves()[0]
	}

	p := state.PointOf(move)
	log.Info().
		Str("game_id", req.GameID).
		Int("turn", state.MoveCount()).
		Int("move", int(move)).
		Bool("reused", reused).
		Dur("elapsed", time.Since(start)).
		Msg("move")
	writeJSON(w, MoveResponse{
		Move:        int(move),
		Row:         p.Row,
		Col:         p.Col,
		Simulations: sims,
		Reused:      reused,
		Shout:       fmt.Sprintf("tree has %d visits", sims),
	})
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	var req EndRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	delete(s.sessions, req.GameID)
	s.mu.Unlock()
	log.Info().Str("game_id", req.GameID).Msg("game ended")
	w.WriteHeader(http.StatusOK)
}

func (s *Server) session(gameID string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[gameID]
	if !ok {
		sess = &session{player: agent.NewSearchPlayer(s.predictor, s.mctsConfig, s.mctsSims)}
		s.sessions[gameID] = sess
	}
	sess.last = time.Now()
	return sess
}

// Sessions returns the number of games with a live tree.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Prune drops sessions idle for longer than maxIdle.
func (s *Server) Prune(maxIdle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.sessions {
		if time.Since(sess.last) > maxIdle {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

// follow moves the player's tree past the opponent's reply when state is
// exactly one move ahead of it. It reports whether the tree can be reused.
func follow(p *agent.SearchPlayer, state *game.GameState) bool {
	t := p.Tree()
	if t == nil {
		return false
	}
	if state.MoveCount() == t.State().MoveCount()+1 {
		if err := p.Observe(state.LastMove()); err != nil {
			return false
		}
		t = p.Tree()
	}
	return t != nil && t.State().MoveCount() == state.MoveCount()
}

func replay(size int, moves []int) (*game.GameState, error) {
	state, err := game.NewChecked(size)
	if err != nil {
		return nil, err
	}
	for i, m := range moves {
		if !state.Play(game.Move(m)) {
			return nil, fmt.Errorf("move %d (%d) is illegal", i, m)
		}
	}
	return state, nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
