// Package viewer serves stored self-play games, traced debug games and a
// live websocket feed over HTTP.
package viewer

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/brensch/gomokuzero/executor/mcts"
	"github.com/brensch/gomokuzero/game"
)

const (
	defaultAnalyzeSims = 200
	maxAnalyzeSims     = 20000
)

// Server holds shared state for HTTP handlers. Hub and Predictor are
// optional; without them /ws and /api/analyze answer 503.
type Server struct {
	Index     *Index
	DebugDir  string
	Hub       *Hub
	Predictor mcts.Predictor
}

func NewServer(roots []string, debugDir string) *Server {
	return &Server{Index: NewIndex(roots...), DebugDir: debugDir}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/games", s.handleGames)
	mux.HandleFunc("/api/games/", s.handleGameTurns)
	mux.HandleFunc("/api/live", s.handleLive)
	mux.HandleFunc("/api/debug_games", s.handleDebugGamesList)
	mux.HandleFunc("/api/debug_games/", s.handleDebugGame)
	mux.HandleFunc("/api/analyze", s.handleAnalyze)
	mux.HandleFunc("/ws", s.handleWS)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

func (s *Server) handleGames(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	if err := s.Index.Refresh(); err != nil {
		http.Error(w, fmt.Sprintf("failed to refresh index: %v", err), http.StatusInternalServerError)
		return
	}
	games := s.Index.Games()
	total := len(games)

	offset := parseIntQuery(r, "offset", 0)
	limit := parseIntQuery(r, "limit", 1000)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	writeJSON(w, GamesResponse{Total: total, Games: games[offset:end]})
}

func (s *Server) handleGameTurns(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	// /api/games/{id}/turns
	rest := strings.TrimPrefix(r.URL.Path, "/api/games/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "turns" {
		http.NotFound(w, r)
		return
	}
	gameID, err := url.PathUnescape(parts[0])
	if err != nil {
		http.Error(w, "bad game id", http.StatusBadRequest)
		return
	}
	if err := s.Index.Refresh(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	turns, ok := s.Index.Turns(gameID)
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, turns)
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	if s.Hub == nil {
		writeJSON(w, []any{})
		return
	}
	writeJSON(w, s.Hub.LiveGames())
}

func (s *Server) handleDebugGamesList(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	games, err := listDebugGames(s.DebugDir)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, games)
}

func (s *Server) handleDebugGame(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	gameID, err := url.PathUnescape(strings.TrimPrefix(r.URL.Path, "/api/debug_games/"))
	if err != nil {
		http.Error(w, "bad game id", http.StatusBadRequest)
		return
	}
	resp, err := loadDebugGame(s.DebugDir, gameID)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, resp)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	if s.Predictor == nil {
		http.Error(w, "no predictor configured", http.StatusServiceUnavailable)
		return
	}
	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	state, err := game.NewChecked(req.Size)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	for _, m := range req.Moves {
		if !state.Play(game.Move(m)) {
			http.Error(w, fmt.Sprintf("illegal move %d", m), http.StatusBadRequest)
			return
		}
	}
	if state.IsTerminal() {
		http.Error(w, "game is over", http.StatusBadRequest)
		return
	}
	sims := req.Simulations
	if sims <= 0 {
		sims = defaultAnalyzeSims
	}
	if sims > maxAnalyzeSims {
		sims = maxAnalyzeSims
	}
	cfg := mcts.DefaultConfig()
	if req.Cpuct > 0 {
		cfg.Cpuct = req.Cpuct
	}
	depth := req.Depth
	if depth <= 0 {
		depth = 1
	}

	tree := mcts.NewTree(state, s.Predictor, cfg)
	if err := tree.Search(r.Context(), sims); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	best, ok := tree.BestMove()
	if !ok {
		best = game.NoMove
	}
	writeJSON(w, AnalyzeResponse{
		BestMove: int(best),
		Children: tree.RootChildren(),
		Tree:     tree.Snapshot(depth, 1),
		Stats:    tree.Stats(),
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.Hub == nil {
		http.Error(w, "no live feed", http.StatusServiceUnavailable)
		return
	}
	s.Hub.ServeWS(w, r)
}

// allow sets CORS headers and reports whether the request should be
// handled.
func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", method+", OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	if r.Method == http.MethodOptions {
		return false
	}
	if r.Method != method {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func parseIntQuery(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
