package viewer

import (
	"encoding/json"

	"github.com/brensch/gomokuzero/executor/mcts"
)

type GameSummary struct {
	GameID    string `json:"game_id"`
	Source    string `json:"source"`
	ModelPath string `json:"model_path,omitempty"`
	BoardSize int32  `json:"board_size"`
	TurnCount int32  `json:"turn_count"`
	// Winner is the winning colour: 1 black, -1 white, 0 draw.
	Winner int32  `json:"winner"`
	File   string `json:"file"`
}

type GamesResponse struct {
	Total int           `json:"total"`
	Games []GameSummary `json:"games"`
}

// Turn is one stored position. Board holds raw colours (black 1, white -1).
type Turn struct {
	Turn   int32     `json:"turn"`
	Player int32     `json:"player"`
	Move   int32     `json:"move"`
	Row    int32     `json:"row"`
	Col    int32     `json:"col"`
	Board  []int8    `json:"board"`
	Policy []float32 `json:"policy"`
	Value  float32   `json:"value"`
}

type DebugGameSummary struct {
	GameID    string  `json:"game_id"`
	ModelPath string  `json:"model_path"`
	TurnCount int     `json:"turn_count"`
	Sims      int     `json:"sims"`
	Cpuct     float32 `json:"cpuct"`
	FileName  string  `json:"file"`
}

type DebugTurn struct {
	Turn   int32           `json:"turn"`
	Player int32           `json:"player"`
	Move   int32           `json:"move"`
	Board  []int32         `json:"board"`
	Tree   json.RawMessage `json:"tree,omitempty"`
}

type DebugGameResponse struct {
	DebugGameSummary
	BoardSize int32       `json:"board_size"`
	Winner    int32       `json:"winner"`
	Turns     []DebugTurn `json:"turns"`
}

// AnalyzeRequest asks for a fresh search from the position reached by
// playing Moves on an empty board.
type AnalyzeRequest struct {
	Size        int     `json:"size"`
	Moves       []int   `json:"moves"`
	Simulations int     `json:"simulations"`
	Cpuct       float32 `json:"cpuct"`
	Depth       int     `json:"depth"`
}

type AnalyzeResponse struct {
	BestMove int                 `json:"best_move"`
	Children []mcts.ChildSummary `json:"children"`
	Tree     *mcts.DebugNode     `json:"tree"`
	Stats    mcts.Stats          `json:"stats"`
}
