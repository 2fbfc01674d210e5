package viewer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/brensch/gomokuzero/store"
)

// listDebugGames summarises every debug_<id>.parquet file in dir.
func listDebugGames(dir string) ([]DebugGameSummary, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []DebugGameSummary{}, nil
		}
		return nil, err
	}

	games := make([]DebugGameSummary, 0)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".parquet") {
			continue
		}
		rows, err := store.ReadRows[store.DebugTurnRow](filepath.Join(dir, entry.Name()))
		if err != nil || len(rows) == 0 {
			continue
		}
		games = append(games, DebugGameSummary{
			GameID:    rows[0].GameID,
			ModelPath: rows[0].ModelPath,
			TurnCount: len(rows),
			Sims:      int(rows[0].Sims),
			Cpuct:     rows[0].Cpuct,
			FileName:  entry.Name(),
		})
	}
	sort.Slice(games, func(i, j int) bool { return games[i].FileName < games[j].FileName })
	return games, nil
}

func loadDebugGame(dir, gameID string) (*DebugGameResponse, error) {
	if gameID == "" || strings.ContainsAny(gameID, `/\`) {
		return nil, os.ErrNotExist
	}
	name := "debug_" + gameID + ".parquet"
	rows, err := store.ReadRows[store.DebugTurnRow](filepath.Join(dir, name))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, os.ErrNotExist
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Turn < rows[j].Turn })

	first := rows[0]
	resp := &DebugGameResponse{
		DebugGameSummary: DebugGameSummary{
			GameID:    first.GameID,
			ModelPath: first.ModelPath,
			TurnCount: len(rows),
			Sims:      int(first.Sims),
			Cpuct:     first.Cpuct,
			FileName:  name,
		},
		BoardSize: first.BoardSize,
		Winner:    first.Winner,
		Turns:     make([]DebugTurn, 0, len(rows)),
	}
	for _, r := range rows {
		t := DebugTurn{Turn: r.Turn, Player: r.Player, Move: r.Move, Board: r.Board}
		if json.Valid(r.TreeJSON) {
			t.Tree = json.RawMessage(r.TreeJSON)
		}
		resp.Turns = append(resp.Turns, t)
	}
	return resp, nil
}
