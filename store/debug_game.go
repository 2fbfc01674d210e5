package store

import "fmt"

// DebugTurnRow stores one turn of a traced game, including the search tree
// as JSON so the viewer can replay it.
type DebugTurnRow struct {
	GameID    string  `parquet:"game_id,dict" json:"game_id"`
	ModelPath string  `parquet:"model_path,dict" json:"model_path"`
	Turn      int32   `parquet:"turn" json:"turn"`
	BoardSize int32   `parquet:"board_size" json:"board_size"`
	Player    int32   `parquet:"player" json:"player"`
	Move      int32   `parquet:"move" json:"move"`
	Board     []int32 `parquet:"board" json:"board"`
	TreeJSON  []byte  `parquet:"tree_json,zstd" json:"-"`
	Sims      int32   `parquet:"sims" json:"sims"`
	Cpuct     float32 `parquet:"cpuct" json:"cpuct"`
	Winner    int32   `parquet:"winner" json:"winner"`
}

// WriteDebugGameParquet writes a traced game to outDir/debug_<id>.parquet.
func WriteDebugGameParquet(outDir, gameID string, rows []DebugTurnRow) (string, error) {
	return writeAtomic(outDir, fmt.Sprintf("debug_%s.parquet", gameID), DebugGameSchema, rows)
}
