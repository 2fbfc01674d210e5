package viewer

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/brensch/gomokuzero/store"
	"github.com/rs/zerolog/log"
)

type fileEntry struct {
	modTime time.Time
	size    int64
	games   map[string][]store.TrainingRow
	order   []string
}

// Index caches the training shards under a set of roots, re-reading a
// file only when its size or modification time changes.
type Index struct {
	roots []string

	mu    sync.Mutex
	files map[string]*fileEntry
}

func NewIndex(roots ...string) *Index {
	return &Index{roots: roots, files: make(map[string]*fileEntry)}
}

func findParquetFiles(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(d.Name(), ".parquet") {
			out = append(out, path)
		}
		return nil
	})
	return out, err
}

// Refresh rescans the roots. Files that are not training shards are
// ignored.
func (x *Index) Refresh() error {
	seen := make(map[string]bool)
	for _, root := range x.roots {
		paths, err := findParquetFiles(root)
		if err != nil {
			return err
		}
		for _, p := range paths {
			seen[p] = true
			if err := x.load(p); err != nil {
				log.Warn().Err(err).Str("file", p).Msg("skipping parquet file")
			}
		}
	}
	x.mu.Lock()
	for p := range x.files {
		if !seen[p] {
			delete(x.files, p)
		}
	}
	x.mu.Unlock()
	return nil
}

func (x *Index) load(path string) error {
	st, err := os.Stat(path)
	if err != nil {
		return err
	}
	x.mu.Lock()
	cur, ok := x.files[path]
	x.mu.Unlock()
	if ok && cur.modTime.Equal(st.ModTime()) && cur.size == st.Size() {
		return nil
	}

	entry := &fileEntry{modTime: st.ModTime(), size: st.Size(), games: make(map[string][]store.TrainingRow)}
	schema, err := store.Schema(path)
	if err != nil {
		return err
	}
	if schema == store.TrainingSchema {
		rows, err := store.ReadRows[store.TrainingRow](path)
		if err != nil {
			return err
		}
		for _, r := range rows {
			if _, ok := entry.games[r.GameID]; !ok {
				entry.order = append(entry.order, r.GameID)
			}
			entry.games[r.GameID] = append(entry.games[r.GameID], r)
		}
	}

	x.mu.Lock()
	x.files[path] = entry
	x.mu.Unlock()
	return nil
}

// Games lists every indexed game, newest file first.
func (x *Index) Games() []GameSummary {
	x.mu.Lock()
	defer x.mu.Unlock()

	paths := make([]string, 0, len(x.files))
	for p := range x.files {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool {
		a, b := x.files[paths[i]], x.files[paths[j]]
		if !a.modTime.Equal(b.modTime) {
			return a.modTime.After(b.modTime)
		}
		return paths[i] < paths[j]
	})

	var out []GameSummary
	for _, p := range paths {
		f := x.files[p]
		for _, id := range f.order {
			rows := f.games[id]
			first := rows[0]
			out = append(out, GameSummary{
				GameID:    id,
				Source:    first.Source,
				ModelPath: first.ModelPath,
				BoardSize: first.BoardSize,
				TurnCount: int32(len(rows)),
				Winner:    int32(first.Outcome),
				File:      x.relative(p),
			})
		}
	}
	return out
}

// Turns returns the positions of one game in turn order, with boards
// converted back to raw colours.
func (x *Index) Turns(gameID string) ([]Turn, bool) {
	x.mu.Lock()
	var rows []store.TrainingRow
	for _, f := range x.files {
		if r, ok := f.games[gameID]; ok {
			rows = r
			break
		}
	}
	x.mu.Unlock()
	if rows == nil {
		return nil, false
	}

	turns := make([]Turn, 0, len(rows))
	for _, r := range rows {
		board := store.UnpackState(r.State)
		for i := range board {
			board[i] *= int8(r.Player)
		}
		t := Turn{
			Turn:   r.Turn,
			Player: r.Player,
			Move:   r.Move,
			Row:    -1,
			Col:    -1,
			Board:  board,
			Policy: r.Policy,
			Value:  r.Value,
		}
		if r.Move >= 0 && r.BoardSize > 0 {
			t.Row, t.Col = r.Move/r.BoardSize, r.Move%r.BoardSize
		}
		turns = append(turns, t)
	}
	sort.Slice(turns, func(i, j int) bool { return turns[i].Turn < turns[j].Turn })
	return turns, true
}

func (x *Index) relative(path string) string {
	for _, root := range x.roots {
		if rel, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(rel, "..") {
			return rel
		}
	}
	return path
}
