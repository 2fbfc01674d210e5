package selfplay

import (
	"github.com/brensch/gomokuzero/executor/convert"
	"github.com/brensch/gomokuzero/store"
)

// Batch is the trainer-facing view of finished games: three parallel
// slices, one entry per example. Outcomes are relative to the player each
// state is encoded for.
type Batch struct {
	States   [][]float32
	Policies [][]float32
	Outcomes []float32
}

func (b Batch) Len() int { return len(b.Outcomes) }

// NewBatch flattens complete records into a Batch. Incomplete records are
// skipped.
func NewBatch(records ...*GameRecord) Batch {
	n := 0
	for _, r := range records {
		if r != nil && r.Complete {
			n += len(r.Examples)
		}
	}
	b := Batch{
		States:   make([][]float32, 0, n),
		Policies: make([][]float32, 0, n),
		Outcomes: make([]float32, 0, n),
	}
	for _, r := range records {
		if r == nil || !r.Complete {
			continue
		}
		for _, ex := range r.Examples {
			state := make([]float32, len(ex.State))
			convert.EncodeInto(state, ex.State)
			b.States = append(b.States, state)
			b.Policies = append(b.Policies, append([]float32(nil), ex.Policy...))
			b.Outcomes = append(b.Outcomes, ex.Value)
		}
	}
	return b
}

// Rows converts a complete record into Parquet training rows.
func (r *GameRecord) Rows(modelPath string) []store.TrainingRow {
	if r == nil || !r.Complete {
		return nil
	}
	rows := make([]store.TrainingRow, 0, len(r.Examples))
	for i, ex := range r.Examples {
		rows = append(rows, store.TrainingRow{
			GameID:    r.GameID,
			Turn:      int32(i),
			BoardSize: int32(r.BoardSize),
			Player:    int32(ex.Player),
			Move:      int32(ex.Move),
			State:     store.PackState(ex.State),
			Policy:    append([]float32(nil), ex.Policy...),
			Outcome:   ex.Outcome,
			Value:     ex.Value,
			Source:    r.Source,
			ModelPath: modelPath,
		})
	}
	return rows
}
