// visualize.go - console rendering for debugging self-play games.
//
// RenderBoard draws the board with coloured stones; PrintBoard logs it
// together with the encoded network input for the player to move.
package selfplay

import (
	"fmt"
	"strings"

	"github.com/brensch/gomokuzero/executor/convert"
	"github.com/brensch/gomokuzero/game"
	"github.com/muesli/termenv"
	"github.com/rs/zerolog/log"
)

func RenderBoard(state *game.GameState, profile termenv.Profile) string {
	black := profile.String("X").Foreground(profile.Color("9")).Bold()
	white := profile.String("O").Foreground(profile.Color("12")).Bold()
	last := state.LastMove()

	var sb strings.Builder
	sb.WriteString("   ")
	for c := 0; c < state.Size(); c++ {
		sb.WriteString(fmt.Sprintf("%2d ", c))
	}
	sb.WriteString("\n")
	for r := 0; r < state.Size(); r++ {
		sb.WriteString(fmt.Sprintf("%2d ", r))
		for c := 0; c < state.Size(); c++ {
			cell := " . "
			switch state.At(r, c) {
			case game.Black:
				cell = " " + black.String() + " "
			case game.White:
				cell = " " + white.String() + " "
			}
			if last != game.NoMove && state.MoveOf(r, c) == last {
				cell = "[" + cell[1:len(cell)-1] + "]"
			}
			sb.WriteString(cell)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func PrintBoard(state *game.GameState) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("\n=== TRACE move %d (%s to move) ===\n", state.MoveCount(), state.ToMove()))
	sb.WriteString(RenderBoard(state, termenv.ColorProfile()))
	printEncodedInput(&sb, state)
	log.Debug().Msg(sb.String())
}

func printEncodedInput(sb *strings.Builder, state *game.GameState) {
	n := state.Size()
	dataPtr := convert.StateToFloat32(state)
	defer convert.PutFloatBuffer(n, dataPtr)
	data := *dataPtr

	sb.WriteString("\n--- TRACE encoded input (C,H,W) ---\n")
	for r := 0; r < n; r++ {
		for c := 0; c < n; c++ {
			v := data[r*n+c]
			if v == 0 {
				sb.WriteString("  . ")
				continue
			}
			sb.WriteString(fmt.Sprintf("%3.0f ", v))
		}
		sb.WriteString("\n")
	}
}
