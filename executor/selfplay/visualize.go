// visualize.go - Console visualization for debugging self-play games.
//
// FormatBoard renders a board with termenv colours; PrintBoard additionally
// dumps the network input planes for the same position.
package selfplay

import (
	"fmt"
	"strings"

	"github.com/brensch/sidestacker/executor/convert"
	"github.com/brensch/sidestacker/game"
	"github.com/muesli/termenv"
	"github.com/rs/zerolog/log"
)

// Profile returns the colour profile of the current terminal, honouring
// NO_COLOR and CLICOLOR_FORCE.
func Profile() termenv.Profile {
	return termenv.EnvColorProfile()
}

// FormatBoard renders b with x for +1 and o for -1. The cell at highlight
// is bracketed; pass -1 for no highlight. Row and column indices frame the
// grid.
func FormatBoard(b game.Board, highlight game.Action, p termenv.Profile) string {
	own := p.Color("#e06c75")
	opp := p.Color("#61afef")
	dim := p.Color("#5c6370")

	var sb strings.Builder
	sb.WriteString("  ")
	for col := 0; col < game.Size; col++ {
		sb.WriteString(fmt.Sprintf(" %d ", col))
	}
	sb.WriteString("\n")
	for row := 0; row < game.Size; row++ {
		sb.WriteString(fmt.Sprintf("%d ", row))
		for col := 0; col < game.Size; col++ {
			a := game.ActionAt(row, col)
			var cell termenv.Style
			switch b[row][col] {
			case 1:
				cell = p.String("x").Foreground(own)
			case -1:
				cell = p.String("o").Foreground(opp)
			default:
				cell = p.String(".").Foreground(dim)
			}
			if a == highlight {
				sb.WriteString("[" + cell.String() + "]")
			} else {
				sb.WriteString(" " + cell.String() + " ")
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// PrintBoard logs the board and its encoded input planes at debug level.
func PrintBoard(b game.Board, ply int) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("\n=== TRACE Ply %d ===\n", ply))
	sb.WriteString(FormatBoard(b, -1, Profile()))
	printEncodedLayers(&sb, b)
	log.Debug().Msg(sb.String())
}

func printEncodedLayers(sb *strings.Builder, b game.Board) {
	dataPtr := convert.StateToFloat32(b)
	data := *dataPtr
	defer convert.PutFloatBuffer(dataPtr)

	channelName := func(c int) string {
		switch c {
		case convert.PlaneOpponent:
			return "opponent"
		case convert.PlaneEmpty:
			return "empty"
		case convert.PlaneOwn:
			return "own"
		default:
			return "unknown"
		}
	}

	sb.WriteString("\n--- TRACE Encoded input layers (C,H,W) ---\n")
	for c := 0; c < convert.Channels; c++ {
		sb.WriteString(fmt.Sprintf("Layer %d (%s):\n", c, channelName(c)))
		base := c * convert.Height * convert.Width
		for y := 0; y < convert.Height; y++ {
			for x := 0; x < convert.Width; x++ {
				if data[base+y*convert.Width+x] == 0 {
					sb.WriteString(" .")
				} else {
					sb.WriteString(" 1")
				}
			}
			sb.WriteString("\n")
		}
	}
}
