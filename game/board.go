// Package game defines the core board types for side-stacker.
//
// Boards are stored from a canonical perspective: the side to move is +1 and
// the opponent is -1. The board is a fixed-size value type so copies are
// cheap and never alias, which keeps MCTS nodes independent of each other.
package game

import (
	"fmt"
	"strings"
)

const (
	// Size is the board edge length.
	Size = 7
	// Target is the run length needed to win.
	Target = 4
	// ActionSize is the number of addressable cells.
	ActionSize = Size * Size
)

// Cell values.
const (
	Empty int8 = 0
)

// Player identifies a side by its sign.
type Player int8

const (
	PlayerA Player = 1
	PlayerB Player = -1
)

// Opponent returns the sign-negated player.
func (p Player) Opponent() Player {
	return -p
}

func (p Player) String() string {
	switch p {
	case PlayerA:
		return "A"
	case PlayerB:
		return "B"
	case 0:
		return "none"
	default:
		return fmt.Sprintf("Player(%d)", int8(p))
	}
}

// Action indexes a cell: row = a / Size, col = a % Size.
type Action int

// ActionAt returns the action addressing (row, col).
func ActionAt(row, col int) Action {
	return Action(row*Size + col)
}

func (a Action) Row() int { return int(a) / Size }
func (a Action) Col() int { return int(a) % Size }

// InBounds reports whether a names a cell on the board.
func (a Action) InBounds() bool {
	return a >= 0 && a < ActionSize
}

// Board is an N x N grid of cell values in {-1, 0, 1}.
type Board [Size][Size]int8

// At returns the value stored at action a.
func (b *Board) At(a Action) int8 {
	return b[a.Row()][a.Col()]
}

// Set stores v at action a.
func (b *Board) Set(a Action, v int8) {
	b[a.Row()][a.Col()] = v
}

// Count returns the number of cells holding v.
func (b *Board) Count(v int8) int {
	n := 0
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			if b[r][c] == v {
				n++
			}
		}
	}
	return n
}

// Cells returns the board flattened in row-major order.
func (b *Board) Cells() []int8 {
	out := make([]int8, 0, ActionSize)
	for r := 0; r < Size; r++ {
		out = append(out, b[r][:]...)
	}
	return out
}

// FromCells builds a board from a row-major slice of ActionSize values.
func FromCells(cells []int8) (Board, error) {
	var b Board
	if len(cells) != ActionSize {
		return b, fmt.Errorf("expected %d cells, got %d", ActionSize, len(cells))
	}
	for i, v := range cells {
		if v < -1 || v > 1 {
			return b, fmt.Errorf("cell %d has value %d", i, v)
		}
		b.Set(Action(i), v)
	}
	return b, nil
}

// String renders the board with x for +1, o for -1 and . for empty.
func (b Board) String() string {
	var sb strings.Builder
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			switch b[r][c] {
			case 1:
				sb.WriteByte('x')
			case -1:
				sb.WriteByte('o')
			default:
				sb.WriteByte('.')
			}
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// ParseBoard is the inverse of String. Whitespace-only lines are ignored.
func ParseBoard(s string) (Board, error) {
	var b Board
	row := 0
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if row >= Size {
			return b, fmt.Errorf("too many rows")
		}
		if len(line) != Size {
			return b, fmt.Errorf("row %d has %d cells, want %d", row, len(line), Size)
		}
		for col := 0; col < Size; col++ {
			switch line[col] {
			case 'x', 'X':
				b[row][col] = 1
			case 'o', 'O':
				b[row][col] = -1
			case '.':
			default:
				return b, fmt.Errorf("row %d col %d: unexpected %q", row, col, line[col])
			}
		}
		row++
	}
	if row != Size {
		return b, fmt.Errorf("got %d rows, want %d", row, Size)
	}
	return b, nil
}
