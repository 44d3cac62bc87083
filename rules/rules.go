// Package rules implements the side-stacker rules engine.
//
// Every function here is pure with respect to its inputs except the probing
// helpers, which mutate a single cell and restore it before returning.
package rules

import (
	"errors"
	"fmt"

	"github.com/brensch/sidestacker/game"
)

// ErrInvalidMove is returned when an action does not name an empty cell.
var ErrInvalidMove = errors.New("invalid move")

var directions = [4][2]int{{0, 1}, {1, 0}, {1, 1}, {-1, 1}}

// InitialState returns an empty board.
func InitialState() game.Board {
	return game.Board{}
}

// ValidMoves returns the legal actions in ascending order. For every row with
// an empty cell, the leftmost and rightmost empty cells are legal.
func ValidMoves(b game.Board) []game.Action {
	moves := make([]game.Action, 0, 2*game.Size)
	for row := 0; row < game.Size; row++ {
		left, right := rowEnds(&b, row)
		if left < 0 {
			continue
		}
		moves = append(moves, game.ActionAt(row, left))
		if right != left {
			moves = append(moves, game.ActionAt(row, right))
		}
	}
	return moves
}

// ValidMask returns a per-action legality mask.
func ValidMask(b game.Board) [game.ActionSize]bool {
	var mask [game.ActionSize]bool
	for _, a := range ValidMoves(b) {
		mask[a] = true
	}
	return mask
}

// HasValidMoves reports whether any cell is still empty.
func HasValidMoves(b game.Board) bool {
	for row := 0; row < game.Size; row++ {
		if left, _ := rowEnds(&b, row); left >= 0 {
			return true
		}
	}
	return false
}

// IsValid reports whether a is currently a legal action.
func IsValid(b game.Board, a game.Action) bool {
	if !a.InBounds() {
		return false
	}
	left, right := rowEnds(&b, a.Row())
	return left >= 0 && (a.Col() == left || a.Col() == right)
}

func rowEnds(b *game.Board, row int) (left, right int) {
	left, right = -1, -1
	for col := 0; col < game.Size; col++ {
		if b[row][col] != game.Empty {
			continue
		}
		if left < 0 {
			left = col
		}
		right = col
	}
	return left, right
}

// Apply writes player into the cell addressed by a and returns the new board.
// Callers are expected to draw a from ValidMoves; Apply itself only checks
// that the cell exists and is empty.
func Apply(b game.Board, a game.Action, player game.Player) (game.Board, error) {
	if !a.InBounds() {
		return b, fmt.Errorf("%w: action %d out of range", ErrInvalidMove, a)
	}
	if b.At(a) != game.Empty {
		return b, fmt.Errorf("%w: cell (%d,%d) is occupied", ErrInvalidMove, a.Row(), a.Col())
	}
	b.Set(a, int8(player))
	return b, nil
}

// CheckWin reports whether the piece at last forms a run of at least
// game.Target in any of the four line directions.
func CheckWin(b game.Board, last game.Action) bool {
	return checkWin(&b, last)
}

func checkWin(b *game.Board, last game.Action) bool {
	if !last.InBounds() {
		return false
	}
	row, col := last.Row(), last.Col()
	player := b[row][col]
	if player == game.Empty {
		return false
	}

	for _, d := range directions {
		count := 1
		for _, sign := range [2]int{1, -1} {
			r, c := row+sign*d[0], col+sign*d[1]
			for r >= 0 && r < game.Size && c >= 0 && c < game.Size &&
				b[r][c] == player && count < game.Target {
				count++
				r += sign * d[0]
				c += sign * d[1]
			}
		}
		if count >= game.Target {
			return true
		}
	}
	return false
}

// HasWinner reports whether any occupied cell is part of a completed run.
func HasWinner(b game.Board) bool {
	for a := game.Action(0); a < game.ActionSize; a++ {
		if checkWin(&b, a) {
			return true
		}
	}
	return false
}

// TerminalValue returns (1, true) when last completed a run, (0, true) for a
// full board and (0, false) otherwise. The value is from the perspective of
// whoever played last.
func TerminalValue(b game.Board, last game.Action) (float32, bool) {
	if checkWin(&b, last) {
		return 1, true
	}
	if !HasValidMoves(b) {
		return 0, true
	}
	return 0, false
}

// Opponent returns the other side.
func Opponent(p game.Player) game.Player {
	return p.Opponent()
}

// OpponentValue flips a value to the other side's perspective.
func OpponentValue(v float32) float32 {
	return -v
}

// ToNeutral multiplies every cell by player so the side to move becomes +1.
// Applying it twice with the same player returns the original board.
func ToNeutral(b game.Board, player game.Player) game.Board {
	if player == game.PlayerA {
		return b
	}
	for r := 0; r < game.Size; r++ {
		for c := 0; c < game.Size; c++ {
			b[r][c] *= int8(player)
		}
	}
	return b
}

// MovesThatWin returns the legal actions that complete a run for player.
// b is restored to its original contents before returning.
func MovesThatWin(b *game.Board, player game.Player) []game.Action {
	return scanRuns(b, player)
}

// MovesThatBlock returns the legal actions that would complete a run for the
// opponent of player, i.e. the cells player must take to stop an immediate loss.
func MovesThatBlock(b *game.Board, player game.Player) []game.Action {
	return scanRuns(b, player.Opponent())
}

func scanRuns(b *game.Board, as game.Player) []game.Action {
	var out []game.Action
	for _, a := range ValidMoves(*b) {
		if completesRun(b, a, as) {
			out = append(out, a)
		}
	}
	return out
}

// completesRun places as on a, tests for a win and restores the cell.
func completesRun(b *game.Board, a game.Action, as game.Player) bool {
	original := b.At(a)
	b.Set(a, int8(as))
	defer b.Set(a, original)
	return checkWin(b, a)
}
