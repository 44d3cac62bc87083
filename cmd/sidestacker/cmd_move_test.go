package main

import (
	"context"
	"testing"

	"github.com/brensch/sidestacker/engine"
	"github.com/brensch/sidestacker/executor/mcts"
	"github.com/stretchr/testify/require"
)

const oToMove = `
.......
.......
.......
ooo....

......x
x.....x
`

func TestParseCells(t *testing.T) {
	cells := parseCells(oToMove)
	require.Len(t, cells, 6)
	require.Equal(t, []string{"o", "o", "o", ".", ".", ".", "."}, cells[3])
}

func TestParsedBoardThroughBestMove(t *testing.T) {
	e := engine.New(mcts.Config{C: 1.41, NumSearches: 800}, mcts.Config{C: 2, NumSearches: 50}, nil, 5)

	// Six rows after the blank line is dropped.
	_, err := e.BestMove(context.Background(), parseCells(oToMove), "o", engine.Medium)
	require.ErrorIs(t, err, engine.ErrInvalidBoard)

	full := parseCells(".......\n" + oToMove)
	d, err := e.BestMove(context.Background(), full, "o", engine.Medium)
	require.NoError(t, err)
	require.Equal(t, [2]int{4, 3}, [2]int{d.Row(), d.Col()})
	require.Equal(t, int8(1), d.Board[4][0])
}
