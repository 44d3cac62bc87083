package game

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestActionRoundTrip(t *testing.T) {
	for row := 0; row < Size; row++ {
		for col := 0; col < Size; col++ {
			a := ActionAt(row, col)
			require.True(t, a.InBounds())
			require.Equal(t, row, a.Row())
			require.Equal(t, col, a.Col())
		}
	}
	require.False(t, Action(-1).InBounds())
	require.False(t, Action(ActionSize).InBounds())
}

func TestParseBoardMatchesString(t *testing.T) {
	in := `
x......
.o.....
..x....
...o...
.......
.......
......x
`
	b, err := ParseBoard(in)
	require.NoError(t, err)
	require.Equal(t, int8(1), b[0][0])
	require.Equal(t, int8(-1), b[1][1])
	require.Equal(t, int8(1), b[6][6])
	require.Equal(t, 3, b.Count(1))
	require.Equal(t, 2, b.Count(-1))

	again, err := ParseBoard(b.String())
	require.NoError(t, err)
	require.Equal(t, b, again)
}

func TestParseBoardRejectsBadInput(t *testing.T) {
	_, err := ParseBoard("x......\n")
	require.Error(t, err)

	_, err = ParseBoard("x.....?\n.......\n.......\n.......\n.......\n.......\n.......\n")
	require.Error(t, err)
}

func TestFromCells(t *testing.T) {
	cells := make([]int8, ActionSize)
	cells[ActionAt(2, 3)] = -1
	b, err := FromCells(cells)
	require.NoError(t, err)
	require.Equal(t, int8(-1), b.At(ActionAt(2, 3)))
	require.Equal(t, cells, b.Cells())

	_, err = FromCells(cells[:3])
	require.Error(t, err)

	cells[0] = 5
	_, err = FromCells(cells)
	require.Error(t, err)
}

func TestOpponent(t *testing.T) {
	require.Equal(t, PlayerB, PlayerA.Opponent())
	require.Equal(t, PlayerA, PlayerB.Opponent())
}
