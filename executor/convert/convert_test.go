package convert

import (
	"testing"

	"github.com/brensch/sidestacker/game"
	"github.com/brensch/sidestacker/rules"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

func randomBoard(r *rand.Rand) game.Board {
	b := rules.InitialState()
	player := game.PlayerA
	plies := r.Intn(game.ActionSize + 1)
	for i := 0; i < plies; i++ {
		moves := rules.ValidMoves(b)
		if len(moves) == 0 {
			break
		}
		b, _ = rules.Apply(b, moves[r.Intn(len(moves))], player)
		player = player.Opponent()
	}
	return b
}

func TestEncodeOneHot(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	for i := 0; i < 100; i++ {
		b := randomBoard(r)
		planes := Encode(b)
		require.Len(t, planes, FloatSize)
		for row := 0; row < Height; row++ {
			for col := 0; col < Width; col++ {
				sum := float32(0)
				for c := 0; c < Channels; c++ {
					v := planes[c*Height*Width+row*Width+col]
					require.True(t, v == 0 || v == 1)
					sum += v
				}
				require.Equal(t, float32(1), sum, "cell (%d,%d)", row, col)
			}
		}
	}
}

func TestEncodePlaneOrder(t *testing.T) {
	var b game.Board
	b[0][0] = -1
	b[0][1] = 1
	planes := Encode(b)
	require.Equal(t, float32(1), planes[PlaneOpponent*Height*Width+0])
	require.Equal(t, float32(1), planes[PlaneOwn*Height*Width+1])
	require.Equal(t, float32(1), planes[PlaneEmpty*Height*Width+2])
}

func TestPooledEncodingsAgree(t *testing.T) {
	r := rand.New(rand.NewSource(5))
	for i := 0; i < 20; i++ {
		b := randomBoard(r)
		want := Encode(b)

		fp := StateToFloat32(b)
		require.Equal(t, want, *fp)

		back, err := Decode(*fp)
		PutFloatBuffer(fp)
		require.NoError(t, err)
		require.Equal(t, b, back)
	}
}

func TestDecodeRejectsWrongSize(t *testing.T) {
	_, err := Decode(make([]float32, 3))
	require.Error(t, err)
}

func BenchmarkStateToFloat32(b *testing.B) {
	r := rand.New(rand.NewSource(1))
	boards := make([]game.Board, 1024)
	for i := range boards {
		boards[i] = randomBoard(r)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ptr := StateToFloat32(boards[i%len(boards)])
		PutFloatBuffer(ptr)
	}
}
