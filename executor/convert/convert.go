package convert

import (
	"fmt"
	"sync"

	"github.com/brensch/sidestacker/game"
)

const (
	Width     = game.Size
	Height    = game.Size
	Channels  = 3
	FloatSize = Channels * Width * Height
)

// Plane indices. Exactly one plane is set at every cell.
const (
	PlaneOpponent = 0 // cell == -1
	PlaneEmpty    = 1 // cell == 0
	PlaneOwn      = 2 // cell == +1
)

var floatPool = sync.Pool{
	New: func() interface{} {
		b := make([]float32, FloatSize)
		return &b
	},
}

func GetFloatBuffer() *[]float32 {
	return floatPool.Get().(*[]float32)
}

func PutFloatBuffer(b *[]float32) {
	floatPool.Put(b)
}

func planeFor(v int8) int {
	switch v {
	case -1:
		return PlaneOpponent
	case 1:
		return PlaneOwn
	default:
		return PlaneEmpty
	}
}

// Encode returns a freshly allocated [Channels, Height, Width] one-hot encoding
// of b. The board is expected to be neutral (side to move is +1).
func Encode(b game.Board) []float32 {
	out := make([]float32, FloatSize)
	EncodeInto(out, b)
	return out
}

// EncodeInto writes the encoding of b into dst, which must hold FloatSize values.
func EncodeInto(dst []float32, b game.Board) {
	clear(dst[:FloatSize])
	for r := 0; r < Height; r++ {
		for c := 0; c < Width; c++ {
			dst[planeFor(b[r][c])*Height*Width+r*Width+c] = 1
		}
	}
}

// StateToFloat32 encodes b into a pooled float32 slice suitable for ONNX input.
// Caller must return it to the pool using PutFloatBuffer.
func StateToFloat32(b game.Board) *[]float32 {
	dataPtr := GetFloatBuffer()
	EncodeInto(*dataPtr, b)
	return dataPtr
}

// Decode rebuilds a board from its plane encoding.
func Decode(planes []float32) (game.Board, error) {
	var b game.Board
	if len(planes) != FloatSize {
		return b, fmt.Errorf("encoded state has %d values, want %d", len(planes), FloatSize)
	}
	for r := 0; r < Height; r++ {
		for c := 0; c < Width; c++ {
			base := r*Width + c
			switch {
			case planes[PlaneOwn*Height*Width+base] == 1:
				b[r][c] = 1
			case planes[PlaneOpponent*Height*Width+base] == 1:
				b[r][c] = -1
			}
		}
	}
	return b, nil
}
