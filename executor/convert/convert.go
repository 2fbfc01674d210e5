// Package convert encodes game states into the float32 tensors consumed by
// the policy/value network.
package convert

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/brensch/gomokuzero/game"
)

const (
	Channels      = 1
	BytesPerFloat = 4
)

// pools are keyed by board size; self-play normally uses a single size so
// this map stays tiny.
var (
	poolsMu    sync.Mutex
	floatPools = map[int]*sync.Pool{}
)

func floatPool(size int) *sync.Pool {
	poolsMu.Lock()
	defer poolsMu.Unlock()
	p, ok := floatPools[size]
	if !ok {
		n := Channels * size * size
		p = &sync.Pool{
			New: func() interface{} {
				b := make([]float32, n)
				return &b
			},
		}
		floatPools[size] = p
	}
	return p
}

// FloatSize is the number of float32 values in one encoded state.
func FloatSize(boardSize int) int {
	return Channels * boardSize * boardSize
}

// GetFloatBuffer returns a zeroed buffer for a board of the given size.
func GetFloatBuffer(boardSize int) *[]float32 {
	b := floatPool(boardSize).Get().(*[]float32)
	clear(*b)
	return b
}

// PutFloatBuffer returns a buffer to the pool.
func PutFloatBuffer(boardSize int, b *[]float32) {
	floatPool(boardSize).Put(b)
}

// StateToFloat32 encodes the state from the perspective of the player to
// move: own stones 1, opponent stones -1, empty 0.
// Output shape: [Channels, Size, Size] (C, H, W), row-major.
// Caller must return the buffer with PutFloatBuffer.
func StateToFloat32(state *game.GameState) *[]float32 {
	size := state.Size()
	dataPtr := GetFloatBuffer(size)
	EncodeInto(*dataPtr, state.PerspectiveState())
	return dataPtr
}

// EncodeInto writes a perspective state into dst as float32.
func EncodeInto(dst []float32, perspective []int8) {
	for i, v := range perspective {
		dst[i] = float32(v)
	}
}

// PerspectiveToBytes flattens a perspective state into little-endian
// float32 bytes, the layout written to training shards.
func PerspectiveToBytes(perspective []int8) []byte {
	out := make([]byte, len(perspective)*BytesPerFloat)
	for i, v := range perspective {
		binary.LittleEndian.PutUint32(out[i*BytesPerFloat:], math.Float32bits(float32(v)))
	}
	return out
}

// BytesToFloat32 decodes PerspectiveToBytes output.
func BytesToFloat32(b []byte) []float32 {
	n := len(b) / BytesPerFloat
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*BytesPerFloat:]))
	}
	return out
}

// Symmetries is the number of dihedral transforms of a square board.
const Symmetries = 8

// TransformIndex maps a row-major cell index through dihedral transform k
// (0..7): k&3 quarter turns clockwise, then a horizontal flip if k&4.
func TransformIndex(size, idx, k int) int {
	r, c := idx/size, idx%size
	for i := 0; i < k&3; i++ {
		r, c = c, size-1-r
	}
	if k&4 != 0 {
		c = size - 1 - c
	}
	return r*size + c
}

// TransformPlane applies dihedral transform k to a size×size plane.
func TransformPlane[T any](size int, plane []T, k int) []T {
	out := make([]T, len(plane))
	for i := range plane {
		out[TransformIndex(size, i, k)] = plane[i]
	}
	return out
}
