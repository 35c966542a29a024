package testutil

import (
	"bytes"
	"fmt"
)

// Frame is a minimal video frame used by the test handlers.
type Frame struct {
	Width  int
	Height int
	Seq    uint64
	Data   []byte
}

// NewFrame creates a frame of width*height bytes, each set to the low byte of seq.
func NewFrame(width, height int, seq uint64) Frame {
	data := make([]byte, width*height)
	for i := range data {
		data[i] = byte(seq)
	}
	return Frame{Width: width, Height: height, Seq: seq, Data: data}
}

// Equal reports whether two frames have identical dimensions, sequence and pixels.
func (f Frame) Equal(other Frame) bool {
	return f.Width == other.Width &&
		f.Height == other.Height &&
		f.Seq == other.Seq &&
		bytes.Equal(f.Data, other.Data)
}

func (f Frame) String() string {
	return fmt.Sprintf("frame#%d %dx%d", f.Seq, f.Width, f.Height)
}
