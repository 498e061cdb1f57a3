// Package tensor defines the fixed-shape arrays exchanged with the classifier.
package tensor

const (
	Batch    = 1
	Height   = 170
	Width    = 170
	Channels = 3

	// Classes is the length of the model's score vector.
	Classes = 2
)

// InputLen is the number of float32 values in an Input.
const InputLen = Batch * Height * Width * Channels

// InputShape is the NHWC shape the model artifact must declare for its input.
var InputShape = []int64{Batch, Height, Width, Channels}

// OutputShape is the shape the model artifact must declare for its output.
var OutputShape = []int64{Batch, Classes}

// Input is a (1,170,170,3) tensor in NHWC order with values in [0,1].
type Input [InputLen]float32

// At returns the value of channel c of the pixel at (x, y).
func (in *Input) At(y, x, c int) float32 {
	return in[Offset(y, x, c)]
}

// Data exposes the backing values as a slice.
func (in *Input) Data() []float32 {
	return in[:]
}

// Offset returns the flat index of channel c of the pixel at (x, y).
func Offset(y, x, c int) int {
	return (y*Width+x)*Channels + c
}

// Scores holds one score per class, index-aligned with the label table.
type Scores []float32

// SameShape reports whether a declared shape equals want.
func SameShape(got, want []int64) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

// Elements returns the product of a shape's dimensions.
func Elements(shape []int64) int64 {
	if len(shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}
