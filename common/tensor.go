package common

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Channels is the number of planes in a model input tensor (R, G, B).
const Channels = 3

// Tensor is a planar [1, 3, H, W] float32 model input.
//
// Data holds all R values, then all G values, then all B values, each normalized
// to [0, 1].
type Tensor struct {
	Data  []float32
	Shape tensor.Shape
}

// NewTensor allocates a zeroed [1, 3, height, width] tensor.
func NewTensor(width, height int) Tensor {
	return WrapTensor(make([]float32, Channels*width*height), width, height)
}

// WrapTensor uses data as the backing store of a [1, 3, height, width] tensor.
// The caller guarantees len(data) == 3*width*height; Validate reports otherwise.
func WrapTensor(data []float32, width, height int) Tensor {
	return Tensor{
		Data:  data,
		Shape: tensor.Shape{1, Channels, height, width},
	}
}

// Width returns the W dimension.
func (t Tensor) Width() int {
	if t.Shape.Dims() != 4 {
		return 0
	}
	return t.Shape[3]
}

// Height returns the H dimension.
func (t Tensor) Height() int {
	if t.Shape.Dims() != 4 {
		return 0
	}
	return t.Shape[2]
}

// Validate checks the NCHW layout and that Data covers the shape exactly.
func (t Tensor) Validate() error {
	if t.Shape.Dims() != 4 || t.Shape[0] != 1 || t.Shape[1] != Channels {
		return errors.Errorf("tensor shape %v, want [1 %d H W]", t.Shape, Channels)
	}
	if len(t.Data) != t.Shape.TotalSize() {
		return errors.Errorf("tensor holds %d floats, shape %v needs %d",
			len(t.Data), t.Shape, t.Shape.TotalSize())
	}
	return nil
}

// Is reports whether the tensor is a [1, 3, height, width] input.
func (t Tensor) Is(width, height int) bool {
	return t.Shape.Eq(tensor.Shape{1, Channels, height, width})
}

// Shape64 returns the shape as int64 dimensions, the form inference runtimes take.
func (t Tensor) Shape64() []int64 {
	dims := make([]int64, len(t.Shape))
	for i, d := range t.Shape {
		dims[i] = int64(d)
	}
	return dims
}
