package tensor

import (
	"errors"
	"fmt"
)

// DeviceType identifies where tensor kernels execute
type DeviceType int

const (
	CPU DeviceType = iota
	GPU
)

func (d DeviceType) String() string {
	switch d {
	case CPU:
		return "CPU"
	case GPU:
		return "GPU"
	default:
		return "Unknown"
	}
}

// DeviceFromID maps a device selector to a device. A negative id selects the
// CPU; non-negative ids name accelerators, which this build does not provide.
func DeviceFromID(id int) (DeviceType, error) {
	if id < 0 {
		return CPU, nil
	}
	return CPU, fmt.Errorf("device %d unavailable: only the CPU backend (-1) is supported", id)
}

// Tensor is a dense, row-major float32 array with a fixed shape
type Tensor struct {
	Shape    []int
	Strides  []int
	Device   DeviceType
	Data     []float32
	NumElems int
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, device=%s, elements=%d)",
		t.Shape, t.Device, t.NumElems)
}

// ErrShapeMismatch is matched by every ShapeError
var ErrShapeMismatch = errors.New("tensor: shape mismatch")

// ShapeError reports a tensor whose shape violates a component precondition.
// Stage names the component and step that detected it.
type ShapeError struct {
	Stage string
	Want  []int
	Got   []int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: expected shape %v, got %v", e.Stage, e.Want, e.Got)
}

// Is lets errors.Is(err, ErrShapeMismatch) match any ShapeError
func (e *ShapeError) Is(target error) bool {
	return target == ErrShapeMismatch
}

// CheckShape returns a *ShapeError unless t has exactly the given shape
func CheckShape(t *Tensor, stage string, want ...int) error {
	if t == nil {
		return &ShapeError{Stage: stage, Want: want}
	}
	if !sameShape(t.Shape, want) {
		return &ShapeError{Stage: stage, Want: append([]int(nil), want...), Got: append([]int(nil), t.Shape...)}
	}
	return nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func calculateStrides(shape []int) []int {
	if len(shape) == 0 {
		return []int{}
	}

	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func calculateNumElements(shape []int) int {
	if len(shape) == 0 {
		return 0
	}

	elements := 1
	for _, dim := range shape {
		elements *= dim
	}
	return elements
}

func validateShape(shape []int) error {
	if len(shape) == 0 {
		return fmt.Errorf("invalid shape: at least one dimension is required")
	}
	for i, dim := range shape {
		if dim <= 0 {
			return fmt.Errorf("invalid shape: dimension %d has size %d, must be positive", i, dim)
		}
	}
	return nil
}
