package tensor

import (
	"fmt"
	"strings"

	"github.com/chewxy/math32"
)

// Clone creates a deep copy of the tensor
func (t *Tensor) Clone() *Tensor {
	data := make([]float32, len(t.Data))
	copy(data, t.Data)
	return &Tensor{
		Shape:    append([]int(nil), t.Shape...),
		Strides:  append([]int(nil), t.Strides...),
		Device:   t.Device,
		Data:     data,
		NumElems: t.NumElems,
	}
}

// Size returns a copy of the tensor shape
func (t *Tensor) Size() []int {
	return append([]int(nil), t.Shape...)
}

// Numel returns the number of elements
func (t *Tensor) Numel() int {
	return t.NumElems
}

// Dim returns the number of dimensions
func (t *Tensor) Dim() int {
	return len(t.Shape)
}

func (t *Tensor) offset(indices []int) (int, error) {
	if len(indices) != len(t.Shape) {
		return 0, fmt.Errorf("number of indices (%d) doesn't match tensor dimensions (%d)", len(indices), len(t.Shape))
	}
	flatIndex := 0
	for i, idx := range indices {
		if idx < 0 || idx >= t.Shape[i] {
			return 0, fmt.Errorf("index %d out of bounds for dimension %d (size %d)", idx, i, t.Shape[i])
		}
		flatIndex += idx * t.Strides[i]
	}
	return flatIndex, nil
}

// At returns the element at the given indices
func (t *Tensor) At(indices ...int) (float32, error) {
	i, err := t.offset(indices)
	if err != nil {
		return 0, err
	}
	return t.Data[i], nil
}

// SetAt sets the element at the given indices
func (t *Tensor) SetAt(value float32, indices ...int) error {
	i, err := t.offset(indices)
	if err != nil {
		return err
	}
	t.Data[i] = value
	return nil
}

// Fill sets every element to value
func (t *Tensor) Fill(value float32) {
	for i := range t.Data {
		t.Data[i] = value
	}
}

// Equal reports whether two tensors have the same shape and identical elements
func (t *Tensor) Equal(other *Tensor) bool {
	if other == nil || !sameShape(t.Shape, other.Shape) {
		return false
	}
	for i, v := range t.Data {
		if v != other.Data[i] {
			return false
		}
	}
	return true
}

// AllClose reports whether every pair of elements satisfies
// |a-b| <= atol + rtol*|b|
func (t *Tensor) AllClose(other *Tensor, rtol, atol float32) bool {
	if other == nil || !sameShape(t.Shape, other.Shape) {
		return false
	}
	for i, a := range t.Data {
		b := other.Data[i]
		if math32.Abs(a-b) > atol+rtol*math32.Abs(b) {
			return false
		}
	}
	return true
}

// HasNaN reports whether any element is NaN or infinite
func (t *Tensor) HasNaN() bool {
	for _, v := range t.Data {
		if math32.IsNaN(v) || math32.IsInf(v, 0) {
			return true
		}
	}
	return false
}

// PrintData returns a string representation of the first maxElements values
func (t *Tensor) PrintData(maxElements int) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Tensor(shape=%v, device=%s)\n", t.Shape, t.Device))

	limit := len(t.Data)
	if maxElements > 0 && limit > maxElements {
		limit = maxElements
	}
	sb.WriteString("Data: [")
	for i := 0; i < limit; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(fmt.Sprintf("%.4f", t.Data[i]))
	}
	if limit < len(t.Data) {
		sb.WriteString(fmt.Sprintf(", ... (%d more)", len(t.Data)-limit))
	}
	sb.WriteString("]")
	return sb.String()
}
