package tensor

import (
	"fmt"
	"math/rand"
)

// NewTensor wraps data in a tensor of the given shape. A nil data slice
// allocates zeroed storage; otherwise the slice is used without copying.
func NewTensor(shape []int, data []float32) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)
	if data == nil {
		data = make([]float32, numElems)
	}
	if len(data) != numElems {
		return nil, fmt.Errorf("data length %d does not match tensor size %d", len(data), numElems)
	}

	return &Tensor{
		Shape:    append([]int(nil), shape...),
		Strides:  calculateStrides(shape),
		Device:   CPU,
		Data:     data,
		NumElems: numElems,
	}, nil
}

// Zeros allocates a zero-filled tensor
func Zeros(shape ...int) (*Tensor, error) {
	return NewTensor(shape, nil)
}

// MustZeros is Zeros for shapes already validated by the caller
func MustZeros(shape ...int) *Tensor {
	t, err := Zeros(shape...)
	if err != nil {
		panic(err)
	}
	return t
}

// Full allocates a tensor with every element set to value
func Full(shape []int, value float32) (*Tensor, error) {
	t, err := NewTensor(shape, nil)
	if err != nil {
		return nil, err
	}
	for i := range t.Data {
		t.Data[i] = value
	}
	return t, nil
}

// ZerosLike allocates a zero tensor with the shape of t
func ZerosLike(t *Tensor) *Tensor {
	return MustZeros(t.Shape...)
}

// RandomNormal draws every element from N(mean, std^2) using rng.
// Passing the same seeded rng yields the same tensor.
func RandomNormal(shape []int, mean, std float32, rng *rand.Rand) (*Tensor, error) {
	if rng == nil {
		return nil, fmt.Errorf("RandomNormal requires a random source")
	}

	t, err := NewTensor(shape, nil)
	if err != nil {
		return nil, err
	}
	for i := range t.Data {
		t.Data[i] = float32(rng.NormFloat64())*std + mean
	}
	return t, nil
}
