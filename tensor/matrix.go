package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// general views a 2D tensor as a blas32 matrix without copying
func general(t *Tensor) blas32.General {
	return blas32.General{
		Rows:   t.Shape[0],
		Cols:   t.Shape[1],
		Stride: t.Shape[1],
		Data:   t.Data,
	}
}

func require2D(t *Tensor, op string) error {
	if t == nil {
		return fmt.Errorf("%s: nil tensor", op)
	}
	if len(t.Shape) != 2 {
		return fmt.Errorf("%s requires a 2D tensor, got shape %v", op, t.Shape)
	}
	return nil
}

// MatMul returns a·b for a (m×k) and b (k×n)
func MatMul(a, b *Tensor) (*Tensor, error) {
	if err := require2D(a, "matmul"); err != nil {
		return nil, err
	}
	if err := require2D(b, "matmul"); err != nil {
		return nil, err
	}
	if a.Shape[1] != b.Shape[0] {
		return nil, &ShapeError{
			Stage: fmt.Sprintf("matmul (%d, %d) x (%d, %d)", a.Shape[0], a.Shape[1], b.Shape[0], b.Shape[1]),
			Want:  []int{a.Shape[1], b.Shape[1]},
			Got:   append([]int(nil), b.Shape...),
		}
	}

	result := MustZeros(a.Shape[0], b.Shape[1])
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, general(a), general(b), 0, general(result))
	return result, nil
}

// MatMulTransA returns aᵀ·b for a (k×m) and b (k×n). Summing outer products
// over the shared leading (batch) dimension is exactly this product.
func MatMulTransA(a, b *Tensor) (*Tensor, error) {
	if err := require2D(a, "matmul_trans_a"); err != nil {
		return nil, err
	}
	if err := require2D(b, "matmul_trans_a"); err != nil {
		return nil, err
	}
	if a.Shape[0] != b.Shape[0] {
		return nil, &ShapeError{
			Stage: fmt.Sprintf("matmul_trans_a (%d, %d)ᵀ x (%d, %d)", a.Shape[0], a.Shape[1], b.Shape[0], b.Shape[1]),
			Want:  []int{a.Shape[0], b.Shape[1]},
			Got:   append([]int(nil), b.Shape...),
		}
	}

	result := MustZeros(a.Shape[1], b.Shape[1])
	blas32.Gemm(blas.Trans, blas.NoTrans, 1, general(a), general(b), 0, general(result))
	return result, nil
}

// MatMulTransB returns a·bᵀ for a (m×k) and b (n×k)
func MatMulTransB(a, b *Tensor) (*Tensor, error) {
	if err := require2D(a, "matmul_trans_b"); err != nil {
		return nil, err
	}
	if err := require2D(b, "matmul_trans_b"); err != nil {
		return nil, err
	}
	if a.Shape[1] != b.Shape[1] {
		return nil, &ShapeError{
			Stage: fmt.Sprintf("matmul_trans_b (%d, %d) x (%d, %d)ᵀ", a.Shape[0], a.Shape[1], b.Shape[0], b.Shape[1]),
			Want:  []int{b.Shape[0], a.Shape[1]},
			Got:   append([]int(nil), b.Shape...),
		}
	}

	result := MustZeros(a.Shape[0], b.Shape[0])
	blas32.Gemm(blas.NoTrans, blas.Trans, 1, general(a), general(b), 0, general(result))
	return result, nil
}

// Linear computes x·w + b with b broadcast over the rows of the product
func Linear(x, w, b *Tensor) (*Tensor, error) {
	out, err := MatMul(x, w)
	if err != nil {
		return nil, err
	}
	if err := AddRowVector(out, b); err != nil {
		return nil, err
	}
	return out, nil
}

// AddRowVector adds the vector v to every row of the 2D tensor t in place
func AddRowVector(t, v *Tensor) error {
	if err := require2D(t, "add_row_vector"); err != nil {
		return err
	}
	cols := t.Shape[1]
	if err := CheckShape(v, "add_row_vector", cols); err != nil {
		return err
	}
	for r := 0; r < t.Shape[0]; r++ {
		row := t.Data[r*cols : (r+1)*cols]
		for c, x := range v.Data {
			row[c] += x
		}
	}
	return nil
}

// SumRows reduces a 2D tensor over its first (batch) dimension
func SumRows(t *Tensor) (*Tensor, error) {
	if err := require2D(t, "sum_rows"); err != nil {
		return nil, err
	}
	cols := t.Shape[1]
	result := MustZeros(cols)
	for r := 0; r < t.Shape[0]; r++ {
		row := t.Data[r*cols : (r+1)*cols]
		for c, x := range row {
			result.Data[c] += x
		}
	}
	return result, nil
}

// Reshape returns a view of t with a new shape sharing the same data.
// A single -1 dimension is inferred from the element count.
func Reshape(t *Tensor, newShape ...int) (*Tensor, error) {
	shape := append([]int(nil), newShape...)
	inferred := -1
	known := 1
	for i, dim := range shape {
		switch {
		case dim == -1:
			if inferred >= 0 {
				return nil, fmt.Errorf("only one dimension can be -1")
			}
			inferred = i
		case dim <= 0:
			return nil, fmt.Errorf("dimension %d has size %d, must be positive or -1", i, dim)
		default:
			known *= dim
		}
	}
	if inferred >= 0 {
		if t.NumElems%known != 0 {
			return nil, fmt.Errorf("cannot reshape tensor of size %d into shape %v", t.NumElems, newShape)
		}
		shape[inferred] = t.NumElems / known
		known *= shape[inferred]
	}
	if known != t.NumElems {
		return nil, fmt.Errorf("cannot reshape tensor of size %d into shape %v (size %d)",
			t.NumElems, shape, known)
	}

	return &Tensor{
		Shape:    shape,
		Strides:  calculateStrides(shape),
		Device:   t.Device,
		Data:     t.Data,
		NumElems: t.NumElems,
	}, nil
}

// Rows returns a view of rows [start, end) of a tensor whose first dimension
// indexes batch items
func Rows(t *Tensor, start, end int) (*Tensor, error) {
	if len(t.Shape) == 0 || start < 0 || end > t.Shape[0] || start >= end {
		return nil, fmt.Errorf("row range [%d, %d) out of bounds for shape %v", start, end, t.Shape)
	}
	rowSize := t.NumElems / t.Shape[0]
	shape := append([]int{end - start}, t.Shape[1:]...)
	return &Tensor{
		Shape:    shape,
		Strides:  calculateStrides(shape),
		Device:   t.Device,
		Data:     t.Data[start*rowSize : end*rowSize],
		NumElems: (end - start) * rowSize,
	}, nil
}
