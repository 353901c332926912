package tensor

import (
	"github.com/chewxy/math32"
)

func checkSameShape(t1, t2 *Tensor, op string) error {
	if !sameShape(t1.Shape, t2.Shape) {
		return &ShapeError{Stage: op, Want: append([]int(nil), t1.Shape...), Got: append([]int(nil), t2.Shape...)}
	}
	return nil
}

// Sub returns t1 - t2 elementwise
func Sub(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkSameShape(t1, t2, "sub"); err != nil {
		return nil, err
	}
	result := ZerosLike(t1)
	for i := range result.Data {
		result.Data[i] = t1.Data[i] - t2.Data[i]
	}
	return result, nil
}

// Mul returns the Hadamard product t1 ⊙ t2
func Mul(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkSameShape(t1, t2, "mul"); err != nil {
		return nil, err
	}
	result := ZerosLike(t1)
	for i := range result.Data {
		result.Data[i] = t1.Data[i] * t2.Data[i]
	}
	return result, nil
}

// AddInPlace accumulates src into dst
func AddInPlace(dst, src *Tensor) error {
	if err := checkSameShape(dst, src, "add_in_place"); err != nil {
		return err
	}
	for i, v := range src.Data {
		dst.Data[i] += v
	}
	return nil
}

// Scale returns alpha·t
func Scale(t *Tensor, alpha float32) *Tensor {
	return Map(t, func(x float32) float32 { return alpha * x })
}

// Exp returns e^t elementwise
func Exp(t *Tensor) *Tensor {
	return Map(t, math32.Exp)
}

// Clamp limits every element to [lo, hi]
func Clamp(t *Tensor, lo, hi float32) *Tensor {
	return Map(t, func(x float32) float32 {
		return math32.Min(math32.Max(x, lo), hi)
	})
}

// Map applies f elementwise and returns a new tensor of the same shape
func Map(t *Tensor, f func(float32) float32) *Tensor {
	result := ZerosLike(t)
	for i, x := range t.Data {
		result.Data[i] = f(x)
	}
	return result
}
