package tensor

import (
	"math"
	"strings"
	"testing"
)

func TestClone(t *testing.T) {
	original, _ := NewTensor([]int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	clone := original.Clone()

	if !clone.Equal(original) {
		t.Fatal("clone differs from original")
	}

	original.Data[0] = 999
	if clone.Data[0] == 999 {
		t.Error("Clone shares data with original (not deep copy)")
	}
}

func TestAtAndSetAt(t *testing.T) {
	x := MustZeros(2, 3)
	if err := x.SetAt(7, 1, 2); err != nil {
		t.Fatalf("SetAt failed: %v", err)
	}
	v, err := x.At(1, 2)
	if err != nil || v != 7 {
		t.Errorf("At(1, 2) = %f, %v", v, err)
	}
	if x.Data[5] != 7 {
		t.Errorf("row-major offset wrong: %v", x.Data)
	}

	if _, err := x.At(2, 0); err == nil {
		t.Error("expected out of bounds error")
	}
	if _, err := x.At(0); err == nil {
		t.Error("expected wrong index count error")
	}
}

func TestAllClose(t *testing.T) {
	a, _ := NewTensor([]int{2}, []float32{1, 2})
	b, _ := NewTensor([]int{2}, []float32{1.0001, 2})

	if !a.AllClose(b, 0, 1e-3) {
		t.Error("expected tensors to be close")
	}
	if a.AllClose(b, 0, 1e-6) {
		t.Error("expected tensors to differ")
	}
	if a.AllClose(MustZeros(3), 1, 1) {
		t.Error("different shapes are never close")
	}
}

func TestHasNaN(t *testing.T) {
	x := MustZeros(3)
	if x.HasNaN() {
		t.Error("zeros reported as NaN")
	}
	x.Data[1] = float32(math.Inf(1))
	if !x.HasNaN() {
		t.Error("Inf not detected")
	}
}

func TestPrintData(t *testing.T) {
	x, _ := NewTensor([]int{5}, []float32{1, 2, 3, 4, 5})
	s := x.PrintData(2)
	if !strings.Contains(s, "1.0000, 2.0000") || !strings.Contains(s, "3 more") {
		t.Errorf("PrintData = %q", s)
	}
}
