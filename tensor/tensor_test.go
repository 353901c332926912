package tensor

import (
	"errors"
	"reflect"
	"testing"
)

func TestDeviceFromID(t *testing.T) {
	tests := []struct {
		id      int
		want    DeviceType
		wantErr bool
	}{
		{-1, CPU, false},
		{-5, CPU, false},
		{0, CPU, true},
		{3, CPU, true},
	}

	for _, test := range tests {
		got, err := DeviceFromID(test.id)
		if (err != nil) != test.wantErr {
			t.Errorf("DeviceFromID(%d) error = %v, wantErr %v", test.id, err, test.wantErr)
		}
		if got != test.want {
			t.Errorf("DeviceFromID(%d) = %v, expected %v", test.id, got, test.want)
		}
	}
}

func TestDeviceTypeString(t *testing.T) {
	if CPU.String() != "CPU" || GPU.String() != "GPU" {
		t.Errorf("unexpected device names %q %q", CPU, GPU)
	}
	if DeviceType(9).String() != "Unknown" {
		t.Errorf("unknown device should print as Unknown")
	}
}

func TestCheckShape(t *testing.T) {
	x := MustZeros(2, 3)

	if err := CheckShape(x, "test", 2, 3); err != nil {
		t.Fatalf("CheckShape rejected matching shape: %v", err)
	}

	err := CheckShape(x, "encoder input", 2, 784)
	if err == nil {
		t.Fatal("expected shape mismatch")
	}
	if !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("error %v does not match ErrShapeMismatch", err)
	}

	var shapeErr *ShapeError
	if !errors.As(err, &shapeErr) {
		t.Fatalf("expected *ShapeError, got %T", err)
	}
	if shapeErr.Stage != "encoder input" {
		t.Errorf("Stage = %q", shapeErr.Stage)
	}
	if !reflect.DeepEqual(shapeErr.Want, []int{2, 784}) || !reflect.DeepEqual(shapeErr.Got, []int{2, 3}) {
		t.Errorf("Want/Got = %v/%v", shapeErr.Want, shapeErr.Got)
	}

	if err := CheckShape(nil, "nil", 1); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("nil tensor should be a shape mismatch, got %v", err)
	}
}

func TestCalculateStrides(t *testing.T) {
	tests := []struct {
		shape    []int
		expected []int
	}{
		{[]int{5}, []int{1}},
		{[]int{2, 3}, []int{3, 1}},
		{[]int{64, 28, 28, 1}, []int{784, 28, 1, 1}},
	}

	for _, test := range tests {
		result := calculateStrides(test.shape)
		if !reflect.DeepEqual(result, test.expected) {
			t.Errorf("calculateStrides(%v) = %v, expected %v", test.shape, result, test.expected)
		}
	}
}
