package optimizer

import (
	"math"
	"testing"

	"github.com/tsawler/go-vae/tensor"
)

func TestAdaGradSteps(t *testing.T) {
	ada, err := NewAdaGradOptimizer(AdaGradConfig{LearningRate: 0.1, Epsilon: 1e-10}, [][]int{{2}})
	if err != nil {
		t.Fatalf("NewAdaGradOptimizer: %v", err)
	}
	w, g := newPair(t, []float32{0, 0}, []float32{2, -0.5})

	// the first step has magnitude lr whatever the gradient scale
	if err := ada.Step([]*tensor.Tensor{w}, []*tensor.Tensor{g}); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if !near(w.Data[0], -0.1) || !near(w.Data[1], 0.1) {
		t.Errorf("after one step weights = %v, want [-0.1 0.1]", w.Data)
	}

	// with the same gradient again the accumulated sum doubles
	if err := ada.Step([]*tensor.Tensor{w}, []*tensor.Tensor{g}); err != nil {
		t.Fatalf("Step: %v", err)
	}
	want := 0.1 + 0.1/math.Sqrt2
	if math.Abs(float64(w.Data[0])+want) > 1e-5 {
		t.Errorf("after two steps w[0] = %v, want %v", w.Data[0], -want)
	}
	if ada.GetStepCount() != 2 || ada.Name() != "AdaGrad" {
		t.Errorf("steps=%d name=%s", ada.GetStepCount(), ada.Name())
	}
}

func TestAdaGradValidation(t *testing.T) {
	bad := []AdaGradConfig{
		{LearningRate: -0.1, Epsilon: 1e-10},
		{LearningRate: 0.1},
		{LearningRate: 0.1, Epsilon: 1e-10, WeightDecay: -1},
	}
	for _, config := range bad {
		if _, err := NewAdaGradOptimizer(config, [][]int{{1}}); err == nil {
			t.Errorf("expected error for %+v", config)
		}
	}
}
