package optimizer

import (
	"math"
	"testing"

	"github.com/tsawler/go-vae/tensor"
)

func newPair(t *testing.T, w, g []float32) (*tensor.Tensor, *tensor.Tensor) {
	t.Helper()
	wt, err := tensor.NewTensor([]int{len(w)}, w)
	if err != nil {
		t.Fatalf("weight tensor: %v", err)
	}
	gt, err := tensor.NewTensor([]int{len(g)}, g)
	if err != nil {
		t.Fatalf("gradient tensor: %v", err)
	}
	return wt, gt
}

func near(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-6
}

func TestNewSGDOptimizerValidation(t *testing.T) {
	shapes := [][]int{{2}}
	tests := []struct {
		name   string
		config SGDConfig
		shapes [][]int
	}{
		{"negative learning rate", SGDConfig{LearningRate: -0.1}, shapes},
		{"negative momentum", SGDConfig{LearningRate: 0.1, Momentum: -0.5}, shapes},
		{"momentum above one", SGDConfig{LearningRate: 0.1, Momentum: 1.5}, shapes},
		{"negative weight decay", SGDConfig{LearningRate: 0.1, WeightDecay: -1}, shapes},
		{"nesterov without momentum", SGDConfig{LearningRate: 0.1, Nesterov: true}, shapes},
		{"no shapes", DefaultSGDConfig(), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSGDOptimizer(tt.config, tt.shapes); err == nil {
				t.Errorf("expected an error")
			}
		})
	}
}

func TestSGDPlainStep(t *testing.T) {
	sgd, err := NewSGDOptimizer(SGDConfig{LearningRate: 0.1}, [][]int{{3}})
	if err != nil {
		t.Fatalf("NewSGDOptimizer: %v", err)
	}
	w, g := newPair(t, []float32{1, 2, 3}, []float32{1, -2, 0.5})

	if err := sgd.Step([]*tensor.Tensor{w}, []*tensor.Tensor{g}); err != nil {
		t.Fatalf("Step: %v", err)
	}

	want := []float32{0.9, 2.2, 2.95}
	for i := range want {
		if !near(w.Data[i], want[i]) {
			t.Errorf("w[%d] = %v, want %v", i, w.Data[i], want[i])
		}
	}
	if g.Data[1] != -2 {
		t.Errorf("gradient modified: %v", g.Data)
	}
	if sgd.GetStepCount() != 1 {
		t.Errorf("step count = %d, want 1", sgd.GetStepCount())
	}
}

func TestSGDWeightDecayLeavesGradient(t *testing.T) {
	sgd, err := NewSGDOptimizer(SGDConfig{LearningRate: 0.5, WeightDecay: 0.1}, [][]int{{1}})
	if err != nil {
		t.Fatalf("NewSGDOptimizer: %v", err)
	}
	w, g := newPair(t, []float32{2}, []float32{1})
	if err := sgd.Step([]*tensor.Tensor{w}, []*tensor.Tensor{g}); err != nil {
		t.Fatalf("Step: %v", err)
	}
	// 2 - 0.5*(1 + 0.1*2)
	if !near(w.Data[0], 1.4) {
		t.Errorf("w = %v, want 1.4", w.Data[0])
	}
	if g.Data[0] != 1 {
		t.Errorf("gradient modified: %v", g.Data[0])
	}
}

func TestSGDMomentum(t *testing.T) {
	sgd, err := NewSGDOptimizer(SGDConfig{LearningRate: 1, Momentum: 0.5}, [][]int{{1}})
	if err != nil {
		t.Fatalf("NewSGDOptimizer: %v", err)
	}
	w, g := newPair(t, []float32{0}, []float32{1})
	ws, gs := []*tensor.Tensor{w}, []*tensor.Tensor{g}

	// v1 = 1, v2 = 1.5
	for i := 0; i < 2; i++ {
		if err := sgd.Step(ws, gs); err != nil {
			t.Fatalf("Step %d: %v", i, err)
		}
	}
	if !near(w.Data[0], -2.5) {
		t.Errorf("w = %v, want -2.5", w.Data[0])
	}
}

func TestSGDNesterov(t *testing.T) {
	sgd, err := NewSGDOptimizer(SGDConfig{LearningRate: 1, Momentum: 0.5, Nesterov: true}, [][]int{{1}})
	if err != nil {
		t.Fatalf("NewSGDOptimizer: %v", err)
	}
	w, g := newPair(t, []float32{0}, []float32{1})
	if err := sgd.Step([]*tensor.Tensor{w}, []*tensor.Tensor{g}); err != nil {
		t.Fatalf("Step: %v", err)
	}
	// v = 1, d = g + 0.5*v
	if !near(w.Data[0], -1.5) {
		t.Errorf("w = %v, want -1.5", w.Data[0])
	}
	if g.Data[0] != 1 {
		t.Errorf("gradient modified: %v", g.Data[0])
	}
}

func TestSGDStepRejectsMismatch(t *testing.T) {
	sgd, err := NewSGDOptimizer(DefaultSGDConfig(), [][]int{{2}})
	if err != nil {
		t.Fatalf("NewSGDOptimizer: %v", err)
	}
	w, g := newPair(t, []float32{1, 2}, []float32{1, 2, 3})

	t.Run("shape", func(t *testing.T) {
		if err := sgd.Step([]*tensor.Tensor{w}, []*tensor.Tensor{g}); err == nil {
			t.Errorf("expected shape error")
		}
	})
	t.Run("count", func(t *testing.T) {
		if err := sgd.Step([]*tensor.Tensor{w}, nil); err == nil {
			t.Errorf("expected count error")
		}
	})
	if sgd.GetStepCount() != 0 {
		t.Errorf("failed steps should not count, got %d", sgd.GetStepCount())
	}
}

func TestSGDStateRoundTrip(t *testing.T) {
	shapes := [][]int{{2}}
	sgd, err := NewSGDOptimizer(SGDConfig{LearningRate: 0.1, Momentum: 0.9}, shapes)
	if err != nil {
		t.Fatalf("NewSGDOptimizer: %v", err)
	}
	w, g := newPair(t, []float32{1, 1}, []float32{0.5, -0.5})
	if err := sgd.Step([]*tensor.Tensor{w}, []*tensor.Tensor{g}); err != nil {
		t.Fatalf("Step: %v", err)
	}

	state, err := sgd.GetState()
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if state.Type != "SGD" || len(state.StateData) != 1 {
		t.Fatalf("unexpected state: %+v", state)
	}

	restored, err := NewSGDOptimizer(SGDConfig{LearningRate: 0.5}, shapes)
	if err != nil {
		t.Fatalf("NewSGDOptimizer: %v", err)
	}
	if err := restored.LoadState(state); err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if restored.GetLearningRate() != 0.1 || restored.Momentum != 0.9 || restored.GetStepCount() != 1 {
		t.Errorf("hyperparameters not restored: lr=%v momentum=%v steps=%d",
			restored.GetLearningRate(), restored.Momentum, restored.GetStepCount())
	}
	if !restored.MomentumBuffers[0].Equal(sgd.MomentumBuffers[0]) {
		t.Errorf("momentum buffer not restored")
	}

	if err := restored.LoadState(&OptimizerState{Type: "Adam"}); err == nil {
		t.Errorf("expected type mismatch error")
	}
}
