package optimizer

import (
	"math"
	"testing"

	"github.com/tsawler/go-vae/tensor"
)

func TestAdaDeltaFirstStep(t *testing.T) {
	ad, err := NewAdaDeltaOptimizer(DefaultAdaDeltaConfig(), [][]int{{1}})
	if err != nil {
		t.Fatalf("NewAdaDeltaOptimizer: %v", err)
	}
	w, g := newPair(t, []float32{1}, []float32{0.5})
	if err := ad.Step([]*tensor.Tensor{w}, []*tensor.Tensor{g}); err != nil {
		t.Fatalf("Step: %v", err)
	}

	// E[g²] = 0.05·0.25 and E[Δx²] starts at zero
	delta := math.Sqrt(1e-6) / math.Sqrt(0.05*0.25+1e-6) * 0.5
	if math.Abs(float64(w.Data[0])-(1-delta)) > 1e-6 {
		t.Errorf("w = %v, want %v", w.Data[0], 1-delta)
	}
	wantUpdateAvg := 0.05 * delta * delta
	if got := float64(ad.SquaredUpdateAvgBuffers[0].Data[0]); math.Abs(got-wantUpdateAvg) > 1e-9 {
		t.Errorf("E[Δx²] = %g, want %g", got, wantUpdateAvg)
	}
}

func TestAdaDeltaLearningRateScalesUpdate(t *testing.T) {
	half := DefaultAdaDeltaConfig()
	half.LearningRate = 0.5
	full, _ := NewAdaDeltaOptimizer(DefaultAdaDeltaConfig(), [][]int{{1}})
	halved, _ := NewAdaDeltaOptimizer(half, [][]int{{1}})

	wf, g := newPair(t, []float32{0}, []float32{1})
	wh := wf.Clone()
	_ = full.Step([]*tensor.Tensor{wf}, []*tensor.Tensor{g})
	_ = halved.Step([]*tensor.Tensor{wh}, []*tensor.Tensor{g})
	if !near(wh.Data[0]*2, wf.Data[0]) {
		t.Errorf("halved lr step %v, full step %v", wh.Data[0], wf.Data[0])
	}
}

func TestAdaDeltaValidation(t *testing.T) {
	bad := []AdaDeltaConfig{
		{LearningRate: -1, Rho: 0.9, Epsilon: 1e-6},
		{LearningRate: 1, Rho: 1, Epsilon: 1e-6},
		{LearningRate: 1, Rho: 0.9},
		{LearningRate: 1, Rho: 0.9, Epsilon: 1e-6, WeightDecay: -0.1},
	}
	for _, config := range bad {
		if _, err := NewAdaDeltaOptimizer(config, [][]int{{1}}); err == nil {
			t.Errorf("expected error for %+v", config)
		}
	}
}
