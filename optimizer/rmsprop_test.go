package optimizer

import (
	"math"
	"testing"

	"github.com/tsawler/go-vae/tensor"
)

func TestRMSPropFirstStep(t *testing.T) {
	rms, err := NewRMSPropOptimizer(RMSPropConfig{LearningRate: 0.01, Alpha: 0.99, Epsilon: 1e-8}, [][]int{{2}})
	if err != nil {
		t.Fatalf("NewRMSPropOptimizer: %v", err)
	}
	w, g := newPair(t, []float32{1, 1}, []float32{0.5, -0.5})
	if err := rms.Step([]*tensor.Tensor{w}, []*tensor.Tensor{g}); err != nil {
		t.Fatalf("Step: %v", err)
	}

	// v = 0.01·g², so the first step is lr·g/(0.1·|g|) = 10·lr in the sign of g
	if math.Abs(float64(w.Data[0])-0.9) > 1e-5 || math.Abs(float64(w.Data[1])-1.1) > 1e-5 {
		t.Errorf("weights = %v, want [0.9 1.1]", w.Data)
	}
	if rms.MomentumBuffers != nil || rms.GradientAvgBuffers != nil {
		t.Error("plain RMSProp should not allocate momentum or gradient average buffers")
	}
}

func TestRMSPropVariants(t *testing.T) {
	step := func(config RMSPropConfig, steps int) float32 {
		t.Helper()
		rms, err := NewRMSPropOptimizer(config, [][]int{{1}})
		if err != nil {
			t.Fatalf("NewRMSPropOptimizer: %v", err)
		}
		w, g := newPair(t, []float32{0}, []float32{0.5})
		for i := 0; i < steps; i++ {
			if err := rms.Step([]*tensor.Tensor{w}, []*tensor.Tensor{g}); err != nil {
				t.Fatalf("Step: %v", err)
			}
		}
		return -w.Data[0]
	}

	base := DefaultRMSPropConfig()
	plain := step(base, 1)

	centered := base
	centered.Centered = true
	// subtracting the squared mean shrinks the denominator
	if c := step(centered, 1); c <= plain {
		t.Errorf("centered step %v should exceed plain step %v", c, plain)
	}

	withMomentum := base
	withMomentum.Momentum = 0.9
	plainTwo := step(base, 2)
	// second momentum step adds 0.9 of the first on top of a plain step
	second := float64(plainTwo - plain)
	want := float64(plain) + 0.9*float64(plain) + second
	if got := float64(step(withMomentum, 2)); math.Abs(got-want) > 1e-5 {
		t.Errorf("momentum displacement = %v, want %v", got, want)
	}
}

func TestRMSPropValidation(t *testing.T) {
	tests := []struct {
		name   string
		config RMSPropConfig
	}{
		{"negative lr", RMSPropConfig{LearningRate: -1, Alpha: 0.9, Epsilon: 1e-8}},
		{"alpha one", RMSPropConfig{LearningRate: 0.1, Alpha: 1, Epsilon: 1e-8}},
		{"zero epsilon", RMSPropConfig{LearningRate: 0.1, Alpha: 0.9}},
		{"negative decay", RMSPropConfig{LearningRate: 0.1, Alpha: 0.9, Epsilon: 1e-8, WeightDecay: -1}},
		{"momentum one", RMSPropConfig{LearningRate: 0.1, Alpha: 0.9, Epsilon: 1e-8, Momentum: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRMSPropOptimizer(tt.config, [][]int{{1}}); err == nil {
				t.Error("expected error")
			}
		})
	}
	if _, err := NewRMSPropOptimizer(DefaultRMSPropConfig(), nil); err == nil {
		t.Error("expected error without weight shapes")
	}
}

func TestRMSPropRejectsIncompatibleState(t *testing.T) {
	withMomentum := DefaultRMSPropConfig()
	withMomentum.Momentum = 0.9
	source, _ := NewRMSPropOptimizer(withMomentum, [][]int{{1}})
	state, _ := source.GetState()

	target, _ := NewRMSPropOptimizer(DefaultRMSPropConfig(), [][]int{{1}})
	if err := target.LoadState(state); err == nil {
		t.Error("expected error loading momentum state into a momentum-free optimizer")
	}
}
