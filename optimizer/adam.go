package optimizer

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/tsawler/go-vae/tensor"
)

// AdamOptimizerState holds Adam hyperparameters and moment buffers
type AdamOptimizerState struct {
	// Hyperparameters
	LearningRate float32
	Beta1        float32 // Momentum decay (typically 0.9)
	Beta2        float32 // Variance decay (typically 0.999)
	Epsilon      float32 // Small constant to prevent division by zero (typically 1e-8)
	WeightDecay  float32 // L2 regularization coefficient

	MomentumBuffers []*tensor.Tensor // First moment (momentum) for each weight tensor
	VarianceBuffers []*tensor.Tensor // Second moment (variance) for each weight tensor

	// Step tracking for bias correction
	StepCount uint64

	shapes [][]int
}

// AdamConfig holds configuration for Adam optimizer
type AdamConfig struct {
	LearningRate float32
	Beta1        float32
	Beta2        float32
	Epsilon      float32
	WeightDecay  float32
}

// DefaultAdamConfig returns default Adam optimizer configuration
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
	}
}

// NewAdamOptimizer creates a new Adam optimizer for weights of the given shapes
func NewAdamOptimizer(config AdamConfig, weightShapes [][]int) (*AdamOptimizerState, error) {
	if len(weightShapes) == 0 {
		return nil, fmt.Errorf("no weight shapes provided")
	}
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Beta1 < 0 || config.Beta1 >= 1 {
		return nil, fmt.Errorf("beta1 must be in [0, 1): %f", config.Beta1)
	}
	if config.Beta2 < 0 || config.Beta2 >= 1 {
		return nil, fmt.Errorf("beta2 must be in [0, 1): %f", config.Beta2)
	}
	if config.Epsilon <= 0 {
		return nil, fmt.Errorf("epsilon must be positive: %g", config.Epsilon)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay cannot be negative: %f", config.WeightDecay)
	}

	momentum, err := allocateBuffers(weightShapes)
	if err != nil {
		return nil, err
	}
	variance, err := allocateBuffers(weightShapes)
	if err != nil {
		return nil, err
	}

	return &AdamOptimizerState{
		LearningRate:    config.LearningRate,
		Beta1:           config.Beta1,
		Beta2:           config.Beta2,
		Epsilon:         config.Epsilon,
		WeightDecay:     config.WeightDecay,
		MomentumBuffers: momentum,
		VarianceBuffers: variance,
		shapes:          copyShapes(weightShapes),
	}, nil
}

// Step performs a single Adam optimization step with bias correction
func (adam *AdamOptimizerState) Step(weights, grads []*tensor.Tensor) error {
	if err := checkStepInputs("Adam", adam.shapes, weights, grads); err != nil {
		return err
	}

	adam.StepCount++

	t := float32(adam.StepCount)
	biasCorrection1 := 1 - math32.Pow(adam.Beta1, t)
	biasCorrection2 := 1 - math32.Pow(adam.Beta2, t)

	for i, w := range weights {
		m := adam.MomentumBuffers[i].Data
		v := adam.VarianceBuffers[i].Data
		for j, g := range grads[i].Data {
			if adam.WeightDecay > 0 {
				g += adam.WeightDecay * w.Data[j]
			}
			m[j] = adam.Beta1*m[j] + (1-adam.Beta1)*g
			v[j] = adam.Beta2*v[j] + (1-adam.Beta2)*g*g

			mHat := m[j] / biasCorrection1
			vHat := v[j] / biasCorrection2
			w.Data[j] -= adam.LearningRate * mHat / (math32.Sqrt(vHat) + adam.Epsilon)
		}
	}

	return nil
}

// UpdateLearningRate updates the learning rate
func (adam *AdamOptimizerState) UpdateLearningRate(newLR float32) {
	adam.LearningRate = newLR
}

// GetLearningRate returns the current learning rate
func (adam *AdamOptimizerState) GetLearningRate() float32 {
	return adam.LearningRate
}

// GetStepCount returns the current step count
func (adam *AdamOptimizerState) GetStepCount() uint64 {
	return adam.StepCount
}

func (adam *AdamOptimizerState) Name() string {
	return "Adam"
}

// GetStats returns a summary of the optimizer for logging
func (adam *AdamOptimizerState) GetStats() AdamStats {
	elements := 0
	for _, m := range adam.MomentumBuffers {
		elements += m.NumElems
	}
	return AdamStats{
		StepCount:     adam.StepCount,
		LearningRate:  adam.LearningRate,
		Beta1:         adam.Beta1,
		Beta2:         adam.Beta2,
		Epsilon:       adam.Epsilon,
		WeightDecay:   adam.WeightDecay,
		NumWeights:    len(adam.shapes),
		StateElements: 2 * elements,
	}
}

// AdamStats provides statistics about the Adam optimizer
type AdamStats struct {
	StepCount     uint64
	LearningRate  float32
	Beta1         float32
	Beta2         float32
	Epsilon       float32
	WeightDecay   float32
	NumWeights    int
	StateElements int
}

// GetState extracts optimizer state for checkpointing
func (adam *AdamOptimizerState) GetState() (*OptimizerState, error) {
	return &OptimizerState{
		Type: "Adam",
		Parameters: map[string]interface{}{
			"learning_rate": adam.LearningRate,
			"beta1":         adam.Beta1,
			"beta2":         adam.Beta2,
			"epsilon":       adam.Epsilon,
			"weight_decay":  adam.WeightDecay,
			"step_count":    adam.StepCount,
		},
		StateData: append(extractBuffers(adam.MomentumBuffers, "momentum"),
			extractBuffers(adam.VarianceBuffers, "variance")...),
	}, nil
}

// LoadState restores optimizer state from checkpoint. On error the
// optimizer is unchanged.
func (adam *AdamOptimizerState) LoadState(state *OptimizerState) error {
	if err := validateStateType("Adam", state); err != nil {
		return err
	}
	err := restoreBuffers(state, map[string][]*tensor.Tensor{
		"momentum": adam.MomentumBuffers,
		"variance": adam.VarianceBuffers,
	})
	if err != nil {
		return err
	}

	adam.LearningRate = extractFloat32Param(state.Parameters, "learning_rate", adam.LearningRate)
	adam.Beta1 = extractFloat32Param(state.Parameters, "beta1", adam.Beta1)
	adam.Beta2 = extractFloat32Param(state.Parameters, "beta2", adam.Beta2)
	adam.Epsilon = extractFloat32Param(state.Parameters, "epsilon", adam.Epsilon)
	adam.WeightDecay = extractFloat32Param(state.Parameters, "weight_decay", adam.WeightDecay)
	adam.StepCount = extractUint64Param(state.Parameters, "step_count", adam.StepCount)
	return nil
}
