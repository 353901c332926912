package optimizer

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/tsawler/go-vae/tensor"
)

// AdaGradOptimizerState accumulates squared gradients so that frequently
// updated coordinates take smaller steps
type AdaGradOptimizerState struct {
	LearningRate float32
	Epsilon      float32
	WeightDecay  float32

	SquaredGradSumBuffers []*tensor.Tensor

	StepCount uint64

	shapes [][]int
}

// AdaGradConfig holds configuration for AdaGrad optimizer
type AdaGradConfig struct {
	LearningRate float32
	Epsilon      float32
	WeightDecay  float32
}

// DefaultAdaGradConfig returns default AdaGrad optimizer configuration
func DefaultAdaGradConfig() AdaGradConfig {
	return AdaGradConfig{
		LearningRate: 0.01,
		Epsilon:      1e-10,
	}
}

// NewAdaGradOptimizer creates a new AdaGrad optimizer for weights of the given shapes
func NewAdaGradOptimizer(config AdaGradConfig, weightShapes [][]int) (*AdaGradOptimizerState, error) {
	if len(weightShapes) == 0 {
		return nil, fmt.Errorf("no weight shapes provided")
	}
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Epsilon <= 0 {
		return nil, fmt.Errorf("epsilon must be positive: %g", config.Epsilon)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay cannot be negative: %f", config.WeightDecay)
	}

	sums, err := allocateBuffers(weightShapes)
	if err != nil {
		return nil, err
	}
	return &AdaGradOptimizerState{
		LearningRate:          config.LearningRate,
		Epsilon:               config.Epsilon,
		WeightDecay:           config.WeightDecay,
		SquaredGradSumBuffers: sums,
		shapes:                copyShapes(weightShapes),
	}, nil
}

// Step performs a single AdaGrad update
func (ada *AdaGradOptimizerState) Step(weights, grads []*tensor.Tensor) error {
	if err := checkStepInputs("AdaGrad", ada.shapes, weights, grads); err != nil {
		return err
	}

	ada.StepCount++

	for i, w := range weights {
		sum := ada.SquaredGradSumBuffers[i].Data
		for j, g := range grads[i].Data {
			if ada.WeightDecay > 0 {
				g += ada.WeightDecay * w.Data[j]
			}
			sum[j] += g * g
			w.Data[j] -= ada.LearningRate * g / (math32.Sqrt(sum[j]) + ada.Epsilon)
		}
	}
	return nil
}

func (ada *AdaGradOptimizerState) UpdateLearningRate(newLR float32) {
	ada.LearningRate = newLR
}

func (ada *AdaGradOptimizerState) GetLearningRate() float32 {
	return ada.LearningRate
}

func (ada *AdaGradOptimizerState) GetStepCount() uint64 {
	return ada.StepCount
}

func (ada *AdaGradOptimizerState) Name() string {
	return "AdaGrad"
}

// GetState extracts optimizer state for checkpointing
func (ada *AdaGradOptimizerState) GetState() (*OptimizerState, error) {
	return &OptimizerState{
		Type: "AdaGrad",
		Parameters: map[string]interface{}{
			"learning_rate": ada.LearningRate,
			"epsilon":       ada.Epsilon,
			"weight_decay":  ada.WeightDecay,
			"step_count":    ada.StepCount,
		},
		StateData: extractBuffers(ada.SquaredGradSumBuffers, "squared_grad_sum"),
	}, nil
}

// LoadState restores optimizer state from checkpoint
func (ada *AdaGradOptimizerState) LoadState(state *OptimizerState) error {
	if err := validateStateType("AdaGrad", state); err != nil {
		return err
	}
	if err := restoreBuffers(state, map[string][]*tensor.Tensor{"squared_grad_sum": ada.SquaredGradSumBuffers}); err != nil {
		return err
	}

	ada.LearningRate = extractFloat32Param(state.Parameters, "learning_rate", ada.LearningRate)
	ada.Epsilon = extractFloat32Param(state.Parameters, "epsilon", ada.Epsilon)
	ada.WeightDecay = extractFloat32Param(state.Parameters, "weight_decay", ada.WeightDecay)
	ada.StepCount = extractUint64Param(state.Parameters, "step_count", ada.StepCount)
	return nil
}
