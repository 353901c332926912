package optimizer

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/tsawler/go-vae/tensor"
)

// NadamOptimizerState is Adam with a Nesterov look-ahead on the first moment
type NadamOptimizerState struct {
	// Hyperparameters
	LearningRate float32
	Beta1        float32
	Beta2        float32
	Epsilon      float32
	WeightDecay  float32

	MomentumBuffers []*tensor.Tensor
	VarianceBuffers []*tensor.Tensor

	StepCount uint64

	shapes [][]int
}

// NadamConfig holds configuration for Nadam optimizer
type NadamConfig struct {
	LearningRate float32 // typically 0.002
	Beta1        float32
	Beta2        float32
	Epsilon      float32
	WeightDecay  float32
}

// DefaultNadamConfig returns default Nadam optimizer configuration
func DefaultNadamConfig() NadamConfig {
	return NadamConfig{
		LearningRate: 0.002,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
	}
}

// NewNadamOptimizer creates a new Nadam optimizer for weights of the given shapes
func NewNadamOptimizer(config NadamConfig, weightShapes [][]int) (*NadamOptimizerState, error) {
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
	return &NadamOptimizerState{
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

// Step performs a single Nadam update:
// w -= lr·(β1·m̂ + (1-β1)·g/(1-β1^t)) / (√v̂ + ε)
func (nadam *NadamOptimizerState) Step(weights, grads []*tensor.Tensor) error {
	if err := checkStepInputs("Nadam", nadam.shapes, weights, grads); err != nil {
		return err
	}

	nadam.StepCount++

	t := float32(nadam.StepCount)
	biasCorrection1 := 1 - math32.Pow(nadam.Beta1, t)
	biasCorrection2 := 1 - math32.Pow(nadam.Beta2, t)

	for i, w := range weights {
		m := nadam.MomentumBuffers[i].Data
		v := nadam.VarianceBuffers[i].Data
		for j, g := range grads[i].Data {
			if nadam.WeightDecay > 0 {
				g += nadam.WeightDecay * w.Data[j]
			}
			m[j] = nadam.Beta1*m[j] + (1-nadam.Beta1)*g
			v[j] = nadam.Beta2*v[j] + (1-nadam.Beta2)*g*g

			lookahead := nadam.Beta1*m[j]/biasCorrection1 + (1-nadam.Beta1)*g/biasCorrection1
			vHat := v[j] / biasCorrection2
			w.Data[j] -= nadam.LearningRate * lookahead / (math32.Sqrt(vHat) + nadam.Epsilon)
		}
	}
	return nil
}

func (nadam *NadamOptimizerState) UpdateLearningRate(newLR float32) {
	nadam.LearningRate = newLR
}

func (nadam *NadamOptimizerState) GetLearningRate() float32 {
	return nadam.LearningRate
}

func (nadam *NadamOptimizerState) GetStepCount() uint64 {
	return nadam.StepCount
}

func (nadam *NadamOptimizerState) Name() string {
	return "Nadam"
}

// GetState extracts optimizer state for checkpointing
func (nadam *NadamOptimizerState) GetState() (*OptimizerState, error) {
	return &OptimizerState{
		Type: "Nadam",
		Parameters: map[string]interface{}{
			"learning_rate": nadam.LearningRate,
			"beta1":         nadam.Beta1,
			"beta2":         nadam.Beta2,
			"epsilon":       nadam.Epsilon,
			"weight_decay":  nadam.WeightDecay,
			"step_count":    nadam.StepCount,
		},
		StateData: append(extractBuffers(nadam.MomentumBuffers, "momentum"),
			extractBuffers(nadam.VarianceBuffers, "variance")...),
	}, nil
}

// LoadState restores optimizer state from checkpoint
func (nadam *NadamOptimizerState) LoadState(state *OptimizerState) error {
	if err := validateStateType("Nadam", state); err != nil {
		return err
	}
	err := restoreBuffers(state, map[string][]*tensor.Tensor{
		"momentum": nadam.MomentumBuffers,
		"variance": nadam.VarianceBuffers,
	})
	if err != nil {
		return err
	}

	nadam.LearningRate = extractFloat32Param(state.Parameters, "learning_rate", nadam.LearningRate)
	nadam.Beta1 = extractFloat32Param(state.Parameters, "beta1", nadam.Beta1)
	nadam.Beta2 = extractFloat32Param(state.Parameters, "beta2", nadam.Beta2)
	nadam.Epsilon = extractFloat32Param(state.Parameters, "epsilon", nadam.Epsilon)
	nadam.WeightDecay = extractFloat32Param(state.Parameters, "weight_decay", nadam.WeightDecay)
	nadam.StepCount = extractUint64Param(state.Parameters, "step_count", nadam.StepCount)
	return nil
}
