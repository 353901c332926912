package optimizer

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/tsawler/go-vae/tensor"
)

// RMSPropOptimizerState holds RMSProp hyperparameters and running averages
type RMSPropOptimizerState struct {
	// Hyperparameters
	LearningRate float32
	Alpha        float32 // Smoothing constant (typically 0.99)
	Epsilon      float32
	WeightDecay  float32
	Momentum     float32 // 0 disables the momentum buffer
	Centered     bool    // Normalize by the variance instead of the raw second moment

	SquaredGradAvgBuffers []*tensor.Tensor
	MomentumBuffers       []*tensor.Tensor // nil unless Momentum > 0
	GradientAvgBuffers    []*tensor.Tensor // nil unless Centered

	StepCount uint64

	shapes [][]int
}

// RMSPropConfig holds configuration for RMSProp optimizer
type RMSPropConfig struct {
	LearningRate float32
	Alpha        float32
	Epsilon      float32
	WeightDecay  float32
	Momentum     float32
	Centered     bool
}

// DefaultRMSPropConfig returns default RMSProp optimizer configuration
func DefaultRMSPropConfig() RMSPropConfig {
	return RMSPropConfig{
		LearningRate: 0.01,
		Alpha:        0.99,
		Epsilon:      1e-8,
	}
}

// NewRMSPropOptimizer creates a new RMSProp optimizer for weights of the given shapes
func NewRMSPropOptimizer(config RMSPropConfig, weightShapes [][]int) (*RMSPropOptimizerState, error) {
	if len(weightShapes) == 0 {
		return nil, fmt.Errorf("no weight shapes provided")
	}
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Alpha < 0 || config.Alpha >= 1 {
		return nil, fmt.Errorf("alpha must be in [0, 1): %f", config.Alpha)
	}
	if config.Epsilon <= 0 {
		return nil, fmt.Errorf("epsilon must be positive: %g", config.Epsilon)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay cannot be negative: %f", config.WeightDecay)
	}
	if config.Momentum < 0 || config.Momentum >= 1 {
		return nil, fmt.Errorf("momentum must be in [0, 1): %f", config.Momentum)
	}

	rms := &RMSPropOptimizerState{
		LearningRate: config.LearningRate,
		Alpha:        config.Alpha,
		Epsilon:      config.Epsilon,
		WeightDecay:  config.WeightDecay,
		Momentum:     config.Momentum,
		Centered:     config.Centered,
		shapes:       copyShapes(weightShapes),
	}

	var err error
	if rms.SquaredGradAvgBuffers, err = allocateBuffers(weightShapes); err != nil {
		return nil, err
	}
	if config.Momentum > 0 {
		if rms.MomentumBuffers, err = allocateBuffers(weightShapes); err != nil {
			return nil, err
		}
	}
	if config.Centered {
		if rms.GradientAvgBuffers, err = allocateBuffers(weightShapes); err != nil {
			return nil, err
		}
	}
	return rms, nil
}

// Step performs a single RMSProp update
func (rms *RMSPropOptimizerState) Step(weights, grads []*tensor.Tensor) error {
	if err := checkStepInputs("RMSProp", rms.shapes, weights, grads); err != nil {
		return err
	}

	rms.StepCount++

	for i, w := range weights {
		sq := rms.SquaredGradAvgBuffers[i].Data
		for j, g := range grads[i].Data {
			if rms.WeightDecay > 0 {
				g += rms.WeightDecay * w.Data[j]
			}
			sq[j] = rms.Alpha*sq[j] + (1-rms.Alpha)*g*g

			variance := sq[j]
			if rms.Centered {
				avg := rms.GradientAvgBuffers[i].Data
				avg[j] = rms.Alpha*avg[j] + (1-rms.Alpha)*g
				variance -= avg[j] * avg[j]
			}
			update := g / (math32.Sqrt(math32.Max(variance, 0)) + rms.Epsilon)

			if rms.Momentum > 0 {
				buf := rms.MomentumBuffers[i].Data
				buf[j] = rms.Momentum*buf[j] + update
				update = buf[j]
			}
			w.Data[j] -= rms.LearningRate * update
		}
	}
	return nil
}

// UpdateLearningRate updates the learning rate
func (rms *RMSPropOptimizerState) UpdateLearningRate(newLR float32) {
	rms.LearningRate = newLR
}

// GetLearningRate returns the current learning rate
func (rms *RMSPropOptimizerState) GetLearningRate() float32 {
	return rms.LearningRate
}

// GetStepCount returns the current step count
func (rms *RMSPropOptimizerState) GetStepCount() uint64 {
	return rms.StepCount
}

func (rms *RMSPropOptimizerState) Name() string {
	return "RMSProp"
}

// GetState extracts optimizer state for checkpointing
func (rms *RMSPropOptimizerState) GetState() (*OptimizerState, error) {
	data := extractBuffers(rms.SquaredGradAvgBuffers, "squared_grad_avg")
	data = append(data, extractBuffers(rms.MomentumBuffers, "momentum")...)
	data = append(data, extractBuffers(rms.GradientAvgBuffers, "gradient_avg")...)

	return &OptimizerState{
		Type: "RMSProp",
		Parameters: map[string]interface{}{
			"learning_rate": rms.LearningRate,
			"alpha":         rms.Alpha,
			"epsilon":       rms.Epsilon,
			"weight_decay":  rms.WeightDecay,
			"momentum":      rms.Momentum,
			"centered":      rms.Centered,
			"step_count":    rms.StepCount,
		},
		StateData: data,
	}, nil
}

// LoadState restores optimizer state from checkpoint. Momentum and centering
// are fixed at construction; a state saved with other settings is rejected.
func (rms *RMSPropOptimizerState) LoadState(state *OptimizerState) error {
	if err := validateStateType("RMSProp", state); err != nil {
		return err
	}
	if m := extractFloat32Param(state.Parameters, "momentum", rms.Momentum); (m > 0) != (rms.Momentum > 0) {
		return fmt.Errorf("RMSProp state momentum %g incompatible with optimizer momentum %g", m, rms.Momentum)
	}
	if c := extractBoolParam(state.Parameters, "centered", rms.Centered); c != rms.Centered {
		return fmt.Errorf("RMSProp state centered=%t incompatible with optimizer centered=%t", c, rms.Centered)
	}

	err := restoreBuffers(state, map[string][]*tensor.Tensor{
		"squared_grad_avg": rms.SquaredGradAvgBuffers,
		"momentum":         rms.MomentumBuffers,
		"gradient_avg":     rms.GradientAvgBuffers,
	})
	if err != nil {
		return err
	}

	rms.LearningRate = extractFloat32Param(state.Parameters, "learning_rate", rms.LearningRate)
	rms.Alpha = extractFloat32Param(state.Parameters, "alpha", rms.Alpha)
	rms.Epsilon = extractFloat32Param(state.Parameters, "epsilon", rms.Epsilon)
	rms.WeightDecay = extractFloat32Param(state.Parameters, "weight_decay", rms.WeightDecay)
	rms.Momentum = extractFloat32Param(state.Parameters, "momentum", rms.Momentum)
	rms.StepCount = extractUint64Param(state.Parameters, "step_count", rms.StepCount)
	return nil
}
