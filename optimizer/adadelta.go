package optimizer

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/tsawler/go-vae/tensor"
)

// AdaDeltaOptimizerState scales each step by the ratio of the running RMS of
// past updates to the running RMS of gradients. LearningRate multiplies the
// resulting update and is 1 by default.
type AdaDeltaOptimizerState struct {
	LearningRate float32
	Rho          float32 // Decay rate for moving averages (typically 0.95)
	Epsilon      float32
	WeightDecay  float32

	SquaredGradAvgBuffers   []*tensor.Tensor
	SquaredUpdateAvgBuffers []*tensor.Tensor

	StepCount uint64

	shapes [][]int
}

// AdaDeltaConfig holds configuration for AdaDelta optimizer
type AdaDeltaConfig struct {
	LearningRate float32
	Rho          float32
	Epsilon      float32
	WeightDecay  float32
}

// DefaultAdaDeltaConfig returns default AdaDelta optimizer configuration
func DefaultAdaDeltaConfig() AdaDeltaConfig {
	return AdaDeltaConfig{
		LearningRate: 1.0,
		Rho:          0.95,
		Epsilon:      1e-6,
	}
}

// NewAdaDeltaOptimizer creates a new AdaDelta optimizer for weights of the given shapes
func NewAdaDeltaOptimizer(config AdaDeltaConfig, weightShapes [][]int) (*AdaDeltaOptimizerState, error) {
	if len(weightShapes) == 0 {
		return nil, fmt.Errorf("no weight shapes provided")
	}
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Rho < 0 || config.Rho >= 1 {
		return nil, fmt.Errorf("rho must be in [0, 1): %f", config.Rho)
	}
	if config.Epsilon <= 0 {
		return nil, fmt.Errorf("epsilon must be positive: %g", config.Epsilon)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay cannot be negative: %f", config.WeightDecay)
	}

	grads, err := allocateBuffers(weightShapes)
	if err != nil {
		return nil, err
	}
	updates, err := allocateBuffers(weightShapes)
	if err != nil {
		return nil, err
	}
	return &AdaDeltaOptimizerState{
		LearningRate:            config.LearningRate,
		Rho:                     config.Rho,
		Epsilon:                 config.Epsilon,
		WeightDecay:             config.WeightDecay,
		SquaredGradAvgBuffers:   grads,
		SquaredUpdateAvgBuffers: updates,
		shapes:                  copyShapes(weightShapes),
	}, nil
}

// Step performs a single AdaDelta update
func (ad *AdaDeltaOptimizerState) Step(weights, grads []*tensor.Tensor) error {
	if err := checkStepInputs("AdaDelta", ad.shapes, weights, grads); err != nil {
		return err
	}

	ad.StepCount++

	for i, w := range weights {
		eg := ad.SquaredGradAvgBuffers[i].Data
		ex := ad.SquaredUpdateAvgBuffers[i].Data
		for j, g := range grads[i].Data {
			if ad.WeightDecay > 0 {
				g += ad.WeightDecay * w.Data[j]
			}
			eg[j] = ad.Rho*eg[j] + (1-ad.Rho)*g*g
			delta := math32.Sqrt(ex[j]+ad.Epsilon) / math32.Sqrt(eg[j]+ad.Epsilon) * g
			ex[j] = ad.Rho*ex[j] + (1-ad.Rho)*delta*delta
			w.Data[j] -= ad.LearningRate * delta
		}
	}
	return nil
}

func (ad *AdaDeltaOptimizerState) UpdateLearningRate(newLR float32) {
	ad.LearningRate = newLR
}

func (ad *AdaDeltaOptimizerState) GetLearningRate() float32 {
	return ad.LearningRate
}

func (ad *AdaDeltaOptimizerState) GetStepCount() uint64 {
	return ad.StepCount
}

func (ad *AdaDeltaOptimizerState) Name() string {
	return "AdaDelta"
}

// GetState extracts optimizer state for checkpointing
func (ad *AdaDeltaOptimizerState) GetState() (*OptimizerState, error) {
	return &OptimizerState{
		Type: "AdaDelta",
		Parameters: map[string]interface{}{
			"learning_rate": ad.LearningRate,
			"rho":           ad.Rho,
			"epsilon":       ad.Epsilon,
			"weight_decay":  ad.WeightDecay,
			"step_count":    ad.StepCount,
		},
		StateData: append(extractBuffers(ad.SquaredGradAvgBuffers, "squared_grad_avg"),
			extractBuffers(ad.SquaredUpdateAvgBuffers, "squared_update_avg")...),
	}, nil
}

// LoadState restores optimizer state from checkpoint
func (ad *AdaDeltaOptimizerState) LoadState(state *OptimizerState) error {
	if err := validateStateType("AdaDelta", state); err != nil {
		return err
	}
	err := restoreBuffers(state, map[string][]*tensor.Tensor{
		"squared_grad_avg":   ad.SquaredGradAvgBuffers,
		"squared_update_avg": ad.SquaredUpdateAvgBuffers,
	})
	if err != nil {
		return err
	}

	ad.LearningRate = extractFloat32Param(state.Parameters, "learning_rate", ad.LearningRate)
	ad.Rho = extractFloat32Param(state.Parameters, "rho", ad.Rho)
	ad.Epsilon = extractFloat32Param(state.Parameters, "epsilon", ad.Epsilon)
	ad.WeightDecay = extractFloat32Param(state.Parameters, "weight_decay", ad.WeightDecay)
	ad.StepCount = extractUint64Param(state.Parameters, "step_count", ad.StepCount)
	return nil
}
