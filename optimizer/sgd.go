package optimizer

import (
	"fmt"

	"gonum.org/v1/gonum/blas/blas32"

	"github.com/tsawler/go-vae/tensor"
)

// SGDOptimizerState holds SGD hyperparameters and momentum buffers.
// With zero momentum and weight decay a step is exactly w -= lr·g.
type SGDOptimizerState struct {
	// Hyperparameters
	LearningRate float32
	Momentum     float32 // Momentum coefficient (0 for vanilla SGD)
	WeightDecay  float32 // L2 regularization coefficient
	Nesterov     bool    // Whether to use Nesterov momentum

	// Momentum buffers (only if momentum > 0)
	MomentumBuffers []*tensor.Tensor

	// Step tracking
	StepCount uint64

	shapes [][]int
}

// SGDConfig holds configuration for SGD optimizer
type SGDConfig struct {
	LearningRate float32
	Momentum     float32
	WeightDecay  float32
	Nesterov     bool
}

// DefaultSGDConfig returns default SGD optimizer configuration
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		LearningRate: 0.001,
		Momentum:     0.0,
		WeightDecay:  0.0,
		Nesterov:     false,
	}
}

// NewSGDOptimizer creates a new SGD optimizer for weights of the given shapes
func NewSGDOptimizer(config SGDConfig, weightShapes [][]int) (*SGDOptimizerState, error) {
	if len(weightShapes) == 0 {
		return nil, fmt.Errorf("no weight shapes provided")
	}

	// Validate configuration parameters
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Momentum < 0 {
		return nil, fmt.Errorf("momentum cannot be negative: %f", config.Momentum)
	}
	if config.Momentum > 1.0 {
		return nil, fmt.Errorf("momentum cannot be greater than 1.0: %f", config.Momentum)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay cannot be negative: %f", config.WeightDecay)
	}
	if config.Nesterov && config.Momentum == 0 {
		return nil, fmt.Errorf("nesterov momentum requires a positive momentum")
	}

	sgd := &SGDOptimizerState{
		LearningRate: config.LearningRate,
		Momentum:     config.Momentum,
		WeightDecay:  config.WeightDecay,
		Nesterov:     config.Nesterov,
		shapes:       copyShapes(weightShapes),
	}

	// Only allocate momentum buffers if momentum > 0
	if config.Momentum > 0 {
		buffers, err := allocateBuffers(weightShapes)
		if err != nil {
			return nil, err
		}
		sgd.MomentumBuffers = buffers
	}

	return sgd, nil
}

// Step performs a single SGD optimization step
func (sgd *SGDOptimizerState) Step(weights, grads []*tensor.Tensor) error {
	if err := checkStepInputs("SGD", sgd.shapes, weights, grads); err != nil {
		return err
	}

	sgd.StepCount++

	for i, w := range weights {
		wv := vector(w)
		d := vector(grads[i])
		if sgd.WeightDecay > 0 || sgd.Nesterov {
			// the caller's gradient is left untouched
			d = vector(grads[i].Clone())
		}

		if sgd.WeightDecay > 0 {
			blas32.Axpy(sgd.WeightDecay, wv, d)
		}

		if sgd.Momentum > 0 {
			v := vector(sgd.MomentumBuffers[i])
			blas32.Scal(sgd.Momentum, v)
			blas32.Axpy(1, d, v)
			if sgd.Nesterov {
				blas32.Axpy(sgd.Momentum, v, d)
			} else {
				d = v
			}
		}

		blas32.Axpy(-sgd.LearningRate, d, wv)
	}

	return nil
}

func vector(t *tensor.Tensor) blas32.Vector {
	return blas32.Vector{N: len(t.Data), Inc: 1, Data: t.Data}
}

// UpdateLearningRate updates the learning rate
func (sgd *SGDOptimizerState) UpdateLearningRate(newLR float32) {
	sgd.LearningRate = newLR
}

// GetLearningRate returns the current learning rate
func (sgd *SGDOptimizerState) GetLearningRate() float32 {
	return sgd.LearningRate
}

// GetStepCount returns the current step count
func (sgd *SGDOptimizerState) GetStepCount() uint64 {
	return sgd.StepCount
}

func (sgd *SGDOptimizerState) Name() string {
	return "SGD"
}

// GetState extracts optimizer state for checkpointing
func (sgd *SGDOptimizerState) GetState() (*OptimizerState, error) {
	return &OptimizerState{
		Type: "SGD",
		Parameters: map[string]interface{}{
			"learning_rate": sgd.LearningRate,
			"momentum":      sgd.Momentum,
			"weight_decay":  sgd.WeightDecay,
			"nesterov":      sgd.Nesterov,
			"step_count":    sgd.StepCount,
		},
		StateData: extractBuffers(sgd.MomentumBuffers, "momentum"),
	}, nil
}

// LoadState restores optimizer state from checkpoint. On error the
// optimizer is unchanged.
func (sgd *SGDOptimizerState) LoadState(state *OptimizerState) error {
	if err := validateStateType("SGD", state); err != nil {
		return err
	}

	momentum := extractFloat32Param(state.Parameters, "momentum", sgd.Momentum)
	buffers := sgd.MomentumBuffers
	if momentum > 0 && buffers == nil {
		var err error
		if buffers, err = allocateBuffers(sgd.shapes); err != nil {
			return err
		}
	}
	if err := restoreBuffers(state, map[string][]*tensor.Tensor{"momentum": buffers}); err != nil {
		return err
	}

	sgd.MomentumBuffers = buffers
	sgd.Momentum = momentum
	sgd.LearningRate = extractFloat32Param(state.Parameters, "learning_rate", sgd.LearningRate)
	sgd.WeightDecay = extractFloat32Param(state.Parameters, "weight_decay", sgd.WeightDecay)
	sgd.Nesterov = extractBoolParam(state.Parameters, "nesterov", sgd.Nesterov)
	sgd.StepCount = extractUint64Param(state.Parameters, "step_count", sgd.StepCount)
	return nil
}
