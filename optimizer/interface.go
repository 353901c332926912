package optimizer

import (
	"fmt"
	"strings"

	"github.com/tsawler/go-vae/checkpoints"
	"github.com/tsawler/go-vae/tensor"
)

// Optimizer defines the common interface for all optimizers.
// This interface enables state save/restore for checkpoint functionality.
type Optimizer interface {
	// Step applies one update to every weight tensor in place.
	// grads must match weights in count and shape.
	Step(weights, grads []*tensor.Tensor) error

	// GetState extracts optimizer state for checkpointing
	GetState() (*OptimizerState, error)

	// LoadState restores optimizer state from checkpoint
	LoadState(state *OptimizerState) error

	// GetStepCount returns the current optimization step number
	GetStepCount() uint64

	// UpdateLearningRate updates the learning rate
	UpdateLearningRate(lr float32)

	// GetLearningRate returns the learning rate of the next step
	GetLearningRate() float32

	// Name identifies the update rule ("SGD", "Adam", "RMSProp", ...)
	Name() string
}

// OptimizerState represents the complete state of an optimizer.
// Compatible with checkpoints.OptimizerState for serialization.
type OptimizerState struct {
	Type       string                        `json:"type"`       // "Adam", "SGD", etc.
	Parameters map[string]interface{}        `json:"parameters"` // Hyperparameters
	StateData  []checkpoints.OptimizerTensor `json:"state_data"` // moment buffers
}

// ToCheckpoint converts the state into its checkpoint representation
func (s *OptimizerState) ToCheckpoint() *checkpoints.OptimizerState {
	return &checkpoints.OptimizerState{
		Type:       s.Type,
		Parameters: s.Parameters,
		StateData:  s.StateData,
	}
}

// FromCheckpoint converts a checkpoint optimizer state back
func FromCheckpoint(s *checkpoints.OptimizerState) *OptimizerState {
	return &OptimizerState{
		Type:       s.Type,
		Parameters: s.Parameters,
		StateData:  s.StateData,
	}
}

// Kinds lists the optimizer names accepted by New
var Kinds = []string{"sgd", "adam", "nadam", "rmsprop", "adagrad", "adadelta"}

// New creates the optimizer named by kind for the given weight shapes, using
// lr and weightDecay over that optimizer's defaults. An empty kind is SGD.
func New(kind string, lr, weightDecay float32, weightShapes [][]int) (Optimizer, error) {
	switch strings.ToLower(kind) {
	case "sgd", "":
		config := DefaultSGDConfig()
		config.LearningRate = lr
		config.WeightDecay = weightDecay
		return NewSGDOptimizer(config, weightShapes)
	case "adam":
		config := DefaultAdamConfig()
		config.LearningRate = lr
		config.WeightDecay = weightDecay
		return NewAdamOptimizer(config, weightShapes)
	case "nadam":
		config := DefaultNadamConfig()
		config.LearningRate = lr
		config.WeightDecay = weightDecay
		return NewNadamOptimizer(config, weightShapes)
	case "rmsprop":
		config := DefaultRMSPropConfig()
		config.LearningRate = lr
		config.WeightDecay = weightDecay
		return NewRMSPropOptimizer(config, weightShapes)
	case "adagrad":
		config := DefaultAdaGradConfig()
		config.LearningRate = lr
		config.WeightDecay = weightDecay
		return NewAdaGradOptimizer(config, weightShapes)
	case "adadelta":
		config := DefaultAdaDeltaConfig()
		config.LearningRate = lr
		config.WeightDecay = weightDecay
		return NewAdaDeltaOptimizer(config, weightShapes)
	default:
		return nil, fmt.Errorf("unknown optimizer %q (expected one of %s)", kind, strings.Join(Kinds, ", "))
	}
}

// checkStepInputs validates the weights and gradients of a step against the
// shapes the optimizer was created for
func checkStepInputs(name string, shapes [][]int, weights, grads []*tensor.Tensor) error {
	if len(weights) != len(shapes) {
		return fmt.Errorf("%s: expected %d weight tensors, got %d", name, len(shapes), len(weights))
	}
	if len(grads) != len(weights) {
		return fmt.Errorf("%s: gradient count (%d) doesn't match weight count (%d)", name, len(grads), len(weights))
	}
	for i, shape := range shapes {
		stage := fmt.Sprintf("%s weight %d", name, i)
		if err := tensor.CheckShape(weights[i], stage, shape...); err != nil {
			return err
		}
		if err := tensor.CheckShape(grads[i], stage+" gradient", shape...); err != nil {
			return err
		}
	}
	return nil
}

// extractBufferIndex extracts the buffer index from state tensor names like "momentum_0", "variance_1"
func extractBufferIndex(name string) int {
	var idx int
	lastUnderscoreIdx := strings.LastIndex(name, "_")
	if lastUnderscoreIdx == -1 {
		return -1
	}

	if n, err := fmt.Sscanf(name[lastUnderscoreIdx+1:], "%d", &idx); n == 1 && err == nil {
		return idx
	}
	return -1
}

// validateStateType ensures the state type matches the optimizer
func validateStateType(optimizerType string, state *OptimizerState) error {
	if state == nil {
		return fmt.Errorf("nil optimizer state")
	}
	if state.Type != optimizerType {
		return fmt.Errorf("state type mismatch: expected %s, got %s", optimizerType, state.Type)
	}
	return nil
}
