package optimizer

import (
	"fmt"

	"github.com/tsawler/go-vae/checkpoints"
	"github.com/tsawler/go-vae/tensor"
)

// Common helper functions for optimizer state management

// extractBufferState copies a single buffer for checkpointing
func extractBufferState(buffer *tensor.Tensor, name string, stateType string) *checkpoints.OptimizerTensor {
	if buffer == nil {
		return nil
	}

	data := make([]float32, len(buffer.Data))
	copy(data, buffer.Data)

	return &checkpoints.OptimizerTensor{
		Name:      name,
		Shape:     buffer.Size(),
		Data:      data,
		StateType: stateType,
	}
}

// restoreBuffers copies checkpointed state tensors into buffers, keyed by
// state type. Every tensor is checked before any buffer is written, so a
// rejected state leaves the buffers untouched.
func restoreBuffers(state *OptimizerState, buffers map[string][]*tensor.Tensor) error {
	type pending struct {
		dst  *tensor.Tensor
		data []float32
	}
	plan := make([]pending, 0, len(state.StateData))

	for _, t := range state.StateData {
		set, ok := buffers[t.StateType]
		if !ok {
			return fmt.Errorf("unknown %s state type %q", state.Type, t.StateType)
		}
		idx := extractBufferIndex(t.Name)
		if idx < 0 || idx >= len(set) {
			return fmt.Errorf("invalid buffer index in tensor name: %s", t.Name)
		}
		if set[idx] == nil {
			return fmt.Errorf("%s buffer is nil", t.Name)
		}
		if len(t.Data) != set[idx].NumElems {
			return fmt.Errorf("data size mismatch for %s: expected %d elements, got %d",
				t.Name, set[idx].NumElems, len(t.Data))
		}
		plan = append(plan, pending{set[idx], t.Data})
	}

	for _, p := range plan {
		copy(p.dst.Data, p.data)
	}
	return nil
}

// extractBuffers checkpoints every non-nil buffer as <stateType>_<index>
func extractBuffers(buffers []*tensor.Tensor, stateType string) []checkpoints.OptimizerTensor {
	out := make([]checkpoints.OptimizerTensor, 0, len(buffers))
	for i, buffer := range buffers {
		if t := extractBufferState(buffer, fmt.Sprintf("%s_%d", stateType, i), stateType); t != nil {
			out = append(out, *t)
		}
	}
	return out
}

// extractFloat32Param safely extracts a float32 parameter from the state map
func extractFloat32Param(params map[string]interface{}, key string, defaultValue float32) float32 {
	switch val := params[key].(type) {
	case float64:
		return float32(val)
	case float32:
		return val
	}
	return defaultValue
}

// extractBoolParam safely extracts a bool parameter from the state map
func extractBoolParam(params map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := params[key].(bool); ok {
		return val
	}
	return defaultValue
}

// extractUint64Param safely extracts a uint64 parameter from the state map
func extractUint64Param(params map[string]interface{}, key string, defaultValue uint64) uint64 {
	switch val := params[key].(type) {
	case float64:
		return uint64(val)
	case uint64:
		return val
	}
	return defaultValue
}

func allocateBuffers(shapes [][]int) ([]*tensor.Tensor, error) {
	buffers := make([]*tensor.Tensor, len(shapes))
	for i, shape := range shapes {
		buffer, err := tensor.Zeros(shape...)
		if err != nil {
			return nil, fmt.Errorf("failed to allocate buffer for weight %d: %w", i, err)
		}
		buffers[i] = buffer
	}
	return buffers, nil
}

func copyShapes(shapes [][]int) [][]int {
	out := make([][]int, len(shapes))
	for i, s := range shapes {
		out[i] = append([]int(nil), s...)
	}
	return out
}
