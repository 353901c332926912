package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tsawler/go-vae/layers"
	"github.com/tsawler/go-vae/vae"
)

// CheckpointFormat defines the serialization format
type CheckpointFormat int

const (
	FormatJSON CheckpointFormat = iota
	FormatONNX
)

func (cf CheckpointFormat) String() string {
	switch cf {
	case FormatJSON:
		return "JSON"
	case FormatONNX:
		return "ONNX"
	default:
		return "Unknown"
	}
}

// Checkpoint represents a complete model state including weights, optimizer state, and training metadata
type Checkpoint struct {
	// Model architecture and weights
	Config  vae.Config        `json:"config"`
	Encoder *layers.ModelSpec `json:"encoder_spec"`
	Decoder *layers.ModelSpec `json:"decoder_spec"`
	Weights []WeightTensor    `json:"weights"`

	// Training state
	TrainingState TrainingState `json:"training_state"`

	// Optimizer state (if available)
	OptimizerState *OptimizerState `json:"optimizer_state,omitempty"`

	// Metadata
	Metadata CheckpointMetadata `json:"metadata"`
}

// WeightTensor represents a model parameter tensor with its data
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
	Layer string    `json:"layer"`
	Type  string    `json:"type"` // "weight" or "bias"
}

// TrainingState captures the current training progress
type TrainingState struct {
	Epoch        int     `json:"epoch"`
	Step         int     `json:"step"`
	LearningRate float32 `json:"learning_rate"`
	BestLoss     float32 `json:"best_loss"`
	TotalSteps   int     `json:"total_steps"`
}

// OptimizerState captures optimizer-specific state (momentum, variance, etc.)
type OptimizerState struct {
	Type       string                 `json:"type"` // "SGD", "Adam", etc.
	Parameters map[string]interface{} `json:"parameters"`
	StateData  []OptimizerTensor      `json:"state_data"`
}

// OptimizerTensor represents optimizer state tensors (momentum, variance, etc.)
type OptimizerTensor struct {
	Name      string    `json:"name"`
	Shape     []int     `json:"shape"`
	Data      []float32 `json:"data"`
	StateType string    `json:"state_type"` // "momentum" or "variance"
}

// CheckpointMetadata contains checkpoint metadata
type CheckpointMetadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}

const (
	frameworkName    = "go-vae"
	frameworkVersion = "1.0.0"
)

// FromModel captures the architecture and a copy of the parameters of m
func FromModel(m *vae.VAE) (*Checkpoint, error) {
	encoder, decoder, err := m.Specs()
	if err != nil {
		return nil, err
	}

	weights, err := ExtractWeights(m.Params, encoder, decoder)
	if err != nil {
		return nil, err
	}

	return &Checkpoint{
		Config:  m.Config,
		Encoder: encoder,
		Decoder: decoder,
		Weights: weights,
	}, nil
}

// ExtractWeights copies every parameter tensor, labelling each with the
// dense layer of the given specs that uses it
func ExtractWeights(params *vae.Parameters, specs ...*layers.ModelSpec) ([]WeightTensor, error) {
	owners, err := weightOwners(specs...)
	if err != nil {
		return nil, err
	}

	weights := make([]WeightTensor, 0, len(vae.ParameterNames()))
	for _, nt := range params.Named() {
		if nt.Tensor == nil {
			return nil, fmt.Errorf("parameter %s is not allocated", nt.Name)
		}
		o, ok := owners[nt.Name]
		if !ok {
			return nil, fmt.Errorf("parameter %s is not used by any layer", nt.Name)
		}
		data := make([]float32, len(nt.Tensor.Data))
		copy(data, nt.Tensor.Data)
		weights = append(weights, WeightTensor{
			Name:  nt.Name,
			Shape: nt.Tensor.Size(),
			Data:  data,
			Layer: o.layer,
			Type:  o.kind,
		})
	}
	return weights, nil
}

type weightOwner struct {
	layer string
	kind  string
}

// weightOwners maps every parameter name to the dense layer that uses it
func weightOwners(specs ...*layers.ModelSpec) (map[string]weightOwner, error) {
	owners := make(map[string]weightOwner)
	for _, spec := range specs {
		for _, layerSpec := range spec.Layers {
			if layerSpec.Type != layers.Dense {
				continue
			}
			weight, bias, _, _, err := layerSpec.DenseParams()
			if err != nil {
				return nil, err
			}
			owners[weight] = weightOwner{layerSpec.Name, "weight"}
			if bias != "" {
				owners[bias] = weightOwner{layerSpec.Name, "bias"}
			}
		}
	}
	return owners, nil
}

// LoadWeightsIntoParameters copies weight data into params by name.
// Every parameter must be present exactly once.
func LoadWeightsIntoParameters(weights []WeightTensor, params *vae.Parameters) error {
	seen := make(map[string]bool, len(weights))
	for _, w := range weights {
		if seen[w.Name] {
			return fmt.Errorf("duplicate weight %s", w.Name)
		}
		seen[w.Name] = true
		if err := params.Load(w.Name, w.Shape, w.Data); err != nil {
			return fmt.Errorf("failed to load weight %s: %w", w.Name, err)
		}
	}
	for _, name := range vae.ParameterNames() {
		if !seen[name] {
			return fmt.Errorf("checkpoint is missing weight %s", name)
		}
	}
	return nil
}

// RestoreParameters rebuilds the parameter set stored in the checkpoint
func (c *Checkpoint) RestoreParameters() (*vae.Parameters, error) {
	if err := c.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid checkpoint config: %w", err)
	}
	params, err := vae.NewParameters(c.Config)
	if err != nil {
		return nil, err
	}
	if err := LoadWeightsIntoParameters(c.Weights, params); err != nil {
		return nil, err
	}
	return params, nil
}

// CheckpointSaver handles saving model checkpoints in various formats
type CheckpointSaver struct {
	format CheckpointFormat
}

// NewCheckpointSaver creates a new checkpoint saver for the specified format
func NewCheckpointSaver(format CheckpointFormat) *CheckpointSaver {
	return &CheckpointSaver{
		format: format,
	}
}

// SaveCheckpoint saves a complete model checkpoint
func (cs *CheckpointSaver) SaveCheckpoint(checkpoint *Checkpoint, path string) error {
	if checkpoint.Metadata.Framework == "" {
		checkpoint.Metadata.Framework = frameworkName
		checkpoint.Metadata.Version = frameworkVersion
		checkpoint.Metadata.CreatedAt = time.Now()
	}

	switch cs.format {
	case FormatJSON:
		return cs.saveJSON(checkpoint, path)
	case FormatONNX:
		return NewONNXExporter().ExportToONNX(checkpoint, path)
	default:
		return fmt.Errorf("unsupported checkpoint format: %s", cs.format.String())
	}
}

// LoadCheckpoint loads a model checkpoint
func (cs *CheckpointSaver) LoadCheckpoint(path string) (*Checkpoint, error) {
	switch cs.format {
	case FormatJSON:
		return cs.loadJSON(path)
	case FormatONNX:
		return NewONNXImporter().ImportFromONNX(path)
	default:
		return nil, fmt.Errorf("unsupported checkpoint format: %s", cs.format.String())
	}
}

// saveJSON saves checkpoint in JSON format
func (cs *CheckpointSaver) saveJSON(checkpoint *Checkpoint, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %v", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ") // Pretty print JSON

	if err := encoder.Encode(checkpoint); err != nil {
		return fmt.Errorf("failed to encode checkpoint: %v", err)
	}

	return nil
}

// loadJSON loads checkpoint from JSON format
func (cs *CheckpointSaver) loadJSON(path string) (*Checkpoint, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint file: %v", err)
	}
	defer file.Close()

	var checkpoint Checkpoint
	decoder := json.NewDecoder(file)

	if err := decoder.Decode(&checkpoint); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %v", err)
	}

	return &checkpoint, nil
}
