package layers

import (
	"fmt"
)

// LayerType represents the type of neural network layer
type LayerType int

const (
	Dense LayerType = iota
	ReLU
	LeakyReLU
	Sigmoid
	Tanh
	Flatten
	Reshape
)

func (lt LayerType) String() string {
	switch lt {
	case Dense:
		return "Dense"
	case ReLU:
		return "ReLU"
	case LeakyReLU:
		return "LeakyReLU"
	case Sigmoid:
		return "Sigmoid"
	case Tanh:
		return "Tanh"
	case Flatten:
		return "Flatten"
	case Reshape:
		return "Reshape"
	default:
		return "Unknown"
	}
}

// IsActivation reports whether the layer is an elementwise activation
func (lt LayerType) IsActivation() bool {
	switch lt {
	case ReLU, LeakyReLU, Sigmoid, Tanh:
		return true
	}
	return false
}

// LayerSpec defines layer configuration.
// This is pure configuration - no execution logic
type LayerSpec struct {
	Type       LayerType              `json:"type"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`

	// Shape information (computed during model compilation)
	InputShape  []int `json:"input_shape,omitempty"`
	OutputShape []int `json:"output_shape,omitempty"`

	// Parameter metadata (computed during model compilation)
	ParameterShapes [][]int `json:"parameter_shapes,omitempty"`
	ParameterCount  int64   `json:"parameter_count,omitempty"`
}

// Source returns the name of the layer feeding this one, or "" for the
// previous layer in sequence
func (ls LayerSpec) Source() string {
	source, _ := ls.Parameters["input"].(string)
	return source
}

// ModelSpec defines a network as an ordered list of layer configurations.
// Layers normally consume the previous layer's output; a layer with an
// "input" parameter branches from the named layer instead.
type ModelSpec struct {
	Name   string      `json:"name"`
	Layers []LayerSpec `json:"layers"`

	// Compiled model information
	TotalParameters int64    `json:"total_parameters"`
	ParameterShapes [][]int  `json:"parameter_shapes"`
	InputShape      []int    `json:"input_shape"`
	OutputShape     []int    `json:"output_shape"`
	Outputs         []string `json:"outputs"`
	Compiled        bool     `json:"compiled"`
}

// ModelBuilder helps construct neural network models
type ModelBuilder struct {
	name       string
	layers     []LayerSpec
	inputShape []int
	outputs    []string
	compiled   bool
}

// NewModelBuilder creates a new model builder
func NewModelBuilder(name string, inputShape []int) *ModelBuilder {
	return &ModelBuilder{
		name:       name,
		layers:     make([]LayerSpec, 0),
		inputShape: append([]int(nil), inputShape...),
	}
}

// AddLayer adds a layer to the model
func (mb *ModelBuilder) AddLayer(layer LayerSpec) *ModelBuilder {
	if layer.Parameters == nil {
		layer.Parameters = map[string]interface{}{}
	}
	mb.layers = append(mb.layers, layer)
	mb.compiled = false
	return mb
}

// AddDense adds a dense layer. weightName and biasName identify the
// parameter tensors that hold its weights.
func (mb *ModelBuilder) AddDense(outputSize int, weightName, biasName, name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{
		Type: Dense,
		Name: name,
		Parameters: map[string]interface{}{
			"output_size": outputSize,
			"use_bias":    biasName != "",
			"weight":      weightName,
			"bias":        biasName,
		},
	})
}

// AddDenseFrom adds a dense layer that reads the output of the named layer
// instead of the previous one
func (mb *ModelBuilder) AddDenseFrom(source string, outputSize int, weightName, biasName, name string) *ModelBuilder {
	mb.AddDense(outputSize, weightName, biasName, name)
	mb.layers[len(mb.layers)-1].Parameters["input"] = source
	return mb
}

// AddReLU adds a ReLU activation
func (mb *ModelBuilder) AddReLU(name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{Type: ReLU, Name: name})
}

// AddLeakyReLU adds a Leaky ReLU activation
// negativeSlope: slope for negative input values (default: 0.01)
func (mb *ModelBuilder) AddLeakyReLU(negativeSlope float32, name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{
		Type: LeakyReLU,
		Name: name,
		Parameters: map[string]interface{}{
			"negative_slope": negativeSlope,
		},
	})
}

// AddSigmoid adds a sigmoid activation
func (mb *ModelBuilder) AddSigmoid(name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{Type: Sigmoid, Name: name})
}

// AddTanh adds a tanh activation
func (mb *ModelBuilder) AddTanh(name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{Type: Tanh, Name: name})
}

// AddFlatten collapses every dimension after the batch dimension
func (mb *ModelBuilder) AddFlatten(name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{Type: Flatten, Name: name})
}

// AddReshape reshapes each item to itemShape, keeping the batch dimension
func (mb *ModelBuilder) AddReshape(itemShape []int, name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{
		Type: Reshape,
		Name: name,
		Parameters: map[string]interface{}{
			"shape": append([]int(nil), itemShape...),
		},
	})
}

// MarkOutput declares the named layer as a model output. Without any marked
// outputs the last layer is the only output.
func (mb *ModelBuilder) MarkOutput(name string) *ModelBuilder {
	mb.outputs = append(mb.outputs, name)
	mb.compiled = false
	return mb
}

// Compile compiles the model and computes shapes and parameter counts
func (mb *ModelBuilder) Compile() (*ModelSpec, error) {
	if len(mb.layers) == 0 {
		return nil, fmt.Errorf("cannot compile empty model")
	}
	if len(mb.inputShape) == 0 {
		return nil, fmt.Errorf("model input shape is required")
	}

	model := &ModelSpec{
		Name:       mb.name,
		Layers:     make([]LayerSpec, len(mb.layers)),
		InputShape: append([]int(nil), mb.inputShape...),
	}
	for i, layer := range mb.layers {
		// Each compiled spec gets its own parameter map
		params := make(map[string]interface{}, len(layer.Parameters))
		for k, v := range layer.Parameters {
			params[k] = v
		}
		layer.Parameters = params
		model.Layers[i] = layer
	}

	shapes := make(map[string][]int, len(model.Layers))
	currentShape := model.InputShape
	var allParameterShapes [][]int
	totalParams := int64(0)

	for i := range model.Layers {
		layer := &model.Layers[i]
		if layer.Name == "" {
			return nil, fmt.Errorf("layer %d (%s) has no name", i, layer.Type)
		}
		if _, dup := shapes[layer.Name]; dup {
			return nil, fmt.Errorf("duplicate layer name %q", layer.Name)
		}

		inputShape := currentShape
		if source := layer.Source(); source != "" {
			s, ok := shapes[source]
			if !ok {
				return nil, fmt.Errorf("layer %s reads from unknown layer %q", layer.Name, source)
			}
			inputShape = s
		}
		layer.InputShape = append([]int(nil), inputShape...)

		outputShape, paramShapes, paramCount, err := mb.computeLayerInfo(layer, inputShape)
		if err != nil {
			return nil, fmt.Errorf("failed to compute layer %d (%s) info: %v", i, layer.Name, err)
		}

		layer.OutputShape = outputShape
		layer.ParameterShapes = paramShapes
		layer.ParameterCount = paramCount

		allParameterShapes = append(allParameterShapes, paramShapes...)
		totalParams += paramCount

		shapes[layer.Name] = outputShape
		currentShape = outputShape
	}

	model.Outputs = append([]string(nil), mb.outputs...)
	if len(model.Outputs) == 0 {
		model.Outputs = []string{model.Layers[len(model.Layers)-1].Name}
	}
	for _, out := range model.Outputs {
		if _, ok := shapes[out]; !ok {
			return nil, fmt.Errorf("output %q is not a layer of the model", out)
		}
	}

	model.OutputShape = shapes[model.Outputs[0]]
	model.ParameterShapes = allParameterShapes
	model.TotalParameters = totalParams
	model.Compiled = true
	mb.compiled = true

	return model, nil
}

// computeLayerInfo computes output shape and parameter information for a layer
func (mb *ModelBuilder) computeLayerInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	switch layer.Type {
	case Dense:
		return mb.computeDenseInfo(layer, inputShape)
	case Flatten:
		return []int{inputShape[0], itemSize(inputShape)}, [][]int{}, 0, nil
	case Reshape:
		return mb.computeReshapeInfo(layer, inputShape)
	case ReLU, LeakyReLU, Sigmoid, Tanh:
		return append([]int(nil), inputShape...), [][]int{}, 0, nil
	default:
		return nil, nil, 0, fmt.Errorf("unsupported layer type: %s", layer.Type.String())
	}
}

// computeDenseInfo computes dense layer information
func (mb *ModelBuilder) computeDenseInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	if len(inputShape) < 2 {
		return nil, nil, 0, fmt.Errorf("dense layer requires at least 2D input")
	}

	outputSize, ok := layer.Parameters["output_size"].(int)
	if !ok || outputSize <= 0 {
		return nil, nil, 0, fmt.Errorf("missing or invalid output_size parameter")
	}

	useBias := true
	if bias, exists := layer.Parameters["use_bias"].(bool); exists {
		useBias = bias
	}

	// Dense layers flatten all dimensions except batch
	inputSize := itemSize(inputShape)
	layer.Parameters["input_size"] = inputSize

	paramShapes := [][]int{{inputSize, outputSize}}
	paramCount := int64(inputSize * outputSize)
	if useBias {
		paramShapes = append(paramShapes, []int{outputSize})
		paramCount += int64(outputSize)
	}

	return []int{inputShape[0], outputSize}, paramShapes, paramCount, nil
}

func (mb *ModelBuilder) computeReshapeInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	target, ok := layer.Parameters["shape"].([]int)
	if !ok || len(target) == 0 {
		return nil, nil, 0, fmt.Errorf("missing shape parameter")
	}
	size := 1
	for _, d := range target {
		size *= d
	}
	if size != itemSize(inputShape) {
		return nil, nil, 0, fmt.Errorf("cannot reshape items of size %d into %v", itemSize(inputShape), target)
	}
	return append([]int{inputShape[0]}, target...), [][]int{}, 0, nil
}

func itemSize(shape []int) int {
	size := 1
	for _, d := range shape[1:] {
		size *= d
	}
	return size
}

// Layer returns the layer with the given name
func (ms *ModelSpec) Layer(name string) (LayerSpec, bool) {
	for _, layer := range ms.Layers {
		if layer.Name == name {
			return layer, true
		}
	}
	return LayerSpec{}, false
}

// Summary returns a human-readable model summary
func (ms *ModelSpec) Summary() string {
	if !ms.Compiled {
		return "Model not compiled"
	}

	summary := fmt.Sprintf("Model Summary: %s\n", ms.Name)
	summary += fmt.Sprintf("Input Shape: %v\n", ms.InputShape)
	summary += fmt.Sprintf("Output Shape: %v\n", ms.OutputShape)
	summary += fmt.Sprintf("Outputs: %v\n", ms.Outputs)
	summary += fmt.Sprintf("Total Parameters: %d\n", ms.TotalParameters)
	summary += fmt.Sprintf("Layers: %d\n\n", len(ms.Layers))

	for i, layer := range ms.Layers {
		summary += fmt.Sprintf("Layer %d: %s (%s)\n", i+1, layer.Name, layer.Type.String())
		summary += fmt.Sprintf("  Input:  %v\n", layer.InputShape)
		summary += fmt.Sprintf("  Output: %v\n", layer.OutputShape)
		summary += fmt.Sprintf("  Params: %d\n", layer.ParameterCount)

		if len(layer.Parameters) > 0 {
			summary += fmt.Sprintf("  Config: %v\n", layer.Parameters)
		}
		summary += "\n"
	}

	return summary
}

func getIntParam(params map[string]interface{}, key string, defaultValue int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return defaultValue
}

func getFloatParam(params map[string]interface{}, key string, defaultValue float32) float32 {
	switch v := params[key].(type) {
	case float32:
		return v
	case float64:
		return float32(v)
	}
	return defaultValue
}

func getStringParam(params map[string]interface{}, key string) string {
	s, _ := params[key].(string)
	return s
}

// DenseParams returns the parameter names and sizes of a dense layer,
// tolerating specs decoded from JSON
func (ls LayerSpec) DenseParams() (weight, bias string, inputSize, outputSize int, err error) {
	if ls.Type != Dense {
		return "", "", 0, 0, fmt.Errorf("layer %s is %s, not Dense", ls.Name, ls.Type)
	}
	weight = getStringParam(ls.Parameters, "weight")
	bias = getStringParam(ls.Parameters, "bias")
	inputSize = getIntParam(ls.Parameters, "input_size", 0)
	outputSize = getIntParam(ls.Parameters, "output_size", 0)
	if weight == "" || inputSize <= 0 || outputSize <= 0 {
		return "", "", 0, 0, fmt.Errorf("dense layer %s is not fully specified", ls.Name)
	}
	return weight, bias, inputSize, outputSize, nil
}

// ItemShape returns the per-item target shape of a Reshape layer,
// tolerating specs decoded from JSON
func (ls LayerSpec) ItemShape() []int {
	switch v := ls.Parameters["shape"].(type) {
	case []int:
		return append([]int(nil), v...)
	case []interface{}:
		shape := make([]int, 0, len(v))
		for _, d := range v {
			if f, ok := d.(float64); ok {
				shape = append(shape, int(f))
			}
		}
		return shape
	}
	return nil
}

// NegativeSlope returns the negative slope of a LeakyReLU layer
func (ls LayerSpec) NegativeSlope() float32 {
	return getFloatParam(ls.Parameters, "negative_slope", DefaultLeakySlope)
}
