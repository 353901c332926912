package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/tsawler/go-vae/layers"
	"github.com/tsawler/go-vae/vae"
)

const (
	onnxIRVersion = 7
	onnxOpset     = 13

	graphInput   = "images"
	batchDimName = "N"

	metaConfig        = "vae_config"
	metaTrainingState = "training_state"
)

// ONNXExporter handles conversion of VAE checkpoints to ONNX format.
// The exported graph runs the encoder and feeds its mean straight into the
// decoder, so it produces (mu, logvar, image) for a batch of images.
type ONNXExporter struct {
	model *modelProto
}

// NewONNXExporter creates a new ONNX exporter
func NewONNXExporter() *ONNXExporter {
	return &ONNXExporter{}
}

// ExportToONNX converts a checkpoint to ONNX format
func (oe *ONNXExporter) ExportToONNX(checkpoint *Checkpoint, path string) error {
	data, err := oe.Marshal(checkpoint)
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write ONNX file: %v", err)
	}
	return nil
}

// Marshal encodes a checkpoint as a serialized ONNX ModelProto
func (oe *ONNXExporter) Marshal(checkpoint *Checkpoint) ([]byte, error) {
	if checkpoint.Encoder == nil || checkpoint.Decoder == nil {
		return nil, fmt.Errorf("checkpoint has no encoder/decoder specs")
	}

	graph, err := oe.buildONNXGraph(checkpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to build ONNX graph: %v", err)
	}

	configJSON, err := json.Marshal(checkpoint.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %v", err)
	}
	stateJSON, err := json.Marshal(checkpoint.TrainingState)
	if err != nil {
		return nil, fmt.Errorf("failed to encode training state: %v", err)
	}

	oe.model = &modelProto{
		IRVersion:       onnxIRVersion,
		ProducerName:    frameworkName,
		ProducerVersion: frameworkVersion,
		ModelVersion:    1,
		DocString:       checkpoint.Metadata.Description,
		Graph:           graph,
		OpsetImport:     []opsetID{{Domain: "", Version: onnxOpset}},
		MetadataProps: []stringEntry{
			{Key: metaConfig, Value: string(configJSON)},
			{Key: metaTrainingState, Value: string(stateJSON)},
		},
	}
	return oe.model.marshal(), nil
}

// buildONNXGraph creates the ONNX computation graph of both networks
func (oe *ONNXExporter) buildONNXGraph(checkpoint *Checkpoint) (*graphProto, error) {
	graph := &graphProto{Name: "go-vae"}

	weightMap := make(map[string]WeightTensor)
	for _, weight := range checkpoint.Weights {
		weightMap[weight.Name] = weight
		graph.Initializers = append(graph.Initializers, oe.createTensorProto(weight.Name, weight.Shape, weight.Data))
	}

	enc, dec := checkpoint.Encoder, checkpoint.Decoder
	graph.Inputs = []valueInfo{{
		Name:     graphInput,
		ElemType: onnxFloat,
		Dims:     oe.createDimensions(enc.InputShape),
	}}

	if err := oe.appendModel(graph, enc, graphInput, weightMap); err != nil {
		return nil, err
	}
	if len(enc.Outputs) == 0 {
		return nil, fmt.Errorf("encoder spec has no outputs")
	}
	// The decoder reads the encoder mean
	if err := oe.appendModel(graph, dec, enc.Outputs[0], weightMap); err != nil {
		return nil, err
	}

	for _, spec := range []*layers.ModelSpec{enc, dec} {
		for _, out := range spec.Outputs {
			layerSpec, _ := spec.Layer(out)
			graph.Outputs = append(graph.Outputs, valueInfo{
				Name:     out,
				ElemType: onnxFloat,
				Dims:     oe.createDimensions(layerSpec.OutputShape),
			})
		}
	}
	return graph, nil
}

// appendModel emits one node group per layer of spec. Every layer writes a
// tensor named after itself.
func (oe *ONNXExporter) appendModel(graph *graphProto, spec *layers.ModelSpec, input string, weightMap map[string]WeightTensor) error {
	current := input
	for _, layerSpec := range spec.Layers {
		in := current
		if source := layerSpec.Source(); source != "" {
			in = source
		}
		prefix := spec.Name + "/" + layerSpec.Name

		var (
			nodes []nodeProto
			inits []tensorProto
			err   error
		)
		switch layerSpec.Type {
		case layers.Dense:
			nodes, err = oe.createDenseNode(layerSpec, weightMap, in, prefix)
		case layers.ReLU:
			nodes = []nodeProto{oe.createNode("Relu", prefix, in, layerSpec.Name)}
		case layers.LeakyReLU:
			node := oe.createNode("LeakyRelu", prefix, in, layerSpec.Name)
			node.Attributes = []attributeProto{{Name: "alpha", Type: attrFloat, F: layerSpec.NegativeSlope()}}
			nodes = []nodeProto{node}
		case layers.Sigmoid:
			nodes = []nodeProto{oe.createNode("Sigmoid", prefix, in, layerSpec.Name)}
		case layers.Tanh:
			nodes = []nodeProto{oe.createNode("Tanh", prefix, in, layerSpec.Name)}
		case layers.Flatten:
			node := oe.createNode("Flatten", prefix, in, layerSpec.Name)
			node.Attributes = []attributeProto{{Name: "axis", Type: attrInt, I: 1}}
			nodes = []nodeProto{node}
		case layers.Reshape:
			nodes, inits = oe.createReshapeNode(layerSpec, in, prefix)
		default:
			err = fmt.Errorf("unsupported layer type for ONNX export: %s", layerSpec.Type)
		}
		if err != nil {
			return err
		}

		graph.Nodes = append(graph.Nodes, nodes...)
		graph.Initializers = append(graph.Initializers, inits...)
		current = layerSpec.Name
	}
	return nil
}

func (oe *ONNXExporter) createNode(opType, name, input, output string) nodeProto {
	return nodeProto{
		Inputs:  []string{input},
		Outputs: []string{output},
		Name:    name,
		OpType:  opType,
	}
}

// createDenseNode creates ONNX MatMul + Add nodes for Dense layer.
// Weights are stored (in, out), which is already the MatMul layout.
func (oe *ONNXExporter) createDenseNode(layerSpec layers.LayerSpec, weightMap map[string]WeightTensor, inputTensor, prefix string) ([]nodeProto, error) {
	weight, bias, _, _, err := layerSpec.DenseParams()
	if err != nil {
		return nil, err
	}
	if _, ok := weightMap[weight]; !ok {
		return nil, fmt.Errorf("weight %s for layer %s not found", weight, layerSpec.Name)
	}

	if bias == "" {
		return []nodeProto{{
			Inputs:  []string{inputTensor, weight},
			Outputs: []string{layerSpec.Name},
			Name:    prefix + "/matmul",
			OpType:  "MatMul",
		}}, nil
	}
	if _, ok := weightMap[bias]; !ok {
		return nil, fmt.Errorf("bias %s for layer %s not found", bias, layerSpec.Name)
	}

	matmulOut := layerSpec.Name + "_matmul"
	return []nodeProto{
		{
			Inputs:  []string{inputTensor, weight},
			Outputs: []string{matmulOut},
			Name:    prefix + "/matmul",
			OpType:  "MatMul",
		},
		{
			Inputs:  []string{matmulOut, bias},
			Outputs: []string{layerSpec.Name},
			Name:    prefix + "/add",
			OpType:  "Add",
		},
	}, nil
}

// createReshapeNode creates an ONNX Reshape node with its shape initializer
func (oe *ONNXExporter) createReshapeNode(layerSpec layers.LayerSpec, inputTensor, prefix string) ([]nodeProto, []tensorProto) {
	item := layerSpec.ItemShape()
	shape := make([]int64, 0, len(item)+1)
	shape = append(shape, -1)
	for _, d := range item {
		shape = append(shape, int64(d))
	}

	shapeName := layerSpec.Name + "_shape"
	init := tensorProto{
		Dims:      []int64{int64(len(shape))},
		DataType:  onnxInt64,
		Int64Data: shape,
		Name:      shapeName,
	}
	node := nodeProto{
		Inputs:  []string{inputTensor, shapeName},
		Outputs: []string{layerSpec.Name},
		Name:    prefix,
		OpType:  "Reshape",
	}
	return []nodeProto{node}, []tensorProto{init}
}

// createDimensions creates ONNX tensor shape dimensions. The batch
// dimension is symbolic.
func (oe *ONNXExporter) createDimensions(shape []int) []dimension {
	dims := make([]dimension, len(shape))
	for i, d := range shape {
		if i == 0 {
			dims[i] = dimension{Param: batchDimName}
			continue
		}
		dims[i] = dimension{Value: int64(d)}
	}
	return dims
}

// createTensorProto creates ONNX tensor initializer
func (oe *ONNXExporter) createTensorProto(name string, shape []int, data []float32) tensorProto {
	dims := make([]int64, len(shape))
	for i, d := range shape {
		dims[i] = int64(d)
	}
	return tensorProto{
		Dims:      dims,
		DataType:  onnxFloat,
		FloatData: data,
		Name:      name,
	}
}

// ONNXImporter handles importing ONNX models exported by ONNXExporter
type ONNXImporter struct{}

// NewONNXImporter creates a new ONNX importer
func NewONNXImporter() *ONNXImporter {
	return &ONNXImporter{}
}

// ImportFromONNX converts an ONNX model file to a checkpoint
func (oi *ONNXImporter) ImportFromONNX(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ONNX file: %v", err)
	}
	return oi.Unmarshal(data)
}

// Unmarshal decodes a serialized ONNX ModelProto into a checkpoint
func (oi *ONNXImporter) Unmarshal(data []byte) (*Checkpoint, error) {
	model, err := unmarshalModel(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal ONNX model: %v", err)
	}
	if model.Graph == nil {
		return nil, fmt.Errorf("ONNX model has no graph")
	}

	checkpoint := &Checkpoint{
		Metadata: CheckpointMetadata{
			Version:     model.ProducerVersion,
			Framework:   model.ProducerName,
			Description: model.DocString,
		},
	}

	weights, err := oi.extractWeights(model.Graph)
	if err != nil {
		return nil, err
	}
	checkpoint.Weights = weights

	haveConfig := false
	for _, prop := range model.MetadataProps {
		switch prop.Key {
		case metaConfig:
			if err := json.Unmarshal([]byte(prop.Value), &checkpoint.Config); err != nil {
				return nil, fmt.Errorf("invalid %s metadata: %v", metaConfig, err)
			}
			haveConfig = true
		case metaTrainingState:
			if err := json.Unmarshal([]byte(prop.Value), &checkpoint.TrainingState); err != nil {
				return nil, fmt.Errorf("invalid %s metadata: %v", metaTrainingState, err)
			}
		}
	}
	if !haveConfig {
		cfg, err := inferConfig(weights)
		if err != nil {
			return nil, err
		}
		checkpoint.Config = cfg
	}

	checkpoint.Encoder, checkpoint.Decoder, err = oi.convertGraph(model.Graph, checkpoint.Config, weights)
	if err != nil {
		return nil, err
	}

	// Label the weights with the layers that use them
	labelled, err := labelWeights(weights, checkpoint.Encoder, checkpoint.Decoder)
	if err != nil {
		return nil, err
	}
	checkpoint.Weights = labelled
	return checkpoint, nil
}

// extractWeights collects the FLOAT initializers of the graph
func (oi *ONNXImporter) extractWeights(graph *graphProto) ([]WeightTensor, error) {
	var weights []WeightTensor
	for i := range graph.Initializers {
		init := &graph.Initializers[i]
		if init.DataType != onnxFloat {
			continue
		}
		data, err := init.floats()
		if err != nil {
			return nil, err
		}
		shape := make([]int, len(init.Dims))
		for j, d := range init.Dims {
			shape[j] = int(d)
		}
		weights = append(weights, WeightTensor{
			Name:  init.Name,
			Shape: shape,
			Data:  data,
		})
	}
	return weights, nil
}

// convertGraph rebuilds the encoder and decoder specs from the graph nodes.
// Nodes are grouped by the model prefix of their names.
func (oi *ONNXImporter) convertGraph(graph *graphProto, cfg vae.Config, weights []WeightTensor) (*layers.ModelSpec, *layers.ModelSpec, error) {
	shapes := make(map[string][]int, len(weights))
	for _, w := range weights {
		shapes[w.Name] = w.Shape
	}

	builders := map[string]*importedModel{}
	var order []string
	matmuls := make(map[string]nodeProto)

	for _, node := range graph.Nodes {
		modelName, _, ok := strings.Cut(node.Name, "/")
		if !ok {
			return nil, nil, fmt.Errorf("node %q has no model prefix", node.Name)
		}
		if len(node.Outputs) != 1 || len(node.Inputs) == 0 {
			return nil, nil, fmt.Errorf("node %s: unsupported arity", node.Name)
		}
		im, exists := builders[modelName]
		if !exists {
			im = &importedModel{name: modelName}
			builders[modelName] = im
			order = append(order, modelName)
		}
		out := node.Outputs[0]

		switch node.OpType {
		case "MatMul":
			if len(node.Inputs) != 2 {
				return nil, nil, fmt.Errorf("node %s: MatMul needs two inputs", node.Name)
			}
			if strings.HasSuffix(node.Name, "/matmul") && strings.HasSuffix(out, "_matmul") {
				matmuls[out] = node
				continue
			}
			if err := im.addDense(out, node.Inputs[0], node.Inputs[1], "", shapes); err != nil {
				return nil, nil, err
			}
		case "Add":
			mm, ok := matmuls[node.Inputs[0]]
			if !ok || len(node.Inputs) != 2 {
				return nil, nil, fmt.Errorf("node %s: Add without a preceding MatMul", node.Name)
			}
			if err := im.addDense(out, mm.Inputs[0], mm.Inputs[1], node.Inputs[1], shapes); err != nil {
				return nil, nil, err
			}
		case "Relu":
			im.add(layers.LayerSpec{Type: layers.ReLU, Name: out}, node.Inputs[0])
		case "LeakyRelu":
			slope := layers.DefaultLeakySlope
			for _, a := range node.Attributes {
				if a.Name == "alpha" {
					slope = a.F
				}
			}
			im.add(layers.LayerSpec{
				Type:       layers.LeakyReLU,
				Name:       out,
				Parameters: map[string]interface{}{"negative_slope": slope},
			}, node.Inputs[0])
		case "Sigmoid":
			im.add(layers.LayerSpec{Type: layers.Sigmoid, Name: out}, node.Inputs[0])
		case "Tanh":
			im.add(layers.LayerSpec{Type: layers.Tanh, Name: out}, node.Inputs[0])
		case "Flatten":
			im.add(layers.LayerSpec{Type: layers.Flatten, Name: out}, node.Inputs[0])
		case "Reshape":
			item, err := reshapeTarget(graph, node)
			if err != nil {
				return nil, nil, err
			}
			im.add(layers.LayerSpec{
				Type:       layers.Reshape,
				Name:       out,
				Parameters: map[string]interface{}{"shape": item},
			}, node.Inputs[0])
		default:
			return nil, nil, fmt.Errorf("unsupported ONNX operator %s in node %s", node.OpType, node.Name)
		}
	}

	enc, ok := builders["encoder"]
	if !ok {
		return nil, nil, fmt.Errorf("graph has no encoder nodes")
	}
	dec, ok := builders["decoder"]
	if !ok {
		return nil, nil, fmt.Errorf("graph has no decoder nodes")
	}
	if len(order) != 2 {
		return nil, nil, fmt.Errorf("graph has unexpected models %v", order)
	}

	outputs := make(map[string]bool, len(graph.Outputs))
	for _, out := range graph.Outputs {
		outputs[out.Name] = true
	}

	encoderSpec, err := enc.compile(cfg.ImageBatchShape(), outputs)
	if err != nil {
		return nil, nil, fmt.Errorf("encoder: %w", err)
	}
	decoderSpec, err := dec.compile([]int{cfg.BatchSize, cfg.Latent}, outputs)
	if err != nil {
		return nil, nil, fmt.Errorf("decoder: %w", err)
	}
	return encoderSpec, decoderSpec, nil
}

// importedModel accumulates the layers of one network during import
type importedModel struct {
	name     string
	previous string
	layers   []layers.LayerSpec
}

func (im *importedModel) add(layer layers.LayerSpec, input string) {
	if layer.Parameters == nil {
		layer.Parameters = map[string]interface{}{}
	}
	if len(im.layers) > 0 && input != im.previous {
		layer.Parameters["input"] = input
	}
	im.layers = append(im.layers, layer)
	im.previous = layer.Name
}

func (im *importedModel) addDense(name, input, weight, bias string, shapes map[string][]int) error {
	shape, ok := shapes[weight]
	if !ok || len(shape) != 2 {
		return fmt.Errorf("layer %s: weight %s is not a 2-D initializer", name, weight)
	}
	im.add(layers.LayerSpec{
		Type: layers.Dense,
		Name: name,
		Parameters: map[string]interface{}{
			"output_size": shape[1],
			"use_bias":    bias != "",
			"weight":      weight,
			"bias":        bias,
		},
	}, input)
	return nil
}

func (im *importedModel) compile(inputShape []int, graphOutputs map[string]bool) (*layers.ModelSpec, error) {
	builder := layers.NewModelBuilder(im.name, inputShape)
	for _, layer := range im.layers {
		builder.AddLayer(layer)
		if graphOutputs[layer.Name] {
			builder.MarkOutput(layer.Name)
		}
	}
	return builder.Compile()
}

// reshapeTarget reads the per-item shape of a Reshape node from its
// INT64 shape initializer
func reshapeTarget(graph *graphProto, node nodeProto) ([]int, error) {
	if len(node.Inputs) != 2 {
		return nil, fmt.Errorf("node %s: Reshape needs a shape input", node.Name)
	}
	for _, init := range graph.Initializers {
		if init.Name != node.Inputs[1] {
			continue
		}
		if init.DataType != onnxInt64 || len(init.Int64Data) < 2 {
			return nil, fmt.Errorf("node %s: invalid shape initializer", node.Name)
		}
		item := make([]int, len(init.Int64Data)-1)
		for i, d := range init.Int64Data[1:] {
			item[i] = int(d)
		}
		return item, nil
	}
	return nil, fmt.Errorf("node %s: shape initializer %s not found", node.Name, node.Inputs[1])
}

// inferConfig recovers the architecture from the weight shapes when the
// model carries no config metadata
func inferConfig(weights []WeightTensor) (vae.Config, error) {
	cfg := vae.DefaultConfig()
	found := 0
	for _, w := range weights {
		switch w.Name {
		case vae.EncW0:
			if len(w.Shape) == 2 {
				cfg.Hidden = w.Shape[1]
				found++
			}
		case vae.EncWMu:
			if len(w.Shape) == 2 {
				cfg.Latent = w.Shape[1]
				found++
			}
		}
	}
	if found != 2 {
		return vae.Config{}, fmt.Errorf("cannot infer model config from weights")
	}
	return cfg, nil
}

// labelWeights fills in the layer and kind of each weight
func labelWeights(weights []WeightTensor, specs ...*layers.ModelSpec) ([]WeightTensor, error) {
	owners, err := weightOwners(specs...)
	if err != nil {
		return nil, err
	}
	out := make([]WeightTensor, len(weights))
	for i, w := range weights {
		o, ok := owners[w.Name]
		if !ok {
			return nil, fmt.Errorf("initializer %s is not used by any layer", w.Name)
		}
		w.Layer, w.Type = o.layer, o.kind
		out[i] = w
	}
	return out, nil
}
