package vae

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/tsawler/go-vae/tensor"
)

// Parameter names, in the fixed order used by List, checkpoints and exports
const (
	EncW0      = "enc_w0"
	EncB0      = "enc_b0"
	EncWMu     = "enc_w_mu"
	EncBMu     = "enc_b_mu"
	EncWLogvar = "enc_w_logvar"
	EncBLogvar = "enc_b_logvar"
	DecW0      = "dec_w0"
	DecB0      = "dec_b0"
	DecW1      = "dec_w1"
	DecB1      = "dec_b1"
)

// ParameterNames lists the ten parameter names in order
func ParameterNames() []string {
	return []string{EncW0, EncB0, EncWMu, EncBMu, EncWLogvar, EncBLogvar, DecW0, DecB0, DecW1, DecB1}
}

// Parameters owns the ten weight and bias tensors of the model.
// Shapes are fixed at construction.
type Parameters struct {
	EncW0      *tensor.Tensor // (784, H)
	EncB0      *tensor.Tensor // (H)
	EncWMu     *tensor.Tensor // (H, Z)
	EncBMu     *tensor.Tensor // (Z)
	EncWLogvar *tensor.Tensor // (H, Z)
	EncBLogvar *tensor.Tensor // (Z)
	DecW0      *tensor.Tensor // (Z, H)
	DecB0      *tensor.Tensor // (H)
	DecW1      *tensor.Tensor // (H, 784)
	DecB1      *tensor.Tensor // (784)
}

// Gradients has one tensor per parameter, each shaped like its parameter
type Gradients = Parameters

// NamedTensor pairs a parameter with its name
type NamedTensor struct {
	Name   string
	Tensor *tensor.Tensor
}

// ParameterShapes returns the shape of every parameter for cfg, keyed by name
func ParameterShapes(cfg Config) map[string][]int {
	h, z := cfg.Hidden, cfg.Latent
	return map[string][]int{
		EncW0:      {ImageSize, h},
		EncB0:      {h},
		EncWMu:     {h, z},
		EncBMu:     {z},
		EncWLogvar: {h, z},
		EncBLogvar: {z},
		DecW0:      {z, h},
		DecB0:      {h},
		DecW1:      {h, ImageSize},
		DecB1:      {ImageSize},
	}
}

// NewParameters initializes weights from N(0, 2/fan_in) and biases to zero.
// The same seed always yields identical tensors.
func NewParameters(cfg Config) (*Parameters, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	shapes := ParameterShapes(cfg)
	p := &Parameters{}

	for _, name := range ParameterNames() {
		shape := shapes[name]
		var t *tensor.Tensor
		var err error
		if len(shape) == 2 {
			std := float32(math.Sqrt(2 / float64(shape[0])))
			t, err = tensor.RandomNormal(shape, 0, std, rng)
		} else {
			t, err = tensor.Zeros(shape...)
		}
		if err != nil {
			return nil, fmt.Errorf("init %s: %w", name, err)
		}
		p.set(name, t)
	}
	return p, nil
}

// ZeroGradients allocates a zero tensor for every parameter of cfg
func ZeroGradients(cfg Config) *Gradients {
	g := &Gradients{}
	for name, shape := range ParameterShapes(cfg) {
		g.set(name, tensor.MustZeros(shape...))
	}
	return g
}

func (p *Parameters) set(name string, t *tensor.Tensor) {
	*p.slot(name) = t
}

func (p *Parameters) slot(name string) **tensor.Tensor {
	switch name {
	case EncW0:
		return &p.EncW0
	case EncB0:
		return &p.EncB0
	case EncWMu:
		return &p.EncWMu
	case EncBMu:
		return &p.EncBMu
	case EncWLogvar:
		return &p.EncWLogvar
	case EncBLogvar:
		return &p.EncBLogvar
	case DecW0:
		return &p.DecW0
	case DecB0:
		return &p.DecB0
	case DecW1:
		return &p.DecW1
	case DecB1:
		return &p.DecB1
	}
	return nil
}

// Get returns the named tensor, or nil for an unknown name
func (p *Parameters) Get(name string) *tensor.Tensor {
	if s := p.slot(name); s != nil {
		return *s
	}
	return nil
}

// List returns the ten tensors in ParameterNames order
func (p *Parameters) List() []*tensor.Tensor {
	names := ParameterNames()
	list := make([]*tensor.Tensor, len(names))
	for i, name := range names {
		list[i] = p.Get(name)
	}
	return list
}

// Named returns the tensors with their names in ParameterNames order
func (p *Parameters) Named() []NamedTensor {
	names := ParameterNames()
	named := make([]NamedTensor, len(names))
	for i, name := range names {
		named[i] = NamedTensor{Name: name, Tensor: p.Get(name)}
	}
	return named
}

// Clone deep-copies every tensor
func (p *Parameters) Clone() *Parameters {
	c := &Parameters{}
	for _, nt := range p.Named() {
		if nt.Tensor != nil {
			c.set(nt.Name, nt.Tensor.Clone())
		}
	}
	return c
}

// CheckShapes verifies every tensor has the shape cfg requires
func (p *Parameters) CheckShapes(cfg Config) error {
	shapes := ParameterShapes(cfg)
	for _, nt := range p.Named() {
		if err := tensor.CheckShape(nt.Tensor, "parameters: "+nt.Name, shapes[nt.Name]...); err != nil {
			return err
		}
	}
	return nil
}

// Load copies data into the named parameter. The length must match.
func (p *Parameters) Load(name string, shape []int, data []float32) error {
	t := p.Get(name)
	if t == nil {
		return fmt.Errorf("unknown parameter %q", name)
	}
	if err := tensor.CheckShape(t, "load "+name, shape...); err != nil {
		return err
	}
	if len(data) != t.NumElems {
		return fmt.Errorf("parameter %s: got %d values, expected %d", name, len(data), t.NumElems)
	}
	copy(t.Data, data)
	return nil
}

// Count returns the total number of scalar parameters
func (p *Parameters) Count() int {
	n := 0
	for _, t := range p.List() {
		if t != nil {
			n += t.NumElems
		}
	}
	return n
}
