package vae

import (
	"fmt"

	"github.com/tsawler/go-vae/layers"
	"github.com/tsawler/go-vae/tensor"
)

// DecoderCache holds the forward intermediates the backward pass needs
type DecoderCache struct {
	Z      *tensor.Tensor // (B, Z)
	HRaw   *tensor.Tensor // (B, H)
	H      *tensor.Tensor // ReLU(HRaw)
	OutRaw *tensor.Tensor // (B, 784)
	Out    *tensor.Tensor // clamped sigmoid(OutRaw), (B, 784)
}

// Decoder maps latent samples back to images
type Decoder struct {
	cfg    Config
	params *Parameters
	hidden layers.Activation
	output layers.Activation
	cache  *DecoderCache
}

// NewDecoder creates a decoder reading weights from params
func NewDecoder(cfg Config, params *Parameters) *Decoder {
	return &Decoder{
		cfg:    cfg,
		params: params,
		hidden: layers.Activation{Type: layers.ReLU},
		output: layers.Activation{Type: layers.Sigmoid},
	}
}

// Forward decodes z (B, Z) into a (B, 28, 28, 1) reconstruction with every
// value in [ClampEpsilon, 1-ClampEpsilon]
func (d *Decoder) Forward(z *tensor.Tensor) (*tensor.Tensor, error) {
	if err := tensor.CheckShape(z, "decoder input", d.cfg.BatchSize, d.cfg.Latent); err != nil {
		return nil, err
	}

	hRaw, err := tensor.Linear(z, d.params.DecW0, d.params.DecB0)
	if err != nil {
		return nil, fmt.Errorf("decoder hidden: %w", err)
	}
	h := d.hidden.Forward(hRaw)

	outRaw, err := tensor.Linear(h, d.params.DecW1, d.params.DecB1)
	if err != nil {
		return nil, fmt.Errorf("decoder output: %w", err)
	}
	out := tensor.Clamp(d.output.Forward(outRaw), ClampEpsilon, 1-ClampEpsilon)

	d.cache = &DecoderCache{Z: z, HRaw: hRaw, H: h, OutRaw: outRaw, Out: out}

	image, err := tensor.Reshape(out, d.cfg.ImageBatchShape()...)
	if err != nil {
		return nil, fmt.Errorf("decoder: %w", err)
	}
	return image, nil
}

// Cache returns the intermediates of the most recent Forward call
func (d *Decoder) Cache() *DecoderCache {
	return d.cache
}

// Spec describes the decoder graph for summaries and exports
func (d *Decoder) Spec() (*layers.ModelSpec, error) {
	return layers.NewModelBuilder("decoder", []int{d.cfg.BatchSize, d.cfg.Latent}).
		AddDense(d.cfg.Hidden, DecW0, DecB0, "dec_hidden").
		AddReLU("dec_act").
		AddDense(ImageSize, DecW1, DecB1, "dec_out").
		AddSigmoid("dec_sigmoid").
		AddReshape([]int{ImageHeight, ImageWidth, ImageChannels}, "image").
		Compile()
}
