package vae

import (
	"fmt"

	"github.com/tsawler/go-vae/layers"
	"github.com/tsawler/go-vae/tensor"
)

// EncoderCache holds the forward intermediates the backward pass needs
type EncoderCache struct {
	X      *tensor.Tensor // flattened input (B, 784)
	HRaw   *tensor.Tensor // pre-activation (B, H)
	H      *tensor.Tensor // LeakyReLU(HRaw)
	Mu     *tensor.Tensor // (B, Z)
	Logvar *tensor.Tensor // (B, Z)
}

// Encoder maps an image batch to the mean and log-variance of a diagonal
// Gaussian over the latent space
type Encoder struct {
	cfg    Config
	params *Parameters
	act    layers.Activation
	cache  *EncoderCache
}

// NewEncoder creates an encoder reading weights from params
func NewEncoder(cfg Config, params *Parameters) *Encoder {
	return &Encoder{
		cfg:    cfg,
		params: params,
		act:    layers.Activation{Type: layers.LeakyReLU, Slope: cfg.LeakySlope},
	}
}

// Forward encodes a (B, 28, 28, 1) batch into mu and logvar, each (B, Z)
func (e *Encoder) Forward(images *tensor.Tensor) (mu, logvar *tensor.Tensor, err error) {
	if err := tensor.CheckShape(images, "encoder input", e.cfg.ImageBatchShape()...); err != nil {
		return nil, nil, err
	}

	x, err := tensor.Reshape(images, e.cfg.BatchSize, ImageSize)
	if err != nil {
		return nil, nil, fmt.Errorf("encoder: %w", err)
	}

	hRaw, err := tensor.Linear(x, e.params.EncW0, e.params.EncB0)
	if err != nil {
		return nil, nil, fmt.Errorf("encoder hidden: %w", err)
	}
	h := e.act.Forward(hRaw)

	mu, err = tensor.Linear(h, e.params.EncWMu, e.params.EncBMu)
	if err != nil {
		return nil, nil, fmt.Errorf("encoder mu head: %w", err)
	}
	logvar, err = tensor.Linear(h, e.params.EncWLogvar, e.params.EncBLogvar)
	if err != nil {
		return nil, nil, fmt.Errorf("encoder logvar head: %w", err)
	}

	e.cache = &EncoderCache{X: x, HRaw: hRaw, H: h, Mu: mu, Logvar: logvar}
	return mu, logvar, nil
}

// Cache returns the intermediates of the most recent Forward call
func (e *Encoder) Cache() *EncoderCache {
	return e.cache
}

// Spec describes the encoder graph for summaries and exports
func (e *Encoder) Spec() (*layers.ModelSpec, error) {
	return layers.NewModelBuilder("encoder", e.cfg.ImageBatchShape()).
		AddFlatten("flatten").
		AddDense(e.cfg.Hidden, EncW0, EncB0, "enc_hidden").
		AddLeakyReLU(e.cfg.LeakySlope, "enc_act").
		AddDense(e.cfg.Latent, EncWMu, EncBMu, "mu").
		AddDenseFrom("enc_act", e.cfg.Latent, EncWLogvar, EncBLogvar, "logvar").
		MarkOutput("mu").
		MarkOutput("logvar").
		Compile()
}
