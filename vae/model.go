package vae

import (
	"fmt"

	"github.com/tsawler/go-vae/layers"
	"github.com/tsawler/go-vae/tensor"
)

// VAE wires the encoder, sampler, decoder, loss and gradient engine around
// one parameter store. A batch goes through Forward, Loss and Backward in
// that order; the caches of one batch are never reused by the next.
type VAE struct {
	Config  Config
	Params  *Parameters
	Encoder *Encoder
	Sampler *Sampler
	Decoder *Decoder
	Loss    LossEvaluator
	Engine  *GradientEngine

	input *tensor.Tensor
	recon *tensor.Tensor
}

// New builds a model with freshly initialized parameters. A nil noise
// source draws Gaussian noise seeded from cfg.Seed.
func New(cfg Config, noise NoiseSource) (*VAE, error) {
	params, err := NewParameters(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithParameters(cfg, params, noise)
}

// NewWithParameters builds a model around existing parameters, such as
// those restored from a checkpoint
func NewWithParameters(cfg Config, params *Parameters, noise NoiseSource) (*VAE, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := params.CheckShapes(cfg); err != nil {
		return nil, err
	}
	if noise == nil {
		// Offset so the noise stream differs from the initialization stream
		noise = NewGaussianNoise(cfg.Seed + 1)
	}

	return &VAE{
		Config:  cfg,
		Params:  params,
		Encoder: NewEncoder(cfg, params),
		Sampler: NewSampler(noise),
		Decoder: NewDecoder(cfg, params),
		Loss:    LossEvaluator{KLWeight: cfg.KLWeight},
		Engine:  NewGradientEngine(cfg, params),
	}, nil
}

// Forward runs encoder, sampler and decoder on a (B, 28, 28, 1) batch and
// returns the reconstruction
func (m *VAE) Forward(images *tensor.Tensor) (*tensor.Tensor, error) {
	mu, logvar, err := m.Encoder.Forward(images)
	if err != nil {
		return nil, err
	}
	z, err := m.Sampler.Sample(mu, logvar)
	if err != nil {
		return nil, fmt.Errorf("sampler: %w", err)
	}
	recon, err := m.Decoder.Forward(z)
	if err != nil {
		return nil, err
	}

	m.input = images
	m.recon = recon
	return recon, nil
}

// ComputeLoss evaluates the loss of the most recent Forward batch
func (m *VAE) ComputeLoss() (LossResult, error) {
	if m.recon == nil {
		return LossResult{}, fmt.Errorf("loss: forward pass has not run")
	}
	enc := m.Encoder.Cache()
	return m.Loss.Evaluate(m.input, m.recon, enc.Mu, enc.Logvar)
}

// Backward computes the gradients of the most recent Forward batch and
// releases its caches
func (m *VAE) Backward() (*Gradients, error) {
	if m.input == nil {
		return nil, fmt.Errorf("backward: forward pass has not run")
	}
	grads, err := m.Engine.Backward(m.input, m.Encoder.Cache(), m.Sampler.Eps(), m.Decoder.Cache())
	if err != nil {
		return nil, err
	}
	m.input, m.recon = nil, nil
	return grads, nil
}

// Reconstruction returns the output of the most recent Forward call
func (m *VAE) Reconstruction() *tensor.Tensor {
	return m.recon
}

// Specs returns the encoder and decoder architecture descriptions
func (m *VAE) Specs() (encoder, decoder *layers.ModelSpec, err error) {
	if encoder, err = m.Encoder.Spec(); err != nil {
		return nil, nil, fmt.Errorf("encoder spec: %w", err)
	}
	if decoder, err = m.Decoder.Spec(); err != nil {
		return nil, nil, fmt.Errorf("decoder spec: %w", err)
	}
	return encoder, decoder, nil
}
