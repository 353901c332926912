package vae

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/tsawler/go-vae/layers"
	"github.com/tsawler/go-vae/tensor"
)

// GradientEngine computes the batch-mean gradient of the total loss with
// respect to all ten parameters by walking the cached forward graph in
// reverse. Each chain-rule step is its own method.
type GradientEngine struct {
	cfg    Config
	params *Parameters
	encAct layers.Activation
	decAct layers.Activation
}

// NewGradientEngine creates an engine for the given parameters
func NewGradientEngine(cfg Config, params *Parameters) *GradientEngine {
	return &GradientEngine{
		cfg:    cfg,
		params: params,
		encAct: layers.Activation{Type: layers.LeakyReLU, Slope: cfg.LeakySlope},
		decAct: layers.Activation{Type: layers.ReLU},
	}
}

// Backward returns the gradients for the batch whose forward intermediates
// are in enc, eps and dec, with target the images being reconstructed
func (g *GradientEngine) Backward(target *tensor.Tensor, enc *EncoderCache, eps *tensor.Tensor, dec *DecoderCache) (*Gradients, error) {
	if target == nil || enc == nil || dec == nil || eps == nil {
		return nil, fmt.Errorf("backward: forward pass has not run")
	}
	if err := g.checkCaches(enc, eps, dec); err != nil {
		return nil, err
	}

	y, err := tensor.Reshape(target, g.cfg.BatchSize, ImageSize)
	if err != nil {
		return nil, &tensor.ShapeError{Stage: "backward target", Want: g.cfg.ImageBatchShape(), Got: target.Shape}
	}

	grads := &Gradients{}

	dOutRaw, err := g.outputDelta(dec.Out, y)
	if err != nil {
		return nil, err
	}
	dDecHRaw, err := g.decoderOutputGrads(grads, dec, dOutRaw)
	if err != nil {
		return nil, err
	}
	dZ, err := g.decoderHiddenGrads(grads, dec, dDecHRaw)
	if err != nil {
		return nil, err
	}
	dMu, dLogvar, err := g.reparameterizationGrads(dZ, eps, enc.Logvar)
	if err != nil {
		return nil, err
	}
	g.klGrads(dMu, dLogvar, enc.Mu, enc.Logvar)
	dEncHRaw, err := g.encoderHeadGrads(grads, enc, dMu, dLogvar)
	if err != nil {
		return nil, err
	}
	if err := g.encoderInputGrads(grads, enc, dEncHRaw); err != nil {
		return nil, err
	}

	return grads, nil
}

func (g *GradientEngine) checkCaches(enc *EncoderCache, eps *tensor.Tensor, dec *DecoderCache) error {
	b, h, z := g.cfg.BatchSize, g.cfg.Hidden, g.cfg.Latent
	checks := []struct {
		t     *tensor.Tensor
		stage string
		shape []int
	}{
		{enc.X, "backward encoder x", []int{b, ImageSize}},
		{enc.HRaw, "backward encoder h_raw", []int{b, h}},
		{enc.H, "backward encoder h", []int{b, h}},
		{enc.Mu, "backward encoder mu", []int{b, z}},
		{enc.Logvar, "backward encoder logvar", []int{b, z}},
		{eps, "backward eps", []int{b, z}},
		{dec.Z, "backward decoder z", []int{b, z}},
		{dec.HRaw, "backward decoder h_raw", []int{b, h}},
		{dec.H, "backward decoder h", []int{b, h}},
		{dec.OutRaw, "backward decoder out_raw", []int{b, ImageSize}},
		{dec.Out, "backward decoder out", []int{b, ImageSize}},
	}
	for _, c := range checks {
		if err := tensor.CheckShape(c.t, c.stage, c.shape...); err != nil {
			return err
		}
	}
	return g.params.CheckShapes(g.cfg)
}

// outputDelta is the combined sigmoid/BCE derivative (out - y), scaled by
// 1/B so every downstream gradient is a batch mean
func (g *GradientEngine) outputDelta(out, y *tensor.Tensor) (*tensor.Tensor, error) {
	delta, err := tensor.Sub(out, y)
	if err != nil {
		return nil, fmt.Errorf("backward output delta: %w", err)
	}
	return tensor.Scale(delta, 1/float32(g.cfg.BatchSize)), nil
}

// decoderOutputGrads fills dec_w1/dec_b1 and returns d(h_raw) of the decoder
func (g *GradientEngine) decoderOutputGrads(grads *Gradients, dec *DecoderCache, dOutRaw *tensor.Tensor) (*tensor.Tensor, error) {
	var err error
	if grads.DecW1, err = tensor.MatMulTransA(dec.H, dOutRaw); err != nil {
		return nil, fmt.Errorf("backward dec_w1: %w", err)
	}
	if grads.DecB1, err = tensor.SumRows(dOutRaw); err != nil {
		return nil, fmt.Errorf("backward dec_b1: %w", err)
	}

	dH, err := tensor.MatMulTransB(dOutRaw, g.params.DecW1)
	if err != nil {
		return nil, fmt.Errorf("backward decoder hidden: %w", err)
	}
	return g.decAct.Backward(dH, dec.HRaw)
}

// decoderHiddenGrads fills dec_w0/dec_b0 and returns d(z)
func (g *GradientEngine) decoderHiddenGrads(grads *Gradients, dec *DecoderCache, dHRaw *tensor.Tensor) (*tensor.Tensor, error) {
	var err error
	if grads.DecW0, err = tensor.MatMulTransA(dec.Z, dHRaw); err != nil {
		return nil, fmt.Errorf("backward dec_w0: %w", err)
	}
	if grads.DecB0, err = tensor.SumRows(dHRaw); err != nil {
		return nil, fmt.Errorf("backward dec_b0: %w", err)
	}

	dZ, err := tensor.MatMulTransB(dHRaw, g.params.DecW0)
	if err != nil {
		return nil, fmt.Errorf("backward latent: %w", err)
	}
	return dZ, nil
}

// reparameterizationGrads routes d(z) through z = mu + exp(logvar/2)·eps
func (g *GradientEngine) reparameterizationGrads(dZ, eps, logvar *tensor.Tensor) (dMu, dLogvar *tensor.Tensor, err error) {
	if err := tensor.CheckShape(eps, "backward reparameterization", dZ.Shape...); err != nil {
		return nil, nil, err
	}

	dMu = dZ.Clone()
	dLogvar = tensor.ZerosLike(dZ)
	for i, d := range dZ.Data {
		if eps.Data[i] != 0 {
			dLogvar.Data[i] = d * eps.Data[i] * 0.5 * math32.Exp(logvar.Data[i]/2)
		}
	}
	return dMu, dLogvar, nil
}

// klGrads adds the direct KL gradients α·mu and α·(exp(logvar) - 1)/2,
// scaled by 1/B like the reconstruction term
func (g *GradientEngine) klGrads(dMu, dLogvar, mu, logvar *tensor.Tensor) {
	scale := g.cfg.KLWeight / float32(g.cfg.BatchSize)
	for i, m := range mu.Data {
		dMu.Data[i] += scale * m
		dLogvar.Data[i] += scale * 0.5 * (math32.Exp(logvar.Data[i]) - 1)
	}
}

// encoderHeadGrads fills the mu/logvar head gradients and returns d(h_raw)
// of the encoder, summing the contributions of both heads
func (g *GradientEngine) encoderHeadGrads(grads *Gradients, enc *EncoderCache, dMu, dLogvar *tensor.Tensor) (*tensor.Tensor, error) {
	var err error
	if grads.EncWMu, err = tensor.MatMulTransA(enc.H, dMu); err != nil {
		return nil, fmt.Errorf("backward enc_w_mu: %w", err)
	}
	if grads.EncBMu, err = tensor.SumRows(dMu); err != nil {
		return nil, fmt.Errorf("backward enc_b_mu: %w", err)
	}
	if grads.EncWLogvar, err = tensor.MatMulTransA(enc.H, dLogvar); err != nil {
		return nil, fmt.Errorf("backward enc_w_logvar: %w", err)
	}
	if grads.EncBLogvar, err = tensor.SumRows(dLogvar); err != nil {
		return nil, fmt.Errorf("backward enc_b_logvar: %w", err)
	}

	dH, err := tensor.MatMulTransB(dMu, g.params.EncWMu)
	if err != nil {
		return nil, fmt.Errorf("backward encoder hidden: %w", err)
	}
	dHLogvar, err := tensor.MatMulTransB(dLogvar, g.params.EncWLogvar)
	if err != nil {
		return nil, fmt.Errorf("backward encoder hidden: %w", err)
	}
	if err := tensor.AddInPlace(dH, dHLogvar); err != nil {
		return nil, fmt.Errorf("backward encoder hidden: %w", err)
	}
	return g.encAct.Backward(dH, enc.HRaw)
}

// encoderInputGrads fills enc_w0/enc_b0
func (g *GradientEngine) encoderInputGrads(grads *Gradients, enc *EncoderCache, dHRaw *tensor.Tensor) error {
	var err error
	if grads.EncW0, err = tensor.MatMulTransA(enc.X, dHRaw); err != nil {
		return fmt.Errorf("backward enc_w0: %w", err)
	}
	if grads.EncB0, err = tensor.SumRows(dHRaw); err != nil {
		return fmt.Errorf("backward enc_b0: %w", err)
	}
	return nil
}
