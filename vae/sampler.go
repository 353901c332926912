package vae

import (
	"math/rand"

	"github.com/chewxy/math32"

	"github.com/tsawler/go-vae/tensor"
)

// NoiseSource supplies the standard-normal noise of the reparameterization
type NoiseSource interface {
	Noise(shape ...int) (*tensor.Tensor, error)
}

// GaussianNoise draws eps ~ N(0, 1) from a seeded generator
type GaussianNoise struct {
	rng *rand.Rand
}

// NewGaussianNoise creates a noise source with its own seeded generator
func NewGaussianNoise(seed int64) *GaussianNoise {
	return &GaussianNoise{rng: rand.New(rand.NewSource(seed))}
}

func (g *GaussianNoise) Noise(shape ...int) (*tensor.Tensor, error) {
	return tensor.RandomNormal(shape, 0, 1, g.rng)
}

// FixedNoise returns the same eps on every call. A nil Eps yields zeros.
type FixedNoise struct {
	Eps *tensor.Tensor
}

func (f FixedNoise) Noise(shape ...int) (*tensor.Tensor, error) {
	if f.Eps == nil {
		return tensor.Zeros(shape...)
	}
	if err := tensor.CheckShape(f.Eps, "fixed noise", shape...); err != nil {
		return nil, err
	}
	return f.Eps.Clone(), nil
}

// Sampler draws z = mu + exp(logvar/2) ⊙ eps with fresh eps per call
type Sampler struct {
	noise NoiseSource
	eps   *tensor.Tensor
}

// NewSampler creates a sampler over the given noise source
func NewSampler(noise NoiseSource) *Sampler {
	return &Sampler{noise: noise}
}

// Sample reparameterizes mu and logvar into a latent sample. Where eps is
// zero the sample equals mu exactly.
func (s *Sampler) Sample(mu, logvar *tensor.Tensor) (*tensor.Tensor, error) {
	if err := tensor.CheckShape(logvar, "sampler logvar", mu.Shape...); err != nil {
		return nil, err
	}

	eps, err := s.noise.Noise(mu.Shape...)
	if err != nil {
		return nil, err
	}

	z := mu.Clone()
	for i, e := range eps.Data {
		if e != 0 {
			z.Data[i] += math32.Exp(logvar.Data[i]/2) * e
		}
	}

	s.eps = eps
	return z, nil
}

// Eps returns the noise drawn by the most recent Sample call
func (s *Sampler) Eps() *tensor.Tensor {
	return s.eps
}
