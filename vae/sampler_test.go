package vae

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/tsawler/go-vae/tensor"
)

func TestSampleZeroNoiseIsMean(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 20; trial++ {
		mu, _ := tensor.RandomNormal([]int{3, 4}, 0, 5, rng)
		logvar, _ := tensor.RandomNormal([]int{3, 4}, 0, 50, rng)

		s := NewSampler(FixedNoise{})
		z, err := s.Sample(mu, logvar)
		if err != nil {
			t.Fatalf("Sample failed: %v", err)
		}
		if !z.Equal(mu) {
			t.Fatalf("with eps = 0, z = %v, expected mu = %v", z.Data, mu.Data)
		}
	}
}

func TestSampleReparameterization(t *testing.T) {
	mu, _ := tensor.NewTensor([]int{1, 2}, []float32{1, -1})
	logvar, _ := tensor.NewTensor([]int{1, 2}, []float32{0, 2 * float32(math.Log(3))})
	eps, _ := tensor.NewTensor([]int{1, 2}, []float32{0.5, 2})

	s := NewSampler(FixedNoise{Eps: eps})
	z, err := s.Sample(mu, logvar)
	if err != nil {
		t.Fatalf("Sample failed: %v", err)
	}

	expected := []float64{1.5, 5}
	for i, v := range expected {
		if math.Abs(float64(z.Data[i])-v) > 1e-5 {
			t.Errorf("z[%d] = %f, expected %f", i, z.Data[i], v)
		}
	}
	if !s.Eps().Equal(eps) {
		t.Error("sampler must cache the noise it used")
	}
}

func TestGaussianNoiseFreshPerCall(t *testing.T) {
	noise := NewGaussianNoise(9)
	a, _ := noise.Noise(2, 3)
	b, _ := noise.Noise(2, 3)
	if a.Equal(b) {
		t.Error("consecutive draws should differ")
	}

	again, _ := NewGaussianNoise(9).Noise(2, 3)
	if !a.Equal(again) {
		t.Error("same seed should reproduce the same noise")
	}
}

func TestSampleShapeMismatch(t *testing.T) {
	s := NewSampler(FixedNoise{})
	if _, err := s.Sample(tensor.MustZeros(2, 2), tensor.MustZeros(2, 3)); !errors.Is(err, tensor.ErrShapeMismatch) {
		t.Errorf("expected shape mismatch, got %v", err)
	}

	s = NewSampler(FixedNoise{Eps: tensor.MustZeros(1, 2)})
	if _, err := s.Sample(tensor.MustZeros(2, 2), tensor.MustZeros(2, 2)); !errors.Is(err, tensor.ErrShapeMismatch) {
		t.Errorf("fixed noise of the wrong shape should fail, got %v", err)
	}
}
