package vae

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"reflect"
	"testing"

	"github.com/tsawler/go-vae/tensor"
)

func randomImages(t *testing.T, b int, seed int64) *tensor.Tensor {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	images := tensor.MustZeros(b, ImageHeight, ImageWidth, ImageChannels)
	for i := range images.Data {
		images.Data[i] = rng.Float32()
	}
	return images
}

// stripeImages returns b distinct images of horizontal bars with
// intermediate intensities
func stripeImages(b int) *tensor.Tensor {
	images := tensor.MustZeros(b, ImageHeight, ImageWidth, ImageChannels)
	for n := 0; n < b; n++ {
		for row := 0; row < ImageHeight; row++ {
			v := float32(0.1)
			if (row/(n+2))%2 == 0 {
				v = 0.9
			}
			for col := 0; col < ImageWidth; col++ {
				images.Data[n*ImageSize+row*ImageWidth+col] = v
			}
		}
	}
	return images
}

func TestForwardShapeLaw(t *testing.T) {
	for _, b := range []int{1, 3} {
		for _, z := range []int{1, 5} {
			for _, h := range []int{2, 7} {
				t.Run(fmt.Sprintf("B%d_Z%d_H%d", b, z, h), func(t *testing.T) {
					m, err := New(smallConfig(b, z, h), nil)
					if err != nil {
						t.Fatalf("New failed: %v", err)
					}

					mu, logvar, err := m.Encoder.Forward(randomImages(t, b, 1))
					if err != nil {
						t.Fatalf("Encoder.Forward failed: %v", err)
					}
					if !reflect.DeepEqual(mu.Shape, []int{b, z}) || !reflect.DeepEqual(logvar.Shape, []int{b, z}) {
						t.Errorf("mu/logvar shapes = %v/%v, expected [%d %d]", mu.Shape, logvar.Shape, b, z)
					}

					recon, err := m.Forward(randomImages(t, b, 2))
					if err != nil {
						t.Fatalf("Forward failed: %v", err)
					}
					if !reflect.DeepEqual(recon.Shape, []int{b, 28, 28, 1}) {
						t.Errorf("reconstruction shape = %v", recon.Shape)
					}
				})
			}
		}
	}
}

func TestReconstructionInUnitInterval(t *testing.T) {
	for _, w := range []float32{-100, -1, 0, 1, 100} {
		m, err := New(smallConfig(2, 3, 4), FixedNoise{})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		for _, p := range m.Params.List() {
			p.Fill(w)
		}

		recon, err := m.Forward(randomImages(t, 2, 3))
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}
		for i, v := range recon.Data {
			if !(v > 0 && v < 1) || v < ClampEpsilon || v > 1-ClampEpsilon {
				t.Fatalf("weights %g: reconstruction[%d] = %g outside (0,1)", w, i, v)
			}
		}

		loss, err := m.ComputeLoss()
		if err != nil {
			t.Fatalf("ComputeLoss failed: %v", err)
		}
		if math.IsNaN(loss.Total) {
			t.Fatalf("weights %g: loss is NaN", w)
		}
	}
}

func TestEncoderRejectsWrongShape(t *testing.T) {
	m, _ := New(smallConfig(4, 2, 3), nil)

	tests := [][]int{
		{3, 28, 28, 1},
		{4, 784},
		{4, 28, 28, 3},
	}
	for _, shape := range tests {
		_, _, err := m.Encoder.Forward(tensor.MustZeros(shape...))
		if !errors.Is(err, tensor.ErrShapeMismatch) {
			t.Errorf("input %v: expected shape mismatch, got %v", shape, err)
		}
	}

	if _, err := m.Decoder.Forward(tensor.MustZeros(4, 3)); !errors.Is(err, tensor.ErrShapeMismatch) {
		t.Errorf("decoder: expected shape mismatch, got %v", err)
	}
}

func TestLossAndBackwardRequireForward(t *testing.T) {
	m, _ := New(smallConfig(2, 2, 2), nil)
	if _, err := m.ComputeLoss(); err == nil {
		t.Error("ComputeLoss before Forward should fail")
	}
	if _, err := m.Backward(); err == nil {
		t.Error("Backward before Forward should fail")
	}

	if _, err := m.Forward(randomImages(t, 2, 1)); err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if _, err := m.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	if _, err := m.Backward(); err == nil {
		t.Error("caches must not be reused by a second Backward")
	}
}

func TestNewWithParametersChecksShapes(t *testing.T) {
	params, _ := NewParameters(smallConfig(2, 3, 4))
	if _, err := NewWithParameters(smallConfig(2, 3, 5), params, nil); !errors.Is(err, tensor.ErrShapeMismatch) {
		t.Errorf("expected shape mismatch, got %v", err)
	}
}

func TestOneStepDecreasesLoss(t *testing.T) {
	cfg := smallConfig(4, 2, 4)
	m, err := New(cfg, FixedNoise{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	images := stripeImages(4)

	if _, err := m.Forward(images); err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	before, err := m.ComputeLoss()
	if err != nil {
		t.Fatalf("ComputeLoss failed: %v", err)
	}
	grads, err := m.Backward()
	if err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	// BCE is summed over 784 pixels, so the gradient norm here is in the
	// thousands and lr=1e-3 already overshoots. 1e-5 keeps the step inside
	// the region where the first-order model holds.
	const lr = 1e-5
	var sqNorm float64
	for _, nt := range m.Params.Named() {
		g := grads.Get(nt.Name)
		for i, v := range g.Data {
			nt.Tensor.Data[i] -= lr * v
			sqNorm += float64(v) * float64(v)
		}
	}

	if _, err := m.Forward(images); err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	after, _ := m.ComputeLoss()
	if !(after.Total < before.Total) {
		t.Fatalf("loss did not decrease: before %.6f, after %.6f", before.Total, after.Total)
	}
	// a correct gradient predicts a drop of about lr·|g|²
	if drop, predicted := before.Total-after.Total, lr*sqNorm; drop < 0.25*predicted {
		t.Errorf("loss fell by %.4f, first-order prediction %.4f", drop, predicted)
	}
}

func TestSpecsMatchParameters(t *testing.T) {
	cfg := smallConfig(2, 3, 5)
	m, _ := New(cfg, nil)
	enc, dec, err := m.Specs()
	if err != nil {
		t.Fatalf("Specs failed: %v", err)
	}
	total := enc.TotalParameters + dec.TotalParameters
	if int(total) != m.Params.Count() {
		t.Errorf("specs count %d parameters, store holds %d", total, m.Params.Count())
	}
	if !reflect.DeepEqual(dec.OutputShape, cfg.ImageBatchShape()) {
		t.Errorf("decoder output shape = %v", dec.OutputShape)
	}
}
