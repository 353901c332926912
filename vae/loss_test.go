package vae

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/tsawler/go-vae/tensor"
)

func TestKLZeroAtStandardNormal(t *testing.T) {
	kl, err := KLDivergence(tensor.MustZeros(4, 3), tensor.MustZeros(4, 3))
	if err != nil {
		t.Fatalf("KLDivergence failed: %v", err)
	}
	if kl != 0 {
		t.Errorf("KL = %g, expected exactly 0", kl)
	}
}

func TestKLNonNegative(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	for trial := 0; trial < 200; trial++ {
		scale := float32(math.Pow(10, float64(rng.Intn(5)-3)))
		mu, _ := tensor.RandomNormal([]int{2, 5}, 0, scale, rng)
		logvar, _ := tensor.RandomNormal([]int{2, 5}, 0, scale, rng)

		kl, err := KLDivergence(mu, logvar)
		if err != nil {
			t.Fatalf("KLDivergence failed: %v", err)
		}
		if kl < -1e-9 {
			t.Fatalf("KL = %g is negative for scale %g", kl, scale)
		}
	}
}

func TestKLKnownValue(t *testing.T) {
	// -0.5 * (1 + 0 - 4 - 1) = 2
	mu, _ := tensor.NewTensor([]int{1, 1}, []float32{2})
	kl, _ := KLDivergence(mu, tensor.MustZeros(1, 1))
	if math.Abs(kl-2) > 1e-9 {
		t.Errorf("KL = %g, expected 2", kl)
	}
}

func TestBCEClampsExtremes(t *testing.T) {
	target, _ := tensor.NewTensor([]int{1, 2}, []float32{1, 0})
	out, _ := tensor.NewTensor([]int{1, 2}, []float32{0, 1})

	bce, err := BinaryCrossEntropy(target, out)
	if err != nil {
		t.Fatalf("BinaryCrossEntropy failed: %v", err)
	}
	if math.IsInf(bce, 0) || math.IsNaN(bce) {
		t.Fatalf("BCE = %g, clamping should keep it finite", bce)
	}
	if expected := -2 * math.Log(float64(ClampEpsilon)); math.Abs(bce-expected) > 1e-3 {
		t.Errorf("BCE = %g, expected %g", bce, expected)
	}

	perfect, _ := BinaryCrossEntropy(target, target)
	if perfect < 0 || perfect > 1e-5 {
		t.Errorf("BCE of a perfect reconstruction = %g", perfect)
	}
}

func TestBCEShapeMismatch(t *testing.T) {
	_, err := BinaryCrossEntropy(tensor.MustZeros(2, 784), tensor.MustZeros(2, 28, 28, 2))
	if !errors.Is(err, tensor.ErrShapeMismatch) {
		t.Errorf("expected shape mismatch, got %v", err)
	}

	// Image and flattened layouts of the same batch are compatible
	if _, err := BinaryCrossEntropy(tensor.MustZeros(2, 784), tensor.MustZeros(2, 28, 28, 1)); err != nil {
		t.Errorf("flattened target should match image-shaped output: %v", err)
	}
}

func TestEvaluateCombinesTerms(t *testing.T) {
	target, _ := tensor.Full([]int{2, 784}, 1)
	out, _ := tensor.Full([]int{2, 784}, 0.5)
	mu, _ := tensor.Full([]int{2, 3}, 1)
	logvar := tensor.MustZeros(2, 3)

	l := LossEvaluator{KLWeight: 0.5}
	res, err := l.Evaluate(target, out, mu, logvar)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	bce := 2 * 784 * math.Ln2
	kl := 2 * 3 * 0.5
	if math.Abs(res.Reconstruction-bce) > 1e-3 || math.Abs(res.KL-kl) > 1e-9 {
		t.Errorf("terms = %g, %g, expected %g, %g", res.Reconstruction, res.KL, bce, kl)
	}
	if expected := (bce + 0.5*kl) / 2; math.Abs(res.Total-expected) > 1e-3 {
		t.Errorf("Total = %g, expected %g", res.Total, expected)
	}
	if res.BatchSize != 2 || math.Abs(res.KLPerItem()-kl/2) > 1e-9 {
		t.Errorf("per-item KL = %g", res.KLPerItem())
	}
	if math.Abs(res.ReconstructionPerItem()-bce/2) > 1e-3 {
		t.Errorf("per-item BCE = %g", res.ReconstructionPerItem())
	}
}
