package vae

import (
	"fmt"
	"math"

	"github.com/tsawler/go-vae/tensor"
)

// LossResult reports the loss of one batch. Reconstruction and KL are raw
// sums over the batch; Total is (Reconstruction + α·KL) / BatchSize.
type LossResult struct {
	Reconstruction float64
	KL             float64
	Total          float64
	BatchSize      int
}

// ReconstructionPerItem returns the batch-averaged BCE
func (r LossResult) ReconstructionPerItem() float64 {
	return r.Reconstruction / float64(r.BatchSize)
}

// KLPerItem returns the batch-averaged KL divergence
func (r LossResult) KLPerItem() float64 {
	return r.KL / float64(r.BatchSize)
}

func (r LossResult) String() string {
	return fmt.Sprintf("loss=%.4f (bce=%.4f, kl=%.4f per item)", r.Total, r.ReconstructionPerItem(), r.KLPerItem())
}

// LossEvaluator combines binary cross-entropy with the closed-form KL
// divergence between N(mu, exp(logvar)) and N(0, 1)
type LossEvaluator struct {
	KLWeight float32
}

// Evaluate computes the batch loss. target and out may be image shaped or
// flattened; they only need the same number of elements per item.
func (l LossEvaluator) Evaluate(target, out, mu, logvar *tensor.Tensor) (LossResult, error) {
	bce, err := BinaryCrossEntropy(target, out)
	if err != nil {
		return LossResult{}, err
	}
	kl, err := KLDivergence(mu, logvar)
	if err != nil {
		return LossResult{}, err
	}

	batch := mu.Shape[0]
	return LossResult{
		Reconstruction: bce,
		KL:             kl,
		Total:          (bce + float64(l.KLWeight)*kl) / float64(batch),
		BatchSize:      batch,
	}, nil
}

// BinaryCrossEntropy returns -Σ [y·log(p) + (1-y)·log(1-p)] with p clamped
// to [ClampEpsilon, 1-ClampEpsilon]
func BinaryCrossEntropy(target, out *tensor.Tensor) (float64, error) {
	if target == nil || out == nil || target.NumElems != out.NumElems || target.Shape[0] != out.Shape[0] {
		var want, got []int
		if target != nil {
			want = target.Shape
		}
		if out != nil {
			got = out.Shape
		}
		return 0, &tensor.ShapeError{Stage: "loss reconstruction", Want: want, Got: got}
	}

	lo, hi := float64(ClampEpsilon), 1-float64(ClampEpsilon)
	var sum float64
	for i, v := range out.Data {
		p := math.Min(math.Max(float64(v), lo), hi)
		y := float64(target.Data[i])
		sum -= y*math.Log(p) + (1-y)*math.Log(1-p)
	}
	return sum, nil
}

// KLDivergence returns -0.5·Σ(1 + logvar - mu² - exp(logvar))
func KLDivergence(mu, logvar *tensor.Tensor) (float64, error) {
	if err := tensor.CheckShape(logvar, "loss kl", mu.Shape...); err != nil {
		return 0, err
	}

	var sum float64
	for i, m := range mu.Data {
		lv := float64(logvar.Data[i])
		mf := float64(m)
		sum += 1 + lv - mf*mf - math.Exp(lv)
	}
	return -0.5 * sum, nil
}
