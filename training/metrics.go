package training

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/tsawler/go-vae/tensor"
	"github.com/tsawler/go-vae/vae"
)

// EpochMetrics holds the running averages of one epoch
type EpochMetrics struct {
	Epoch          int
	Reconstruction float64 // mean per-item BCE
	KL             float64 // mean per-item KL divergence
	Total          float64 // mean per-item (BCE + α·KL)
	BatchCount     int
	LearningRate   float32
	Duration       time.Duration
}

func (m EpochMetrics) String() string {
	return fmt.Sprintf("epoch %d: recon=%.4f kl=%.4f total=%.4f batches=%d lr=%.6g (%s)",
		m.Epoch, m.Reconstruction, m.KL, m.Total, m.BatchCount, m.LearningRate, m.Duration.Round(time.Millisecond))
}

// epochAccumulator sums per-item losses over the batches of an epoch
type epochAccumulator struct {
	reconstruction float64
	kl             float64
	total          float64
	batches        int
}

func (a *epochAccumulator) add(loss vae.LossResult) {
	a.reconstruction += loss.ReconstructionPerItem()
	a.kl += loss.KLPerItem()
	a.total += loss.Total
	a.batches++
}

func (a *epochAccumulator) metrics(epoch int) EpochMetrics {
	m := EpochMetrics{Epoch: epoch, BatchCount: a.batches}
	if a.batches > 0 {
		n := float64(a.batches)
		m.Reconstruction = a.reconstruction / n
		m.KL = a.kl / n
		m.Total = a.total / n
	}
	return m
}

// RegressionMetrics describes how closely reconstructions match their inputs
type RegressionMetrics struct {
	MAE  float64 // Mean Absolute Error
	MSE  float64 // Mean Squared Error
	RMSE float64 // Root Mean Squared Error
	R2   float64 // R-squared
	NMAE float64 // Normalized Mean Absolute Error
}

// CalculateRegressionMetrics compares predictions with trueValues elementwise
func CalculateRegressionMetrics(predictions, trueValues *tensor.Tensor) (*RegressionMetrics, error) {
	if predictions.NumElems != trueValues.NumElems {
		return nil, &tensor.ShapeError{Stage: "regression metrics", Want: trueValues.Size(), Got: predictions.Size()}
	}
	if predictions.NumElems == 0 {
		return &RegressionMetrics{}, nil
	}

	pred := toFloat64(predictions.Data)
	truth := toFloat64(trueValues.Data)
	n := float64(len(truth))

	diff := make([]float64, len(pred))
	floats.SubTo(diff, pred, truth)

	mae := floats.Norm(diff, 1) / n
	sse := floats.Dot(diff, diff)
	mse := sse / n

	meanTrue := stat.Mean(truth, nil)
	sst := 0.0
	for _, v := range truth {
		sst += (v - meanTrue) * (v - meanTrue)
	}

	r2 := 0.0
	if sst > 0 {
		r2 = 1 - sse/sst
	}

	nmae := 0.0
	if span := floats.Max(truth) - floats.Min(truth); span > 0 {
		nmae = mae / span
	}

	return &RegressionMetrics{
		MAE:  mae,
		MSE:  mse,
		RMSE: math.Sqrt(mse),
		R2:   r2,
		NMAE: nmae,
	}, nil
}

// TensorStats summarizes the values of one tensor
type TensorStats struct {
	Name   string
	Mean   float64
	StdDev float64
	Min    float64
	Max    float64
	L2Norm float64
}

// ParameterStats summarizes every named tensor, e.g. parameters or gradients
func ParameterStats(named []vae.NamedTensor) []TensorStats {
	stats := make([]TensorStats, 0, len(named))
	for _, nt := range named {
		if nt.Tensor == nil || nt.Tensor.NumElems == 0 {
			continue
		}
		values := toFloat64(nt.Tensor.Data)
		mean, std := stat.MeanStdDev(values, nil)
		if len(values) < 2 {
			std = 0
		}
		stats = append(stats, TensorStats{
			Name:   nt.Name,
			Mean:   mean,
			StdDev: std,
			Min:    floats.Min(values),
			Max:    floats.Max(values),
			L2Norm: floats.Norm(values, 2),
		})
	}
	return stats
}

// GlobalNorm returns the L2 norm over all tensors taken together
func GlobalNorm(tensors []*tensor.Tensor) float64 {
	sum := 0.0
	for _, t := range tensors {
		if t == nil {
			continue
		}
		n := floats.Norm(toFloat64(t.Data), 2)
		sum += n * n
	}
	return math.Sqrt(sum)
}

func toFloat64(data []float32) []float64 {
	out := make([]float64, len(data))
	for i, v := range data {
		out[i] = float64(v)
	}
	return out
}
