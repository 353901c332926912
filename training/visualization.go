package training

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tsawler/go-vae/tensor"
	"github.com/tsawler/go-vae/vae"
)

// PlotType represents different types of plots that can be generated
type PlotType string

const (
	TrainingCurves        PlotType = "training_curves"
	LearningRateSchedule  PlotType = "learning_rate_schedule"
	ParameterDistribution PlotType = "parameter_distribution"
	RegressionScatter     PlotType = "regression_scatter"
)

// PlotData is the JSON document describing one plot
type PlotData struct {
	PlotType  PlotType  `json:"plot_type"`
	Title     string    `json:"title"`
	Timestamp time.Time `json:"timestamp"`
	ModelName string    `json:"model_name"`

	Series []SeriesData `json:"series"`
	Config PlotConfig   `json:"config"`

	Metrics map[string]interface{} `json:"metrics,omitempty"`
}

// SeriesData represents a single data series in a plot
type SeriesData struct {
	Name  string                 `json:"name"`
	Type  string                 `json:"type"` // "line", "scatter", "bar"
	Data  []DataPoint            `json:"data"`
	Style map[string]interface{} `json:"style,omitempty"`
}

// DataPoint represents a single data point
type DataPoint struct {
	X     interface{} `json:"x"`
	Y     interface{} `json:"y"`
	Label string      `json:"label,omitempty"`
}

// PlotConfig contains plot-specific configuration
type PlotConfig struct {
	XAxisLabel string `json:"x_axis_label"`
	YAxisLabel string `json:"y_axis_label"`
	XAxisScale string `json:"x_axis_scale"` // "linear", "log"
	YAxisScale string `json:"y_axis_scale"`
	ShowLegend bool   `json:"show_legend"`
	ShowGrid   bool   `json:"show_grid"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}

// VisualizationCollector records the course of a training run and turns it
// into plot documents. It doubles as a ReconstructionSink that samples
// pixel pairs for the reconstruction scatter plot.
type VisualizationCollector struct {
	modelName string
	model     *vae.VAE

	epochs         []int
	reconstruction []float64
	kl             []float64
	total          []float64
	learningRates  []float64

	parameterStats []TensorStats

	// pixel pairs from the latest reconstructions
	truePixels      []float64
	predictedPixels []float64
	regression      *RegressionMetrics
	maxPoints       int
}

// NewVisualizationCollector creates a collector. maxPoints caps the pixel
// pairs kept for the scatter plot.
func NewVisualizationCollector(modelName string, maxPoints int) *VisualizationCollector {
	if maxPoints <= 0 {
		maxPoints = 2000
	}
	return &VisualizationCollector{modelName: modelName, maxPoints: maxPoints}
}

// Attach records every epoch of trainer and the final parameter statistics
func (vc *VisualizationCollector) Attach(trainer *Trainer) {
	vc.model = trainer.Model()
	trainer.OnEpochEnd(func(m EpochMetrics) error {
		vc.RecordEpoch(m)
		return nil
	})
}

// RecordEpoch records epoch-level metrics
func (vc *VisualizationCollector) RecordEpoch(m EpochMetrics) {
	vc.epochs = append(vc.epochs, m.Epoch+1)
	vc.reconstruction = append(vc.reconstruction, m.Reconstruction)
	vc.kl = append(vc.kl, m.KL)
	vc.total = append(vc.total, m.Total)
	vc.learningRates = append(vc.learningRates, float64(m.LearningRate))
	if vc.model != nil {
		vc.parameterStats = ParameterStats(vc.model.Params.Named())
	}
}

// WriteReconstructions keeps an evenly strided sample of pixel pairs
func (vc *VisualizationCollector) WriteReconstructions(epoch int, inputs, reconstructions *tensor.Tensor) error {
	metrics, err := CalculateRegressionMetrics(reconstructions, inputs)
	if err != nil {
		return err
	}
	vc.regression = metrics

	stride := 1
	if n := inputs.NumElems; n > vc.maxPoints {
		stride = (n + vc.maxPoints - 1) / vc.maxPoints
	}
	vc.truePixels = vc.truePixels[:0]
	vc.predictedPixels = vc.predictedPixels[:0]
	for i := 0; i < inputs.NumElems; i += stride {
		vc.truePixels = append(vc.truePixels, float64(inputs.Data[i]))
		vc.predictedPixels = append(vc.predictedPixels, float64(reconstructions.Data[i]))
	}
	return nil
}

func lineSeries(name, color string, xs []int, ys []float64) SeriesData {
	s := SeriesData{
		Name:  name,
		Type:  "line",
		Data:  make([]DataPoint, len(ys)),
		Style: map[string]interface{}{"color": color, "line_width": 2},
	}
	for i, y := range ys {
		s.Data[i] = DataPoint{X: xs[i], Y: y}
	}
	return s
}

// GenerateTrainingCurvesPlot plots the per-item losses by epoch
func (vc *VisualizationCollector) GenerateTrainingCurvesPlot() PlotData {
	return PlotData{
		PlotType:  TrainingCurves,
		Title:     fmt.Sprintf("Training Curves - %s", vc.modelName),
		Timestamp: time.Now(),
		ModelName: vc.modelName,
		Series: []SeriesData{
			lineSeries("Reconstruction (BCE)", "#FF6B6B", vc.epochs, vc.reconstruction),
			lineSeries("KL Divergence", "#4ECDC4", vc.epochs, vc.kl),
			lineSeries("Total Loss", "#5F27CD", vc.epochs, vc.total),
		},
		Config: PlotConfig{
			XAxisLabel: "Epoch",
			YAxisLabel: "Loss per item",
			XAxisScale: "linear",
			YAxisScale: "linear",
			ShowLegend: true,
			ShowGrid:   true,
			Width:      800,
			Height:     600,
		},
	}
}

// GenerateLearningRateSchedulePlot generates learning rate schedule plot data
func (vc *VisualizationCollector) GenerateLearningRateSchedulePlot() PlotData {
	return PlotData{
		PlotType:  LearningRateSchedule,
		Title:     fmt.Sprintf("Learning Rate Schedule - %s", vc.modelName),
		Timestamp: time.Now(),
		ModelName: vc.modelName,
		Series:    []SeriesData{lineSeries("Learning Rate", "#6C5CE7", vc.epochs, vc.learningRates)},
		Config: PlotConfig{
			XAxisLabel: "Epoch",
			YAxisLabel: "Learning Rate",
			XAxisScale: "linear",
			YAxisScale: "log",
			ShowLegend: true,
			ShowGrid:   true,
			Width:      800,
			Height:     400,
		},
	}
}

// GenerateParameterDistributionPlot shows the mean and spread of every
// parameter tensor after the latest epoch
func (vc *VisualizationCollector) GenerateParameterDistributionPlot() PlotData {
	mean := SeriesData{Name: "Mean", Type: "bar", Data: make([]DataPoint, len(vc.parameterStats))}
	std := SeriesData{Name: "Std Dev", Type: "bar", Data: make([]DataPoint, len(vc.parameterStats))}
	for i, s := range vc.parameterStats {
		mean.Data[i] = DataPoint{X: s.Name, Y: s.Mean, Label: s.Name}
		std.Data[i] = DataPoint{X: s.Name, Y: s.StdDev, Label: s.Name}
	}
	return PlotData{
		PlotType:  ParameterDistribution,
		Title:     fmt.Sprintf("Parameter Distribution - %s", vc.modelName),
		Timestamp: time.Now(),
		ModelName: vc.modelName,
		Series:    []SeriesData{mean, std},
		Config: PlotConfig{
			XAxisLabel: "Parameter",
			YAxisLabel: "Value",
			XAxisScale: "linear",
			YAxisScale: "linear",
			ShowLegend: true,
			Width:      800,
			Height:     400,
		},
	}
}

// GenerateRegressionScatterPlot plots reconstructed against input pixels
func (vc *VisualizationCollector) GenerateRegressionScatterPlot() PlotData {
	if len(vc.truePixels) == 0 {
		return PlotData{}
	}

	scatter := make([]DataPoint, len(vc.truePixels))
	for i := range vc.truePixels {
		scatter[i] = DataPoint{X: vc.truePixels[i], Y: vc.predictedPixels[i]}
	}

	plot := PlotData{
		PlotType:  RegressionScatter,
		Title:     fmt.Sprintf("Reconstruction Scatter - %s", vc.modelName),
		Timestamp: time.Now(),
		ModelName: vc.modelName,
		Series: []SeriesData{
			{
				Name:  "Pixels",
				Type:  "scatter",
				Data:  scatter,
				Style: map[string]interface{}{"color": "#4ECDC4", "alpha": 0.6},
			},
			{
				Name:  "Perfect Reconstruction",
				Type:  "line",
				Data:  []DataPoint{{X: 0.0, Y: 0.0}, {X: 1.0, Y: 1.0}},
				Style: map[string]interface{}{"color": "#FF6B6B", "line_style": "dashed"},
			},
		},
		Config: PlotConfig{
			XAxisLabel: "Input pixel",
			YAxisLabel: "Reconstructed pixel",
			XAxisScale: "linear",
			YAxisScale: "linear",
			ShowLegend: true,
			ShowGrid:   true,
			Width:      600,
			Height:     600,
		},
	}
	if vc.regression != nil {
		plot.Metrics = map[string]interface{}{
			"mae":  vc.regression.MAE,
			"rmse": vc.regression.RMSE,
			"r2":   vc.regression.R2,
		}
	}
	return plot
}

// Plots returns every plot that has data
func (vc *VisualizationCollector) Plots() []PlotData {
	var plots []PlotData
	if len(vc.epochs) > 0 {
		plots = append(plots, vc.GenerateTrainingCurvesPlot(), vc.GenerateLearningRateSchedulePlot())
	}
	if len(vc.parameterStats) > 0 {
		plots = append(plots, vc.GenerateParameterDistributionPlot())
	}
	if len(vc.truePixels) > 0 {
		plots = append(plots, vc.GenerateRegressionScatterPlot())
	}
	return plots
}

// WriteJSON writes all plots to path as a JSON array
func (vc *VisualizationCollector) WriteJSON(path string) error {
	data, err := json.MarshalIndent(vc.Plots(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal plot data to JSON: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// ToJSON converts plot data to JSON string
func (pd PlotData) ToJSON() (string, error) {
	jsonData, err := json.MarshalIndent(pd, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal plot data to JSON: %w", err)
	}
	return string(jsonData), nil
}

// MultiSink fans reconstructions out to several sinks, stopping at the
// first error
type MultiSink []ReconstructionSink

func (ms MultiSink) WriteReconstructions(epoch int, inputs, reconstructions *tensor.Tensor) error {
	for _, sink := range ms {
		if err := sink.WriteReconstructions(epoch, inputs, reconstructions); err != nil {
			return err
		}
	}
	return nil
}
