package training

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/tsawler/go-vae/layers"
)

// ProgressBar provides PyTorch-style training progress visualization
type ProgressBar struct {
	out         io.Writer
	description string
	total       int
	current     int
	startTime   time.Time
	width       int
	metrics     map[string]float64
}

// NewProgressBar creates a new progress bar writing to out
func NewProgressBar(out io.Writer, description string, total int) *ProgressBar {
	return &ProgressBar{
		out:         out,
		description: description,
		total:       total,
		startTime:   time.Now(),
		width:       40, // Character width of progress bar
		metrics:     make(map[string]float64),
	}
}

// Update advances the progress bar
func (pb *ProgressBar) Update(step int, metrics map[string]float64) {
	pb.current = step
	for k, v := range metrics {
		pb.metrics[k] = v
	}
	pb.render()
}

// Finish completes the progress bar
func (pb *ProgressBar) Finish() {
	pb.current = pb.total
	pb.render()
	fmt.Fprintln(pb.out)
}

// render draws the progress bar
func (pb *ProgressBar) render() {
	percentage := 1.0
	if pb.total > 0 {
		percentage = float64(pb.current) / float64(pb.total)
	}
	if percentage > 1.0 {
		percentage = 1.0
	}

	filled := int(percentage * float64(pb.width))
	bar := strings.Repeat("█", filled) + strings.Repeat(" ", pb.width-filled)

	elapsed := time.Since(pb.startTime)
	var eta time.Duration
	var rate float64
	if pb.current > 0 {
		rate = float64(pb.current) / elapsed.Seconds()
		if percentage > 0 {
			eta = time.Duration(float64(elapsed)/percentage) - elapsed
		}
	}

	line := fmt.Sprintf("\r%s: %3.0f%%|%s| %d/%d [%s<%s",
		pb.description,
		percentage*100,
		bar,
		pb.current,
		pb.total,
		formatDuration(elapsed),
		formatDuration(eta),
	)

	if rate > 0 {
		line += fmt.Sprintf(", %.2fbatch/s", rate)
	}

	// Stable metric order
	keys := make([]string, 0, len(pb.metrics))
	for k := range pb.metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		line += fmt.Sprintf(", %s=%.3f", key, pb.metrics[key])
	}

	fmt.Fprint(pb.out, line+"]")
}

// formatDuration formats duration as MM:SS
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

// ModelArchitecturePrinter prints PyTorch-style model architecture
type ModelArchitecturePrinter struct {
	out io.Writer
}

// NewModelArchitecturePrinter creates a new model architecture printer
func NewModelArchitecturePrinter(out io.Writer) *ModelArchitecturePrinter {
	return &ModelArchitecturePrinter{out: out}
}

// PrintArchitecture prints the model architecture in PyTorch style
func (p *ModelArchitecturePrinter) PrintArchitecture(modelSpec *layers.ModelSpec) {
	fmt.Fprintf(p.out, "%s(\n", modelSpec.Name)
	for _, layer := range modelSpec.Layers {
		fmt.Fprintf(p.out, "  %s\n", p.formatLayer(layer))
	}
	fmt.Fprintf(p.out, ")\n")
	fmt.Fprintf(p.out, "Total parameters: %s\n", formatParameterCount(modelSpec.TotalParameters))
	fmt.Fprintf(p.out, "Params size (MB): %.3f\n\n", float64(modelSpec.TotalParameters*4)/1024/1024) // 4 bytes per float32
}

// formatLayer formats a single layer for display
func (p *ModelArchitecturePrinter) formatLayer(layer layers.LayerSpec) string {
	var s string
	switch layer.Type {
	case layers.Dense:
		_, bias, in, out, err := layer.DenseParams()
		if err != nil {
			s = fmt.Sprintf("(%s): Linear(?)", layer.Name)
			break
		}
		s = fmt.Sprintf("(%s): Linear(in_features=%d, out_features=%d, bias=%t)", layer.Name, in, out, bias != "")
	case layers.LeakyReLU:
		s = fmt.Sprintf("(%s): LeakyReLU(negative_slope=%g)", layer.Name, layer.NegativeSlope())
	case layers.Reshape:
		s = fmt.Sprintf("(%s): Reshape(%v)", layer.Name, layer.ItemShape())
	default:
		s = fmt.Sprintf("(%s): %s()", layer.Name, layer.Type.String())
	}
	if source := layer.Source(); source != "" {
		s += " <- " + source
	}
	return s
}

// formatParameterCount formats parameter count with K/M suffixes
func formatParameterCount(count int64) string {
	if count >= 1000000 {
		return fmt.Sprintf("%.1fM", float64(count)/1000000.0)
	} else if count >= 1000 {
		return fmt.Sprintf("%.1fK", float64(count)/1000.0)
	}
	return fmt.Sprintf("%d", count)
}

// TrainingSession renders per-epoch progress bars and summaries for a
// Trainer. A nil session prints nothing.
type TrainingSession struct {
	out           io.Writer
	epochs        int
	stepsPerEpoch int
	progress      *ProgressBar
}

// NewTrainingSession creates a session writing to out
func NewTrainingSession(out io.Writer, epochs, stepsPerEpoch int) *TrainingSession {
	return &TrainingSession{
		out:           out,
		epochs:        epochs,
		stepsPerEpoch: stepsPerEpoch,
	}
}

// StartTraining prints the architecture of every model
func (ts *TrainingSession) StartTraining(specs ...*layers.ModelSpec) {
	if ts == nil {
		return
	}
	printer := NewModelArchitecturePrinter(ts.out)
	for _, spec := range specs {
		printer.PrintArchitecture(spec)
	}
	fmt.Fprintln(ts.out, "Starting training...")
}

// StartEpoch begins a new progress bar
func (ts *TrainingSession) StartEpoch(epoch int) {
	if ts == nil {
		return
	}
	description := fmt.Sprintf("Epoch %d/%d", epoch+1, ts.epochs)
	ts.progress = NewProgressBar(ts.out, description, ts.stepsPerEpoch)
}

// UpdateProgress reports the running averages after a batch
func (ts *TrainingSession) UpdateProgress(step int, recon, kl float64) {
	if ts == nil || ts.progress == nil {
		return
	}
	ts.progress.Update(step, map[string]float64{"recon": recon, "kl": kl})
}

// FinishEpoch closes the progress bar and prints the epoch summary
func (ts *TrainingSession) FinishEpoch(m EpochMetrics) {
	if ts == nil {
		return
	}
	if ts.progress != nil {
		ts.progress.Finish()
	}
	fmt.Fprintf(ts.out, "Epoch %d/%d Summary:\n", m.Epoch+1, ts.epochs)
	fmt.Fprintf(ts.out, "  Reconstruction: %.4f, KL: %.4f, Batches: %d, LR: %.6g, Time: %s\n\n",
		m.Reconstruction, m.KL, m.BatchCount, m.LearningRate, m.Duration.Round(time.Millisecond))
}
