package training

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tsawler/go-vae/optimizer"
	"github.com/tsawler/go-vae/tensor"
	"github.com/tsawler/go-vae/vae"
)

// ErrNonFiniteGradient is returned by TrainBatch when backpropagation produces
// a NaN or infinite gradient. The parameters are not updated.
var ErrNonFiniteGradient = errors.New("non-finite gradient")

// State is the phase the trainer is currently in
type State int

const (
	Idle State = iota
	EpochRunning
	BatchRunning
	Forward
	LossCompute
	Backward
	ParameterUpdate
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case EpochRunning:
		return "EpochRunning"
	case BatchRunning:
		return "BatchRunning"
	case Forward:
		return "Forward"
	case LossCompute:
		return "LossCompute"
	case Backward:
		return "Backward"
	case ParameterUpdate:
		return "ParameterUpdate"
	default:
		return "Unknown"
	}
}

// ReconstructionSink receives the last batch of an epoch together with its
// reconstructions, both (B, 28, 28, 1)
type ReconstructionSink interface {
	WriteReconstructions(epoch int, inputs, reconstructions *tensor.Tensor) error
}

// TrainingConfig holds configuration for training
type TrainingConfig struct {
	Epochs       int
	LearningRate float32     // base learning rate fed to the scheduler
	Shuffle      bool        // reshuffle the dataset every epoch
	Seed         int64       // shuffle seed
	Scheduler    LRScheduler // nil keeps the learning rate constant
	SinkEvery    int         // export reconstructions every N epochs (0 = never)
	Progress     io.Writer   // progress bars and summaries; nil = silent
}

// DefaultTrainingConfig returns the defaults of the command-line trainer
func DefaultTrainingConfig() TrainingConfig {
	return TrainingConfig{
		Epochs:       40,
		LearningRate: 0.001,
		Shuffle:      true,
		Seed:         42,
		Scheduler:    &NoOpScheduler{},
		SinkEvery:    1,
	}
}

// Trainer runs mini-batch training of a VAE. Batches are processed strictly
// one after another and parameters change only in the update step.
type Trainer struct {
	model     *vae.VAE
	optimizer optimizer.Optimizer
	config    TrainingConfig

	state         State
	onStateChange func(from, to State)
	onEpochEnd    []func(EpochMetrics) error
	sink          ReconstructionSink

	metrics    []EpochMetrics
	startEpoch int
	step       int
	bestLoss   float64

	lastInput *tensor.Tensor
	lastRecon *tensor.Tensor
}

// NewTrainer creates a new Trainer
func NewTrainer(model *vae.VAE, opt optimizer.Optimizer, config TrainingConfig) (*Trainer, error) {
	if model == nil {
		return nil, fmt.Errorf("trainer requires a model")
	}
	if opt == nil {
		return nil, fmt.Errorf("trainer requires an optimizer")
	}
	if config.Epochs < 0 {
		return nil, fmt.Errorf("epochs cannot be negative: %d", config.Epochs)
	}
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Scheduler == nil {
		config.Scheduler = &NoOpScheduler{}
	}
	opt.UpdateLearningRate(config.LearningRate)

	return &Trainer{
		model:     model,
		optimizer: opt,
		config:    config,
		state:     Idle,
		bestLoss:  -1,
	}, nil
}

// State returns the current phase
func (t *Trainer) State() State {
	return t.state
}

// OnStateChange registers a hook called on every state transition
func (t *Trainer) OnStateChange(fn func(from, to State)) {
	t.onStateChange = fn
}

// OnEpochEnd registers a hook called after every epoch. An error from the
// hook aborts training.
func (t *Trainer) OnEpochEnd(fn func(EpochMetrics) error) {
	t.onEpochEnd = append(t.onEpochEnd, fn)
}

// SetReconstructionSink sets where periodic reconstructions are written
func (t *Trainer) SetReconstructionSink(sink ReconstructionSink) {
	t.sink = sink
}

// Model returns the model being trained
func (t *Trainer) Model() *vae.VAE {
	return t.model
}

// Optimizer returns the optimizer applying the updates
func (t *Trainer) Optimizer() optimizer.Optimizer {
	return t.optimizer
}

// Metrics returns the metrics of every completed epoch
func (t *Trainer) Metrics() []EpochMetrics {
	return t.metrics
}

// Steps returns the number of parameter updates applied so far
func (t *Trainer) Steps() int {
	return t.step
}

// BestLoss returns the lowest epoch loss seen, or -1 before the first epoch
func (t *Trainer) BestLoss() float64 {
	return t.bestLoss
}

func (t *Trainer) setState(s State) {
	if s == t.state {
		return
	}
	from := t.state
	t.state = s
	if t.onStateChange != nil {
		t.onStateChange(from, s)
	}
}

// Train runs the configured number of epochs over dataset. The context is
// checked between epochs only; a cancelled run returns the metrics gathered
// so far together with the context error.
func (t *Trainer) Train(ctx context.Context, dataset Dataset) ([]EpochMetrics, error) {
	loader, err := NewDataLoader(dataset, t.model.Config.BatchSize, t.config.Shuffle, t.config.Seed)
	if err != nil {
		return nil, err
	}
	if loader.Len() == 0 {
		return nil, fmt.Errorf("dataset has %d items, fewer than one batch of %d", dataset.Len(), loader.BatchSize())
	}

	var session *TrainingSession
	if t.config.Progress != nil {
		session = NewTrainingSession(t.config.Progress, t.config.Epochs, loader.Len())
		if enc, dec, err := t.model.Specs(); err == nil {
			session.StartTraining(enc, dec)
		}
	}

	defer t.setState(Idle)
	for epoch := t.startEpoch; epoch < t.config.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return t.metrics, err
		}

		m, err := t.trainEpoch(epoch, loader, session)
		if err != nil {
			return t.metrics, fmt.Errorf("training epoch %d failed: %w", epoch, err)
		}

		t.metrics = append(t.metrics, m)
		for _, hook := range t.onEpochEnd {
			if err := hook(m); err != nil {
				return t.metrics, err
			}
		}
	}
	return t.metrics, nil
}

// trainEpoch runs every full batch of one shuffled pass over the loader
func (t *Trainer) trainEpoch(epoch int, loader *DataLoader, session *TrainingSession) (EpochMetrics, error) {
	t.setState(EpochRunning)
	start := time.Now()

	lr := float32(t.config.Scheduler.GetLR(epoch, t.step, float64(t.config.LearningRate)))
	t.optimizer.UpdateLearningRate(lr)

	loader.Reset()
	session.StartEpoch(epoch)

	var acc epochAccumulator
	for batchIdx := 1; ; batchIdx++ {
		batch, err := loader.Next()
		if err != nil {
			return EpochMetrics{}, err
		}
		if batch == nil {
			break
		}

		t.setState(BatchRunning)
		loss, err := t.TrainBatch(batch.Data)
		if err != nil {
			return EpochMetrics{}, fmt.Errorf("batch %d: %w", batchIdx, err)
		}
		acc.add(loss)
		session.UpdateProgress(batchIdx, acc.reconstruction/float64(acc.batches), acc.kl/float64(acc.batches))
	}
	t.setState(EpochRunning)

	m := acc.metrics(epoch)
	m.LearningRate = lr
	m.Duration = time.Since(start)

	if t.bestLoss < 0 || m.Total < t.bestLoss {
		t.bestLoss = m.Total
	}
	if ms, ok := t.config.Scheduler.(MetricScheduler); ok {
		ms.Step(m.Total, float64(lr))
	}

	if t.sink != nil && t.config.SinkEvery > 0 && (epoch+1)%t.config.SinkEvery == 0 && t.lastRecon != nil {
		if err := t.sink.WriteReconstructions(epoch, t.lastInput, t.lastRecon); err != nil {
			return EpochMetrics{}, fmt.Errorf("failed to write reconstructions: %w", err)
		}
	}

	session.FinishEpoch(m)
	return m, nil
}

// TrainBatch runs forward, loss, backward and the parameter update for one
// (B, 28, 28, 1) batch and returns the loss measured before the update
func (t *Trainer) TrainBatch(images *tensor.Tensor) (vae.LossResult, error) {
	t.setState(Forward)
	if _, err := t.model.Forward(images); err != nil {
		return vae.LossResult{}, err
	}

	t.setState(LossCompute)
	loss, err := t.model.ComputeLoss()
	if err != nil {
		return vae.LossResult{}, err
	}
	recon := t.model.Reconstruction()

	t.setState(Backward)
	grads, err := t.model.Backward()
	if err != nil {
		return vae.LossResult{}, err
	}
	for _, g := range grads.Named() {
		if g.Tensor.HasNaN() {
			return vae.LossResult{}, fmt.Errorf("%w in %s: %s", ErrNonFiniteGradient, g.Name, g.Tensor.PrintData(8))
		}
	}

	t.setState(ParameterUpdate)
	if err := t.optimizer.Step(t.model.Params.List(), grads.List()); err != nil {
		return vae.LossResult{}, fmt.Errorf("parameter update: %w", err)
	}
	t.step++
	t.lastInput, t.lastRecon = images, recon

	t.setState(BatchRunning)
	return loss, nil
}
