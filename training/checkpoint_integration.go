package training

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/tsawler/go-vae/checkpoints"
	"github.com/tsawler/go-vae/layers"
	"github.com/tsawler/go-vae/optimizer"
)

// CheckpointConfig configures checkpoint saving behavior
type CheckpointConfig struct {
	SaveDirectory   string                       // Directory to save checkpoints
	SaveFrequency   int                          // Save every N epochs (0 = disabled)
	SaveBest        bool                         // Save checkpoint when the epoch loss improves
	MaxCheckpoints  int                          // Maximum number of periodic checkpoints to keep (0 = unlimited)
	Format          checkpoints.CheckpointFormat // JSON or ONNX
	FilenamePattern string                       // Pattern for checkpoint filenames
}

// DefaultCheckpointConfig returns a sensible default configuration
func DefaultCheckpointConfig() CheckpointConfig {
	return CheckpointConfig{
		SaveDirectory:   "./checkpoints",
		SaveFrequency:   5,
		SaveBest:        true,
		MaxCheckpoints:  10,
		Format:          checkpoints.FormatJSON,
		FilenamePattern: "checkpoint_epoch_%d_step_%d",
	}
}

// CheckpointManager saves and restores the state of a Trainer
type CheckpointManager struct {
	config     CheckpointConfig
	trainer    *Trainer
	saver      *checkpoints.CheckpointSaver
	bestLoss   float64
	savedFiles []string // periodic checkpoints, oldest first
}

// NewCheckpointManager creates a new checkpoint manager
func NewCheckpointManager(trainer *Trainer, config CheckpointConfig) *CheckpointManager {
	return &CheckpointManager{
		config:   config,
		trainer:  trainer,
		saver:    checkpoints.NewCheckpointSaver(config.Format),
		bestLoss: -1,
	}
}

// Attach registers the manager as an epoch hook of its trainer
func (cm *CheckpointManager) Attach() {
	cm.trainer.OnEpochEnd(cm.OnEpochEnd)
}

// OnEpochEnd writes the periodic and best checkpoints due after m
func (cm *CheckpointManager) OnEpochEnd(m EpochMetrics) error {
	if _, err := cm.SavePeriodicCheckpoint(m); err != nil {
		return err
	}
	if _, err := cm.SaveBestCheckpoint(m); err != nil {
		return err
	}
	return nil
}

// SaveCheckpoint saves the current model state and returns the file written
func (cm *CheckpointManager) SaveCheckpoint(epoch int, description string) (string, error) {
	checkpoint, err := cm.createCheckpointFromTrainer(epoch, description)
	if err != nil {
		return "", fmt.Errorf("failed to create checkpoint: %w", err)
	}

	if err := cm.ensureDirectory(); err != nil {
		return "", fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	path := filepath.Join(cm.config.SaveDirectory, cm.generateFilename(epoch, cm.trainer.Steps()))
	if err := cm.saver.SaveCheckpoint(checkpoint, path); err != nil {
		return "", fmt.Errorf("failed to save checkpoint: %w", err)
	}

	cm.savedFiles = append(cm.savedFiles, path)
	if err := cm.cleanupOldCheckpoints(); err != nil {
		log.Printf("warning: failed to cleanup old checkpoints: %v", err)
	}
	return path, nil
}

// SaveBestCheckpoint saves a checkpoint if m has the lowest loss so far
func (cm *CheckpointManager) SaveBestCheckpoint(m EpochMetrics) (bool, error) {
	if !cm.config.SaveBest {
		return false, nil
	}
	if cm.bestLoss >= 0 && m.Total >= cm.bestLoss {
		return false, nil
	}
	cm.bestLoss = m.Total

	description := fmt.Sprintf("Best checkpoint - Loss: %.6f", m.Total)
	checkpoint, err := cm.createCheckpointFromTrainer(m.Epoch, description)
	if err != nil {
		return false, fmt.Errorf("failed to create best checkpoint: %w", err)
	}
	if err := cm.ensureDirectory(); err != nil {
		return false, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	path := filepath.Join(cm.config.SaveDirectory, "best_checkpoint."+cm.getFileExtension())
	if err := cm.saver.SaveCheckpoint(checkpoint, path); err != nil {
		return false, fmt.Errorf("failed to save best checkpoint: %w", err)
	}
	return true, nil
}

// SavePeriodicCheckpoint saves a checkpoint every SaveFrequency epochs
func (cm *CheckpointManager) SavePeriodicCheckpoint(m EpochMetrics) (bool, error) {
	if cm.config.SaveFrequency <= 0 || (m.Epoch+1)%cm.config.SaveFrequency != 0 {
		return false, nil
	}
	description := fmt.Sprintf("Periodic checkpoint - Epoch %d", m.Epoch+1)
	if _, err := cm.SaveCheckpoint(m.Epoch, description); err != nil {
		return false, err
	}
	return true, nil
}

// LoadCheckpoint loads a checkpoint and restores the trainer so that the
// next Train call resumes after the saved epoch
func (cm *CheckpointManager) LoadCheckpoint(path string) error {
	checkpoint, err := cm.saver.LoadCheckpoint(path)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if err := cm.restoreTrainerFromCheckpoint(checkpoint); err != nil {
		return fmt.Errorf("failed to restore trainer state: %w", err)
	}
	return nil
}

// createCheckpointFromTrainer snapshots model, optimizer and progress
func (cm *CheckpointManager) createCheckpointFromTrainer(epoch int, description string) (*checkpoints.Checkpoint, error) {
	checkpoint, err := checkpoints.FromModel(cm.trainer.Model())
	if err != nil {
		return nil, err
	}

	opt := cm.trainer.Optimizer()
	state, err := opt.GetState()
	if err != nil {
		return nil, fmt.Errorf("failed to capture optimizer state: %w", err)
	}

	checkpoint.TrainingState = checkpoints.TrainingState{
		Epoch:        epoch,
		Step:         cm.trainer.Steps(),
		LearningRate: opt.GetLearningRate(),
		BestLoss:     float32(cm.trainer.BestLoss()),
		TotalSteps:   cm.trainer.Steps(),
	}
	checkpoint.OptimizerState = state.ToCheckpoint()
	checkpoint.Metadata.Description = description
	checkpoint.Metadata.Tags = []string{fmt.Sprintf("epoch_%d", epoch+1)}
	return checkpoint, nil
}

// restoreTrainerFromCheckpoint restores trainer state from checkpoint
func (cm *CheckpointManager) restoreTrainerFromCheckpoint(checkpoint *checkpoints.Checkpoint) error {
	model := cm.trainer.Model()
	enc, dec, err := model.Specs()
	if err != nil {
		return err
	}
	if checkpoint.Encoder != nil && !cm.modelsCompatible(enc, checkpoint.Encoder) {
		return fmt.Errorf("checkpoint encoder architecture incompatible with current model")
	}
	if checkpoint.Decoder != nil && !cm.modelsCompatible(dec, checkpoint.Decoder) {
		return fmt.Errorf("checkpoint decoder architecture incompatible with current model")
	}

	// Weights load into a copy and LoadState validates before writing, so a
	// bad checkpoint leaves both the model and the optimizer untouched
	params := model.Params.Clone()
	if err := checkpoints.LoadWeightsIntoParameters(checkpoint.Weights, params); err != nil {
		return fmt.Errorf("failed to load weights: %w", err)
	}

	if checkpoint.OptimizerState != nil {
		if err := cm.trainer.Optimizer().LoadState(optimizer.FromCheckpoint(checkpoint.OptimizerState)); err != nil {
			return fmt.Errorf("failed to restore optimizer state: %w", err)
		}
	}

	current := model.Params.List()
	for i, t := range params.List() {
		copy(current[i].Data, t.Data)
	}

	ts := checkpoint.TrainingState
	cm.trainer.step = ts.TotalSteps
	cm.trainer.startEpoch = ts.Epoch + 1
	cm.trainer.bestLoss = float64(ts.BestLoss)
	cm.bestLoss = float64(ts.BestLoss)
	return nil
}

func (cm *CheckpointManager) generateFilename(epoch int, step int) string {
	pattern := cm.config.FilenamePattern
	if pattern == "" {
		pattern = "checkpoint_epoch_%d_step_%d"
	}
	return fmt.Sprintf(pattern, epoch+1, step) + "." + cm.getFileExtension()
}

func (cm *CheckpointManager) getFileExtension() string {
	switch cm.config.Format {
	case checkpoints.FormatONNX:
		return "onnx"
	default:
		return "json"
	}
}

func (cm *CheckpointManager) ensureDirectory() error {
	return os.MkdirAll(cm.config.SaveDirectory, 0755)
}

func (cm *CheckpointManager) cleanupOldCheckpoints() error {
	if cm.config.MaxCheckpoints <= 0 || len(cm.savedFiles) <= cm.config.MaxCheckpoints {
		return nil
	}

	toRemove := len(cm.savedFiles) - cm.config.MaxCheckpoints
	for i := 0; i < toRemove; i++ {
		if err := os.Remove(cm.savedFiles[i]); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove old checkpoint %s: %w", cm.savedFiles[i], err)
		}
	}
	cm.savedFiles = cm.savedFiles[toRemove:]
	return nil
}

// modelsCompatible reports whether two specs have the same layer sequence
// with the same dense dimensions
func (cm *CheckpointManager) modelsCompatible(a, b *layers.ModelSpec) bool {
	if len(a.Layers) != len(b.Layers) {
		return false
	}
	for i, la := range a.Layers {
		lb := b.Layers[i]
		if la.Type != lb.Type || la.Name != lb.Name {
			return false
		}
		if la.Type != layers.Dense {
			continue
		}
		_, _, inA, outA, errA := la.DenseParams()
		_, _, inB, outB, errB := lb.DenseParams()
		if errA != nil || errB != nil || inA != inB || outA != outB {
			return false
		}
	}
	return true
}
