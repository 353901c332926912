// Package config loads the settings of a training run from YAML and
// command-line overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tsawler/go-vae/checkpoints"
	"github.com/tsawler/go-vae/layers"
	"github.com/tsawler/go-vae/optimizer"
	"github.com/tsawler/go-vae/tensor"
	"github.com/tsawler/go-vae/training"
	"github.com/tsawler/go-vae/vae"
)

// Config captures the runtime knobs for a training run.
type Config struct {
	Epochs       int     `yaml:"epochs"`
	LatentSize   int     `yaml:"latent_size"`
	HiddenSize   int     `yaml:"hidden_size"`
	KLWeight     float32 `yaml:"kl_weight"`
	LearningRate float32 `yaml:"learning_rate"`
	BatchSize    int     `yaml:"batch_size"`
	DeviceID     int     `yaml:"device_id"`
	Seed         int64   `yaml:"seed"`
	Digits       []int   `yaml:"digits"`

	DataDir        string  `yaml:"data_dir"`
	OutputDir      string  `yaml:"output_dir"`
	WeightDecay    float32 `yaml:"weight_decay"`
	LRDecay        float64 `yaml:"lr_decay"`
	Scheduler      string  `yaml:"scheduler"`
	Optimizer      string  `yaml:"optimizer"`
	CheckpointPath string  `yaml:"checkpoint_path"`
	ONNXPath       string  `yaml:"onnx_path"`
	MaxSamples     int     `yaml:"max_samples"`
	TileEvery      int     `yaml:"tile_every"`

	// CheckpointDir enables per-epoch checkpoints: one every CheckpointEvery
	// epochs, keeping the newest KeepCheckpoints, plus best_checkpoint.json.
	CheckpointDir   string `yaml:"checkpoint_dir"`
	CheckpointEvery int    `yaml:"checkpoint_every"`
	KeepCheckpoints int    `yaml:"keep_checkpoints"`
}

// Overrides captures CLI supplied values. Nil fields were not given.
type Overrides struct {
	Epochs         *int
	LatentSize     *int
	HiddenSize     *int
	KLWeight       *float32
	LearningRate   *float32
	BatchSize      *int
	DeviceID       *int
	Seed           *int64
	Digits         []int
	DataDir        *string
	OutputDir      *string
	CheckpointPath  *string
	ONNXPath        *string
	MaxSamples      *int
	CheckpointDir   *string
	CheckpointEvery *int
}

// Default returns the settings of the original command-line trainer
func Default() *Config {
	return &Config{
		Epochs:       40,
		LatentSize:   20,
		HiddenSize:   400,
		KLWeight:     1,
		LearningRate: 0.001,
		BatchSize:    64,
		DeviceID:     -1,
		Seed:         42,
		Digits:       []int{1},
		DataDir:      "./data",
		OutputDir:    "./images",
		LRDecay:      0.001,
		Scheduler:    "constant",
		Optimizer:    "sgd",
		TileEvery:    1,

		CheckpointEvery: 5,
		KeepCheckpoints: 10,
	}
}

// Load reads a YAML file on top of the defaults and validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := parseYAML(f)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseYAML(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyOverrides updates c with every override that was given.
func (c *Config) ApplyOverrides(o Overrides) {
	setInt(&c.Epochs, o.Epochs)
	setInt(&c.LatentSize, o.LatentSize)
	setInt(&c.HiddenSize, o.HiddenSize)
	setInt(&c.BatchSize, o.BatchSize)
	setInt(&c.DeviceID, o.DeviceID)
	setInt(&c.MaxSamples, o.MaxSamples)
	setInt(&c.CheckpointEvery, o.CheckpointEvery)
	if o.KLWeight != nil {
		c.KLWeight = *o.KLWeight
	}
	if o.LearningRate != nil {
		c.LearningRate = *o.LearningRate
	}
	if o.Seed != nil {
		c.Seed = *o.Seed
	}
	if o.Digits != nil {
		c.Digits = append([]int(nil), o.Digits...)
	}
	setString(&c.DataDir, o.DataDir)
	setString(&c.OutputDir, o.OutputDir)
	setString(&c.CheckpointPath, o.CheckpointPath)
	setString(&c.ONNXPath, o.ONNXPath)
	setString(&c.CheckpointDir, o.CheckpointDir)
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Epochs <= 0 {
		return fmt.Errorf("epochs must be > 0 (got %d)", c.Epochs)
	}
	if err := c.ModelConfig().Validate(); err != nil {
		return err
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning_rate must be > 0 (got %g)", c.LearningRate)
	}
	if c.WeightDecay < 0 {
		return fmt.Errorf("weight_decay cannot be negative (got %g)", c.WeightDecay)
	}
	if c.LRDecay < 0 {
		return fmt.Errorf("lr_decay cannot be negative (got %g)", c.LRDecay)
	}
	if _, err := tensor.DeviceFromID(c.DeviceID); err != nil {
		return fmt.Errorf("device_id: %w", err)
	}
	if len(c.Digits) == 0 {
		return errors.New("digits must name at least one digit")
	}
	for _, d := range c.Digits {
		if d < 0 || d > 9 {
			return fmt.Errorf("digit %d out of range [0, 9]", d)
		}
	}
	if c.MaxSamples < 0 {
		return fmt.Errorf("max_samples cannot be negative (got %d)", c.MaxSamples)
	}
	if c.TileEvery < 0 {
		return fmt.Errorf("tile_every cannot be negative (got %d)", c.TileEvery)
	}
	if c.CheckpointEvery < 0 {
		return fmt.Errorf("checkpoint_every cannot be negative (got %d)", c.CheckpointEvery)
	}
	if c.KeepCheckpoints < 0 {
		return fmt.Errorf("keep_checkpoints cannot be negative (got %d)", c.KeepCheckpoints)
	}
	if c.DataDir == "" {
		return errors.New("data_dir must be set")
	}
	if _, err := training.NewScheduler(c.Scheduler, c.Epochs, c.LRDecay); err != nil {
		return err
	}
	if kind := strings.ToLower(c.Optimizer); kind != "" && !slices.Contains(optimizer.Kinds, kind) {
		return fmt.Errorf("unknown optimizer %q (expected one of %s)", c.Optimizer, strings.Join(optimizer.Kinds, ", "))
	}
	return nil
}

// ModelConfig returns the architecture part of the config
func (c *Config) ModelConfig() vae.Config {
	return vae.Config{
		Hidden:     c.HiddenSize,
		Latent:     c.LatentSize,
		BatchSize:  c.BatchSize,
		KLWeight:   c.KLWeight,
		LeakySlope: layers.DefaultLeakySlope,
		Seed:       c.Seed,
	}
}

// TrainingConfig returns the trainer settings, with the scheduler built.
// progress receives progress output and may be nil.
func (c *Config) TrainingConfig(progress io.Writer) (training.TrainingConfig, error) {
	scheduler, err := training.NewScheduler(c.Scheduler, c.Epochs, c.LRDecay)
	if err != nil {
		return training.TrainingConfig{}, err
	}
	return training.TrainingConfig{
		Epochs:       c.Epochs,
		LearningRate: c.LearningRate,
		Shuffle:      true,
		Seed:         c.Seed,
		Scheduler:    scheduler,
		SinkEvery:    c.TileEvery,
		Progress:     progress,
	}, nil
}

// CheckpointConfig returns the checkpoint manager settings. Checkpoints are
// JSON so a run can be resumed from any of them.
func (c *Config) CheckpointConfig() training.CheckpointConfig {
	cc := training.DefaultCheckpointConfig()
	cc.SaveDirectory = c.CheckpointDir
	cc.SaveFrequency = c.CheckpointEvery
	cc.MaxCheckpoints = c.KeepCheckpoints
	cc.Format = checkpoints.FormatJSON
	return cc
}

// Device returns the compute device selected by DeviceID
func (c *Config) Device() (tensor.DeviceType, error) {
	return tensor.DeviceFromID(c.DeviceID)
}
