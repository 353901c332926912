package vae

import (
	"fmt"

	"github.com/tsawler/go-vae/layers"
)

// Image geometry of the MNIST digits the model is built for
const (
	ImageHeight   = 28
	ImageWidth    = 28
	ImageChannels = 1
	ImageSize     = ImageHeight * ImageWidth * ImageChannels
)

// ClampEpsilon keeps reconstructions inside [ε, 1-ε] so BCE never sees log(0)
const ClampEpsilon float32 = 1e-7

// Config holds the architecture and run constants of a model.
// All values are fixed for the lifetime of the model.
type Config struct {
	Hidden     int     `json:"hidden_size"` // hidden layer width H
	Latent     int     `json:"latent_size"` // latent dimensionality Z
	BatchSize  int     `json:"batch_size"`  // items per batch B
	KLWeight   float32 `json:"kl_weight"`   // α, weight of the KL term in the total loss
	LeakySlope float32 `json:"leaky_slope"` // encoder LeakyReLU negative slope
	Seed       int64   `json:"seed"`        // parameter initialization seed
}

// DefaultConfig returns the configuration used by the command-line trainer
func DefaultConfig() Config {
	return Config{
		Hidden:     400,
		Latent:     20,
		BatchSize:  64,
		KLWeight:   1,
		LeakySlope: layers.DefaultLeakySlope,
		Seed:       42,
	}
}

// Validate checks that every dimension is usable
func (c Config) Validate() error {
	if c.Hidden <= 0 {
		return fmt.Errorf("hidden size must be positive, got %d", c.Hidden)
	}
	if c.Latent <= 0 {
		return fmt.Errorf("latent size must be positive, got %d", c.Latent)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.KLWeight < 0 {
		return fmt.Errorf("KL weight cannot be negative, got %f", c.KLWeight)
	}
	if c.LeakySlope < 0 || c.LeakySlope >= 1 {
		return fmt.Errorf("leaky slope must be in [0, 1), got %f", c.LeakySlope)
	}
	return nil
}

// ImageBatchShape returns the (B, 28, 28, 1) shape of an image batch
func (c Config) ImageBatchShape() []int {
	return []int{c.BatchSize, ImageHeight, ImageWidth, ImageChannels}
}
