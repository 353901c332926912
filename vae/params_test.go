package vae

import (
	"errors"
	"reflect"
	"testing"

	"github.com/tsawler/go-vae/tensor"
)

func smallConfig(b, z, h int) Config {
	cfg := DefaultConfig()
	cfg.BatchSize = b
	cfg.Latent = z
	cfg.Hidden = h
	return cfg
}

func TestNewParametersShapes(t *testing.T) {
	cfg := smallConfig(2, 3, 5)
	p, err := NewParameters(cfg)
	if err != nil {
		t.Fatalf("NewParameters failed: %v", err)
	}

	expected := map[string][]int{
		EncW0: {784, 5}, EncB0: {5},
		EncWMu: {5, 3}, EncBMu: {3},
		EncWLogvar: {5, 3}, EncBLogvar: {3},
		DecW0: {3, 5}, DecB0: {5},
		DecW1: {5, 784}, DecB1: {784},
	}
	for name, shape := range expected {
		if got := p.Get(name); got == nil || !reflect.DeepEqual(got.Shape, shape) {
			t.Errorf("%s shape = %v, expected %v", name, got, shape)
		}
	}

	if err := p.CheckShapes(cfg); err != nil {
		t.Errorf("CheckShapes failed: %v", err)
	}
	if err := p.CheckShapes(smallConfig(2, 4, 5)); !errors.Is(err, tensor.ErrShapeMismatch) {
		t.Errorf("expected shape mismatch for a different latent size, got %v", err)
	}

	want := 784*5 + 5 + 2*(5*3+3) + 3*5 + 5 + 5*784 + 784
	if p.Count() != want {
		t.Errorf("Count = %d, expected %d", p.Count(), want)
	}
}

func TestNewParametersInit(t *testing.T) {
	p, err := NewParameters(smallConfig(2, 20, 400))
	if err != nil {
		t.Fatalf("NewParameters failed: %v", err)
	}

	for _, b := range []*tensor.Tensor{p.EncB0, p.EncBMu, p.EncBLogvar, p.DecB0, p.DecB1} {
		for _, v := range b.Data {
			if v != 0 {
				t.Fatalf("biases must start at zero, got %f", v)
			}
		}
	}

	// Weight variance should be close to 2/fan_in
	var sumSq float64
	for _, v := range p.EncW0.Data {
		sumSq += float64(v) * float64(v)
	}
	variance := sumSq / float64(p.EncW0.NumElems)
	if expected := 2.0 / 784; variance < 0.9*expected || variance > 1.1*expected {
		t.Errorf("enc_w0 variance = %g, expected about %g", variance, expected)
	}
}

func TestSameSeedSameParameters(t *testing.T) {
	cfg := smallConfig(4, 2, 8)
	a, _ := NewParameters(cfg)
	b, _ := NewParameters(cfg)
	for i, nt := range a.Named() {
		if !nt.Tensor.Equal(b.List()[i]) {
			t.Errorf("%s differs between constructions with the same seed", nt.Name)
		}
	}

	cfg.Seed++
	c, _ := NewParameters(cfg)
	if a.EncW0.Equal(c.EncW0) {
		t.Error("different seeds produced identical weights")
	}
}

func TestParametersLoadAndClone(t *testing.T) {
	cfg := smallConfig(1, 2, 2)
	p, _ := NewParameters(cfg)

	clone := p.Clone()
	if err := p.Load(EncBMu, []int{2}, []float32{1, 2}); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if p.EncBMu.Data[1] != 2 || clone.EncBMu.Data[1] != 0 {
		t.Error("Load should write the parameter and leave the clone untouched")
	}

	if err := p.Load("nope", []int{2}, []float32{1, 2}); err == nil {
		t.Error("expected error for unknown parameter")
	}
	if err := p.Load(EncBMu, []int{3}, []float32{1, 2, 3}); err == nil {
		t.Error("expected error for wrong shape")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"hidden", func(c *Config) { c.Hidden = 0 }},
		{"latent", func(c *Config) { c.Latent = -1 }},
		{"batch", func(c *Config) { c.BatchSize = 0 }},
		{"kl weight", func(c *Config) { c.KLWeight = -1 }},
		{"slope", func(c *Config) { c.LeakySlope = 1 }},
	}

	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := DefaultConfig()
			test.modify(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
			if _, err := NewParameters(cfg); err == nil {
				t.Error("NewParameters should reject an invalid config")
			}
		})
	}
}
