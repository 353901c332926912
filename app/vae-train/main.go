// Command vae-train trains a variational autoencoder on MNIST digits.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/tsawler/go-vae/checkpoints"
	"github.com/tsawler/go-vae/config"
	"github.com/tsawler/go-vae/optimizer"
	"github.com/tsawler/go-vae/training"
	"github.com/tsawler/go-vae/vae"
	"github.com/tsawler/go-vae/vision/dataset"
	"github.com/tsawler/go-vae/vision/preprocessing"
)

func main() {
	cfgPath := flag.String("config", "", "Path to YAML config (defaults are used when empty)")
	devID := flag.Int("devid", -1, "Device id (-1 = CPU)")
	epochs := flag.Int("epoch", 40, "Number of training epochs")
	latent := flag.Int("nz", 20, "Latent space dimensionality")
	hidden := flag.Int("layersize", 400, "Hidden layer width")
	alpha := flag.Float64("alpha", 1, "Weight of the KL divergence term")
	lr := flag.Float64("lr", 0.001, "Learning rate")
	batchSize := flag.Int("bsize", 64, "Batch size")
	dataDir := flag.String("data", "./data", "Directory with MNIST IDX files or digit folders")
	digits := flag.String("digits", "1", "Comma separated digits to train on")
	seed := flag.Int64("seed", 42, "PRNG seed")
	outDir := flag.String("out", "./images", "Directory for reconstruction tiles")
	checkpointPath := flag.String("checkpoint", "", "Write a JSON checkpoint here after training")
	onnxPath := flag.String("onnx", "", "Export the trained model as ONNX here")
	limit := flag.Int("limit", 0, "Train on at most this many images (0 = all)")
	resume := flag.String("resume", "", "Resume from a JSON checkpoint")
	quiet := flag.Bool("quiet", false, "Disable progress bars")
	plotsPath := flag.String("plots", "", "Write training plot data as JSON here")
	checkpointDir := flag.String("checkpoint-dir", "", "Write periodic and best checkpoints to this directory")
	checkpointEvery := flag.Int("checkpoint-every", 5, "Epochs between periodic checkpoints (0 = best only)")

	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		var err error
		if cfg, err = config.Load(*cfgPath); err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	overrides, err := explicitOverrides(flag.CommandLine, map[string]any{
		"devid": devID, "epoch": epochs, "nz": latent, "layersize": hidden,
		"alpha": alpha, "lr": lr, "bsize": batchSize, "data": dataDir,
		"digits": digits, "seed": seed, "out": outDir, "checkpoint": checkpointPath,
		"onnx": onnxPath, "limit": limit, "checkpoint-dir": checkpointDir,
		"checkpoint-every": checkpointEvery,
	})
	if err != nil {
		log.Fatalf("invalid flags: %v", err)
	}
	cfg.ApplyOverrides(overrides)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		log.Fatalf("failed to create output directory: %v", err)
	}

	data, err := loadDataset(cfg)
	if err != nil {
		log.Fatalf("failed to load dataset: %v", err)
	}
	log.Printf("loaded %d images of digits %v from %s", data.Len(), cfg.Digits, cfg.DataDir)

	model, err := vae.New(cfg.ModelConfig(), nil)
	if err != nil {
		log.Fatalf("failed to build model: %v", err)
	}
	log.Printf("model: hidden=%d latent=%d parameters=%d", cfg.HiddenSize, cfg.LatentSize, model.Params.Count())

	shapes := make([][]int, 0, len(vae.ParameterNames()))
	for _, p := range model.Params.List() {
		shapes = append(shapes, p.Size())
	}
	opt, err := optimizer.New(cfg.Optimizer, cfg.LearningRate, cfg.WeightDecay, shapes)
	if err != nil {
		log.Fatalf("failed to create optimizer: %v", err)
	}

	var progress io.Writer
	if !*quiet {
		progress = os.Stdout
	}
	trainCfg, err := cfg.TrainingConfig(progress)
	if err != nil {
		log.Fatalf("invalid training config: %v", err)
	}

	trainer, err := training.NewTrainer(model, opt, trainCfg)
	if err != nil {
		log.Fatalf("failed to create trainer: %v", err)
	}
	tiles := preprocessing.NewTileWriter(cfg.OutputDir, "res", 64)
	var plots *training.VisualizationCollector
	if *plotsPath != "" {
		plots = training.NewVisualizationCollector("vae", 2000)
		plots.Attach(trainer)
		trainer.SetReconstructionSink(training.MultiSink{tiles, plots})
	} else {
		trainer.SetReconstructionSink(tiles)
	}

	manager := training.NewCheckpointManager(trainer, cfg.CheckpointConfig())
	if *resume != "" {
		if err := manager.LoadCheckpoint(*resume); err != nil {
			log.Fatalf("failed to resume: %v", err)
		}
		log.Printf("resumed from %s at step %d", *resume, trainer.Steps())
	}
	if cfg.CheckpointDir != "" {
		manager.Attach()
		log.Printf("saving checkpoints to %s every %d epochs", cfg.CheckpointDir, cfg.CheckpointEvery)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics, err := trainer.Train(ctx, data)
	switch {
	case errors.Is(err, context.Canceled):
		log.Printf("training interrupted after %d epochs", len(metrics))
	case err != nil:
		log.Fatalf("training failed: %v", err)
	}
	for _, m := range metrics {
		log.Print(m)
	}

	if err := save(cfg, trainer); err != nil {
		log.Fatalf("failed to save model: %v", err)
	}
	if plots != nil {
		if err := plots.WriteJSON(*plotsPath); err != nil {
			log.Fatalf("failed to write plots: %v", err)
		}
	}
}

// explicitOverrides turns the flags set in fs into config overrides, leaving
// unset flags to the config file
func explicitOverrides(fs *flag.FlagSet, flags map[string]any) (config.Overrides, error) {
	var o config.Overrides
	var err error
	fs.Visit(func(f *flag.Flag) {
		switch v := flags[f.Name].(type) {
		case *int:
			switch f.Name {
			case "devid":
				o.DeviceID = v
			case "epoch":
				o.Epochs = v
			case "nz":
				o.LatentSize = v
			case "layersize":
				o.HiddenSize = v
			case "bsize":
				o.BatchSize = v
			case "limit":
				o.MaxSamples = v
			case "checkpoint-every":
				o.CheckpointEvery = v
			}
		case *float64:
			f32 := float32(*v)
			if f.Name == "alpha" {
				o.KLWeight = &f32
			} else {
				o.LearningRate = &f32
			}
		case *int64:
			o.Seed = v
		case *string:
			switch f.Name {
			case "data":
				o.DataDir = v
			case "out":
				o.OutputDir = v
			case "checkpoint":
				o.CheckpointPath = v
			case "onnx":
				o.ONNXPath = v
			case "checkpoint-dir":
				o.CheckpointDir = v
			case "digits":
				o.Digits, err = parseDigits(*v)
			}
		}
	})
	return o, err
}

func parseDigits(s string) ([]int, error) {
	var digits []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("digits: %w", err)
		}
		digits = append(digits, d)
	}
	return digits, nil
}

// loadDataset reads MNIST IDX files from the data directory, falling back to
// one folder of images per digit
func loadDataset(cfg *config.Config) (training.Dataset, error) {
	mnist, err := dataset.LoadMNIST(cfg.DataDir, dataset.LoadOptions{Digits: cfg.Digits, MaxSamples: cfg.MaxSamples})
	if err == nil {
		return mnist, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	folder, ferr := dataset.NewImageFolderDataset(cfg.DataDir, dataset.ImageFolderOptions{})
	if ferr != nil {
		return nil, fmt.Errorf("%v; %v", err, ferr)
	}
	var d training.Dataset = folder.FilterDigits(cfg.Digits)
	if cfg.MaxSamples > 0 {
		if d, err = training.NewSubsetDataset(d, cfg.MaxSamples); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// save writes the optional checkpoint and ONNX export
func save(cfg *config.Config, trainer *training.Trainer) error {
	if cfg.CheckpointPath == "" && cfg.ONNXPath == "" {
		return nil
	}
	lastEpoch := -1
	if metrics := trainer.Metrics(); len(metrics) > 0 {
		lastEpoch = metrics[len(metrics)-1].Epoch
	}

	cp, err := checkpoints.FromModel(trainer.Model())
	if err != nil {
		return err
	}
	state, err := trainer.Optimizer().GetState()
	if err != nil {
		return err
	}
	cp.OptimizerState = state.ToCheckpoint()
	cp.TrainingState = checkpoints.TrainingState{
		Epoch:        lastEpoch,
		Step:         trainer.Steps(),
		LearningRate: trainer.Optimizer().GetLearningRate(),
		BestLoss:     float32(trainer.BestLoss()),
		TotalSteps:   trainer.Steps(),
	}
	cp.Metadata.Description = fmt.Sprintf("VAE trained on digits %v", cfg.Digits)

	if cfg.CheckpointPath != "" {
		if err := checkpoints.NewCheckpointSaver(checkpoints.FormatJSON).SaveCheckpoint(cp, cfg.CheckpointPath); err != nil {
			return err
		}
		log.Printf("checkpoint written to %s", cfg.CheckpointPath)
	}
	if cfg.ONNXPath != "" {
		if err := checkpoints.NewONNXExporter().ExportToONNX(cp, cfg.ONNXPath); err != nil {
			return err
		}
		log.Printf("ONNX model written to %s", cfg.ONNXPath)
	}
	return nil
}
