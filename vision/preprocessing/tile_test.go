package preprocessing

import (
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/tsawler/go-vae/tensor"
)

func constantDigits(n int, v float32) *tensor.Tensor {
	t, _ := tensor.Full([]int{n, 28, 28, 1}, v)
	return t
}

func TestTileLayout(t *testing.T) {
	w := NewTileWriter(t.TempDir(), "", 0)

	img, err := w.Tile(nil, constantDigits(4, 1))
	if err != nil {
		t.Fatalf("Tile failed: %v", err)
	}
	// 2x2 grid of 28px digits with 1px padding
	if b := img.Bounds(); b.Dx() != 2*29+1 || b.Dy() != 2*29+1 {
		t.Errorf("grid size = %dx%d, expected 59x59", b.Dx(), b.Dy())
	}
	if img.GrayAt(0, 0).Y != 0 || img.GrayAt(1, 1).Y != 255 {
		t.Errorf("padding %d / digit %d", img.GrayAt(0, 0).Y, img.GrayAt(1, 1).Y)
	}

	paired, err := w.Tile(constantDigits(4, 0), constantDigits(4, 1))
	if err != nil {
		t.Fatalf("Tile failed: %v", err)
	}
	if b := paired.Bounds(); b.Dx() != 4*29+1 || b.Dy() != 2*29+1 {
		t.Errorf("paired grid size = %dx%d, expected 117x59", b.Dx(), b.Dy())
	}
	if paired.GrayAt(1, 1).Y != 0 || paired.GrayAt(30, 1).Y != 255 {
		t.Errorf("input %d / reconstruction %d", paired.GrayAt(1, 1).Y, paired.GrayAt(30, 1).Y)
	}
}

func TestTileClampsAndLimits(t *testing.T) {
	w := NewTileWriter(t.TempDir(), "res", 1)
	digits := constantDigits(3, 2)
	img, err := w.Tile(nil, digits)
	if err != nil {
		t.Fatalf("Tile failed: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 30 || b.Dy() != 30 {
		t.Errorf("limited grid size = %dx%d, expected 30x30", b.Dx(), b.Dy())
	}
	if img.GrayAt(5, 5).Y != 255 {
		t.Errorf("value above 1 rendered as %d", img.GrayAt(5, 5).Y)
	}

	if _, err := w.Tile(constantDigits(2, 0), digits); err == nil {
		t.Error("expected error for mismatched inputs")
	}
	if _, err := w.Tile(nil, tensor.MustZeros(3, 784)); err == nil {
		t.Error("expected error for flat reconstructions")
	}
}

func TestWriteReconstructions(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "images")
	w := NewTileWriter(dir, "res", 0)
	if err := w.WriteReconstructions(4, constantDigits(2, 0.25), constantDigits(2, 0.75)); err != nil {
		t.Fatalf("WriteReconstructions failed: %v", err)
	}

	f, err := os.Open(filepath.Join(dir, "res_epoch_005.png"))
	if err != nil {
		t.Fatalf("tile file missing: %v", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("png decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 4*29+1 || b.Dy() != 29+1 {
		t.Errorf("decoded size = %dx%d", b.Dx(), b.Dy())
	}
}
