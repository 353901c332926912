package preprocessing

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// createDigitPNG draws a white vertical bar on black, scaled to size×size
func createDigitPNG(t *testing.T, size int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := size / 2; x < size/2+size/7+1; x++ {
			img.SetGray(x, y, color.Gray{Y: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func TestDecodeAndPreprocess(t *testing.T) {
	t.Run("native size", func(t *testing.T) {
		data, err := NewImageProcessor(false).DecodeAndPreprocess(bytes.NewReader(createDigitPNG(t, DigitSize)))
		if err != nil {
			t.Fatalf("DecodeAndPreprocess failed: %v", err)
		}
		if len(data) != DigitSize*DigitSize {
			t.Fatalf("got %d values, expected %d", len(data), DigitSize*DigitSize)
		}
		if data[0] != 0 || data[DigitSize/2] != 1 {
			t.Errorf("background %v / stroke %v, expected 0 / 1", data[0], data[DigitSize/2])
		}
	})

	t.Run("downscaled and inverted", func(t *testing.T) {
		data, err := NewImageProcessor(true).DecodeAndPreprocess(bytes.NewReader(createDigitPNG(t, 112)))
		if err != nil {
			t.Fatalf("DecodeAndPreprocess failed: %v", err)
		}
		if data[0] != 1 || data[DigitSize/2] != 0 {
			t.Errorf("inverted background %v / stroke %v, expected 1 / 0", data[0], data[DigitSize/2])
		}
	})

	t.Run("jpeg color input", func(t *testing.T) {
		img := image.NewRGBA(image.Rect(0, 0, 40, 40))
		for i := range img.Pix {
			img.Pix[i] = 200
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 100}); err != nil {
			t.Fatalf("jpeg encode: %v", err)
		}
		data, err := NewImageProcessor(false).DecodeAndPreprocess(&buf)
		if err != nil {
			t.Fatalf("DecodeAndPreprocess failed: %v", err)
		}
		for _, v := range data {
			if v < 0 || v > 1 {
				t.Fatalf("value %v outside [0, 1]", v)
			}
		}
	})

	t.Run("invalid data", func(t *testing.T) {
		if _, err := NewImageProcessor(false).DecodeAndPreprocess(strings.NewReader("not an image")); err == nil {
			t.Error("expected decode error")
		}
	})
}

func TestPreprocessBatch(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i, size := range []int{28, 56, 84} {
		path := filepath.Join(dir, string(rune('a'+i))+".png")
		if err := os.WriteFile(path, createDigitPNG(t, size), 0644); err != nil {
			t.Fatalf("write: %v", err)
		}
		paths = append(paths, path)
	}

	results, err := PreprocessBatch(paths, false, 2)
	if err != nil {
		t.Fatalf("PreprocessBatch failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, expected 3", len(results))
	}
	for i, r := range results {
		if len(r) != DigitSize*DigitSize || r[DigitSize/2] != 1 {
			t.Errorf("result %d malformed", i)
		}
	}

	if _, err := PreprocessBatch(append(paths, filepath.Join(dir, "missing.png")), false, 0); err == nil {
		t.Error("expected error for missing file")
	}
}
