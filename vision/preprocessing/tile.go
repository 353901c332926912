package preprocessing

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"github.com/chewxy/math32"

	"github.com/tsawler/go-vae/tensor"
)

// TileWriter saves reconstructions as PNG grids, one file per call. Each row
// of the grid pairs an input digit with its reconstruction when inputs are
// given.
type TileWriter struct {
	dir     string
	prefix  string
	maxTile int
	padding int
}

// NewTileWriter creates a writer that stores images in dir. maxTile caps the
// number of digits drawn per grid (0 = all).
func NewTileWriter(dir, prefix string, maxTile int) *TileWriter {
	if prefix == "" {
		prefix = "res"
	}
	return &TileWriter{dir: dir, prefix: prefix, maxTile: maxTile, padding: 1}
}

// WriteReconstructions writes epoch's grid to <dir>/<prefix>_epoch_<n>.png
func (w *TileWriter) WriteReconstructions(epoch int, inputs, reconstructions *tensor.Tensor) error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("failed to create image directory: %w", err)
	}
	img, err := w.Tile(inputs, reconstructions)
	if err != nil {
		return err
	}

	path := filepath.Join(w.dir, fmt.Sprintf("%s_epoch_%03d.png", w.prefix, epoch+1))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create tile file: %w", err)
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("failed to encode tile: %w", err)
	}
	return f.Close()
}

// Tile arranges (B, 28, 28, 1) digits in a near-square grid. With inputs,
// originals and reconstructions alternate column by column.
func (w *TileWriter) Tile(inputs, reconstructions *tensor.Tensor) (*image.Gray, error) {
	if reconstructions == nil || reconstructions.Dim() != 4 {
		return nil, fmt.Errorf("reconstructions must be (B, H, W, 1)")
	}
	digits := []*tensor.Tensor{reconstructions}
	if inputs != nil {
		if err := tensor.CheckShape(inputs, "tile inputs", reconstructions.Shape...); err != nil {
			return nil, err
		}
		digits = []*tensor.Tensor{inputs, reconstructions}
	}

	n, h, wd := reconstructions.Shape[0], reconstructions.Shape[1], reconstructions.Shape[2]
	if w.maxTile > 0 && n > w.maxTile {
		n = w.maxTile
	}

	perRow := int(math.Ceil(math.Sqrt(float64(n))))
	rows := (n + perRow - 1) / perRow
	cols := perRow * len(digits)

	cellW, cellH := wd+w.padding, h+w.padding
	img := image.NewGray(image.Rect(0, 0, cols*cellW+w.padding, rows*cellH+w.padding))

	for i := 0; i < n; i++ {
		row, col := i/perRow, (i%perRow)*len(digits)
		for k, src := range digits {
			x0 := (col+k)*cellW + w.padding
			y0 := row*cellH + w.padding
			base := i * h * wd
			for y := 0; y < h; y++ {
				for x := 0; x < wd; x++ {
					v := math32.Max(0, math32.Min(1, src.Data[base+y*wd+x]))
					img.SetGray(x0+x, y0+y, color.Gray{Y: uint8(v*255 + 0.5)})
				}
			}
		}
	}
	return img, nil
}
