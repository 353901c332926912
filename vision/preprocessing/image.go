package preprocessing

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg" // register JPEG decoding
	_ "image/png"  // register PNG decoding
	"io"
	"os"
	"sync"
)

// DigitSize is the side length of a preprocessed digit
const DigitSize = 28

// ImageProcessor converts arbitrary images into DigitSize×DigitSize
// grayscale digits with buffer reuse
type ImageProcessor struct {
	mu         sync.Mutex
	grayBuffer *image.Gray
	invert     bool
}

// NewImageProcessor creates a new image processor. invert maps dark strokes
// on a light background to the light-on-dark convention of MNIST.
func NewImageProcessor(invert bool) *ImageProcessor {
	return &ImageProcessor{invert: invert}
}

// DecodeAndPreprocess decodes a PNG or JPEG image, resizes it with nearest
// neighbour sampling and returns DigitSize² values in [0, 1], row-major
func (p *ImageProcessor) DecodeAndPreprocess(reader io.Reader) ([]float32, error) {
	img, _, err := image.Decode(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("image is empty")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.grayBuffer == nil {
		p.grayBuffer = image.NewGray(image.Rect(0, 0, DigitSize, DigitSize))
	}
	target := p.grayBuffer

	scaleX := float64(width) / DigitSize
	scaleY := float64(height) / DigitSize
	for y := 0; y < DigitSize; y++ {
		for x := 0; x < DigitSize; x++ {
			srcX := bounds.Min.X + int(float64(x)*scaleX)
			srcY := bounds.Min.Y + int(float64(y)*scaleY)
			if srcX >= bounds.Max.X {
				srcX = bounds.Max.X - 1
			}
			if srcY >= bounds.Max.Y {
				srcY = bounds.Max.Y - 1
			}
			target.Set(x, y, color.GrayModel.Convert(img.At(srcX, srcY)))
		}
	}

	data := make([]float32, DigitSize*DigitSize)
	for i, v := range target.Pix {
		val := float32(v) / 255
		if p.invert {
			val = 1 - val
		}
		data[i] = val
	}
	return data, nil
}

// PreprocessBatch preprocesses multiple image files concurrently. Results
// keep the order of imagePaths.
func PreprocessBatch(imagePaths []string, invert bool, maxWorkers int) ([][]float32, error) {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}

	results := make([][]float32, len(imagePaths))
	errs := make([]error, len(imagePaths))

	type job struct {
		index int
		path  string
	}

	jobs := make(chan job, len(imagePaths))
	var wg sync.WaitGroup

	for w := 0; w < maxWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			processor := NewImageProcessor(invert)

			for j := range jobs {
				results[j.index], errs[j.index] = processFile(processor, j.path)
			}
		}()
	}

	for i, path := range imagePaths {
		jobs <- job{index: i, path: path}
	}
	close(jobs)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("failed to process image %s: %w", imagePaths[i], err)
		}
	}
	return results, nil
}

// ProcessFile decodes and preprocesses one image file
func (p *ImageProcessor) ProcessFile(path string) ([]float32, error) {
	return processFile(p, path)
}

func processFile(p *ImageProcessor, path string) ([]float32, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return p.DecodeAndPreprocess(file)
}

// Inverted reports whether the processor inverts intensities
func (p *ImageProcessor) Inverted() bool {
	return p.invert
}
