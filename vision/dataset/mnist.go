package dataset

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tsawler/go-vae/tensor"
)

// IDX magic numbers of the MNIST image and label files
const (
	imagesMagic = 2051
	labelsMagic = 2049
)

// Standard MNIST file names. A ".gz" suffix is also accepted.
const (
	TrainImagesFile = "train-images-idx3-ubyte"
	TrainLabelsFile = "train-labels-idx1-ubyte"
	TestImagesFile  = "t10k-images-idx3-ubyte"
	TestLabelsFile  = "t10k-labels-idx1-ubyte"
)

// Digit image geometry
const (
	Rows   = 28
	Cols   = 28
	Pixels = Rows * Cols
)

// MNISTDataset holds digit images normalized to [0, 1] with their labels
type MNISTDataset struct {
	images []float32 // Pixels values per image
	labels []int
}

// LoadOptions selects which part of MNIST is loaded
type LoadOptions struct {
	Test       bool  // load the t10k files instead of the training files
	Digits     []int // keep only these labels; empty keeps all
	MaxSamples int   // keep at most this many images after filtering (0 = all)
}

// LoadMNIST reads the IDX image and label files found in dir
func LoadMNIST(dir string, opts LoadOptions) (*MNISTDataset, error) {
	imagesName, labelsName := TrainImagesFile, TrainLabelsFile
	if opts.Test {
		imagesName, labelsName = TestImagesFile, TestLabelsFile
	}

	images, err := readIDXFile(filepath.Join(dir, imagesName), ReadIDXImages)
	if err != nil {
		return nil, err
	}
	labels, err := readIDXFile(filepath.Join(dir, labelsName), ReadIDXLabels)
	if err != nil {
		return nil, err
	}

	d, err := NewMNISTDataset(images, labels)
	if err != nil {
		return nil, err
	}
	if len(opts.Digits) > 0 {
		d = d.FilterDigits(opts.Digits)
	}
	if opts.MaxSamples > 0 && d.Len() > opts.MaxSamples {
		idx := make([]int, opts.MaxSamples)
		for i := range idx {
			idx[i] = i
		}
		d = d.Subset(idx)
	}
	if d.Len() == 0 {
		return nil, fmt.Errorf("no images of digits %v found in %s", opts.Digits, dir)
	}
	return d, nil
}

// readIDXFile opens path, or path+".gz" when path does not exist, and
// decodes it with read
func readIDXFile[T any](path string, read func(io.Reader) (T, error)) (T, error) {
	var zero T
	f, err := os.Open(path)
	gz := false
	if errors.Is(err, os.ErrNotExist) {
		f, err = os.Open(path + ".gz")
		gz = true
	}
	if err != nil {
		return zero, fmt.Errorf("failed to open MNIST file: %w", err)
	}
	defer f.Close()

	var r io.Reader = bufio.NewReader(f)
	if gz || strings.HasSuffix(path, ".gz") {
		zr, err := gzip.NewReader(r)
		if err != nil {
			return zero, fmt.Errorf("failed to read %s: %w", f.Name(), err)
		}
		defer zr.Close()
		r = zr
	}

	v, err := read(r)
	if err != nil {
		return zero, fmt.Errorf("failed to read %s: %w", f.Name(), err)
	}
	return v, nil
}

// ReadIDXImages decodes an IDX3 image file into normalized pixel data
func ReadIDXImages(r io.Reader) ([]float32, error) {
	var header struct {
		Magic, Count, Rows, Cols uint32
	}
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, fmt.Errorf("image header: %w", err)
	}
	if header.Magic != imagesMagic {
		return nil, fmt.Errorf("bad image file magic %d, expected %d", header.Magic, imagesMagic)
	}
	if header.Rows != Rows || header.Cols != Cols {
		return nil, fmt.Errorf("images are %dx%d, expected %dx%d", header.Rows, header.Cols, Rows, Cols)
	}

	raw := make([]byte, int(header.Count)*Pixels)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("image data: %w", err)
	}
	pixels := make([]float32, len(raw))
	for i, b := range raw {
		pixels[i] = float32(b) / 255
	}
	return pixels, nil
}

// ReadIDXLabels decodes an IDX1 label file
func ReadIDXLabels(r io.Reader) ([]int, error) {
	var header struct {
		Magic, Count uint32
	}
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, fmt.Errorf("label header: %w", err)
	}
	if header.Magic != labelsMagic {
		return nil, fmt.Errorf("bad label file magic %d, expected %d", header.Magic, labelsMagic)
	}

	raw := make([]byte, header.Count)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("label data: %w", err)
	}
	labels := make([]int, len(raw))
	for i, b := range raw {
		if b > 9 {
			return nil, fmt.Errorf("label %d of item %d out of range", b, i)
		}
		labels[i] = int(b)
	}
	return labels, nil
}

// NewMNISTDataset wraps decoded pixels and labels
func NewMNISTDataset(pixels []float32, labels []int) (*MNISTDataset, error) {
	if len(pixels)%Pixels != 0 {
		return nil, fmt.Errorf("pixel count %d is not a multiple of %d", len(pixels), Pixels)
	}
	if n := len(pixels) / Pixels; n != len(labels) {
		return nil, fmt.Errorf("label count (%d) doesn't match image count (%d)", len(labels), n)
	}
	return &MNISTDataset{images: pixels, labels: labels}, nil
}

// Len returns the number of images
func (d *MNISTDataset) Len() int {
	return len(d.labels)
}

// Get returns image idx as a (28, 28, 1) tensor sharing the dataset memory
func (d *MNISTDataset) Get(idx int) (*tensor.Tensor, int, error) {
	if idx < 0 || idx >= d.Len() {
		return nil, 0, fmt.Errorf("index %d out of range [0, %d)", idx, d.Len())
	}
	image, err := tensor.NewTensor([]int{Rows, Cols, 1}, d.images[idx*Pixels:(idx+1)*Pixels])
	if err != nil {
		return nil, 0, err
	}
	return image, d.labels[idx], nil
}

// Images returns every image as one (N, 28, 28, 1) tensor
func (d *MNISTDataset) Images() (*tensor.Tensor, error) {
	return tensor.NewTensor([]int{d.Len(), Rows, Cols, 1}, d.images)
}

// Labels returns the digit of every image
func (d *MNISTDataset) Labels() []int {
	return d.labels
}

// ClassDistribution returns the number of images per digit
func (d *MNISTDataset) ClassDistribution() map[int]int {
	dist := make(map[int]int)
	for _, label := range d.labels {
		dist[label]++
	}
	return dist
}

// FilterDigits returns a dataset with only the images of the given digits
func (d *MNISTDataset) FilterDigits(digits []int) *MNISTDataset {
	keep := make(map[int]bool, len(digits))
	for _, digit := range digits {
		keep[digit] = true
	}

	var indices []int
	for i, label := range d.labels {
		if keep[label] {
			indices = append(indices, i)
		}
	}
	return d.Subset(indices)
}

// Subset copies the images at the given indices into a new dataset
func (d *MNISTDataset) Subset(indices []int) *MNISTDataset {
	subset := &MNISTDataset{
		images: make([]float32, 0, len(indices)*Pixels),
		labels: make([]int, len(indices)),
	}
	for i, idx := range indices {
		subset.images = append(subset.images, d.images[idx*Pixels:(idx+1)*Pixels]...)
		subset.labels[i] = d.labels[idx]
	}
	return subset
}

// Split splits the dataset into train and validation sets. A non-zero seed
// shuffles before splitting.
func (d *MNISTDataset) Split(trainRatio float64, seed int64) (*MNISTDataset, *MNISTDataset) {
	n := d.Len()
	trainSize := int(float64(n) * trainRatio)

	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	if seed != 0 {
		rng := rand.New(rand.NewSource(seed))
		rng.Shuffle(n, func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
	}
	return d.Subset(indices[:trainSize]), d.Subset(indices[trainSize:])
}

// String returns a string representation of the dataset
func (d *MNISTDataset) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "MNISTDataset: %d images\n", d.Len())
	sb.WriteString("Digit distribution:\n")

	dist := d.ClassDistribution()
	digits := make([]int, 0, len(dist))
	for digit := range dist {
		digits = append(digits, digit)
	}
	sort.Ints(digits)
	for _, digit := range digits {
		fmt.Fprintf(&sb, "  %d: %d images\n", digit, dist[digit])
	}
	return sb.String()
}
