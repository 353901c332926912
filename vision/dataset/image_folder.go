package dataset

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/tsawler/go-vae/tensor"
	"github.com/tsawler/go-vae/vision/preprocessing"
)

// ImageFolderDataset loads digit images from a directory with one
// subdirectory per digit ("0" … "9"). Images are decoded on first use and
// kept in a CacheManager.
type ImageFolderDataset struct {
	imagePaths []string
	labels     []int
	processor  *preprocessing.ImageProcessor
	cache      *CacheManager
}

// ImageFolderOptions configures an ImageFolderDataset
type ImageFolderOptions struct {
	Extensions []string      // file extensions to include; default .png .jpg .jpeg
	Invert     bool          // dark digits on a light background
	Cache      *CacheManager // shared cache; nil creates an unbounded one
}

// NewImageFolderDataset creates a dataset from a directory structure
func NewImageFolderDataset(root string, opts ImageFolderOptions) (*ImageFolderDataset, error) {
	extensions := opts.Extensions
	if len(extensions) == 0 {
		extensions = []string{".png", ".jpg", ".jpeg"}
	}
	cache := opts.Cache
	if cache == nil {
		cache = NewCacheManager(0)
	}

	dataset := &ImageFolderDataset{
		processor: preprocessing.NewImageProcessor(opts.Invert),
		cache:     cache,
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to list digit directories: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		digit, err := strconv.Atoi(entry.Name())
		if err != nil || digit < 0 || digit > 9 {
			continue
		}

		for _, ext := range extensions {
			files, err := filepath.Glob(filepath.Join(root, entry.Name(), "*"+ext))
			if err != nil {
				continue
			}
			sort.Strings(files)
			for _, file := range files {
				dataset.imagePaths = append(dataset.imagePaths, file)
				dataset.labels = append(dataset.labels, digit)
			}
		}
	}

	if len(dataset.imagePaths) == 0 {
		return nil, fmt.Errorf("no images found in %s", root)
	}
	return dataset, nil
}

// Len returns the number of items in the dataset
func (d *ImageFolderDataset) Len() int {
	return len(d.imagePaths)
}

// GetItem returns the image path and label at the given index
func (d *ImageFolderDataset) GetItem(index int) (string, int, error) {
	if index < 0 || index >= len(d.imagePaths) {
		return "", 0, fmt.Errorf("index %d out of range [0, %d)", index, len(d.imagePaths))
	}
	return d.imagePaths[index], d.labels[index], nil
}

// Get decodes image index into a (28, 28, 1) tensor
func (d *ImageFolderDataset) Get(index int) (*tensor.Tensor, int, error) {
	path, label, err := d.GetItem(index)
	if err != nil {
		return nil, 0, err
	}

	data, ok := d.cache.Get(path)
	if !ok {
		data, err = d.processor.ProcessFile(path)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to load %s: %w", path, err)
		}
		d.cache.Put(path, data)
	}

	// callers may modify the tensor; never hand out cached memory
	image, err := tensor.NewTensor([]int{Rows, Cols, 1}, append([]float32(nil), data...))
	if err != nil {
		return nil, 0, err
	}
	return image, label, nil
}

// Preload decodes every image with workers goroutines and fills the cache
func (d *ImageFolderDataset) Preload(workers int) error {
	images, err := preprocessing.PreprocessBatch(d.imagePaths, d.processor.Inverted(), workers)
	if err != nil {
		return err
	}
	for i, data := range images {
		d.cache.Put(d.imagePaths[i], data)
	}
	return nil
}

// CacheStats reports the decode cache usage
func (d *ImageFolderDataset) CacheStats() CacheStats {
	return d.cache.Stats()
}

// ClassDistribution returns the number of images per digit
func (d *ImageFolderDataset) ClassDistribution() map[int]int {
	dist := make(map[int]int)
	for _, label := range d.labels {
		dist[label]++
	}
	return dist
}

// Subset creates a subset of the dataset with the specified indices
func (d *ImageFolderDataset) Subset(indices []int) *ImageFolderDataset {
	subset := &ImageFolderDataset{
		imagePaths: make([]string, len(indices)),
		labels:     make([]int, len(indices)),
		processor:  d.processor,
		cache:      d.cache,
	}
	for i, idx := range indices {
		subset.imagePaths[i] = d.imagePaths[idx]
		subset.labels[i] = d.labels[idx]
	}
	return subset
}

// FilterDigits returns a dataset with only the images of the given digits
func (d *ImageFolderDataset) FilterDigits(digits []int) *ImageFolderDataset {
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

// Split splits the dataset into train and validation sets. A non-zero seed
// shuffles before splitting.
func (d *ImageFolderDataset) Split(trainRatio float64, seed int64) (*ImageFolderDataset, *ImageFolderDataset) {
	n := len(d.imagePaths)
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
func (d *ImageFolderDataset) String() string {
	var sb strings.Builder
	dist := d.ClassDistribution()
	fmt.Fprintf(&sb, "ImageFolderDataset: %d images, %d digits\n", len(d.imagePaths), len(dist))
	sb.WriteString("Digit distribution:\n")

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
