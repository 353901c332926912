package training

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/go-vae/tensor"
)

// Dataset interface defines methods that all datasets must implement
type Dataset interface {
	Len() int                                                 // Total number of samples
	Get(idx int) (image *tensor.Tensor, label int, err error) // A single (28, 28, 1) image and its digit
}

// DataLoader provides shuffled, fixed-size batches. A trailing remainder
// smaller than the batch size is never returned.
type DataLoader struct {
	dataset   Dataset
	batchSize int
	shuffle   bool
	rng       *rand.Rand
	indices   []int
	position  int
}

// NewDataLoader creates a new DataLoader. seed drives the per-epoch shuffle.
func NewDataLoader(dataset Dataset, batchSize int, shuffle bool, seed int64) (*DataLoader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}

	indices := make([]int, dataset.Len())
	for i := range indices {
		indices[i] = i
	}

	return &DataLoader{
		dataset:   dataset,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rand.New(rand.NewSource(seed)),
		indices:   indices,
	}, nil
}

// Batch represents a batch of images and their labels
type Batch struct {
	Data    *tensor.Tensor // (B, 28, 28, 1)
	Labels  []int
	Indices []int // dataset indices of the items
}

// Len returns the number of full batches in an epoch
func (dl *DataLoader) Len() int {
	return len(dl.indices) / dl.batchSize
}

// BatchSize returns the number of items per batch
func (dl *DataLoader) BatchSize() int {
	return dl.batchSize
}

// Reset rewinds the loader for a new epoch, reshuffling if enabled
func (dl *DataLoader) Reset() {
	dl.position = 0
	if dl.shuffle {
		dl.rng.Shuffle(len(dl.indices), func(i, j int) {
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		})
	}
}

// HasNext returns true if another full batch remains in the current epoch
func (dl *DataLoader) HasNext() bool {
	return dl.position+dl.batchSize <= len(dl.indices)
}

// Next returns the next batch, or nil once fewer than batchSize items remain
func (dl *DataLoader) Next() (*Batch, error) {
	if !dl.HasNext() {
		return nil, nil // End of epoch
	}

	batchIndices := dl.indices[dl.position : dl.position+dl.batchSize]
	dl.position += dl.batchSize

	batch, err := dl.loadBatch(batchIndices)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch: %w", err)
	}
	return batch, nil
}

// loadBatch loads the samples and stacks them along a new batch dimension
func (dl *DataLoader) loadBatch(indices []int) (*Batch, error) {
	first, _, err := dl.dataset.Get(indices[0])
	if err != nil {
		return nil, fmt.Errorf("failed to load sample %d: %w", indices[0], err)
	}

	dataShape := append([]int{len(indices)}, first.Shape...)
	batchData, err := tensor.Zeros(dataShape...)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch data tensor: %w", err)
	}

	batch := &Batch{
		Data:    batchData,
		Labels:  make([]int, len(indices)),
		Indices: append([]int(nil), indices...),
	}

	itemSize := first.NumElems
	for i, idx := range indices {
		image, label, err := dl.dataset.Get(idx)
		if err != nil {
			return nil, fmt.Errorf("failed to load sample %d: %w", idx, err)
		}
		if err := tensor.CheckShape(image, fmt.Sprintf("sample %d", idx), first.Shape...); err != nil {
			return nil, err
		}
		copy(batchData.Data[i*itemSize:(i+1)*itemSize], image.Data)
		batch.Labels[i] = label
	}
	return batch, nil
}

// TensorDataset is an in-memory dataset over an (N, ...) image tensor
type TensorDataset struct {
	images *tensor.Tensor
	labels []int
}

// NewTensorDataset wraps images. labels may be nil.
func NewTensorDataset(images *tensor.Tensor, labels []int) (*TensorDataset, error) {
	if images.Dim() < 2 {
		return nil, fmt.Errorf("images must have a batch dimension, got shape %v", images.Shape)
	}
	if labels != nil && len(labels) != images.Shape[0] {
		return nil, fmt.Errorf("label count (%d) doesn't match image count (%d)", len(labels), images.Shape[0])
	}
	return &TensorDataset{images: images, labels: labels}, nil
}

func (ds *TensorDataset) Len() int {
	return ds.images.Shape[0]
}

// Get returns a view of image idx
func (ds *TensorDataset) Get(idx int) (*tensor.Tensor, int, error) {
	if idx < 0 || idx >= ds.Len() {
		return nil, 0, fmt.Errorf("index %d out of range [0, %d)", idx, ds.Len())
	}
	rows, err := tensor.Rows(ds.images, idx, idx+1)
	if err != nil {
		return nil, 0, err
	}
	image, err := tensor.Reshape(rows, ds.images.Shape[1:]...)
	if err != nil {
		return nil, 0, err
	}
	label := -1
	if ds.labels != nil {
		label = ds.labels[idx]
	}
	return image, label, nil
}
