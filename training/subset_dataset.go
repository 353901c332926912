package training

import (
	"fmt"

	"github.com/tsawler/go-vae/tensor"
)

// SubsetDataset exposes the first limit items of another dataset
type SubsetDataset struct {
	source Dataset
	limit  int
}

// NewSubsetDataset caps source at limit items. A limit above the source
// length exposes the whole source.
func NewSubsetDataset(source Dataset, limit int) (*SubsetDataset, error) {
	if source == nil {
		return nil, fmt.Errorf("subset: nil source dataset")
	}
	if limit < 0 {
		return nil, fmt.Errorf("subset: limit must be non-negative, got %d", limit)
	}
	return &SubsetDataset{source: source, limit: min(limit, source.Len())}, nil
}

func (s *SubsetDataset) Len() int {
	return s.limit
}

func (s *SubsetDataset) Get(idx int) (*tensor.Tensor, int, error) {
	if idx < 0 || idx >= s.limit {
		return nil, 0, fmt.Errorf("subset: index %d out of range [0, %d)", idx, s.limit)
	}
	return s.source.Get(idx)
}
