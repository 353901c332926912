package training

import (
	"reflect"
	"sort"
	"testing"

	"github.com/tsawler/go-vae/tensor"
)

// indexDataset stores its index as the value of every pixel
func indexDataset(t *testing.T, n int) *TensorDataset {
	t.Helper()
	images := tensor.MustZeros(n, 28, 28, 1)
	for i := 0; i < n; i++ {
		for j := 0; j < 784; j++ {
			images.Data[i*784+j] = float32(i)
		}
	}
	ds, err := NewTensorDataset(images, nil)
	if err != nil {
		t.Fatalf("NewTensorDataset failed: %v", err)
	}
	return ds
}

func TestTensorDataset(t *testing.T) {
	t.Run("get returns a view", func(t *testing.T) {
		ds := indexDataset(t, 3)
		if ds.Len() != 3 {
			t.Fatalf("Len() = %d, expected 3", ds.Len())
		}
		image, label, err := ds.Get(2)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !reflect.DeepEqual(image.Size(), []int{28, 28, 1}) {
			t.Errorf("image shape = %v", image.Size())
		}
		if image.Data[0] != 2 || label != -1 {
			t.Errorf("got pixel %v label %d, expected 2 and -1", image.Data[0], label)
		}
	})

	t.Run("labels", func(t *testing.T) {
		ds, err := NewTensorDataset(tensor.MustZeros(2, 28, 28, 1), []int{4, 9})
		if err != nil {
			t.Fatalf("NewTensorDataset failed: %v", err)
		}
		if _, label, _ := ds.Get(1); label != 9 {
			t.Errorf("label = %d, expected 9", label)
		}
	})

	t.Run("errors", func(t *testing.T) {
		if _, err := NewTensorDataset(tensor.MustZeros(784), nil); err == nil {
			t.Error("expected error for tensor without batch dimension")
		}
		if _, err := NewTensorDataset(tensor.MustZeros(2, 28, 28, 1), []int{1}); err == nil {
			t.Error("expected error for label count mismatch")
		}
		ds := indexDataset(t, 2)
		for _, idx := range []int{-1, 2} {
			if _, _, err := ds.Get(idx); err == nil {
				t.Errorf("expected error for index %d", idx)
			}
		}
	})
}

func TestDataLoaderDropsRemainder(t *testing.T) {
	loader, err := NewDataLoader(indexDataset(t, 10), 4, false, 0)
	if err != nil {
		t.Fatalf("NewDataLoader failed: %v", err)
	}
	if loader.Len() != 2 {
		t.Errorf("Len() = %d, expected 2", loader.Len())
	}

	loader.Reset()
	var seen []int
	for loader.HasNext() {
		batch, err := loader.Next()
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if !reflect.DeepEqual(batch.Data.Size(), []int{4, 28, 28, 1}) {
			t.Errorf("batch shape = %v", batch.Data.Size())
		}
		for i, idx := range batch.Indices {
			if got := batch.Data.Data[i*784]; got != float32(idx) {
				t.Errorf("batch item %d holds sample %v, expected %d", i, got, idx)
			}
		}
		seen = append(seen, batch.Indices...)
	}
	if !reflect.DeepEqual(seen, []int{0, 1, 2, 3, 4, 5, 6, 7}) {
		t.Errorf("unshuffled order = %v", seen)
	}

	batch, err := loader.Next()
	if batch != nil || err != nil {
		t.Errorf("Next after the last full batch = %v, %v", batch, err)
	}
}

func TestDataLoaderShuffle(t *testing.T) {
	loader, err := NewDataLoader(indexDataset(t, 16), 16, true, 5)
	if err != nil {
		t.Fatalf("NewDataLoader failed: %v", err)
	}

	epoch := func() []int {
		loader.Reset()
		batch, err := loader.Next()
		if err != nil || batch == nil {
			t.Fatalf("Next failed: %v", err)
		}
		return batch.Indices
	}

	first, second := epoch(), epoch()
	if reflect.DeepEqual(first, second) {
		t.Error("two epochs produced the same order")
	}
	sorted := append([]int(nil), first...)
	sort.Ints(sorted)
	for i, idx := range sorted {
		if idx != i {
			t.Fatalf("epoch is not a permutation: %v", first)
		}
	}

	again, err := NewDataLoader(indexDataset(t, 16), 16, true, 5)
	if err != nil {
		t.Fatalf("NewDataLoader failed: %v", err)
	}
	again.Reset()
	batch, _ := again.Next()
	if !reflect.DeepEqual(batch.Indices, first) {
		t.Error("same seed produced a different order")
	}
}

func TestDataLoaderValidation(t *testing.T) {
	if _, err := NewDataLoader(indexDataset(t, 2), 0, false, 0); err == nil {
		t.Error("expected error for zero batch size")
	}
}

func TestSubsetDataset(t *testing.T) {
	ds := indexDataset(t, 5)

	sub, err := NewSubsetDataset(ds, 3)
	if err != nil {
		t.Fatalf("NewSubsetDataset failed: %v", err)
	}
	if sub.Len() != 3 {
		t.Errorf("Len() = %d, expected 3", sub.Len())
	}
	image, _, err := sub.Get(2)
	if err != nil || image.Data[0] != 2 {
		t.Errorf("Get(2) = %v, %v", image, err)
	}
	if _, _, err := sub.Get(3); err == nil {
		t.Error("expected error past the subset limit")
	}

	whole, err := NewSubsetDataset(ds, 50)
	if err != nil || whole.Len() != 5 {
		t.Errorf("oversized limit gave Len() = %d, err %v", whole.Len(), err)
	}
	if _, err := NewSubsetDataset(ds, -1); err == nil {
		t.Error("expected error for negative limit")
	}
}
