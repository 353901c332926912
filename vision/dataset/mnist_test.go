package dataset

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

// idxImages encodes one image per label, every pixel set to 10·label
func idxImages(labels []byte) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, []uint32{imagesMagic, uint32(len(labels)), Rows, Cols})
	for _, l := range labels {
		buf.Write(bytes.Repeat([]byte{10 * l}, Pixels))
	}
	return buf.Bytes()
}

func idxLabels(labels []byte) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, []uint32{labelsMagic, uint32(len(labels))})
	buf.Write(labels)
	return buf.Bytes()
}

func writeMNIST(t *testing.T, labels []byte, gz bool) string {
	t.Helper()
	dir := t.TempDir()
	write := func(name string, data []byte) {
		if gz {
			var buf bytes.Buffer
			zw := gzip.NewWriter(&buf)
			zw.Write(data)
			zw.Close()
			name += ".gz"
			data = buf.Bytes()
		}
		if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	write(TrainImagesFile, idxImages(labels))
	write(TrainLabelsFile, idxLabels(labels))
	return dir
}

func TestLoadMNIST(t *testing.T) {
	labels := []byte{1, 7, 1, 3, 1, 7}

	for _, gz := range []bool{false, true} {
		name := "plain"
		if gz {
			name = "gzip"
		}
		t.Run(name, func(t *testing.T) {
			d, err := LoadMNIST(writeMNIST(t, labels, gz), LoadOptions{})
			if err != nil {
				t.Fatalf("LoadMNIST failed: %v", err)
			}
			if d.Len() != 6 {
				t.Fatalf("Len() = %d, expected 6", d.Len())
			}
			image, label, err := d.Get(1)
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if label != 7 || !reflect.DeepEqual(image.Size(), []int{28, 28, 1}) {
				t.Errorf("Get(1) = shape %v label %d", image.Size(), label)
			}
			if want := float32(70) / 255; image.Data[0] != want || image.Data[Pixels-1] != want {
				t.Errorf("pixel = %v, expected %v", image.Data[0], want)
			}
		})
	}

	t.Run("digit filter and limit", func(t *testing.T) {
		d, err := LoadMNIST(writeMNIST(t, labels, false), LoadOptions{Digits: []int{1}, MaxSamples: 2})
		if err != nil {
			t.Fatalf("LoadMNIST failed: %v", err)
		}
		if !reflect.DeepEqual(d.Labels(), []int{1, 1}) {
			t.Errorf("labels = %v, expected [1 1]", d.Labels())
		}
		images, err := d.Images()
		if err != nil {
			t.Fatalf("Images failed: %v", err)
		}
		if !reflect.DeepEqual(images.Size(), []int{2, 28, 28, 1}) {
			t.Errorf("Images shape = %v", images.Size())
		}
	})

	t.Run("no matching digits", func(t *testing.T) {
		if _, err := LoadMNIST(writeMNIST(t, labels, false), LoadOptions{Digits: []int{9}}); err == nil {
			t.Error("expected error when no image matches")
		}
	})

	t.Run("missing files", func(t *testing.T) {
		if _, err := LoadMNIST(t.TempDir(), LoadOptions{}); err == nil {
			t.Error("expected error for empty directory")
		}
		if _, err := LoadMNIST(writeMNIST(t, labels, false), LoadOptions{Test: true}); err == nil {
			t.Error("expected error for missing test split")
		}
	})
}

func TestReadIDXErrors(t *testing.T) {
	cases := []struct {
		name string
		read func([]byte) error
		data []byte
		want string
	}{
		{"image magic", readImages, idxLabels(make([]byte, 16)), "magic"},
		{"label magic", readLabels, idxImages([]byte{1}), "magic"},
		{"truncated images", readImages, idxImages([]byte{1, 2})[:100], "image data"},
		{"truncated labels", readLabels, idxLabels([]byte{1, 2})[:9], "label data"},
		{"short header", readLabels, []byte{0, 0}, "label header"},
		{"label range", readLabels, idxLabels([]byte{12}), "out of range"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.read(tc.data)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error = %v, expected mention of %q", err, tc.want)
			}
		})
	}

	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, []uint32{imagesMagic, 1, 32, 32})
	if _, err := ReadIDXImages(&buf); err == nil {
		t.Error("expected error for 32x32 images")
	}
}

func readImages(b []byte) error {
	_, err := ReadIDXImages(bytes.NewReader(b))
	return err
}

func readLabels(b []byte) error {
	_, err := ReadIDXLabels(bytes.NewReader(b))
	return err
}

func TestMNISTDatasetOperations(t *testing.T) {
	pixels, _ := ReadIDXImages(bytes.NewReader(idxImages([]byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9})))
	d, err := NewMNISTDataset(pixels, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9})
	if err != nil {
		t.Fatalf("NewMNISTDataset failed: %v", err)
	}

	train, val := d.Split(0.8, 3)
	if train.Len() != 8 || val.Len() != 2 {
		t.Errorf("split sizes %d/%d, expected 8/2", train.Len(), val.Len())
	}
	seen := map[int]bool{}
	for _, part := range []*MNISTDataset{train, val} {
		for i := 0; i < part.Len(); i++ {
			image, label, _ := part.Get(i)
			if image.Data[0] != float32(10*label)/255 {
				t.Errorf("image and label %d out of step after split", label)
			}
			seen[label] = true
		}
	}
	if len(seen) != 10 {
		t.Errorf("split lost items: %v", seen)
	}

	odd := d.FilterDigits([]int{1, 3, 5})
	if !reflect.DeepEqual(odd.Labels(), []int{1, 3, 5}) {
		t.Errorf("FilterDigits labels = %v", odd.Labels())
	}
	if dist := odd.ClassDistribution(); dist[3] != 1 || len(dist) != 3 {
		t.Errorf("ClassDistribution = %v", dist)
	}
	if s := odd.String(); !strings.Contains(s, "MNISTDataset: 3 images") || !strings.Contains(s, "  5: 1 images") {
		t.Errorf("String() = %q", s)
	}

	if _, _, err := d.Get(10); err == nil {
		t.Error("expected error for out of range index")
	}
	if _, err := NewMNISTDataset(make([]float32, Pixels+1), nil); err == nil {
		t.Error("expected error for partial image")
	}
	if _, err := NewMNISTDataset(make([]float32, Pixels), []int{1, 2}); err == nil {
		t.Error("expected error for label count mismatch")
	}
}
