package dataset

import (
	"fmt"
	"sync"
	"testing"
)

func TestCacheManagerLRU(t *testing.T) {
	cm := NewCacheManager(2)
	cm.Put("a", []float32{1})
	cm.Put("b", []float32{2})

	if _, ok := cm.Get("a"); !ok {
		t.Fatal("expected hit for a")
	}
	cm.Put("c", []float32{3}) // evicts b, the least recently used

	if _, ok := cm.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	if data, ok := cm.Get("c"); !ok || data[0] != 3 {
		t.Errorf("Get(c) = %v, %v", data, ok)
	}

	cm.Put("a", []float32{9})
	if data, _ := cm.Get("a"); data[0] != 9 {
		t.Errorf("updated value = %v, expected 9", data[0])
	}

	stats := cm.Stats()
	if stats.Size != 2 || stats.Hits != 3 || stats.Misses != 1 || stats.HitRate != 75 {
		t.Errorf("stats = %+v", stats)
	}
	if s := stats.String(); s != "Cache: 2/2 items, Hits: 3, Misses: 1, Hit Rate: 75.0%" {
		t.Errorf("String() = %q", s)
	}

	cm.Clear()
	if cm.Stats().Size != 0 || cm.Stats().Hits != 3 {
		t.Errorf("after Clear stats = %+v", cm.Stats())
	}
}

func TestCacheManagerUnbounded(t *testing.T) {
	cm := NewCacheManager(0)
	for i := 0; i < 100; i++ {
		cm.Put(fmt.Sprint(i), nil)
	}
	if cm.Stats().Size != 100 {
		t.Errorf("size = %d, expected 100", cm.Stats().Size)
	}
}

func TestCacheManagerConcurrent(t *testing.T) {
	cm := NewCacheManager(50)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("%d-%d", w, i%70)
				if _, ok := cm.Get(key); !ok {
					cm.Put(key, []float32{float32(i)})
				}
			}
		}(w)
	}
	wg.Wait()
	if size := cm.Stats().Size; size > 50 {
		t.Errorf("cache grew to %d items, limit 50", size)
	}
}
