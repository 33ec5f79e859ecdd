package cache

import (
	"sync"
	"testing"
)

func TestKeyStableAndDistinct(t *testing.T) {
	seq := []float32{0.1, 0.2, 0.3, 0.4, 0.5, 0.6}

	a := Key(seq, 2, 3)
	b := Key(seq, 2, 3)
	if a != b {
		t.Fatalf("same input hashed to %d and %d", a, b)
	}

	// Same flat values, different dims: distinct keys.
	if c := Key(seq, 3, 2); c == a {
		t.Fatal("dims should be part of the key")
	}

	mut := append([]float32(nil), seq...)
	mut[3] = 0.41
	if c := Key(mut, 2, 3); c == a {
		t.Fatal("value change should change the key")
	}
}

func TestMapCachePutGet(t *testing.T) {
	c := NewMapCache()

	if _, ok := c.Get(42); ok {
		t.Fatal("empty cache returned a hit")
	}

	hidden := []float32{1, 2, 3}
	c.Put(42, hidden)

	got, ok := c.Get(42)
	if !ok {
		t.Fatal("expected a hit")
	}
	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Fatalf("got %v", got)
	}
	if c.Size() != 1 {
		t.Fatalf("size = %d, want 1", c.Size())
	}
}

func TestMapCacheIsolation(t *testing.T) {
	c := NewMapCache()
	hidden := []float32{1, 2, 3}
	c.Put(7, hidden)

	// Mutating the caller's slice must not leak into the cache.
	hidden[0] = -1
	got, _ := c.Get(7)
	if got[0] != 1 {
		t.Fatalf("cache stored the caller's slice: got %v", got)
	}

	// Mutating a returned slice must not corrupt the cached value.
	got[1] = -2
	again, _ := c.Get(7)
	if again[1] != 2 {
		t.Fatalf("cache handed out its own storage: got %v", again)
	}
}

func TestMapCacheConcurrent(t *testing.T) {
	c := NewMapCache()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := uint64(n*100 + j)
				c.Put(key, []float32{float32(n), float32(j)})
				if v, ok := c.Get(key); !ok || v[1] != float32(j) {
					t.Errorf("lost key %d", key)
				}
			}
		}(i)
	}
	wg.Wait()

	if c.Size() != 1600 {
		t.Fatalf("size = %d, want 1600", c.Size())
	}
}
