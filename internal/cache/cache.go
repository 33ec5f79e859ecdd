package cache

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"sync"
)

// HiddenCache defines a generic interface for caching encoded hidden
// states keyed by input content.
type HiddenCache interface {
	// Get retrieves a hidden-state vector from the cache.
	Get(key uint64) ([]float32, bool)
	// Put stores a hidden-state vector in the cache.
	Put(key uint64, hidden []float32)
	// Size returns the number of items in the cache.
	Size() int
}

// Key hashes a flattened sequence together with its step/feature dims.
func Key(seq []float32, steps, features int) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[0:], uint32(steps))
	binary.LittleEndian.PutUint32(buf[4:], uint32(features))
	h.Write(buf[:])
	for _, v := range seq {
		binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(v))
		h.Write(buf[:4])
	}
	return h.Sum64()
}

// MapCache is a simple in-memory implementation of HiddenCache.
type MapCache struct {
	data map[uint64][]float32
	mu   sync.RWMutex
}

func NewMapCache() *MapCache {
	return &MapCache{
		data: make(map[uint64][]float32),
	}
}

func (c *MapCache) Get(key uint64) ([]float32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Return a copy to keep cached values immutable to callers.
	if v, ok := c.data[key]; ok {
		dst := make([]float32, len(v))
		copy(dst, v)
		return dst, true
	}
	return nil, false
}

func (c *MapCache) Put(key uint64, hidden []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	dst := make([]float32, len(hidden))
	copy(dst, hidden)
	c.data[key] = dst
}

func (c *MapCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
