package native

import (
	"encoding/binary"
	"hash"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// layoutCache shares bind group layouts between pipelines. Techniques with
// the same material resources reuse one layout object.
//
// layoutCache is safe for concurrent use. It uses RWMutex with
// double-check locking for efficient reads and safe writes.
type layoutCache struct {
	mu      sync.RWMutex
	layouts map[uint64]hal.BindGroupLayout

	hits   atomic.Uint64
	misses atomic.Uint64
}

func newLayoutCache() *layoutCache {
	return &layoutCache{layouts: make(map[uint64]hal.BindGroupLayout)}
}

// getOrCreate returns the layout for entries, creating it on device on the
// first request.
func (c *layoutCache) getOrCreate(device hal.Device, label string, entries []gputypes.BindGroupLayoutEntry) (hal.BindGroupLayout, error) {
	key := hashLayoutEntries(entries)

	// Fast path: read lock
	c.mu.RLock()
	if l, ok := c.layouts[key]; ok {
		c.mu.RUnlock()
		c.hits.Add(1)
		return l, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.layouts[key]; ok {
		c.hits.Add(1)
		return l, nil
	}

	l, err := device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{Label: label, Entries: entries})
	if err != nil {
		return nil, err
	}
	c.layouts[key] = l
	c.misses.Add(1)
	return l, nil
}

func (c *layoutCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.layouts)
}

// destroyAll releases every cached layout and empties the cache.
func (c *layoutCache) destroyAll(device hal.Device) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, l := range c.layouts {
		device.DestroyBindGroupLayout(l)
	}
	c.layouts = make(map[uint64]hal.BindGroupLayout)
}

// hashLayoutEntries hashes every field of entries that affects the layout.
func hashLayoutEntries(entries []gputypes.BindGroupLayoutEntry) uint64 {
	h := fnv.New64a()
	//nolint:gosec // G115: binding count is bounded by device limits
	hashWriteUint32(h, uint32(len(entries)))
	for i := range entries {
		e := &entries[i]
		hashWriteUint32(h, e.Binding)
		hashWriteUint32(h, uint32(e.Visibility))
		switch {
		case e.Buffer != nil:
			hashWriteUint32(h, 1)
			hashWriteUint32(h, uint32(e.Buffer.Type))
			hashWriteBool(h, e.Buffer.HasDynamicOffset)
			hashWriteUint64(h, e.Buffer.MinBindingSize)
		case e.Texture != nil:
			hashWriteUint32(h, 2)
			hashWriteUint32(h, uint32(e.Texture.SampleType))
			hashWriteUint32(h, uint32(e.Texture.ViewDimension))
			hashWriteBool(h, e.Texture.Multisampled)
		case e.Sampler != nil:
			hashWriteUint32(h, 3)
			hashWriteUint32(h, uint32(e.Sampler.Type))
		default:
			hashWriteUint32(h, 0)
		}
	}
	return h.Sum64()
}

func hashWriteUint32(h hash.Hash64, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, _ = h.Write(buf[:])
}

func hashWriteUint64(h hash.Hash64, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, _ = h.Write(buf[:])
}

func hashWriteBool(h hash.Hash64, v bool) {
	if v {
		_, _ = h.Write([]byte{1})
	} else {
		_, _ = h.Write([]byte{0})
	}
}
