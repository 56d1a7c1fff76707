package dispatch

import (
	"strconv"
	"sync"

	"github.com/tsawler/metalkernel/metal_bridge"
	"golang.org/x/sync/singleflight"
)

type pipelineKey struct {
	device uint64
	kernel string
}

func (k pipelineKey) String() string {
	return strconv.FormatUint(k.device, 16) + "/" + k.kernel
}

// pipelineCache keeps compiled pipelines keyed by device and kernel name.
// Kernel source never changes during the life of a Dispatcher, so entries
// are never invalidated. Failed builds are not cached.
type pipelineCache struct {
	mu      sync.Mutex
	entries map[pipelineKey]*metal_bridge.ComputePipelineState
	group   singleflight.Group
}

func newPipelineCache() *pipelineCache {
	return &pipelineCache{
		entries: make(map[pipelineKey]*metal_bridge.ComputePipelineState),
	}
}

func (c *pipelineCache) lookup(key pipelineKey) (*metal_bridge.ComputePipelineState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ps, ok := c.entries[key]
	return ps, ok
}

// get returns the cached pipeline for key, calling build at most once across
// concurrent callers when it is missing.
func (c *pipelineCache) get(key pipelineKey, build func() (*metal_bridge.ComputePipelineState, error)) (*metal_bridge.ComputePipelineState, error) {
	if ps, ok := c.lookup(key); ok {
		mPipelineCacheTotal.WithLabelValues("hit").Inc()
		return ps, nil
	}

	v, err, _ := c.group.Do(key.String(), func() (any, error) {
		if ps, ok := c.lookup(key); ok {
			return ps, nil
		}
		mPipelineCacheTotal.WithLabelValues("miss").Inc()
		ps, err := build()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = ps
		c.mu.Unlock()
		return ps, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*metal_bridge.ComputePipelineState), nil
}

func (c *pipelineCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// purge releases every cached pipeline.
func (c *pipelineCache) purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, ps := range c.entries {
		ps.Release()
		delete(c.entries, k)
	}
}
