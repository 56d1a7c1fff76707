package dispatch

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsawler/metalkernel/metal_bridge"
)

func TestPipelineCacheBuildsOnce(t *testing.T) {
	c := newPipelineCache()
	key := pipelineKey{device: 1, kernel: "square_kernel"}

	var builds atomic.Int32
	release := make(chan struct{})
	build := func() (*metal_bridge.ComputePipelineState, error) {
		builds.Add(1)
		<-release
		return &metal_bridge.ComputePipelineState{}, nil
	}

	const callers = 8
	results := make([]*metal_bridge.ComputePipelineState, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ps, err := c.get(key, build)
			assert.NoError(t, err)
			results[i] = ps
		}(i)
	}
	close(release)
	wg.Wait()

	// Late callers may miss the singleflight window but must then hit the map.
	ps, err := c.get(key, func() (*metal_bridge.ComputePipelineState, error) {
		t.Fatal("cached pipeline rebuilt")
		return nil, nil
	})
	require.NoError(t, err)

	require.Equal(t, int32(1), builds.Load())
	for _, r := range results {
		require.Same(t, ps, r)
	}
	require.Equal(t, 1, c.len())
}

func TestPipelineCacheKeys(t *testing.T) {
	c := newPipelineCache()
	var builds int
	mk := func() (*metal_bridge.ComputePipelineState, error) {
		builds++
		return &metal_bridge.ComputePipelineState{}, nil
	}

	a, err := c.get(pipelineKey{device: 1, kernel: "square_kernel"}, mk)
	require.NoError(t, err)
	b, err := c.get(pipelineKey{device: 1, kernel: "cube_kernel"}, mk)
	require.NoError(t, err)
	other, err := c.get(pipelineKey{device: 2, kernel: "square_kernel"}, mk)
	require.NoError(t, err)

	require.Equal(t, 3, builds, "each key builds its own pipeline")
	require.NotSame(t, a, b)
	require.NotSame(t, a, other)
	require.Equal(t, 3, c.len())

	again, err := c.get(pipelineKey{device: 1, kernel: "cube_kernel"}, mk)
	require.NoError(t, err)
	require.Same(t, b, again)
	require.Equal(t, 3, builds)

	c.purge()
	require.Zero(t, c.len())
}

func TestPipelineCacheDoesNotCacheFailures(t *testing.T) {
	c := newPipelineCache()
	key := pipelineKey{device: 1, kernel: "missing"}
	boom := newError(ErrKernelNotFound, "missing", nil)

	var builds int
	fail := func() (*metal_bridge.ComputePipelineState, error) {
		builds++
		return nil, boom
	}

	_, err := c.get(key, fail)
	require.True(t, errors.Is(err, ErrKernelNotFound))
	_, err = c.get(key, fail)
	require.ErrorIs(t, err, ErrKernelNotFound)
	require.Equal(t, 2, builds)
	require.Zero(t, c.len())
}

func TestPipelineKeyString(t *testing.T) {
	require.Equal(t, "ff/cube_kernel", pipelineKey{device: 255, kernel: "cube_kernel"}.String())
}
