package metal_bridge

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestCopyFloat32(t *testing.T) {
	src := []float32{1, 2, 3, 4}
	size := uintptr(len(src) * float32Size)

	t.Run("copies the requested prefix", func(t *testing.T) {
		dst := make([]float32, 3)
		n, err := copyFloat32(dst, unsafe.Pointer(&src[0]), size)
		require.NoError(t, err)
		require.Equal(t, 3, n)
		require.Equal(t, []float32{1, 2, 3}, dst)
	})

	t.Run("rejects a destination larger than the buffer", func(t *testing.T) {
		dst := []float32{9, 9, 9, 9, 9}
		n, err := copyFloat32(dst, unsafe.Pointer(&src[0]), size)
		require.Error(t, err)
		require.Zero(t, n)
		require.Equal(t, []float32{9, 9, 9, 9, 9}, dst, "nothing may be written on failure")
	})

	t.Run("empty destination is a no-op", func(t *testing.T) {
		n, err := copyFloat32(nil, nil, 0)
		require.NoError(t, err)
		require.Zero(t, n)
	})

	t.Run("nil contents", func(t *testing.T) {
		_, err := copyFloat32(make([]float32, 1), nil, 4)
		require.Error(t, err)
	})
}

func TestCommandBufferStatusString(t *testing.T) {
	require.Equal(t, "completed", CommandBufferStatusCompleted.String())
	require.Equal(t, "error", CommandBufferStatusError.String())
	require.Equal(t, "status(42)", CommandBufferStatus(42).String())
}
