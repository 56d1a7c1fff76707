package kernels

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSourceDefinesEveryKernel(t *testing.T) {
	src := Source()
	require.NotEmpty(t, src)
	for _, name := range Names() {
		require.True(t, strings.Contains(src, "kernel void "+name+"("), "source is missing %s", name)
	}
}

func TestNames(t *testing.T) {
	require.Equal(t, []string{Cube, Square}, Names())
}

func TestReference(t *testing.T) {
	sq, ok := Reference(Square)
	require.True(t, ok)
	require.Equal(t, float32(16), sq(-4))

	cube, ok := Reference(Cube)
	require.True(t, ok)
	require.Equal(t, float32(-8), cube(-2))

	_, ok = Reference("tanh_kernel")
	require.False(t, ok)
}

func TestApply(t *testing.T) {
	out, ok := Apply(Square, []float32{2, 3, -4}, 3)
	require.True(t, ok)
	require.Equal(t, []float32{4, 9, 16}, out)

	out, ok = Apply(Cube, []float32{1, 2, -1}, 3)
	require.True(t, ok)
	require.Equal(t, []float32{1, 8, -1}, out)

	// Output longer than input reads zero past the end.
	out, ok = Apply(Cube, []float32{2}, 3)
	require.True(t, ok)
	require.Equal(t, []float32{8, 0, 0}, out)

	// Output shorter than input truncates.
	out, ok = Apply(Square, []float32{1, 2, 3}, 2)
	require.True(t, ok)
	require.Equal(t, []float32{1, 4}, out)

	out, ok = Apply(Square, nil, 0)
	require.True(t, ok)
	require.Empty(t, out)

	_, ok = Apply("nope", []float32{1}, 1)
	require.False(t, ok)
	_, ok = Apply(Square, nil, -1)
	require.False(t, ok)
}
