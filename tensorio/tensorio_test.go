package tensorio

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestEncodeDecode(t *testing.T) {
	in := Tensor{Name: "x", Dims: []int64{2, 3}, Data: []float32{1, -2, 3.5, 0, 1e-3, -7}}

	out, err := Decode(Encode(in))
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestVector(t *testing.T) {
	v := Vector("input", []float32{1, 2, 3})
	require.Equal(t, []int64{3}, v.Dims)

	out, err := Decode(Encode(v))
	require.NoError(t, err)
	require.Equal(t, v, out)
}

func TestDecodeEmptyTensor(t *testing.T) {
	out, err := Decode(Encode(Vector("", nil)))
	require.NoError(t, err)
	require.Empty(t, out.Data)
	require.Equal(t, []int64{0}, out.Dims)
}

func TestDecodeUnpackedFloatData(t *testing.T) {
	var b []byte
	for _, v := range []float32{4, 9} {
		b = protowire.AppendTag(b, fieldFloatData, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(v))
	}

	out, err := Decode(b)
	require.NoError(t, err)
	require.Equal(t, []float32{4, 9}, out.Data)
	require.Equal(t, []int64{2}, out.Dims, "dims default to a vector")
}

func TestDecodeRawData(t *testing.T) {
	raw := make([]byte, 0, 8)
	raw = binary.LittleEndian.AppendUint32(raw, math.Float32bits(1.5))
	raw = binary.LittleEndian.AppendUint32(raw, math.Float32bits(-2))

	var b []byte
	b = protowire.AppendTag(b, fieldDims, protowire.VarintType)
	b = protowire.AppendVarint(b, 2)
	b = protowire.AppendTag(b, fieldRawData, protowire.BytesType)
	b = protowire.AppendBytes(b, raw)
	// An unknown field must be skipped.
	b = protowire.AppendTag(b, 12, protowire.BytesType)
	b = protowire.AppendString(b, "doc")

	out, err := Decode(b)
	require.NoError(t, err)
	require.Equal(t, []float32{1.5, -2}, out.Data)
}

func TestDecodeErrors(t *testing.T) {
	t.Run("non-float data type", func(t *testing.T) {
		var b []byte
		b = protowire.AppendTag(b, fieldDataType, protowire.VarintType)
		b = protowire.AppendVarint(b, 7) // INT64
		_, err := Decode(b)
		require.ErrorContains(t, err, "unsupported data type 7")
	})

	t.Run("dims disagree with data", func(t *testing.T) {
		_, err := Decode(Encode(Tensor{Dims: []int64{4}, Data: []float32{1, 2}}))
		require.ErrorContains(t, err, "describe 4 elements")
	})

	t.Run("negative dim", func(t *testing.T) {
		_, err := Decode(Encode(Tensor{Dims: []int64{-1, -2}, Data: []float32{1, 2}}))
		require.ErrorContains(t, err, "negative dimension")
	})

	t.Run("dims overflow", func(t *testing.T) {
		// 2^32 * 2^32 wraps to 0 in int64 and would match an empty tensor.
		_, err := Decode(Encode(Tensor{Dims: []int64{1 << 32, 1 << 32}}))
		require.ErrorContains(t, err, "overflows")

		_, err = Decode(Encode(Tensor{Dims: []int64{1 << 62, 4, 0}}))
		require.ErrorContains(t, err, "overflows")
	})

	t.Run("truncated", func(t *testing.T) {
		b := Encode(Vector("", []float32{1, 2, 3}))
		_, err := Decode(b[:len(b)-3])
		require.Error(t, err)
	})

	t.Run("ragged raw data", func(t *testing.T) {
		var b []byte
		b = protowire.AppendTag(b, fieldRawData, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte{1, 2, 3})
		_, err := Decode(b)
		require.ErrorContains(t, err, "multiple of 4")
	})
}

func TestElements(t *testing.T) {
	n, err := elements([]int64{2, 3, 4})
	require.NoError(t, err)
	require.Equal(t, int64(24), n)

	n, err = elements([]int64{0, 1 << 62, 1 << 62})
	require.NoError(t, err, "a zero dimension stops the product")
	require.Zero(t, n)

	n, err = elements([]int64{math.MaxInt64})
	require.NoError(t, err)
	require.Equal(t, int64(math.MaxInt64), n)

	_, err = elements([]int64{math.MaxInt64, 2})
	require.Error(t, err)
}

func TestFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.pb")
	in := Vector("y", []float32{1, 8, 27})

	require.NoError(t, WriteFile(path, in))
	out, err := ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, in, out)

	require.NoError(t, os.WriteFile(path, []byte{0xff}, 0o644))
	_, err = ReadFile(path)
	require.ErrorContains(t, err, path)

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.pb"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
