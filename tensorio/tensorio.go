// Package tensorio reads and writes float32 tensors as ONNX TensorProto
// messages, so kernel inputs and outputs can be exchanged with ONNX tooling.
package tensorio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"

	"go.uber.org/multierr"
	"google.golang.org/protobuf/encoding/protowire"
)

// TensorProto field numbers and the FLOAT data type, as in onnx.proto.
const (
	fieldDims      protowire.Number = 1
	fieldDataType  protowire.Number = 2
	fieldFloatData protowire.Number = 4
	fieldName      protowire.Number = 8
	fieldRawData   protowire.Number = 9

	dataTypeFloat = 1
)

// Tensor is a named float32 tensor.
type Tensor struct {
	Name string
	Dims []int64
	Data []float32
}

// Vector returns a one-dimensional tensor over data.
func Vector(name string, data []float32) Tensor {
	return Tensor{Name: name, Dims: []int64{int64(len(data))}, Data: data}
}

// Encode serializes t. Data is written as packed float_data.
func Encode(t Tensor) []byte {
	var b []byte
	for _, d := range t.Dims {
		b = protowire.AppendTag(b, fieldDims, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(d))
	}
	b = protowire.AppendTag(b, fieldDataType, protowire.VarintType)
	b = protowire.AppendVarint(b, dataTypeFloat)

	if len(t.Data) > 0 {
		packed := make([]byte, 0, 4*len(t.Data))
		for _, v := range t.Data {
			packed = protowire.AppendFixed32(packed, math.Float32bits(v))
		}
		b = protowire.AppendTag(b, fieldFloatData, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}

	if t.Name != "" {
		b = protowire.AppendTag(b, fieldName, protowire.BytesType)
		b = protowire.AppendString(b, t.Name)
	}
	return b
}

// Decode parses a TensorProto. Float values may come from packed or
// unpacked float_data or from little-endian raw_data. Unknown fields are skipped.
func Decode(b []byte) (Tensor, error) {
	var t Tensor
	dataType := uint64(dataTypeFloat)
	var raw []byte

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Tensor{}, fmt.Errorf("tensorio: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldDims && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Tensor{}, fmt.Errorf("tensorio: bad dims: %w", protowire.ParseError(n))
			}
			t.Dims = append(t.Dims, int64(v))
			b = b[n:]
		case num == fieldDims && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Tensor{}, fmt.Errorf("tensorio: bad dims: %w", protowire.ParseError(n))
			}
			for len(packed) > 0 {
				v, m := protowire.ConsumeVarint(packed)
				if m < 0 {
					return Tensor{}, fmt.Errorf("tensorio: bad dims: %w", protowire.ParseError(m))
				}
				t.Dims = append(t.Dims, int64(v))
				packed = packed[m:]
			}
			b = b[n:]
		case num == fieldDataType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Tensor{}, fmt.Errorf("tensorio: bad data_type: %w", protowire.ParseError(n))
			}
			dataType = v
			b = b[n:]
		case num == fieldFloatData && typ == protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return Tensor{}, fmt.Errorf("tensorio: bad float_data: %w", protowire.ParseError(n))
			}
			t.Data = append(t.Data, math.Float32frombits(v))
			b = b[n:]
		case num == fieldFloatData && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Tensor{}, fmt.Errorf("tensorio: bad float_data: %w", protowire.ParseError(n))
			}
			if len(packed)%4 != 0 {
				return Tensor{}, errors.New("tensorio: packed float_data is not a multiple of 4 bytes")
			}
			for i := 0; i < len(packed); i += 4 {
				t.Data = append(t.Data, math.Float32frombits(binary.LittleEndian.Uint32(packed[i:])))
			}
			b = b[n:]
		case num == fieldName && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return Tensor{}, fmt.Errorf("tensorio: bad name: %w", protowire.ParseError(n))
			}
			t.Name = s
			b = b[n:]
		case num == fieldRawData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Tensor{}, fmt.Errorf("tensorio: bad raw_data: %w", protowire.ParseError(n))
			}
			raw = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Tensor{}, fmt.Errorf("tensorio: bad field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	if dataType != dataTypeFloat {
		return Tensor{}, fmt.Errorf("tensorio: unsupported data type %d, only FLOAT is supported", dataType)
	}

	if raw != nil {
		if len(t.Data) > 0 {
			return Tensor{}, errors.New("tensorio: tensor has both float_data and raw_data")
		}
		if len(raw)%4 != 0 {
			return Tensor{}, errors.New("tensorio: raw_data is not a multiple of 4 bytes")
		}
		t.Data = make([]float32, len(raw)/4)
		for i := range t.Data {
			t.Data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
		}
	}

	if len(t.Dims) == 0 {
		t.Dims = []int64{int64(len(t.Data))}
	}
	got, err := elements(t.Dims)
	if err != nil {
		return Tensor{}, fmt.Errorf("tensorio: dims %v: %w", t.Dims, err)
	}
	if got != int64(len(t.Data)) {
		return Tensor{}, fmt.Errorf("tensorio: dims %v describe %d elements, found %d", t.Dims, got, len(t.Data))
	}
	return t, nil
}

// elements returns the product of dims, failing on a negative dimension or
// a product that does not fit in an int64.
func elements(dims []int64) (int64, error) {
	n := int64(1)
	for _, d := range dims {
		if d < 0 {
			return 0, fmt.Errorf("negative dimension %d", d)
		}
		if d != 0 && n > math.MaxInt64/d {
			return 0, errors.New("element count overflows int64")
		}
		n *= d
	}
	return n, nil
}

// ReadFile decodes the tensor stored at path.
func ReadFile(path string) (Tensor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Tensor{}, err
	}
	t, err := Decode(data)
	if err != nil {
		return Tensor{}, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// WriteFile encodes t to path, replacing any existing file.
func WriteFile(path string, t Tensor) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, f.Close())
	}()

	_, err = f.Write(Encode(t))
	return err
}
