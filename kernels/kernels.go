// Package kernels holds the MSL source for the element-wise kernels and a CPU
// definition of each one.
package kernels

import (
	_ "embed"
	"sort"
)

//go:embed elementwise.metal
var embeddedSource string

// Kernel function names defined by Source.
const (
	Square = "square_kernel"
	Cube   = "cube_kernel"
)

// Argument table slots shared by every kernel in Source.
const (
	InputSlot  = 0
	OutputSlot = 1
	ParamsSlot = 2
)

// Source returns the embedded MSL source.
func Source() string { return embeddedSource }

var reference = map[string]func(float32) float32{
	Square: func(x float32) float32 { return x * x },
	Cube:   func(x float32) float32 { return x * x * x },
}

// Names lists the kernels defined by Source, sorted.
func Names() []string {
	names := make([]string, 0, len(reference))
	for name := range reference {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reference returns the per-element transform of the named kernel.
func Reference(name string) (func(float32) float32, bool) {
	fn, ok := reference[name]
	return fn, ok
}

// Apply computes on the CPU what a dispatch of the named kernel produces:
// outputLength elements, with indices past the end of input reading zero.
func Apply(name string, input []float32, outputLength int) ([]float32, bool) {
	fn, ok := reference[name]
	if !ok || outputLength < 0 {
		return nil, false
	}
	out := make([]float32, outputLength)
	for i := range out {
		var x float32
		if i < len(input) {
			x = input[i]
		}
		out[i] = fn(x)
	}
	return out, true
}
