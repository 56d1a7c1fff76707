// Program libmetalkernel builds the kernels as a C shared library:
//
//	go build -buildmode=c-shared -o libmetalkernel.dylib ./app/libmetalkernel
//
// Every entry point returns a status code, zero on success. The caller owns
// both buffers. Output is written only on success.
package main

/*
#include <stddef.h>
#include <stdlib.h>
*/
import "C"

import (
	"sync"
	"unsafe"

	"github.com/tsawler/metalkernel/dispatch"
	"github.com/tsawler/metalkernel/kernels"
)

var (
	messagesOnce sync.Once
	messages     = map[int]*C.char{}
)

//export square_numbers
func square_numbers(input *C.float, n C.size_t, output *C.float) C.int {
	return C.int(runKernel(kernels.Square, floats(input, n), floats(output, n), n > 0 && (input == nil || output == nil)))
}

//export cube_numbers
func cube_numbers(input *C.float, n C.size_t, output *C.float) C.int {
	return C.int(runKernel(kernels.Cube, floats(input, n), floats(output, n), n > 0 && (input == nil || output == nil)))
}

//export run_kernel
func run_kernel(name *C.char, input *C.float, inputLength C.size_t, output *C.float, outputLength C.size_t) C.int {
	if name == nil {
		return C.int(dispatch.CodeInvalidArgument)
	}
	null := (inputLength > 0 && input == nil) || (outputLength > 0 && output == nil)
	return C.int(runKernel(C.GoString(name), floats(input, inputLength), floats(output, outputLength), null))
}

// metalkernel_strerror describes a status code. The returned string is
// static and must not be freed.
//
//export metalkernel_strerror
func metalkernel_strerror(code C.int) *C.char {
	messagesOnce.Do(func() {
		for c := dispatch.CodeOK; c <= dispatch.CodeUnknown; c++ {
			messages[c] = C.CString(dispatch.CodeText(c))
		}
	})
	if m, ok := messages[int(code)]; ok {
		return m
	}
	return messages[dispatch.CodeUnknown]
}

func floats(p *C.float, n C.size_t) []float32 {
	if p == nil || n == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(p)), int(n))
}
