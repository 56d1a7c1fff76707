//go:build darwin && cgo

package metal_bridge

/*
#cgo LDFLAGS: -framework Metal -framework Foundation -framework CoreFoundation
#include "metal_bridge.h"
*/
import "C"
import (
	"errors"
	"fmt"
	"runtime"
	"unsafe"
)

// Resource storage mode constants
var (
	ResourceStorageModeShared  = ResourceOptions(C.MTLResourceStorageModeShared_Const)
	ResourceStorageModeManaged = ResourceOptions(C.MTLResourceStorageModeManaged_Const)
	ResourceStorageModePrivate = ResourceOptions(C.MTLResourceStorageModePrivate_Const)
)

// takeCString converts a malloc'd C string into a Go string and frees it.
func takeCString(s *C.char) string {
	if s == nil {
		return ""
	}
	defer C.free(unsafe.Pointer(s))
	return C.GoString(s)
}

// IsAvailable reports whether the host has a Metal device.
func IsAvailable() bool {
	d := CreateSystemDefaultDevice()
	if d == nil {
		return false
	}
	d.Release()
	return true
}

// Wrapper struct for MTLDevice
type Device struct {
	c_device C.MTLDeviceRef
}

// CreateSystemDefaultDevice returns the system default GPU or nil when there is none.
func CreateSystemDefaultDevice() *Device {
	c_dev := C.CreateSystemDefaultDevice()
	if c_dev == nil {
		return nil
	}
	dev := &Device{c_device: c_dev}
	runtime.SetFinalizer(dev, (*Device).Release)
	return dev
}

func (d *Device) Name() string {
	return takeCString(C.CopyDeviceName(d.c_device))
}

// RegistryID identifies the GPU across the whole system.
func (d *Device) RegistryID() uint64 {
	return uint64(C.GetDeviceRegistryID(d.c_device))
}

func (d *Device) Release() {
	if d == nil || d.c_device == nil {
		return
	}
	C.ReleaseMetalObject(unsafe.Pointer(d.c_device))
	d.c_device = nil
	runtime.SetFinalizer(d, nil)
}

// Wrapper struct for MTLCommandQueue
type CommandQueue struct {
	c_queue C.MTLCommandQueueRef
}

func (d *Device) NewCommandQueue() *CommandQueue {
	c_q := C.CreateCommandQueue(d.c_device)
	if c_q == nil {
		return nil
	}
	q := &CommandQueue{c_queue: c_q}
	runtime.SetFinalizer(q, (*CommandQueue).Release)
	return q
}

func (q *CommandQueue) Release() {
	if q == nil || q.c_queue == nil {
		return
	}
	C.ReleaseMetalObject(unsafe.Pointer(q.c_queue))
	q.c_queue = nil
	runtime.SetFinalizer(q, nil)
}

// Wrapper struct for MTLBuffer
type Buffer struct {
	c_buffer C.MTLBufferRef
	length   uintptr // Length in bytes
}

func newBuffer(c_buf C.MTLBufferRef, length uintptr) *Buffer {
	buf := &Buffer{c_buffer: c_buf, length: length}
	runtime.SetFinalizer(buf, (*Buffer).Release)
	return buf
}

// CreateBufferWithBytes allocates a buffer and copies data into it.
func (d *Device) CreateBufferWithBytes(data []float32, options ResourceOptions) (*Buffer, error) {
	if len(data) == 0 {
		return nil, errors.New("data slice cannot be empty")
	}
	byteLength := uintptr(len(data) * float32Size)
	// newBufferWithBytes copies, so data need not outlive this call.
	c_buf := C.CreateBufferWithBytes(d.c_device, unsafe.Pointer(&data[0]), C.size_t(byteLength), C.ulong(options))
	runtime.KeepAlive(data)
	if c_buf == nil {
		return nil, fmt.Errorf("failed to create Metal buffer of %d bytes", byteLength)
	}
	return newBuffer(c_buf, byteLength), nil
}

// CreateBufferWithLength allocates a zero-filled buffer of length bytes.
func (d *Device) CreateBufferWithLength(length uintptr, options ResourceOptions) (*Buffer, error) {
	if length == 0 {
		return nil, errors.New("buffer length cannot be zero")
	}
	c_buf := C.CreateBufferWithLength(d.c_device, C.size_t(length), C.ulong(options))
	if c_buf == nil {
		return nil, fmt.Errorf("failed to create Metal buffer of %d bytes", length)
	}
	return newBuffer(c_buf, length), nil
}

func (b *Buffer) Length() uintptr {
	return uintptr(C.GetBufferLength(b.c_buffer))
}

// ReadFloat32 copies len(dst) floats from the start of the buffer into dst.
// It fails without copying anything if the buffer is smaller than dst.
func (b *Buffer) ReadFloat32(dst []float32) (int, error) {
	if b.c_buffer == nil {
		return 0, errors.New("metal: read from released buffer")
	}
	return copyFloat32(dst, C.GetBufferContents(b.c_buffer), b.Length())
}

func (b *Buffer) Release() {
	if b == nil || b.c_buffer == nil {
		return
	}
	C.ReleaseMetalObject(unsafe.Pointer(b.c_buffer))
	b.c_buffer = nil
	runtime.SetFinalizer(b, nil)
}

// Wrapper struct for MTLLibrary
type Library struct {
	c_library C.MTLLibraryRef
}

// CreateLibraryWithSource compiles MSL source. The error carries the compiler output.
func (d *Device) CreateLibraryWithSource(source string) (*Library, error) {
	cSource := C.CString(source)
	defer C.free(unsafe.Pointer(cSource))

	var cErr *C.char
	c_lib := C.CreateLibraryWithSource(d.c_device, cSource, &cErr)
	msg := takeCString(cErr)
	if c_lib == nil {
		if msg == "" {
			msg = "unknown compiler error"
		}
		return nil, fmt.Errorf("failed to create Metal library: %s", msg)
	}
	lib := &Library{c_library: c_lib}
	runtime.SetFinalizer(lib, (*Library).Release)
	return lib, nil
}

func (l *Library) Release() {
	if l == nil || l.c_library == nil {
		return
	}
	C.ReleaseMetalObject(unsafe.Pointer(l.c_library))
	l.c_library = nil
	runtime.SetFinalizer(l, nil)
}

// Wrapper struct for MTLFunction
type Function struct {
	c_function C.MTLFunctionRef
	name       string
}

func (l *Library) GetFunction(functionName string) (*Function, error) {
	cFunctionName := C.CString(functionName)
	defer C.free(unsafe.Pointer(cFunctionName))

	c_func := C.GetFunction(l.c_library, cFunctionName)
	if c_func == nil {
		return nil, fmt.Errorf("failed to get function '%s' from library", functionName)
	}
	function := &Function{c_function: c_func, name: functionName}
	runtime.SetFinalizer(function, (*Function).Release)
	return function, nil
}

func (f *Function) Name() string { return f.name }

func (f *Function) Release() {
	if f == nil || f.c_function == nil {
		return
	}
	C.ReleaseMetalObject(unsafe.Pointer(f.c_function))
	f.c_function = nil
	runtime.SetFinalizer(f, nil)
}

// Wrapper for MTLComputePipelineState
type ComputePipelineState struct {
	c_pipelineState C.MTLComputePipelineStateRef
}

func (d *Device) NewComputePipelineStateWithFunction(function *Function) (*ComputePipelineState, error) {
	var cErr *C.char
	c_ps := C.CreateComputePipelineStateWithFunction(d.c_device, function.c_function, &cErr)
	msg := takeCString(cErr)
	if c_ps == nil {
		if msg == "" {
			msg = "unknown error"
		}
		return nil, fmt.Errorf("failed to create compute pipeline state for %s: %s", function.name, msg)
	}
	ps := &ComputePipelineState{c_pipelineState: c_ps}
	runtime.SetFinalizer(ps, (*ComputePipelineState).Release)
	return ps, nil
}

func (p *ComputePipelineState) MaxTotalThreadsPerThreadgroup() uint {
	return uint(C.GetMaxTotalThreadsPerThreadgroup(p.c_pipelineState))
}

func (p *ComputePipelineState) Release() {
	if p == nil || p.c_pipelineState == nil {
		return
	}
	C.ReleaseMetalObject(unsafe.Pointer(p.c_pipelineState))
	p.c_pipelineState = nil
	runtime.SetFinalizer(p, nil)
}

// Wrapper for MTLCommandBuffer
type CommandBuffer struct {
	c_commandBuffer C.MTLCommandBufferRef
}

func (q *CommandQueue) CommandBuffer() *CommandBuffer {
	c_cb := C.CreateCommandBuffer(q.c_queue)
	if c_cb == nil {
		return nil
	}
	cb := &CommandBuffer{c_commandBuffer: c_cb}
	runtime.SetFinalizer(cb, (*CommandBuffer).Release)
	return cb
}

// Wrapper for MTLComputeCommandEncoder
type ComputeCommandEncoder struct {
	c_encoder C.MTLComputeCommandEncoderRef
}

func (cb *CommandBuffer) ComputeCommandEncoder() *ComputeCommandEncoder {
	c_encoder := C.CreateComputeCommandEncoder(cb.c_commandBuffer)
	if c_encoder == nil {
		return nil
	}
	encoder := &ComputeCommandEncoder{c_encoder: c_encoder}
	runtime.SetFinalizer(encoder, (*ComputeCommandEncoder).release)
	return encoder
}

func (e *ComputeCommandEncoder) SetComputePipelineState(pipelineState *ComputePipelineState) {
	C.SetComputePipelineState(e.c_encoder, pipelineState.c_pipelineState)
}

func (e *ComputeCommandEncoder) SetBuffer(buffer *Buffer, offset, index uint) {
	C.SetBuffer(e.c_encoder, buffer.c_buffer, C.size_t(offset), C.size_t(index))
}

// SetBytes copies a small constant block into the argument table at index.
func (e *ComputeCommandEncoder) SetBytes(data []byte, index uint) {
	if len(data) == 0 {
		return
	}
	C.SetBytes(e.c_encoder, unsafe.Pointer(&data[0]), C.size_t(len(data)), C.size_t(index))
	runtime.KeepAlive(data)
}

func (e *ComputeCommandEncoder) DispatchThreads(gridSize, threadgroupSize MTLSize) {
	C.DispatchThreads(e.c_encoder,
		C.size_t(gridSize.Width), C.size_t(gridSize.Height), C.size_t(gridSize.Depth),
		C.size_t(threadgroupSize.Width), C.size_t(threadgroupSize.Height), C.size_t(threadgroupSize.Depth))
}

// EndEncoding finishes recording and drops the encoder.
func (e *ComputeCommandEncoder) EndEncoding() {
	C.EndEncoding(e.c_encoder)
	e.release()
}

func (e *ComputeCommandEncoder) release() {
	if e == nil || e.c_encoder == nil {
		return
	}
	C.ReleaseMetalObject(unsafe.Pointer(e.c_encoder))
	e.c_encoder = nil
	runtime.SetFinalizer(e, nil)
}

func (cb *CommandBuffer) Commit() {
	C.CommitCommandBuffer(cb.c_commandBuffer)
}

// WaitUntilCompleted blocks until the GPU has finished. There is no timeout.
func (cb *CommandBuffer) WaitUntilCompleted() {
	C.WaitUntilCommandBufferCompleted(cb.c_commandBuffer)
}

func (cb *CommandBuffer) Status() CommandBufferStatus {
	return CommandBufferStatus(C.GetCommandBufferStatus(cb.c_commandBuffer))
}

// Err returns the GPU-side execution error, if any.
func (cb *CommandBuffer) Err() error {
	if cb.Status() != CommandBufferStatusError {
		return nil
	}
	msg := takeCString(C.CopyCommandBufferError(cb.c_commandBuffer))
	if msg == "" {
		msg = "command buffer failed"
	}
	return errors.New(msg)
}

func (cb *CommandBuffer) Release() {
	if cb == nil || cb.c_commandBuffer == nil {
		return
	}
	C.ReleaseMetalObject(unsafe.Pointer(cb.c_commandBuffer))
	cb.c_commandBuffer = nil
	runtime.SetFinalizer(cb, nil)
}
