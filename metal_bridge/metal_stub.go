//go:build !darwin || !cgo

package metal_bridge

// Stub implementation when Metal is not available. CreateSystemDefaultDevice
// always returns nil, so the remaining methods are never reached through a
// valid device; they still fail cleanly if called.

var (
	ResourceStorageModeShared  ResourceOptions = 0
	ResourceStorageModeManaged ResourceOptions = 1 << 4
	ResourceStorageModePrivate ResourceOptions = 2 << 4
)

func IsAvailable() bool { return false }

type Device struct{}

func CreateSystemDefaultDevice() *Device { return nil }

func (d *Device) Name() string       { return "" }
func (d *Device) RegistryID() uint64 { return 0 }
func (d *Device) Release()           {}

type CommandQueue struct{}

func (d *Device) NewCommandQueue() *CommandQueue { return nil }
func (q *CommandQueue) Release()                 {}

type Buffer struct {
	length uintptr
}

func (d *Device) CreateBufferWithBytes(data []float32, options ResourceOptions) (*Buffer, error) {
	return nil, ErrUnavailable
}

func (d *Device) CreateBufferWithLength(length uintptr, options ResourceOptions) (*Buffer, error) {
	return nil, ErrUnavailable
}

func (b *Buffer) Length() uintptr { return b.length }

func (b *Buffer) ReadFloat32(dst []float32) (int, error) {
	if len(dst) == 0 {
		return 0, nil
	}
	return 0, ErrUnavailable
}

func (b *Buffer) Release() {}

type Library struct{}

func (d *Device) CreateLibraryWithSource(source string) (*Library, error) {
	return nil, ErrUnavailable
}

func (l *Library) Release() {}

type Function struct {
	name string
}

func (l *Library) GetFunction(functionName string) (*Function, error) {
	return nil, ErrUnavailable
}

func (f *Function) Name() string { return f.name }
func (f *Function) Release()     {}

// ComputePipelineState is not zero-sized, so distinct values have distinct addresses.
type ComputePipelineState struct {
	_ byte
}

func (d *Device) NewComputePipelineStateWithFunction(function *Function) (*ComputePipelineState, error) {
	return nil, ErrUnavailable
}

func (p *ComputePipelineState) MaxTotalThreadsPerThreadgroup() uint { return 0 }
func (p *ComputePipelineState) Release()                            {}

type CommandBuffer struct{}

func (q *CommandQueue) CommandBuffer() *CommandBuffer { return nil }

type ComputeCommandEncoder struct{}

func (cb *CommandBuffer) ComputeCommandEncoder() *ComputeCommandEncoder { return nil }

func (e *ComputeCommandEncoder) SetComputePipelineState(pipelineState *ComputePipelineState) {}
func (e *ComputeCommandEncoder) SetBuffer(buffer *Buffer, offset, index uint)               {}
func (e *ComputeCommandEncoder) SetBytes(data []byte, index uint)                           {}
func (e *ComputeCommandEncoder) DispatchThreads(gridSize, threadgroupSize MTLSize)          {}
func (e *ComputeCommandEncoder) EndEncoding()                                               {}

func (cb *CommandBuffer) Commit()                     {}
func (cb *CommandBuffer) WaitUntilCompleted()         {}
func (cb *CommandBuffer) Status() CommandBufferStatus { return CommandBufferStatusError }
func (cb *CommandBuffer) Err() error                  { return ErrUnavailable }
func (cb *CommandBuffer) Release()                    {}
