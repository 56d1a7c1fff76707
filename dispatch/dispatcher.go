// Package dispatch runs element-wise compute kernels on the system default
// Metal device and returns their output to the caller.
//
// Every Run acquires the device, builds (or reuses) the pipeline, allocates
// one shared input and one shared output buffer, encodes a single dispatch,
// and blocks until the GPU is done. Failures are returned as *Error values
// whose Kind can be matched with errors.Is.
package dispatch

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/tsawler/metalkernel/config"
	"github.com/tsawler/metalkernel/kernels"
	"github.com/tsawler/metalkernel/metal_bridge"
	"go.uber.org/zap"
)

// Dispatcher runs named kernels from one MSL source. It is safe for
// concurrent use; concurrent calls only share the pipeline cache.
type Dispatcher struct {
	cfg    config.Dispatch
	log    *zap.Logger
	source string
	cache  *pipelineCache
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithSource replaces the built-in kernel source.
func WithSource(source string) Option {
	return func(d *Dispatcher) {
		if source != "" {
			d.source = source
		}
	}
}

// New creates a Dispatcher. A nil logger discards all output.
func New(cfg config.Dispatch, log *zap.Logger, opts ...Option) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}

	d := &Dispatcher{
		cfg:    cfg,
		log:    log,
		source: kernels.Source(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if cfg.CachePipelines {
		d.cache = newPipelineCache()
	}
	return d, nil
}

// Square returns input[i]*input[i] for every element.
func (d *Dispatcher) Square(ctx context.Context, input []float32) ([]float32, error) {
	return d.Run(ctx, kernels.Square, input, len(input))
}

// Cube returns input[i]*input[i]*input[i] for every element.
func (d *Dispatcher) Cube(ctx context.Context, input []float32) ([]float32, error) {
	return d.Run(ctx, kernels.Cube, input, len(input))
}

// Run dispatches kernelName over input and returns exactly outputLength
// elements. Output indices past the end of input see a zero input.
//
// The wait for the GPU has no deadline of its own. If ctx is done first Run
// returns ctx.Err() and the in-flight work is left to finish in the
// background; its resources are released once it does.
func (d *Dispatcher) Run(ctx context.Context, kernelName string, input []float32, outputLength int) (out []float32, err error) {
	start := time.Now()
	resolved := false
	defer func() {
		label := kernelLabel(kernelName, resolved)
		mDispatchTotal.WithLabelValues(label, resultLabel(err)).Inc()
		if err == nil {
			mDispatchSeconds.WithLabelValues(label).Observe(time.Since(start).Seconds())
			mDispatchElements.WithLabelValues(label).Add(float64(len(out)))
		}
	}()

	if outputLength < 0 || uint64(outputLength) > math.MaxUint32 {
		return nil, newError(ErrInvalidArgument, kernelName, fmt.Errorf("output length %d out of range", outputLength))
	}
	if uint64(len(input)) > math.MaxUint32 {
		return nil, newError(ErrInvalidArgument, kernelName, fmt.Errorf("input length %d out of range", len(input)))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rel releaser
	handedOff := false
	defer func() {
		if !handedOff {
			rel.run()
		}
	}()

	device := metal_bridge.CreateSystemDefaultDevice()
	if device == nil {
		return nil, newError(ErrDeviceUnavailable, kernelName, nil)
	}
	rel.add(device.Release)

	log := d.log.With(zap.String("kernel", kernelName))
	log.Debug("DeviceAcquired", zap.String("device", device.Name()))

	pipeline, err := d.pipeline(device, kernelName, &rel)
	if err != nil {
		log.Debug("PipelineFailed", zap.Error(err))
		return nil, err
	}
	resolved = true

	if outputLength == 0 {
		return []float32{}, nil
	}

	queue := device.NewCommandQueue()
	if queue == nil {
		return nil, newError(ErrResourceAllocation, kernelName, errors.New("failed to create command queue"))
	}
	rel.add(queue.Release)

	// Metal rejects zero-length buffers, so an empty input still gets one element of storage.
	data := input
	if len(data) == 0 {
		data = []float32{0}
	}
	inBuf, err := device.CreateBufferWithBytes(data, metal_bridge.ResourceStorageModeShared)
	if err != nil {
		return nil, newError(ErrResourceAllocation, kernelName, fmt.Errorf("input buffer: %w", err))
	}
	rel.add(inBuf.Release)

	outBuf, err := device.CreateBufferWithLength(uintptr(outputLength)*4, metal_bridge.ResourceStorageModeShared)
	if err != nil {
		return nil, newError(ErrResourceAllocation, kernelName, fmt.Errorf("output buffer: %w", err))
	}
	rel.add(outBuf.Release)

	commandBuffer := queue.CommandBuffer()
	if commandBuffer == nil {
		return nil, newError(ErrResourceAllocation, kernelName, errors.New("failed to create command buffer"))
	}
	rel.add(commandBuffer.Release)

	encoder := commandBuffer.ComputeCommandEncoder()
	if encoder == nil {
		return nil, newError(ErrResourceAllocation, kernelName, errors.New("failed to create compute encoder"))
	}

	grid, group := gridFor(uint(outputLength), uint(d.cfg.ThreadgroupSize), pipeline.MaxTotalThreadsPerThreadgroup())

	encoder.SetComputePipelineState(pipeline)
	encoder.SetBuffer(inBuf, 0, kernels.InputSlot)
	encoder.SetBuffer(outBuf, 0, kernels.OutputSlot)
	encoder.SetBytes(encodeParams(len(input), outputLength), kernels.ParamsSlot)
	encoder.DispatchThreads(grid, group)
	encoder.EndEncoding()

	log.Debug("DispatchCommitted",
		zap.Int("input", len(input)),
		zap.Int("output", outputLength),
		zap.Uint("grid", grid.Width),
		zap.Uint("threadgroup", group.Width),
	)

	commandBuffer.Commit()

	done := make(chan struct{})
	go func() {
		commandBuffer.WaitUntilCompleted()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		handedOff = true
		go func() {
			<-done
			rel.run()
		}()
		log.Debug("DispatchAbandoned", zap.Error(ctx.Err()))
		return nil, ctx.Err()
	}

	if err := commandBuffer.Err(); err != nil {
		return nil, newError(ErrExecution, kernelName, err)
	}

	out = make([]float32, outputLength)
	if _, err := outBuf.ReadFloat32(out); err != nil {
		return nil, newError(ErrExecution, kernelName, fmt.Errorf("read back: %w", err))
	}

	log.Debug("DispatchCompleted", zap.Duration("took", time.Since(start)))
	return out, nil
}

// pipeline returns a compute pipeline for kernelName on device. Uncached
// pipelines are registered with rel so they die with the invocation.
func (d *Dispatcher) pipeline(device *metal_bridge.Device, kernelName string, rel *releaser) (*metal_bridge.ComputePipelineState, error) {
	build := func() (*metal_bridge.ComputePipelineState, error) {
		return d.buildPipeline(device, kernelName)
	}

	if d.cache == nil {
		ps, err := build()
		if err != nil {
			return nil, err
		}
		rel.add(ps.Release)
		return ps, nil
	}

	return d.cache.get(pipelineKey{device: device.RegistryID(), kernel: kernelName}, build)
}

func (d *Dispatcher) buildPipeline(device *metal_bridge.Device, kernelName string) (*metal_bridge.ComputePipelineState, error) {
	library, err := device.CreateLibraryWithSource(d.source)
	if err != nil {
		return nil, newError(ErrShaderCompile, kernelName, err)
	}
	defer library.Release()

	function, err := library.GetFunction(kernelName)
	if err != nil {
		return nil, newError(ErrKernelNotFound, kernelName, nil)
	}
	defer function.Release()

	ps, err := device.NewComputePipelineStateWithFunction(function)
	if err != nil {
		return nil, newError(ErrPipelineCreation, kernelName, err)
	}

	d.log.Debug("PipelineBuilt",
		zap.String("kernel", kernelName),
		zap.Uint("maxThreadsPerThreadgroup", ps.MaxTotalThreadsPerThreadgroup()),
	)
	return ps, nil
}

// CachedPipelines reports how many pipelines are held by the cache.
func (d *Dispatcher) CachedPipelines() int {
	if d.cache == nil {
		return 0
	}
	return d.cache.len()
}

// Close releases cached pipelines. It must not be called while Run is in progress.
func (d *Dispatcher) Close() error {
	if d.cache != nil {
		d.cache.purge()
	}
	return nil
}

// encodeParams lays out the kernels' parameter block: two little-endian uint32s.
func encodeParams(inputLength, outputLength int) []byte {
	b := make([]byte, 0, 8)
	b = binary.LittleEndian.AppendUint32(b, uint32(inputLength))
	b = binary.LittleEndian.AppendUint32(b, uint32(outputLength))
	return b
}

// releaser runs release functions in reverse order of registration.
type releaser []func()

func (r *releaser) add(fn func()) {
	*r = append(*r, fn)
}

func (r *releaser) run() {
	for i := len(*r) - 1; i >= 0; i-- {
		(*r)[i]()
	}
	*r = nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
