package dispatch

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	// ErrDeviceUnavailable is returned when the host has no Metal device.
	ErrDeviceUnavailable = errors.New("no Metal device available")

	// ErrShaderCompile is returned when the kernel source does not compile.
	ErrShaderCompile = errors.New("shader compilation failed")

	// ErrKernelNotFound is returned when the compiled source has no function with the requested name.
	ErrKernelNotFound = errors.New("kernel not found")

	// ErrPipelineCreation is returned when a compute pipeline cannot be built from the kernel.
	ErrPipelineCreation = errors.New("compute pipeline creation failed")

	// ErrResourceAllocation is returned when a queue, buffer or encoder cannot be created.
	ErrResourceAllocation = errors.New("GPU resource allocation failed")

	// ErrExecution is returned when the GPU reports a failed command buffer.
	ErrExecution = errors.New("kernel execution failed")

	// ErrInvalidArgument is returned for an output length the dispatcher cannot honour.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Error describes a failed dispatch step.
type Error struct {
	// Kind is one of the Err* values above.
	Kind   error
	Kernel string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Kernel != "" {
		msg = fmt.Sprintf("%s: %s", e.Kernel, msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, kernel string, err error) *Error {
	return &Error{Kind: kind, Kernel: kernel, Err: err}
}

// Status codes reported across the C boundary. Zero means success.
const (
	CodeOK = iota
	CodeDeviceUnavailable
	CodeShaderCompile
	CodeKernelNotFound
	CodePipelineCreation
	CodeResourceAllocation
	CodeExecution
	CodeInvalidArgument
	CodeCanceled
	CodeUnknown
)

var codes = []struct {
	kind error
	code int
}{
	{ErrDeviceUnavailable, CodeDeviceUnavailable},
	{ErrShaderCompile, CodeShaderCompile},
	{ErrKernelNotFound, CodeKernelNotFound},
	{ErrPipelineCreation, CodePipelineCreation},
	{ErrResourceAllocation, CodeResourceAllocation},
	{ErrExecution, CodeExecution},
	{ErrInvalidArgument, CodeInvalidArgument},
}

// Code maps an error returned by the dispatcher to a stable status code.
func Code(err error) int {
	if err == nil {
		return CodeOK
	}
	for _, c := range codes {
		if errors.Is(err, c.kind) {
			return c.code
		}
	}
	if isContextErr(err) {
		return CodeCanceled
	}
	return CodeUnknown
}

// CodeText describes a status code.
func CodeText(code int) string {
	switch code {
	case CodeOK:
		return "ok"
	case CodeCanceled:
		return "canceled"
	case CodeUnknown:
		return "unknown error"
	}
	for _, c := range codes {
		if c.code == code {
			return c.kind.Error()
		}
	}
	return fmt.Sprintf("unknown status code %d", code)
}
