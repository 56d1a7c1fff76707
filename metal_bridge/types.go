// Package metal_bridge is a thin cgo binding over the Metal compute API: one
// Go call per Metal call, no scheduling of its own. On platforms without
// Metal the same API is available but no device can be created.
package metal_bridge

import (
	"errors"
	"fmt"
	"unsafe"
)

// ErrUnavailable is returned by operations that need a Metal device on a
// platform or build without one.
var ErrUnavailable = errors.New("metal: not available on this platform")

// MTLSize is the Go equivalent of MTLSize.
type MTLSize struct {
	Width, Height, Depth uint
}

// ResourceOptions mirrors MTLResourceOptions.
type ResourceOptions uint

// CommandBufferStatus mirrors MTLCommandBufferStatus.
type CommandBufferStatus int

const (
	CommandBufferStatusNotEnqueued CommandBufferStatus = iota
	CommandBufferStatusEnqueued
	CommandBufferStatusCommitted
	CommandBufferStatusScheduled
	CommandBufferStatusCompleted
	CommandBufferStatusError
)

func (s CommandBufferStatus) String() string {
	switch s {
	case CommandBufferStatusNotEnqueued:
		return "not-enqueued"
	case CommandBufferStatusEnqueued:
		return "enqueued"
	case CommandBufferStatusCommitted:
		return "committed"
	case CommandBufferStatusScheduled:
		return "scheduled"
	case CommandBufferStatusCompleted:
		return "completed"
	case CommandBufferStatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

const float32Size = int(unsafe.Sizeof(float32(0)))

// copyFloat32 copies n floats out of a raw shared-memory region of size bytes
// into dst. It refuses to read past the region or write past dst.
func copyFloat32(dst []float32, src unsafe.Pointer, size uintptr) (int, error) {
	if len(dst) == 0 {
		return 0, nil
	}
	if src == nil {
		return 0, errors.New("metal: buffer has no CPU-visible contents")
	}
	need := uintptr(len(dst) * float32Size)
	if need > size {
		return 0, fmt.Errorf("metal: buffer holds %d bytes, destination needs %d", size, need)
	}
	return copy(dst, unsafe.Slice((*float32)(src), len(dst))), nil
}
