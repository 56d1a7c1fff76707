package dispatch

import (
	"github.com/tsawler/metalkernel/metal_bridge"
)

// gridFor returns a one-dimensional grid of exactly n work-items and a
// threadgroup no wider than groupLimit, n, or the pipeline's maximum.
// Both dimensions are at least one so the vendor API never sees a zero size.
func gridFor(n, groupLimit, pipelineMax uint) (grid, group metal_bridge.MTLSize) {
	width := groupLimit
	if n < width {
		width = n
	}
	if pipelineMax > 0 && pipelineMax < width {
		width = pipelineMax
	}
	if width == 0 {
		width = 1
	}
	if n == 0 {
		n = 1
	}
	return metal_bridge.MTLSize{Width: n, Height: 1, Depth: 1},
		metal_bridge.MTLSize{Width: width, Height: 1, Depth: 1}
}
