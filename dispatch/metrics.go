package dispatch

import (
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tsawler/metalkernel/kernels"
)

// otherKernel labels runs of names that are neither built in nor defined by
// the loaded shader, so callers cannot grow the label set.
const otherKernel = "other"

var (
	mDispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "metalkernel_dispatch_total",
		Help: "Kernel dispatches by kernel name and result.",
	}, []string{"kernel", "result"})

	mDispatchSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "metalkernel_dispatch_duration_seconds",
		Help:    "Wall time of a kernel dispatch, including device and pipeline setup.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	}, []string{"kernel"})

	mDispatchElements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "metalkernel_dispatch_elements_total",
		Help: "Output elements produced by successful dispatches.",
	}, []string{"kernel"})

	mPipelineCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "metalkernel_pipeline_cache_total",
		Help: "Pipeline cache lookups by result (hit, miss).",
	}, []string{"result"})
)

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return CodeText(Code(err))
}

// kernelLabel is name when it is a built-in kernel or resolved to a pipeline.
func kernelLabel(name string, resolved bool) string {
	if resolved || slices.Contains(kernels.Names(), name) {
		return name
	}
	return otherKernel
}
