// Package server exposes kernel dispatch over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tsawler/metalkernel/config"
	"github.com/tsawler/metalkernel/dispatch"
	"go.uber.org/zap"
)

// maxBodyBytes bounds a request body.
const maxBodyBytes = 64 << 20

var (
	mRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "metalkernel_http_requests_total",
		Help: "HTTP requests by handler, status code and method.",
	}, []string{"handler", "code", "method"})

	mDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "metalkernel_http_request_duration_seconds",
		Help:    "HTTP request latency by handler.",
		Buckets: prometheus.DefBuckets,
	}, []string{"handler", "code", "method"})
)

// instrument records request metrics for h under the given handler name.
func instrument(name string, h http.HandlerFunc) http.Handler {
	labels := prometheus.Labels{"handler": name}
	return promhttp.InstrumentHandlerDuration(mDuration.MustCurryWith(labels),
		promhttp.InstrumentHandlerCounter(mRequests.MustCurryWith(labels), h))
}

// Runner runs a named kernel. *dispatch.Dispatcher implements it.
type Runner interface {
	Run(ctx context.Context, kernelName string, input []float32, outputLength int) ([]float32, error)
}

// RunRequest is the body of POST /v1/kernels/{name}.
type RunRequest struct {
	Input []float32 `json:"input"`
	// OutputLength defaults to len(Input) when omitted.
	OutputLength *int `json:"output_length,omitempty"`
}

// RunResponse is the reply to a successful run.
type RunResponse struct {
	Kernel string    `json:"kernel"`
	Output []float32 `json:"output"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

type handler struct {
	runner          Runner
	kernels         []string
	maxOutputLength int
	log             *zap.Logger
}

// NewHandler returns the HTTP routes for runner. kernels is what
// GET /v1/kernels reports. Run requests asking for more than
// cfg.MaxOutputLength elements, explicitly or through the input length,
// are rejected.
func NewHandler(runner Runner, kernels []string, cfg config.HTTP, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &handler{runner: runner, kernels: kernels, maxOutputLength: cfg.MaxOutputLength, log: log}

	r := mux.NewRouter()
	r.Handle("/v1/kernels", instrument("listKernels", h.listKernels)).Methods(http.MethodGet)
	r.Handle("/v1/kernels/{name}", instrument("runKernel", h.runKernel)).Methods(http.MethodPost)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

func (h *handler) listKernels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"kernels": h.kernels})
}

func (h *handler) runKernel(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var req RunRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error(), Code: dispatch.CodeInvalidArgument})
		return
	}

	n := len(req.Input)
	if req.OutputLength != nil {
		n = *req.OutputLength
	}
	if n > h.maxOutputLength {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: fmt.Sprintf("output length %d exceeds the limit of %d", n, h.maxOutputLength),
			Code:  dispatch.CodeInvalidArgument,
		})
		return
	}

	out, err := h.runner.Run(r.Context(), name, req.Input, n)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.log.Warn("KernelRunFailed", zap.String("kernel", name), zap.Error(err))
		}
		writeJSON(w, status, errorResponse{Error: err.Error(), Code: dispatch.Code(err)})
		return
	}

	writeJSON(w, http.StatusOK, RunResponse{Kernel: name, Output: out})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, dispatch.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, dispatch.ErrKernelNotFound):
		return http.StatusNotFound
	case errors.Is(err, dispatch.ErrDeviceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
