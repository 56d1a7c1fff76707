package main

import (
	"context"
	"flag"
	"sync"

	"github.com/peterbourgon/ff/v4"
	"github.com/tsawler/metalkernel/config"
	"github.com/tsawler/metalkernel/dispatch"
	"github.com/tsawler/metalkernel/logging"
	"go.uber.org/zap"
)

const envVarPrefix = "METALKERNEL"

var (
	loadOnce   sync.Once
	dispatcher *dispatch.Dispatcher
	loadErr    error
	logger     = zap.NewNop()
)

// load creates the shared dispatcher. A host process has no command line of
// ours, so configuration comes from METALKERNEL_* environment variables.
func load() (*dispatch.Dispatcher, error) {
	loadOnce.Do(func() {
		fs := flag.NewFlagSet("libmetalkernel", flag.ContinueOnError)
		cfg := config.Default()
		cfg.BindFlags(fs)

		if loadErr = ff.Parse(fs, nil, ff.WithEnvVarPrefix(envVarPrefix)); loadErr != nil {
			return
		}
		if loadErr = cfg.Validate(); loadErr != nil {
			return
		}

		log := logging.New("libmetalkernel", cfg.LogLevel)
		logger = log

		var source string
		if source, loadErr = cfg.Dispatch.LoadShader(); loadErr != nil {
			return
		}
		dispatcher, loadErr = dispatch.New(cfg.Dispatch, log, dispatch.WithSource(source))
	})
	return dispatcher, loadErr
}

// runKernel runs name over input and copies the result into output,
// whose length is the requested output length. null reports a missing
// buffer on the C side.
func runKernel(name string, input, output []float32, null bool) int {
	if null {
		return dispatch.CodeInvalidArgument
	}
	d, err := load()
	if err != nil {
		return dispatch.CodeInvalidArgument
	}

	out, err := d.Run(context.Background(), name, input, len(output))
	if err != nil {
		logger.Debug("KernelRunFailed", zap.String("kernel", name), zap.Error(err))
		return dispatch.Code(err)
	}
	copy(output, out)
	return dispatch.CodeOK
}

func main() {}
