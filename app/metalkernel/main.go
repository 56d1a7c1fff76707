// Program metalkernel runs the element-wise Metal kernels from the command line
// or serves them over HTTP.
//
//	metalkernel -kernel square 1 2 3
//	metalkernel -kernel cube -- -1 -2
//	metalkernel -kernel cube -in x.pb -out y.pb
//	metalkernel -serve -http.port 55100
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/burdiyan/go/mainutil"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/tsawler/metalkernel/config"
	"github.com/tsawler/metalkernel/dispatch"
	"github.com/tsawler/metalkernel/kernels"
	"github.com/tsawler/metalkernel/logging"
	"github.com/tsawler/metalkernel/server"
	"github.com/tsawler/metalkernel/tensorio"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const envVarPrefix = "METALKERNEL"

var usage = []string{
	"metalkernel [flags] [values...]",
	"",
	"Values are float32 numbers separated by spaces or commas. An argument",
	`starting with "-" is read as a flag, and a boolean flag takes a following`,
	`0 or 1 as its value, so end the flags with "--" before the values:`,
	`"metalkernel -verify -- -1 2", or use a comma list: "metalkernel 2,-1".`,
}

func main() {
	mainutil.Run(func() error {
		ctx := mainutil.TrapSignals()
		return run(ctx, slices.Clone(os.Args[1:]), os.Stdout)
	})
}

type options struct {
	kernel       string
	in           string
	out          string
	outputLength int
	verify       bool
	serve        bool
}

func (o *options) bindFlags(fs *flag.FlagSet) {
	fs.StringVar(&o.kernel, "kernel", "square", "Kernel to run: square | cube, or a function name from the shader source")
	fs.StringVar(&o.in, "in", "", "Read input from a TensorProto file instead of the arguments")
	fs.StringVar(&o.out, "out", "", "Write output to a TensorProto file instead of stdout")
	fs.IntVar(&o.outputLength, "output-length", -1, "Number of output elements, -1 for the input length")
	fs.BoolVar(&o.verify, "verify", false, "Check the GPU result against the CPU definition of the kernel")
	fs.BoolVar(&o.serve, "serve", false, "Serve the kernels over HTTP instead of running once")
}

// parseArgs parses flags and environment. Positional values are left on fs.
func parseArgs(args []string) (cfg config.Config, opts options, fs *ff.FlagSet, err error) {
	std := flag.NewFlagSet("metalkernel", flag.ContinueOnError)

	cfg = config.Default()
	cfg.BindFlags(std)
	opts.bindFlags(std)

	fs = ff.NewFlagSetFrom(std.Name(), std)
	if err = ff.Parse(fs, args, ff.WithEnvVarPrefix(envVarPrefix)); err != nil {
		return cfg, opts, fs, err
	}

	if opts.outputLength < -1 {
		return cfg, opts, fs, fmt.Errorf("-output-length must be -1 or at least 0, got %d", opts.outputLength)
	}
	if opts.in != "" && len(fs.GetArgs()) > 0 {
		return cfg, opts, fs, errors.New("positional values cannot be combined with -in")
	}
	return cfg, opts, fs, cfg.Validate()
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	cfg, opts, fs, err := parseArgs(args)
	if err != nil {
		if errors.Is(err, ff.ErrHelp) {
			_, err := fmt.Fprintln(stdout, ffhelp.Flags(fs, usage...))
			return err
		}
		return err
	}

	log := logging.New("metalkernel", cfg.LogLevel)
	dispatchLog := logging.New("dispatch", cfg.LogLevel)
	serverLog := logging.New("server", cfg.LogLevel)

	levels, err := cfg.SubsystemLevels()
	if err != nil {
		return err
	}
	for sub, level := range levels {
		if err := logging.SetLogLevel(sub, level); err != nil {
			return fmt.Errorf("log-levels: %s: %w", sub, err)
		}
	}

	source, err := cfg.Dispatch.LoadShader()
	if err != nil {
		return err
	}

	d, err := dispatch.New(cfg.Dispatch, dispatchLog, dispatch.WithSource(source))
	if err != nil {
		return err
	}
	defer d.Close()

	if opts.serve {
		return serve(ctx, cfg.HTTP, d, log, serverLog)
	}

	return runOnce(ctx, d, opts, fs.GetArgs(), stdout)
}

func runOnce(ctx context.Context, d *dispatch.Dispatcher, opts options, args []string, stdout io.Writer) error {
	name := kernelName(opts.kernel)

	var input tensorio.Tensor
	if opts.in != "" {
		t, err := tensorio.ReadFile(opts.in)
		if err != nil {
			return err
		}
		input = t
	} else {
		values, err := parseValues(args)
		if err != nil {
			return err
		}
		input = tensorio.Vector("input", values)
	}

	n := opts.outputLength
	if n < 0 {
		n = len(input.Data)
	}

	out, err := d.Run(ctx, name, input.Data, n)
	if err != nil {
		return err
	}

	if opts.verify {
		if err := verify(name, input.Data, out); err != nil {
			return err
		}
	}

	result := tensorio.Vector("output", out)
	if n == len(input.Data) && len(input.Dims) > 0 {
		result.Dims = input.Dims
	}

	if opts.out != "" {
		return tensorio.WriteFile(opts.out, result)
	}
	_, err = fmt.Fprintln(stdout, formatValues(out))
	return err
}

// kernelName accepts the short names square and cube.
func kernelName(s string) string {
	switch s {
	case "square":
		return kernels.Square
	case "cube":
		return kernels.Cube
	default:
		return s
	}
}

func parseValues(args []string) ([]float32, error) {
	var values []float32
	for _, a := range args {
		for _, f := range strings.FieldsFunc(a, func(r rune) bool { return r == ',' || r == ' ' }) {
			v, err := strconv.ParseFloat(f, 32)
			if err != nil {
				return nil, fmt.Errorf("invalid value %q: %w", f, err)
			}
			values = append(values, float32(v))
		}
	}
	return values, nil
}

func formatValues(values []float32) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatFloat(float64(v), 'g', -1, 32)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func verify(name string, input, out []float32) error {
	want, ok := kernels.Apply(name, input, len(out))
	if !ok {
		return fmt.Errorf("no CPU definition for kernel %s to verify against", name)
	}
	for i := range want {
		diff := math.Abs(float64(want[i] - out[i]))
		if diff > 1e-5*math.Max(1, math.Abs(float64(want[i]))) {
			return fmt.Errorf("verification failed at index %d: got %g, want %g", i, out[i], want[i])
		}
	}
	return nil
}

func serve(ctx context.Context, cfg config.HTTP, d *dispatch.Dispatcher, log, serverLog *zap.Logger) error {
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       20 * time.Second,
		Handler:           server.NewHandler(d, kernels.Names(), cfg, serverLog),
	}

	lis, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}
	log.Info("ServerStarted", zap.String("addr", lis.Addr().String()))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := srv.Serve(lis)
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	log.Info("ServerStopped", zap.Error(err))
	return err
}
