// Package config provides the configuration shared by the metalkernel programs.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	golog "github.com/ipfs/go-log/v2"
)

// Base configuration.
type Base struct {
	LogLevel string
	// LogLevels overrides LogLevel per subsystem, e.g. "dispatch=debug,server=warn".
	LogLevels string
}

func (c Base) Default() Base {
	return Base{
		LogLevel: "info",
	}
}

// BindFlags binds the flags to the given FlagSet.
func (c *Base) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log verbosity debug | info | warning | error")
	fs.StringVar(&c.LogLevels, "log-levels", c.LogLevels, "Per-subsystem log levels as subsystem=level pairs separated by commas")
}

// SubsystemLevels parses LogLevels into subsystem names and levels.
func (c Base) SubsystemLevels() (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(c.LogLevels, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		sub, level, ok := strings.Cut(pair, "=")
		sub, level = strings.TrimSpace(sub), strings.TrimSpace(level)
		if !ok || sub == "" {
			return nil, fmt.Errorf("log-levels: want subsystem=level, got %q", pair)
		}
		if _, err := golog.LevelFromString(level); err != nil {
			return nil, fmt.Errorf("log-levels: subsystem %s: %w", sub, err)
		}
		out[sub] = level
	}
	return out, nil
}

// Validate checks the log levels.
func (c Base) Validate() error {
	if _, err := golog.LevelFromString(c.LogLevel); err != nil {
		return fmt.Errorf("log-level %q: %w", c.LogLevel, err)
	}
	_, err := c.SubsystemLevels()
	return err
}

// Dispatch configures the kernel dispatcher.
type Dispatch struct {
	// ThreadgroupSize is the largest number of work-items per threadgroup.
	ThreadgroupSize int
	// CachePipelines keeps compiled pipelines for the life of the process
	// instead of recompiling the shader on every call.
	CachePipelines bool
	// ShaderFile replaces the embedded kernel source when set.
	ShaderFile string
}

func (c Dispatch) Default() Dispatch {
	return Dispatch{
		ThreadgroupSize: 256,
		CachePipelines:  true,
	}
}

// BindFlags binds the flags to the given FlagSet.
func (c *Dispatch) BindFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.ThreadgroupSize, "dispatch.threadgroup-size", c.ThreadgroupSize, "Maximum work-items per threadgroup")
	fs.BoolVar(&c.CachePipelines, "dispatch.cache-pipelines", c.CachePipelines, "Reuse compiled pipelines across calls")
	fs.StringVar(&c.ShaderFile, "dispatch.shader-file", c.ShaderFile, "Path to an MSL file to use instead of the built-in kernels")
}

// Validate reports configuration values the dispatcher cannot work with.
func (c Dispatch) Validate() error {
	if c.ThreadgroupSize <= 0 {
		return fmt.Errorf("dispatch.threadgroup-size must be positive, got %d", c.ThreadgroupSize)
	}
	return nil
}

// LoadShader returns the contents of ShaderFile, or "" when it is not set.
func (c Dispatch) LoadShader() (string, error) {
	if c.ShaderFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.ShaderFile)
	if err != nil {
		return "", fmt.Errorf("failed to read shader file: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", fmt.Errorf("shader file %s is empty", c.ShaderFile)
	}
	return string(data), nil
}

// HTTP configuration.
type HTTP struct {
	Port int
	// MaxOutputLength caps output_length in run requests.
	MaxOutputLength int
}

func (c HTTP) Default() HTTP {
	return HTTP{
		Port:            55100,
		MaxOutputLength: 1 << 24,
	}
}

// BindFlags binds the flags to the given FlagSet.
func (c *HTTP) BindFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.Port, "http.port", c.Port, "Port for the HTTP server when serving")
	fs.IntVar(&c.MaxOutputLength, "http.max-output-length", c.MaxOutputLength, "Largest output_length accepted by the HTTP API")
}

// Validate checks the HTTP settings.
func (c HTTP) Validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port out of range: %d", c.Port))
	}
	if c.MaxOutputLength <= 0 {
		errs = append(errs, fmt.Errorf("http.max-output-length must be positive, got %d", c.MaxOutputLength))
	}
	return errors.Join(errs...)
}

// Config for the metalkernel programs. When adding or removing fields,
// adjust the Default() and BindFlags() accordingly.
type Config struct {
	Base

	Dispatch Dispatch
	HTTP     HTTP
}

// BindFlags configures the given FlagSet with the existing values from the given Config
// and prepares the FlagSet to parse the flags into the Config.
func (c *Config) BindFlags(fs *flag.FlagSet) {
	c.Base.BindFlags(fs)
	c.Dispatch.BindFlags(fs)
	c.HTTP.BindFlags(fs)
}

// Validate checks every section.
func (c Config) Validate() error {
	return errors.Join(
		c.Base.Validate(),
		c.Dispatch.Validate(),
		c.HTTP.Validate(),
	)
}

// Default creates a new default config.
func Default() Config {
	return Config{
		Base:     Base{}.Default(),
		Dispatch: Dispatch{}.Default(),
		HTTP:     HTTP{}.Default(),
	}
}
