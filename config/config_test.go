package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/peterbourgon/ff/v4"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, 256, cfg.Dispatch.ThreadgroupSize)
	require.True(t, cfg.Dispatch.CachePipelines)
	require.Equal(t, 1<<24, cfg.HTTP.MaxOutputLength)
	require.NoError(t, cfg.Validate())
}

func TestBindFlags(t *testing.T) {
	cfg := Default()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg.BindFlags(fs)

	err := fs.Parse([]string{
		"-log-level", "debug",
		"-dispatch.threadgroup-size", "64",
		"-dispatch.cache-pipelines=false",
		"-http.port", "8080",
		"-http.max-output-length", "1024",
		"-log-levels", "dispatch=debug",
	})
	require.NoError(t, err)

	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, 64, cfg.Dispatch.ThreadgroupSize)
	require.False(t, cfg.Dispatch.CachePipelines)
	require.Equal(t, 8080, cfg.HTTP.Port)
	require.Equal(t, 1024, cfg.HTTP.MaxOutputLength)
	require.Equal(t, "dispatch=debug", cfg.LogLevels)
}

func TestEnvVars(t *testing.T) {
	t.Setenv("METALKERNEL_DISPATCH_THREADGROUP_SIZE", "128")

	cfg := Default()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg.BindFlags(fs)

	require.NoError(t, ff.Parse(fs, nil, ff.WithEnvVarPrefix("METALKERNEL")))
	require.Equal(t, 128, cfg.Dispatch.ThreadgroupSize)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Dispatch.ThreadgroupSize = 0
	cfg.HTTP.Port = 70000
	cfg.HTTP.MaxOutputLength = 0
	cfg.LogLevel = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "threadgroup-size")
	require.Contains(t, err.Error(), "http.port")
	require.Contains(t, err.Error(), "http.max-output-length")
	require.Contains(t, err.Error(), "log-level")
}

func TestSubsystemLevels(t *testing.T) {
	c := Base{LogLevels: " dispatch=debug, server = warn ,,"}
	levels, err := c.SubsystemLevels()
	require.NoError(t, err)
	require.Equal(t, map[string]string{"dispatch": "debug", "server": "warn"}, levels)

	levels, err = Base{}.SubsystemLevels()
	require.NoError(t, err)
	require.Empty(t, levels)

	for _, bad := range []string{"dispatch", "=debug", "dispatch=loud"} {
		_, err := Base{LogLevels: bad}.SubsystemLevels()
		require.Error(t, err, bad)
		require.Error(t, Base{LogLevel: "info", LogLevels: bad}.Validate(), bad)
	}
}

func TestLoadShader(t *testing.T) {
	var c Dispatch
	src, err := c.LoadShader()
	require.NoError(t, err)
	require.Empty(t, src)

	dir := t.TempDir()
	path := filepath.Join(dir, "k.metal")
	require.NoError(t, os.WriteFile(path, []byte("kernel void k() {}"), 0o644))
	c.ShaderFile = path
	src, err = c.LoadShader()
	require.NoError(t, err)
	require.Equal(t, "kernel void k() {}", src)

	require.NoError(t, os.WriteFile(path, []byte("  \n"), 0o644))
	_, err = c.LoadShader()
	require.Error(t, err)

	c.ShaderFile = filepath.Join(dir, "missing.metal")
	_, err = c.LoadShader()
	require.Error(t, err)
}
