package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/convergo/pkg/errors"
	"github.com/openfroyo/convergo/pkg/generation"
	"github.com/openfroyo/convergo/pkg/manager"
	"github.com/openfroyo/convergo/pkg/paths"
)

func TestDefaultIsValid(t *testing.T) {
	s := Default()
	require.NoError(t, s.Validate())
	assert.Equal(t, "bash", s.Shell)
	assert.Equal(t, DefaultForceUnlockCountdown, s.ForceUnlockCountdown)
	assert.Equal(t, "info", s.Log.Level)
}

func TestLoadMissingFile(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "convergo.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), s)
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
		check   func(t *testing.T, s Settings)
	}{
		{
			name:  "empty document",
			input: "",
			check: func(t *testing.T, s Settings) {
				assert.Equal(t, Default(), s)
			},
		},
		{
			name:  "partial override keeps defaults",
			input: "shell: zsh\nlog:\n  level: debug\n",
			check: func(t *testing.T, s Settings) {
				assert.Equal(t, "zsh", s.Shell)
				assert.Equal(t, "debug", s.Log.Level)
				assert.Equal(t, DefaultForceUnlockCountdown, s.ForceUnlockCountdown)
			},
		},
		{
			name:  "tracing to collector",
			input: "tracing:\n  exporter: otlp\n  endpoint: localhost:4317\n  insecure: true\n",
			check: func(t *testing.T, s Settings) {
				assert.True(t, s.Tracing.Enabled())
				assert.Equal(t, "localhost:4317", s.Tracing.Endpoint)
			},
		},
		{
			name:    "unknown key",
			input:   "shel: zsh\n",
			wantErr: true,
		},
		{
			name:    "bad log level",
			input:   "log:\n  level: loud\n",
			wantErr: true,
		},
		{
			name:    "otlp without endpoint",
			input:   "tracing:\n  exporter: otlp\n",
			wantErr: true,
		},
		{
			name:    "negative countdown",
			input:   "force_unlock_countdown: -1\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Parse([]byte(tt.input), "convergo.yaml")
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsKind(err, errors.KindConfigMalformed))
				return
			}
			require.NoError(t, err)
			tt.check(t, s)
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "DEBUG")
	t.Setenv(EnvShell, "sh")

	s, err := Parse([]byte("shell: zsh\n"), "convergo.yaml")
	require.NoError(t, err)
	assert.Equal(t, "debug", s.Log.Level)
	assert.Equal(t, "sh", s.Shell)
}

func TestEncodeRoundTrip(t *testing.T) {
	data, err := Default().Encode()
	require.NoError(t, err)

	s, err := Parse(data, "convergo.yaml")
	require.NoError(t, err)
	assert.Equal(t, Default(), s)
}

func TestTelemetryConfig(t *testing.T) {
	s := Default()
	s.Log.Format = "json"
	cfg := s.Telemetry("1.2.3")
	assert.Equal(t, "convergo", cfg.ServiceName)
	assert.Equal(t, "1.2.3", cfg.ServiceVersion)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestWriteStarter(t *testing.T) {
	root := t.TempDir()
	p := paths.NewWithRoots(filepath.Join(root, "config"), filepath.Join(root, "state"))

	files, err := WriteStarter(p, "box")
	require.NoError(t, err)
	for _, f := range files {
		assert.True(t, f.Created, f.Path)
		assert.FileExists(t, f.Path)
	}

	// Starter files must load cleanly.
	g, err := generation.ReadFile(p.UserGeneration())
	require.NoError(t, err)
	assert.Equal(t, []string{"base"}, g.Imports)

	_, err = generation.ReadFile(p.MachineGeneration("box"))
	require.NoError(t, err)

	data, err := os.ReadFile(p.Manager("example"))
	require.NoError(t, err)
	decl, err := manager.DecodeDeclaration(data, p.Manager("example"))
	require.NoError(t, err)
	assert.Equal(t, "example", decl.HookName)

	_, err = generation.LoadOrder(p.Order())
	require.NoError(t, err)

	_, err = Load(p.Settings())
	require.NoError(t, err)
}

func TestWriteStarterKeepsExistingFiles(t *testing.T) {
	root := t.TempDir()
	p := paths.NewWithRoots(filepath.Join(root, "config"), filepath.Join(root, "state"))

	require.NoError(t, os.MkdirAll(p.ConfigDir(), 0o755))
	require.NoError(t, os.WriteFile(p.UserGeneration(), []byte("imports = []\n"), 0o644))

	files, err := WriteStarter(p, "")
	require.NoError(t, err)

	for _, f := range files {
		if f.Path == p.UserGeneration() {
			assert.False(t, f.Created)
		}
	}
	data, err := os.ReadFile(p.UserGeneration())
	require.NoError(t, err)
	assert.Equal(t, "imports = []\n", string(data))
}

func TestPresetsDecode(t *testing.T) {
	root := t.TempDir()
	p := paths.NewWithRoots(filepath.Join(root, "config"), filepath.Join(root, "state"))

	for _, name := range Presets() {
		f, err := WritePreset(p, name)
		require.NoError(t, err, name)
		assert.True(t, f.Created)

		data, err := os.ReadFile(f.Path)
		require.NoError(t, err)
		decl, err := manager.DecodeDeclaration(data, f.Path)
		require.NoError(t, err, name)
		assert.Equal(t, name, decl.HookName)
		assert.Contains(t, decl.Add, manager.ItemToken)
		assert.True(t, decl.Config.ManyArgs)
	}

	f, err := WritePreset(p, "apt")
	require.NoError(t, err)
	assert.False(t, f.Created)

	_, err = WritePreset(p, "brew")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindConfigMalformed))
}

func TestDetectPreset(t *testing.T) {
	only := func(bins ...string) func(string) (string, error) {
		return func(name string) (string, error) {
			for _, b := range bins {
				if b == name {
					return "/usr/bin/" + name, nil
				}
			}
			return "", os.ErrNotExist
		}
	}

	name, ok := DetectPreset(only("apt-get"))
	assert.True(t, ok)
	assert.Equal(t, "apt", name)

	name, ok = DetectPreset(only("yum", "dnf"))
	assert.True(t, ok)
	assert.Equal(t, "dnf", name)

	_, ok = DetectPreset(only())
	assert.False(t, ok)
}
