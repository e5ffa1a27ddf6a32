package hook

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/convergo/pkg/errors"
	"github.com/openfroyo/convergo/pkg/process"
)

func TestName(t *testing.T) {
	assert.Equal(t, "pre_apt_add", Name("pre", "apt", "add"))
	assert.Equal(t, "post_flatpak_remove", Name("post", "flatpak", "remove"))
}

func TestMissingHookSkipped(t *testing.T) {
	fake := &process.Fake{}
	r := NewRunner(t.TempDir(), fake, nil, nil, zerolog.Nop())

	require.NoError(t, r.Run(context.Background(), PreBuild))
	assert.Empty(t, fake.Requests)
}

func TestHookRunsAndFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, PreBuild)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755))

	fake := &process.Fake{}
	r := NewRunner(dir, fake, nil, nil, zerolog.Nop())
	require.NoError(t, r.Run(context.Background(), PreBuild))
	require.Len(t, fake.Requests, 1)
	assert.Equal(t, path, fake.Requests[0].Command)
	assert.Empty(t, fake.Requests[0].Args)

	fake.Handler = func(process.Request) (*process.Result, error) {
		return &process.Result{ExitCode: 1}, nil
	}
	err := r.Run(context.Background(), PreBuild)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindHookFailed))
}

func TestHookExecutesForReal(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	dir := t.TempDir()
	marker := filepath.Join(dir, "ran")
	script := "#!/bin/sh\ntouch " + marker + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, PostBuild), []byte(script), 0o755))

	r := NewRunner(dir, process.NewExecRunner(zerolog.Nop()), nil, nil, zerolog.Nop())
	require.NoError(t, r.Run(context.Background(), PostBuild))
	assert.FileExists(t, marker)
}
