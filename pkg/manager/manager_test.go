package manager

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

type recordingHooks struct {
	names []string
	fail  string
}

func (h *recordingHooks) Run(_ context.Context, name string) error {
	h.names = append(h.names, name)
	if name == h.fail {
		return errors.New(errors.KindHookFailed, "boom").WithResource(name)
	}
	return nil
}

func testDeclaration() Declaration {
	d := DefaultDeclaration()
	d.Add = "apt install -y #:?"
	d.Remove = "apt remove -y #:?"
	d.List = "apt-mark showmanual"
	d.HookName = "apt"
	d.PluralName = "packages"
	return d
}

func newTestManager(decl Declaration) (*CommandManager, *process.Fake, *recordingHooks) {
	fake := &process.Fake{}
	hooks := &recordingHooks{}
	m := NewCommandManager("apt", decl, Exec{Runner: fake, Hooks: hooks, Shell: "sh", Logger: zerolog.Nop()})
	return m, fake, hooks
}

func TestAddManyArgs(t *testing.T) {
	m, fake, hooks := newTestManager(testDeclaration())

	require.NoError(t, m.Add(context.Background(), []string{"git", "vim", "git"}))

	assert.Equal(t, []string{"apt install -y git vim"}, fake.Commands())
	assert.Equal(t, "sh", fake.Requests[0].Shell)
	assert.Equal(t, []string{"pre_apt_add", "post_apt_add"}, hooks.names)
}

func TestRemoveOnePerItem(t *testing.T) {
	decl := testDeclaration()
	decl.Config.ManyArgs = false
	m, fake, hooks := newTestManager(decl)

	require.NoError(t, m.Remove(context.Background(), []string{"git", "vim"}))

	assert.Equal(t, []string{"apt remove -y git", "apt remove -y vim"}, fake.Commands())
	assert.Equal(t, []string{"pre_apt_remove", "post_apt_remove"}, hooks.names)
}

func TestArgSep(t *testing.T) {
	decl := testDeclaration()
	decl.Add = "installer --items=#:?"
	decl.Config.ArgSep = ","
	m, fake, _ := newTestManager(decl)

	require.NoError(t, m.Add(context.Background(), []string{"a", "b"}))
	assert.Equal(t, []string{"installer --items=a,b"}, fake.Commands())
}

func TestEmptyItemsIsNoop(t *testing.T) {
	m, fake, hooks := newTestManager(testDeclaration())

	require.NoError(t, m.Add(context.Background(), nil))
	require.NoError(t, m.Remove(context.Background(), []string{" ", ""}))

	assert.Empty(t, fake.Requests)
	assert.Empty(t, hooks.names)
}

func TestCommandFailure(t *testing.T) {
	m, fake, hooks := newTestManager(testDeclaration())
	fake.Handler = func(process.Request) (*process.Result, error) {
		return &process.Result{ExitCode: 100}, nil
	}

	err := m.Add(context.Background(), []string{"git"})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindManagerCommandFailed))
	e, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, "apt", e.Resource)
	assert.Equal(t, ActionAdd, e.Op)
	// post hook is not reached
	assert.Equal(t, []string{"pre_apt_add"}, hooks.names)
}

func TestPerItemStopsAtFirstFailure(t *testing.T) {
	decl := testDeclaration()
	decl.Config.ManyArgs = false
	m, fake, _ := newTestManager(decl)
	fake.Handler = func(req process.Request) (*process.Result, error) {
		if req.Command == "apt install -y a" {
			return &process.Result{ExitCode: 1}, nil
		}
		return &process.Result{}, nil
	}

	err := m.Add(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Len(t, fake.Requests, 1)
}

func TestPreHookFailureSkipsCommand(t *testing.T) {
	m, fake, hooks := newTestManager(testDeclaration())
	hooks.fail = "pre_apt_add"

	err := m.Add(context.Background(), []string{"git"})
	assert.True(t, errors.IsKind(err, errors.KindHookFailed))
	assert.Empty(t, fake.Requests)
}

func TestSyncAndUpgrade(t *testing.T) {
	decl := testDeclaration()
	decl.Sync = "apt update"
	m, fake, hooks := newTestManager(decl)

	require.NoError(t, m.Sync(context.Background()))
	require.NoError(t, m.Upgrade(context.Background()))

	assert.Equal(t, []string{"apt update"}, fake.Commands())
	assert.Equal(t, []string{"pre_apt_sync", "post_apt_sync", "pre_apt_upgrade", "post_apt_upgrade"}, hooks.names)
}

func TestListAndOther(t *testing.T) {
	m, fake, _ := newTestManager(testDeclaration())
	fake.Handler = func(process.Request) (*process.Result, error) {
		return &process.Result{Stdout: "git\nvim  htop\n\tcurl\n"}, nil
	}

	items, err := m.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"git", "vim", "htop", "curl"}, items)

	others, err := m.Other(context.Background(), []string{"git", "curl"})
	require.NoError(t, err)
	assert.Equal(t, []string{"vim", "htop"}, others)
}

func TestListRequiresCommand(t *testing.T) {
	decl := testDeclaration()
	decl.List = ""
	m, fake, _ := newTestManager(decl)

	_, err := m.List(context.Background())
	assert.True(t, errors.IsKind(err, errors.KindManagerCommandFailed))

	others, err := m.Other(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, others)
	assert.Empty(t, fake.Requests)
}

func TestListFailure(t *testing.T) {
	m, fake, _ := newTestManager(testDeclaration())
	fake.Handler = func(process.Request) (*process.Result, error) {
		return &process.Result{ExitCode: 2}, nil
	}
	_, err := m.List(context.Background())
	assert.True(t, errors.IsKind(err, errors.KindManagerCommandFailed))
}

func TestDecodeDeclaration(t *testing.T) {
	data := []byte(`
add = "cargo install #:?"
remove = "cargo uninstall #:?"
hook_name = "cargo"
plural_name = "crates"
`)
	d, err := DecodeDeclaration(data, "cargo.toml")
	require.NoError(t, err)
	assert.True(t, d.Config.ManyArgs)
	assert.Equal(t, " ", d.Config.ArgSep)
	assert.Empty(t, d.Sync)

	data = []byte(`
add = "x #:?"
remove = "y #:?"
hook_name = "x"
plural_name = "xs"

[config]
many_args = false
`)
	d, err = DecodeDeclaration(data, "x.toml")
	require.NoError(t, err)
	assert.False(t, d.Config.ManyArgs)
	assert.Equal(t, " ", d.Config.ArgSep)
}

func TestDecodeDeclarationRejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown field", "add = \"a\"\nremove = \"r\"\nhook_name = \"h\"\nplural_name = \"p\"\ninstall = \"x\"\n"},
		{"unsafe hook name", "add = \"a\"\nremove = \"r\"\nhook_name = \"../evil\"\nplural_name = \"p\"\n"},
		{"missing add", "remove = \"r\"\nhook_name = \"h\"\nplural_name = \"p\"\n"},
		{"missing plural", "add = \"a\"\nremove = \"r\"\nhook_name = \"h\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeDeclaration([]byte(tt.data), "m.toml")
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, errors.KindConfigMalformed))
		})
	}
}

func TestFilenameSafe(t *testing.T) {
	assert.True(t, IsFilenameSafe("apt-get_2.x"))
	assert.False(t, IsFilenameSafe("a/b"))
	assert.False(t, IsFilenameSafe(".."))
	assert.False(t, IsFilenameSafe(""))
	assert.Equal(t, "a_b_c", SafeFilename("a/b c"))
}

func TestRegistry(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	write("apt.toml", "add = \"a #:?\"\nremove = \"r #:?\"\nhook_name = \"apt\"\nplural_name = \"packages\"\n")
	write("bad.toml", "add = \"a\"\nremove = \"r\"\nhook_name = \"b a d\"\nplural_name = \"p\"\n")
	write("README.md", "not a manager")

	r := NewRegistry(dir, Exec{Runner: &process.Fake{}, Logger: zerolog.Nop()})

	names, err := r.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"apt", "bad"}, names)

	m, err := r.Get("apt")
	require.NoError(t, err)
	again, err := r.Get("apt")
	require.NoError(t, err)
	assert.Same(t, m, again)

	_, err = r.Get("missing")
	assert.True(t, errors.IsKind(err, errors.KindMissingFile))

	_, err = r.Get("bad")
	assert.True(t, errors.IsKind(err, errors.KindConfigMalformed))

	results, err := r.Check()
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
	require.Len(t, results[1].Problems, 1)
	assert.Contains(t, results[1].Problems[0], "b_a_d")
}
