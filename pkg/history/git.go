package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openfroyo/convergo/pkg/errors"
	"github.com/openfroyo/convergo/pkg/process"
)

const (
	// DefaultBranch is the branch snapshots are committed to.
	DefaultBranch = "main"

	gitBinary      = "git"
	fallbackName   = "convergo"
	fallbackEmail  = "convergo@localhost"
	gitignoreBody  = "*\n!.gitignore\n!" + SnapshotFile + "\n"
	initialMessage = "Initial commit"
)

// GitStore implements Store by shelling out to git.
type GitStore struct {
	dir    string
	branch string
	runner process.Runner
	logger zerolog.Logger
}

// NewGitStore creates a git-backed store rooted at dir.
func NewGitStore(dir string, runner process.Runner, logger zerolog.Logger) *GitStore {
	return &GitStore{
		dir:    dir,
		branch: DefaultBranch,
		runner: runner,
		logger: logger.With().Str("component", "history").Logger(),
	}
}

// WorkTree returns the repository directory.
func (g *GitStore) WorkTree() string { return g.dir }

// Init creates the repository, sets a fallback identity, writes .gitignore
// and records an initial commit.
func (g *GitStore) Init(ctx context.Context) error {
	if _, err := os.Stat(filepath.Join(g.dir, ".git")); err == nil {
		return nil
	}
	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return errors.Wrapf(err, errors.KindInternal, "failed to create %s", g.dir)
	}

	g.logger.Info().Str("dir", g.dir).Msg("Initializing version store")

	if _, err := g.git(ctx, "init"); err != nil {
		return err
	}
	if _, err := g.git(ctx, "symbolic-ref", "HEAD", "refs/heads/"+g.branch); err != nil {
		return err
	}
	if _, err := g.git(ctx, "config", "user.name"); err != nil {
		if _, err := g.git(ctx, "config", "user.name", fallbackName); err != nil {
			return err
		}
	}
	if _, err := g.git(ctx, "config", "user.email"); err != nil {
		if _, err := g.git(ctx, "config", "user.email", fallbackEmail); err != nil {
			return err
		}
	}
	if _, err := g.git(ctx, "config", "commit.gpgsign", "false"); err != nil {
		return err
	}

	if err := os.WriteFile(filepath.Join(g.dir, ".gitignore"), []byte(gitignoreBody), 0o644); err != nil {
		return errors.Wrap(err, errors.KindInternal, "failed to write .gitignore")
	}
	if _, err := g.git(ctx, "add", ".gitignore"); err != nil {
		return err
	}
	if _, err := g.git(ctx, "commit", "-m", initialMessage); err != nil {
		return err
	}

	g.logger.Info().Msg("Version store initialized")
	return nil
}

// Attach checks out the history branch when HEAD is detached.
func (g *GitStore) Attach(ctx context.Context) error {
	if _, err := g.git(ctx, "symbolic-ref", "-q", "HEAD"); err == nil {
		return nil
	}
	return g.Checkout(ctx, g.branch)
}

// Commit stages everything and commits it.
func (g *GitStore) Commit(ctx context.Context, message string) (string, error) {
	if _, err := g.git(ctx, "add", "-A"); err != nil {
		return "", err
	}
	dirty, err := g.IsDirty(ctx)
	if err != nil {
		return "", err
	}
	if !dirty {
		g.logger.Info().Msg("No changes to commit")
		return "", nil
	}
	if _, err := g.git(ctx, "commit", "-m", message); err != nil {
		return "", err
	}
	id, err := g.Head(ctx)
	if err != nil {
		return "", err
	}
	g.logger.Info().Str("id", id).Msg("Committed generation")
	return id, nil
}

// Log lists commits on the history branch, newest first.
func (g *GitStore) Log(ctx context.Context, limit int) ([]Snapshot, error) {
	args := []string{"log", "--pretty=format:%H|%s"}
	if limit > 0 {
		args = append(args, fmt.Sprintf("-%d", limit))
	}
	args = append(args, g.branch, "--")

	out, err := g.git(ctx, args...)
	if err != nil {
		return nil, err
	}
	return parseLog(out), nil
}

func parseLog(out string) []Snapshot {
	var snapshots []Snapshot
	for _, line := range strings.Split(out, "\n") {
		id, message, ok := strings.Cut(line, "|")
		if !ok {
			continue
		}
		snapshots = append(snapshots, Snapshot{ID: strings.TrimSpace(id), Message: message})
	}
	return snapshots
}

// Checkout moves the working tree to id, stashing local changes first.
func (g *GitStore) Checkout(ctx context.Context, id string) error {
	dirty, err := g.IsDirty(ctx)
	if err != nil {
		return err
	}
	if dirty {
		g.logger.Warn().Msg("Stashing uncommitted changes before checkout")
		if _, err := g.git(ctx, "stash", "push", "-m", "Auto-stash before checkout"); err != nil {
			return err
		}
	}
	if _, err := g.git(ctx, "checkout", "-q", id); err != nil {
		return err
	}
	g.logger.Info().Str("id", id).Msg("Checked out generation")
	return nil
}

// Show returns path as of id.
func (g *GitStore) Show(ctx context.Context, id, path string) ([]byte, error) {
	spec := id + ":" + path
	if _, err := g.git(ctx, "cat-file", "-e", spec); err != nil {
		return nil, errors.Newf(errors.KindMissingFile, "%s does not exist in snapshot %s", path, id).
			WithResource(id).
			WithOp("show")
	}
	res, err := g.exec(ctx, "show", spec)
	if err != nil {
		return nil, err
	}
	return []byte(res.Stdout), nil
}

// Head returns the commit the working tree is on.
func (g *GitStore) Head(ctx context.Context) (string, error) {
	return g.git(ctx, "rev-parse", "HEAD")
}

// IsDirty reports uncommitted changes.
func (g *GitStore) IsDirty(ctx context.Context) (bool, error) {
	out, err := g.git(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

// Diff returns `git diff from..to`.
func (g *GitStore) Diff(ctx context.Context, from, to string) (string, error) {
	return g.git(ctx, "diff", from+".."+to)
}

// git runs a git subcommand and returns its trimmed stdout.
func (g *GitStore) git(ctx context.Context, args ...string) (string, error) {
	res, err := g.exec(ctx, args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

func (g *GitStore) exec(ctx context.Context, args ...string) (*process.Result, error) {
	res, err := g.runner.Run(ctx, process.Request{
		Command: gitBinary,
		Args:    args,
		Dir:     g.dir,
		Env:     map[string]string{"GIT_TERMINAL_PROMPT": "0"},
	})
	if err != nil {
		return nil, errors.New(errors.KindVersionStore, "failed to execute git").
			WithOp(args[0]).
			WithCause(err)
	}
	if !res.Success() {
		return nil, errors.Newf(errors.KindVersionStore, "git %s failed: %s", args[0], strings.TrimSpace(res.Stderr)).
			WithOp(args[0]).
			WithDetail("exit_code", res.ExitCode).
			WithDetail("args", args)
	}
	return res, nil
}
