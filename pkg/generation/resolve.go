package generation

import (
	"context"
	stderrors "errors"
	"io/fs"
	"os"

	"github.com/rs/zerolog"

	"github.com/openfroyo/convergo/pkg/errors"
)

// Side selects the configuration scope to resolve.
type Side int

const (
	// SideUser is the user's editable configuration.
	SideUser Side = iota
	// SideSystem is the generation checked out in the version store.
	SideSystem
)

func (s Side) String() string {
	if s == SideSystem {
		return "system"
	}
	return "user"
}

// Locations provides the files read during resolution.
type Locations interface {
	UserGeneration() string
	MachineGeneration(hostname string) string
	SystemGeneration() string
	Import(name string) string
}

// Loader resolves generations from disk.
type Loader struct {
	locations Locations
	hostname  string
	logger    zerolog.Logger
}

// NewLoader creates a loader. hostname selects the machine generation merged
// into the user scope.
func NewLoader(locations Locations, hostname string, logger zerolog.Logger) *Loader {
	return &Loader{
		locations: locations,
		hostname:  hostname,
		logger:    logger.With().Str("component", "generation").Logger(),
	}
}

// Resolve returns the effective generation for side with every import
// expanded. The result has no imports left.
//
// Imports are expanded from a worklist. Each import name is loaded at most
// once per resolution, so cyclic or diamond-shaped import graphs terminate
// and contribute each fragment exactly once.
func (l *Loader) Resolve(ctx context.Context, side Side) (Generation, error) {
	var base Generation
	var err error

	switch side {
	case SideSystem:
		base, err = ReadFile(l.locations.SystemGeneration())
		if err != nil {
			return Generation{}, err
		}
	default:
		base, err = ReadFile(l.locations.UserGeneration())
		if err != nil {
			return Generation{}, err
		}
		machine, err := ReadFile(l.locations.MachineGeneration(l.hostname))
		if err != nil {
			return Generation{}, err
		}
		base = base.Extend(machine)
	}

	pending := append([]string(nil), base.Imports...)
	result := base.Clone()
	result.Imports = nil

	visited := make(map[string]struct{})
	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			return Generation{}, err
		}

		name := pending[0]
		pending = pending[1:]
		if _, ok := visited[name]; ok {
			l.logger.Debug().Str("import", name).Msg("Import already resolved, skipping")
			continue
		}
		visited[name] = struct{}{}

		path := l.locations.Import(name)
		fragment, err := ReadFile(path)
		if err != nil {
			return Generation{}, err
		}
		if !exists(path) {
			l.logger.Warn().Str("import", name).Str("path", path).Msg("Import file not found, treating as empty")
		}

		pending = append(pending, fragment.Imports...)
		fragment.Imports = nil
		result = result.Extend(fragment)
	}

	l.logger.Debug().
		Str("side", side.String()).
		Int("imports", len(visited)).
		Int("managers", len(result.Managers)).
		Msg("Resolved generation")

	return result, nil
}

// ReadFile loads a generation file. A missing file yields an empty generation.
func ReadFile(path string) (Generation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return New(), nil
		}
		return Generation{}, errors.Wrapf(err, errors.KindInternal, "failed to read %s", path)
	}
	return Decode(data, path)
}

// WriteFile encodes g into path.
func WriteFile(path string, g Generation) error {
	data, err := Encode(g)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, errors.KindInternal, "failed to write %s", path)
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
