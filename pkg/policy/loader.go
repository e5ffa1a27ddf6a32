package policy

import (
	"context"
	stderrors "errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/rs/zerolog"

	"github.com/openfroyo/convergo/pkg/errors"
)

// Loader reads user policies from disk.
type Loader struct {
	logger zerolog.Logger
}

// NewLoader creates a new policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "policy-loader").Logger(),
	}
}

// LoadDir loads every *.rego file in dir, sorted by name. A missing
// directory yields no policies.
func (l *Loader) LoadDir(ctx context.Context, dir string) ([]Policy, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, errors.KindInternal, "failed to read policy directory %s", dir)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".rego") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	policies := make([]Policy, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		policy, err := l.LoadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		policies = append(policies, *policy)
	}

	return policies, nil
}

// LoadFile loads and parses a single .rego file.
func (l *Loader) LoadFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindInternal, "failed to read policy %s", path)
	}

	if _, err := packageOf(path, string(data)); err != nil {
		return nil, err
	}

	policy := &Policy{
		Name:        strings.TrimSuffix(filepath.Base(path), ".rego"),
		Description: extractDescription(string(data)),
		Source:      path,
		Rego:        string(data),
		Severity:    SeverityError,
		Enabled:     true,
	}

	l.logger.Debug().
		Str("path", path).
		Str("policy", policy.Name).
		Msg("Policy loaded from file")

	return policy, nil
}

// packageOf parses the module and returns its package path without the
// leading "data.". Modules outside the convergo package are rejected.
func packageOf(name, src string) (string, error) {
	module, err := ast.ParseModule(name, src)
	if err != nil {
		return "", errors.Newf(errors.KindConfigMalformed, "failed to parse policy %s", name).
			WithResource(name).
			WithCause(err)
	}
	if module == nil {
		return "", errors.Newf(errors.KindConfigMalformed, "policy %s is empty", name).WithResource(name)
	}

	pkg := strings.TrimPrefix(module.Package.Path.String(), "data.")
	if pkg != PackagePrefix && !strings.HasPrefix(pkg, PackagePrefix+".") {
		return "", errors.Newf(errors.KindConfigMalformed,
			"policy %s declares package %s, expected %s or %s.<name>", name, pkg, PackagePrefix, PackagePrefix).
			WithResource(name)
	}
	return pkg, nil
}

// extractDescription joins the leading comment block of a Rego file.
func extractDescription(content string) string {
	var description strings.Builder

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			comment := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
			if comment != "" {
				if description.Len() > 0 {
					description.WriteString(" ")
				}
				description.WriteString(comment)
			}
		} else if trimmed != "" {
			// Stop at first non-comment, non-empty line
			break
		}
	}

	return description.String()
}
