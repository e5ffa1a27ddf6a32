package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/openfroyo/convergo/pkg/errors"
	"github.com/openfroyo/convergo/pkg/paths"
)

const starterGeneration = `# Desired state for this user. Every [managers.<name>] table lists the items
# that manager should have installed. Imports are read from imports/<name>.toml.
imports = ["base"]

[managers.example]
items = []
`

const starterImport = `# Shared items, pulled in by "imports" in gen.toml.
[managers.example]
items = []
`

const starterMachine = `# Items only wanted on %s. Merged into gen.toml on this host.
`

const starterManager = `# Commands for the "example" manager. #:? is replaced by the item list.
add = "echo adding #:?"
remove = "echo removing #:?"
sync = "echo syncing"
upgrade = "echo upgrading"
list = "echo"

hook_name = "example"
plural_name = "examples"

[config]
many_args = true
arg_sep = " "
`

const starterOrder = `# Managers built first and last. Everything else is built in between.
begin = []
end = []
`

const starterPolicy = `package convergo

import rego.v1

# Rules add messages to deny to reject a commit.
#
# deny contains msg if {
# 	some item in input.managers.example.items
# 	item == "forbidden"
# 	msg := sprintf("%s is not allowed", [item])
# }
`

// StarterFile is one file written by WriteStarter.
type StarterFile struct {
	Path    string
	Created bool
}

// WriteStarter creates the user configuration layout under p. Files that
// already exist are left untouched and reported with Created false.
func WriteStarter(p *paths.Paths, hostname string) ([]StarterFile, error) {
	settings, err := Default().Encode()
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "failed to encode default settings")
	}

	dirs := p.ConfigDirs()
	if hostname != "" {
		dirs = append(dirs, filepath.Dir(p.MachineGeneration(hostname)))
	}
	if err := paths.EnsureDirs(dirs); err != nil {
		return nil, err
	}

	files := []struct {
		path    string
		content []byte
	}{
		{p.UserGeneration(), []byte(starterGeneration)},
		{p.Import("base"), []byte(starterImport)},
		{p.Manager("example"), []byte(starterManager)},
		{p.Order(), []byte(starterOrder)},
		{filepath.Join(p.PoliciesDir(), "example.rego"), []byte(starterPolicy)},
		{p.Settings(), settings},
	}
	if hostname != "" {
		files = append(files, struct {
			path    string
			content []byte
		}{p.MachineGeneration(hostname), []byte(fmt.Sprintf(starterMachine, hostname))})
	}

	written := make([]StarterFile, 0, len(files))
	for _, f := range files {
		created, err := writeIfAbsent(f.path, f.content)
		if err != nil {
			return written, err
		}
		written = append(written, StarterFile{Path: f.path, Created: created})
	}
	return written, nil
}

func writeIfAbsent(path string, content []byte) (bool, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, errors.Wrapf(err, errors.KindInternal, "failed to create %s", path)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return false, errors.Wrapf(err, errors.KindInternal, "failed to write %s", path)
	}
	if err := f.Close(); err != nil {
		return false, errors.Wrapf(err, errors.KindInternal, "failed to close %s", path)
	}
	return true, nil
}
