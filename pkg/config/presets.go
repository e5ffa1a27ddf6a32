package config

import (
	"os/exec"
	"sort"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/openfroyo/convergo/pkg/errors"
	"github.com/openfroyo/convergo/pkg/manager"
	"github.com/openfroyo/convergo/pkg/paths"
)

// presets are ready-made declarations for the common system package tools.
var presets = map[string]manager.Declaration{
	"apt": {
		Add:        "sudo apt-get install -y #:?",
		Remove:     "sudo apt-get remove -y #:?",
		Sync:       "sudo apt-get update",
		Upgrade:    "sudo apt-get upgrade -y",
		List:       "apt-mark showmanual",
		HookName:   "apt",
		PluralName: "packages",
	},
	"dnf": {
		Add:        "sudo dnf install -y #:?",
		Remove:     "sudo dnf remove -y #:?",
		Sync:       "sudo dnf makecache",
		Upgrade:    "sudo dnf upgrade -y",
		List:       "dnf repoquery --userinstalled --qf '%{name}'",
		HookName:   "dnf",
		PluralName: "packages",
	},
	"yum": {
		Add:        "sudo yum install -y #:?",
		Remove:     "sudo yum remove -y #:?",
		Sync:       "sudo yum makecache",
		Upgrade:    "sudo yum upgrade -y",
		HookName:   "yum",
		PluralName: "packages",
	},
	"zypper": {
		Add:        "sudo zypper --non-interactive install #:?",
		Remove:     "sudo zypper --non-interactive remove #:?",
		Sync:       "sudo zypper --non-interactive refresh",
		Upgrade:    "sudo zypper --non-interactive update",
		HookName:   "zypper",
		PluralName: "packages",
	},
}

// detectOrder is the order DetectPreset probes binaries in. dnf wins over
// yum on systems that ship both.
var detectOrder = []string{"apt-get", "dnf", "yum", "zypper"}

// Presets returns the names of the built-in manager declarations.
func Presets() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Preset returns the built-in declaration called name.
func Preset(name string) (manager.Declaration, bool) {
	decl, ok := presets[name]
	if !ok {
		return manager.Declaration{}, false
	}
	decl.Config = manager.DefaultDeclaration().Config
	return decl, true
}

// DetectPreset returns the preset for the first system package tool found
// by lookPath. A nil lookPath searches $PATH.
func DetectPreset(lookPath func(string) (string, error)) (string, bool) {
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	for _, bin := range detectOrder {
		if _, err := lookPath(bin); err == nil {
			if bin == "apt-get" {
				return "apt", true
			}
			return bin, true
		}
	}
	return "", false
}

// WritePreset writes the preset declaration to managers/<name>.toml unless
// the file already exists.
func WritePreset(p *paths.Paths, name string) (StarterFile, error) {
	decl, ok := Preset(name)
	if !ok {
		return StarterFile{}, errors.Newf(errors.KindConfigMalformed, "unknown manager preset %q", name).
			WithResource(name).
			WithDetail("presets", Presets())
	}
	data, err := toml.Marshal(decl)
	if err != nil {
		return StarterFile{}, errors.Wrapf(err, errors.KindInternal, "failed to encode preset %s", name)
	}
	if err := paths.EnsureDirs([]string{p.ManagersDir()}); err != nil {
		return StarterFile{}, err
	}

	path := p.Manager(name)
	created, err := writeIfAbsent(path, data)
	if err != nil {
		return StarterFile{}, err
	}
	return StarterFile{Path: path, Created: created}, nil
}
