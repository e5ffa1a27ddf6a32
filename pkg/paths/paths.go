// Package paths resolves the configuration and state locations used by convergo.
// Locations follow the XDG base directory specification and can be overridden
// through environment variables.
package paths

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"

	"github.com/openfroyo/convergo/pkg/errors"
)

// Environment variable names
const (
	// EnvConfigDir overrides the user configuration directory.
	EnvConfigDir = "CONVERGO_CONFIG_DIR"

	// EnvStateDir overrides the state directory.
	EnvStateDir = "CONVERGO_STATE_DIR"
)

// Directory and file names inside the configuration and state directories.
const (
	AppDirName        = "convergo"
	GenerationFile    = "gen.toml"
	SettingsFile      = "convergo.yaml"
	OrderFile         = "manager_order.toml"
	ManagersDir       = "managers"
	ImportsDir        = "imports"
	MachinesDir       = "machines"
	HooksDir          = "hooks"
	PoliciesDir       = "policies"
	HistoryDir        = "history"
	PointersDir       = "pointers"
	CurrentPointer    = "current"
	BuiltPointer      = "built"
	LockFile          = "lock"
	LedgerFile        = "ledger.db"
	ManagerFileSuffix = ".toml"
)

// Paths holds the two roots everything else is derived from.
type Paths struct {
	configDir string
	stateDir  string
}

// New resolves the roots from the environment, falling back to XDG defaults.
func New() *Paths {
	p := &Paths{
		configDir: filepath.Join(xdg.ConfigHome, AppDirName),
		stateDir:  filepath.Join(xdg.StateHome, AppDirName),
	}
	if dir := os.Getenv(EnvConfigDir); dir != "" {
		p.configDir = expandHome(dir)
	}
	if dir := os.Getenv(EnvStateDir); dir != "" {
		p.stateDir = expandHome(dir)
	}
	return p
}

// NewWithRoots builds Paths from explicit roots. Used by tests and by the
// --config-dir/--state-dir flags.
func NewWithRoots(configDir, stateDir string) *Paths {
	return &Paths{configDir: expandHome(configDir), stateDir: expandHome(stateDir)}
}

// ConfigDir is the user configuration root.
func (p *Paths) ConfigDir() string { return p.configDir }

// StateDir is the state root.
func (p *Paths) StateDir() string { return p.stateDir }

// UserGeneration is the base user-scope generation file.
func (p *Paths) UserGeneration() string {
	return filepath.Join(p.configDir, GenerationFile)
}

// MachineGeneration is the per-host generation merged into the user scope.
func (p *Paths) MachineGeneration(hostname string) string {
	return filepath.Join(p.configDir, MachinesDir, hostname, GenerationFile)
}

// ImportsDir is the directory holding importable generation fragments.
func (p *Paths) ImportsDir() string {
	return filepath.Join(p.configDir, ImportsDir)
}

// Import returns the file for the named import.
func (p *Paths) Import(name string) string {
	return filepath.Join(p.configDir, ImportsDir, name+".toml")
}

// ManagersDir is the directory of manager declarations.
func (p *Paths) ManagersDir() string {
	return filepath.Join(p.configDir, ManagersDir)
}

// Manager returns the declaration file for the named manager.
func (p *Paths) Manager(name string) string {
	return filepath.Join(p.configDir, ManagersDir, name+ManagerFileSuffix)
}

// Order is the optional manager order file.
func (p *Paths) Order() string {
	return filepath.Join(p.configDir, OrderFile)
}

// HooksDir is where hook executables live.
func (p *Paths) HooksDir() string {
	return filepath.Join(p.configDir, HooksDir)
}

// PoliciesDir holds Rego guard rules.
func (p *Paths) PoliciesDir() string {
	return filepath.Join(p.configDir, PoliciesDir)
}

// Settings is the application settings file.
func (p *Paths) Settings() string {
	return filepath.Join(p.configDir, SettingsFile)
}

// HistoryDir is the version store working tree.
func (p *Paths) HistoryDir() string {
	return filepath.Join(p.stateDir, HistoryDir)
}

// SystemGeneration is the generation file checked out in the version store.
func (p *Paths) SystemGeneration() string {
	return filepath.Join(p.stateDir, HistoryDir, GenerationFile)
}

// PointersDir holds the current and built pointer files.
func (p *Paths) PointersDir() string {
	return filepath.Join(p.stateDir, PointersDir)
}

// Lock is the mutation lock file.
func (p *Paths) Lock() string {
	return filepath.Join(p.stateDir, LockFile)
}

// Ledger is the build ledger database.
func (p *Paths) Ledger() string {
	return filepath.Join(p.stateDir, LedgerFile)
}

// StateDirs lists the directories created by setup.
func (p *Paths) StateDirs() []string {
	return []string{p.stateDir, p.HistoryDir(), p.PointersDir()}
}

// ConfigDirs lists the directories created by config init.
func (p *Paths) ConfigDirs() []string {
	return []string{
		p.configDir,
		p.ManagersDir(),
		p.ImportsDir(),
		p.HooksDir(),
		p.PoliciesDir(),
		filepath.Join(p.configDir, MachinesDir),
	}
}

// CheckSetUp returns a not_set_up error when any state directory is missing.
func (p *Paths) CheckSetUp() error {
	for _, dir := range p.StateDirs() {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return errors.Newf(errors.KindNotSetUp, "state directory %s does not exist, run 'convergo setup' first", dir).
				WithResource(dir)
		}
	}
	return nil
}

// EnsureDirs creates every directory in dirs.
func EnsureDirs(dirs []string) error {
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, errors.KindInternal, "failed to create directory %s", dir)
		}
	}
	return nil
}

// Hostname returns the machine name used to select the machine generation.
func Hostname() (string, error) {
	name, err := os.Hostname()
	if err != nil {
		return "", errors.Wrap(err, errors.KindInternal, "failed to read hostname")
	}
	return strings.TrimSpace(name), nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
