package config

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/convergo/pkg/errors"
	"github.com/openfroyo/convergo/pkg/process"
	"github.com/openfroyo/convergo/pkg/telemetry"
)

// Environment variables that override settings.
const (
	EnvLogLevel = "CONVERGO_LOG_LEVEL"
	EnvShell    = "CONVERGO_SHELL"
)

// DefaultForceUnlockCountdown is the countdown shown before a forced unlock, in seconds.
const DefaultForceUnlockCountdown = 5

// Settings is the decoded convergo.yaml.
type Settings struct {
	// Shell runs manager and hook commands.
	Shell string `yaml:"shell" validate:"required"`

	// ForceUnlockCountdown is how long force-unlock waits after confirmation.
	ForceUnlockCountdown int `yaml:"force_unlock_countdown" validate:"gte=0,lte=300"`

	// Log configures structured logging.
	Log telemetry.LoggingConfig `yaml:"log"`

	// Tracing configures span export.
	Tracing telemetry.TracingConfig `yaml:"tracing"`

	// Metrics configures the metrics textfile.
	Metrics telemetry.MetricsConfig `yaml:"metrics"`
}

// Default returns the settings used when no file exists.
func Default() Settings {
	tel := telemetry.DefaultConfig()
	return Settings{
		Shell:                process.DefaultShell,
		ForceUnlockCountdown: DefaultForceUnlockCountdown,
		Log:                  tel.Logging,
		Tracing:              tel.Tracing,
		Metrics:              tel.Metrics,
	}
}

// Load reads the settings file at path. A missing file yields Default with
// environment overrides applied.
func Load(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return Settings{}, errors.Wrapf(err, errors.KindInternal, "failed to read settings file %s", path)
		}
		data = nil
	}
	return Parse(data, path)
}

// Parse decodes settings from data. source is used in error messages.
func Parse(data []byte, source string) (Settings, error) {
	s := Default()

	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&s); err != nil && !stderrors.Is(err, io.EOF) {
			return Settings{}, malformed(err, source)
		}
	}

	s.applyEnv()

	if err := s.Validate(); err != nil {
		return Settings{}, malformed(err, source)
	}
	return s, nil
}

func malformed(err error, source string) error {
	return errors.Newf(errors.KindConfigMalformed, "invalid settings file %s", source).
		WithResource(source).
		WithCause(err)
}

func (s *Settings) applyEnv() {
	if level := strings.TrimSpace(os.Getenv(EnvLogLevel)); level != "" {
		s.Log.Level = strings.ToLower(level)
	}
	if shell := strings.TrimSpace(os.Getenv(EnvShell)); shell != "" {
		s.Shell = shell
	}
}

// Validate checks the settings against their struct tags.
func (s Settings) Validate() error {
	v := validator.New()
	if err := v.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if stderrors.As(err, &verrs) {
			problems := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				problems = append(problems, fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%s", strings.Join(problems, "; "))
		}
		return err
	}
	return s.Telemetry("dev").Validate()
}

// Telemetry returns the telemetry configuration for this process.
func (s Settings) Telemetry(version string) telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = version
	cfg.Logging = s.Log
	cfg.Tracing = s.Tracing
	cfg.Metrics = s.Metrics
	return cfg
}

// Encode renders the settings as YAML.
func (s Settings) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
