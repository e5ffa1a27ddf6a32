package manager

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	toml "github.com/pelletier/go-toml/v2"

	"github.com/openfroyo/convergo/pkg/errors"
)

// ItemToken is replaced by the item argument string in add/remove templates.
const ItemToken = "#:?"

// Options tunes how items are passed to add/remove templates.
type Options struct {
	// ManyArgs batches all items into one invocation. When false the
	// template runs once per item.
	ManyArgs bool `toml:"many_args"`

	// ArgSep joins items when ManyArgs is set.
	ArgSep string `toml:"arg_sep"`
}

// Declaration is the user-supplied description of one manager.
type Declaration struct {
	Add        string  `toml:"add" validate:"required"`
	Remove     string  `toml:"remove" validate:"required"`
	Sync       string  `toml:"sync,omitempty"`
	Upgrade    string  `toml:"upgrade,omitempty"`
	List       string  `toml:"list,omitempty"`
	Config     Options `toml:"config"`
	HookName   string  `toml:"hook_name" validate:"required,filename_safe"`
	PluralName string  `toml:"plural_name" validate:"required"`
}

// DefaultDeclaration returns the values applied to fields a file omits.
func DefaultDeclaration() Declaration {
	return Declaration{Config: Options{ManyArgs: true, ArgSep: " "}}
}

var (
	safeName   = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
	unsafeRune = regexp.MustCompile(`[^A-Za-z0-9._-]`)
	validate   = newValidator()
)

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("filename_safe", func(fl validator.FieldLevel) bool {
		return IsFilenameSafe(fl.Field().String())
	})
	return v
}

// IsFilenameSafe reports whether s can be used as a single path component.
func IsFilenameSafe(s string) bool {
	return safeName.MatchString(s) && s != "." && s != ".."
}

// SafeFilename replaces every character not allowed in a hook name with '_'.
func SafeFilename(s string) string {
	out := unsafeRune.ReplaceAllString(s, "_")
	if out == "." || out == ".." || out == "" {
		return strings.Repeat("_", len(out)+1)
	}
	return out
}

// Problems validates the declaration and returns a human-readable message
// per violated rule.
func (d Declaration) Problems() []string {
	var problems []string
	err := validate.Struct(d)
	if err != nil {
		var verrs validator.ValidationErrors
		if !stderrors.As(err, &verrs) {
			return []string{err.Error()}
		}
		for _, fe := range verrs {
			field := fieldName(fe.StructField())
			switch fe.Tag() {
			case "required":
				problems = append(problems, fmt.Sprintf("field '%s' is required", field))
			case "filename_safe":
				problems = append(problems, fmt.Sprintf("field '%s' must be filename safe (fixed version: %s)",
					field, SafeFilename(d.HookName)))
			default:
				problems = append(problems, fmt.Sprintf("field '%s' failed '%s' validation", field, fe.Tag()))
			}
		}
	}
	if d.Config.ManyArgs && d.Config.ArgSep == "" {
		problems = append(problems, "field 'config.arg_sep' must not be empty when 'config.many_args' is set")
	}
	return problems
}

// DecodeDeclaration parses and validates a manager file.
func DecodeDeclaration(data []byte, source string) (Declaration, error) {
	d := DefaultDeclaration()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&d); err != nil {
		return Declaration{}, errors.New(errors.KindConfigMalformed, "failed to decode manager declaration").
			WithResource(source).
			WithCause(err)
	}
	if problems := d.Problems(); len(problems) > 0 {
		return Declaration{}, errors.Newf(errors.KindConfigMalformed, "manager is not configured properly: %s",
			strings.Join(problems, "; ")).
			WithResource(source).
			WithDetail("problems", problems)
	}
	return d, nil
}

func fieldName(structField string) string {
	switch structField {
	case "HookName":
		return "hook_name"
	case "PluralName":
		return "plural_name"
	default:
		return strings.ToLower(structField)
	}
}
