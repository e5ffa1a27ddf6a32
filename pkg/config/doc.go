// Package config loads convergo's application settings and writes the starter
// user configuration.
//
// # Overview
//
// Two kinds of files live in the user configuration directory. The declarative
// files (gen.toml, imports/, machines/, managers/, manager_order.toml) describe
// desired state and are read by the generation and manager packages. The
// settings file, convergo.yaml, describes how convergo itself behaves and is the
// only file this package decodes.
//
// # Settings
//
// Settings are YAML, decoded strictly: an unknown key is a config_malformed
// error rather than a silently ignored typo. A missing file yields Default().
// After decoding, environment overrides are applied and the result is validated
// with go-playground/validator.
//
//	shell: bash
//	force_unlock_countdown: 5
//	log:
//	  level: info
//	  format: console
//	tracing:
//	  exporter: none
//	metrics:
//	  textfile: ""
//
// # Environment
//
//   - CONVERGO_LOG_LEVEL overrides log.level
//   - CONVERGO_SHELL overrides shell
//
// # Starter configuration
//
// WriteStarter creates the directory layout and a small set of example files.
// Existing files are never overwritten, so running it twice is harmless.
package config
