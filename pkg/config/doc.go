// Package config loads and validates the flat key/value deployment settings.
//
// Validation is aggregated: every missing or malformed key is collected into a
// single ConfigError so an operator can fix the whole file in one pass. The
// resulting Deployment value is immutable and is the only configuration source
// threaded through the workflow; no component reads the environment directly.
package config
