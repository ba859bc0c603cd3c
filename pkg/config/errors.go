package config

import (
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

// MissingKey records one required setting that was absent or empty.
type MissingKey struct {
	// Key is the settings key.
	Key string

	// RequiredBy names the feature flag that made the key mandatory.
	// Empty for keys in the core required set.
	RequiredBy string
}

func (m MissingKey) String() string {
	if m.RequiredBy != "" {
		return fmt.Sprintf("%s (required by %s=true)", m.Key, m.RequiredBy)
	}
	return m.Key
}

// InvalidValue records one setting whose value failed parsing or format checks.
type InvalidValue struct {
	Key    string
	Value  string
	Reason string
}

func (v InvalidValue) String() string {
	return fmt.Sprintf("%s=%q: %s", v.Key, v.Value, v.Reason)
}

// ConfigError aggregates every validation problem found in one pass.
//
// nolint:revive // ConfigError is intentionally named to distinguish from standard errors
type ConfigError struct {
	Missing []MissingKey
	Invalid []InvalidValue
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("invalid deployment settings")
	if len(e.Missing) > 0 {
		keys := make([]string, len(e.Missing))
		for i, m := range e.Missing {
			keys[i] = m.String()
		}
		sort.Strings(keys)
		b.WriteString("; missing: ")
		b.WriteString(strings.Join(keys, ", "))
	}
	if len(e.Invalid) > 0 {
		vals := make([]string, len(e.Invalid))
		for i, v := range e.Invalid {
			vals[i] = v.String()
		}
		sort.Strings(vals)
		b.WriteString("; invalid: ")
		b.WriteString(strings.Join(vals, ", "))
	}
	return b.String()
}

// HasProblems reports whether any missing or invalid entries were collected.
func (e *ConfigError) HasProblems() bool {
	return len(e.Missing) > 0 || len(e.Invalid) > 0
}

func (e *ConfigError) addMissing(key, requiredBy string) {
	e.Missing = append(e.Missing, MissingKey{Key: key, RequiredBy: requiredBy})
}

func (e *ConfigError) addInvalid(key, value, reason string) {
	e.Invalid = append(e.Invalid, InvalidValue{Key: key, Value: value, Reason: reason})
}

// SecurityError reports an SSH private key with unacceptable access permissions.
type SecurityError struct {
	// Path is the offending key file.
	Path string

	// Mode holds the observed permission bits when Err is nil.
	Mode fs.FileMode

	// Err is set when the file could not be inspected at all.
	Err error
}

// Error implements the error interface.
func (e *SecurityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ssh private key %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("ssh private key %s has mode %04o; only 0600 (owner read/write) and 0400 (owner read-only) are accepted",
		e.Path, e.Mode)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *SecurityError) Unwrap() error {
	return e.Err
}
