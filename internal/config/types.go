package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Duration is a time.Duration that decodes from strings like "30m" or
// "90s". Agent and gate timeouts use it.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler. An empty value leaves
// the duration at zero so defaults can fill it in.
func (d *Duration) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	if parsed < 0 {
		return fmt.Errorf("duration cannot be negative: %s", text)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration().String()), nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration().String())
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Secret holds a tracker credential. Every printed or serialized form is
// redacted.
//
// The configured value may be the credential itself or a reference:
//
//	env:LINEAR_API_KEY     read from an environment variable
//	file:/run/secrets/gh   read from a file, trailing newline trimmed
//
// References are resolved once by Load.
type Secret string

const (
	secretEnvPrefix  = "env:"
	secretFilePrefix = "file:"
)

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// GoString keeps %#v from printing the credential.
func (s Secret) GoString() string {
	return "config.Secret([REDACTED])"
}

// Value returns the raw credential.
func (s Secret) Value() string {
	return string(s)
}

// IsSet reports whether the secret has a value.
func (s Secret) IsSet() bool {
	return s != ""
}

// IsReference reports whether s still names an env var or file.
func (s Secret) IsReference() bool {
	v := string(s)
	return strings.HasPrefix(v, secretEnvPrefix) || strings.HasPrefix(v, secretFilePrefix)
}

// Resolve returns the credential s refers to. A literal value is returned
// unchanged. A reference to an unset variable or an empty file is an error
// so a typo never silently disables a tracker.
func (s Secret) Resolve() (Secret, error) {
	v := string(s)
	switch {
	case strings.HasPrefix(v, secretEnvPrefix):
		name := strings.TrimPrefix(v, secretEnvPrefix)
		val, ok := os.LookupEnv(name)
		if !ok || val == "" {
			return "", fmt.Errorf("secret references unset environment variable %s", name)
		}
		return Secret(val), nil
	case strings.HasPrefix(v, secretFilePrefix):
		path := strings.TrimPrefix(v, secretFilePrefix)
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("reading secret file: %w", err)
		}
		val := strings.TrimRight(string(data), "\r\n")
		if val == "" {
			return "", fmt.Errorf("secret file %s is empty", path)
		}
		return Secret(val), nil
	}
	return s, nil
}

// MarshalJSON implements json.Marshaler.
func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// MarshalText implements encoding.TextMarshaler.
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(strings.TrimSpace(string(text)))
	return nil
}
