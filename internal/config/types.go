package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const redacted = "[REDACTED]"

// Duration is a time.Duration that decodes from "90s"-style strings in YAML
// and DOCPIPE_* variables. A bare integer is read as seconds.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	var v time.Duration
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		v = time.Duration(n) * time.Second
	} else if v, err = time.ParseDuration(s); err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if v < 0 {
		return fmt.Errorf("invalid duration %q: must not be negative", s)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d Duration) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

func (d Duration) String() string { return time.Duration(d).String() }

// Duration converts back to time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// Secret is an API key or token. Every formatting and encoding path prints
// a placeholder; only Value exposes the raw string.
type Secret string

func (s Secret) Value() string { return string(s) }

func (s Secret) IsSet() bool { return s != "" }

func (s Secret) mask() string {
	if s == "" {
		return ""
	}
	return redacted
}

func (s Secret) String() string { return s.mask() }

func (s Secret) GoString() string { return "Secret(" + redacted + ")" }

func (s Secret) MarshalText() ([]byte, error) { return []byte(s.mask()), nil }

func (s Secret) MarshalJSON() ([]byte, error) { return json.Marshal(s.mask()) }

func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(strings.TrimSpace(string(text)))
	return nil
}
