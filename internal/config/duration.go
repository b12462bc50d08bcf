package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration is a time.Duration decoded from the environment. Besides Go duration
// syntax it accepts a leading day count, e.g. "7d" or "1d12h".
type Duration struct {
	time.Duration
}

// EnvDecode implements envconfig.Decoder
func (d *Duration) EnvDecode(v string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}

	var days time.Duration
	if i := strings.IndexByte(v, 'd'); i > 0 {
		n, err := strconv.Atoi(v[:i])
		if err != nil {
			return fmt.Errorf("invalid days value %q: %w", v[:i], err)
		}
		days = time.Duration(n) * 24 * time.Hour
		v = v[i+1:]
	}

	var rest time.Duration
	if v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		rest = parsed
	}

	if days+rest < 0 {
		return fmt.Errorf("duration must not be negative")
	}
	d.Duration = days + rest
	return nil
}

// Or returns the duration, or fallback when it is unset
func (d Duration) Or(fallback time.Duration) time.Duration {
	if d.Duration <= 0 {
		return fallback
	}
	return d.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	return d.EnvDecode(string(text))
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func (d Duration) String() string {
	return d.Duration.String()
}
