package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// ParseDurationList parses every entry; zero entries are rejected.
func ParseDurationList(path string, raw []string) ([]time.Duration, error) {
	out := make([]time.Duration, 0, len(raw))
	for i, r := range raw {
		d, err := ParseDurationField(fmt.Sprintf("%s[%d]", path, i), r)
		if err != nil {
			return nil, err
		}
		if d == 0 {
			return nil, fmt.Errorf("%s[%d]: duration must be > 0", path, i)
		}
		out = append(out, d)
	}
	return out, nil
}

// ParseUTCOffset turns "+07:00", "-0330", "+7" or "UTC" into a fixed zone.
func ParseUTCOffset(path, raw string) (*time.Location, error) {
	s := strings.TrimSpace(raw)
	if s == "" || strings.EqualFold(s, "utc") || s == "Z" {
		return time.UTC, nil
	}
	sign := 1
	switch s[0] {
	case '+':
		s = s[1:]
	case '-':
		sign = -1
		s = s[1:]
	default:
		return nil, fmt.Errorf("%s: offset %q must start with + or -", path, raw)
	}
	hh, mm := s, "0"
	if i := strings.IndexByte(s, ':'); i >= 0 {
		hh, mm = s[:i], s[i+1:]
	} else if len(s) == 4 {
		hh, mm = s[:2], s[2:]
	}
	h, err1 := strconv.Atoi(hh)
	m, err2 := strconv.Atoi(mm)
	if err1 != nil || err2 != nil || h < 0 || h > 14 || m < 0 || m > 59 {
		return nil, fmt.Errorf("%s: invalid offset %q", path, raw)
	}
	secs := sign * (h*3600 + m*60)
	name := fmt.Sprintf("UTC%s", strings.TrimSpace(raw))
	return time.FixedZone(name, secs), nil
}
