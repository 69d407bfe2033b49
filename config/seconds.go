package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Seconds is a duration written either as a bare number of seconds ("10") or
// as a Go duration string ("250ms").
type Seconds time.Duration

// Duration converts s to a time.Duration.
func (s Seconds) Duration() time.Duration { return time.Duration(s) }

func (s *Seconds) UnmarshalYAML(value *yaml.Node) error {
	d, err := parseSeconds(value.Value)
	if err != nil {
		return errors.Wrapf(err, "line %d", value.Line)
	}
	*s = Seconds(d)
	return nil
}

// parseSeconds reads a bare number as seconds, fractions included, and
// anything else as a Go duration.
func parseSeconds(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, errors.Wrapf(err, "bad duration %q", s)
	}
	return d, nil
}
