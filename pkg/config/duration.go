package config

import (
	"fmt"
	"time"

	"github.com/sosodev/duration"
)

// ParseDuration accepts ISO 8601 ("PT15M", "P30D") and falls back to Go syntax ("15m").
func ParseDuration(s string) (time.Duration, error) {
	isoDuration, err := duration.Parse(s)
	if err == nil {
		return isoDuration.ToTimeDuration(), nil
	}
	d, goErr := time.ParseDuration(s)
	if goErr != nil {
		return 0, fmt.Errorf("invalid duration %q: not ISO 8601 or Go format", s)
	}
	return d, nil
}
