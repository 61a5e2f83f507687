package recipe

import (
	"fmt"
	"regexp"
	"time"
)

// durationPattern restricts Go's human duration syntax to the ms/s/m/h
// subset spec.md §6 calls for (e.g. "90s", "2m30s", "1h"). time.ParseDuration
// itself accepts finer units (ns, us/µs) that the recipe format does not.
var durationPattern = regexp.MustCompile(`^([0-9]+(ms|s|m|h))+$`)

// parseDuration parses a duration string using the ms/s/m/h subset of Go's
// duration syntax. An empty string yields zero and no error so callers can
// fall back to a field-specific default.
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	if !durationPattern.MatchString(s) {
		return 0, fmt.Errorf("invalid duration %q: must use only ms/s/m/h units", s)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}
