// Package updatecheck implements the Update-Policy Analyzer and
// Update-Check Manager (§4.7): deciding whether a cached file is stale
// enough to warrant a remote re-check, and persisting the outcome of each
// check so repeated resolutions within the policy's window skip the
// network entirely.
package updatecheck

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Policy is a parsed update-policy string: "never", "always", "daily", or
// "interval:<minutes>" (§4.7).
type Policy struct {
	raw      string
	interval time.Duration
	known    bool
}

// Parse parses a raw policy string, tolerating unknown values (treated as
// "never" but logged once by the caller per §4.7).
func Parse(raw string) Policy {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "always", raw == "daily", raw == "never":
		return Policy{raw: raw, known: true}
	case strings.HasPrefix(raw, "interval:"):
		minutes, err := strconv.Atoi(strings.TrimPrefix(raw, "interval:"))
		if err != nil || minutes < 0 {
			return Policy{raw: raw}
		}
		return Policy{raw: raw, interval: time.Duration(minutes) * time.Minute, known: true}
	default:
		return Policy{raw: raw}
	}
}

// String returns the policy's original textual form.
func (p Policy) String() string { return p.raw }

// Ordinal returns the policy's ordinal for effective-policy comparison:
// ordinal(never) = +Inf, ordinal(always) = 0, ordinal(daily) = 1440,
// ordinal(interval:m) = m. Unknown policies behave like "never".
func (p Policy) Ordinal() float64 {
	switch {
	case !p.known:
		return math.Inf(1)
	case p.raw == "always":
		return 0
	case p.raw == "daily":
		return 1440
	case p.raw == "never":
		return math.Inf(1)
	default:
		return p.interval.Minutes()
	}
}

// Effective returns the more-frequent (smaller-ordinal) of a and b (§4.5
// "the more-frequent update policy").
func Effective(a, b Policy) Policy {
	if a.Ordinal() <= b.Ordinal() {
		return a
	}
	return b
}

// IsUpdateRequired reports whether a file last checked at lastModified is
// stale under p, evaluated at now.
func (p Policy) IsUpdateRequired(lastModified, now time.Time) bool {
	switch {
	case !p.known || p.raw == "never":
		return false
	case p.raw == "always":
		return true
	case p.raw == "daily":
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		return lastModified.Before(midnight)
	default:
		return lastModified.Before(now.Add(-p.interval))
	}
}
