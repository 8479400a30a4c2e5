package rotation

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Frequency is one of the supported rotation frequencies.
type Frequency string

const (
	Hourly  Frequency = "hourly"
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
	Yearly  Frequency = "yearly"

	// Latest is not a real frequency but the preservation reason attached
	// to the overall most recent backup, which is never deleted.
	Latest Frequency = "latest"
)

// Frequencies lists the supported rotation frequencies ordered by
// increasing period width.
var Frequencies = []Frequency{Hourly, Daily, Weekly, Monthly, Yearly}

// PeriodKey returns the calendar bucket identifier of t at this
// frequency, e.g. "2024-03-15" for Daily or "2024-W11" for Weekly.
// Weekly buckets follow ISO 8601 week numbering.
func (f Frequency) PeriodKey(t time.Time) string {
	switch f {
	case Hourly:
		return t.Format("2006-01-02 15h")
	case Daily:
		return t.Format("2006-01-02")
	case Weekly:
		year, week := t.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	case Monthly:
		return t.Format("2006-01")
	case Yearly:
		return t.Format("2006")
	default:
		return ""
	}
}

// periodIndex maps t to a consecutive integer numbering of this
// frequency's periods. Two timestamps share a period exactly when their
// indexes are equal, and retention windows are computed as index ranges.
func (f Frequency) periodIndex(t time.Time) int64 {
	t = t.UTC()
	switch f {
	case Hourly:
		return floorDiv(t.Unix(), 3600)
	case Daily:
		return floorDiv(t.Unix(), 86400)
	case Weekly:
		// ISO weeks run Monday to Sunday. The Monday before the Unix
		// epoch is 1969-12-29, three days earlier.
		return floorDiv(t.Unix()+3*86400, 7*86400)
	case Monthly:
		return int64(t.Year())*12 + int64(t.Month()) - 1
	case Yearly:
		return int64(t.Year())
	default:
		return 0
	}
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b < 0 {
		q--
	}
	return q
}

// ErrInvalidRetention is returned when a configured retention value is
// neither a positive integer nor the string "always".
var ErrInvalidRetention = errors.New(`retention must be a positive integer or "always"`)

// Retention is the policy for a single frequency: keep the most recent
// Count periods, or every period when Always is set.
type Retention struct {
	Count  int
	Always bool
}

// RetainCount returns a retention policy keeping the n most recent
// periods.
func RetainCount(n int) Retention {
	return Retention{Count: n}
}

// RetainAlways returns a retention policy keeping all periods.
func RetainAlways() Retention {
	return Retention{Always: true}
}

func (r Retention) String() string {
	if r.Always {
		return "always"
	}
	return strconv.Itoa(r.Count)
}

// ParseRetention parses a retention value from its string form, either a
// positive integer or the sentinel "always".
func ParseRetention(value string) (Retention, error) {
	if strings.EqualFold(strings.TrimSpace(value), "always") {
		return RetainAlways(), nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n <= 0 {
		return Retention{}, fmt.Errorf("%w, got %q", ErrInvalidRetention, value)
	}
	return RetainCount(n), nil
}

// Scheme maps frequencies to their retention policy. Frequencies absent
// from the scheme retain nothing in that category.
type Scheme map[Frequency]Retention

// Validate checks that all retention values in the scheme are valid and
// that no unknown frequency is present.
func (s Scheme) Validate() error {
	for frequency, retention := range s {
		if !slices.Contains(Frequencies, frequency) {
			return fmt.Errorf("unsupported rotation frequency %q", frequency)
		}
		if !retention.Always && retention.Count <= 0 {
			return fmt.Errorf("%s: %w, got %d", frequency, ErrInvalidRetention, retention.Count)
		}
	}
	return nil
}

func (s Scheme) String() string {
	var parts []string
	for _, frequency := range Frequencies {
		if retention, ok := s[frequency]; ok {
			parts = append(parts, fmt.Sprintf("%s=%s", frequency, retention))
		}
	}
	return strings.Join(parts, ",")
}
