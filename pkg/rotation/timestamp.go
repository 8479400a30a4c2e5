package rotation

import (
	"regexp"
	"strconv"
	"time"
)

// timestampPattern matches a timestamp embedded in a backup name. The
// fields are fixed-width: year(4), month(2), day(2), hour(2), minute(2)
// and second(2), each pair optionally joined by a single non-digit
// character. The seconds are optional and default to zero, so both
// "backup-2024-03-15-120000.tar.gz" and "db_20240315-1200.sql" match.
var timestampPattern = regexp.MustCompile(`(\d{4})\D?(\d{2})\D?(\d{2})\D?(\d{2})\D?(\d{2})\D?(\d{2})?`)

// ExtractTimestamp finds the first timestamp embedded in name and decodes
// it in UTC. It returns false when the name contains no valid timestamp,
// which callers treat as "not a backup" rather than an error.
func ExtractTimestamp(name string) (time.Time, bool) {
	m := timestampPattern.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, false
	}

	fields := make([]int, 6)
	for i, group := range m[1:] {
		if group == "" {
			continue // optional seconds
		}
		n, err := strconv.Atoi(group)
		if err != nil {
			return time.Time{}, false
		}
		fields[i] = n
	}

	year, month, day := fields[0], fields[1], fields[2]
	hour, minute, second := fields[3], fields[4], fields[5]

	t := time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC)

	// time.Date normalizes out-of-range fields (month 13 becomes January
	// of the following year), so a decoded timestamp only counts when it
	// round-trips to the same calendar fields.
	if t.Year() != year || t.Month() != time.Month(month) || t.Day() != day ||
		t.Hour() != hour || t.Minute() != minute || t.Second() != second {
		return time.Time{}, false
	}

	return t, true
}
