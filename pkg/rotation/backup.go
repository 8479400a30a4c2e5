package rotation

import (
	"sort"
	"time"
)

// Backup is a single discovered backup. It is constructed once during
// collection and never mutated afterwards.
type Backup struct {
	// Pathname identifies the backup within its container (object key or
	// file path).
	Pathname string
	// Timestamp is the point in time decoded from the backup's name.
	Timestamp time.Time
	// Kind describes the backing object ("object", "file"), used for log
	// messages only.
	Kind string
}

// Before reports whether b was taken before other. Backups with equal
// timestamps are ordered by pathname so that a collection always has a
// well-defined order.
func (b Backup) Before(other Backup) bool {
	if !b.Timestamp.Equal(other.Timestamp) {
		return b.Timestamp.Before(other.Timestamp)
	}
	return b.Pathname < other.Pathname
}

// Sort sorts backups ascending, oldest first.
func Sort(backups []Backup) {
	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Before(backups[j])
	})
}
