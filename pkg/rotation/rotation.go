// Package rotation decides which timestamped backups to keep and which to
// delete under a per-frequency retention scheme. The decision is a pure
// function of the discovered backups, the scheme and a reference instant:
// no I/O happens here, and re-running it on the surviving backups deletes
// nothing new.
package rotation

import (
	"time"
)

// Period is one calendar bucket of a frequency together with the backups
// whose timestamps fall into it, oldest first.
type Period struct {
	// Key is the human-readable bucket identifier, e.g. "2024-03-15".
	Key string
	// Backups in this period, ascending by timestamp.
	Backups []Backup

	index int64
}

// FrequencyTable holds, per frequency, the periods that currently hold
// backups, ordered from oldest to newest period.
type FrequencyTable map[Frequency][]Period

// GroupBackups buckets the given ascending backup list into periods at
// every supported frequency. A backup appears under each frequency, but
// in exactly one period per frequency.
func GroupBackups(backups []Backup) FrequencyTable {
	table := FrequencyTable{}
	for _, frequency := range Frequencies {
		var periods []Period
		for _, backup := range backups {
			index := frequency.periodIndex(backup.Timestamp)
			if n := len(periods); n > 0 && periods[n-1].index == index {
				periods[n-1].Backups = append(periods[n-1].Backups, backup)
				continue
			}
			periods = append(periods, Period{
				Key:     frequency.PeriodKey(backup.Timestamp),
				index:   index,
				Backups: []Backup{backup},
			})
		}
		table[frequency] = periods
	}
	return table
}

// ApplyScheme drops every period that falls outside the retention window
// of its frequency. For a count-based retention of N the window is the N
// consecutive calendar periods ending at the period containing the
// reference instant; "always" retains all periods. Frequencies absent
// from the scheme retain nothing.
func (t FrequencyTable) ApplyScheme(scheme Scheme, reference time.Time) {
	for _, frequency := range Frequencies {
		retention, ok := scheme[frequency]
		if !ok {
			t[frequency] = nil
			continue
		}
		if retention.Always {
			continue
		}

		newest := frequency.periodIndex(reference)
		oldest := newest - int64(retention.Count) + 1

		var retained []Period
		for _, period := range t[frequency] {
			if period.index >= oldest && period.index <= newest {
				retained = append(retained, period)
			}
		}
		t[frequency] = retained
	}
}

// PreservationSet records, per backup pathname, the frequencies that
// justify preserving the backup. A backup may be preserved for several
// reasons at once.
type PreservationSet map[string][]Frequency

// Contains reports whether the given backup is preserved.
func (p PreservationSet) Contains(b Backup) bool {
	_, ok := p[b.Pathname]
	return ok
}

// Reasons returns the frequencies that preserve the given backup.
func (p PreservationSet) Reasons(b Backup) []Frequency {
	return p[b.Pathname]
}

// PreservationCriteria selects, for every retained period of every
// frequency, the most recent backup in that period as the period's
// representative.
func (t FrequencyTable) PreservationCriteria() PreservationSet {
	preserved := PreservationSet{}
	for _, frequency := range Frequencies {
		for _, period := range t[frequency] {
			representative := period.Backups[len(period.Backups)-1]
			preserved[representative.Pathname] = append(preserved[representative.Pathname], frequency)
		}
	}
	return preserved
}

// Plan is the computed keep/delete partition of one container's backups.
type Plan struct {
	// Backups is the full ascending input.
	Backups []Backup
	// Preserved maps kept backups to their preservation reasons.
	Preserved PreservationSet
	// Deletions lists the backups not covered by any retention period,
	// ascending by timestamp.
	Deletions []Backup
}

// NothingToDo reports whether every backup is preserved.
func (p *Plan) NothingToDo() bool {
	return len(p.Deletions) == 0
}

// PlanRotation computes the keep/delete partition for the given ascending
// backup list. The reference instant anchors all count-based retention
// windows; callers normally pass the most recent backup's timestamp. The
// overall most recent backup is always preserved, even under an empty
// scheme.
func PlanRotation(backups []Backup, scheme Scheme, reference time.Time) *Plan {
	plan := &Plan{
		Backups:   backups,
		Preserved: PreservationSet{},
	}
	if len(backups) == 0 {
		return plan
	}

	table := GroupBackups(backups)
	table.ApplyScheme(scheme, reference)
	plan.Preserved = table.PreservationCriteria()

	// Never delete the newest backup, no category has to cover it.
	newest := backups[len(backups)-1]
	if !plan.Preserved.Contains(newest) {
		plan.Preserved[newest.Pathname] = []Frequency{Latest}
	}

	for _, backup := range backups {
		if !plan.Preserved.Contains(backup) {
			plan.Deletions = append(plan.Deletions, backup)
		}
	}
	return plan
}
