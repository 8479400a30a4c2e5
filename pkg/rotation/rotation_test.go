package rotation

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backupAt(t time.Time) Backup {
	return Backup{
		Pathname:  "backup-" + t.Format("2006-01-02-150405"),
		Timestamp: t,
		Kind:      "object",
	}
}

func dailyBackups(start time.Time, days int) []Backup {
	backups := make([]Backup, 0, days)
	for i := 0; i < days; i++ {
		backups = append(backups, backupAt(start.AddDate(0, 0, i)))
	}
	return backups
}

func pathnames(backups []Backup) []string {
	names := make([]string, 0, len(backups))
	for _, b := range backups {
		names = append(names, b.Pathname)
	}
	return names
}

func TestPlanRotationEndToEnd(t *testing.T) {
	// the three-backups example: daily=2 keeps the two most recent days
	backups := []Backup{
		{Pathname: "backup-2024-01-01-000000", Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{Pathname: "backup-2024-01-02-000000", Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
		{Pathname: "backup-2024-01-03-000000", Timestamp: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)},
	}

	plan := PlanRotation(backups, Scheme{Daily: RetainCount(2)}, backups[2].Timestamp)

	assert.Equal(t, []string{"backup-2024-01-01-000000"}, pathnames(plan.Deletions))
	assert.True(t, plan.Preserved.Contains(backups[1]))
	assert.True(t, plan.Preserved.Contains(backups[2]))
	assert.False(t, plan.NothingToDo())
}

func TestPlanRotationMostRecentAlwaysKept(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		scheme Scheme
	}{
		{name: "empty scheme", scheme: Scheme{}},
		{name: "nil scheme", scheme: nil},
		{name: "hourly only", scheme: Scheme{Hourly: RetainCount(1)}},
		{name: "all frequencies", scheme: Scheme{Hourly: RetainCount(1), Daily: RetainCount(2), Weekly: RetainCount(3), Monthly: RetainCount(4), Yearly: RetainAlways()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backups := dailyBackups(start, 10)
			newest := backups[len(backups)-1]

			plan := PlanRotation(backups, tt.scheme, newest.Timestamp)

			require.True(t, plan.Preserved.Contains(newest))
			assert.NotEmpty(t, plan.Preserved.Reasons(newest))
		})
	}
}

func TestPlanRotationEmptySchemeDeletesAllButNewest(t *testing.T) {
	backups := dailyBackups(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 5)
	newest := backups[len(backups)-1]

	plan := PlanRotation(backups, Scheme{}, newest.Timestamp)

	require.Len(t, plan.Deletions, 4)
	assert.Equal(t, []Frequency{Latest}, plan.Preserved.Reasons(newest))
}

func TestPlanRotationCountRespected(t *testing.T) {
	// ten consecutive days, daily=3: exactly the three most recent days survive
	backups := dailyBackups(time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC), 10)
	newest := backups[len(backups)-1]

	plan := PlanRotation(backups, Scheme{Daily: RetainCount(3)}, newest.Timestamp)

	var daily []Backup
	for _, b := range backups {
		for _, reason := range plan.Preserved.Reasons(b) {
			if reason == Daily {
				daily = append(daily, b)
			}
		}
	}

	require.Len(t, daily, 3)
	assert.Equal(t, pathnames(backups[7:]), pathnames(daily))
	assert.Equal(t, pathnames(backups[:7]), pathnames(plan.Deletions))
}

func TestPlanRotationCountWindowIsCalendarBased(t *testing.T) {
	// days with no backup still consume the retention window: with
	// backups 9, 5 and 0 days old, daily=3 only covers the newest one
	newest := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	backups := []Backup{
		backupAt(newest.AddDate(0, 0, -9)),
		backupAt(newest.AddDate(0, 0, -5)),
		backupAt(newest),
	}

	plan := PlanRotation(backups, Scheme{Daily: RetainCount(3)}, newest)

	assert.Equal(t, pathnames(backups[:2]), pathnames(plan.Deletions))
	assert.Contains(t, plan.Preserved.Reasons(backups[2]), Daily)
}

func TestPlanRotationAlwaysSentinel(t *testing.T) {
	// five years, one backup per year, yearly=always: every year's
	// representative survives
	var backups []Backup
	for year := 2020; year <= 2024; year++ {
		backups = append(backups, backupAt(time.Date(year, 6, 1, 0, 0, 0, 0, time.UTC)))
	}

	plan := PlanRotation(backups, Scheme{Yearly: RetainAlways()}, backups[len(backups)-1].Timestamp)

	assert.True(t, plan.NothingToDo())
	for _, b := range backups {
		assert.Contains(t, plan.Preserved.Reasons(b), Yearly)
	}
}

func TestPlanRotationMultipleReasonsRecorded(t *testing.T) {
	// a backup that is the most recent of its day, week, month and year
	// at once is preserved for all of those reasons
	backups := []Backup{
		backupAt(time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)),
		backupAt(time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)),
	}
	newest := backups[1]

	plan := PlanRotation(backups, Scheme{Daily: RetainCount(7), Weekly: RetainCount(4), Monthly: RetainCount(12), Yearly: RetainCount(1)}, newest.Timestamp)

	reasons := plan.Preserved.Reasons(newest)
	assert.Contains(t, reasons, Daily)
	assert.Contains(t, reasons, Weekly)
	assert.Contains(t, reasons, Monthly)
	assert.Contains(t, reasons, Yearly)
}

func TestPlanRotationTieBreakOnEqualTimestamps(t *testing.T) {
	// equal timestamps are ordered by name, the lexicographically larger
	// name is the period's representative
	ts := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	backups := []Backup{
		{Pathname: "a-2024-03-15-120000", Timestamp: ts},
		{Pathname: "b-2024-03-15-120000", Timestamp: ts},
	}
	Sort(backups)

	plan := PlanRotation(backups, Scheme{Daily: RetainCount(1)}, ts)

	assert.Equal(t, []string{"a-2024-03-15-120000"}, pathnames(plan.Deletions))
	assert.True(t, plan.Preserved.Contains(backups[1]))
}

func TestPlanRotationIdempotent(t *testing.T) {
	// rotating the survivors of a rotation again deletes nothing new
	start := time.Date(2024, 1, 1, 3, 30, 0, 0, time.UTC)
	var backups []Backup
	for i := 0; i < 90; i++ {
		backups = append(backups, backupAt(start.Add(time.Duration(i*7) * time.Hour)))
	}
	scheme := Scheme{Hourly: RetainCount(24), Daily: RetainCount(7), Weekly: RetainCount(4), Monthly: RetainCount(3)}
	reference := backups[len(backups)-1].Timestamp

	first := PlanRotation(backups, scheme, reference)
	require.NotEmpty(t, first.Deletions)

	var survivors []Backup
	for _, b := range backups {
		if first.Preserved.Contains(b) {
			survivors = append(survivors, b)
		}
	}

	second := PlanRotation(survivors, scheme, reference)
	assert.Empty(t, second.Deletions, "second run must delete nothing")
	assert.True(t, second.NothingToDo())
}

func TestPlanRotationDeterministic(t *testing.T) {
	backups := dailyBackups(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 30)
	scheme := Scheme{Daily: RetainCount(7), Weekly: RetainCount(2)}
	reference := backups[len(backups)-1].Timestamp

	first := PlanRotation(backups, scheme, reference)
	second := PlanRotation(backups, scheme, reference)

	assert.Equal(t, pathnames(first.Deletions), pathnames(second.Deletions))
	assert.Equal(t, first.Preserved, second.Preserved)
}

func TestPlanRotationEmptyInput(t *testing.T) {
	plan := PlanRotation(nil, Scheme{Daily: RetainCount(7)}, time.Now())

	assert.True(t, plan.NothingToDo())
	assert.Empty(t, plan.Backups)
	assert.Empty(t, plan.Preserved)
}

func TestGroupBackups(t *testing.T) {
	backups := []Backup{
		backupAt(time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)),
		backupAt(time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)),
		backupAt(time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)),
		backupAt(time.Date(2024, 3, 16, 10, 0, 0, 0, time.UTC)),
	}

	table := GroupBackups(backups)

	require.Len(t, table[Hourly], 3)
	require.Len(t, table[Daily], 2)
	require.Len(t, table[Weekly], 1)
	require.Len(t, table[Monthly], 1)
	require.Len(t, table[Yearly], 1)

	assert.Equal(t, "2024-03-15", table[Daily][0].Key)
	assert.Len(t, table[Daily][0].Backups, 3)
	assert.Equal(t, "2024-03-16", table[Daily][1].Key)
	assert.Len(t, table[Daily][1].Backups, 1)

	// every frequency sees all backups exactly once
	for _, frequency := range Frequencies {
		total := 0
		for _, period := range table[frequency] {
			total += len(period.Backups)
		}
		assert.Equal(t, len(backups), total, fmt.Sprintf("frequency %s", frequency))
	}
}
