package gcal

import (
	"sort"
	"time"

	"caretrack/api/internal/store"
)

// Conflict is a pair of active appointments for the same therapist whose
// intervals overlap.
type Conflict struct {
	First  store.Appointment `json:"first"`
	Second store.Appointment `json:"second"`
}

// Overlaps reports whether two half-open intervals [aStart, aEnd) and
// [bStart, bEnd) intersect. Back-to-back appointments do not conflict.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// FindConflicts scans a therapist's appointments for overlapping pairs.
// Cancelled and no-show appointments never conflict. Pairs come back ordered
// by the earlier start time.
func FindConflicts(appointments []store.Appointment) []Conflict {
	active := make([]store.Appointment, 0, len(appointments))
	for _, a := range appointments {
		if a.Status == "cancelled" || a.Status == "no_show" {
			continue
		}
		active = append(active, a)
	}

	sort.Slice(active, func(i, j int) bool {
		return active[i].StartTime.Before(active[j].StartTime)
	})

	var conflicts []Conflict
	for i := 0; i < len(active); i++ {
		for j := i + 1; j < len(active); j++ {
			if !active[j].StartTime.Before(active[i].EndTime) {
				break
			}
			if Overlaps(active[i].StartTime, active[i].EndTime, active[j].StartTime, active[j].EndTime) {
				conflicts = append(conflicts, Conflict{First: active[i], Second: active[j]})
			}
		}
	}
	return conflicts
}
