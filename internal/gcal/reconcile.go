package gcal

import (
	"time"

	"caretrack/api/internal/store"
)

// RemoteEvent is the slice of a Google Calendar event the reconciler cares
// about. All-day events carry AllDay=true and zero times.
type RemoteEvent struct {
	ID        string
	Summary   string
	Start     time.Time
	End       time.Time
	Cancelled bool
	AllDay    bool
}

// PullAction is the reconciler's decision for one remote event.
type PullAction int

const (
	PullSkip PullAction = iota
	PullCreateLocal
	PullUpdateLocal
	PullCancelLocal
)

// PlanPull decides what to do with a remote event given the matching local
// appointment, or nil when no local appointment carries its event ID.
func PlanPull(remote RemoteEvent, local *store.Appointment) PullAction {
	if remote.AllDay || remote.ID == "" {
		return PullSkip
	}

	if remote.Cancelled {
		if local == nil || local.Status == "cancelled" {
			return PullSkip
		}
		return PullCancelLocal
	}

	// Events with unparsable or inverted times never reach the store.
	if remote.Start.IsZero() || remote.End.IsZero() || !remote.Start.Before(remote.End) {
		return PullSkip
	}

	if local == nil {
		return PullCreateLocal
	}

	if !remote.Start.Equal(local.StartTime) || !remote.End.Equal(local.EndTime) {
		return PullUpdateLocal
	}
	return PullSkip
}

// PushAction is the reconciler's decision for one dirty local appointment.
type PushAction int

const (
	PushSkip PushAction = iota
	PushInsert
	PushPatch
	PushDelete
)

// PlanPush decides how a locally-changed appointment reaches Google.
func PlanPush(a store.Appointment) PushAction {
	cancelled := a.Status == "cancelled" || a.Status == "no_show"
	if a.GoogleEventID == "" {
		if cancelled {
			return PushSkip
		}
		return PushInsert
	}
	if cancelled {
		return PushDelete
	}
	return PushPatch
}
