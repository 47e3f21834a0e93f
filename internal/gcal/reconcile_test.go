package gcal

import (
	"testing"
	"time"

	"caretrack/api/internal/store"
)

func TestPlanPull(t *testing.T) {
	start := time.Date(2025, time.March, 3, 10, 0, 0, 0, time.UTC)
	end := start.Add(50 * time.Minute)

	local := &store.Appointment{
		ID:            "appt-1",
		Status:        "scheduled",
		StartTime:     start,
		EndTime:       end,
		GoogleEventID: "evt-1",
	}

	tests := []struct {
		name   string
		remote RemoteEvent
		local  *store.Appointment
		want   PullAction
	}{
		{
			name:   "all-day events are skipped",
			remote: RemoteEvent{ID: "evt-1", AllDay: true},
			want:   PullSkip,
		},
		{
			name:   "unknown event creates local",
			remote: RemoteEvent{ID: "evt-2", Summary: "Jordan Lee", Start: start, End: end},
			want:   PullCreateLocal,
		},
		{
			name:   "unknown event with inverted times is skipped",
			remote: RemoteEvent{ID: "evt-3", Start: end, End: start},
			want:   PullSkip,
		},
		{
			name:   "matched event with zero times is skipped",
			remote: RemoteEvent{ID: "evt-1"},
			local:  local,
			want:   PullSkip,
		},
		{
			name:   "matched event with inverted times is skipped",
			remote: RemoteEvent{ID: "evt-1", Start: end, End: start},
			local:  local,
			want:   PullSkip,
		},
		{
			name:   "matched event with same times is a no-op",
			remote: RemoteEvent{ID: "evt-1", Start: start, End: end},
			local:  local,
			want:   PullSkip,
		},
		{
			name:   "matched event with drifted times updates local",
			remote: RemoteEvent{ID: "evt-1", Start: start.Add(30 * time.Minute), End: end.Add(30 * time.Minute)},
			local:  local,
			want:   PullUpdateLocal,
		},
		{
			name:   "remote cancellation cancels local",
			remote: RemoteEvent{ID: "evt-1", Cancelled: true},
			local:  local,
			want:   PullCancelLocal,
		},
		{
			name:   "cancellation of unknown event is skipped",
			remote: RemoteEvent{ID: "evt-9", Cancelled: true},
			want:   PullSkip,
		},
		{
			name:   "cancellation of already-cancelled local is skipped",
			remote: RemoteEvent{ID: "evt-1", Cancelled: true},
			local:  &store.Appointment{ID: "appt-1", Status: "cancelled", GoogleEventID: "evt-1"},
			want:   PullSkip,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PlanPull(tt.remote, tt.local); got != tt.want {
				t.Errorf("PlanPull() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPlanPush(t *testing.T) {
	tests := []struct {
		name string
		appt store.Appointment
		want PushAction
	}{
		{
			name: "new local appointment inserts",
			appt: store.Appointment{Status: "scheduled"},
			want: PushInsert,
		},
		{
			name: "new but already cancelled never reaches google",
			appt: store.Appointment{Status: "cancelled"},
			want: PushSkip,
		},
		{
			name: "updated synced appointment patches",
			appt: store.Appointment{Status: "confirmed", GoogleEventID: "evt-1"},
			want: PushPatch,
		},
		{
			name: "cancelled synced appointment deletes remote",
			appt: store.Appointment{Status: "cancelled", GoogleEventID: "evt-1"},
			want: PushDelete,
		},
		{
			name: "no-show synced appointment deletes remote",
			appt: store.Appointment{Status: "no_show", GoogleEventID: "evt-1"},
			want: PushDelete,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PlanPush(tt.appt); got != tt.want {
				t.Errorf("PlanPush() = %v, want %v", got, tt.want)
			}
		})
	}
}
