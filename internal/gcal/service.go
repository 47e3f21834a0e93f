package gcal

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"

	"caretrack/api/internal/store"
	"caretrack/api/internal/util"
)

// Sync covers the practice's working history plus future bookings. Narrower
// windows kept missing recurring events during the original rollout audits.
var (
	syncWindowStart = time.Date(2015, time.January, 1, 0, 0, 0, 0, time.UTC)
	syncWindowEnd   = time.Date(2030, time.December, 31, 0, 0, 0, 0, time.UTC)
)

// Store is the subset of persistence the sync engine needs.
type Store interface {
	SaveCalendarAccount(ctx context.Context, a store.CalendarAccount) error
	GetCalendarAccount(ctx context.Context, therapistID string) (store.CalendarAccount, error)
	GetCalendarAccountByChannelID(ctx context.Context, channelID string) (store.CalendarAccount, error)
	ListCalendarAccounts(ctx context.Context) ([]store.CalendarAccount, error)
	UpdateCalendarTokens(ctx context.Context, therapistID, accessToken, refreshToken string, expiry time.Time) error
	UpdateCalendarSyncState(ctx context.Context, therapistID, syncToken string, syncedAt time.Time) error
	UpdateCalendarChannel(ctx context.Context, therapistID, channelID, resourceID string, expiry *time.Time) error
	DeleteCalendarAccount(ctx context.Context, therapistID string) error

	GetAppointmentByGoogleEventID(ctx context.Context, therapistID, googleEventID string) (store.Appointment, error)
	InsertAppointment(ctx context.Context, a store.Appointment) error
	UpdateAppointment(ctx context.Context, a store.Appointment) error
	UpdateAppointmentStatus(ctx context.Context, therapistID, appointmentID, status string) error
	ListAppointments(ctx context.Context, therapistID string, from, to time.Time) ([]store.Appointment, error)
	ListAppointmentsNeedingPush(ctx context.Context, therapistID string) ([]store.Appointment, error)
	MarkAppointmentSynced(ctx context.Context, appointmentID, googleEventID, googleCalendarID string, at time.Time) error
	FindClientByName(ctx context.Context, therapistID, name string) (store.Client, error)
	GetClient(ctx context.Context, therapistID, clientID string) (store.Client, error)
}

// SyncStats summarizes one reconciliation run.
type SyncStats struct {
	Pulled         int `json:"pulled"`
	CreatedLocal   int `json:"createdLocal"`
	UpdatedLocal   int `json:"updatedLocal"`
	CancelledLocal int `json:"cancelledLocal"`
	SkippedRemote  int `json:"skippedRemote"`
	Pushed         int `json:"pushed"`
}

// Service drives the two-way sync between local appointments and Google
// Calendar.
type Service struct {
	store Store
	oauth OAuthConfig

	webhookBaseURL string
}

func New(st Store, oauth OAuthConfig, webhookBaseURL string) *Service {
	return &Service{store: st, oauth: oauth, webhookBaseURL: webhookBaseURL}
}

// Configured reports whether Google OAuth credentials are present.
func (s *Service) Configured() bool {
	return s.oauth.Configured()
}

// Disconnect stops the push channel and removes the linked account.
func (s *Service) Disconnect(ctx context.Context, therapistID string) error {
	account, err := s.store.GetCalendarAccount(ctx, therapistID)
	if err != nil {
		return fmt.Errorf("get calendar account: %w", err)
	}
	if account.ChannelID != "" {
		if err := s.stopChannel(ctx, account); err != nil {
			log.Printf("gcal: stop channel for %s: %v", therapistID, err)
		}
	}
	return s.store.DeleteCalendarAccount(ctx, therapistID)
}

// Sync runs a pull followed by a push for one linked account.
func (s *Service) Sync(ctx context.Context, therapistID string) (SyncStats, error) {
	account, err := s.store.GetCalendarAccount(ctx, therapistID)
	if err != nil {
		return SyncStats{}, fmt.Errorf("get calendar account: %w", err)
	}

	svc, err := s.calendarService(ctx, account)
	if err != nil {
		return SyncStats{}, err
	}

	stats, err := s.pull(ctx, svc, account)
	if err != nil {
		return stats, err
	}

	pushed, err := s.push(ctx, svc, account)
	stats.Pushed = pushed
	if err != nil {
		return stats, err
	}
	return stats, nil
}

// SyncAll reconciles every linked account. Errors are logged per account so
// one broken token does not stall the rest.
func (s *Service) SyncAll(ctx context.Context) {
	accounts, err := s.store.ListCalendarAccounts(ctx)
	if err != nil {
		log.Printf("gcal: list calendar accounts: %v", err)
		return
	}
	for _, account := range accounts {
		stats, err := s.Sync(ctx, account.TherapistID)
		if err != nil {
			log.Printf("gcal: sync %s: %v", account.TherapistID, err)
			continue
		}
		if stats.CreatedLocal+stats.UpdatedLocal+stats.CancelledLocal+stats.Pushed > 0 {
			log.Printf("gcal: sync %s: pulled=%d created=%d updated=%d cancelled=%d pushed=%d",
				account.TherapistID, stats.Pulled, stats.CreatedLocal, stats.UpdatedLocal, stats.CancelledLocal, stats.Pushed)
		}
	}
}

// pull fetches remote events, incrementally when a sync token is stored, and
// reconciles them into local appointments.
func (s *Service) pull(ctx context.Context, svc *calendar.Service, account store.CalendarAccount) (SyncStats, error) {
	var stats SyncStats

	events, nextSyncToken, err := s.listEvents(ctx, svc, account)
	if err != nil {
		return stats, err
	}
	stats.Pulled = len(events)

	for _, event := range events {
		remote := toRemoteEvent(event)

		var local *store.Appointment
		if remote.ID != "" {
			existing, err := s.store.GetAppointmentByGoogleEventID(ctx, account.TherapistID, remote.ID)
			if err == nil {
				local = &existing
			}
		}

		switch PlanPull(remote, local) {
		case PullCreateLocal:
			if err := s.createLocal(ctx, account, remote); err != nil {
				log.Printf("gcal: create local for event %s: %v", remote.ID, err)
				stats.SkippedRemote++
				continue
			}
			stats.CreatedLocal++
		case PullUpdateLocal:
			local.StartTime = remote.Start
			local.EndTime = remote.End
			if err := s.store.UpdateAppointment(ctx, *local); err != nil {
				return stats, fmt.Errorf("update local appointment %s: %w", local.ID, err)
			}
			if err := s.store.MarkAppointmentSynced(ctx, local.ID, remote.ID, account.CalendarID, time.Now()); err != nil {
				return stats, fmt.Errorf("mark appointment synced: %w", err)
			}
			stats.UpdatedLocal++
		case PullCancelLocal:
			if err := s.store.UpdateAppointmentStatus(ctx, account.TherapistID, local.ID, "cancelled"); err != nil {
				return stats, fmt.Errorf("cancel local appointment %s: %w", local.ID, err)
			}
			stats.CancelledLocal++
		default:
			stats.SkippedRemote++
		}
	}

	if nextSyncToken != "" {
		if err := s.store.UpdateCalendarSyncState(ctx, account.TherapistID, nextSyncToken, time.Now()); err != nil {
			return stats, fmt.Errorf("save sync token: %w", err)
		}
	}
	return stats, nil
}

// listEvents pages through the event feed. A stored sync token makes the
// fetch incremental; Google answers 410 when the token is too old, which
// forces a full-window fetch.
func (s *Service) listEvents(ctx context.Context, svc *calendar.Service, account store.CalendarAccount) ([]*calendar.Event, string, error) {
	events, token, err := s.listEventsWith(ctx, svc, account, account.SyncToken)
	if err == nil {
		return events, token, nil
	}

	var apiErr *googleapi.Error
	if account.SyncToken != "" && errors.As(err, &apiErr) && apiErr.Code == 410 {
		log.Printf("gcal: sync token expired for %s, full resync", account.TherapistID)
		return s.listEventsWith(ctx, svc, account, "")
	}
	return nil, "", err
}

func (s *Service) listEventsWith(ctx context.Context, svc *calendar.Service, account store.CalendarAccount, syncToken string) ([]*calendar.Event, string, error) {
	var (
		all       []*calendar.Event
		pageToken string
		nextSync  string
	)
	for {
		call := svc.Events.List(account.CalendarID).
			Context(ctx).
			SingleEvents(true).
			ShowDeleted(true).
			MaxResults(250)
		if syncToken != "" {
			call = call.SyncToken(syncToken)
		} else {
			call = call.
				TimeMin(syncWindowStart.Format(time.RFC3339)).
				TimeMax(syncWindowEnd.Format(time.RFC3339))
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			return nil, "", fmt.Errorf("list events: %w", err)
		}

		all = append(all, resp.Items...)
		nextSync = resp.NextSyncToken
		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}
	return all, nextSync, nil
}

// createLocal books a remote event as a local appointment, matching the
// client by the event summary. Events that name no known client are skipped.
func (s *Service) createLocal(ctx context.Context, account store.CalendarAccount, remote RemoteEvent) error {
	client, err := s.store.FindClientByName(ctx, account.TherapistID, remote.Summary)
	if err != nil {
		return fmt.Errorf("no client matches summary %q: %w", remote.Summary, err)
	}

	now := time.Now()
	appointment := store.Appointment{
		ID:               util.NewID("appt"),
		TherapistID:      account.TherapistID,
		ClientID:         client.ID,
		StartTime:        remote.Start,
		EndTime:          remote.End,
		Type:             "individual",
		Status:           "scheduled",
		GoogleEventID:    remote.ID,
		GoogleCalendarID: account.CalendarID,
		LastSyncedAt:     &now,
	}
	if err := s.store.InsertAppointment(ctx, appointment); err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

// push sends locally-created and locally-updated appointments to Google.
func (s *Service) push(ctx context.Context, svc *calendar.Service, account store.CalendarAccount) (int, error) {
	dirty, err := s.store.ListAppointmentsNeedingPush(ctx, account.TherapistID)
	if err != nil {
		return 0, fmt.Errorf("list appointments needing push: %w", err)
	}

	pushed := 0
	for _, appointment := range dirty {
		switch PlanPush(appointment) {
		case PushInsert:
			if err := s.pushInsert(ctx, svc, account, appointment); err != nil {
				log.Printf("gcal: push insert %s: %v", appointment.ID, err)
				continue
			}
			pushed++
		case PushPatch:
			if err := s.pushPatch(ctx, svc, account, appointment); err != nil {
				log.Printf("gcal: push patch %s: %v", appointment.ID, err)
				continue
			}
			pushed++
		case PushDelete:
			if err := s.pushDelete(ctx, svc, account, appointment); err != nil {
				log.Printf("gcal: push delete %s: %v", appointment.ID, err)
				continue
			}
			pushed++
		}
	}
	return pushed, nil
}

func (s *Service) pushInsert(ctx context.Context, svc *calendar.Service, account store.CalendarAccount, appointment store.Appointment) error {
	event, err := s.buildEvent(ctx, account, appointment)
	if err != nil {
		return err
	}
	created, err := svc.Events.Insert(account.CalendarID, event).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return s.store.MarkAppointmentSynced(ctx, appointment.ID, created.Id, account.CalendarID, time.Now())
}

func (s *Service) pushPatch(ctx context.Context, svc *calendar.Service, account store.CalendarAccount, appointment store.Appointment) error {
	event, err := s.buildEvent(ctx, account, appointment)
	if err != nil {
		return err
	}
	if _, err := svc.Events.Patch(account.CalendarID, appointment.GoogleEventID, event).Context(ctx).Do(); err != nil {
		return fmt.Errorf("patch event: %w", err)
	}
	return s.store.MarkAppointmentSynced(ctx, appointment.ID, appointment.GoogleEventID, account.CalendarID, time.Now())
}

func (s *Service) pushDelete(ctx context.Context, svc *calendar.Service, account store.CalendarAccount, appointment store.Appointment) error {
	err := svc.Events.Delete(account.CalendarID, appointment.GoogleEventID).Context(ctx).Do()
	var apiErr *googleapi.Error
	if err != nil && !(errors.As(err, &apiErr) && (apiErr.Code == 404 || apiErr.Code == 410)) {
		return fmt.Errorf("delete event: %w", err)
	}
	return s.store.MarkAppointmentSynced(ctx, appointment.ID, appointment.GoogleEventID, account.CalendarID, time.Now())
}

func (s *Service) buildEvent(ctx context.Context, account store.CalendarAccount, appointment store.Appointment) (*calendar.Event, error) {
	client, err := s.store.GetClient(ctx, account.TherapistID, appointment.ClientID)
	if err != nil {
		return nil, fmt.Errorf("get client %s: %w", appointment.ClientID, err)
	}
	return &calendar.Event{
		Summary:  client.FullName(),
		Location: appointment.Location,
		Start:    &calendar.EventDateTime{DateTime: appointment.StartTime.Format(time.RFC3339)},
		End:      &calendar.EventDateTime{DateTime: appointment.EndTime.Format(time.RFC3339)},
	}, nil
}

// Conflicts lists overlapping active appointments within the sync window.
func (s *Service) Conflicts(ctx context.Context, therapistID string) ([]Conflict, error) {
	appointments, err := s.store.ListAppointments(ctx, therapistID, syncWindowStart, syncWindowEnd)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return FindConflicts(appointments), nil
}

func toRemoteEvent(event *calendar.Event) RemoteEvent {
	remote := RemoteEvent{
		ID:        event.Id,
		Summary:   event.Summary,
		Cancelled: event.Status == "cancelled",
	}
	if event.Start != nil {
		if event.Start.DateTime == "" && event.Start.Date != "" {
			remote.AllDay = true
		} else if t, err := time.Parse(time.RFC3339, event.Start.DateTime); err == nil {
			remote.Start = t
		}
	}
	if event.End != nil && event.End.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, event.End.DateTime); err == nil {
			remote.End = t
		}
	}
	return remote
}
