package gcal

import (
	"context"
	"fmt"
	"log"
	"time"

	calendar "google.golang.org/api/calendar/v3"

	"caretrack/api/internal/store"
	"caretrack/api/internal/util"
)

// Channels are renewed when they expire within this margin.
const channelRenewMargin = 24 * time.Hour

// StartWatch opens a push notification channel so Google notifies the webhook
// endpoint on calendar changes instead of waiting for the next cron run.
func (s *Service) StartWatch(ctx context.Context, therapistID string) error {
	if s.webhookBaseURL == "" {
		return fmt.Errorf("webhook base url not configured")
	}

	account, err := s.store.GetCalendarAccount(ctx, therapistID)
	if err != nil {
		return fmt.Errorf("get calendar account: %w", err)
	}

	svc, err := s.calendarService(ctx, account)
	if err != nil {
		return err
	}

	channel := &calendar.Channel{
		Id:      util.NewID("chan"),
		Type:    "web_hook",
		Address: s.webhookBaseURL + "/api/calendar/webhook",
	}
	resp, err := svc.Events.Watch(account.CalendarID, channel).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("watch calendar: %w", err)
	}

	var expiry *time.Time
	if resp.Expiration > 0 {
		t := time.UnixMilli(resp.Expiration)
		expiry = &t
	}
	if err := s.store.UpdateCalendarChannel(ctx, therapistID, resp.Id, resp.ResourceId, expiry); err != nil {
		return fmt.Errorf("save channel: %w", err)
	}
	return nil
}

// StopWatch closes the account's push channel.
func (s *Service) StopWatch(ctx context.Context, therapistID string) error {
	account, err := s.store.GetCalendarAccount(ctx, therapistID)
	if err != nil {
		return fmt.Errorf("get calendar account: %w", err)
	}
	if account.ChannelID == "" {
		return nil
	}
	if err := s.stopChannel(ctx, account); err != nil {
		return err
	}
	return s.store.UpdateCalendarChannel(ctx, therapistID, "", "", nil)
}

func (s *Service) stopChannel(ctx context.Context, account store.CalendarAccount) error {
	svc, err := s.calendarService(ctx, account)
	if err != nil {
		return err
	}
	err = svc.Channels.Stop(&calendar.Channel{
		Id:         account.ChannelID,
		ResourceId: account.ResourceID,
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("stop channel: %w", err)
	}
	return nil
}

// RenewExpiringChannels restarts push channels that expire soon. Google caps
// channel lifetime, so this runs from cron.
func (s *Service) RenewExpiringChannels(ctx context.Context) {
	accounts, err := s.store.ListCalendarAccounts(ctx)
	if err != nil {
		log.Printf("gcal: list calendar accounts: %v", err)
		return
	}

	cutoff := time.Now().Add(channelRenewMargin)
	for _, account := range accounts {
		if account.ChannelID == "" || account.ChannelExpiry == nil || account.ChannelExpiry.After(cutoff) {
			continue
		}
		if err := s.stopChannel(ctx, account); err != nil {
			log.Printf("gcal: stop expiring channel for %s: %v", account.TherapistID, err)
		}
		if err := s.StartWatch(ctx, account.TherapistID); err != nil {
			log.Printf("gcal: renew channel for %s: %v", account.TherapistID, err)
		}
	}
}

// HandleNotification reacts to a Google webhook delivery. The initial "sync"
// message confirms the channel; everything else triggers an incremental sync
// for the owning account.
func (s *Service) HandleNotification(ctx context.Context, channelID, resourceState string) error {
	if channelID == "" {
		return fmt.Errorf("missing channel id")
	}
	if resourceState == "sync" {
		return nil
	}

	account, err := s.store.GetCalendarAccountByChannelID(ctx, channelID)
	if err != nil {
		return fmt.Errorf("unknown channel %s: %w", channelID, err)
	}

	if _, err := s.Sync(ctx, account.TherapistID); err != nil {
		return fmt.Errorf("sync after notification: %w", err)
	}
	return nil
}
