// Package gcal implements bidirectional Google Calendar sync: OAuth account
// linking, pull/push reconciliation, push notification channels, and
// scheduled background sync.
package gcal

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"caretrack/api/internal/store"
)

// OAuthConfig holds the Google OAuth client settings.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

func (c OAuthConfig) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

func (c OAuthConfig) oauth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURL,
		Scopes:       []string{calendar.CalendarEventsScope, calendar.CalendarReadonlyScope},
		Endpoint:     google.Endpoint,
	}
}

// AuthCodeURL builds the consent URL. Offline access with forced consent so
// Google always returns a refresh token.
func (s *Service) AuthCodeURL(state string) string {
	return s.oauth.oauth2Config().AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}

// Exchange trades the OAuth callback code for tokens and links the account.
func (s *Service) Exchange(ctx context.Context, therapistID, code string) error {
	token, err := s.oauth.oauth2Config().Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange oauth code: %w", err)
	}
	if token.RefreshToken == "" {
		return fmt.Errorf("google did not return a refresh token")
	}

	account := store.CalendarAccount{
		TherapistID:  therapistID,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenExpiry:  token.Expiry,
		CalendarID:   "primary",
	}
	if err := s.store.SaveCalendarAccount(ctx, account); err != nil {
		return fmt.Errorf("save calendar account: %w", err)
	}
	return nil
}

// calendarService builds a Calendar API client for a linked account. Token
// refreshes are written back so the stored refresh token stays usable.
func (s *Service) calendarService(ctx context.Context, account store.CalendarAccount) (*calendar.Service, error) {
	token := &oauth2.Token{
		AccessToken:  account.AccessToken,
		RefreshToken: account.RefreshToken,
		Expiry:       account.TokenExpiry,
	}
	base := s.oauth.oauth2Config().TokenSource(ctx, token)
	ts := &persistingTokenSource{
		ctx:         ctx,
		base:        base,
		store:       s.store,
		therapistID: account.TherapistID,
		last:        token.AccessToken,
	}

	svc, err := calendar.NewService(ctx, option.WithTokenSource(oauth2.ReuseTokenSource(token, ts)))
	if err != nil {
		return nil, fmt.Errorf("create calendar client: %w", err)
	}
	return svc, nil
}

type persistingTokenSource struct {
	ctx         context.Context
	base        oauth2.TokenSource
	store       Store
	therapistID string
	last        string
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	token, err := p.base.Token()
	if err != nil {
		return nil, err
	}
	if token.AccessToken != p.last {
		p.last = token.AccessToken
		refresh := token.RefreshToken
		if err := p.store.UpdateCalendarTokens(p.ctx, p.therapistID, token.AccessToken, refresh, token.Expiry); err != nil {
			return nil, fmt.Errorf("persist refreshed token: %w", err)
		}
	}
	return token, nil
}
