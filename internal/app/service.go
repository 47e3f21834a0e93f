// Package app wires the HTTP API to the practice services: client records,
// scheduling, session notes, documents, AI insights, and calendar sync.
package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"caretrack/api/internal/ai"
	"caretrack/api/internal/auth"
	"caretrack/api/internal/authpw"
	"caretrack/api/internal/config"
	"caretrack/api/internal/docstore"
	"caretrack/api/internal/export"
	"caretrack/api/internal/gcal"
	"caretrack/api/internal/notehist"
	"caretrack/api/internal/rbac"
	"caretrack/api/internal/search"
	"caretrack/api/internal/store"
	"caretrack/api/internal/util"
	"caretrack/api/internal/ws"
)

// Session is an authenticated therapist session derived from an access token.
type Session struct {
	UserID       string
	UserName     string
	Role         string
	JTI          string
	Token        string
	RefreshToken string
	ExpiresAt    time.Time
}

// ClientInput carries client fields accepted from the API.
type ClientInput struct {
	FirstName        string
	LastName         string
	Email            string
	Phone            string
	DateOfBirth      *time.Time
	Status           string
	EmergencyContact string
	ReferralSource   string
}

// AppointmentInput carries appointment fields accepted from the API.
type AppointmentInput struct {
	ClientID      string
	StartTime     time.Time
	EndTime       time.Time
	Type          string
	Status        string
	Location      string
	Notes         string
	AllowConflict bool
}

// NoteInput carries session note fields accepted from the API.
// ClearAppointment distinguishes an explicit JSON null appointmentId,
// which unlinks the note, from an absent field, which keeps the link.
type NoteInput struct {
	ClientID         string
	AppointmentID    *string
	ClearAppointment bool
	SessionDate      time.Time
	Content          string
}

// DocumentUpload describes an incoming client document.
type DocumentUpload struct {
	ClientID    string
	FileName    string
	ContentType string
	SizeBytes   int64
	Category    string
	Body        io.Reader
}

// ActionItemInput carries action item fields accepted from the API.
type ActionItemInput struct {
	ClientID    string
	Description string
	Priority    string
	DueDate     *time.Time
}

type dataStore interface {
	Ping(ctx context.Context) error

	GetTherapistByID(ctx context.Context, id string) (store.Therapist, error)
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)

	InsertClient(ctx context.Context, c store.Client) error
	UpdateClient(ctx context.Context, c store.Client) error
	GetClient(ctx context.Context, therapistID, clientID string) (store.Client, error)
	ListClients(ctx context.Context, therapistID, status string) ([]store.Client, error)
	ArchiveClient(ctx context.Context, therapistID, clientID string) error

	InsertAppointment(ctx context.Context, a store.Appointment) error
	UpdateAppointment(ctx context.Context, a store.Appointment) error
	UpdateAppointmentStatus(ctx context.Context, therapistID, appointmentID, status string) error
	GetAppointment(ctx context.Context, therapistID, appointmentID string) (store.Appointment, error)
	DeleteAppointment(ctx context.Context, therapistID, appointmentID string) error
	ListAppointments(ctx context.Context, therapistID string, from, to time.Time) ([]store.Appointment, error)
	ListClientAppointments(ctx context.Context, therapistID, clientID string) ([]store.Appointment, error)
	FindOverlapping(ctx context.Context, therapistID string, from, to time.Time, excludeID string) ([]store.Appointment, error)
	ListReminderDue(ctx context.Context, from, to time.Time) ([]store.ReminderDue, error)
	MarkReminderSent(ctx context.Context, appointmentID string, at time.Time) error

	InsertSessionNote(ctx context.Context, n store.SessionNote) error
	UpdateSessionNote(ctx context.Context, n store.SessionNote) error
	UpdateSessionNoteAI(ctx context.Context, therapistID, noteID, summary string, tags []string) error
	GetSessionNote(ctx context.Context, therapistID, noteID string) (store.SessionNote, error)
	ListSessionNotes(ctx context.Context, therapistID, clientID string, limit int) ([]store.SessionNote, error)
	DeleteSessionNote(ctx context.Context, therapistID, noteID string) error

	InsertDocument(ctx context.Context, d store.Document) error
	GetDocument(ctx context.Context, therapistID, documentID string) (store.Document, error)
	ListClientDocuments(ctx context.Context, therapistID, clientID string) ([]store.Document, error)
	DeleteDocument(ctx context.Context, therapistID, documentID string) error

	InsertInsight(ctx context.Context, i store.AiInsight) error
	ListClientInsights(ctx context.Context, therapistID, clientID string, limit int) ([]store.AiInsight, error)

	InsertActionItem(ctx context.Context, a store.ActionItem) error
	ListActionItems(ctx context.Context, therapistID, clientID, status string) ([]store.ActionItem, error)
	UpdateActionItemStatus(ctx context.Context, therapistID, itemID, status string) error

	InsertAuditEvent(ctx context.Context, e store.AuditEvent) error
	ListAuditEvents(ctx context.Context, therapistID string, limit int) ([]store.AuditEvent, error)

	DashboardCounts(ctx context.Context, therapistID string) (store.SummaryCounts, error)

	GetCalendarAccount(ctx context.Context, therapistID string) (store.CalendarAccount, error)
}

// SessionStore holds refresh tokens. Redis when available, Postgres otherwise.
type SessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, therapistID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.Therapist, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	Ping(ctx context.Context) error
}

// Deps collects the service's collaborators. Store and Sessions are required;
// everything else degrades gracefully when nil.
type Deps struct {
	Store    dataStore
	Sessions SessionStore
	AuthPW   *authpw.Service
	Search   *search.Service
	Docs     *docstore.Service
	NoteHist *notehist.Service
	AI       *ai.Service
	Calendar *gcal.Service
	Hub      *ws.Hub
	Email    EmailSender
}

// EmailSender is the slice of the mailer the app uses directly.
type EmailSender interface {
	IsConfigured() bool
	SendVerificationEmail(to, userName, verificationURL string) error
	SendPasswordResetEmail(to, userName, resetURL string) error
	SendAppointmentReminderEmail(to, clientName, therapistName string, startTime time.Time, duration time.Duration) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions SessionStore
	authpw   *authpw.Service
	search   *search.Service
	docs     *docstore.Service
	notehist *notehist.Service
	ai       *ai.Service
	calendar *gcal.Service
	hub      *ws.Hub
	email    EmailSender
	export   *export.Service
}

func New(cfg config.Config, deps Deps) *Service {
	s := &Service{
		cfg:      cfg,
		store:    deps.Store,
		sessions: deps.Sessions,
		authpw:   deps.AuthPW,
		search:   deps.Search,
		docs:     deps.Docs,
		notehist: deps.NoteHist,
		ai:       deps.AI,
		calendar: deps.Calendar,
		hub:      deps.Hub,
		email:    deps.Email,
	}
	s.export = export.NewService(exportStore{store: deps.Store})
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) SessionStorePing(ctx context.Context) error {
	if s.sessions == nil {
		return errors.New("session store not configured")
	}
	return s.sessions.Ping(ctx)
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// ---- sessions ----

// CreateSession issues an access token and a refresh token for a therapist.
func (s *Service) CreateSession(ctx context.Context, therapistID string) (Session, error) {
	therapist, err := s.store.GetTherapistByID(ctx, therapistID)
	if err != nil {
		return Session{}, fmt.Errorf("load therapist: %w", err)
	}
	return s.issueSession(ctx, therapist)
}

func (s *Service) issueSession(ctx context.Context, therapist store.Therapist) (Session, error) {
	if therapist.DeactivatedAt != nil {
		return Session{}, domainError(http.StatusForbidden, "ACCOUNT_DEACTIVATED", "Account is deactivated", nil)
	}

	role := string(rbac.Normalize(therapist.Role))
	jti := util.NewID("jti")
	expiresAt := time.Now().Add(s.cfg.AccessTTL)

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  therapist.ID,
		Name: therapist.DisplayName,
		Role: role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}

	refreshToken, err := randomToken()
	if err != nil {
		return Session{}, fmt.Errorf("generate refresh token: %w", err)
	}
	refreshExpiry := time.Now().Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refreshToken), therapist.ID, refreshExpiry); err != nil {
		return Session{}, fmt.Errorf("save refresh session: %w", err)
	}

	return Session{
		UserID:       therapist.ID,
		UserName:     therapist.DisplayName,
		Role:         role,
		JTI:          jti,
		Token:        token,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
	}, nil
}

// Refresh rotates a refresh token and issues a new access token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if refreshToken == "" {
		return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token required", nil)
	}
	hash := auth.HashToken(refreshToken)
	found, err := s.sessions.LookupRefreshSession(ctx, hash)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
	}

	// The session store may hold just the therapist ID; Postgres is
	// authoritative for the display name and role.
	therapist, err := s.store.GetTherapistByID(ctx, found.ID)
	if err != nil {
		return Session{}, fmt.Errorf("load therapist: %w", err)
	}

	if err := s.sessions.RevokeRefreshSession(ctx, hash); err != nil {
		return Session{}, fmt.Errorf("rotate refresh session: %w", err)
	}
	return s.issueSession(ctx, therapist)
}

// SessionFromToken validates an access token, including revocation checks.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}
	return Session{
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Role:      string(rbac.Normalize(claims.Role)),
		JTI:       claims.JTI,
		Token:     token,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// Logout revokes the access token and the refresh token.
func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		if err := s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
			return fmt.Errorf("revoke access token: %w", err)
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			return fmt.Errorf("revoke refresh session: %w", err)
		}
	}
	return nil
}

// ---- clients ----

func (s *Service) CreateClient(ctx context.Context, session Session, input ClientInput) (store.Client, error) {
	if strings.TrimSpace(input.FirstName) == "" {
		return store.Client{}, validationError("firstName is required")
	}
	status := input.Status
	if status == "" {
		status = "active"
	}
	if !validClientStatus(status) {
		return store.Client{}, validationError("status must be active, inactive, or archived")
	}

	client := store.Client{
		ID:               util.NewID("client"),
		TherapistID:      session.UserID,
		FirstName:        strings.TrimSpace(input.FirstName),
		LastName:         strings.TrimSpace(input.LastName),
		Email:            strings.TrimSpace(input.Email),
		Phone:            strings.TrimSpace(input.Phone),
		DateOfBirth:      input.DateOfBirth,
		Status:           status,
		EmergencyContact: input.EmergencyContact,
		ReferralSource:   input.ReferralSource,
	}
	if err := s.store.InsertClient(ctx, client); err != nil {
		return store.Client{}, fmt.Errorf("insert client: %w", err)
	}

	s.audit(ctx, session, "client.created", "client", client.ID, map[string]any{"name": client.FullName()})
	s.notify(session.UserID, "client", client.ID, "created")
	s.indexClient(client)
	return client, nil
}

func (s *Service) UpdateClient(ctx context.Context, session Session, clientID string, input ClientInput) (store.Client, error) {
	client, err := s.store.GetClient(ctx, session.UserID, clientID)
	if err != nil {
		return store.Client{}, err
	}
	if strings.TrimSpace(input.FirstName) == "" {
		return store.Client{}, validationError("firstName is required")
	}
	if input.Status != "" && !validClientStatus(input.Status) {
		return store.Client{}, validationError("status must be active, inactive, or archived")
	}

	client.FirstName = strings.TrimSpace(input.FirstName)
	client.LastName = strings.TrimSpace(input.LastName)
	client.Email = strings.TrimSpace(input.Email)
	client.Phone = strings.TrimSpace(input.Phone)
	client.DateOfBirth = input.DateOfBirth
	client.EmergencyContact = input.EmergencyContact
	client.ReferralSource = input.ReferralSource
	if input.Status != "" {
		client.Status = input.Status
	}

	if err := s.store.UpdateClient(ctx, client); err != nil {
		return store.Client{}, err
	}

	s.audit(ctx, session, "client.updated", "client", client.ID, nil)
	s.notify(session.UserID, "client", client.ID, "updated")
	s.indexClient(client)
	return client, nil
}

func (s *Service) GetClient(ctx context.Context, session Session, clientID string) (store.Client, error) {
	return s.store.GetClient(ctx, session.UserID, clientID)
}

func (s *Service) ListClients(ctx context.Context, session Session, status string) ([]store.Client, error) {
	if status != "" && !validClientStatus(status) {
		return nil, validationError("status must be active, inactive, or archived")
	}
	return s.store.ListClients(ctx, session.UserID, status)
}

// ArchiveClient soft-deletes: the record and its history remain queryable.
func (s *Service) ArchiveClient(ctx context.Context, session Session, clientID string) error {
	if err := s.store.ArchiveClient(ctx, session.UserID, clientID); err != nil {
		return err
	}
	s.audit(ctx, session, "client.archived", "client", clientID, nil)
	s.notify(session.UserID, "client", clientID, "archived")
	if s.search != nil {
		s.search.DeleteClient(clientID)
	}
	return nil
}

func validClientStatus(status string) bool {
	switch status {
	case "active", "inactive", "archived":
		return true
	}
	return false
}

// ---- appointments ----

var appointmentStatuses = map[string]bool{
	"scheduled": true,
	"confirmed": true,
	"completed": true,
	"cancelled": true,
	"no_show":   true,
}

func (s *Service) CreateAppointment(ctx context.Context, session Session, input AppointmentInput) (store.Appointment, error) {
	if err := s.validateAppointmentInput(ctx, session, input, ""); err != nil {
		return store.Appointment{}, err
	}

	appointment := store.Appointment{
		ID:          util.NewID("appt"),
		TherapistID: session.UserID,
		ClientID:    input.ClientID,
		StartTime:   input.StartTime,
		EndTime:     input.EndTime,
		Type:        defaultString(input.Type, "individual"),
		Status:      defaultString(input.Status, "scheduled"),
		Location:    input.Location,
		Notes:       input.Notes,
	}
	if err := s.store.InsertAppointment(ctx, appointment); err != nil {
		return store.Appointment{}, fmt.Errorf("insert appointment: %w", err)
	}

	s.audit(ctx, session, "appointment.created", "appointment", appointment.ID, map[string]any{
		"clientId": appointment.ClientID,
		"start":    appointment.StartTime,
	})
	s.notify(session.UserID, "appointment", appointment.ID, "created")
	s.indexAppointment(ctx, appointment)
	return appointment, nil
}

func (s *Service) UpdateAppointment(ctx context.Context, session Session, appointmentID string, input AppointmentInput) (store.Appointment, error) {
	appointment, err := s.store.GetAppointment(ctx, session.UserID, appointmentID)
	if err != nil {
		return store.Appointment{}, err
	}
	if input.ClientID == "" {
		input.ClientID = appointment.ClientID
	}
	if err := s.validateAppointmentInput(ctx, session, input, appointmentID); err != nil {
		return store.Appointment{}, err
	}

	appointment.ClientID = input.ClientID
	appointment.StartTime = input.StartTime
	appointment.EndTime = input.EndTime
	appointment.Type = defaultString(input.Type, appointment.Type)
	if input.Status != "" {
		appointment.Status = input.Status
	}
	appointment.Location = input.Location
	appointment.Notes = input.Notes

	if err := s.store.UpdateAppointment(ctx, appointment); err != nil {
		return store.Appointment{}, err
	}

	s.audit(ctx, session, "appointment.updated", "appointment", appointment.ID, nil)
	s.notify(session.UserID, "appointment", appointment.ID, "updated")
	s.indexAppointment(ctx, appointment)
	return appointment, nil
}

func (s *Service) validateAppointmentInput(ctx context.Context, session Session, input AppointmentInput, excludeID string) error {
	if input.ClientID == "" {
		return validationError("clientId is required")
	}
	if input.StartTime.IsZero() || input.EndTime.IsZero() {
		return validationError("startTime and endTime are required")
	}
	if !input.StartTime.Before(input.EndTime) {
		return domainError(http.StatusUnprocessableEntity, "INVALID_TIME_RANGE", "startTime must be before endTime", nil)
	}
	if input.Status != "" && !appointmentStatuses[input.Status] {
		return validationError("unknown appointment status")
	}
	if _, err := s.store.GetClient(ctx, session.UserID, input.ClientID); err != nil {
		return err
	}

	if input.AllowConflict {
		return nil
	}
	overlapping, err := s.store.FindOverlapping(ctx, session.UserID, input.StartTime, input.EndTime, excludeID)
	if err != nil {
		return fmt.Errorf("check overlap: %w", err)
	}
	if len(overlapping) > 0 {
		details := make([]map[string]any, 0, len(overlapping))
		for _, o := range overlapping {
			details = append(details, map[string]any{
				"appointmentId": o.ID,
				"clientId":      o.ClientID,
				"startTime":     o.StartTime,
				"endTime":       o.EndTime,
			})
		}
		return domainError(http.StatusConflict, "SCHEDULE_CONFLICT", "Appointment overlaps an existing appointment", details)
	}
	return nil
}

func (s *Service) UpdateAppointmentStatus(ctx context.Context, session Session, appointmentID, status string) (store.Appointment, error) {
	if !appointmentStatuses[status] {
		return store.Appointment{}, validationError("unknown appointment status")
	}
	if err := s.store.UpdateAppointmentStatus(ctx, session.UserID, appointmentID, status); err != nil {
		return store.Appointment{}, err
	}
	appointment, err := s.store.GetAppointment(ctx, session.UserID, appointmentID)
	if err != nil {
		return store.Appointment{}, err
	}

	s.audit(ctx, session, "appointment.status_changed", "appointment", appointmentID, map[string]any{"status": status})
	s.notify(session.UserID, "appointment", appointmentID, "updated")
	s.indexAppointment(ctx, appointment)
	return appointment, nil
}

func (s *Service) GetAppointment(ctx context.Context, session Session, appointmentID string) (store.Appointment, error) {
	return s.store.GetAppointment(ctx, session.UserID, appointmentID)
}

func (s *Service) DeleteAppointment(ctx context.Context, session Session, appointmentID string) error {
	if err := s.store.DeleteAppointment(ctx, session.UserID, appointmentID); err != nil {
		return err
	}
	s.audit(ctx, session, "appointment.deleted", "appointment", appointmentID, nil)
	s.notify(session.UserID, "appointment", appointmentID, "deleted")
	if s.search != nil {
		s.search.DeleteAppointment(appointmentID)
	}
	return nil
}

// ListAppointments returns appointments in [from, to). A zero range defaults
// to the coming week.
func (s *Service) ListAppointments(ctx context.Context, session Session, from, to time.Time) ([]store.Appointment, error) {
	if from.IsZero() {
		from = startOfDay(time.Now())
	}
	if to.IsZero() {
		to = from.AddDate(0, 0, 7)
	}
	if !from.Before(to) {
		return nil, validationError("from must be before to")
	}
	return s.store.ListAppointments(ctx, session.UserID, from, to)
}

func (s *Service) TodayAppointments(ctx context.Context, session Session) ([]store.Appointment, error) {
	from := startOfDay(time.Now())
	return s.store.ListAppointments(ctx, session.UserID, from, from.AddDate(0, 0, 1))
}

func (s *Service) ListClientAppointments(ctx context.Context, session Session, clientID string) ([]store.Appointment, error) {
	return s.store.ListClientAppointments(ctx, session.UserID, clientID)
}

func startOfDay(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}

// SendAppointmentReminders mails clients whose appointments start within the
// next 24 hours. Each appointment is reminded at most once.
func (s *Service) SendAppointmentReminders(ctx context.Context) (int, error) {
	if s.email == nil || !s.email.IsConfigured() {
		return 0, nil
	}
	now := time.Now()
	due, err := s.store.ListReminderDue(ctx, now, now.Add(24*time.Hour))
	if err != nil {
		return 0, fmt.Errorf("list reminders due: %w", err)
	}

	sent := 0
	for _, d := range due {
		err := s.email.SendAppointmentReminderEmail(
			d.ClientEmail, d.ClientName, d.TherapistName, d.StartTime, d.EndTime.Sub(d.StartTime))
		if err != nil {
			log.Printf(`{"event":"reminder_send_failed","appointment_id":"%s","error":%q}`, d.AppointmentID, err.Error())
			continue
		}
		if err := s.store.MarkReminderSent(ctx, d.AppointmentID, now); err != nil {
			log.Printf(`{"event":"reminder_mark_failed","appointment_id":"%s","error":%q}`, d.AppointmentID, err.Error())
		}
		sent++
	}
	return sent, nil
}

// ---- session notes ----

func (s *Service) CreateNote(ctx context.Context, session Session, input NoteInput) (store.SessionNote, error) {
	if input.ClientID == "" {
		return store.SessionNote{}, validationError("clientId is required")
	}
	if strings.TrimSpace(input.Content) == "" {
		return store.SessionNote{}, validationError("content is required")
	}
	if _, err := s.store.GetClient(ctx, session.UserID, input.ClientID); err != nil {
		return store.SessionNote{}, err
	}
	sessionDate := input.SessionDate
	if sessionDate.IsZero() {
		sessionDate = time.Now()
	}

	note := store.SessionNote{
		ID:            util.NewID("note"),
		TherapistID:   session.UserID,
		ClientID:      input.ClientID,
		AppointmentID: input.AppointmentID,
		SessionDate:   sessionDate,
		Content:       input.Content,
	}
	if err := s.store.InsertSessionNote(ctx, note); err != nil {
		return store.SessionNote{}, fmt.Errorf("insert session note: %w", err)
	}

	s.recordNoteRevision(note, session.UserName, "Create note")
	s.audit(ctx, session, "note.created", "note", note.ID, map[string]any{"clientId": note.ClientID})
	s.notify(session.UserID, "note", note.ID, "created")
	s.indexNote(ctx, note)
	return note, nil
}

func (s *Service) UpdateNote(ctx context.Context, session Session, noteID string, input NoteInput) (store.SessionNote, error) {
	note, err := s.store.GetSessionNote(ctx, session.UserID, noteID)
	if err != nil {
		return store.SessionNote{}, err
	}
	if strings.TrimSpace(input.Content) == "" {
		return store.SessionNote{}, validationError("content is required")
	}

	note.Content = input.Content
	if !input.SessionDate.IsZero() {
		note.SessionDate = input.SessionDate
	}
	if input.ClearAppointment {
		note.AppointmentID = nil
	} else if input.AppointmentID != nil {
		note.AppointmentID = input.AppointmentID
	}
	if err := s.store.UpdateSessionNote(ctx, note); err != nil {
		return store.SessionNote{}, err
	}

	s.recordNoteRevision(note, session.UserName, "Update note")
	s.audit(ctx, session, "note.updated", "note", note.ID, nil)
	s.notify(session.UserID, "note", note.ID, "updated")
	s.indexNote(ctx, note)
	return note, nil
}

func (s *Service) GetNote(ctx context.Context, session Session, noteID string) (store.SessionNote, error) {
	return s.store.GetSessionNote(ctx, session.UserID, noteID)
}

func (s *Service) ListNotes(ctx context.Context, session Session, clientID string, limit int) ([]store.SessionNote, error) {
	return s.store.ListSessionNotes(ctx, session.UserID, clientID, limit)
}

func (s *Service) DeleteNote(ctx context.Context, session Session, noteID string) error {
	if err := s.store.DeleteSessionNote(ctx, session.UserID, noteID); err != nil {
		return err
	}
	s.audit(ctx, session, "note.deleted", "note", noteID, nil)
	s.notify(session.UserID, "note", noteID, "deleted")
	if s.search != nil {
		s.search.DeleteNote(noteID)
	}
	return nil
}

// AnalyzeNote runs AI analysis over a note and stores the summary and tags.
// Without an AI backend the keyword extractor still produces both.
func (s *Service) AnalyzeNote(ctx context.Context, session Session, noteID string) (store.SessionNote, error) {
	note, err := s.store.GetSessionNote(ctx, session.UserID, noteID)
	if err != nil {
		return store.SessionNote{}, err
	}
	client, err := s.store.GetClient(ctx, session.UserID, note.ClientID)
	if err != nil {
		return store.SessionNote{}, err
	}

	analyzer := s.ai
	if analyzer == nil {
		analyzer = ai.NewService("", "")
	}
	analysis := analyzer.AnalyzeNote(ctx, note.Content, client.FullName())

	if err := s.store.UpdateSessionNoteAI(ctx, session.UserID, noteID, analysis.Summary, analysis.Tags); err != nil {
		return store.SessionNote{}, err
	}
	note.AISummary = analysis.Summary
	note.AITags = analysis.Tags

	s.audit(ctx, session, "note.analyzed", "note", noteID, map[string]any{"tags": analysis.Tags})
	s.notify(session.UserID, "note", noteID, "updated")
	s.indexNote(ctx, note)
	return note, nil
}

func (s *Service) NoteHistory(ctx context.Context, session Session, noteID string, limit int) ([]notehist.Revision, error) {
	if s.notehist == nil {
		return nil, unavailableError("HISTORY_UNAVAILABLE", "Note history is not configured")
	}
	note, err := s.store.GetSessionNote(ctx, session.UserID, noteID)
	if err != nil {
		return nil, err
	}
	revisions, err := s.notehist.History(note.ClientID, noteID, limit)
	if err != nil {
		return nil, fmt.Errorf("note history: %w", err)
	}
	return revisions, nil
}

func (s *Service) NoteRevision(ctx context.Context, session Session, noteID, hash string) (string, error) {
	if s.notehist == nil {
		return "", unavailableError("HISTORY_UNAVAILABLE", "Note history is not configured")
	}
	note, err := s.store.GetSessionNote(ctx, session.UserID, noteID)
	if err != nil {
		return "", err
	}
	content, err := s.notehist.ContentAt(note.ClientID, noteID, hash)
	if err != nil {
		return "", domainError(http.StatusNotFound, "NOT_FOUND", "Revision not found", nil)
	}
	return content, nil
}

func (s *Service) recordNoteRevision(note store.SessionNote, author, message string) {
	if s.notehist == nil {
		return
	}
	if _, err := s.notehist.RecordNote(note.ClientID, note.ID, note.Content, author, message); err != nil {
		log.Printf(`{"event":"notehist_record_failed","note_id":"%s","error":%q}`, note.ID, err.Error())
	}
}

// ---- documents ----

func (s *Service) UploadDocument(ctx context.Context, session Session, upload DocumentUpload) (store.Document, error) {
	if s.docs == nil {
		return store.Document{}, unavailableError("DOCSTORE_UNAVAILABLE", "Document storage is not configured")
	}
	if upload.FileName == "" {
		return store.Document{}, validationError("fileName is required")
	}
	if _, err := s.store.GetClient(ctx, session.UserID, upload.ClientID); err != nil {
		return store.Document{}, err
	}

	document := store.Document{
		ID:          util.NewID("doc"),
		TherapistID: session.UserID,
		ClientID:    upload.ClientID,
		FileName:    upload.FileName,
		ContentType: defaultString(upload.ContentType, "application/octet-stream"),
		SizeBytes:   upload.SizeBytes,
		Category:    defaultString(upload.Category, "general"),
		UploadedBy:  session.UserName,
	}
	document.ObjectKey = docstore.ObjectKey(session.UserID, upload.ClientID, document.ID)

	if err := s.docs.Put(ctx, document.ObjectKey, upload.Body, upload.SizeBytes, document.ContentType); err != nil {
		return store.Document{}, fmt.Errorf("store document: %w", err)
	}
	if err := s.store.InsertDocument(ctx, document); err != nil {
		return store.Document{}, fmt.Errorf("insert document: %w", err)
	}

	s.audit(ctx, session, "document.uploaded", "document", document.ID, map[string]any{
		"clientId": document.ClientID,
		"fileName": document.FileName,
	})
	s.notify(session.UserID, "document", document.ID, "created")
	return document, nil
}

// OpenDocument returns document metadata and a reader for its contents.
// The caller owns closing the reader.
func (s *Service) OpenDocument(ctx context.Context, session Session, documentID string) (store.Document, io.ReadCloser, error) {
	if s.docs == nil {
		return store.Document{}, nil, unavailableError("DOCSTORE_UNAVAILABLE", "Document storage is not configured")
	}
	document, err := s.store.GetDocument(ctx, session.UserID, documentID)
	if err != nil {
		return store.Document{}, nil, err
	}
	body, err := s.docs.Get(ctx, document.ObjectKey)
	if err != nil {
		return store.Document{}, nil, fmt.Errorf("fetch document: %w", err)
	}
	return document, body, nil
}

func (s *Service) DeleteDocument(ctx context.Context, session Session, documentID string) error {
	document, err := s.store.GetDocument(ctx, session.UserID, documentID)
	if err != nil {
		return err
	}
	if s.docs != nil {
		if err := s.docs.Remove(ctx, document.ObjectKey); err != nil {
			log.Printf(`{"event":"docstore_remove_failed","document_id":"%s","error":%q}`, documentID, err.Error())
		}
	}
	if err := s.store.DeleteDocument(ctx, session.UserID, documentID); err != nil {
		return err
	}
	s.audit(ctx, session, "document.deleted", "document", documentID, nil)
	s.notify(session.UserID, "document", documentID, "deleted")
	return nil
}

func (s *Service) ListClientDocuments(ctx context.Context, session Session, clientID string) ([]store.Document, error) {
	return s.store.ListClientDocuments(ctx, session.UserID, clientID)
}

// ---- AI insights and action items ----

const insightNoteWindow = 10

// GenerateInsight summarizes a client's recent notes into a progress insight.
func (s *Service) GenerateInsight(ctx context.Context, session Session, clientID string) (store.AiInsight, error) {
	if s.ai == nil || !s.ai.Enabled() {
		return store.AiInsight{}, unavailableError("AI_UNAVAILABLE", "AI insights are not configured")
	}
	client, err := s.store.GetClient(ctx, session.UserID, clientID)
	if err != nil {
		return store.AiInsight{}, err
	}
	notes, err := s.store.ListSessionNotes(ctx, session.UserID, clientID, insightNoteWindow)
	if err != nil {
		return store.AiInsight{}, err
	}
	if len(notes) == 0 {
		return store.AiInsight{}, validationError("client has no session notes to analyze")
	}

	// Oldest first so the model sees the trajectory in order.
	contents := make([]string, 0, len(notes))
	for i := len(notes) - 1; i >= 0; i-- {
		contents = append(contents, notes[i].Content)
	}
	text, err := s.ai.GenerateClientInsight(ctx, client.FullName(), contents)
	if err != nil {
		return store.AiInsight{}, fmt.Errorf("generate insight: %w", err)
	}

	insight := store.AiInsight{
		ID:          util.NewID("insight"),
		TherapistID: session.UserID,
		ClientID:    clientID,
		Kind:        "progress",
		Content:     text,
		Model:       s.cfg.OpenAIModel,
	}
	if err := s.store.InsertInsight(ctx, insight); err != nil {
		return store.AiInsight{}, fmt.Errorf("insert insight: %w", err)
	}

	s.audit(ctx, session, "insight.generated", "insight", insight.ID, map[string]any{"clientId": clientID})
	s.notify(session.UserID, "insight", insight.ID, "created")
	return insight, nil
}

func (s *Service) ListInsights(ctx context.Context, session Session, clientID string, limit int) ([]store.AiInsight, error) {
	return s.store.ListClientInsights(ctx, session.UserID, clientID, limit)
}

// ExtractActionItems pulls follow-up tasks out of a note and creates open
// action items for each.
func (s *Service) ExtractActionItems(ctx context.Context, session Session, noteID string) ([]store.ActionItem, error) {
	if s.ai == nil || !s.ai.Enabled() {
		return nil, unavailableError("AI_UNAVAILABLE", "AI insights are not configured")
	}
	note, err := s.store.GetSessionNote(ctx, session.UserID, noteID)
	if err != nil {
		return nil, err
	}
	descriptions, err := s.ai.ExtractActionItems(ctx, note.Content)
	if err != nil {
		return nil, fmt.Errorf("extract action items: %w", err)
	}

	items := make([]store.ActionItem, 0, len(descriptions))
	for _, description := range descriptions {
		item := store.ActionItem{
			ID:          util.NewID("task"),
			TherapistID: session.UserID,
			ClientID:    note.ClientID,
			Description: description,
			Priority:    "normal",
			Status:      "open",
		}
		if err := s.store.InsertActionItem(ctx, item); err != nil {
			return nil, fmt.Errorf("insert action item: %w", err)
		}
		items = append(items, item)
	}
	if len(items) > 0 {
		s.audit(ctx, session, "action_items.extracted", "note", noteID, map[string]any{"count": len(items)})
		s.notify(session.UserID, "action_item", noteID, "created")
	}
	return items, nil
}

var actionItemStatuses = map[string]bool{
	"open":      true,
	"completed": true,
	"dismissed": true,
}

func (s *Service) CreateActionItem(ctx context.Context, session Session, input ActionItemInput) (store.ActionItem, error) {
	if input.ClientID == "" {
		return store.ActionItem{}, validationError("clientId is required")
	}
	if strings.TrimSpace(input.Description) == "" {
		return store.ActionItem{}, validationError("description is required")
	}
	if _, err := s.store.GetClient(ctx, session.UserID, input.ClientID); err != nil {
		return store.ActionItem{}, err
	}

	item := store.ActionItem{
		ID:          util.NewID("task"),
		TherapistID: session.UserID,
		ClientID:    input.ClientID,
		Description: strings.TrimSpace(input.Description),
		Priority:    defaultString(input.Priority, "normal"),
		Status:      "open",
		DueDate:     input.DueDate,
	}
	if err := s.store.InsertActionItem(ctx, item); err != nil {
		return store.ActionItem{}, fmt.Errorf("insert action item: %w", err)
	}
	s.notify(session.UserID, "action_item", item.ID, "created")
	return item, nil
}

func (s *Service) ListActionItems(ctx context.Context, session Session, clientID, status string) ([]store.ActionItem, error) {
	if status != "" && !actionItemStatuses[status] {
		return nil, validationError("status must be open, completed, or dismissed")
	}
	return s.store.ListActionItems(ctx, session.UserID, clientID, status)
}

func (s *Service) UpdateActionItemStatus(ctx context.Context, session Session, itemID, status string) error {
	if !actionItemStatuses[status] {
		return validationError("status must be open, completed, or dismissed")
	}
	if err := s.store.UpdateActionItemStatus(ctx, session.UserID, itemID, status); err != nil {
		return err
	}
	s.notify(session.UserID, "action_item", itemID, "updated")
	return nil
}

// ---- dashboard, audit, search ----

func (s *Service) Dashboard(ctx context.Context, session Session) (store.SummaryCounts, []store.Appointment, error) {
	counts, err := s.store.DashboardCounts(ctx, session.UserID)
	if err != nil {
		return store.SummaryCounts{}, nil, err
	}
	today, err := s.TodayAppointments(ctx, session)
	if err != nil {
		return store.SummaryCounts{}, nil, err
	}
	return counts, today, nil
}

func (s *Service) AuditTrail(ctx context.Context, session Session, limit int) ([]store.AuditEvent, error) {
	return s.store.ListAuditEvents(ctx, session.UserID, limit)
}

func (s *Service) Search(session Session, q search.Query) search.Response {
	q.TherapistID = session.UserID
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

// ---- export ----

func (s *Service) ExportNote(ctx context.Context, session Session, noteID string, format export.Format) (*export.Result, error) {
	return s.export.ExportNote(ctx, export.NoteRequest{
		TherapistID: session.UserID,
		NoteID:      noteID,
		Format:      format,
	})
}

func (s *Service) ExportClientChart(ctx context.Context, session Session, clientID string, format export.Format, includeNotes bool) (*export.Result, error) {
	return s.export.ExportClientChart(ctx, export.ChartRequest{
		TherapistID:  session.UserID,
		ClientID:     clientID,
		Format:       format,
		IncludeNotes: includeNotes,
	})
}

// ---- calendar ----

func (s *Service) calendarReady() error {
	if s.calendar == nil || !s.calendar.Configured() {
		return unavailableError("CALENDAR_UNAVAILABLE", "Google Calendar integration is not configured")
	}
	return nil
}

// CalendarConnectURL builds the Google consent URL. The OAuth state is a
// short-lived signed token carrying the therapist ID.
func (s *Service) CalendarConnectURL(session Session) (string, error) {
	if err := s.calendarReady(); err != nil {
		return "", err
	}
	state, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  session.UserID,
		Name: "oauth-state",
		Role: session.Role,
		JTI:  util.NewID("state"),
		Exp:  time.Now().Add(10 * time.Minute).Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("issue oauth state: %w", err)
	}
	return s.calendar.AuthCodeURL(state), nil
}

// CalendarCallback completes the OAuth flow, then kicks off the initial sync
// and the push notification channel in the background.
func (s *Service) CalendarCallback(ctx context.Context, state, code string) error {
	if err := s.calendarReady(); err != nil {
		return err
	}
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), state)
	if err != nil || claims.Name != "oauth-state" {
		return domainError(http.StatusBadRequest, "INVALID_STATE", "OAuth state is invalid or expired", nil)
	}
	if code == "" {
		return domainError(http.StatusBadRequest, "INVALID_CODE", "Missing authorization code", nil)
	}
	if err := s.calendar.Exchange(ctx, claims.Sub, code); err != nil {
		return fmt.Errorf("link calendar: %w", err)
	}

	therapistID := claims.Sub
	go func() {
		bg, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if _, err := s.calendar.Sync(bg, therapistID); err != nil {
			log.Printf(`{"event":"calendar_initial_sync_failed","therapist_id":"%s","error":%q}`, therapistID, err.Error())
		}
		if s.cfg.WebhookBaseURL != "" {
			if err := s.calendar.StartWatch(bg, therapistID); err != nil {
				log.Printf(`{"event":"calendar_watch_failed","therapist_id":"%s","error":%q}`, therapistID, err.Error())
			}
		}
		s.notify(therapistID, "calendar", therapistID, "connected")
	}()
	return nil
}

// CalendarStatus reports whether the integration is configured and whether
// this therapist has a linked account.
func (s *Service) CalendarStatus(ctx context.Context, session Session) (map[string]any, error) {
	status := map[string]any{
		"configured": s.calendar != nil && s.calendar.Configured(),
		"connected":  false,
	}
	account, err := s.store.GetCalendarAccount(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return status, nil
		}
		return nil, fmt.Errorf("load calendar account: %w", err)
	}
	status["connected"] = true
	status["calendarId"] = account.CalendarID
	status["lastSyncedAt"] = account.LastSyncedAt
	status["watchActive"] = account.ChannelID != "" && account.ChannelExpiry != nil && account.ChannelExpiry.After(time.Now())
	return status, nil
}

func (s *Service) CalendarSync(ctx context.Context, session Session) (gcal.SyncStats, error) {
	if err := s.calendarReady(); err != nil {
		return gcal.SyncStats{}, err
	}
	stats, err := s.calendar.Sync(ctx, session.UserID)
	if err != nil {
		return gcal.SyncStats{}, fmt.Errorf("calendar sync: %w", err)
	}
	s.audit(ctx, session, "calendar.synced", "calendar", session.UserID, map[string]any{"pulled": stats.Pulled, "pushed": stats.Pushed})
	s.notify(session.UserID, "appointment", "", "synced")
	return stats, nil
}

func (s *Service) CalendarConflicts(ctx context.Context, session Session) ([]gcal.Conflict, error) {
	if s.calendar == nil {
		return nil, unavailableError("CALENDAR_UNAVAILABLE", "Google Calendar integration is not configured")
	}
	return s.calendar.Conflicts(ctx, session.UserID)
}

func (s *Service) CalendarDisconnect(ctx context.Context, session Session) error {
	if err := s.calendarReady(); err != nil {
		return err
	}
	if err := s.calendar.Disconnect(ctx, session.UserID); err != nil {
		return fmt.Errorf("disconnect calendar: %w", err)
	}
	s.audit(ctx, session, "calendar.disconnected", "calendar", session.UserID, nil)
	return nil
}

// CalendarWebhook handles a Google push notification. Unknown channels are
// ignored so stale channels cannot probe the endpoint.
func (s *Service) CalendarWebhook(ctx context.Context, channelID, resourceState string) {
	if s.calendar == nil || channelID == "" {
		return
	}
	if err := s.calendar.HandleNotification(ctx, channelID, resourceState); err != nil {
		log.Printf(`{"event":"calendar_webhook_failed","channel_id":"%s","error":%q}`, channelID, err.Error())
	}
}

// ---- helpers ----

func (s *Service) audit(ctx context.Context, session Session, eventType, entityType, entityID string, payload map[string]any) {
	event := store.AuditEvent{
		TherapistID: session.UserID,
		EventType:   eventType,
		EntityType:  entityType,
		EntityID:    entityID,
		Payload:     payload,
	}
	if err := s.store.InsertAuditEvent(ctx, event); err != nil {
		log.Printf(`{"event":"audit_insert_failed","event_type":"%s","error":%q}`, eventType, err.Error())
	}
}

func (s *Service) notify(therapistID, entity, id, action string) {
	if s.hub == nil {
		return
	}
	s.hub.Notify(therapistID, entity, id, action)
}

func (s *Service) indexClient(c store.Client) {
	if s.search == nil {
		return
	}
	s.search.IndexClient(search.ClientRecord{
		ID:          c.ID,
		TherapistID: c.TherapistID,
		Name:        c.FullName(),
		Email:       c.Email,
		Status:      c.Status,
	})
}

func (s *Service) indexNote(ctx context.Context, n store.SessionNote) {
	if s.search == nil {
		return
	}
	record := search.NoteRecord{
		ID:          n.ID,
		TherapistID: n.TherapistID,
		ClientID:    n.ClientID,
		Content:     n.Content,
		Summary:     n.AISummary,
		SessionDate: n.SessionDate.Format("2006-01-02"),
	}
	if client, err := s.store.GetClient(ctx, n.TherapistID, n.ClientID); err == nil {
		record.ClientName = client.FullName()
	}
	s.search.IndexNote(record)
}

func (s *Service) indexAppointment(ctx context.Context, a store.Appointment) {
	if s.search == nil {
		return
	}
	record := search.AppointmentRecord{
		ID:          a.ID,
		TherapistID: a.TherapistID,
		ClientID:    a.ClientID,
		Type:        a.Type,
		Location:    a.Location,
		Notes:       a.Notes,
		StartTime:   a.StartTime.Format(time.RFC3339),
	}
	if client, err := s.store.GetClient(ctx, a.TherapistID, a.ClientID); err == nil {
		record.ClientName = client.FullName()
	}
	s.search.IndexAppointment(record)
}

// exportStore adapts the data store to the export renderer's view of it.
type exportStore struct {
	store dataStore
}

func (e exportStore) GetClientInfo(ctx context.Context, therapistID, clientID string) (export.ClientInfo, error) {
	client, err := e.store.GetClient(ctx, therapistID, clientID)
	if err != nil {
		return export.ClientInfo{}, err
	}
	return export.ClientInfo{
		ID:          client.ID,
		Name:        client.FullName(),
		Email:       client.Email,
		Phone:       client.Phone,
		Status:      client.Status,
		DateOfBirth: client.DateOfBirth,
	}, nil
}

func (e exportStore) GetNoteInfo(ctx context.Context, therapistID, noteID string) (export.NoteInfo, error) {
	note, err := e.store.GetSessionNote(ctx, therapistID, noteID)
	if err != nil {
		return export.NoteInfo{}, err
	}
	return e.toNoteInfo(ctx, therapistID, note)
}

func (e exportStore) ListNoteInfos(ctx context.Context, therapistID, clientID string) ([]export.NoteInfo, error) {
	notes, err := e.store.ListSessionNotes(ctx, therapistID, clientID, 0)
	if err != nil {
		return nil, err
	}
	infos := make([]export.NoteInfo, 0, len(notes))
	for _, note := range notes {
		info, err := e.toNoteInfo(ctx, therapistID, note)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (e exportStore) ListAppointmentInfos(ctx context.Context, therapistID, clientID string) ([]export.AppointmentInfo, error) {
	appointments, err := e.store.ListClientAppointments(ctx, therapistID, clientID)
	if err != nil {
		return nil, err
	}
	infos := make([]export.AppointmentInfo, 0, len(appointments))
	for _, a := range appointments {
		infos = append(infos, export.AppointmentInfo{
			StartTime: a.StartTime,
			EndTime:   a.EndTime,
			Type:      a.Type,
			Status:    a.Status,
			Location:  a.Location,
		})
	}
	return infos, nil
}

func (e exportStore) toNoteInfo(ctx context.Context, therapistID string, note store.SessionNote) (export.NoteInfo, error) {
	author := ""
	if therapist, err := e.store.GetTherapistByID(ctx, note.TherapistID); err == nil {
		author = therapist.DisplayName
	}
	clientName := ""
	if client, err := e.store.GetClient(ctx, therapistID, note.ClientID); err == nil {
		clientName = client.FullName()
	}
	return export.NoteInfo{
		ID:          note.ID,
		ClientName:  clientName,
		SessionDate: note.SessionDate,
		Content:     note.Content,
		Summary:     note.AISummary,
		Tags:        note.AITags,
		Author:      author,
	}, nil
}

func defaultString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
