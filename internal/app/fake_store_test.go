package app

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"caretrack/api/internal/store"
)

// memStore is an in-memory stand-in for the Postgres store. It backs the
// data store, the refresh session store, and the password auth store.
type memStore struct {
	mu sync.Mutex

	therapists map[string]store.Therapist
	clients    map[string]store.Client
	appts      map[string]store.Appointment
	notes      map[string]store.SessionNote
	documents  map[string]store.Document
	insights   map[string]store.AiInsight
	items      map[string]store.ActionItem
	audits     []store.AuditEvent
	calendars  map[string]store.CalendarAccount

	refresh  map[string]refreshRow
	revoked  map[string]bool
	resets   map[string]string
	reminded map[string]time.Time
}

type refreshRow struct {
	therapistID string
	expiresAt   time.Time
}

func newMemStore() *memStore {
	return &memStore{
		therapists: make(map[string]store.Therapist),
		clients:    make(map[string]store.Client),
		appts:      make(map[string]store.Appointment),
		notes:      make(map[string]store.SessionNote),
		documents:  make(map[string]store.Document),
		insights:   make(map[string]store.AiInsight),
		items:      make(map[string]store.ActionItem),
		calendars:  make(map[string]store.CalendarAccount),
		refresh:    make(map[string]refreshRow),
		revoked:    make(map[string]bool),
		resets:     make(map[string]string),
		reminded:   make(map[string]time.Time),
	}
}

func (m *memStore) Ping(ctx context.Context) error { return nil }

// ---- therapists / auth ----

func (m *memStore) CreateTherapist(ctx context.Context, t store.Therapist) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	m.therapists[t.ID] = t
	return nil
}

func (m *memStore) GetTherapistByID(ctx context.Context, id string) (store.Therapist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.therapists[id]
	if !ok {
		return store.Therapist{}, sql.ErrNoRows
	}
	return t, nil
}

func (m *memStore) GetTherapistByEmail(ctx context.Context, email string) (store.Therapist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.therapists {
		if t.Email == email {
			return t, nil
		}
	}
	return store.Therapist{}, sql.ErrNoRows
}

func (m *memStore) UpdateTherapistVerificationToken(ctx context.Context, therapistID, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.therapists[therapistID]
	if !ok {
		return sql.ErrNoRows
	}
	t.VerificationToken = token
	t.VerificationExpiresAt = &expiresAt
	m.therapists[therapistID] = t
	return nil
}

func (m *memStore) VerifyTherapistEmail(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.therapists {
		if t.VerificationToken == token && token != "" {
			t.IsEmailVerified = true
			t.VerificationToken = ""
			m.therapists[id] = t
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *memStore) UpdateTherapistPassword(ctx context.Context, therapistID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.therapists[therapistID]
	if !ok {
		return sql.ErrNoRows
	}
	t.PasswordHash = passwordHash
	m.therapists[therapistID] = t
	return nil
}

func (m *memStore) CreatePasswordReset(ctx context.Context, therapistID, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets[token] = therapistID
	return nil
}

func (m *memStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.resets[token]
	if !ok {
		return "", sql.ErrNoRows
	}
	return id, nil
}

func (m *memStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.resets, token)
	return nil
}

// ---- tokens and refresh sessions ----

func (m *memStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[jti] = true
	return nil
}

func (m *memStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revoked[jti], nil
}

func (m *memStore) SaveRefreshSession(ctx context.Context, tokenHash, therapistID string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh[tokenHash] = refreshRow{therapistID: therapistID, expiresAt: expiresAt}
	return nil
}

func (m *memStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.Therapist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.refresh[tokenHash]
	if !ok || time.Now().After(row.expiresAt) {
		return store.Therapist{}, sql.ErrNoRows
	}
	t, ok := m.therapists[row.therapistID]
	if !ok {
		return store.Therapist{}, sql.ErrNoRows
	}
	return t, nil
}

func (m *memStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.refresh, tokenHash)
	return nil
}

// ---- clients ----

func (m *memStore) InsertClient(ctx context.Context, c store.Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	m.clients[c.ID] = c
	return nil
}

func (m *memStore) UpdateClient(ctx context.Context, c store.Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.clients[c.ID]
	if !ok || existing.TherapistID != c.TherapistID {
		return sql.ErrNoRows
	}
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = time.Now()
	m.clients[c.ID] = c
	return nil
}

func (m *memStore) GetClient(ctx context.Context, therapistID, clientID string) (store.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[clientID]
	if !ok || c.TherapistID != therapistID {
		return store.Client{}, sql.ErrNoRows
	}
	return c, nil
}

func (m *memStore) ListClients(ctx context.Context, therapistID, status string) ([]store.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Client, 0)
	for _, c := range m.clients {
		if c.TherapistID != therapistID {
			continue
		}
		if status != "" && c.Status != status {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *memStore) ArchiveClient(ctx context.Context, therapistID, clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[clientID]
	if !ok || c.TherapistID != therapistID {
		return sql.ErrNoRows
	}
	c.Status = "archived"
	m.clients[clientID] = c
	return nil
}

// ---- appointments ----

func (m *memStore) InsertAppointment(ctx context.Context, a store.Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	m.appts[a.ID] = a
	return nil
}

func (m *memStore) UpdateAppointment(ctx context.Context, a store.Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.appts[a.ID]
	if !ok || existing.TherapistID != a.TherapistID {
		return sql.ErrNoRows
	}
	a.CreatedAt = existing.CreatedAt
	a.UpdatedAt = time.Now()
	m.appts[a.ID] = a
	return nil
}

func (m *memStore) UpdateAppointmentStatus(ctx context.Context, therapistID, appointmentID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[appointmentID]
	if !ok || a.TherapistID != therapistID {
		return sql.ErrNoRows
	}
	a.Status = status
	a.UpdatedAt = time.Now()
	m.appts[appointmentID] = a
	return nil
}

func (m *memStore) GetAppointment(ctx context.Context, therapistID, appointmentID string) (store.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[appointmentID]
	if !ok || a.TherapistID != therapistID {
		return store.Appointment{}, sql.ErrNoRows
	}
	return a, nil
}

func (m *memStore) DeleteAppointment(ctx context.Context, therapistID, appointmentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[appointmentID]
	if !ok || a.TherapistID != therapistID {
		return sql.ErrNoRows
	}
	delete(m.appts, appointmentID)
	return nil
}

func (m *memStore) ListAppointments(ctx context.Context, therapistID string, from, to time.Time) ([]store.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Appointment, 0)
	for _, a := range m.appts {
		if a.TherapistID != therapistID {
			continue
		}
		if a.StartTime.Before(from) || !a.StartTime.Before(to) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (m *memStore) ListClientAppointments(ctx context.Context, therapistID, clientID string) ([]store.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Appointment, 0)
	for _, a := range m.appts {
		if a.TherapistID == therapistID && a.ClientID == clientID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) FindOverlapping(ctx context.Context, therapistID string, from, to time.Time, excludeID string) ([]store.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Appointment, 0)
	for _, a := range m.appts {
		if a.TherapistID != therapistID || a.ID == excludeID {
			continue
		}
		if a.Status == "cancelled" || a.Status == "no_show" {
			continue
		}
		if a.StartTime.Before(to) && from.Before(a.EndTime) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) ListReminderDue(ctx context.Context, from, to time.Time) ([]store.ReminderDue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	due := make([]store.ReminderDue, 0)
	for _, a := range m.appts {
		if a.Status != "scheduled" && a.Status != "confirmed" {
			continue
		}
		if _, sent := m.reminded[a.ID]; sent {
			continue
		}
		if a.StartTime.Before(from) || !a.StartTime.Before(to) {
			continue
		}
		client, ok := m.clients[a.ClientID]
		if !ok || client.Email == "" {
			continue
		}
		therapist := m.therapists[a.TherapistID]
		due = append(due, store.ReminderDue{
			AppointmentID: a.ID,
			StartTime:     a.StartTime,
			EndTime:       a.EndTime,
			ClientName:    strings.TrimSpace(client.FirstName + " " + client.LastName),
			ClientEmail:   client.Email,
			TherapistName: therapist.DisplayName,
		})
	}
	return due, nil
}

func (m *memStore) MarkReminderSent(ctx context.Context, appointmentID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reminded[appointmentID] = at
	return nil
}

// ---- session notes ----

func (m *memStore) InsertSessionNote(ctx context.Context, n store.SessionNote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n.CreatedAt = time.Now()
	n.UpdatedAt = n.CreatedAt
	m.notes[n.ID] = n
	return nil
}

func (m *memStore) UpdateSessionNote(ctx context.Context, n store.SessionNote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.notes[n.ID]
	if !ok || existing.TherapistID != n.TherapistID {
		return sql.ErrNoRows
	}
	n.CreatedAt = existing.CreatedAt
	n.UpdatedAt = time.Now()
	m.notes[n.ID] = n
	return nil
}

func (m *memStore) UpdateSessionNoteAI(ctx context.Context, therapistID, noteID, summary string, tags []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notes[noteID]
	if !ok || n.TherapistID != therapistID {
		return sql.ErrNoRows
	}
	n.AISummary = summary
	n.AITags = tags
	m.notes[noteID] = n
	return nil
}

func (m *memStore) GetSessionNote(ctx context.Context, therapistID, noteID string) (store.SessionNote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notes[noteID]
	if !ok || n.TherapistID != therapistID {
		return store.SessionNote{}, sql.ErrNoRows
	}
	return n, nil
}

func (m *memStore) ListSessionNotes(ctx context.Context, therapistID, clientID string, limit int) ([]store.SessionNote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.SessionNote, 0)
	for _, n := range m.notes {
		if n.TherapistID != therapistID {
			continue
		}
		if clientID != "" && n.ClientID != clientID {
			continue
		}
		out = append(out, n)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) DeleteSessionNote(ctx context.Context, therapistID, noteID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notes[noteID]
	if !ok || n.TherapistID != therapistID {
		return sql.ErrNoRows
	}
	delete(m.notes, noteID)
	return nil
}

// ---- documents ----

func (m *memStore) InsertDocument(ctx context.Context, d store.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.CreatedAt = time.Now()
	m.documents[d.ID] = d
	return nil
}

func (m *memStore) GetDocument(ctx context.Context, therapistID, documentID string) (store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[documentID]
	if !ok || d.TherapistID != therapistID {
		return store.Document{}, sql.ErrNoRows
	}
	return d, nil
}

func (m *memStore) ListClientDocuments(ctx context.Context, therapistID, clientID string) ([]store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Document, 0)
	for _, d := range m.documents {
		if d.TherapistID == therapistID && d.ClientID == clientID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memStore) DeleteDocument(ctx context.Context, therapistID, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[documentID]
	if !ok || d.TherapistID != therapistID {
		return sql.ErrNoRows
	}
	delete(m.documents, documentID)
	return nil
}

// ---- insights and action items ----

func (m *memStore) InsertInsight(ctx context.Context, i store.AiInsight) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i.CreatedAt = time.Now()
	m.insights[i.ID] = i
	return nil
}

func (m *memStore) ListClientInsights(ctx context.Context, therapistID, clientID string, limit int) ([]store.AiInsight, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.AiInsight, 0)
	for _, i := range m.insights {
		if i.TherapistID == therapistID && i.ClientID == clientID {
			out = append(out, i)
		}
	}
	return out, nil
}

func (m *memStore) InsertActionItem(ctx context.Context, a store.ActionItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	m.items[a.ID] = a
	return nil
}

func (m *memStore) ListActionItems(ctx context.Context, therapistID, clientID, status string) ([]store.ActionItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.ActionItem, 0)
	for _, a := range m.items {
		if a.TherapistID != therapistID {
			continue
		}
		if clientID != "" && a.ClientID != clientID {
			continue
		}
		if status != "" && a.Status != status {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (m *memStore) UpdateActionItemStatus(ctx context.Context, therapistID, itemID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[itemID]
	if !ok || a.TherapistID != therapistID {
		return sql.ErrNoRows
	}
	a.Status = status
	if status == "completed" {
		now := time.Now()
		a.CompletedAt = &now
	}
	m.items[itemID] = a
	return nil
}

// ---- audit, dashboard, calendar ----

func (m *memStore) InsertAuditEvent(ctx context.Context, e store.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = int64(len(m.audits) + 1)
	e.CreatedAt = time.Now()
	m.audits = append(m.audits, e)
	return nil
}

func (m *memStore) ListAuditEvents(ctx context.Context, therapistID string, limit int) ([]store.AuditEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.AuditEvent, 0)
	for i := len(m.audits) - 1; i >= 0; i-- {
		if m.audits[i].TherapistID != therapistID {
			continue
		}
		out = append(out, m.audits[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) DashboardCounts(ctx context.Context, therapistID string) (store.SummaryCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var c store.SummaryCounts
	for _, client := range m.clients {
		if client.TherapistID == therapistID && client.Status == "active" {
			c.ActiveClients++
		}
	}
	dayStart := time.Now().Truncate(24 * time.Hour)
	for _, a := range m.appts {
		if a.TherapistID != therapistID || a.Status == "cancelled" || a.Status == "no_show" {
			continue
		}
		if !a.StartTime.Before(dayStart) && a.StartTime.Before(dayStart.Add(24*time.Hour)) {
			c.AppointmentsToday++
		}
	}
	for _, item := range m.items {
		if item.TherapistID == therapistID && item.Status == "open" {
			c.OpenActionItems++
		}
	}
	for _, n := range m.notes {
		if n.TherapistID == therapistID {
			c.NotesThisWeek++
		}
	}
	return c, nil
}

func (m *memStore) GetCalendarAccount(ctx context.Context, therapistID string) (store.CalendarAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.calendars[therapistID]
	if !ok {
		return store.CalendarAccount{}, sql.ErrNoRows
	}
	return a, nil
}
