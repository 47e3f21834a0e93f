package store

import "time"

type Therapist struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	Role                  string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	DeactivatedAt         *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Client struct {
	ID               string
	TherapistID      string
	FirstName        string
	LastName         string
	Email            string
	Phone            string
	DateOfBirth      *time.Time
	Status           string
	EmergencyContact string
	ReferralSource   string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// FullName is the display form used for calendar summaries and client matching.
func (c Client) FullName() string {
	if c.FirstName == "" {
		return c.LastName
	}
	if c.LastName == "" {
		return c.FirstName
	}
	return c.FirstName + " " + c.LastName
}

type Appointment struct {
	ID               string
	TherapistID      string
	ClientID         string
	StartTime        time.Time
	EndTime          time.Time
	Type             string
	Status           string
	Location         string
	Notes            string
	GoogleEventID    string
	GoogleCalendarID string
	LastSyncedAt     *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ReminderDue is a joined row describing an upcoming appointment whose client
// should receive a reminder email.
type ReminderDue struct {
	AppointmentID string
	StartTime     time.Time
	EndTime       time.Time
	ClientName    string
	ClientEmail   string
	TherapistName string
}

type SessionNote struct {
	ID            string
	TherapistID   string
	ClientID      string
	AppointmentID *string
	SessionDate   time.Time
	Content       string
	AISummary     string
	AITags        []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Document struct {
	ID          string
	TherapistID string
	ClientID    string
	FileName    string
	ContentType string
	SizeBytes   int64
	ObjectKey   string
	Category    string
	UploadedBy  string
	CreatedAt   time.Time
}

type AiInsight struct {
	ID          string
	TherapistID string
	ClientID    string
	Kind        string
	Content     string
	Model       string
	CreatedAt   time.Time
}

type ActionItem struct {
	ID          string
	TherapistID string
	ClientID    string
	Description string
	Priority    string
	Status      string
	DueDate     *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type AuditEvent struct {
	ID          int64
	TherapistID string
	EventType   string
	EntityType  string
	EntityID    string
	Payload     map[string]any
	CreatedAt   time.Time
}

// CalendarAccount holds the Google Calendar link for one therapist: OAuth
// tokens, the incremental sync token, and the push notification channel.
type CalendarAccount struct {
	TherapistID   string
	AccessToken   string
	RefreshToken  string
	TokenExpiry   time.Time
	CalendarID    string
	SyncToken     string
	ChannelID     string
	ResourceID    string
	ChannelExpiry *time.Time
	LastSyncedAt  *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SummaryCounts feeds the dashboard cards.
type SummaryCounts struct {
	ActiveClients     int
	AppointmentsToday int
	OpenActionItems   int
	NotesThisWeek     int
}
