package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- therapists ----

const therapistColumns = `id, display_name, email, password_hash, role, is_email_verified,
	verification_token, verification_expires_at, deactivated_at, created_at, updated_at`

func scanTherapist(row *sql.Row) (Therapist, error) {
	var t Therapist
	err := row.Scan(&t.ID, &t.DisplayName, &t.Email, &t.PasswordHash, &t.Role, &t.IsEmailVerified,
		&t.VerificationToken, &t.VerificationExpiresAt, &t.DeactivatedAt, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func (s *PostgresStore) CreateTherapist(ctx context.Context, t Therapist) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO therapists (id, display_name, email, password_hash, role, is_email_verified, verification_token)
		VALUES ($1, $2, LOWER($3), $4, $5, $6, $7)
	`, t.ID, t.DisplayName, t.Email, t.PasswordHash, t.Role, t.IsEmailVerified, t.VerificationToken)
	if err != nil {
		return fmt.Errorf("create therapist: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTherapistByEmail(ctx context.Context, email string) (Therapist, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+therapistColumns+` FROM therapists WHERE email = LOWER($1) AND deactivated_at IS NULL`, email)
	return scanTherapist(row)
}

func (s *PostgresStore) GetTherapistByID(ctx context.Context, id string) (Therapist, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+therapistColumns+` FROM therapists WHERE id = $1 AND deactivated_at IS NULL`, id)
	return scanTherapist(row)
}

func (s *PostgresStore) UpdateTherapistVerificationToken(ctx context.Context, therapistID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE therapists SET verification_token=$2, verification_expires_at=$3, updated_at=NOW()
		WHERE id=$1
	`, therapistID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyTherapistEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE therapists
		SET is_email_verified=TRUE, verification_token='', verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND verification_token <> ''
			AND (verification_expires_at IS NULL OR verification_expires_at > NOW())
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateTherapistPassword(ctx context.Context, therapistID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE therapists SET password_hash=$2, updated_at=NOW() WHERE id=$1`, therapistID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, therapistID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, therapist_id, expires_at)
		VALUES ($1, $2, $3)
	`, token, therapistID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var therapistID string
	err := s.db.QueryRowContext(ctx, `
		SELECT therapist_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&therapistID)
	if err != nil {
		return "", err
	}
	return therapistID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

// ---- refresh sessions and token revocation ----

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, therapistID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, therapist_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET therapist_id=EXCLUDED.therapist_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, therapistID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (Therapist, error) {
	const query = `
		SELECT t.id, t.display_name, t.email, t.role
		FROM refresh_sessions rs
		JOIN therapists t ON t.id = rs.therapist_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
			AND t.deactivated_at IS NULL
	`
	var t Therapist
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&t.ID, &t.DisplayName, &t.Email, &t.Role)
	if err != nil {
		return Therapist{}, err
	}
	if t.Role == "" {
		t.Role = "therapist"
	}
	return t, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ---- clients ----

const clientColumns = `id, therapist_id, first_name, last_name, email, phone, date_of_birth,
	status, emergency_contact, referral_source, created_at, updated_at`

func (s *PostgresStore) InsertClient(ctx context.Context, c Client) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clients (id, therapist_id, first_name, last_name, email, phone, date_of_birth, status, emergency_contact, referral_source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, c.ID, c.TherapistID, c.FirstName, c.LastName, c.Email, c.Phone, c.DateOfBirth, c.Status, c.EmergencyContact, c.ReferralSource)
	if err != nil {
		return fmt.Errorf("insert client: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateClient(ctx context.Context, c Client) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE clients
		SET first_name=$3, last_name=$4, email=$5, phone=$6, date_of_birth=$7, status=$8,
			emergency_contact=$9, referral_source=$10, updated_at=NOW()
		WHERE id=$1 AND therapist_id=$2
	`, c.ID, c.TherapistID, c.FirstName, c.LastName, c.Email, c.Phone, c.DateOfBirth, c.Status, c.EmergencyContact, c.ReferralSource)
	if err != nil {
		return fmt.Errorf("update client: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update client rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) GetClient(ctx context.Context, therapistID, clientID string) (Client, error) {
	var c Client
	err := s.db.QueryRowContext(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE id=$1 AND therapist_id=$2`, clientID, therapistID).
		Scan(&c.ID, &c.TherapistID, &c.FirstName, &c.LastName, &c.Email, &c.Phone, &c.DateOfBirth,
			&c.Status, &c.EmergencyContact, &c.ReferralSource, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Client{}, err
	}
	return c, nil
}

func (s *PostgresStore) ListClients(ctx context.Context, therapistID, status string) ([]Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients WHERE therapist_id=$1`
	args := []any{therapistID}
	if status != "" {
		query += ` AND status=$2`
		args = append(args, status)
	}
	query += ` ORDER BY last_name, first_name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	items := make([]Client, 0)
	for rows.Next() {
		var c Client
		if err := rows.Scan(&c.ID, &c.TherapistID, &c.FirstName, &c.LastName, &c.Email, &c.Phone, &c.DateOfBirth,
			&c.Status, &c.EmergencyContact, &c.ReferralSource, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (s *PostgresStore) ArchiveClient(ctx context.Context, therapistID, clientID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE clients SET status='archived', updated_at=NOW() WHERE id=$1 AND therapist_id=$2
	`, clientID, therapistID)
	if err != nil {
		return fmt.Errorf("archive client: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("archive client rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// FindClientByName matches a calendar event summary against client full names.
// Used by calendar sync to link imported events to client records.
func (s *PostgresStore) FindClientByName(ctx context.Context, therapistID, name string) (Client, error) {
	var c Client
	err := s.db.QueryRowContext(ctx, `
		SELECT `+clientColumns+`
		FROM clients
		WHERE therapist_id=$1
			AND LOWER(TRIM(first_name || ' ' || last_name)) = LOWER(TRIM($2))
		LIMIT 1
	`, therapistID, name).
		Scan(&c.ID, &c.TherapistID, &c.FirstName, &c.LastName, &c.Email, &c.Phone, &c.DateOfBirth,
			&c.Status, &c.EmergencyContact, &c.ReferralSource, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Client{}, err
	}
	return c, nil
}

// ---- appointments ----

const appointmentColumns = `id, therapist_id, client_id, start_time, end_time, type, status,
	location, notes, google_event_id, google_calendar_id, last_synced_at, created_at, updated_at`

func scanAppointmentRows(rows *sql.Rows) ([]Appointment, error) {
	items := make([]Appointment, 0)
	for rows.Next() {
		var a Appointment
		if err := rows.Scan(&a.ID, &a.TherapistID, &a.ClientID, &a.StartTime, &a.EndTime, &a.Type, &a.Status,
			&a.Location, &a.Notes, &a.GoogleEventID, &a.GoogleCalendarID, &a.LastSyncedAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (s *PostgresStore) InsertAppointment(ctx context.Context, a Appointment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO appointments (id, therapist_id, client_id, start_time, end_time, type, status, location, notes, google_event_id, google_calendar_id, last_synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, a.ID, a.TherapistID, a.ClientID, a.StartTime, a.EndTime, a.Type, a.Status, a.Location, a.Notes, a.GoogleEventID, a.GoogleCalendarID, a.LastSyncedAt)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateAppointment(ctx context.Context, a Appointment) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE appointments
		SET client_id=$3, start_time=$4, end_time=$5, type=$6, status=$7, location=$8, notes=$9, updated_at=NOW()
		WHERE id=$1 AND therapist_id=$2
	`, a.ID, a.TherapistID, a.ClientID, a.StartTime, a.EndTime, a.Type, a.Status, a.Location, a.Notes)
	if err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update appointment rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateAppointmentStatus(ctx context.Context, therapistID, appointmentID, status string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE appointments SET status=$3, updated_at=NOW() WHERE id=$1 AND therapist_id=$2
	`, appointmentID, therapistID, status)
	if err != nil {
		return fmt.Errorf("update appointment status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update appointment status rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) GetAppointment(ctx context.Context, therapistID, appointmentID string) (Appointment, error) {
	var a Appointment
	err := s.db.QueryRowContext(ctx,
		`SELECT `+appointmentColumns+` FROM appointments WHERE id=$1 AND therapist_id=$2`, appointmentID, therapistID).
		Scan(&a.ID, &a.TherapistID, &a.ClientID, &a.StartTime, &a.EndTime, &a.Type, &a.Status,
			&a.Location, &a.Notes, &a.GoogleEventID, &a.GoogleCalendarID, &a.LastSyncedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return Appointment{}, err
	}
	return a, nil
}

func (s *PostgresStore) DeleteAppointment(ctx context.Context, therapistID, appointmentID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM appointments WHERE id=$1 AND therapist_id=$2`, appointmentID, therapistID)
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete appointment rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) ListAppointments(ctx context.Context, therapistID string, from, to time.Time) ([]Appointment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE therapist_id=$1 AND start_time < $3 AND end_time > $2
		ORDER BY start_time
	`, therapistID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()
	return scanAppointmentRows(rows)
}

func (s *PostgresStore) ListClientAppointments(ctx context.Context, therapistID, clientID string) ([]Appointment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE therapist_id=$1 AND client_id=$2
		ORDER BY start_time DESC
	`, therapistID, clientID)
	if err != nil {
		return nil, fmt.Errorf("list client appointments: %w", err)
	}
	defer rows.Close()
	return scanAppointmentRows(rows)
}

// FindOverlapping returns active appointments that overlap [from, to) for the
// therapist, excluding excludeID. Cancelled and no-show slots never conflict.
func (s *PostgresStore) FindOverlapping(ctx context.Context, therapistID string, from, to time.Time, excludeID string) ([]Appointment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE therapist_id=$1
			AND id <> $4
			AND status NOT IN ('cancelled', 'no_show')
			AND start_time < $3 AND end_time > $2
		ORDER BY start_time
	`, therapistID, from, to, excludeID)
	if err != nil {
		return nil, fmt.Errorf("find overlapping: %w", err)
	}
	defer rows.Close()
	return scanAppointmentRows(rows)
}

// ListReminderDue returns active appointments starting in [from, to) that have
// not been reminded yet, joined with the names and address the reminder email
// needs. Clients without an email address are skipped.
func (s *PostgresStore) ListReminderDue(ctx context.Context, from, to time.Time) ([]ReminderDue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.start_time, a.end_time,
			TRIM(c.first_name || ' ' || c.last_name), c.email, t.display_name
		FROM appointments a
		JOIN clients c ON c.id = a.client_id
		JOIN therapists t ON t.id = a.therapist_id
		WHERE a.status IN ('scheduled', 'confirmed')
			AND a.reminder_sent_at IS NULL
			AND c.email <> ''
			AND a.start_time >= $1 AND a.start_time < $2
		ORDER BY a.start_time
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("list reminder due: %w", err)
	}
	defer rows.Close()

	var due []ReminderDue
	for rows.Next() {
		var d ReminderDue
		if err := rows.Scan(&d.AppointmentID, &d.StartTime, &d.EndTime,
			&d.ClientName, &d.ClientEmail, &d.TherapistName); err != nil {
			return nil, fmt.Errorf("scan reminder due: %w", err)
		}
		due = append(due, d)
	}
	return due, rows.Err()
}

func (s *PostgresStore) MarkReminderSent(ctx context.Context, appointmentID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE appointments SET reminder_sent_at=$2 WHERE id=$1`, appointmentID, at)
	if err != nil {
		return fmt.Errorf("mark reminder sent: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAppointmentByGoogleEventID(ctx context.Context, therapistID, googleEventID string) (Appointment, error) {
	var a Appointment
	err := s.db.QueryRowContext(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE therapist_id=$1 AND google_event_id=$2
	`, therapistID, googleEventID).
		Scan(&a.ID, &a.TherapistID, &a.ClientID, &a.StartTime, &a.EndTime, &a.Type, &a.Status,
			&a.Location, &a.Notes, &a.GoogleEventID, &a.GoogleCalendarID, &a.LastSyncedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return Appointment{}, err
	}
	return a, nil
}

// ListAppointmentsNeedingPush returns appointments that were never pushed to
// Google or changed locally since the last sync.
func (s *PostgresStore) ListAppointmentsNeedingPush(ctx context.Context, therapistID string) ([]Appointment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE therapist_id=$1
			AND (google_event_id = '' OR last_synced_at IS NULL OR updated_at > last_synced_at)
		ORDER BY start_time
	`, therapistID)
	if err != nil {
		return nil, fmt.Errorf("list appointments needing push: %w", err)
	}
	defer rows.Close()
	return scanAppointmentRows(rows)
}

func (s *PostgresStore) MarkAppointmentSynced(ctx context.Context, appointmentID, googleEventID, googleCalendarID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE appointments
		SET google_event_id=$2, google_calendar_id=$3, last_synced_at=$4, updated_at=$4
		WHERE id=$1
	`, appointmentID, googleEventID, googleCalendarID, at)
	if err != nil {
		return fmt.Errorf("mark appointment synced: %w", err)
	}
	return nil
}

// ---- session notes ----

const sessionNoteColumns = `id, therapist_id, client_id, appointment_id, session_date,
	content, ai_summary, ai_tags, created_at, updated_at`

func scanSessionNote(scan func(dest ...any) error) (SessionNote, error) {
	var n SessionNote
	var tags []byte
	err := scan(&n.ID, &n.TherapistID, &n.ClientID, &n.AppointmentID, &n.SessionDate,
		&n.Content, &n.AISummary, &tags, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return SessionNote{}, err
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &n.AITags); err != nil {
			return SessionNote{}, fmt.Errorf("decode ai tags: %w", err)
		}
	}
	return n, nil
}

func (s *PostgresStore) InsertSessionNote(ctx context.Context, n SessionNote) error {
	tags, err := json.Marshal(nonNilTags(n.AITags))
	if err != nil {
		return fmt.Errorf("encode ai tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_notes (id, therapist_id, client_id, appointment_id, session_date, content, ai_summary, ai_tags)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, n.ID, n.TherapistID, n.ClientID, n.AppointmentID, n.SessionDate, n.Content, n.AISummary, tags)
	if err != nil {
		return fmt.Errorf("insert session note: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateSessionNote(ctx context.Context, n SessionNote) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE session_notes
		SET appointment_id=$3, session_date=$4, content=$5, updated_at=NOW()
		WHERE id=$1 AND therapist_id=$2
	`, n.ID, n.TherapistID, n.AppointmentID, n.SessionDate, n.Content)
	if err != nil {
		return fmt.Errorf("update session note: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session note rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateSessionNoteAI(ctx context.Context, therapistID, noteID, summary string, tags []string) error {
	encoded, err := json.Marshal(nonNilTags(tags))
	if err != nil {
		return fmt.Errorf("encode ai tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE session_notes SET ai_summary=$3, ai_tags=$4, updated_at=NOW()
		WHERE id=$1 AND therapist_id=$2
	`, noteID, therapistID, summary, encoded)
	if err != nil {
		return fmt.Errorf("update session note ai: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSessionNote(ctx context.Context, therapistID, noteID string) (SessionNote, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionNoteColumns+` FROM session_notes WHERE id=$1 AND therapist_id=$2`, noteID, therapistID)
	return scanSessionNote(row.Scan)
}

func (s *PostgresStore) ListSessionNotes(ctx context.Context, therapistID, clientID string, limit int) ([]SessionNote, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + sessionNoteColumns + ` FROM session_notes WHERE therapist_id=$1`
	args := []any{therapistID}
	if clientID != "" {
		query += ` AND client_id=$2`
		args = append(args, clientID)
	}
	query += fmt.Sprintf(` ORDER BY session_date DESC, created_at DESC LIMIT %d`, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list session notes: %w", err)
	}
	defer rows.Close()

	items := make([]SessionNote, 0)
	for rows.Next() {
		n, err := scanSessionNote(rows.Scan)
		if err != nil {
			return nil, err
		}
		items = append(items, n)
	}
	return items, rows.Err()
}

func (s *PostgresStore) DeleteSessionNote(ctx context.Context, therapistID, noteID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM session_notes WHERE id=$1 AND therapist_id=$2`, noteID, therapistID)
	if err != nil {
		return fmt.Errorf("delete session note: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session note rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

// ---- documents ----

func (s *PostgresStore) InsertDocument(ctx context.Context, d Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, therapist_id, client_id, file_name, content_type, size_bytes, object_key, category, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, d.ID, d.TherapistID, d.ClientID, d.FileName, d.ContentType, d.SizeBytes, d.ObjectKey, d.Category, d.UploadedBy)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, therapistID, documentID string) (Document, error) {
	var d Document
	err := s.db.QueryRowContext(ctx, `
		SELECT id, therapist_id, client_id, file_name, content_type, size_bytes, object_key, category, uploaded_by, created_at
		FROM documents WHERE id=$1 AND therapist_id=$2
	`, documentID, therapistID).
		Scan(&d.ID, &d.TherapistID, &d.ClientID, &d.FileName, &d.ContentType, &d.SizeBytes, &d.ObjectKey, &d.Category, &d.UploadedBy, &d.CreatedAt)
	if err != nil {
		return Document{}, err
	}
	return d, nil
}

func (s *PostgresStore) ListClientDocuments(ctx context.Context, therapistID, clientID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, therapist_id, client_id, file_name, content_type, size_bytes, object_key, category, uploaded_by, created_at
		FROM documents WHERE therapist_id=$1 AND client_id=$2
		ORDER BY created_at DESC
	`, therapistID, clientID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.TherapistID, &d.ClientID, &d.FileName, &d.ContentType, &d.SizeBytes, &d.ObjectKey, &d.Category, &d.UploadedBy, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, therapistID, documentID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE id=$1 AND therapist_id=$2`, documentID, therapistID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete document rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ---- ai insights ----

func (s *PostgresStore) InsertInsight(ctx context.Context, i AiInsight) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ai_insights (id, therapist_id, client_id, kind, content, model)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, i.ID, i.TherapistID, i.ClientID, i.Kind, i.Content, i.Model)
	if err != nil {
		return fmt.Errorf("insert insight: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListClientInsights(ctx context.Context, therapistID, clientID string, limit int) ([]AiInsight, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, therapist_id, client_id, kind, content, model, created_at
		FROM ai_insights WHERE therapist_id=$1 AND client_id=$2
		ORDER BY created_at DESC
		LIMIT $3
	`, therapistID, clientID, limit)
	if err != nil {
		return nil, fmt.Errorf("list insights: %w", err)
	}
	defer rows.Close()

	items := make([]AiInsight, 0)
	for rows.Next() {
		var i AiInsight
		if err := rows.Scan(&i.ID, &i.TherapistID, &i.ClientID, &i.Kind, &i.Content, &i.Model, &i.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan insight: %w", err)
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

// ---- action items ----

func (s *PostgresStore) InsertActionItem(ctx context.Context, a ActionItem) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO action_items (id, therapist_id, client_id, description, priority, status, due_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, a.ID, a.TherapistID, a.ClientID, a.Description, a.Priority, a.Status, a.DueDate)
	if err != nil {
		return fmt.Errorf("insert action item: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListActionItems(ctx context.Context, therapistID, clientID, status string) ([]ActionItem, error) {
	query := `
		SELECT id, therapist_id, client_id, description, priority, status, due_date, completed_at, created_at, updated_at
		FROM action_items WHERE therapist_id=$1`
	args := []any{therapistID}
	argN := 2
	if clientID != "" {
		query += fmt.Sprintf(` AND client_id=$%d`, argN)
		args = append(args, clientID)
		argN++
	}
	if status != "" {
		query += fmt.Sprintf(` AND status=$%d`, argN)
		args = append(args, status)
	}
	query += ` ORDER BY due_date NULLS LAST, created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list action items: %w", err)
	}
	defer rows.Close()

	items := make([]ActionItem, 0)
	for rows.Next() {
		var a ActionItem
		if err := rows.Scan(&a.ID, &a.TherapistID, &a.ClientID, &a.Description, &a.Priority, &a.Status, &a.DueDate, &a.CompletedAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan action item: %w", err)
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (s *PostgresStore) UpdateActionItemStatus(ctx context.Context, therapistID, itemID, status string) error {
	var completedAt any
	if status == "completed" {
		completedAt = time.Now()
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE action_items SET status=$3, completed_at=$4, updated_at=NOW()
		WHERE id=$1 AND therapist_id=$2
	`, itemID, therapistID, status, completedAt)
	if err != nil {
		return fmt.Errorf("update action item: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update action item rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ---- audit events ----

func (s *PostgresStore) InsertAuditEvent(ctx context.Context, e AuditEvent) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("encode audit payload: %w", err)
	}
	if e.Payload == nil {
		payload = []byte(`{}`)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_events (therapist_id, event_type, entity_type, entity_id, payload)
		VALUES ($1, $2, $3, $4, $5)
	`, e.TherapistID, e.EventType, e.EntityType, e.EntityID, payload)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAuditEvents(ctx context.Context, therapistID string, limit int) ([]AuditEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, therapist_id, event_type, entity_type, entity_id, payload, created_at
		FROM audit_events WHERE therapist_id=$1
		ORDER BY created_at DESC
		LIMIT $2
	`, therapistID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	items := make([]AuditEvent, 0)
	for rows.Next() {
		var e AuditEvent
		var payload []byte
		if err := rows.Scan(&e.ID, &e.TherapistID, &e.EventType, &e.EntityType, &e.EntityID, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("decode audit payload: %w", err)
			}
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

// ---- calendar accounts ----

func (s *PostgresStore) SaveCalendarAccount(ctx context.Context, a CalendarAccount) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO calendar_accounts (therapist_id, access_token, refresh_token, token_expiry, calendar_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (therapist_id) DO UPDATE SET
			access_token=EXCLUDED.access_token,
			refresh_token=EXCLUDED.refresh_token,
			token_expiry=EXCLUDED.token_expiry,
			calendar_id=EXCLUDED.calendar_id,
			updated_at=NOW()
	`, a.TherapistID, a.AccessToken, a.RefreshToken, a.TokenExpiry, a.CalendarID)
	if err != nil {
		return fmt.Errorf("save calendar account: %w", err)
	}
	return nil
}

const calendarAccountColumns = `therapist_id, access_token, refresh_token, token_expiry, calendar_id,
	sync_token, channel_id, resource_id, channel_expiry, last_synced_at, created_at, updated_at`

func scanCalendarAccount(scan func(dest ...any) error) (CalendarAccount, error) {
	var a CalendarAccount
	var tokenExpiry sql.NullTime
	err := scan(&a.TherapistID, &a.AccessToken, &a.RefreshToken, &tokenExpiry, &a.CalendarID,
		&a.SyncToken, &a.ChannelID, &a.ResourceID, &a.ChannelExpiry, &a.LastSyncedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return CalendarAccount{}, err
	}
	if tokenExpiry.Valid {
		a.TokenExpiry = tokenExpiry.Time
	}
	return a, nil
}

func (s *PostgresStore) GetCalendarAccount(ctx context.Context, therapistID string) (CalendarAccount, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+calendarAccountColumns+` FROM calendar_accounts WHERE therapist_id=$1`, therapistID)
	return scanCalendarAccount(row.Scan)
}

func (s *PostgresStore) GetCalendarAccountByChannelID(ctx context.Context, channelID string) (CalendarAccount, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+calendarAccountColumns+` FROM calendar_accounts WHERE channel_id=$1`, channelID)
	return scanCalendarAccount(row.Scan)
}

func (s *PostgresStore) ListCalendarAccounts(ctx context.Context) ([]CalendarAccount, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+calendarAccountColumns+` FROM calendar_accounts`)
	if err != nil {
		return nil, fmt.Errorf("list calendar accounts: %w", err)
	}
	defer rows.Close()

	items := make([]CalendarAccount, 0)
	for rows.Next() {
		a, err := scanCalendarAccount(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan calendar account: %w", err)
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (s *PostgresStore) UpdateCalendarTokens(ctx context.Context, therapistID, accessToken, refreshToken string, expiry time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE calendar_accounts SET access_token=$2, refresh_token=$3, token_expiry=$4, updated_at=NOW()
		WHERE therapist_id=$1
	`, therapistID, accessToken, refreshToken, expiry)
	if err != nil {
		return fmt.Errorf("update calendar tokens: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateCalendarSyncState(ctx context.Context, therapistID, syncToken string, syncedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE calendar_accounts SET sync_token=$2, last_synced_at=$3, updated_at=NOW()
		WHERE therapist_id=$1
	`, therapistID, syncToken, syncedAt)
	if err != nil {
		return fmt.Errorf("update calendar sync state: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateCalendarChannel(ctx context.Context, therapistID, channelID, resourceID string, expiry *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE calendar_accounts SET channel_id=$2, resource_id=$3, channel_expiry=$4, updated_at=NOW()
		WHERE therapist_id=$1
	`, therapistID, channelID, resourceID, expiry)
	if err != nil {
		return fmt.Errorf("update calendar channel: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteCalendarAccount(ctx context.Context, therapistID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM calendar_accounts WHERE therapist_id=$1`, therapistID)
	if err != nil {
		return fmt.Errorf("delete calendar account: %w", err)
	}
	return nil
}

// ---- dashboard ----

func (s *PostgresStore) DashboardCounts(ctx context.Context, therapistID string) (SummaryCounts, error) {
	var c SummaryCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM clients WHERE therapist_id=$1 AND status='active'),
			(SELECT COUNT(*) FROM appointments WHERE therapist_id=$1
				AND start_time >= date_trunc('day', NOW()) AND start_time < date_trunc('day', NOW()) + INTERVAL '1 day'
				AND status NOT IN ('cancelled', 'no_show')),
			(SELECT COUNT(*) FROM action_items WHERE therapist_id=$1 AND status='open'),
			(SELECT COUNT(*) FROM session_notes WHERE therapist_id=$1 AND created_at >= date_trunc('week', NOW()))
	`, therapistID).Scan(&c.ActiveClients, &c.AppointmentsToday, &c.OpenActionItems, &c.NotesThisWeek)
	if err != nil {
		return SummaryCounts{}, fmt.Errorf("dashboard counts: %w", err)
	}
	return c, nil
}
