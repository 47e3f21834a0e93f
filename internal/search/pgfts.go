package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across clients, session_notes, and
// appointments using plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" || q.TherapistID == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text, q.TherapistID}
	argN := 3

	var subQueries []string

	// Clients sub-query
	if q.FilterType == "" || q.FilterType == ResultClient {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'client'::text AS type, c.id,
				trim(c.first_name || ' ' || c.last_name) AS title,
				ts_headline('english', coalesce(c.email, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				c.id AS client_id, c.therapist_id,
				ts_rank(c.fts, %s) AS rank
			FROM clients c
			WHERE c.fts @@ %s AND c.therapist_id = $2`, tsQuery, tsQuery, tsQuery))
	}

	// Session notes sub-query
	if q.FilterType == "" || q.FilterType == ResultNote {
		noteWhere := "n.fts @@ " + tsQuery + " AND n.therapist_id = $2"
		if q.FilterClientID != "" {
			noteWhere += fmt.Sprintf(" AND n.client_id = $%d", argN)
			args = append(args, q.FilterClientID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'note'::text AS type, n.id,
				trim(c.first_name || ' ' || c.last_name) AS title,
				ts_headline('english', coalesce(n.content, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				n.client_id, n.therapist_id,
				ts_rank(n.fts, %s) AS rank
			FROM session_notes n
			JOIN clients c ON c.id = n.client_id
			WHERE %s`, tsQuery, tsQuery, noteWhere))
	}

	// Appointments sub-query
	if q.FilterType == "" || q.FilterType == ResultAppointment {
		apptWhere := "a.fts @@ " + tsQuery + " AND a.therapist_id = $2"
		if q.FilterClientID != "" {
			apptWhere += fmt.Sprintf(" AND a.client_id = $%d", argN)
			args = append(args, q.FilterClientID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'appointment'::text AS type, a.id,
				trim(c.first_name || ' ' || c.last_name) AS title,
				ts_headline('english', coalesce(a.notes, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				a.client_id, a.therapist_id,
				ts_rank(a.fts, %s) AS rank
			FROM appointments a
			JOIN clients c ON c.id = a.client_id
			WHERE %s`, tsQuery, tsQuery, apptWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, client_id, therapist_id
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.ClientID, &r.TherapistID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ClientRecord, []NoteRecord, []AppointmentRecord, error) {
	clientRows, err := p.db.QueryContext(ctx, `
		SELECT id, trim(first_name || ' ' || last_name), email, status, therapist_id
		FROM clients
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load clients: %w", err)
	}
	defer clientRows.Close()

	clients := make([]ClientRecord, 0)
	for clientRows.Next() {
		var c ClientRecord
		if err := clientRows.Scan(&c.ID, &c.Name, &c.Email, &c.Status, &c.TherapistID); err != nil {
			return nil, nil, nil, fmt.Errorf("scan client: %w", err)
		}
		clients = append(clients, c)
	}
	if err := clientRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate clients: %w", err)
	}

	noteRows, err := p.db.QueryContext(ctx, `
		SELECT n.id, n.content, n.ai_summary, n.client_id,
			trim(c.first_name || ' ' || c.last_name),
			n.therapist_id, n.session_date::text
		FROM session_notes n
		JOIN clients c ON c.id = n.client_id
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load session notes: %w", err)
	}
	defer noteRows.Close()

	notes := make([]NoteRecord, 0)
	for noteRows.Next() {
		var n NoteRecord
		if err := noteRows.Scan(&n.ID, &n.Content, &n.Summary, &n.ClientID, &n.ClientName, &n.TherapistID, &n.SessionDate); err != nil {
			return nil, nil, nil, fmt.Errorf("scan session note: %w", err)
		}
		notes = append(notes, n)
	}
	if err := noteRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate session notes: %w", err)
	}

	apptRows, err := p.db.QueryContext(ctx, `
		SELECT a.id, a.type, a.location, a.notes, a.client_id,
			trim(c.first_name || ' ' || c.last_name),
			a.therapist_id, a.start_time::text
		FROM appointments a
		JOIN clients c ON c.id = a.client_id
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load appointments: %w", err)
	}
	defer apptRows.Close()

	appointments := make([]AppointmentRecord, 0)
	for apptRows.Next() {
		var a AppointmentRecord
		if err := apptRows.Scan(&a.ID, &a.Type, &a.Location, &a.Notes, &a.ClientID, &a.ClientName, &a.TherapistID, &a.StartTime); err != nil {
			return nil, nil, nil, fmt.Errorf("scan appointment: %w", err)
		}
		appointments = append(appointments, a)
	}
	if err := apptRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate appointments: %w", err)
	}

	return clients, notes, appointments, nil
}
