package export

import (
	"context"
	"fmt"
)

// DataStore defines the interface for data access
type DataStore interface {
	GetClientInfo(ctx context.Context, therapistID, clientID string) (ClientInfo, error)
	GetNoteInfo(ctx context.Context, therapistID, noteID string) (NoteInfo, error)
	ListNoteInfos(ctx context.Context, therapistID, clientID string) ([]NoteInfo, error)
	ListAppointmentInfos(ctx context.Context, therapistID, clientID string) ([]AppointmentInfo, error)
}

// Service provides session note and client chart export
type Service struct {
	store DataStore
}

// NewService creates a new export service
func NewService(store DataStore) *Service {
	return &Service{store: store}
}

// ExportNote renders a single session note in the requested format.
func (s *Service) ExportNote(ctx context.Context, req NoteRequest) (*Result, error) {
	note, err := s.store.GetNoteInfo(ctx, req.TherapistID, req.NoteID)
	if err != nil {
		return nil, fmt.Errorf("get note: %w", err)
	}

	data := NoteTemplateData{
		ClientName:  note.ClientName,
		SessionDate: note.SessionDate,
		ContentHTML: textToHTML(note.Content),
		Summary:     note.Summary,
		Tags:        note.Tags,
		Author:      note.Author,
	}

	html, err := RenderNoteHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render note template: %w", err)
	}

	title := fmt.Sprintf("%s session %s", note.ClientName, note.SessionDate.Format("2006-01-02"))
	return s.render(html, title, req.Format)
}

// ExportClientChart renders a client's chart: demographics, appointment
// timeline, and optionally the full run of session notes.
func (s *Service) ExportClientChart(ctx context.Context, req ChartRequest) (*Result, error) {
	client, err := s.store.GetClientInfo(ctx, req.TherapistID, req.ClientID)
	if err != nil {
		return nil, fmt.Errorf("get client: %w", err)
	}

	data := ChartTemplateData{
		Client: client,
	}

	appointments, err := s.store.ListAppointmentInfos(ctx, req.TherapistID, req.ClientID)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	data.Appointments = appointments

	if req.IncludeNotes {
		notes, err := s.store.ListNoteInfos(ctx, req.TherapistID, req.ClientID)
		if err != nil {
			return nil, fmt.Errorf("list notes: %w", err)
		}
		for _, note := range notes {
			data.Notes = append(data.Notes, NoteTemplateData{
				ClientName:  note.ClientName,
				SessionDate: note.SessionDate,
				ContentHTML: textToHTML(note.Content),
				Summary:     note.Summary,
				Tags:        note.Tags,
				Author:      note.Author,
			})
		}
	}

	html, err := RenderChartHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render chart template: %w", err)
	}

	title := fmt.Sprintf("%s chart", client.Name)
	return s.render(html, title, req.Format)
}

func (s *Service) render(html, title string, format Format) (*Result, error) {
	switch format {
	case FormatPDF:
		return exportPDF(html, title)
	case FormatDOCX:
		return exportDOCX(html, title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}
