// Package export renders session notes and client charts to PDF and DOCX.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// NoteRequest contains parameters for a single-note export.
type NoteRequest struct {
	TherapistID string
	NoteID      string
	Format      Format
}

// ChartRequest contains parameters for a full client chart export.
type ChartRequest struct {
	TherapistID  string
	ClientID     string
	Format       Format
	IncludeNotes bool
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// ClientInfo holds client metadata for rendering.
type ClientInfo struct {
	ID          string
	Name        string
	Email       string
	Phone       string
	Status      string
	DateOfBirth *time.Time
}

// NoteInfo holds session note data for rendering.
type NoteInfo struct {
	ID          string
	ClientName  string
	SessionDate time.Time
	Content     string
	Summary     string
	Tags        []string
	Author      string
}

// AppointmentInfo holds appointment data for the chart timeline.
type AppointmentInfo struct {
	StartTime time.Time
	EndTime   time.Time
	Type      string
	Status    string
	Location  string
}

var (
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
