package email

import (
	"strings"
	"testing"
	"time"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{
			name:     "empty config",
			config:   Config{},
			expected: false,
		},
		{
			name: "missing host",
			config: Config{
				Port: "587",
				From: "test@example.com",
			},
			expected: false,
		},
		{
			name: "missing port",
			config: Config{
				Host: "smtp.example.com",
				From: "test@example.com",
			},
			expected: false,
		},
		{
			name: "missing from",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
			},
			expected: false,
		},
		{
			name: "fully configured",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
				From: "test@example.com",
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

func TestRenderVerificationTemplate(t *testing.T) {
	data := VerificationData{
		AppName:         "CareTrack",
		UserName:        "Dana Reyes",
		VerificationURL: "https://example.com/verify?token=abc123",
	}

	html, err := renderTemplate(verificationEmailTemplate, data)
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	if !strings.Contains(html, "CareTrack") {
		t.Error("template should contain app name")
	}
	if !strings.Contains(html, "Dana Reyes") {
		t.Error("template should contain user name")
	}
	if !strings.Contains(html, "https://example.com/verify?token=abc123") {
		t.Error("template should contain verification URL")
	}
}

func TestRenderPasswordResetTemplate(t *testing.T) {
	data := PasswordResetData{
		AppName:  "CareTrack",
		UserName: "Dana Reyes",
		ResetURL: "https://example.com/reset?token=xyz789",
	}

	html, err := renderTemplate(passwordResetEmailTemplate, data)
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	if !strings.Contains(html, "CareTrack") {
		t.Error("template should contain app name")
	}
	if !strings.Contains(html, "Dana Reyes") {
		t.Error("template should contain user name")
	}
	if !strings.Contains(html, "https://example.com/reset?token=xyz789") {
		t.Error("template should contain reset URL")
	}
	if !strings.Contains(html, "1 hour") {
		t.Error("template should mention expiration time")
	}
}

func TestRenderAppointmentReminderTemplate(t *testing.T) {
	start := time.Date(2025, time.March, 3, 14, 30, 0, 0, time.UTC)
	data := AppointmentReminderData{
		AppName:       "CareTrack",
		ClientName:    "Jordan Lee",
		TherapistName: "Dr. Casey Morgan",
		StartTime:     start.Format("Monday, January 2 at 3:04 PM"),
		Duration:      "50 minutes",
	}

	html, err := renderTemplate(appointmentReminderTemplate, data)
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	if !strings.Contains(html, "Jordan Lee") {
		t.Error("template should contain client name")
	}
	if !strings.Contains(html, "Dr. Casey Morgan") {
		t.Error("template should contain therapist name")
	}
	if !strings.Contains(html, "Monday, March 3 at 2:30 PM") {
		t.Error("template should contain formatted start time")
	}
	if !strings.Contains(html, "50 minutes") {
		t.Error("template should contain duration")
	}
}
