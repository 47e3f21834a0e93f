package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"caretrack/api/internal/authpw"
	"caretrack/api/internal/config"
	"caretrack/api/internal/store"
)

func newTestEnv(t *testing.T) (*memStore, *Service, *httptest.Server) {
	t.Helper()
	cfg := config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 720 * time.Hour,
		CORSOrigin: "*",
	}
	st := newMemStore()
	svc := New(cfg, Deps{
		Store:    st,
		Sessions: st,
		AuthPW:   authpw.NewService(st),
	})
	server := httptest.NewServer(NewHTTPServer(svc, "*").Handler())
	t.Cleanup(server.Close)
	return st, svc, server
}

func seedSession(t *testing.T, st *memStore, svc *Service, role string) Session {
	t.Helper()
	therapist := store.Therapist{
		ID:              "ther_" + role + fmt.Sprintf("_%d", time.Now().UnixNano()),
		DisplayName:     "Dr. Test " + role,
		Email:           role + "@example.com",
		Role:            role,
		IsEmailVerified: true,
	}
	if err := st.CreateTherapist(t.Context(), therapist); err != nil {
		t.Fatalf("seed therapist: %v", err)
	}
	session, err := svc.CreateSession(t.Context(), therapist.ID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return session
}

func doJSON(t *testing.T, method, url, token string, body any) (int, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	var payload map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	return resp.StatusCode, payload
}

func createClient(t *testing.T, url, token, firstName string) string {
	t.Helper()
	status, payload := doJSON(t, http.MethodPost, url+"/api/clients", token, map[string]any{
		"firstName": firstName,
		"lastName":  "Doe",
		"email":     strings.ToLower(firstName) + "@example.com",
	})
	if status != http.StatusCreated {
		t.Fatalf("create client: status %d, payload %v", status, payload)
	}
	return payload["id"].(string)
}

func TestHealth(t *testing.T) {
	_, _, server := newTestEnv(t)
	status, payload := doJSON(t, http.MethodGet, server.URL+"/api/health", "", nil)
	if status != http.StatusOK || payload["ok"] != true {
		t.Fatalf("health: status %d, payload %v", status, payload)
	}
}

func TestReady(t *testing.T) {
	_, _, server := newTestEnv(t)
	status, payload := doJSON(t, http.MethodGet, server.URL+"/api/ready", "", nil)
	if status != http.StatusOK {
		t.Fatalf("ready: status %d, payload %v", status, payload)
	}
	if payload["status"] != "ready" {
		t.Fatalf("expected ready, got %v", payload["status"])
	}
}

func TestSignUpVerifySignIn(t *testing.T) {
	_, _, server := newTestEnv(t)

	status, payload := doJSON(t, http.MethodPost, server.URL+"/api/auth/signup", "", map[string]any{
		"email":       "new@example.com",
		"password":    "supersecret",
		"displayName": "Dr. New",
	})
	if status != http.StatusCreated {
		t.Fatalf("signup: status %d, payload %v", status, payload)
	}
	verificationToken, _ := payload["devVerificationToken"].(string)
	if verificationToken == "" {
		t.Fatal("expected dev verification token when SMTP is not configured")
	}

	// Unverified accounts cannot sign in.
	status, payload = doJSON(t, http.MethodPost, server.URL+"/api/auth/signin", "", map[string]any{
		"email":    "new@example.com",
		"password": "supersecret",
	})
	if status != http.StatusForbidden || payload["code"] != "EMAIL_NOT_VERIFIED" {
		t.Fatalf("pre-verify signin: status %d, payload %v", status, payload)
	}

	status, _ = doJSON(t, http.MethodPost, server.URL+"/api/auth/verify-email", "", map[string]any{"token": verificationToken})
	if status != http.StatusOK {
		t.Fatalf("verify email: status %d", status)
	}

	status, payload = doJSON(t, http.MethodPost, server.URL+"/api/auth/signin", "", map[string]any{
		"email":    "new@example.com",
		"password": "supersecret",
	})
	if status != http.StatusOK {
		t.Fatalf("signin: status %d, payload %v", status, payload)
	}
	accessToken, _ := payload["accessToken"].(string)
	if accessToken == "" || payload["refreshToken"] == "" {
		t.Fatalf("expected tokens, got %v", payload)
	}

	status, payload = doJSON(t, http.MethodGet, server.URL+"/api/session", accessToken, nil)
	if status != http.StatusOK || payload["authenticated"] != true {
		t.Fatalf("session check: status %d, payload %v", status, payload)
	}

	// Wrong password never reveals more than invalid credentials.
	status, payload = doJSON(t, http.MethodPost, server.URL+"/api/auth/signin", "", map[string]any{
		"email":    "new@example.com",
		"password": "wrong-password",
	})
	if status != http.StatusUnauthorized || payload["code"] != "INVALID_CREDENTIALS" {
		t.Fatalf("bad password: status %d, payload %v", status, payload)
	}
}

func TestRequireSession(t *testing.T) {
	_, _, server := newTestEnv(t)
	status, payload := doJSON(t, http.MethodGet, server.URL+"/api/clients", "", nil)
	if status != http.StatusUnauthorized || payload["code"] != "UNAUTHORIZED" {
		t.Fatalf("expected 401, got %d %v", status, payload)
	}
	status, _ = doJSON(t, http.MethodGet, server.URL+"/api/clients", "not-a-token", nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", status)
	}
}

func TestClientLifecycle(t *testing.T) {
	st, svc, server := newTestEnv(t)
	session := seedSession(t, st, svc, "therapist")

	clientID := createClient(t, server.URL, session.Token, "Jane")

	status, payload := doJSON(t, http.MethodGet, server.URL+"/api/clients/"+clientID, session.Token, nil)
	if status != http.StatusOK || payload["fullName"] != "Jane Doe" {
		t.Fatalf("get client: status %d, payload %v", status, payload)
	}

	status, payload = doJSON(t, http.MethodPut, server.URL+"/api/clients/"+clientID, session.Token, map[string]any{
		"firstName": "Jane",
		"lastName":  "Smith",
		"status":    "inactive",
	})
	if status != http.StatusOK || payload["lastName"] != "Smith" || payload["status"] != "inactive" {
		t.Fatalf("update client: status %d, payload %v", status, payload)
	}

	status, _ = doJSON(t, http.MethodDelete, server.URL+"/api/clients/"+clientID, session.Token, nil)
	if status != http.StatusOK {
		t.Fatalf("archive client: status %d", status)
	}

	status, payload = doJSON(t, http.MethodGet, server.URL+"/api/clients?status=archived", session.Token, nil)
	if status != http.StatusOK {
		t.Fatalf("list archived: status %d", status)
	}
	clients := payload["clients"].([]any)
	if len(clients) != 1 {
		t.Fatalf("expected 1 archived client, got %d", len(clients))
	}

	// Another therapist cannot see this client.
	other := seedSession(t, st, svc, "owner")
	status, _ = doJSON(t, http.MethodGet, server.URL+"/api/clients/"+clientID, other.Token, nil)
	if status != http.StatusNotFound {
		t.Fatalf("cross-practice read: expected 404, got %d", status)
	}
}

func TestAppointmentConflictDetection(t *testing.T) {
	st, svc, server := newTestEnv(t)
	session := seedSession(t, st, svc, "therapist")
	clientID := createClient(t, server.URL, session.Token, "Alex")

	base := time.Now().Add(24 * time.Hour).Truncate(time.Hour)

	status, payload := doJSON(t, http.MethodPost, server.URL+"/api/appointments", session.Token, map[string]any{
		"clientId":  clientID,
		"startTime": base.Format(time.RFC3339),
		"endTime":   base.Add(time.Hour).Format(time.RFC3339),
	})
	if status != http.StatusCreated {
		t.Fatalf("first appointment: status %d, payload %v", status, payload)
	}

	// Overlapping slot is rejected with the conflicting appointment attached.
	status, payload = doJSON(t, http.MethodPost, server.URL+"/api/appointments", session.Token, map[string]any{
		"clientId":  clientID,
		"startTime": base.Add(30 * time.Minute).Format(time.RFC3339),
		"endTime":   base.Add(90 * time.Minute).Format(time.RFC3339),
	})
	if status != http.StatusConflict || payload["code"] != "SCHEDULE_CONFLICT" {
		t.Fatalf("overlap: status %d, payload %v", status, payload)
	}
	if payload["details"] == nil {
		t.Fatal("expected conflict details")
	}

	// Back-to-back is fine.
	status, _ = doJSON(t, http.MethodPost, server.URL+"/api/appointments", session.Token, map[string]any{
		"clientId":  clientID,
		"startTime": base.Add(time.Hour).Format(time.RFC3339),
		"endTime":   base.Add(2 * time.Hour).Format(time.RFC3339),
	})
	if status != http.StatusCreated {
		t.Fatalf("back-to-back: status %d", status)
	}

	// The override flag forces a double-booking through.
	status, _ = doJSON(t, http.MethodPost, server.URL+"/api/appointments", session.Token, map[string]any{
		"clientId":      clientID,
		"startTime":     base.Add(30 * time.Minute).Format(time.RFC3339),
		"endTime":       base.Add(90 * time.Minute).Format(time.RFC3339),
		"allowConflict": true,
	})
	if status != http.StatusCreated {
		t.Fatalf("override: status %d", status)
	}

	// Inverted range is a validation error.
	status, payload = doJSON(t, http.MethodPost, server.URL+"/api/appointments", session.Token, map[string]any{
		"clientId":  clientID,
		"startTime": base.Add(5 * time.Hour).Format(time.RFC3339),
		"endTime":   base.Add(4 * time.Hour).Format(time.RFC3339),
	})
	if status != http.StatusUnprocessableEntity || payload["code"] != "INVALID_TIME_RANGE" {
		t.Fatalf("inverted range: status %d, payload %v", status, payload)
	}
}

func TestAppointmentStatusFlow(t *testing.T) {
	st, svc, server := newTestEnv(t)
	session := seedSession(t, st, svc, "therapist")
	clientID := createClient(t, server.URL, session.Token, "Sam")

	base := time.Now().Add(48 * time.Hour).Truncate(time.Hour)
	status, payload := doJSON(t, http.MethodPost, server.URL+"/api/appointments", session.Token, map[string]any{
		"clientId":  clientID,
		"startTime": base.Format(time.RFC3339),
		"endTime":   base.Add(time.Hour).Format(time.RFC3339),
	})
	if status != http.StatusCreated {
		t.Fatalf("create: status %d", status)
	}
	appointmentID := payload["id"].(string)

	status, payload = doJSON(t, http.MethodPut, server.URL+"/api/appointments/"+appointmentID+"/status", session.Token, map[string]any{"status": "completed"})
	if status != http.StatusOK || payload["status"] != "completed" {
		t.Fatalf("status update: status %d, payload %v", status, payload)
	}

	status, payload = doJSON(t, http.MethodPut, server.URL+"/api/appointments/"+appointmentID+"/status", session.Token, map[string]any{"status": "teleported"})
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("bad status: status %d, payload %v", status, payload)
	}
}

func TestNoteAnalyzeFallback(t *testing.T) {
	st, svc, server := newTestEnv(t)
	session := seedSession(t, st, svc, "therapist")
	clientID := createClient(t, server.URL, session.Token, "Morgan")

	content := "Client reported lower anxiety this week after practicing CBT thought records between sessions."
	status, payload := doJSON(t, http.MethodPost, server.URL+"/api/notes", session.Token, map[string]any{
		"clientId":    clientID,
		"sessionDate": "2026-03-02",
		"content":     content,
	})
	if status != http.StatusCreated {
		t.Fatalf("create note: status %d, payload %v", status, payload)
	}
	noteID := payload["id"].(string)

	// No AI backend configured: the keyword extractor still tags and summarizes.
	status, payload = doJSON(t, http.MethodPost, server.URL+"/api/notes/"+noteID+"/analyze", session.Token, nil)
	if status != http.StatusOK {
		t.Fatalf("analyze: status %d, payload %v", status, payload)
	}
	summary, _ := payload["aiSummary"].(string)
	if summary == "" {
		t.Fatal("expected extractive summary")
	}
	tags, _ := payload["aiTags"].([]any)
	found := map[string]bool{}
	for _, tag := range tags {
		found[tag.(string)] = true
	}
	if !found["CBT"] || !found["Anxiety"] {
		t.Fatalf("expected CBT and Anxiety tags, got %v", tags)
	}

	status, payload = doJSON(t, http.MethodGet, server.URL+"/api/clients/"+clientID+"/notes", session.Token, nil)
	if status != http.StatusOK {
		t.Fatalf("list notes: status %d", status)
	}
	if notes := payload["notes"].([]any); len(notes) != 1 {
		t.Fatalf("expected 1 note, got %d", len(notes))
	}
}

func TestRoleRestrictions(t *testing.T) {
	st, svc, server := newTestEnv(t)
	therapist := seedSession(t, st, svc, "therapist")
	clientID := createClient(t, server.URL, therapist.Token, "Riley")

	assistant := seedSession(t, st, svc, "assistant")
	biller := seedSession(t, st, svc, "biller")

	// Assistants schedule but never touch clinical notes.
	status, payload := doJSON(t, http.MethodPost, server.URL+"/api/notes", assistant.Token, map[string]any{
		"clientId": clientID,
		"content":  "should not be allowed",
	})
	if status != http.StatusForbidden || payload["code"] != "FORBIDDEN" {
		t.Fatalf("assistant note: status %d, payload %v", status, payload)
	}

	status, _ = doJSON(t, http.MethodGet, server.URL+"/api/clients", assistant.Token, nil)
	if status != http.StatusOK {
		t.Fatalf("assistant read: status %d", status)
	}

	// Billers read only.
	status, _ = doJSON(t, http.MethodPost, server.URL+"/api/appointments", biller.Token, map[string]any{
		"clientId":  clientID,
		"startTime": time.Now().Add(time.Hour).Format(time.RFC3339),
		"endTime":   time.Now().Add(2 * time.Hour).Format(time.RFC3339),
	})
	if status != http.StatusForbidden {
		t.Fatalf("biller schedule: status %d", status)
	}

	// Audit trail is owner-only.
	status, _ = doJSON(t, http.MethodGet, server.URL+"/api/audit", therapist.Token, nil)
	if status != http.StatusForbidden {
		t.Fatalf("therapist audit: status %d", status)
	}
	owner := seedSession(t, st, svc, "owner")
	status, _ = doJSON(t, http.MethodGet, server.URL+"/api/audit", owner.Token, nil)
	if status != http.StatusOK {
		t.Fatalf("owner audit: status %d", status)
	}
}

func TestRefreshRotation(t *testing.T) {
	st, svc, server := newTestEnv(t)
	session := seedSession(t, st, svc, "therapist")

	status, payload := doJSON(t, http.MethodPost, server.URL+"/api/session/refresh", "", map[string]any{
		"refreshToken": session.RefreshToken,
	})
	if status != http.StatusOK {
		t.Fatalf("refresh: status %d, payload %v", status, payload)
	}
	newRefresh, _ := payload["refreshToken"].(string)
	if newRefresh == "" || newRefresh == session.RefreshToken {
		t.Fatal("expected a rotated refresh token")
	}

	// The old refresh token is single-use.
	status, _ = doJSON(t, http.MethodPost, server.URL+"/api/session/refresh", "", map[string]any{
		"refreshToken": session.RefreshToken,
	})
	if status != http.StatusUnauthorized {
		t.Fatalf("reused refresh: status %d", status)
	}
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	st, svc, server := newTestEnv(t)
	session := seedSession(t, st, svc, "therapist")

	status, _ := doJSON(t, http.MethodGet, server.URL+"/api/clients", session.Token, nil)
	if status != http.StatusOK {
		t.Fatalf("pre-logout: status %d", status)
	}

	status, _ = doJSON(t, http.MethodPost, server.URL+"/api/session/logout", session.Token, map[string]any{
		"refreshToken": session.RefreshToken,
	})
	if status != http.StatusOK {
		t.Fatalf("logout: status %d", status)
	}

	status, _ = doJSON(t, http.MethodGet, server.URL+"/api/clients", session.Token, nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("post-logout: expected 401, got %d", status)
	}
}

func TestCalendarUnconfigured(t *testing.T) {
	st, svc, server := newTestEnv(t)
	session := seedSession(t, st, svc, "therapist")

	status, payload := doJSON(t, http.MethodGet, server.URL+"/api/calendar/connect", session.Token, nil)
	if status != http.StatusServiceUnavailable || payload["code"] != "CALENDAR_UNAVAILABLE" {
		t.Fatalf("connect: status %d, payload %v", status, payload)
	}

	status, payload = doJSON(t, http.MethodGet, server.URL+"/api/calendar/status", session.Token, nil)
	if status != http.StatusOK {
		t.Fatalf("status: status %d", status)
	}
	if payload["configured"] != false || payload["connected"] != false {
		t.Fatalf("expected unconfigured status, got %v", payload)
	}

	// Webhook endpoint never errors toward Google.
	status, _ = doJSON(t, http.MethodPost, server.URL+"/api/calendar/webhook", "", nil)
	if status != http.StatusOK {
		t.Fatalf("webhook: status %d", status)
	}
}

func TestActionItemsFlow(t *testing.T) {
	st, svc, server := newTestEnv(t)
	session := seedSession(t, st, svc, "therapist")
	clientID := createClient(t, server.URL, session.Token, "Quinn")

	status, payload := doJSON(t, http.MethodPost, server.URL+"/api/action-items", session.Token, map[string]any{
		"clientId":    clientID,
		"description": "Send intake paperwork",
		"priority":    "high",
		"dueDate":     "2026-09-15",
	})
	if status != http.StatusCreated {
		t.Fatalf("create item: status %d, payload %v", status, payload)
	}
	itemID := payload["id"].(string)
	if payload["status"] != "open" || payload["dueDate"] != "2026-09-15" {
		t.Fatalf("unexpected item payload: %v", payload)
	}

	status, _ = doJSON(t, http.MethodPut, server.URL+"/api/action-items/"+itemID+"/status", session.Token, map[string]any{"status": "completed"})
	if status != http.StatusOK {
		t.Fatalf("complete item: status %d", status)
	}

	status, payload = doJSON(t, http.MethodGet, server.URL+"/api/action-items?status=open", session.Token, nil)
	if status != http.StatusOK {
		t.Fatalf("list open: status %d", status)
	}
	if items := payload["actionItems"].([]any); len(items) != 0 {
		t.Fatalf("expected no open items, got %d", len(items))
	}

	status, payload = doJSON(t, http.MethodPut, server.URL+"/api/action-items/"+itemID+"/status", session.Token, map[string]any{"status": "wontfix"})
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("bad status: status %d, payload %v", status, payload)
	}
}

func TestDashboard(t *testing.T) {
	st, svc, server := newTestEnv(t)
	session := seedSession(t, st, svc, "therapist")
	clientID := createClient(t, server.URL, session.Token, "Casey")

	start := time.Now().Add(30 * time.Minute)
	status, _ := doJSON(t, http.MethodPost, server.URL+"/api/appointments", session.Token, map[string]any{
		"clientId":  clientID,
		"startTime": start.Format(time.RFC3339),
		"endTime":   start.Add(time.Hour).Format(time.RFC3339),
	})
	if status != http.StatusCreated {
		t.Fatalf("create appointment: status %d", status)
	}

	status, payload := doJSON(t, http.MethodGet, server.URL+"/api/dashboard", session.Token, nil)
	if status != http.StatusOK {
		t.Fatalf("dashboard: status %d", status)
	}
	if payload["activeClients"].(float64) != 1 {
		t.Fatalf("expected 1 active client, got %v", payload["activeClients"])
	}
	today := payload["todaysAppointments"].([]any)
	if len(today) != 1 {
		t.Fatalf("expected 1 appointment today, got %d", len(today))
	}
}

func TestNoteUnlinkAppointment(t *testing.T) {
	st, svc, server := newTestEnv(t)
	session := seedSession(t, st, svc, "therapist")
	clientID := createClient(t, server.URL, session.Token, "Nina")

	start := time.Now().Add(24 * time.Hour)
	status, payload := doJSON(t, http.MethodPost, server.URL+"/api/appointments", session.Token, map[string]any{
		"clientId":  clientID,
		"startTime": start.Format(time.RFC3339),
		"endTime":   start.Add(50 * time.Minute).Format(time.RFC3339),
	})
	if status != http.StatusCreated {
		t.Fatalf("create appointment: status %d, payload %v", status, payload)
	}
	apptID := payload["id"].(string)

	status, payload = doJSON(t, http.MethodPost, server.URL+"/api/notes", session.Token, map[string]any{
		"clientId":      clientID,
		"appointmentId": apptID,
		"content":       "Intake session focused on history and goal setting.",
	})
	if status != http.StatusCreated {
		t.Fatalf("create note: status %d, payload %v", status, payload)
	}
	noteID := payload["id"].(string)
	if payload["appointmentId"] != apptID {
		t.Fatalf("expected note linked to %s, got %v", apptID, payload["appointmentId"])
	}

	// Omitting appointmentId keeps the existing link.
	status, payload = doJSON(t, http.MethodPut, server.URL+"/api/notes/"+noteID, session.Token, map[string]any{
		"content": "Revised plan after reviewing goals.",
	})
	if status != http.StatusOK {
		t.Fatalf("update note: status %d, payload %v", status, payload)
	}
	if payload["appointmentId"] != apptID {
		t.Fatalf("expected link kept, got %v", payload["appointmentId"])
	}

	// An explicit null unlinks the note.
	status, payload = doJSON(t, http.MethodPut, server.URL+"/api/notes/"+noteID, session.Token, map[string]any{
		"content":       "Revised plan after reviewing goals.",
		"appointmentId": nil,
	})
	if status != http.StatusOK {
		t.Fatalf("unlink note: status %d, payload %v", status, payload)
	}
	if linked, ok := payload["appointmentId"]; ok && linked != nil {
		t.Fatalf("expected appointmentId cleared, got %v", linked)
	}

	status, payload = doJSON(t, http.MethodGet, server.URL+"/api/notes/"+noteID, session.Token, nil)
	if status != http.StatusOK {
		t.Fatalf("get note: status %d", status)
	}
	if linked, ok := payload["appointmentId"]; ok && linked != nil {
		t.Fatalf("expected unlink persisted, got %v", linked)
	}
}

func TestClientActionItemsRoute(t *testing.T) {
	st, svc, server := newTestEnv(t)
	session := seedSession(t, st, svc, "therapist")
	clientID := createClient(t, server.URL, session.Token, "Omar")
	otherID := createClient(t, server.URL, session.Token, "Pria")

	status, payload := doJSON(t, http.MethodPost, server.URL+"/api/action-items", session.Token, map[string]any{
		"clientId":    clientID,
		"description": "Send intake paperwork",
	})
	if status != http.StatusCreated {
		t.Fatalf("create action item: status %d, payload %v", status, payload)
	}
	status, _ = doJSON(t, http.MethodPost, server.URL+"/api/action-items", session.Token, map[string]any{
		"clientId":    otherID,
		"description": "Schedule follow-up call",
	})
	if status != http.StatusCreated {
		t.Fatalf("create second action item: status %d", status)
	}

	status, payload = doJSON(t, http.MethodGet, server.URL+"/api/clients/"+clientID+"/action-items", session.Token, nil)
	if status != http.StatusOK {
		t.Fatalf("list client action items: status %d, payload %v", status, payload)
	}
	items := payload["actionItems"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected 1 item for client, got %d", len(items))
	}
	first := items[0].(map[string]any)
	if first["description"] != "Send intake paperwork" {
		t.Fatalf("unexpected item: %v", first)
	}
}
