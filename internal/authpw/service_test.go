package authpw

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"caretrack/api/internal/store"
	"golang.org/x/crypto/bcrypt"
)

type memStore struct {
	therapists map[string]store.Therapist // keyed by lowercased email
	resets     map[string]string          // token -> therapist ID
	resetUsed  map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		therapists: map[string]store.Therapist{},
		resets:     map[string]string{},
		resetUsed:  map[string]bool{},
	}
}

func (m *memStore) GetTherapistByEmail(_ context.Context, email string) (store.Therapist, error) {
	t, ok := m.therapists[strings.ToLower(email)]
	if !ok {
		return store.Therapist{}, sql.ErrNoRows
	}
	return t, nil
}

func (m *memStore) GetTherapistByID(_ context.Context, id string) (store.Therapist, error) {
	for _, t := range m.therapists {
		if t.ID == id {
			return t, nil
		}
	}
	return store.Therapist{}, sql.ErrNoRows
}

func (m *memStore) CreateTherapist(_ context.Context, t store.Therapist) error {
	m.therapists[strings.ToLower(t.Email)] = t
	return nil
}

func (m *memStore) UpdateTherapistVerificationToken(_ context.Context, therapistID, token string, _ time.Time) error {
	for email, t := range m.therapists {
		if t.ID == therapistID {
			t.VerificationToken = token
			m.therapists[email] = t
		}
	}
	return nil
}

func (m *memStore) VerifyTherapistEmail(_ context.Context, token string) error {
	for email, t := range m.therapists {
		if t.VerificationToken == token && token != "" {
			t.IsEmailVerified = true
			t.VerificationToken = ""
			m.therapists[email] = t
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *memStore) UpdateTherapistPassword(_ context.Context, therapistID, passwordHash string) error {
	for email, t := range m.therapists {
		if t.ID == therapistID {
			t.PasswordHash = passwordHash
			m.therapists[email] = t
		}
	}
	return nil
}

func (m *memStore) CreatePasswordReset(_ context.Context, therapistID, token string, _ time.Time) error {
	m.resets[token] = therapistID
	return nil
}

func (m *memStore) GetPasswordReset(_ context.Context, token string) (string, error) {
	if m.resetUsed[token] {
		return "", sql.ErrNoRows
	}
	id, ok := m.resets[token]
	if !ok {
		return "", sql.ErrNoRows
	}
	return id, nil
}

func (m *memStore) MarkPasswordResetUsed(_ context.Context, token string) error {
	m.resetUsed[token] = true
	return nil
}

func TestSignUpCreatesUnverifiedTherapist(t *testing.T) {
	ms := newMemStore()
	svc := NewService(ms)

	resp, err := svc.SignUp(context.Background(), SignUpRequest{
		Email:       "dana@example.com",
		Password:    "correct-horse",
		DisplayName: "Dana Whitfield",
	})
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if !resp.RequiresEmailVerify {
		t.Fatalf("expected email verification to be required")
	}
	if resp.VerificationToken == "" {
		t.Fatalf("expected verification token")
	}

	saved, err := ms.GetTherapistByEmail(context.Background(), "dana@example.com")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if saved.Role != "therapist" {
		t.Fatalf("expected default role therapist, got %q", saved.Role)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(saved.PasswordHash), []byte("correct-horse")); err != nil {
		t.Fatalf("stored hash should match password: %v", err)
	}
}

func TestSignUpRejectsShortPassword(t *testing.T) {
	svc := NewService(newMemStore())
	if _, err := svc.SignUp(context.Background(), SignUpRequest{
		Email:       "dana@example.com",
		Password:    "short",
		DisplayName: "Dana",
	}); err == nil {
		t.Fatal("expected short password to be rejected")
	}
}

func TestSignUpRejectsDuplicateEmail(t *testing.T) {
	ms := newMemStore()
	svc := NewService(ms)
	req := SignUpRequest{Email: "dana@example.com", Password: "correct-horse", DisplayName: "Dana"}
	if _, err := svc.SignUp(context.Background(), req); err != nil {
		t.Fatalf("first sign up: %v", err)
	}
	if _, err := svc.SignUp(context.Background(), req); err == nil {
		t.Fatal("expected duplicate email to be rejected")
	}
}

func TestSignInFlowsThroughVerification(t *testing.T) {
	ms := newMemStore()
	svc := NewService(ms)

	resp, err := svc.SignUp(context.Background(), SignUpRequest{
		Email:       "dana@example.com",
		Password:    "correct-horse",
		DisplayName: "Dana",
	})
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}

	signIn, err := svc.SignIn(context.Background(), SignInRequest{Email: "dana@example.com", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if !signIn.RequiresVerify {
		t.Fatal("expected verification requirement before email is verified")
	}

	if err := svc.VerifyEmail(context.Background(), resp.VerificationToken); err != nil {
		t.Fatalf("verify email: %v", err)
	}

	signIn, err = svc.SignIn(context.Background(), SignInRequest{Email: "dana@example.com", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("sign in after verify: %v", err)
	}
	if signIn.RequiresVerify {
		t.Fatal("expected verification to be satisfied")
	}
}

func TestSignInRejectsWrongPassword(t *testing.T) {
	ms := newMemStore()
	svc := NewService(ms)
	if _, err := svc.SignUp(context.Background(), SignUpRequest{
		Email: "dana@example.com", Password: "correct-horse", DisplayName: "Dana",
	}); err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if _, err := svc.SignIn(context.Background(), SignInRequest{Email: "dana@example.com", Password: "wrong"}); err == nil {
		t.Fatal("expected wrong password to be rejected")
	}
}

func TestPasswordResetRoundTrip(t *testing.T) {
	ms := newMemStore()
	svc := NewService(ms)
	resp, err := svc.SignUp(context.Background(), SignUpRequest{
		Email: "dana@example.com", Password: "correct-horse", DisplayName: "Dana",
	})
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if err := svc.VerifyEmail(context.Background(), resp.VerificationToken); err != nil {
		t.Fatalf("verify: %v", err)
	}

	token, err := svc.RequestPasswordReset(context.Background(), "dana@example.com")
	if err != nil {
		t.Fatalf("request reset: %v", err)
	}
	if token == "" {
		t.Fatal("expected reset token for known account")
	}

	if err := svc.ResetPassword(context.Background(), ResetPasswordRequest{Token: token, NewPassword: "new-password-1"}); err != nil {
		t.Fatalf("reset password: %v", err)
	}

	if _, err := svc.SignIn(context.Background(), SignInRequest{Email: "dana@example.com", Password: "new-password-1"}); err != nil {
		t.Fatalf("sign in with new password: %v", err)
	}

	// A used token cannot be replayed.
	if err := svc.ResetPassword(context.Background(), ResetPasswordRequest{Token: token, NewPassword: "another-pass"}); err == nil {
		t.Fatal("expected used token to be rejected")
	}
}

func TestRequestResetUnknownEmailIsSilent(t *testing.T) {
	svc := NewService(newMemStore())
	token, err := svc.RequestPasswordReset(context.Background(), "nobody@example.com")
	if err != nil {
		t.Fatalf("request reset: %v", err)
	}
	if token != "" {
		t.Fatal("unknown email must not produce a token")
	}
}
