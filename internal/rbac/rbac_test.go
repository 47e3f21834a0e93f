package rbac

import "testing"

func TestOwnerCanEverything(t *testing.T) {
	for _, action := range []Action{ActionRead, ActionSchedule, ActionNotes, ActionBilling, ActionAdmin} {
		if !Can(RoleOwner, action) {
			t.Fatalf("owner should be allowed %s", action)
		}
	}
}

func TestTherapistCannotAdminOrBill(t *testing.T) {
	if Can(RoleTherapist, ActionAdmin) {
		t.Fatalf("therapist should not be allowed admin")
	}
	if Can(RoleTherapist, ActionBilling) {
		t.Fatalf("therapist should not be allowed billing")
	}
	if !Can(RoleTherapist, ActionNotes) {
		t.Fatalf("therapist should be allowed notes")
	}
}

func TestAssistantCanScheduleButNotReadNotes(t *testing.T) {
	if !Can(RoleAssistant, ActionSchedule) {
		t.Fatalf("assistant should be allowed schedule")
	}
	if Can(RoleAssistant, ActionNotes) {
		t.Fatalf("assistant should not be allowed notes")
	}
}

func TestNormalizeUnknownRoleFallsBackToAssistant(t *testing.T) {
	if Normalize("superuser") != RoleAssistant {
		t.Fatalf("unknown role should normalize to assistant")
	}
	if Normalize("owner") != RoleOwner {
		t.Fatalf("known role should pass through")
	}
}
