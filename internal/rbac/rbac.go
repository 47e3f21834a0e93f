// Package rbac defines practice roles and the actions they may perform.
package rbac

type Role string
type Action string

const (
	RoleAssistant Role = "assistant"
	RoleBiller    Role = "biller"
	RoleTherapist Role = "therapist"
	RoleOwner     Role = "owner"
)

const (
	ActionRead     Action = "read"
	ActionSchedule Action = "schedule"
	ActionNotes    Action = "notes"
	ActionBilling  Action = "billing"
	ActionAdmin    Action = "admin"
)

// Can reports whether a role may perform an action. Clinical notes are
// restricted to therapists and the practice owner.
func Can(role Role, action Action) bool {
	switch role {
	case RoleOwner:
		return true
	case RoleTherapist:
		return action == ActionRead || action == ActionSchedule || action == ActionNotes
	case RoleBiller:
		return action == ActionRead || action == ActionBilling
	case RoleAssistant:
		return action == ActionRead || action == ActionSchedule
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleAssistant, RoleBiller, RoleTherapist, RoleOwner:
		return Role(role)
	default:
		return RoleAssistant
	}
}
