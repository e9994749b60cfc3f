package rbac

type Role string
type Action string

const (
	RoleObserver Role = "observer"
	RoleMember   Role = "member"
	RoleChair    Role = "chair"
	RoleOwner    Role = "owner"
)

const (
	ActionRead     Action = "read"
	ActionDiscuss  Action = "discuss"
	ActionPropose  Action = "propose"
	ActionVote     Action = "vote"
	ActionModerate Action = "moderate"
	ActionManage   Action = "manage"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleOwner:
		return true
	case RoleChair:
		return action != ActionManage
	case RoleMember:
		return action == ActionRead || action == ActionDiscuss || action == ActionPropose || action == ActionVote
	case RoleObserver:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleObserver, RoleMember, RoleChair, RoleOwner:
		return Role(role)
	default:
		return RoleObserver
	}
}
