package domain

// Role tags what a media session is for. Forwarding and negotiation
// logic switch on this tag explicitly.
type Role int

const (
	RoleVoice Role = iota
	RolePresenter
	RoleViewer
)

func (r Role) String() string {
	switch r {
	case RoleVoice:
		return "voice"
	case RolePresenter:
		return "presenter"
	case RoleViewer:
		return "viewer"
	default:
		return "unknown"
	}
}

// ParseRole maps the wire form back to a Role. Unknown strings map to
// RoleVoice, the common case.
func ParseRole(s string) Role {
	switch s {
	case "presenter":
		return RolePresenter
	case "viewer":
		return RoleViewer
	default:
		return RoleVoice
	}
}
