package gatekeeper

import (
	"strings"
)

// Role is an account role. Roles are totally ordered by privilege:
// owner > admin > moderator > member.
type Role string

const (
	RoleOwner     Role = "owner"
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleMember    Role = "member"
)

const (
	colorOwner     = 0xFFD700
	colorAdmin     = 0xFF4500
	colorModerator = 0x3498DB
	colorMember    = 0x2ECC71
	colorDefault   = 0x5865F2
	colorWarning   = 0xFFA500
	colorError     = 0xE74C3C
)

// Roles lists every valid role, highest privilege first
var Roles = []Role{RoleOwner, RoleAdmin, RoleModerator, RoleMember}

var rolePrivilege = map[Role]int{
	RoleOwner:     4,
	RoleAdmin:     3,
	RoleModerator: 2,
	RoleMember:    1,
}

// ParseRole returns the Role matching s (case-insensitive, surrounding
// whitespace ignored). Unknown values are rejected with a *ValidationError.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", &ValidationError{
			Field:   "role",
			Value:   s,
			Message: "must be one of owner, admin, moderator, member",
		}
	}
	return r, nil
}

func (r Role) String() string {
	return string(r)
}

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	_, ok := rolePrivilege[r]
	return ok
}

// Privilege returns the rank of the role. Unknown roles rank 0.
func (r Role) Privilege() int {
	return rolePrivilege[r]
}

// AtLeast reports whether r is as privileged as other
func (r Role) AtLeast(other Role) bool {
	return r.Valid() && r.Privilege() >= other.Privilege()
}

// CanIssue reports whether a requester holding r may issue credentials
// for the target role. Only owners and admins issue, and never above
// their own rank.
func (r Role) CanIssue(target Role) bool {
	if !r.AtLeast(RoleAdmin) || !target.Valid() {
		return false
	}
	return r.AtLeast(target)
}

// Color is the embed color used for the role
func (r Role) Color() int {
	switch r {
	case RoleOwner:
		return colorOwner
	case RoleAdmin:
		return colorAdmin
	case RoleModerator:
		return colorModerator
	case RoleMember:
		return colorMember
	default:
		return colorDefault
	}
}

// PanelPath is the account store path a user of the role lands on
// after logging in.
func (r Role) PanelPath() string {
	switch r {
	case RoleOwner:
		return "/admin/owner"
	case RoleAdmin:
		return "/admin/dashboard"
	case RoleModerator:
		return "/moderator/dashboard"
	case RoleMember:
		return "/dashboard"
	default:
		return "/login"
	}
}

// Emoji is shown next to the role in discord embeds
func (r Role) Emoji() string {
	switch r {
	case RoleOwner:
		return "👑"
	case RoleAdmin:
		return "⚡"
	case RoleModerator:
		return "🛡️"
	case RoleMember:
		return "👤"
	default:
		return "❔"
	}
}
