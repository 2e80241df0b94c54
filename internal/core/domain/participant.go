package domain

import "time"

type ParticipantID string

// ConnID identifies a participant's transport connection. Signaling is addressed by it.
type ConnID string

type Role string

const (
	RolePresenter Role = "presenter"
	RoleModerator Role = "moderator"
	RoleViewer    Role = "viewer"
)

func (r Role) Valid() bool {
	switch r {
	case RolePresenter, RoleModerator, RoleViewer:
		return true
	}
	return false
}

// CanControlSession reports whether the role may start or end a session.
func (r Role) CanControlSession() bool {
	return r == RolePresenter || r == RoleModerator
}

type Participant struct {
	ID       ParticipantID `json:"id"`
	Name     string        `json:"name"`
	Role     Role          `json:"role"`
	ConnID   ConnID        `json:"connId"`
	JoinedAt time.Time     `json:"joinedAt,omitempty"`
}
