package domain

// Actor is the authenticated caller of an operation, as forwarded by the
// gateway in front of this service.
type Actor struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	Role   Role   `json:"role,omitempty"`
	Branch string `json:"branch_id,omitempty"`
}

// DisplayName prefers the human name and falls back to the user ID.
func (a Actor) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.UserID
}

func (a Actor) Viewer() Viewer {
	return Viewer{UserID: a.UserID, Role: a.Role, Branch: a.Branch}
}
