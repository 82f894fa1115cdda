package core

// DefaultAvatar is used when the identity provider has no avatar for a participant.
const DefaultAvatar = "default"

// Identity is the local participant as handed over by the identity provider.
// It never changes for the lifetime of a session.
type Identity struct {
	ID          string
	DisplayName string
	AvatarRef   string
}

// Session is the single process-wide session value. A session without an
// identity is the signed-out state.
type Session struct {
	Identity *Identity
}

// Valid reports whether the session carries an identity.
func (s Session) Valid() bool {
	return s.Identity != nil && s.Identity.ID != ""
}

// NewSession builds a session from an optional identity.
func NewSession(id *Identity) Session {
	if id == nil {
		return Session{}
	}
	cp := *id
	if cp.DisplayName == "" {
		cp.DisplayName = cp.ID
	}
	if cp.AvatarRef == "" {
		cp.AvatarRef = DefaultAvatar
	}
	return Session{Identity: &cp}
}
