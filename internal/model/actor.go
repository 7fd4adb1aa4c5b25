package model

import "github.com/google/uuid"

type Role string

const (
	RoleMember    Role = "member"
	RoleOrganizer Role = "organizer"
	RoleAdmin     Role = "admin"
)

// Actor is the authenticated caller. It is passed explicitly into every
// editor and ledger call; nothing in the engine reads a global "current
// chapter".
type Actor struct {
	MemberID  uuid.UUID
	ChapterID string
	Role      Role
}

// Anonymous reports whether the actor carries no member identity (guest).
func (a Actor) Anonymous() bool {
	return a.MemberID == uuid.Nil
}
