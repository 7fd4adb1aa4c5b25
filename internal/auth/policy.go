// Package auth turns bearer tokens into an explicit model.Actor and decides
// what that actor may do to a series.
package auth

import (
	"errors"

	"github.com/google/uuid"

	"github.com/joshuaslong/labor-membership-sub000/internal/model"
)

// ErrForbidden is returned when the actor lacks the role or chapter needed
// for an operation.
var ErrForbidden = errors.New("forbidden")

// Authorizer is consulted before every series edit and RSVP write.
type Authorizer interface {
	// CanEdit reports whether a may create or change s.
	CanEdit(a model.Actor, s model.EventSeries) error
	// CanView reports whether a may read s and its occurrences.
	CanView(a model.Actor, s model.EventSeries) error
	// CanRsvp reports whether a may write the RSVP of member on s.
	// uuid.Nil stands for a guest RSVP.
	CanRsvp(a model.Actor, s model.EventSeries, member uuid.UUID) error
}

// ChapterPolicy is the default Authorizer. Admins may do anything.
// Organizers manage the series of their own chapter. Members only answer for
// themselves, and guests may RSVP to published series.
type ChapterPolicy struct{}

var _ Authorizer = ChapterPolicy{}

func (ChapterPolicy) CanEdit(a model.Actor, s model.EventSeries) error {
	if organizes(a, s.ChapterID) {
		return nil
	}
	return ErrForbidden
}

func (ChapterPolicy) CanView(a model.Actor, s model.EventSeries) error {
	if s.Status != model.StatusDraft || organizes(a, s.ChapterID) {
		return nil
	}
	return ErrForbidden
}

func (ChapterPolicy) CanRsvp(a model.Actor, s model.EventSeries, member uuid.UUID) error {
	if organizes(a, s.ChapterID) {
		return nil
	}
	if s.Status != model.StatusPublished {
		return ErrForbidden
	}
	if member == uuid.Nil || member == a.MemberID {
		return nil
	}
	return ErrForbidden
}

func organizes(a model.Actor, chapterID string) bool {
	switch a.Role {
	case model.RoleAdmin:
		return !a.Anonymous()
	case model.RoleOrganizer:
		return !a.Anonymous() && a.ChapterID != "" && a.ChapterID == chapterID
	}
	return false
}
