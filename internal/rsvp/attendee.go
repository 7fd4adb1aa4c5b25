package rsvp

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// ErrInvalidAttendee is returned for a guest e-mail that does not parse or
// an empty member id.
var ErrInvalidAttendee = errors.New("invalid attendee")

var validate = validator.New()

// Attendee identifies who answers an RSVP: a member or a guest e-mail,
// never both.
type Attendee struct {
	MemberID uuid.UUID
	Email    string
}

func Member(id uuid.UUID) (Attendee, error) {
	if id == uuid.Nil {
		return Attendee{}, fmt.Errorf("%w: empty member id", ErrInvalidAttendee)
	}
	return Attendee{MemberID: id}, nil
}

// Guest normalizes email (trimmed, lower-cased) so the same person always
// maps to the same row.
func Guest(email string) (Attendee, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := validate.Var(email, "required,email,max=320"); err != nil {
		return Attendee{}, fmt.Errorf("%w: guest email %q", ErrInvalidAttendee, email)
	}
	return Attendee{Email: email}, nil
}

func (a Attendee) IsGuest() bool { return a.MemberID == uuid.Nil }

// Key is the stored attendee identity. The prefixes keep member ids and guest
// e-mails in separate namespaces.
func (a Attendee) Key() string {
	if a.IsGuest() {
		return "guest:" + a.Email
	}
	return "member:" + a.MemberID.String()
}

func (a Attendee) String() string { return a.Key() }
