// Package rsvp records attendance per occurrence of a series.
package rsvp

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/joshuaslong/labor-membership-sub000/internal/auth"
	appLog "github.com/joshuaslong/labor-membership-sub000/internal/log"
	"github.com/joshuaslong/labor-membership-sub000/internal/metrics"
	"github.com/joshuaslong/labor-membership-sub000/internal/model"
	"github.com/joshuaslong/labor-membership-sub000/internal/schedule"
	"github.com/joshuaslong/labor-membership-sub000/internal/series"
	"github.com/joshuaslong/labor-membership-sub000/internal/store"
)

// ErrInvalidStatus is returned for an RSVP status outside
// attending/maybe/declined.
var ErrInvalidStatus = errors.New("invalid rsvp status")

type Ledger struct {
	store *store.Store
	authz auth.Authorizer
}

func NewLedger(st *store.Store, authz auth.Authorizer) *Ledger {
	return &Ledger{store: st, authz: authz}
}

// Set upserts the RSVP of who for the occurrence of seriesID on date. A
// second call for the same attendee overwrites the status. The date must be
// a live occurrence, otherwise an *schedule.InvalidInstanceError is returned.
func (l *Ledger) Set(ctx context.Context, actor model.Actor, seriesID uuid.UUID, date model.Date, who Attendee, status model.RsvpStatus) (model.RsvpRecord, error) {
	rec, err := l.set(ctx, actor, seriesID, date, who, status)
	countWrite("set", err)
	return rec, err
}

func (l *Ledger) set(ctx context.Context, actor model.Actor, seriesID uuid.UUID, date model.Date, who Attendee, status model.RsvpStatus) (model.RsvpRecord, error) {
	if !status.Valid() {
		return model.RsvpRecord{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	s, err := l.writable(ctx, actor, seriesID, who)
	if err != nil {
		return model.RsvpRecord{}, err
	}
	return l.write(ctx, s, date, who, status)
}

// write checks date against s and stores the answer in one transaction. The
// series version is bumped with it, so a split that committed after s was
// read fails the write.
func (l *Ledger) write(ctx context.Context, s model.EventSeries, date model.Date, who Attendee, status model.RsvpStatus) (model.RsvpRecord, error) {
	rec := model.RsvpRecord{
		SeriesID:     s.ID,
		InstanceDate: date,
		AttendeeKey:  who.Key(),
		Status:       status,
	}
	if who.IsGuest() {
		email := who.Email
		rec.GuestEmail = &email
	} else {
		id := who.MemberID
		rec.MemberID = &id
	}

	var stored *model.RsvpRecord
	err := l.store.Transaction(ctx, func(tx *store.Store) error {
		if err := live(ctx, tx, s, date); err != nil {
			return err
		}
		ok, err := tx.TouchSeries(ctx, s.ID, s.Version)
		if err != nil {
			return err
		}
		if !ok {
			return &series.ConcurrentModificationError{SeriesID: s.ID, Reason: "series changed before the rsvp was saved"}
		}
		if err := tx.UpsertRsvp(ctx, &rec); err != nil {
			return err
		}
		stored, err = tx.GetRsvp(ctx, s.ID, date, who.Key())
		return err
	})
	if err != nil {
		return model.RsvpRecord{}, err
	}
	if stored == nil {
		return model.RsvpRecord{}, fmt.Errorf("rsvp for %s on %s vanished after write", who, date)
	}
	appLog.Debug("rsvp set", "series_id", s.ID, "date", date, "attendee", who, "status", status)
	return *stored, nil
}

// Unset removes the RSVP of who if there is one. Removing a missing RSVP is
// not an error, and the date is not re-validated so orphaned rows can still
// be withdrawn.
func (l *Ledger) Unset(ctx context.Context, actor model.Actor, seriesID uuid.UUID, date model.Date, who Attendee) error {
	err := l.unset(ctx, actor, seriesID, date, who)
	countWrite("unset", err)
	return err
}

func (l *Ledger) unset(ctx context.Context, actor model.Actor, seriesID uuid.UUID, date model.Date, who Attendee) error {
	s, err := l.writable(ctx, actor, seriesID, who)
	if err != nil {
		return err
	}
	n, err := l.store.DeleteRsvp(ctx, s.ID, date, who.Key())
	if err != nil {
		return err
	}
	appLog.Debug("rsvp unset", "series_id", s.ID, "date", date, "attendee", who, "removed", n)
	return nil
}

// Count returns how many attendees answered status for the occurrence. Dates
// that are not live count zero, orphaned rows included.
func (l *Ledger) Count(ctx context.Context, seriesID uuid.UUID, date model.Date, status model.RsvpStatus) (int64, error) {
	if !status.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	s, err := l.store.GetSeries(ctx, seriesID)
	if err != nil {
		return 0, err
	}
	ok, err := schedule.ValidateWith(ctx, l.store, s, date)
	if err != nil || !ok {
		return 0, err
	}
	return l.store.CountRsvps(ctx, s.ID, date, status)
}

// List returns the RSVPs of a live occurrence, oldest first. An empty status
// returns every answer.
func (l *Ledger) List(ctx context.Context, seriesID uuid.UUID, date model.Date, status model.RsvpStatus) ([]model.RsvpRecord, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	s, err := l.store.GetSeries(ctx, seriesID)
	if err != nil {
		return nil, err
	}
	ok, err := schedule.ValidateWith(ctx, l.store, s, date)
	if err != nil || !ok {
		return nil, err
	}
	rows, err := l.store.ListRsvps(ctx, s.ID, date)
	if err != nil {
		return nil, err
	}
	if status == "" {
		return rows, nil
	}
	out := rows[:0]
	for _, r := range rows {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out, nil
}

// Capacity compares attending RSVPs with the occurrence's effective
// max_attendees. It is advisory; nothing here refuses an RSVP when full.
type Capacity struct {
	Attending int64 `json:"attending"`
	Maybe     int64 `json:"maybe"`
	Declined  int64 `json:"declined"`
	Max       *int  `json:"max_attendees"`
	Remaining *int  `json:"remaining"`
	Full      bool  `json:"full"`
}

func (l *Ledger) Capacity(ctx context.Context, seriesID uuid.UUID, date model.Date) (Capacity, error) {
	_, occ, err := schedule.NewMaterializer(l.store, 0).Occurrence(ctx, seriesID, date)
	if err != nil {
		return Capacity{}, err
	}

	var c Capacity
	for status, dst := range map[model.RsvpStatus]*int64{
		model.RsvpAttending: &c.Attending,
		model.RsvpMaybe:     &c.Maybe,
		model.RsvpDeclined:  &c.Declined,
	} {
		if *dst, err = l.store.CountRsvps(ctx, seriesID, date, status); err != nil {
			return Capacity{}, err
		}
	}

	if occ.MaxAttendees != nil {
		limit := *occ.MaxAttendees
		left := max(limit-int(c.Attending), 0)
		c.Max, c.Remaining = &limit, &left
		c.Full = left == 0
	}
	return c, nil
}

// writable loads the series and checks it accepts RSVP writes from actor.
func (l *Ledger) writable(ctx context.Context, actor model.Actor, seriesID uuid.UUID, who Attendee) (model.EventSeries, error) {
	s, err := l.store.GetSeries(ctx, seriesID)
	if err != nil {
		return model.EventSeries{}, err
	}
	if s.IntegrityHold {
		return model.EventSeries{}, fmt.Errorf("series %s: %w", s.ID, store.ErrIntegrityHold)
	}
	if err := l.authz.CanRsvp(actor, s, who.MemberID); err != nil {
		return model.EventSeries{}, err
	}
	return s, nil
}

func live(ctx context.Context, st *store.Store, s model.EventSeries, date model.Date) error {
	ok, err := schedule.ValidateWith(ctx, st, s, date)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	member, err := schedule.IsMember(s, date)
	if err != nil {
		return err
	}
	return &schedule.InvalidInstanceError{SeriesID: s.ID, Date: date, Cancelled: member}
}

func countWrite(op string, err error) {
	var (
		invalid  *schedule.InvalidInstanceError
		conflict *series.ConcurrentModificationError
	)
	result := "ok"
	switch {
	case err == nil:
	case errors.As(err, &invalid):
		result = "invalid_instance"
	case errors.As(err, &conflict):
		result = "conflict"
	case errors.Is(err, auth.ErrForbidden):
		result = "forbidden"
	default:
		result = "error"
	}
	metrics.RsvpWrites.WithLabelValues(op, result).Inc()
}
