// Package series applies scoped edits to event series: a single occurrence,
// the whole series, or a split at an occurrence ("this and following").
package series

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/joshuaslong/labor-membership-sub000/internal/auth"
	appLog "github.com/joshuaslong/labor-membership-sub000/internal/log"
	"github.com/joshuaslong/labor-membership-sub000/internal/metrics"
	"github.com/joshuaslong/labor-membership-sub000/internal/model"
	"github.com/joshuaslong/labor-membership-sub000/internal/recurrence"
	"github.com/joshuaslong/labor-membership-sub000/internal/schedule"
	"github.com/joshuaslong/labor-membership-sub000/internal/store"
)

// Request is one scoped edit. InstanceDate is the occurrence the organizer
// was looking at; it is ignored for ScopeAll.
type Request struct {
	SeriesID     uuid.UUID
	InstanceDate model.Date
	Scope        Scope
	Changes      Changes
}

// Result is the outcome of Edit. Series is the edited (or, after a split,
// truncated) series; NewSeries is set only when Split is.
type Result struct {
	Series    model.EventSeries       `json:"series"`
	Split     bool                    `json:"split"`
	NewSeries *model.EventSeries      `json:"new_series,omitempty"`
	Override  *model.InstanceOverride `json:"override,omitempty"`
}

type Editor struct {
	store *store.Store
	authz auth.Authorizer
}

func NewEditor(st *store.Store, authz auth.Authorizer) *Editor {
	return &Editor{store: st, authz: authz}
}

// Create validates a draft and stores it as a new series. The start date
// must be an occurrence of the rule, otherwise ErrInvalidSeries is returned.
func (e *Editor) Create(ctx context.Context, actor model.Actor, d Draft) (model.EventSeries, error) {
	s := model.EventSeries{
		ChapterID:   d.ChapterID,
		Title:       d.Title,
		Description: d.Description,
		Location:    d.Location,
		Audience:    d.Audience,
		Visibility:  d.Visibility,
		Status:      d.Status,
		StartDate:   d.StartDate,
		Timezone:    d.Timezone,
		IsAllDay:    d.IsAllDay,
		SeriesUntil: d.SeriesUntil,
	}
	if s.ChapterID == "" {
		s.ChapterID = actor.ChapterID
	}
	if s.Status == "" {
		s.Status = model.StatusDraft
	}
	if err := e.authz.CanEdit(actor, s); err != nil {
		return model.EventSeries{}, err
	}

	ch := Changes{
		Title:        &d.Title,
		MaxAttendees: d.MaxAttendees,
		Status:       &s.Status,
		StartTime:    d.StartTime,
		EndTime:      d.EndTime,
		Timezone:     &s.Timezone,
	}
	if err := applyFields(&s, ch); err != nil {
		return model.EventSeries{}, err
	}
	if s.StartDate.IsZero() {
		return model.EventSeries{}, invalidf("start_date is required")
	}
	if d.Rule != nil {
		text, err := fittedRule(*d.Rule, s.StartDate)
		if err != nil {
			return model.EventSeries{}, err
		}
		s.Rule = text
	}
	if err := checkBounds(s); err != nil {
		return model.EventSeries{}, err
	}

	if err := e.store.CreateSeries(ctx, &s); err != nil {
		return model.EventSeries{}, err
	}
	appLog.Info("series created", "series_id", s.ID, "chapter_id", s.ChapterID, "rule", deref(s.Rule))
	return s, nil
}

// Edit applies req under its scope. Failures leave the store untouched.
func (e *Editor) Edit(ctx context.Context, actor model.Actor, req Request) (Result, error) {
	res, err := e.edit(ctx, actor, req)
	metrics.SeriesEdits.WithLabelValues(string(req.Scope), outcome(err)).Inc()
	if err != nil {
		appLog.Warn("series edit rejected", "series_id", req.SeriesID, "scope", req.Scope, "date", req.InstanceDate, "err", err)
	}
	return res, err
}

func (e *Editor) edit(ctx context.Context, actor model.Actor, req Request) (Result, error) {
	scope, err := ParseScope(string(req.Scope))
	if err != nil {
		return Result{}, err
	}
	s, err := e.store.GetSeries(ctx, req.SeriesID)
	if err != nil {
		return Result{}, err
	}
	if s.IntegrityHold {
		return Result{}, &DataIntegrityError{SeriesID: s.ID, Reason: "series is on hold pending repair"}
	}
	if err := e.authz.CanEdit(actor, s); err != nil {
		return Result{}, err
	}

	switch scope {
	case ScopeThis:
		return e.editThis(ctx, s, req.InstanceDate, req.Changes)
	case ScopeAll:
		return e.editAll(ctx, s, req.Changes)
	default:
		return e.editFollowing(ctx, s, req.InstanceDate, req.Changes)
	}
}

// editThis writes the override of one occurrence. Membership in the pattern
// is what counts here, so a cancelled date can be edited or un-cancelled.
func (e *Editor) editThis(ctx context.Context, s model.EventSeries, d model.Date, ch Changes) (Result, error) {
	if ch.touchesPattern() {
		return Result{}, scopef("rule, start date and timezone can only change for the whole series or this and following")
	}
	member, err := schedule.IsMember(s, d)
	if err != nil {
		return Result{}, err
	}
	if !member {
		return Result{}, &schedule.InvalidInstanceError{SeriesID: s.ID, Date: d}
	}

	var ov *model.InstanceOverride
	err = e.store.Transaction(ctx, func(tx *store.Store) error {
		cur, err := tx.GetOverride(ctx, s.ID, d)
		if err != nil {
			return err
		}
		if cur == nil {
			cur = &model.InstanceOverride{SeriesID: s.ID, InstanceDate: d}
		}
		if err := applyOverride(cur, ch); err != nil {
			return err
		}
		if err := tx.SaveOverride(ctx, cur); err != nil {
			return err
		}
		// Conflicts with a concurrent split of the same series.
		ok, err := tx.TouchSeries(ctx, s.ID, s.Version)
		if err != nil {
			return err
		}
		if !ok {
			return &ConcurrentModificationError{SeriesID: s.ID, Reason: "version changed"}
		}
		ov = cur
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	s.Version++

	appLog.Info("occurrence edited", "series_id", s.ID, "date", d, "cancelled", ov.Cancelled)
	return Result{Series: s, Override: ov}, nil
}

// editAll rewrites the series row. Overrides and RSVPs stay where they are;
// rows on dates the new rule no longer generates become orphans.
func (e *Editor) editAll(ctx context.Context, s model.EventSeries, ch Changes) (Result, error) {
	if ch.Cancelled != nil {
		return Result{}, scopef("cancel single occurrences with scope this, or set status to cancelled")
	}
	next := s
	if err := applyFields(&next, ch); err != nil {
		return Result{}, err
	}
	if ch.StartDate != nil {
		if ch.StartDate.IsZero() {
			return Result{}, invalidf("start_date is required")
		}
		next.StartDate = *ch.StartDate
	}

	switch {
	case ch.ClearRule:
		next.Rule = nil
	case ch.Rule != nil:
		text, err := fittedRule(*ch.Rule, next.StartDate)
		if err != nil {
			return Result{}, err
		}
		next.Rule = text
	case ch.StartDate != nil && next.Recurring():
		r, err := recurrence.Parse(*next.Rule)
		if err != nil {
			return Result{}, err
		}
		if next.Rule, err = alignedRule(r, next.StartDate); err != nil {
			return Result{}, err
		}
	}
	if err := checkBounds(next); err != nil {
		return Result{}, err
	}

	ok, err := e.store.UpdateSeries(ctx, &next, s.Version)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, &ConcurrentModificationError{SeriesID: s.ID, Reason: "version changed"}
	}
	appLog.Info("series edited", "series_id", s.ID, "rule", deref(next.Rule), "version", next.Version)
	return Result{Series: next}, nil
}

// checkBounds enforces that series_until and a rule's UNTIL do not precede
// the start date.
func checkBounds(s model.EventSeries) error {
	if s.SeriesUntil != nil && s.SeriesUntil.Before(s.StartDate) {
		return invalidf("series_until %s is before start_date %s", s.SeriesUntil, s.StartDate)
	}
	if !s.Recurring() {
		return nil
	}
	end, err := recurrence.ParseEnd(*s.Rule)
	if err != nil {
		return err
	}
	if end.Type == recurrence.EndOnDate && end.Date.Before(s.StartDate) {
		return invalidf("rule ends on %s, before start_date %s", end.Date, s.StartDate)
	}
	return nil
}

func outcome(err error) string {
	var (
		conflict  *ConcurrentModificationError
		integrity *DataIntegrityError
		invalid   *schedule.InvalidInstanceError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &conflict):
		return "conflict"
	case errors.As(err, &integrity):
		return "integrity"
	case errors.As(err, &invalid):
		return "invalid_instance"
	case errors.Is(err, auth.ErrForbidden):
		return "forbidden"
	}
	return "error"
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
