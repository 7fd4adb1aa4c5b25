package series

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	appLog "github.com/joshuaslong/labor-membership-sub000/internal/log"
	"github.com/joshuaslong/labor-membership-sub000/internal/metrics"
	"github.com/joshuaslong/labor-membership-sub000/internal/model"
	"github.com/joshuaslong/labor-membership-sub000/internal/recurrence"
	"github.com/joshuaslong/labor-membership-sub000/internal/schedule"
	"github.com/joshuaslong/labor-membership-sub000/internal/store"
)

// editFollowing splits s at d. The original keeps every occurrence before d
// and a new series, anchored at d, takes d and everything after it together
// with the overrides and RSVPs on those dates.
func (e *Editor) editFollowing(ctx context.Context, s model.EventSeries, d model.Date, ch Changes) (Result, error) {
	if !s.Recurring() {
		return Result{}, scopef("series %s has a single occurrence, nothing to split", s.ID)
	}
	if ch.StartDate != nil {
		return Result{}, scopef("the split point is the new start date")
	}
	if ch.Cancelled != nil {
		return Result{}, scopef("cancel single occurrences with scope this")
	}

	ok, err := schedule.ValidateWith(ctx, e.store, s, d)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		member, err := schedule.IsMember(s, d)
		if err != nil {
			return Result{}, err
		}
		return Result{}, &schedule.InvalidInstanceError{SeriesID: s.ID, Date: d, Cancelled: member}
	}

	prev, hasPrev, err := schedule.PreviousOccurrence(s, d)
	if err != nil {
		return Result{}, err
	}
	if !hasPrev {
		// Nothing would remain on the original.
		return e.editAll(ctx, s, ch)
	}

	child, err := splitChild(s, d, ch)
	if err != nil {
		return Result{}, err
	}
	head, err := truncate(s, prev)
	if err != nil {
		return Result{}, err
	}

	var moved struct{ overrides, rsvps int64 }
	err = e.store.Transaction(ctx, func(tx *store.Store) error {
		cur, err := tx.GetSeries(ctx, s.ID)
		if err != nil {
			return err
		}
		if reason := diverged(s, cur); reason != "" {
			return &ConcurrentModificationError{SeriesID: s.ID, Reason: reason}
		}
		if cur.IntegrityHold {
			return &DataIntegrityError{SeriesID: s.ID, Reason: "series is on hold pending repair"}
		}

		if err := tx.CreateSeries(ctx, &child); err != nil {
			return err
		}
		ok, err := tx.UpdateSeries(ctx, &head, s.Version)
		if err != nil {
			return err
		}
		if !ok {
			return &ConcurrentModificationError{SeriesID: s.ID, Reason: "version changed"}
		}
		if moved.overrides, moved.rsvps, err = tx.Repoint(ctx, s.ID, child.ID, d); err != nil {
			return err
		}
		return verifySplit(ctx, tx, head, d)
	})
	if err != nil {
		var integrity *DataIntegrityError
		if errors.As(err, &integrity) {
			e.hold(ctx, integrity, s.ID)
		}
		return Result{}, err
	}

	appLog.Info("series split",
		"series_id", s.ID,
		"new_series_id", child.ID,
		"split_date", d,
		"original_until", prev,
		"overrides_moved", moved.overrides,
		"rsvps_moved", moved.rsvps,
	)
	return Result{Series: head, Split: true, NewSeries: &child}, nil
}

// splitChild builds the series that takes over at d.
func splitChild(s model.EventSeries, d model.Date, ch Changes) (model.EventSeries, error) {
	child := s
	child.ID = uuid.Nil
	child.Version = 0
	child.IntegrityHold = false
	child.StartDate = d
	child.SplitFromID = &s.ID
	child.CreatedAt, child.UpdatedAt = time.Time{}, time.Time{}

	if err := applyFields(&child, ch); err != nil {
		return model.EventSeries{}, err
	}

	switch {
	case ch.ClearRule:
		child.Rule = nil
	case ch.Rule != nil:
		// A count given with a new rule counts from d.
		text, err := alignedRule(*ch.Rule, d)
		if err != nil {
			return model.EventSeries{}, err
		}
		child.Rule = text
	default:
		r, err := recurrence.Parse(*s.Rule)
		if err != nil {
			return model.EventSeries{}, err
		}
		if r.End.Type == recurrence.EndAfterCount {
			// An inherited count keeps the series total unchanged.
			before, err := schedule.CountBefore(s, d)
			if err != nil {
				return model.EventSeries{}, err
			}
			r.End.Count = max(r.End.Count-before, 0)
		}
		if child.Rule, err = alignedRule(r, d); err != nil {
			return model.EventSeries{}, err
		}
	}
	if err := checkBounds(child); err != nil {
		return model.EventSeries{}, err
	}
	return child, nil
}

// truncate ends s on prev, its last occurrence before the split point.
func truncate(s model.EventSeries, prev model.Date) (model.EventSeries, error) {
	text, err := recurrence.WithEnd(*s.Rule, recurrence.End{Type: recurrence.EndOnDate, Date: prev})
	if err != nil {
		return model.EventSeries{}, err
	}
	head := s
	head.Rule = &text
	until := prev
	if s.SeriesUntil != nil && s.SeriesUntil.Before(until) {
		until = *s.SeriesUntil
	}
	head.SeriesUntil = &until
	return head, nil
}

// diverged compares the series read at the start of an edit with the row
// inside the transaction. It returns why they differ, or "".
func diverged(read, cur model.EventSeries) string {
	switch {
	case read.Version != cur.Version:
		return fmt.Sprintf("version %d is now %d", read.Version, cur.Version)
	case deref(read.Rule) != deref(cur.Rule):
		return "rule changed"
	case !sameDate(read.SeriesUntil, cur.SeriesUntil):
		return "series end changed"
	}
	return ""
}

// verifySplit checks, inside the split transaction, that the original
// neither generates nor owns anything on or after d.
func verifySplit(ctx context.Context, tx *store.Store, head model.EventSeries, d model.Date) error {
	reason, err := lineageViolation(ctx, tx, head, d)
	if err != nil {
		return err
	}
	if reason != "" {
		return &DataIntegrityError{SeriesID: head.ID, Reason: reason}
	}
	return nil
}

// lineageViolation describes how orig still reaches past the split point d,
// or returns "" when it does not.
func lineageViolation(ctx context.Context, st *store.Store, orig model.EventSeries, d model.Date) (string, error) {
	next, ok, err := schedule.NextOccurrence(orig, d)
	if err != nil {
		return "", err
	}
	if ok {
		return fmt.Sprintf("still generates %s on or after %s", next, d), nil
	}
	n, err := st.CountRowsSince(ctx, orig.ID, d)
	if err != nil {
		return "", err
	}
	if n > 0 {
		return fmt.Sprintf("still owns %d override/rsvp rows on or after %s", n, d), nil
	}
	return "", nil
}

// hold puts the given series on integrity hold outside any transaction, so
// the flag survives the rollback of the split that detected the problem.
func (e *Editor) hold(ctx context.Context, cause *DataIntegrityError, ids ...uuid.UUID) {
	metrics.IntegrityViolations.Inc()
	if err := e.store.SetIntegrityHold(ctx, ids...); err != nil {
		appLog.Error("set integrity hold", err, "series_id", cause.SeriesID)
		return
	}
	appLog.Error("series put on integrity hold", cause, "series_ids", ids)
}

func sameDate(a, b *model.Date) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
