// Package schedule expands a series into concrete occurrences and answers
// whether a date is a live occurrence of a series.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	appLog "github.com/joshuaslong/labor-membership-sub000/internal/log"
	"github.com/joshuaslong/labor-membership-sub000/internal/model"
	"github.com/joshuaslong/labor-membership-sub000/internal/recurrence"
)

const (
	defaultMaxOccurrences = 5000

	// Candidate dates are generated at local noon, which exists on every
	// calendar day in every zone, including DST switch days.
	genHour = 12
)

// Window is an inclusive range of calendar dates.
type Window struct {
	From model.Date
	To   model.Date
}

func (w Window) Validate() error {
	if w.From.IsZero() || w.To.IsZero() {
		return errors.New("window needs both from and to")
	}
	if w.To.Before(w.From) {
		return fmt.Errorf("window end %s is before start %s", w.To, w.From)
	}
	return nil
}

func (w Window) Contains(d model.Date) bool {
	return !d.Before(w.From) && !d.After(w.To)
}

// ExpandConfig controls how expansion is performed.
type ExpandConfig struct {
	Window Window

	// MaxOccurrences is a safety cap on a single expansion. If zero,
	// defaultMaxOccurrences is used.
	MaxOccurrences int
}

// Result wraps the expanded occurrences.
type Result struct {
	Occurrences []model.Occurrence
	// Truncated is set when MaxOccurrences cut the list short.
	Truncated bool
}

// InvalidInstanceError reports a date that is not a live occurrence of a
// series.
type InvalidInstanceError struct {
	SeriesID uuid.UUID
	Date     model.Date
	// Cancelled is set when the date is in the pattern but was cancelled.
	Cancelled bool
}

func (e *InvalidInstanceError) Error() string {
	if e.Cancelled {
		return fmt.Sprintf("that date is no longer part of this event: %s was cancelled", e.Date)
	}
	return fmt.Sprintf("that date is no longer part of this event: %s is not an occurrence", e.Date)
}

// Expand expands s within w using the default cap.
func Expand(s model.EventSeries, overrides []model.InstanceOverride, w Window) (Result, error) {
	return ExpandWith(s, overrides, ExpandConfig{Window: w})
}

// ExpandWith expands s inside cfg.Window. Occurrences are strictly increasing
// by date; cancelled dates are dropped and every other override is merged
// field by field.
func ExpandWith(s model.EventSeries, overrides []model.InstanceOverride, cfg ExpandConfig) (Result, error) {
	var result Result

	if err := cfg.Window.Validate(); err != nil {
		return result, err
	}
	if cfg.MaxOccurrences <= 0 {
		cfg.MaxOccurrences = defaultMaxOccurrences
	}

	loc, err := location(s.Timezone)
	if err != nil {
		return result, err
	}

	dates, truncated, err := patternDates(s, cfg.Window, loc, cfg.MaxOccurrences)
	if err != nil {
		return result, err
	}
	if truncated {
		result.Truncated = true
		appLog.Error("expand: truncated occurrences due to cap",
			errors.New("max occurrences reached"),
			"series_id", s.ID,
			"cap", cfg.MaxOccurrences,
		)
	}

	byDate := make(map[model.Date]*model.InstanceOverride, len(overrides))
	for i := range overrides {
		byDate[overrides[i].InstanceDate] = &overrides[i]
	}

	result.Occurrences = make([]model.Occurrence, 0, len(dates))
	for _, d := range dates {
		ov := byDate[d]
		if ov != nil && ov.Cancelled {
			continue
		}
		occ, err := makeOccurrence(s, d, ov, loc)
		if err != nil {
			return Result{}, err
		}
		result.Occurrences = append(result.Occurrences, occ)
	}
	return result, nil
}

// IsMember reports whether the pattern of s generates d, ignoring
// cancellations. Override bookkeeping uses this.
func IsMember(s model.EventSeries, d model.Date) (bool, error) {
	loc, err := location(s.Timezone)
	if err != nil {
		return false, err
	}
	dates, _, err := patternDates(s, Window{From: d, To: d}, loc, 1)
	if err != nil {
		return false, err
	}
	return len(dates) == 1, nil
}

// ValidateInstance reports whether d is a live occurrence: generated by the
// pattern and not cancelled. ov is the override at d, or nil.
func ValidateInstance(s model.EventSeries, ov *model.InstanceOverride, d model.Date) (bool, error) {
	member, err := IsMember(s, d)
	if err != nil || !member {
		return false, err
	}
	return ov == nil || !ov.Cancelled, nil
}

// PreviousOccurrence returns the pattern date immediately before d, stepping
// with the rule rather than with calendar arithmetic. ok is false when d is
// the first occurrence or s does not repeat.
func PreviousOccurrence(s model.EventSeries, d model.Date) (prev model.Date, ok bool, err error) {
	if !s.Recurring() || !d.After(s.StartDate) {
		return model.Date{}, false, nil
	}
	loc, err := location(s.Timezone)
	if err != nil {
		return model.Date{}, false, err
	}
	rule, err := recurrence.Parse(*s.Rule)
	if err != nil {
		return model.Date{}, false, err
	}
	if rule.Empty() {
		return model.Date{}, false, nil
	}
	rr, err := recurrence.RRule(rule, s.StartDate.At(genHour, 0, loc))
	if err != nil {
		return model.Date{}, false, err
	}
	t := rr.Before(d.At(genHour, 0, loc), false)
	if t.IsZero() {
		return model.Date{}, false, nil
	}
	return model.DateOf(t.In(loc)), true, nil
}

// NextOccurrence returns the first pattern date on or after d, ignoring
// cancellations. ok is false when the series ends before d.
func NextOccurrence(s model.EventSeries, d model.Date) (next model.Date, ok bool, err error) {
	if d.Before(s.StartDate) {
		d = s.StartDate
	}
	if s.SeriesUntil != nil && s.SeriesUntil.Before(d) {
		return model.Date{}, false, nil
	}
	if !s.Recurring() {
		return s.StartDate, s.StartDate == d, nil
	}
	loc, err := location(s.Timezone)
	if err != nil {
		return model.Date{}, false, err
	}
	rule, err := recurrence.Parse(*s.Rule)
	if err != nil {
		return model.Date{}, false, err
	}
	if rule.Empty() {
		return model.Date{}, false, nil
	}
	rr, err := recurrence.RRule(rule, s.StartDate.At(genHour, 0, loc))
	if err != nil {
		return model.Date{}, false, err
	}
	t := rr.After(d.At(genHour, 0, loc), true)
	if t.IsZero() {
		return model.Date{}, false, nil
	}
	next = model.DateOf(t.In(loc))
	if s.SeriesUntil != nil && s.SeriesUntil.Before(next) {
		return model.Date{}, false, nil
	}
	return next, true, nil
}

// CountBefore counts how many pattern dates s generates before d.
func CountBefore(s model.EventSeries, d model.Date) (int, error) {
	if !d.After(s.StartDate) {
		return 0, nil
	}
	loc, err := location(s.Timezone)
	if err != nil {
		return 0, err
	}
	dates, _, err := patternDates(s, Window{From: s.StartDate, To: d.AddDays(-1)}, loc, 0)
	if err != nil {
		return 0, err
	}
	return len(dates), nil
}

// patternDates lists the dates the rule of s generates inside w, capped by
// limit (zero means no cap).
func patternDates(s model.EventSeries, w Window, loc *time.Location, limit int) ([]model.Date, bool, error) {
	lo, hi := w.From, w.To
	if lo.Before(s.StartDate) {
		lo = s.StartDate
	}
	if s.SeriesUntil != nil && s.SeriesUntil.Before(hi) {
		hi = *s.SeriesUntil
	}
	if hi.Before(lo) {
		return nil, false, nil
	}

	if !s.Recurring() {
		if !s.StartDate.Before(lo) && !s.StartDate.After(hi) {
			return []model.Date{s.StartDate}, false, nil
		}
		return nil, false, nil
	}

	rule, err := recurrence.Parse(*s.Rule)
	if err != nil {
		return nil, false, err
	}
	if rule.Empty() {
		return nil, false, nil
	}
	rr, err := recurrence.RRule(rule, s.StartDate.At(genHour, 0, loc))
	if err != nil {
		return nil, false, err
	}

	var (
		out       []model.Date
		truncated bool
		next      = rr.Iterator()
		from      = lo.At(genHour, 0, loc)
		to        = hi.At(genHour, 0, loc)
	)
	for {
		t, ok := next()
		if !ok || t.After(to) {
			break
		}
		if t.Before(from) {
			continue
		}
		if limit > 0 && len(out) == limit {
			truncated = true
			break
		}
		out = append(out, model.DateOf(t.In(loc)))
	}
	return out, truncated, nil
}

// Resolve builds the occurrence of s on d with ov merged in, without
// checking that the pattern generates d.
func Resolve(s model.EventSeries, d model.Date, ov *model.InstanceOverride) (model.Occurrence, error) {
	loc, err := location(s.Timezone)
	if err != nil {
		return model.Occurrence{}, err
	}
	return makeOccurrence(s, d, ov, loc)
}

func makeOccurrence(s model.EventSeries, d model.Date, ov *model.InstanceOverride, loc *time.Location) (model.Occurrence, error) {
	occ := model.Occurrence{
		SeriesID:     s.ID,
		Date:         d,
		InstanceKey:  s.ID.String() + "/" + d.String(),
		Title:        s.Title,
		Description:  s.Description,
		Location:     s.Location,
		Audience:     s.Audience,
		Visibility:   s.Visibility,
		MaxAttendees: s.MaxAttendees,
		Status:       s.Status,
		AllDay:       s.IsAllDay,
		StartTime:    s.StartTime,
		EndTime:      s.EndTime,
	}

	if ov != nil {
		occ.Overridden = true
		if ov.Title != nil {
			occ.Title = *ov.Title
		}
		if ov.Description != nil {
			occ.Description = *ov.Description
		}
		if ov.Location != nil {
			occ.Location = *ov.Location
		}
		if ov.MaxAttendees != nil {
			occ.MaxAttendees = ov.MaxAttendees
		}
		if ov.Status != nil {
			occ.Status = *ov.Status
		}
		if ov.IsAllDay != nil {
			occ.AllDay = *ov.IsAllDay
		}
		if ov.StartTime != nil {
			occ.StartTime = ov.StartTime
		}
		if ov.EndTime != nil {
			occ.EndTime = ov.EndTime
		}
	}

	if occ.AllDay {
		// All-day: [local midnight, next local midnight), which is not
		// always 24h on DST switch days.
		occ.Start = d.At(0, 0, loc)
		occ.End = d.AddDays(1).At(0, 0, loc)
		occ.StartTime, occ.EndTime = nil, nil
		return occ, nil
	}

	start, err := clockOrMidnight(occ.StartTime)
	if err != nil {
		return model.Occurrence{}, fmt.Errorf("series %s on %s: %w", s.ID, d, err)
	}
	end := start
	if occ.EndTime != nil {
		if end, err = model.ParseClock(*occ.EndTime); err != nil {
			return model.Occurrence{}, fmt.Errorf("series %s on %s: %w", s.ID, d, err)
		}
	}

	occ.Start = d.At(start.Hour, start.Minute, loc)
	occ.End = d.At(end.Hour, end.Minute, loc)
	if occ.End.Before(occ.Start) {
		// Ends past midnight.
		occ.End = d.AddDays(1).At(end.Hour, end.Minute, loc)
	}
	return occ, nil
}

func clockOrMidnight(s *string) (model.Clock, error) {
	if s == nil {
		return model.Clock{}, nil
	}
	return model.ParseClock(*s)
}

func location(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("series timezone %q: %w", name, err)
	}
	return loc, nil
}
