package series

import (
	"strings"
	"time"

	"github.com/joshuaslong/labor-membership-sub000/internal/model"
	"github.com/joshuaslong/labor-membership-sub000/internal/recurrence"
)

// Scope selects which occurrences an edit applies to.
type Scope string

const (
	ScopeThis      Scope = "this"
	ScopeFollowing Scope = "this_and_following"
	ScopeAll       Scope = "all"
)

func ParseScope(s string) (Scope, error) {
	switch sc := Scope(strings.ToLower(strings.TrimSpace(s))); sc {
	case ScopeThis, ScopeFollowing, ScopeAll:
		return sc, nil
	}
	return "", scopef("unknown scope %q", s)
}

// Changes lists the fields an edit sets. Nil means unchanged.
type Changes struct {
	Title       *string
	Description *string
	Location    *string
	Audience    *string
	Visibility  *string
	// MaxAttendees of zero removes the limit.
	MaxAttendees *int
	Status       *model.SeriesStatus

	StartTime *string
	EndTime   *string
	IsAllDay  *bool
	Timezone  *string

	// Rule replaces the rule wholesale; ClearRule turns the series into a
	// single occurrence. Neither is allowed at ScopeThis.
	Rule      *recurrence.Rule
	ClearRule bool

	// StartDate moves the anchor; only at ScopeAll.
	StartDate *model.Date

	// Cancelled only applies at ScopeThis.
	Cancelled *bool
}

func (c Changes) touchesPattern() bool {
	return c.Rule != nil || c.ClearRule || c.StartDate != nil || c.Timezone != nil
}

// Draft is the input of Create.
type Draft struct {
	ChapterID    string
	Title        string
	Description  string
	Location     string
	Audience     string
	Visibility   string
	MaxAttendees *int
	Status       model.SeriesStatus

	StartDate model.Date
	StartTime *string
	EndTime   *string
	Timezone  string
	IsAllDay  bool

	Rule        *recurrence.Rule
	SeriesUntil *model.Date
}

// applyFields copies every non-pattern change onto s.
func applyFields(s *model.EventSeries, c Changes) error {
	if c.Title != nil {
		if strings.TrimSpace(*c.Title) == "" {
			return invalidf("title must not be empty")
		}
		s.Title = *c.Title
	}
	if c.Description != nil {
		s.Description = *c.Description
	}
	if c.Location != nil {
		s.Location = *c.Location
	}
	if c.Audience != nil {
		s.Audience = *c.Audience
	}
	if c.Visibility != nil {
		s.Visibility = *c.Visibility
	}
	if c.MaxAttendees != nil {
		limit, err := normLimit(*c.MaxAttendees)
		if err != nil {
			return err
		}
		s.MaxAttendees = limit
	}
	if c.Status != nil {
		if !c.Status.Valid() {
			return invalidf("unknown status %q", *c.Status)
		}
		s.Status = *c.Status
	}
	if c.Timezone != nil {
		if err := checkZone(*c.Timezone); err != nil {
			return err
		}
		s.Timezone = *c.Timezone
	}
	if c.IsAllDay != nil {
		s.IsAllDay = *c.IsAllDay
	}

	var err error
	if c.StartTime != nil {
		if s.StartTime, err = normClock(c.StartTime); err != nil {
			return err
		}
	}
	if c.EndTime != nil {
		if s.EndTime, err = normClock(c.EndTime); err != nil {
			return err
		}
	}
	if s.IsAllDay {
		s.StartTime, s.EndTime = nil, nil
	}
	return nil
}

// applyOverride copies the changes of a single-occurrence edit onto ov.
func applyOverride(ov *model.InstanceOverride, c Changes) error {
	if c.Title != nil {
		if strings.TrimSpace(*c.Title) == "" {
			return invalidf("title must not be empty")
		}
		ov.Title = c.Title
	}
	if c.Description != nil {
		ov.Description = c.Description
	}
	if c.Location != nil {
		ov.Location = c.Location
	}
	if c.Audience != nil || c.Visibility != nil {
		return scopef("audience and visibility apply to the whole series")
	}
	if c.MaxAttendees != nil {
		if *c.MaxAttendees < 0 {
			return invalidf("max_attendees must not be negative")
		}
		limit := *c.MaxAttendees
		ov.MaxAttendees = &limit
	}
	if c.Status != nil {
		if !c.Status.Valid() {
			return invalidf("unknown status %q", *c.Status)
		}
		ov.Status = c.Status
	}
	if c.IsAllDay != nil {
		ov.IsAllDay = c.IsAllDay
	}

	var err error
	if c.StartTime != nil {
		if ov.StartTime, err = normClock(c.StartTime); err != nil {
			return err
		}
	}
	if c.EndTime != nil {
		if ov.EndTime, err = normClock(c.EndTime); err != nil {
			return err
		}
	}
	if c.Cancelled != nil {
		ov.Cancelled = *c.Cancelled
	}
	return nil
}

// normClock returns the canonical "HH:MM" form; empty clears the time.
func normClock(v *string) (*string, error) {
	if v == nil || strings.TrimSpace(*v) == "" {
		return nil, nil
	}
	c, err := model.ParseClock(strings.TrimSpace(*v))
	if err != nil {
		return nil, invalidf("%v", err)
	}
	out := c.String()
	return &out, nil
}

func normLimit(n int) (*int, error) {
	switch {
	case n < 0:
		return nil, invalidf("max_attendees must not be negative")
	case n == 0:
		return nil, nil
	}
	return &n, nil
}

func checkZone(name string) error {
	if name == "" {
		return invalidf("timezone is required")
	}
	if _, err := time.LoadLocation(name); err != nil {
		return invalidf("unknown timezone %q", name)
	}
	return nil
}

// alignedRule validates r, aligns it to anchor and returns canonical text.
func alignedRule(r recurrence.Rule, anchor model.Date) (*string, error) {
	r, err := recurrence.Validate(r)
	if err != nil {
		return nil, err
	}
	text, err := recurrence.Serialize(recurrence.Align(r, anchor))
	if err != nil {
		return nil, err
	}
	return &text, nil
}

// fittedRule validates r and returns its canonical text. Unlike alignedRule
// it refuses a rule that does not generate anchor.
func fittedRule(r recurrence.Rule, anchor model.Date) (*string, error) {
	r, err := recurrence.Validate(r)
	if err != nil {
		return nil, err
	}
	text, err := recurrence.Serialize(r)
	if err != nil {
		return nil, err
	}
	aligned, err := recurrence.Serialize(recurrence.Align(r, anchor))
	if err != nil || aligned != text {
		return nil, invalidf("start date %s (%s) is not an occurrence of %s", anchor, anchor.Weekday(), text)
	}
	return &text, nil
}
