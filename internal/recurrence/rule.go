// Package recurrence converts between the canonical repeating-rule text
// stored on a series, the structured Rule, the named presets offered in edit
// forms, and a human description.
package recurrence

import (
	"fmt"
	"slices"
	"time"

	"github.com/joshuaslong/labor-membership-sub000/internal/model"
)

type Frequency string

const (
	Daily   Frequency = "DAILY"
	Weekly  Frequency = "WEEKLY"
	Monthly Frequency = "MONTHLY"
	Yearly  Frequency = "YEARLY"
)

func (f Frequency) valid() bool {
	switch f {
	case Daily, Weekly, Monthly, Yearly:
		return true
	}
	return false
}

// Position selects the nth matching weekday within a month. Last is -1.
type Position int

const (
	NoPosition Position = 0
	Last       Position = -1
)

func (p Position) valid() bool {
	return p == Last || (p >= 1 && p <= 5)
}

type EndType string

const (
	EndNever      EndType = "never"
	EndOnDate     EndType = "on_date"
	EndAfterCount EndType = "after_count"
)

// End is the terminal condition of a rule. Date is only meaningful for
// EndOnDate and Count only for EndAfterCount; the other field stays zero so
// End values compare with ==.
type End struct {
	Type  EndType    `json:"end_type"`
	Date  model.Date `json:"end_date,omitzero"`
	Count int        `json:"count,omitempty"`
}

// Rule is the structured form of a canonical rule.
type Rule struct {
	Frequency Frequency      `json:"frequency"`
	Interval  int            `json:"interval"`
	ByWeekday []time.Weekday `json:"by_weekday,omitempty"`
	Position  Position       `json:"monthly_position,omitempty"`
	End       End            `json:"end"`
}

// Empty reports whether the rule generates nothing at all (COUNT=0).
func (r Rule) Empty() bool {
	return r.End.Type == EndAfterCount && r.End.Count == 0
}

// InvalidRuleError reports malformed rule input.
type InvalidRuleError struct {
	Rule   string
	Reason string
}

func (e *InvalidRuleError) Error() string {
	if e.Rule == "" {
		return "invalid recurrence rule: " + e.Reason
	}
	return fmt.Sprintf("invalid recurrence rule %q: %s", e.Rule, e.Reason)
}

// UnsupportedRuleError reports well-formed rules that use combinations the
// engine does not implement.
type UnsupportedRuleError struct {
	Rule   string
	Reason string
}

func (e *UnsupportedRuleError) Error() string {
	if e.Rule == "" {
		return "unsupported recurrence rule: " + e.Reason
	}
	return fmt.Sprintf("unsupported recurrence rule %q: %s", e.Rule, e.Reason)
}

// normalize fills defaults and puts the weekday set into canonical order
// (Monday first, no duplicates). It does not validate.
func (r Rule) normalize() Rule {
	if r.Interval == 0 {
		r.Interval = 1
	}
	if r.End.Type == "" {
		r.End.Type = EndNever
	}
	r.ByWeekday = canonicalWeekdays(r.ByWeekday)
	return r
}

// validate checks a normalized rule; text only feeds error messages.
func (r Rule) validate(text string) error {
	invalid := func(reason string) error { return &InvalidRuleError{Rule: text, Reason: reason} }
	unsupported := func(reason string) error { return &UnsupportedRuleError{Rule: text, Reason: reason} }

	if !r.Frequency.valid() {
		return invalid(fmt.Sprintf("unknown frequency %q", r.Frequency))
	}
	if r.Interval < 1 {
		return invalid("interval must be a positive integer")
	}
	for _, wd := range r.ByWeekday {
		if wd < time.Sunday || wd > time.Saturday {
			return invalid(fmt.Sprintf("weekday %d out of range", wd))
		}
	}
	if len(r.ByWeekday) > 0 && (r.Frequency == Daily || r.Frequency == Yearly) {
		return unsupported("weekdays are only supported on weekly and monthly rules")
	}
	if r.Position != NoPosition {
		switch {
		case r.Frequency != Monthly:
			return unsupported("a monthly position requires a monthly rule")
		case len(r.ByWeekday) == 0:
			return unsupported("a monthly position requires a weekday")
		case len(r.ByWeekday) > 1:
			return unsupported("a monthly position supports exactly one weekday")
		case !r.Position.valid():
			return unsupported(fmt.Sprintf("monthly position %d is not one of 1..5 or -1", r.Position))
		}
	}

	switch r.End.Type {
	case EndNever:
		if !r.End.Date.IsZero() || r.End.Count != 0 {
			return invalid("an open-ended rule cannot carry an end date or count")
		}
	case EndOnDate:
		if r.End.Date.IsZero() {
			return invalid("end type on_date requires an end date")
		}
		if r.End.Count != 0 {
			return invalid("a rule cannot end both on a date and after a count")
		}
	case EndAfterCount:
		if r.End.Count < 0 {
			return invalid("count must not be negative")
		}
		if !r.End.Date.IsZero() {
			return invalid("a rule cannot end both on a date and after a count")
		}
	default:
		return invalid(fmt.Sprintf("unknown end type %q", r.End.Type))
	}
	return nil
}

// Validate normalizes and checks r.
func Validate(r Rule) (Rule, error) {
	r = r.normalize()
	if err := r.validate(""); err != nil {
		return Rule{}, err
	}
	return r, nil
}

// weekdayOrder sorts Monday first, matching the week start used for
// expansion.
func weekdayOrder(wd time.Weekday) int {
	return (int(wd) + 6) % 7
}

func canonicalWeekdays(in []time.Weekday) []time.Weekday {
	if len(in) == 0 {
		return nil
	}
	out := slices.Clone(in)
	slices.SortFunc(out, func(a, b time.Weekday) int { return weekdayOrder(a) - weekdayOrder(b) })
	return slices.Compact(out)
}
