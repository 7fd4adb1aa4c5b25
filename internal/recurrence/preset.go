package recurrence

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/joshuaslong/labor-membership-sub000/internal/model"
)

// Preset is a named shorthand offered by the edit form. The form is only a
// view: the rule text stays the single source of truth.
type Preset string

const (
	PresetNone     Preset = ""
	PresetDaily    Preset = "daily"
	PresetWeekly   Preset = "weekly"
	PresetBiweekly Preset = "biweekly"
	PresetMonthly  Preset = "monthly"
	PresetCustom   Preset = "custom"
)

// templated presets in detection order.
var templated = []Preset{PresetDaily, PresetWeekly, PresetBiweekly, PresetMonthly}

func ParsePreset(s string) (Preset, error) {
	p := Preset(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case PresetDaily, PresetWeekly, PresetBiweekly, PresetMonthly, PresetCustom:
		return p, nil
	}
	return PresetNone, fmt.Errorf("unknown preset %q", s)
}

// AnchorPosition is the nth-weekday-of-month position of d: 1..4, or Last
// when d falls in the fifth week.
func AnchorPosition(d model.Date) Position {
	n := (d.Day-1)/7 + 1
	if n == 5 {
		return Last
	}
	return Position(n)
}

// FromPreset builds the template rule of p for the given anchor date with
// an open end. Custom has no template.
func FromPreset(p Preset, anchor model.Date) (Rule, error) {
	wd := anchor.Weekday()
	switch p {
	case PresetDaily:
		return Rule{Frequency: Daily, Interval: 1, End: End{Type: EndNever}}, nil
	case PresetWeekly:
		return Rule{Frequency: Weekly, Interval: 1, ByWeekday: []time.Weekday{wd}, End: End{Type: EndNever}}, nil
	case PresetBiweekly:
		return Rule{Frequency: Weekly, Interval: 2, ByWeekday: []time.Weekday{wd}, End: End{Type: EndNever}}, nil
	case PresetMonthly:
		return Rule{
			Frequency: Monthly,
			Interval:  1,
			ByWeekday: []time.Weekday{wd},
			Position:  AnchorPosition(anchor),
			End:       End{Type: EndNever},
		}, nil
	}
	return Rule{}, fmt.Errorf("preset %q has no rule template", p)
}

// Detect names the preset whose template matches r's pattern for anchor.
// The end condition is not part of a template, so it is ignored. A nil rule
// detects PresetNone; anything without a matching template is PresetCustom.
func Detect(r *Rule, anchor model.Date) Preset {
	if r == nil {
		return PresetNone
	}
	got := r.normalize()
	for _, p := range templated {
		tmpl, err := FromPreset(p, anchor)
		if err != nil {
			continue
		}
		if samePattern(got, tmpl.normalize(), anchor) {
			return p
		}
	}
	return PresetCustom
}

func samePattern(a, b Rule, anchor model.Date) bool {
	return a.Frequency == b.Frequency &&
		a.Interval == b.Interval &&
		a.Position == b.Position &&
		slices.Equal(effectiveWeekdays(a, anchor), effectiveWeekdays(b, anchor))
}

// effectiveWeekdays resolves the implicit weekday of a weekly rule without
// BYDAY, which repeats on the anchor's weekday.
func effectiveWeekdays(r Rule, anchor model.Date) []time.Weekday {
	if r.Frequency == Weekly && len(r.ByWeekday) == 0 {
		return []time.Weekday{anchor.Weekday()}
	}
	return r.ByWeekday
}
