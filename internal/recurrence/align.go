package recurrence

import (
	"slices"
	"time"

	"github.com/joshuaslong/labor-membership-sub000/internal/model"
)

// Align returns r adjusted so that anchor is always its first generated
// date. A lone weekday is replaced by the anchor's weekday, a larger weekday
// set gains it, and a monthly position is recomputed from the anchor (a
// "last" position is kept when the anchor is the last such weekday of its
// month). Rules that already generate the anchor come back unchanged.
func Align(r Rule, anchor model.Date) Rule {
	r = r.normalize()
	if len(r.ByWeekday) == 0 {
		return r
	}
	wd := anchor.Weekday()

	if r.Frequency == Monthly && r.Position != NoPosition {
		r.ByWeekday = []time.Weekday{wd}
		if r.Position == Last && isLastWeekdayOfMonth(anchor) {
			return r
		}
		r.Position = Position((anchor.Day-1)/7 + 1)
		return r
	}

	if slices.Contains(r.ByWeekday, wd) {
		return r
	}
	if len(r.ByWeekday) == 1 {
		r.ByWeekday = []time.Weekday{wd}
		return r
	}
	r.ByWeekday = canonicalWeekdays(append(slices.Clone(r.ByWeekday), wd))
	return r
}

func isLastWeekdayOfMonth(d model.Date) bool {
	return d.AddDays(7).Month != d.Month
}
