package recurrence

import (
	"time"

	"github.com/teambition/rrule-go"
)

var rruleFreq = map[Frequency]rrule.Frequency{
	Daily:   rrule.DAILY,
	Weekly:  rrule.WEEKLY,
	Monthly: rrule.MONTHLY,
	Yearly:  rrule.YEARLY,
}

var rruleWeekday = map[time.Weekday]rrule.Weekday{
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
	time.Sunday:    rrule.SU,
}

// RRule builds an rrule-go iterator for r starting at dtstart. dtstart's
// location is the series timezone; rrule-go steps in wall-clock time there,
// so every generated instant keeps dtstart's local time of day.
//
// Callers must check r.Empty() first: rrule-go reads COUNT=0 as unbounded.
func RRule(r Rule, dtstart time.Time) (*rrule.RRule, error) {
	r = r.normalize()
	if err := r.validate(""); err != nil {
		return nil, err
	}

	opt := rrule.ROption{
		Freq:     rruleFreq[r.Frequency],
		Interval: r.Interval,
		Dtstart:  dtstart,
		Wkst:     rrule.MO,
	}
	for _, wd := range r.ByWeekday {
		opt.Byweekday = append(opt.Byweekday, rruleWeekday[wd])
	}
	if r.Position != NoPosition {
		opt.Bysetpos = []int{int(r.Position)}
	}
	switch r.End.Type {
	case EndOnDate:
		d := r.End.Date
		opt.Until = time.Date(d.Year, d.Month, d.Day, 23, 59, 59, 0, dtstart.Location())
	case EndAfterCount:
		opt.Count = r.End.Count
	}
	return rrule.NewRRule(opt)
}
