package recurrence

import (
	"fmt"
	"strings"
	"time"
)

var ordinalNames = map[Position]string{
	1:    "first",
	2:    "second",
	3:    "third",
	4:    "fourth",
	5:    "fifth",
	Last: "last",
}

// Describe renders r as an English sentence, e.g. "Weekly on Monday, 12
// times", "Every 2 weeks until Dec 31, 2024" or "Monthly on the first
// Monday".
func Describe(r Rule) string {
	r = r.normalize()

	var b strings.Builder
	b.WriteString(cadence(r.Frequency, r.Interval))

	switch {
	case r.Frequency == Monthly && r.Position != NoPosition && len(r.ByWeekday) == 1:
		fmt.Fprintf(&b, " on the %s %s", ordinalNames[r.Position], r.ByWeekday[0])
	case r.Frequency == Monthly && len(r.ByWeekday) > 0:
		b.WriteString(" on every ")
		b.WriteString(joinWeekdays(r.ByWeekday))
	case len(r.ByWeekday) > 0:
		b.WriteString(" on ")
		b.WriteString(joinWeekdays(r.ByWeekday))
	}

	switch r.End.Type {
	case EndAfterCount:
		if r.End.Count == 1 {
			b.WriteString(", once")
		} else {
			fmt.Fprintf(&b, ", %d times", r.End.Count)
		}
	case EndOnDate:
		b.WriteString(" until ")
		b.WriteString(r.End.Date.At(0, 0, time.UTC).Format("Jan 2, 2006"))
	}
	return b.String()
}

// DescribeText parses and describes rule text.
func DescribeText(text string) (string, error) {
	r, err := Parse(text)
	if err != nil {
		return "", err
	}
	return Describe(r), nil
}

func cadence(f Frequency, interval int) string {
	unit, single := "", ""
	switch f {
	case Daily:
		unit, single = "days", "Daily"
	case Weekly:
		unit, single = "weeks", "Weekly"
	case Monthly:
		unit, single = "months", "Monthly"
	case Yearly:
		unit, single = "years", "Yearly"
	}
	if interval <= 1 {
		return single
	}
	return fmt.Sprintf("Every %d %s", interval, unit)
}

func joinWeekdays(days []time.Weekday) string {
	names := make([]string, len(days))
	for i, d := range days {
		names[i] = d.String()
	}
	if len(names) == 1 {
		return names[0]
	}
	return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
}
