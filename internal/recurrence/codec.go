package recurrence

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joshuaslong/labor-membership-sub000/internal/model"
)

var weekdayCodes = map[string]time.Weekday{
	"MO": time.Monday,
	"TU": time.Tuesday,
	"WE": time.Wednesday,
	"TH": time.Thursday,
	"FR": time.Friday,
	"SA": time.Saturday,
	"SU": time.Sunday,
}

var codeForWeekday = map[time.Weekday]string{
	time.Monday:    "MO",
	time.Tuesday:   "TU",
	time.Wednesday: "WE",
	time.Thursday:  "TH",
	time.Friday:    "FR",
	time.Saturday:  "SA",
	time.Sunday:    "SU",
}

// RFC 5545 parts that are recognized but not implemented.
var unsupportedParts = map[string]bool{
	"BYMONTH":    true,
	"BYMONTHDAY": true,
	"BYYEARDAY":  true,
	"BYWEEKNO":   true,
	"BYHOUR":     true,
	"BYMINUTE":   true,
	"BYSECOND":   true,
}

// Parse decodes canonical rule text such as
// "FREQ=WEEKLY;INTERVAL=2;BYDAY=MO;UNTIL=20241231". An optional "RRULE:"
// prefix is accepted, and "BYDAY=1MO" is read as BYDAY=MO;BYSETPOS=1.
func Parse(text string) (Rule, error) {
	raw := text
	invalid := func(format string, args ...any) error {
		return &InvalidRuleError{Rule: raw, Reason: fmt.Sprintf(format, args...)}
	}
	unsupported := func(format string, args ...any) error {
		return &UnsupportedRuleError{Rule: raw, Reason: fmt.Sprintf(format, args...)}
	}

	text = strings.TrimSpace(text)
	if len(text) >= 6 && strings.EqualFold(text[:6], "RRULE:") {
		text = text[6:]
	}
	if text == "" {
		return Rule{}, invalid("rule is empty")
	}

	var (
		r         Rule
		seen      = make(map[string]bool)
		hasUntil  bool
		hasCount  bool
		bydayPos  Position
		setPos    Position
		hasSetPos bool
	)

	for _, part := range strings.Split(text, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			return Rule{}, invalid("part %q is not KEY=VALUE", part)
		}
		key = strings.ToUpper(strings.TrimSpace(key))
		value = strings.ToUpper(strings.TrimSpace(value))
		if seen[key] {
			return Rule{}, invalid("%s appears more than once", key)
		}
		seen[key] = true

		switch key {
		case "FREQ":
			r.Frequency = Frequency(value)
			if !r.Frequency.valid() {
				return Rule{}, invalid("unknown frequency %q", value)
			}
		case "INTERVAL":
			n, err := strconv.Atoi(value)
			if err != nil || n < 1 {
				return Rule{}, invalid("interval must be a positive integer, got %q", value)
			}
			r.Interval = n
		case "BYDAY":
			items := strings.Split(value, ",")
			for _, item := range items {
				item = strings.TrimSpace(item)
				if len(item) < 2 {
					return Rule{}, invalid("bad weekday %q", item)
				}
				code := item[len(item)-2:]
				wd, ok := weekdayCodes[code]
				if !ok {
					return Rule{}, invalid("bad weekday %q", item)
				}
				if prefix := item[:len(item)-2]; prefix != "" {
					n, err := strconv.Atoi(prefix)
					if err != nil {
						return Rule{}, invalid("bad weekday ordinal %q", item)
					}
					if len(items) > 1 {
						return Rule{}, unsupported("ordinal weekdays cannot be combined with other weekdays")
					}
					bydayPos = Position(n)
				}
				r.ByWeekday = append(r.ByWeekday, wd)
			}
		case "BYSETPOS":
			if strings.Contains(value, ",") {
				return Rule{}, unsupported("only a single BYSETPOS value is supported")
			}
			n, err := strconv.Atoi(value)
			if err != nil || n == 0 {
				return Rule{}, invalid("bad BYSETPOS %q", value)
			}
			setPos, hasSetPos = Position(n), true
		case "UNTIL":
			d, err := parseUntil(value)
			if err != nil {
				return Rule{}, invalid("bad UNTIL %q", value)
			}
			r.End = End{Type: EndOnDate, Date: d}
			hasUntil = true
		case "COUNT":
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return Rule{}, invalid("count must be a non-negative integer, got %q", value)
			}
			r.End = End{Type: EndAfterCount, Count: n}
			hasCount = true
		case "WKST":
			if value != "MO" {
				return Rule{}, unsupported("week start %q (only MO)", value)
			}
		default:
			if unsupportedParts[key] {
				return Rule{}, unsupported("%s is not supported", key)
			}
			return Rule{}, invalid("unknown rule part %q", key)
		}
	}

	if !seen["FREQ"] {
		return Rule{}, invalid("FREQ is required")
	}
	if hasUntil && hasCount {
		return Rule{}, invalid("UNTIL and COUNT are mutually exclusive")
	}
	switch {
	case bydayPos != NoPosition && hasSetPos && bydayPos != setPos:
		return Rule{}, unsupported("BYDAY ordinal and BYSETPOS disagree")
	case bydayPos != NoPosition:
		r.Position = bydayPos
	case hasSetPos:
		r.Position = setPos
	}

	r = r.normalize()
	if err := r.validate(raw); err != nil {
		return Rule{}, err
	}
	return r, nil
}

func parseUntil(v string) (model.Date, error) {
	for _, layout := range []string{"20060102", "20060102T150405Z", "20060102T150405"} {
		if t, err := time.Parse(layout, v); err == nil {
			return model.DateOf(t), nil
		}
	}
	return model.Date{}, fmt.Errorf("unrecognized UNTIL %q", v)
}

// Serialize encodes r as canonical rule text. The output is stable: equal
// rules always produce byte-identical text.
func Serialize(r Rule) (string, error) {
	r = r.normalize()
	if err := r.validate(""); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("FREQ=")
	b.WriteString(string(r.Frequency))
	b.WriteString(";INTERVAL=")
	b.WriteString(strconv.Itoa(r.Interval))
	if len(r.ByWeekday) > 0 {
		codes := make([]string, 0, len(r.ByWeekday))
		for _, wd := range r.ByWeekday {
			codes = append(codes, codeForWeekday[wd])
		}
		b.WriteString(";BYDAY=")
		b.WriteString(strings.Join(codes, ","))
	}
	if r.Position != NoPosition {
		b.WriteString(";BYSETPOS=")
		b.WriteString(strconv.Itoa(int(r.Position)))
	}
	switch r.End.Type {
	case EndOnDate:
		b.WriteString(";UNTIL=")
		b.WriteString(fmt.Sprintf("%04d%02d%02d", r.End.Date.Year, int(r.End.Date.Month), r.End.Date.Day))
	case EndAfterCount:
		b.WriteString(";COUNT=")
		b.WriteString(strconv.Itoa(r.End.Count))
	}
	return b.String(), nil
}

// MustSerialize is Serialize for rules built in code; it panics on error.
func MustSerialize(r Rule) string {
	s, err := Serialize(r)
	if err != nil {
		panic(err)
	}
	return s
}

// ParseEnd extracts only the end condition from rule text.
func ParseEnd(text string) (End, error) {
	r, err := Parse(text)
	if err != nil {
		return End{}, err
	}
	return r.End, nil
}

// WithEnd returns text with its end condition replaced.
func WithEnd(text string, end End) (string, error) {
	r, err := Parse(text)
	if err != nil {
		return "", err
	}
	r.End = end
	return Serialize(r)
}
