package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "github.com/joshuaslong/labor-membership-sub000/internal/log"
	"github.com/joshuaslong/labor-membership-sub000/internal/model"
	"github.com/joshuaslong/labor-membership-sub000/internal/recurrence"
	"github.com/joshuaslong/labor-membership-sub000/internal/series"
)

const untitled = "Untitled event"

// Imported is one series read from a calendar: the base VEVENT as a draft,
// its EXDATEs, and its RECURRENCE-ID events as single-occurrence edits.
type Imported struct {
	UID       string
	Draft     series.Draft
	Cancelled []model.Date
	Edits     []Edit
}

// Edit is a change to one occurrence.
type Edit struct {
	Date    model.Date
	Changes series.Changes
}

// Parse reads an iCalendar payload. zone is the IANA zone assumed for
// floating and UTC times; the series keeps DTSTART's TZID when present.
//
// VEVENTs that cannot be represented (unknown TZID, unsupported RRULE,
// missing DTSTART) are logged and skipped so one bad event does not sink
// the whole calendar.
func Parse(body []byte, zone string) ([]Imported, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}
	fallback, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("import timezone %q: %w", zone, err)
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err)
		return nil, err
	}

	var (
		out       []Imported
		byUID     = make(map[string]int)
		locs      = make(map[string]*time.Location)
		overrides []*ical.VEvent
	)
	for _, ve := range cal.Events() {
		if ve.GetProperty(propRecurrence) != nil {
			overrides = append(overrides, ve)
			continue
		}
		imp, loc, err := parseBase(ve, fallback)
		if err != nil {
			appLog.Warn("ics vevent skipped", "uid", ve.Id(), "err", err)
			continue
		}
		if _, dup := byUID[imp.UID]; dup {
			appLog.Warn("ics vevent skipped", "uid", imp.UID, "err", "duplicate UID")
			continue
		}
		byUID[imp.UID] = len(out)
		locs[imp.UID] = loc
		out = append(out, imp)
	}

	for _, ve := range overrides {
		i, ok := byUID[ve.Id()]
		if !ok {
			appLog.Warn("ics override skipped", "uid", ve.Id(), "err", "no base event")
			continue
		}
		if err := attachOverride(&out[i], ve, locs[ve.Id()]); err != nil {
			appLog.Warn("ics override skipped", "uid", ve.Id(), "err", err)
		}
	}

	appLog.Info("ics parse completed", "event_count", len(out), "override_count", len(overrides))
	return out, nil
}

func parseBase(ve *ical.VEvent, fallback *time.Location) (Imported, *time.Location, error) {
	imp := Imported{UID: ve.Id()}
	if imp.UID == "" {
		return imp, nil, errors.New("missing UID")
	}

	dtstart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtstart == nil {
		return imp, nil, errors.New("missing DTSTART")
	}
	loc := fallback
	if tzid := param(dtstart, ical.ParameterTzid); tzid != "" {
		l, err := time.LoadLocation(tzid)
		if err != nil {
			return imp, nil, fmt.Errorf("unknown TZID %q", tzid)
		}
		loc = l
	}
	start, allDay, err := readTime(dtstart, loc)
	if err != nil {
		return imp, nil, fmt.Errorf("DTSTART: %w", err)
	}

	d := series.Draft{
		Title:     text(ve, ical.ComponentPropertySummary),
		StartDate: model.DateOf(start),
		Timezone:  loc.String(),
		IsAllDay:  allDay,
		Status:    statusOf(ve),
	}
	if d.Title == "" {
		d.Title = untitled
	}
	d.Description = text(ve, ical.ComponentPropertyDescription)
	d.Location = text(ve, ical.ComponentPropertyLocation)

	if !allDay {
		d.StartTime = clock(start)
		if p := ve.GetProperty(ical.ComponentPropertyDtEnd); p != nil {
			end, _, err := readTime(p, loc)
			if err != nil {
				return imp, nil, fmt.Errorf("DTEND: %w", err)
			}
			d.EndTime = clock(end)
		}
	}

	if rules := ve.GetProperties(ical.ComponentPropertyRrule); len(rules) > 0 {
		if len(rules) > 1 {
			return imp, nil, errors.New("more than one RRULE")
		}
		r, err := recurrence.Parse(localizeRule(rules[0].Value, loc))
		if err != nil {
			return imp, nil, err
		}
		d.Rule = &r
	}
	if len(ve.GetProperties(ical.ComponentPropertyRdate)) > 0 {
		appLog.Warn("ics RDATE ignored", "uid", imp.UID)
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			t, _, err := parseValue(part, param(p, ical.ParameterTzid), loc)
			if err != nil {
				appLog.Warn("ics EXDATE ignored", "uid", imp.UID, "value", part, "err", err)
				continue
			}
			imp.Cancelled = append(imp.Cancelled, model.DateOf(t))
		}
	}

	imp.Draft = d
	return imp, loc, nil
}

// attachOverride turns a RECURRENCE-ID event into a single-occurrence edit
// of its base. Only fields that differ from the base are carried.
func attachOverride(imp *Imported, ve *ical.VEvent, loc *time.Location) error {
	rid, _, err := readTime(ve.GetProperty(propRecurrence), loc)
	if err != nil {
		return fmt.Errorf("RECURRENCE-ID: %w", err)
	}
	date := model.DateOf(rid)

	if statusOf(ve) == model.StatusCancelled {
		imp.Cancelled = append(imp.Cancelled, date)
		return nil
	}

	base := imp.Draft
	var ch series.Changes
	if v := text(ve, ical.ComponentPropertySummary); v != "" && v != base.Title {
		ch.Title = &v
	}
	if v := text(ve, ical.ComponentPropertyDescription); v != base.Description {
		ch.Description = &v
	}
	if v := text(ve, ical.ComponentPropertyLocation); v != base.Location {
		ch.Location = &v
	}

	if p := ve.GetProperty(ical.ComponentPropertyDtStart); p != nil {
		start, allDay, err := readTime(p, loc)
		if err != nil {
			return fmt.Errorf("DTSTART: %w", err)
		}
		if model.DateOf(start) != date {
			appLog.Warn("ics override moved to another day; keeping its original date",
				"uid", imp.UID, "date", date, "moved_to", model.DateOf(start))
		}
		if allDay != base.IsAllDay {
			ch.IsAllDay = &allDay
		}
		if !allDay {
			if st := clock(start); base.StartTime == nil || *st != *base.StartTime {
				ch.StartTime = st
			}
			if p := ve.GetProperty(ical.ComponentPropertyDtEnd); p != nil {
				end, _, err := readTime(p, loc)
				if err != nil {
					return fmt.Errorf("DTEND: %w", err)
				}
				if et := clock(end); base.EndTime == nil || *et != *base.EndTime {
					ch.EndTime = et
				}
			}
		}
	}

	imp.Edits = append(imp.Edits, Edit{Date: date, Changes: ch})
	return nil
}

// readTime reads a DATE or DATE-TIME property and returns it in loc.
func readTime(p *ical.IANAProperty, loc *time.Location) (time.Time, bool, error) {
	if p == nil {
		return time.Time{}, false, errors.New("missing")
	}
	allDay := strings.EqualFold(param(p, ical.ParameterValue), "DATE")
	t, dateOnly, err := parseValue(p.Value, param(p, ical.ParameterTzid), loc)
	return t, allDay || dateOnly, err
}

// parseValue parses a DATE, UTC DATE-TIME, zoned DATE-TIME or floating
// DATE-TIME. The result is expressed in loc.
func parseValue(v, tzid string, loc *time.Location) (time.Time, bool, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, false, errors.New("empty time value")
	case !strings.Contains(v, "T"):
		t, err := time.ParseInLocation(layoutDate, v, loc)
		return t, true, err
	case strings.HasSuffix(v, "Z"):
		t, err := time.Parse(layoutUTC, v)
		return t.In(loc), false, err
	}

	in := loc
	if tzid != "" {
		l, err := time.LoadLocation(tzid)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("unknown TZID %q", tzid)
		}
		in = l
	}
	t, err := time.ParseInLocation(layoutLocal, v, in)
	return t.In(loc), false, err
}

// localizeRule rewrites a UTC UNTIL into the series-local date it falls on
// and drops a WKST that cannot change the result.
func localizeRule(rule string, loc *time.Location) string {
	parts := strings.Split(strings.TrimPrefix(strings.TrimSpace(rule), "RRULE:"), ";")
	weekly, stepped := false, false
	for _, part := range parts {
		k, v, _ := strings.Cut(part, "=")
		switch strings.ToUpper(k) {
		case "FREQ":
			weekly = strings.EqualFold(v, "WEEKLY")
		case "INTERVAL":
			stepped = v != "1"
		}
	}
	// WKST matters for multi-week steps; keep it there so Parse can judge it.
	keepWkst := weekly && stepped

	out := make([]string, 0, len(parts))
	for _, part := range parts {
		k, v, _ := strings.Cut(part, "=")
		switch strings.ToUpper(k) {
		case "WKST":
			if !keepWkst {
				continue
			}
		case "UNTIL":
			if strings.HasSuffix(v, "Z") {
				if t, err := time.Parse(layoutUTC, v); err == nil {
					part = "UNTIL=" + t.In(loc).Format(layoutDate)
				}
			}
		}
		out = append(out, part)
	}
	return strings.Join(out, ";")
}

func param(p *ical.IANAProperty, name ical.Parameter) string {
	if p == nil || p.ICalParameters == nil {
		return ""
	}
	if vs := p.ICalParameters[string(name)]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

func text(ve *ical.VEvent, prop ical.ComponentProperty) string {
	if p := ve.GetProperty(prop); p != nil {
		return strings.TrimSpace(p.Value)
	}
	return ""
}

func clock(t time.Time) *string {
	s := model.Clock{Hour: t.Hour(), Minute: t.Minute()}.String()
	return &s
}

func statusOf(ve *ical.VEvent) model.SeriesStatus {
	switch strings.ToUpper(text(ve, ical.ComponentPropertyStatus)) {
	case string(ical.ObjectStatusCancelled):
		return model.StatusCancelled
	case string(ical.ObjectStatusTentative):
		return model.StatusDraft
	default:
		return model.StatusPublished
	}
}
