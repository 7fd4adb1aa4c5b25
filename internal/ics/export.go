// Package ics moves series in and out of iCalendar: a series becomes one
// VEVENT with its RRULE, cancelled dates become EXDATEs and edited dates
// become RECURRENCE-ID events.
package ics

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"github.com/joshuaslong/labor-membership-sub000/internal/model"
	"github.com/joshuaslong/labor-membership-sub000/internal/recurrence"
	"github.com/joshuaslong/labor-membership-sub000/internal/schedule"
)

const (
	prodID = "-//chaptercal//recurring events//EN"

	uidSuffix = "@chaptercal"

	layoutDate     = "20060102"
	layoutLocal    = "20060102T150405"
	layoutUTC      = "20060102T150405Z"
	propRecurrence = ical.ComponentProperty("RECURRENCE-ID")
)

// UID is the iCalendar UID of a series.
func UID(id uuid.UUID) string {
	return id.String() + uidSuffix
}

// Feed collects series into one VCALENDAR.
type Feed struct {
	cal   *ical.Calendar
	stamp time.Time
}

// NewFeed starts an empty calendar. stamp becomes DTSTAMP of every event.
func NewFeed(name string, stamp time.Time) *Feed {
	cal := ical.NewCalendar()
	cal.SetProductId(prodID)
	cal.SetMethod(ical.MethodPublish)
	if name != "" {
		cal.SetXWRCalName(name)
	}
	return &Feed{cal: cal, stamp: stamp.UTC()}
}

// Add writes s with its overrides. A series whose rule generates nothing is
// left out.
func (f *Feed) Add(s model.EventSeries, overrides []model.InstanceOverride) error {
	var rrule string
	if s.Recurring() {
		rule, err := recurrence.Parse(*s.Rule)
		if err != nil {
			return err
		}
		if rule.Empty() {
			return nil
		}
		if rrule, err = exportRule(s, rule); err != nil {
			return err
		}
	}

	first, err := schedule.Resolve(s, s.StartDate, nil)
	if err != nil {
		return err
	}

	ev := f.cal.AddEvent(UID(s.ID))
	f.fill(ev, first, s.Timezone)
	ev.SetProperty(ical.ComponentPropertySequence, strconv.Itoa(s.Version))
	if rrule != "" {
		ev.AddRrule(rrule)
	}

	overrides = slices.Clone(overrides)
	slices.SortFunc(overrides, func(a, b model.InstanceOverride) int {
		return a.InstanceDate.Compare(b.InstanceDate)
	})
	for i := range overrides {
		ov := &overrides[i]
		member, err := schedule.IsMember(s, ov.InstanceDate)
		if err != nil {
			return err
		}
		if !member {
			continue
		}
		orig, err := schedule.Resolve(s, ov.InstanceDate, nil)
		if err != nil {
			return err
		}
		if ov.Cancelled {
			ev.AddProperty(ical.ComponentPropertyExdate, formatTime(orig.Start, s.IsAllDay, s.Timezone), timeParams(s.IsAllDay, s.Timezone)...)
			continue
		}

		occ, err := schedule.Resolve(s, ov.InstanceDate, ov)
		if err != nil {
			return err
		}
		oe := f.cal.AddEvent(UID(s.ID))
		oe.SetProperty(propRecurrence, formatTime(orig.Start, s.IsAllDay, s.Timezone), timeParams(s.IsAllDay, s.Timezone)...)
		f.fill(oe, occ, s.Timezone)
	}
	return nil
}

func (f *Feed) Serialize() string {
	return f.cal.Serialize()
}

func (f *Feed) fill(ev *ical.VEvent, occ model.Occurrence, zone string) {
	ev.SetDtStampTime(f.stamp)
	ev.SetSummary(occ.Title)
	if occ.Description != "" {
		ev.SetDescription(occ.Description)
	}
	if occ.Location != "" {
		ev.SetLocation(occ.Location)
	}
	ev.SetStatus(objectStatus(occ.Status))
	ev.SetProperty(ical.ComponentPropertyDtStart, formatTime(occ.Start, occ.AllDay, zone), timeParams(occ.AllDay, zone)...)
	ev.SetProperty(ical.ComponentPropertyDtEnd, formatTime(occ.End, occ.AllDay, zone), timeParams(occ.AllDay, zone)...)
}

// exportRule renders the rule with series_until folded in. RFC 5545 wants
// UNTIL as a UTC instant when DTSTART carries a zone.
func exportRule(s model.EventSeries, rule recurrence.Rule) (string, error) {
	end := rule.End
	if s.SeriesUntil != nil {
		switch end.Type {
		case recurrence.EndAfterCount:
			n, err := schedule.CountBefore(s, s.SeriesUntil.AddDays(1))
			if err != nil {
				return "", err
			}
			end.Count = min(end.Count, n)
		case recurrence.EndOnDate:
			if s.SeriesUntil.Before(end.Date) {
				end.Date = *s.SeriesUntil
			}
		default:
			end = recurrence.End{Type: recurrence.EndOnDate, Date: *s.SeriesUntil}
		}
	}

	base := rule
	base.End = recurrence.End{Type: recurrence.EndNever}
	if end.Type == recurrence.EndAfterCount {
		base.End = end
	}
	text, err := recurrence.Serialize(base)
	if err != nil {
		return "", err
	}
	if end.Type != recurrence.EndOnDate {
		return text, nil
	}

	if s.IsAllDay {
		return text + ";UNTIL=" + end.Date.At(0, 0, time.UTC).Format(layoutDate), nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return "", fmt.Errorf("series timezone %q: %w", s.Timezone, err)
	}
	last := end.Date.AddDays(1).At(0, 0, loc).Add(-time.Second)
	return text + ";UNTIL=" + last.UTC().Format(layoutUTC), nil
}

func formatTime(t time.Time, allDay bool, zone string) string {
	switch {
	case allDay:
		return t.Format(layoutDate)
	case zone == "" || strings.EqualFold(zone, "UTC"):
		return t.UTC().Format(layoutUTC)
	default:
		return t.Format(layoutLocal)
	}
}

func timeParams(allDay bool, zone string) []ical.PropertyParameter {
	switch {
	case allDay:
		return []ical.PropertyParameter{&ical.KeyValues{Key: string(ical.ParameterValue), Value: []string{"DATE"}}}
	case zone == "" || strings.EqualFold(zone, "UTC"):
		return nil
	default:
		return []ical.PropertyParameter{&ical.KeyValues{Key: string(ical.ParameterTzid), Value: []string{zone}}}
	}
}

func objectStatus(s model.SeriesStatus) ical.ObjectStatus {
	switch s {
	case model.StatusCancelled:
		return ical.ObjectStatusCancelled
	case model.StatusDraft:
		return ical.ObjectStatusTentative
	default:
		return ical.ObjectStatusConfirmed
	}
}
