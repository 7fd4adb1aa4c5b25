package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type SeriesStatus string

const (
	StatusDraft     SeriesStatus = "draft"
	StatusPublished SeriesStatus = "published"
	StatusCancelled SeriesStatus = "cancelled"
)

func (s SeriesStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusPublished, StatusCancelled:
		return true
	}
	return false
}

type RsvpStatus string

const (
	RsvpAttending RsvpStatus = "attending"
	RsvpMaybe     RsvpStatus = "maybe"
	RsvpDeclined  RsvpStatus = "declined"
)

func (s RsvpStatus) Valid() bool {
	switch s {
	case RsvpAttending, RsvpMaybe, RsvpDeclined:
		return true
	}
	return false
}

// EventSeries represents one logical recurring (or single) event before
// expansion. Rule is the canonical recurrence text; nil means the series has
// exactly one occurrence on StartDate.
type EventSeries struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	ChapterID string    `json:"chapter_id" gorm:"type:varchar(64);index"`

	Title        string       `json:"title" gorm:"not null"`
	Description  string       `json:"description"`
	Location     string       `json:"location"`
	Audience     string       `json:"audience"`
	Visibility   string       `json:"visibility"`
	MaxAttendees *int         `json:"max_attendees"`
	Status       SeriesStatus `json:"status" gorm:"type:varchar(16);not null"`

	// Temporal anchor. StartTime/EndTime are "HH:MM" in Timezone, nil when
	// IsAllDay is set.
	StartDate Date    `json:"start_date" gorm:"type:date;not null"`
	StartTime *string `json:"start_time" gorm:"type:varchar(5)"`
	EndTime   *string `json:"end_time" gorm:"type:varchar(5)"`
	Timezone  string  `json:"timezone" gorm:"type:varchar(64);not null"`
	IsAllDay  bool    `json:"is_all_day"`

	Rule        *string `json:"rule" gorm:"type:text"`
	SeriesUntil *Date   `json:"series_until" gorm:"type:date"`

	// SplitFromID points at the series this one was split from.
	SplitFromID *uuid.UUID `json:"split_from_id,omitempty" gorm:"type:uuid;index"`

	// Version is bumped on every series row write and checked on commit.
	Version       int  `json:"version" gorm:"not null"`
	IntegrityHold bool `json:"integrity_hold"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (EventSeries) TableName() string { return "event_series" }

func (s *EventSeries) BeforeCreate(_ *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Version == 0 {
		s.Version = 1
	}
	if s.Status == "" {
		s.Status = StatusDraft
	}
	return nil
}

// Recurring reports whether the series carries a rule.
func (s EventSeries) Recurring() bool {
	return s.Rule != nil && *s.Rule != ""
}

// InstanceOverride is a per-occurrence exception. Nil payload fields inherit
// from the series.
type InstanceOverride struct {
	ID           uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	SeriesID     uuid.UUID `json:"series_id" gorm:"type:uuid;not null;uniqueIndex:ux_override_series_date"`
	InstanceDate Date      `json:"instance_date" gorm:"type:date;not null;uniqueIndex:ux_override_series_date"`
	Cancelled    bool      `json:"cancelled"`

	Title        *string       `json:"title,omitempty"`
	Description  *string       `json:"description,omitempty"`
	Location     *string       `json:"location,omitempty"`
	StartTime    *string       `json:"start_time,omitempty" gorm:"type:varchar(5)"`
	EndTime      *string       `json:"end_time,omitempty" gorm:"type:varchar(5)"`
	IsAllDay     *bool         `json:"is_all_day,omitempty"`
	MaxAttendees *int          `json:"max_attendees,omitempty"`
	Status       *SeriesStatus `json:"status,omitempty" gorm:"type:varchar(16)"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (o *InstanceOverride) BeforeCreate(_ *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// RsvpRecord is attendance for one attendee at one occurrence. Exactly one
// of MemberID and GuestEmail is set; AttendeeKey namespaces them so a member
// id can never collide with a guest email.
type RsvpRecord struct {
	ID           uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	SeriesID     uuid.UUID  `json:"series_id" gorm:"type:uuid;not null;uniqueIndex:ux_rsvp_attendee"`
	InstanceDate Date       `json:"instance_date" gorm:"type:date;not null;uniqueIndex:ux_rsvp_attendee"`
	AttendeeKey  string     `json:"-" gorm:"type:varchar(330);not null;uniqueIndex:ux_rsvp_attendee"`
	MemberID     *uuid.UUID `json:"member_id,omitempty" gorm:"type:uuid;index"`
	GuestEmail   *string    `json:"guest_email,omitempty" gorm:"type:varchar(320)"`
	Status       RsvpStatus `json:"status" gorm:"type:varchar(16);not null"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r *RsvpRecord) BeforeCreate(_ *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// Occurrence represents a single concrete instance of a series after
// expansion, with override fields already merged in.
type Occurrence struct {
	SeriesID uuid.UUID `json:"series_id"`
	Date     Date      `json:"date"`

	// InstanceKey uniquely identifies the occurrence across series.
	InstanceKey string `json:"instance_key"`

	Title        string       `json:"title"`
	Description  string       `json:"description"`
	Location     string       `json:"location"`
	Audience     string       `json:"audience"`
	Visibility   string       `json:"visibility"`
	MaxAttendees *int         `json:"max_attendees"`
	Status       SeriesStatus `json:"status"`

	AllDay    bool    `json:"all_day"`
	StartTime *string `json:"start_time"`
	EndTime   *string `json:"end_time"`

	// Start / End are resolved in the series timezone.
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	Overridden bool `json:"overridden"`
}
