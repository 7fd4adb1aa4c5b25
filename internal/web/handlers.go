package web

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/joshuaslong/labor-membership-sub000/internal/auth"
	"github.com/joshuaslong/labor-membership-sub000/internal/ics"
	"github.com/joshuaslong/labor-membership-sub000/internal/model"
	"github.com/joshuaslong/labor-membership-sub000/internal/recurrence"
	"github.com/joshuaslong/labor-membership-sub000/internal/rsvp"
	"github.com/joshuaslong/labor-membership-sub000/internal/schedule"
	"github.com/joshuaslong/labor-membership-sub000/internal/series"
)

// ruleInput is how clients describe a rule: raw text, or a preset expanded
// against the anchor date. End overrides the end condition of either.
type ruleInput struct {
	Rule   *string         `json:"rule"`
	Preset *string         `json:"preset"`
	End    *recurrence.End `json:"end"`
}

// resolve returns the requested rule, or nil when none was given. current is
// the stored rule text an end-only change applies to.
func (in ruleInput) resolve(anchor model.Date, current *string) (*recurrence.Rule, error) {
	var (
		r   recurrence.Rule
		err error
	)
	switch {
	case in.Rule != nil:
		r, err = recurrence.Parse(*in.Rule)
	case in.Preset != nil:
		p, perr := recurrence.ParsePreset(*in.Preset)
		if perr != nil {
			return nil, badRequest("%v", perr)
		}
		if r, err = recurrence.FromPreset(p, anchor); err != nil {
			return nil, badRequest("%v", err)
		}
	case in.End != nil:
		if current == nil || *current == "" {
			return nil, badRequest("end needs a rule or preset")
		}
		r, err = recurrence.Parse(*current)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if in.End != nil {
		r.End = *in.End
	}
	r, err = recurrence.Validate(r)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// seriesView is a series plus its rule as the edit form shows it.
type seriesView struct {
	model.EventSeries
	RuleDescription string            `json:"rule_description"`
	Preset          recurrence.Preset `json:"preset"`
	End             *recurrence.End   `json:"end,omitempty"`
}

func viewOf(s model.EventSeries) (seriesView, error) {
	v := seriesView{EventSeries: s, RuleDescription: "Does not repeat"}
	if !s.Recurring() {
		return v, nil
	}
	r, err := recurrence.Parse(*s.Rule)
	if err != nil {
		return v, err
	}
	v.RuleDescription = recurrence.Describe(r)
	v.Preset = recurrence.Detect(&r, s.StartDate)
	v.End = &r.End
	return v, nil
}

// handleDescribe renders a rule for the edit form without storing anything.
func (s *Server) handleDescribe(c *gin.Context) {
	text := c.Query("rule")
	if text == "" {
		fail(c, badRequest("rule is required"))
		return
	}
	r, err := recurrence.Parse(text)
	if err != nil {
		fail(c, err)
		return
	}
	out := gin.H{
		"rule":        recurrence.MustSerialize(r),
		"description": recurrence.Describe(r),
		"end":         r.End,
	}
	if a := c.Query("anchor"); a != "" {
		anchor, err := model.ParseDate(a)
		if err != nil {
			fail(c, badRequest("%v", err))
			return
		}
		aligned := recurrence.Align(r, anchor)
		out["preset"] = recurrence.Detect(&r, anchor)
		out["aligned_rule"] = recurrence.MustSerialize(aligned)
	}
	c.JSON(http.StatusOK, out)
}

// viewable loads series id and checks the caller may see it.
func (s *Server) viewable(c *gin.Context, id uuid.UUID) (model.EventSeries, error) {
	sr, err := s.store.GetSeries(c.Request.Context(), id)
	if err != nil {
		return sr, err
	}
	return sr, s.authz.CanView(auth.ActorFrom(c), sr)
}

func (s *Server) handleGetSeries(c *gin.Context) {
	id, err := seriesID(c)
	if err != nil {
		fail(c, err)
		return
	}
	sr, err := s.viewable(c, id)
	if err != nil {
		fail(c, err)
		return
	}
	v, err := viewOf(sr)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) handleOccurrences(c *gin.Context) {
	id, err := seriesID(c)
	if err != nil {
		fail(c, err)
		return
	}
	var w schedule.Window
	if w.From, err = model.ParseDate(c.Query("from")); err != nil {
		fail(c, badRequest("from: %v", err))
		return
	}
	if w.To, err = model.ParseDate(c.Query("to")); err != nil {
		fail(c, badRequest("to: %v", err))
		return
	}
	if err := w.Validate(); err != nil {
		fail(c, badRequest("%v", err))
		return
	}

	sr, err := s.viewable(c, id)
	if err != nil {
		fail(c, err)
		return
	}
	res, err := s.materializer.ExpandSeries(c.Request.Context(), sr, w)
	if err != nil {
		fail(c, err)
		return
	}
	occ := res.Occurrences
	if occ == nil {
		occ = []model.Occurrence{}
	}
	c.JSON(http.StatusOK, gin.H{
		"series_id":   sr.ID,
		"occurrences": occ,
		"truncated":   res.Truncated,
	})
}

func (s *Server) handleOccurrence(c *gin.Context) {
	id, d, err := occurrencePath(c)
	if err != nil {
		fail(c, err)
		return
	}
	sr, err := s.viewable(c, id)
	if err != nil {
		fail(c, err)
		return
	}
	_, occ, err := s.materializer.Occurrence(c.Request.Context(), sr.ID, d)
	if err != nil {
		fail(c, err)
		return
	}
	capacity, err := s.ledger.Capacity(c.Request.Context(), sr.ID, d)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"occurrence": occ, "capacity": capacity})
}

func (s *Server) handleCalendar(c *gin.Context) {
	id, err := seriesID(c)
	if err != nil {
		fail(c, err)
		return
	}
	sr, err := s.viewable(c, id)
	if err != nil {
		fail(c, err)
		return
	}
	overrides, err := s.store.ListOverrides(c.Request.Context(), sr.ID, model.Date{}, model.Date{})
	if err != nil {
		fail(c, err)
		return
	}

	feed := ics.NewFeed(sr.Title, time.Now())
	if err := feed.Add(sr, overrides); err != nil {
		fail(c, err)
		return
	}
	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "text/calendar; charset=utf-8", []byte(feed.Serialize()))
}

type createRequest struct {
	ruleInput

	ChapterID    string             `json:"chapter_id" binding:"max=64"`
	Title        string             `json:"title" binding:"required,max=200"`
	Description  string             `json:"description"`
	Location     string             `json:"location"`
	Audience     string             `json:"audience"`
	Visibility   string             `json:"visibility"`
	MaxAttendees *int               `json:"max_attendees" binding:"omitempty,min=0"`
	Status       model.SeriesStatus `json:"status" binding:"omitempty,oneof=draft published cancelled"`

	StartDate   model.Date  `json:"start_date"`
	StartTime   *string     `json:"start_time"`
	EndTime     *string     `json:"end_time"`
	Timezone    string      `json:"timezone" binding:"required"`
	IsAllDay    bool        `json:"is_all_day"`
	SeriesUntil *model.Date `json:"series_until"`
}

func (s *Server) handleCreate(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, badRequest("%v", err))
		return
	}
	if req.StartDate.IsZero() {
		fail(c, badRequest("start_date is required"))
		return
	}
	rule, err := req.resolve(req.StartDate, nil)
	if err != nil {
		fail(c, err)
		return
	}

	sr, err := s.editor.Create(c.Request.Context(), auth.ActorFrom(c), series.Draft{
		ChapterID:    req.ChapterID,
		Title:        req.Title,
		Description:  req.Description,
		Location:     req.Location,
		Audience:     req.Audience,
		Visibility:   req.Visibility,
		MaxAttendees: req.MaxAttendees,
		Status:       req.Status,
		StartDate:    req.StartDate,
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
		Timezone:     req.Timezone,
		IsAllDay:     req.IsAllDay,
		Rule:         rule,
		SeriesUntil:  req.SeriesUntil,
	})
	if err != nil {
		fail(c, err)
		return
	}
	v, err := viewOf(sr)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, v)
}

type editRequest struct {
	ruleInput

	Scope string `json:"scope" binding:"required"`

	Title        *string             `json:"title" binding:"omitempty,max=200"`
	Description  *string             `json:"description"`
	Location     *string             `json:"location"`
	Audience     *string             `json:"audience"`
	Visibility   *string             `json:"visibility"`
	MaxAttendees *int                `json:"max_attendees" binding:"omitempty,min=0"`
	Status       *model.SeriesStatus `json:"status" binding:"omitempty,oneof=draft published cancelled"`

	StartTime *string `json:"start_time"`
	EndTime   *string `json:"end_time"`
	IsAllDay  *bool   `json:"is_all_day"`
	Timezone  *string `json:"timezone"`

	ClearRule bool        `json:"clear_rule"`
	StartDate *model.Date `json:"start_date"`
	Cancelled *bool       `json:"cancelled"`
}

// handleEdit applies a scoped edit to the occurrence named by the path.
func (s *Server) handleEdit(c *gin.Context) {
	id, d, err := occurrencePath(c)
	if err != nil {
		fail(c, err)
		return
	}
	var req editRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, badRequest("%v", err))
		return
	}
	scope, err := series.ParseScope(req.Scope)
	if err != nil {
		fail(c, err)
		return
	}

	ch := series.Changes{
		Title:        req.Title,
		Description:  req.Description,
		Location:     req.Location,
		Audience:     req.Audience,
		Visibility:   req.Visibility,
		MaxAttendees: req.MaxAttendees,
		Status:       req.Status,
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
		IsAllDay:     req.IsAllDay,
		Timezone:     req.Timezone,
		ClearRule:    req.ClearRule,
		StartDate:    req.StartDate,
		Cancelled:    req.Cancelled,
	}

	if req.Rule != nil || req.Preset != nil || req.End != nil {
		current, err := s.store.GetSeries(c.Request.Context(), id)
		if err != nil {
			fail(c, err)
			return
		}
		// A following edit starts the new pattern at the path date.
		anchor := d
		if scope != series.ScopeFollowing {
			anchor = current.StartDate
			if req.StartDate != nil {
				anchor = *req.StartDate
			}
		}
		if ch.Rule, err = req.resolve(anchor, current.Rule); err != nil {
			fail(c, err)
			return
		}
	}

	res, err := s.editor.Edit(c.Request.Context(), auth.ActorFrom(c), series.Request{
		SeriesID:     id,
		InstanceDate: d,
		Scope:        scope,
		Changes:      ch,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type rsvpRequest struct {
	Status     model.RsvpStatus `json:"status" binding:"required,oneof=attending maybe declined"`
	GuestEmail string           `json:"guest_email"`
	MemberID   *uuid.UUID       `json:"member_id"`
}

// attendee picks who the RSVP is for: an explicit guest e-mail, an explicit
// member, or the signed-in caller.
func attendee(c *gin.Context, guestEmail string, memberID *uuid.UUID) (rsvp.Attendee, error) {
	switch {
	case guestEmail != "":
		return rsvp.Guest(guestEmail)
	case memberID != nil:
		return rsvp.Member(*memberID)
	}
	actor := auth.ActorFrom(c)
	if actor.Anonymous() {
		return rsvp.Attendee{}, badRequest("guest_email is required when not signed in")
	}
	return rsvp.Member(actor.MemberID)
}

func (s *Server) handleSetRsvp(c *gin.Context) {
	id, d, err := occurrencePath(c)
	if err != nil {
		fail(c, err)
		return
	}
	var req rsvpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, badRequest("%v", err))
		return
	}
	who, err := attendee(c, req.GuestEmail, req.MemberID)
	if err != nil {
		fail(c, err)
		return
	}
	rec, err := s.ledger.Set(c.Request.Context(), auth.ActorFrom(c), id, d, who, req.Status)
	if err != nil {
		fail(c, err)
		return
	}
	capacity, err := s.ledger.Capacity(c.Request.Context(), id, d)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rsvp": rec, "capacity": capacity})
}

func (s *Server) handleUnsetRsvp(c *gin.Context) {
	id, d, err := occurrencePath(c)
	if err != nil {
		fail(c, err)
		return
	}
	var memberID *uuid.UUID
	if raw := c.Query("member_id"); raw != "" {
		m, err := uuid.Parse(raw)
		if err != nil {
			fail(c, badRequest("invalid member_id %q", raw))
			return
		}
		memberID = &m
	}
	who, err := attendee(c, c.Query("guest_email"), memberID)
	if err != nil {
		fail(c, err)
		return
	}
	if err := s.ledger.Unset(c.Request.Context(), auth.ActorFrom(c), id, d, who); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleListRsvps is the organizer's attendee list.
func (s *Server) handleListRsvps(c *gin.Context) {
	id, d, err := occurrencePath(c)
	if err != nil {
		fail(c, err)
		return
	}
	sr, err := s.store.GetSeries(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	if err := s.authz.CanEdit(auth.ActorFrom(c), sr); err != nil {
		fail(c, err)
		return
	}
	if _, _, err := s.materializer.Occurrence(c.Request.Context(), id, d); err != nil {
		fail(c, err)
		return
	}

	rows, err := s.ledger.List(c.Request.Context(), id, d, model.RsvpStatus(c.Query("status")))
	if err != nil {
		fail(c, err)
		return
	}
	if rows == nil {
		rows = []model.RsvpRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(rows), "rsvps": rows})
}
