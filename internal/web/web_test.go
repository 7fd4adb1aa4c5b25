package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuaslong/labor-membership-sub000/internal/auth"
	"github.com/joshuaslong/labor-membership-sub000/internal/model"
	"github.com/joshuaslong/labor-membership-sub000/internal/recurrence"
	"github.com/joshuaslong/labor-membership-sub000/internal/rsvp"
	"github.com/joshuaslong/labor-membership-sub000/internal/schedule"
	"github.com/joshuaslong/labor-membership-sub000/internal/series"
	"github.com/joshuaslong/labor-membership-sub000/internal/store"
	"github.com/joshuaslong/labor-membership-sub000/internal/store/storetest"
)

func init() { gin.SetMode(gin.TestMode) }

var (
	organizer = model.Actor{
		MemberID:  uuid.MustParse("00000000-0000-4000-8000-0000000000aa"),
		ChapterID: "chapter-7",
		Role:      model.RoleOrganizer,
	}
	member = model.Actor{
		MemberID:  uuid.MustParse("00000000-0000-4000-8000-0000000000bb"),
		ChapterID: "chapter-7",
		Role:      model.RoleMember,
	}
)

type harness struct {
	t       *testing.T
	handler http.Handler
	tokens  map[string]string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	v, err := auth.NewVerifier("test-secret")
	require.NoError(t, err)
	srv, err := NewServer(Options{Store: storetest.Open(t), Verifier: v})
	require.NoError(t, err)

	h := &harness{t: t, handler: srv.Handler(), tokens: map[string]string{}}
	for name, a := range map[string]model.Actor{"organizer": organizer, "member": member} {
		tok, err := v.Issue(a, time.Hour)
		require.NoError(t, err)
		h.tokens[name] = tok
	}
	return h
}

// do sends a request as who ("" for anonymous) with body encoded as JSON.
func (h *harness) do(method, path, who string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if who != "" {
		req.Header.Set("Authorization", "Bearer "+h.tokens[who])
	}
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// createWeekly creates a Monday evening series starting 2024-01-01.
func (h *harness) createWeekly(extra map[string]any) seriesView {
	h.t.Helper()
	body := map[string]any{
		"title":      "General meeting",
		"status":     "published",
		"start_date": "2024-01-01",
		"start_time": "18:30",
		"end_time":   "20:00",
		"timezone":   "America/Chicago",
		"preset":     "weekly",
	}
	for k, v := range extra {
		body[k] = v
	}
	w := h.do(http.MethodPost, "/api/series", "organizer", body)
	require.Equal(h.t, http.StatusCreated, w.Code, w.Body.String())
	return decode[seriesView](h.t, w)
}

type occurrenceList struct {
	Occurrences []model.Occurrence `json:"occurrences"`
	Truncated   bool               `json:"truncated"`
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())

	s := h.createWeekly(nil)
	h.do(http.MethodGet, fmt.Sprintf("/api/series/%s/occurrences?from=2024-01-01&to=2024-01-31", s.ID), "", nil)

	w = h.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "chaptercal_occurrences_expanded_total")
}

func TestSeriesLifecycle(t *testing.T) {
	h := newHarness(t)

	s := h.createWeekly(nil)
	require.NotNil(t, s.Rule)
	assert.Equal(t, recurrence.PresetWeekly, s.Preset)
	assert.Equal(t, "Weekly on Monday", s.RuleDescription)
	require.NotNil(t, s.End)
	assert.Equal(t, recurrence.EndNever, s.End.Type)

	w := h.do(http.MethodGet, "/api/series/"+s.ID.String(), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, s.ID, decode[seriesView](t, w).ID)

	jan := fmt.Sprintf("/api/series/%s/occurrences?from=2024-01-01&to=2024-01-31", s.ID)
	w = h.do(http.MethodGet, jan, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[occurrenceList](t, w)
	require.Len(t, list.Occurrences, 5)
	assert.Equal(t, model.MustDate("2024-01-29"), list.Occurrences[4].Date)

	w = h.do(http.MethodPatch, fmt.Sprintf("/api/series/%s/occurrences/2024-01-15", s.ID), "organizer", map[string]any{
		"scope":    "this_and_following",
		"location": "New hall",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[series.Result](t, w)
	require.True(t, res.Split)
	require.NotNil(t, res.NewSeries)
	assert.Equal(t, "New hall", res.NewSeries.Location)

	w = h.do(http.MethodGet, jan, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[occurrenceList](t, w).Occurrences, 2)

	w = h.do(http.MethodGet, fmt.Sprintf("/api/series/%s/occurrences?from=2024-01-01&to=2024-01-31", res.NewSeries.ID), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[occurrenceList](t, w).Occurrences, 3)

	w = h.do(http.MethodGet, "/api/series/"+s.ID.String()+"/calendar.ics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/calendar"))
	assert.Contains(t, w.Body.String(), "BEGIN:VCALENDAR")
	assert.Contains(t, w.Body.String(), "RRULE:")
}

func TestEditChangesEndOnly(t *testing.T) {
	h := newHarness(t)
	s := h.createWeekly(nil)

	w := h.do(http.MethodPatch, fmt.Sprintf("/api/series/%s/occurrences/2024-01-01", s.ID), "organizer", map[string]any{
		"scope": "all",
		"end":   map[string]any{"end_type": "after_count", "count": 3},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = h.do(http.MethodGet, "/api/series/"+s.ID.String(), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	v := decode[seriesView](t, w)
	assert.Equal(t, recurrence.PresetWeekly, v.Preset, "the end is not part of the preset")
	require.NotNil(t, v.End)
	assert.Equal(t, recurrence.End{Type: recurrence.EndAfterCount, Count: 3}, *v.End)

	w = h.do(http.MethodGet, fmt.Sprintf("/api/series/%s/occurrences?from=2024-01-01&to=2024-12-31", s.ID), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[occurrenceList](t, w).Occurrences, 3)
}

func TestErrorStatus(t *testing.T) {
	h := newHarness(t)
	s := h.createWeekly(nil)
	draft := h.createWeekly(map[string]any{"status": "draft"})

	valid := map[string]any{"title": "Picket", "start_date": "2024-02-01", "timezone": "UTC"}
	tests := []struct {
		name   string
		method string
		path   string
		who    string
		body   any
		want   int
	}{
		{"no token", http.MethodPost, "/api/series", "", valid, http.StatusUnauthorized},
		{"member creates", http.MethodPost, "/api/series", "member", valid, http.StatusForbidden},
		{"missing title", http.MethodPost, "/api/series", "organizer", map[string]any{"start_date": "2024-02-01", "timezone": "UTC"}, http.StatusBadRequest},
		{"missing start", http.MethodPost, "/api/series", "organizer", map[string]any{"title": "Picket", "timezone": "UTC"}, http.StatusBadRequest},
		{"bad rule", http.MethodPost, "/api/series", "organizer", map[string]any{"title": "Picket", "start_date": "2024-02-01", "timezone": "UTC", "rule": "FREQ=SOMETIMES"}, http.StatusBadRequest},
		{"rule off start", http.MethodPost, "/api/series", "organizer", map[string]any{"title": "Picket", "start_date": "2024-02-01", "timezone": "UTC", "rule": "FREQ=WEEKLY;BYDAY=MO"}, http.StatusBadRequest},
		{"custom preset", http.MethodPost, "/api/series", "organizer", map[string]any{"title": "Picket", "start_date": "2024-02-01", "timezone": "UTC", "preset": "custom"}, http.StatusBadRequest},
		{"bad zone", http.MethodPost, "/api/series", "organizer", map[string]any{"title": "Picket", "start_date": "2024-02-01", "timezone": "Mars/Olympus"}, http.StatusBadRequest},
		{"bad id", http.MethodGet, "/api/series/not-a-uuid", "", nil, http.StatusBadRequest},
		{"unknown series", http.MethodGet, "/api/series/" + uuid.NewString(), "", nil, http.StatusNotFound},
		{"draft for guest", http.MethodGet, "/api/series/" + draft.ID.String(), "", nil, http.StatusForbidden},
		{"draft for organizer", http.MethodGet, "/api/series/" + draft.ID.String(), "organizer", nil, http.StatusOK},
		{"not an occurrence", http.MethodGet, fmt.Sprintf("/api/series/%s/occurrences/2024-01-02", s.ID), "", nil, http.StatusUnprocessableEntity},
		{"bad date", http.MethodGet, fmt.Sprintf("/api/series/%s/occurrences/January", s.ID), "", nil, http.StatusBadRequest},
		{"window backwards", http.MethodGet, fmt.Sprintf("/api/series/%s/occurrences?from=2024-02-01&to=2024-01-01", s.ID), "", nil, http.StatusBadRequest},
		{"window missing", http.MethodGet, fmt.Sprintf("/api/series/%s/occurrences", s.ID), "", nil, http.StatusBadRequest},
		{"rule at scope this", http.MethodPatch, fmt.Sprintf("/api/series/%s/occurrences/2024-01-08", s.ID), "organizer", map[string]any{"scope": "this", "rule": "FREQ=DAILY"}, http.StatusBadRequest},
		{"unknown scope", http.MethodPatch, fmt.Sprintf("/api/series/%s/occurrences/2024-01-08", s.ID), "organizer", map[string]any{"scope": "sometimes"}, http.StatusBadRequest},
		{"edit off pattern", http.MethodPatch, fmt.Sprintf("/api/series/%s/occurrences/2024-01-09", s.ID), "organizer", map[string]any{"scope": "this", "title": "Moved"}, http.StatusUnprocessableEntity},
		{"member edits", http.MethodPatch, fmt.Sprintf("/api/series/%s/occurrences/2024-01-08", s.ID), "member", map[string]any{"scope": "this", "title": "Mine"}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := h.do(tt.method, tt.path, tt.who, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}

	w := h.do(http.MethodGet, fmt.Sprintf("/api/series/%s/occurrences/2024-01-02", s.ID), "", nil)
	assert.Equal(t, "that date is no longer part of this event", decode[map[string]string](t, w)["error"])
}

func TestRsvpFlow(t *testing.T) {
	h := newHarness(t)
	s := h.createWeekly(map[string]any{"max_attendees": 1})
	path := fmt.Sprintf("/api/series/%s/occurrences/2024-01-08/rsvp", s.ID)

	w := h.do(http.MethodPut, path, "", map[string]any{"status": "attending", "guest_email": " Ally@Example.org "})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decode[struct {
		Rsvp     model.RsvpRecord `json:"rsvp"`
		Capacity rsvp.Capacity    `json:"capacity"`
	}](t, w)
	require.NotNil(t, got.Rsvp.GuestEmail)
	assert.Equal(t, "ally@example.org", *got.Rsvp.GuestEmail)
	assert.EqualValues(t, 1, got.Capacity.Attending)
	assert.True(t, got.Capacity.Full)

	w = h.do(http.MethodPut, path, "", map[string]any{"status": "attending"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "a guest must give an e-mail")
	w = h.do(http.MethodPut, path, "", map[string]any{"status": "sure", "guest_email": "ally@example.org"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = h.do(http.MethodPut, fmt.Sprintf("/api/series/%s/occurrences/2024-01-09/rsvp", s.ID), "", map[string]any{"status": "maybe", "guest_email": "ally@example.org"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	// A signed-in member answers for themself by default.
	w = h.do(http.MethodPut, path, "member", map[string]any{"status": "maybe"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = h.do(http.MethodPut, path, "member", map[string]any{"status": "maybe", "member_id": organizer.MemberID})
	assert.Equal(t, http.StatusForbidden, w.Code)

	list := fmt.Sprintf("/api/series/%s/occurrences/2024-01-08/rsvps", s.ID)
	w = h.do(http.MethodGet, list, "member", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = h.do(http.MethodGet, list, "organizer", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode[map[string]any](t, w)["count"])

	w = h.do(http.MethodGet, list+"?status=attending", "organizer", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode[map[string]any](t, w)["count"])

	w = h.do(http.MethodDelete, path+"?guest_email=ally@example.org", "", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = h.do(http.MethodGet, fmt.Sprintf("/api/series/%s/occurrences/2024-01-08", s.ID), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	occ := decode[struct {
		Capacity rsvp.Capacity `json:"capacity"`
	}](t, w)
	assert.EqualValues(t, 0, occ.Capacity.Attending)
	assert.EqualValues(t, 1, occ.Capacity.Maybe)
	assert.False(t, occ.Capacity.Full)
}

func TestCancelledOccurrenceRejectsRsvp(t *testing.T) {
	h := newHarness(t)
	s := h.createWeekly(nil)

	w := h.do(http.MethodPatch, fmt.Sprintf("/api/series/%s/occurrences/2024-01-08", s.ID), "organizer", map[string]any{
		"scope":     "this",
		"cancelled": true,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = h.do(http.MethodPut, fmt.Sprintf("/api/series/%s/occurrences/2024-01-08/rsvp", s.ID), "", map[string]any{"status": "attending", "guest_email": "ally@example.org"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = h.do(http.MethodGet, fmt.Sprintf("/api/series/%s/occurrences?from=2024-01-01&to=2024-01-14", s.ID), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[occurrenceList](t, w).Occurrences, 1)
}

func TestDescribeEndpoint(t *testing.T) {
	h := newHarness(t)

	q := url.Values{"rule": {"FREQ=WEEKLY;BYDAY=MO;COUNT=12"}, "anchor": {"2024-01-01"}}
	w := h.do(http.MethodGet, "/api/rules/describe?"+q.Encode(), "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decode[map[string]any](t, w)
	assert.Equal(t, "Weekly on Monday, 12 times", got["description"])
	assert.Equal(t, "weekly", got["preset"])

	w = h.do(http.MethodGet, "/api/rules/describe", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = h.do(http.MethodGet, "/api/rules/describe?rule=FREQ%3DHOURLY", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestClassify(t *testing.T) {
	id := uuid.New()
	tests := []struct {
		err  error
		want int
	}{
		{&schedule.InvalidInstanceError{SeriesID: id}, http.StatusUnprocessableEntity},
		{fmt.Errorf("edit: %w", &series.ConcurrentModificationError{SeriesID: id}), http.StatusConflict},
		{&series.DataIntegrityError{SeriesID: id}, http.StatusLocked},
		{store.ErrIntegrityHold, http.StatusLocked},
		{fmt.Errorf("load: %w", store.ErrNotFound), http.StatusNotFound},
		{auth.ErrForbidden, http.StatusForbidden},
		{&recurrence.InvalidRuleError{}, http.StatusBadRequest},
		{&recurrence.UnsupportedRuleError{}, http.StatusBadRequest},
		{series.ErrScope, http.StatusBadRequest},
		{rsvp.ErrInvalidAttendee, http.StatusBadRequest},
		{badRequest("nope"), http.StatusBadRequest},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		got, _ := classify(tt.err)
		assert.Equal(t, tt.want, got, tt.err.Error())
	}

	_, msg := classify(errors.New("disk on fire"))
	assert.Equal(t, "internal error", msg)
}
