package schedule

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuaslong/labor-membership-sub000/internal/model"
)

func strPtr(s string) *string { return &s }

func weeklyMonday() model.EventSeries {
	return model.EventSeries{
		ID:        uuid.MustParse("6a1f3e2c-1111-4c3b-9e55-000000000001"),
		Title:     "General meeting",
		Location:  "Union hall",
		StartDate: model.MustDate("2024-01-01"),
		StartTime: strPtr("18:30"),
		EndTime:   strPtr("20:00"),
		Timezone:  "America/Chicago",
		Rule:      strPtr("FREQ=WEEKLY;INTERVAL=1;BYDAY=MO"),
		Status:    model.StatusPublished,
	}
}

func window(from, to string) Window {
	return Window{From: model.MustDate(from), To: model.MustDate(to)}
}

func dates(res Result) []string {
	out := make([]string, 0, len(res.Occurrences))
	for _, o := range res.Occurrences {
		out = append(out, o.Date.String())
	}
	return out
}

func TestExpandWeeklyMonday(t *testing.T) {
	res, err := Expand(weeklyMonday(), nil, window("2024-01-01", "2024-01-31"))
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-01", "2024-01-08", "2024-01-15", "2024-01-22", "2024-01-29"}, dates(res))
	assert.False(t, res.Truncated)

	first := res.Occurrences[0]
	assert.Equal(t, "General meeting", first.Title)
	assert.Equal(t, 18, first.Start.Hour())
	assert.Equal(t, 30, first.Start.Minute())
	assert.Equal(t, 90*time.Minute, first.End.Sub(first.Start))
	assert.Equal(t, first.SeriesID.String()+"/2024-01-01", first.InstanceKey)
}

func TestExpandMergesOverrides(t *testing.T) {
	s := weeklyMonday()
	overrides := []model.InstanceOverride{
		{SeriesID: s.ID, InstanceDate: model.MustDate("2024-01-15"), Location: strPtr("Library annex")},
		{SeriesID: s.ID, InstanceDate: model.MustDate("2024-01-22"), Cancelled: true},
	}

	res, err := Expand(s, overrides, window("2024-01-01", "2024-01-31"))
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-01", "2024-01-08", "2024-01-15", "2024-01-29"}, dates(res))

	for _, o := range res.Occurrences {
		if o.Date.String() == "2024-01-15" {
			assert.Equal(t, "Library annex", o.Location)
			assert.True(t, o.Overridden)
			assert.Equal(t, "General meeting", o.Title)
		} else {
			assert.Equal(t, "Union hall", o.Location)
			assert.False(t, o.Overridden)
		}
	}
}

func TestExpandOrderedAndInsideWindow(t *testing.T) {
	rules := []string{
		"FREQ=DAILY;INTERVAL=3",
		"FREQ=WEEKLY;BYDAY=MO,WE,FR",
		"FREQ=WEEKLY;INTERVAL=2;BYDAY=TU,SA;COUNT=9",
		"FREQ=MONTHLY;BYDAY=-1FR",
		"FREQ=MONTHLY;INTERVAL=2",
		"FREQ=YEARLY;UNTIL=20300101",
	}
	windows := []Window{
		window("2023-12-01", "2024-01-01"),
		window("2024-02-10", "2024-09-30"),
		window("2024-03-01", "2024-03-01"),
		window("2025-01-01", "2027-12-31"),
	}

	for _, text := range rules {
		for _, w := range windows {
			s := weeklyMonday()
			s.Rule = strPtr(text)
			res, err := Expand(s, nil, w)
			require.NoError(t, err, text)

			for i, o := range res.Occurrences {
				assert.True(t, w.Contains(o.Date), "%s: %s outside %v", text, o.Date, w)
				if i > 0 {
					assert.True(t, res.Occurrences[i-1].Date.Before(o.Date), "%s: not strictly increasing at %s", text, o.Date)
				}
			}
		}
	}
}

func TestExpandCountsFromAnchor(t *testing.T) {
	s := weeklyMonday()
	s.Rule = strPtr("FREQ=WEEKLY;BYDAY=MO;COUNT=5")

	res, err := Expand(s, nil, window("2024-01-20", "2024-03-31"))
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-22", "2024-01-29"}, dates(res))
}

func TestExpandZeroCountIsEmpty(t *testing.T) {
	s := weeklyMonday()
	s.Rule = strPtr("FREQ=WEEKLY;BYDAY=MO;COUNT=0")

	res, err := Expand(s, nil, window("2024-01-01", "2024-12-31"))
	require.NoError(t, err)
	assert.Empty(t, res.Occurrences)

	ok, err := IsMember(s, s.StartDate)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExpandSkipsMissingFifthWeekday(t *testing.T) {
	s := weeklyMonday()
	s.StartDate = model.MustDate("2024-01-29")
	s.Rule = strPtr("FREQ=MONTHLY;BYDAY=MO;BYSETPOS=5")

	res, err := Expand(s, nil, window("2024-01-01", "2024-12-31"))
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-29", "2024-04-29", "2024-07-29", "2024-09-30", "2024-12-30"}, dates(res))
}

func TestExpandHonorsSeriesUntil(t *testing.T) {
	s := weeklyMonday()
	until := model.MustDate("2024-01-15")
	s.SeriesUntil = &until

	res, err := Expand(s, nil, window("2024-01-01", "2024-01-31"))
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-01", "2024-01-08", "2024-01-15"}, dates(res))
}

func TestExpandSingleOccurrence(t *testing.T) {
	s := weeklyMonday()
	s.Rule = nil
	s.StartDate = model.MustDate("2024-01-10")

	res, err := Expand(s, nil, window("2024-01-01", "2024-01-31"))
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-10"}, dates(res))

	res, err = Expand(s, nil, window("2024-02-01", "2024-02-28"))
	require.NoError(t, err)
	assert.Empty(t, res.Occurrences)
}

func TestExpandKeepsWallClockAcrossDST(t *testing.T) {
	s := weeklyMonday()
	s.Timezone = "America/New_York"
	s.StartDate = model.MustDate("2024-03-03")
	s.StartTime = strPtr("09:00")
	s.EndTime = strPtr("10:00")
	s.Rule = strPtr("FREQ=WEEKLY;BYDAY=SU")

	res, err := Expand(s, nil, window("2024-03-01", "2024-03-17"))
	require.NoError(t, err)
	require.Equal(t, []string{"2024-03-03", "2024-03-10", "2024-03-17"}, dates(res))

	for _, o := range res.Occurrences {
		assert.Equal(t, 9, o.Start.Hour(), o.Date.String())
		assert.Equal(t, time.Hour, o.End.Sub(o.Start))
	}
	_, before := res.Occurrences[0].Start.Zone()
	_, after := res.Occurrences[1].Start.Zone()
	assert.Equal(t, -5*3600, before)
	assert.Equal(t, -4*3600, after)
}

func TestExpandAllDaySpansLocalDay(t *testing.T) {
	s := weeklyMonday()
	s.Timezone = "America/New_York"
	s.IsAllDay = true
	s.StartTime, s.EndTime = nil, nil
	s.StartDate = model.MustDate("2024-03-09")
	s.Rule = strPtr("FREQ=DAILY")

	res, err := Expand(s, nil, window("2024-03-10", "2024-03-10"))
	require.NoError(t, err)
	require.Len(t, res.Occurrences, 1)
	o := res.Occurrences[0]
	assert.Equal(t, 0, o.Start.Hour())
	assert.Equal(t, 0, o.End.Hour())
	assert.Equal(t, 23*time.Hour, o.End.Sub(o.Start))
}

func TestExpandEndPastMidnight(t *testing.T) {
	s := weeklyMonday()
	s.StartTime = strPtr("22:00")
	s.EndTime = strPtr("01:00")

	res, err := Expand(s, nil, window("2024-01-01", "2024-01-01"))
	require.NoError(t, err)
	require.Len(t, res.Occurrences, 1)
	assert.Equal(t, 3*time.Hour, res.Occurrences[0].End.Sub(res.Occurrences[0].Start))
}

func TestExpandCap(t *testing.T) {
	s := weeklyMonday()
	s.Rule = strPtr("FREQ=DAILY")

	res, err := ExpandWith(s, nil, ExpandConfig{Window: window("2024-01-01", "2024-12-31"), MaxOccurrences: 10})
	require.NoError(t, err)
	assert.Len(t, res.Occurrences, 10)
	assert.True(t, res.Truncated)
}

func TestExpandRejectsBadInput(t *testing.T) {
	_, err := Expand(weeklyMonday(), nil, window("2024-02-01", "2024-01-01"))
	assert.Error(t, err)

	s := weeklyMonday()
	s.Rule = strPtr("FREQ=WEEKLY;INTERVAL=0")
	_, err = Expand(s, nil, window("2024-01-01", "2024-01-31"))
	assert.Error(t, err)

	s = weeklyMonday()
	s.Timezone = "Mars/Olympus_Mons"
	_, err = Expand(s, nil, window("2024-01-01", "2024-01-31"))
	assert.Error(t, err)
}

func TestValidateInstance(t *testing.T) {
	s := weeklyMonday()
	monday := model.MustDate("2024-01-15")

	ok, err := ValidateInstance(s, nil, monday)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ValidateInstance(s, nil, model.MustDate("2024-01-16"))
	require.NoError(t, err)
	assert.False(t, ok)

	cancelled := &model.InstanceOverride{SeriesID: s.ID, InstanceDate: monday, Cancelled: true}
	ok, err = ValidateInstance(s, cancelled, monday)
	require.NoError(t, err)
	assert.False(t, ok)

	member, err := IsMember(s, monday)
	require.NoError(t, err)
	assert.True(t, member)

	ok, err = ValidateInstance(s, nil, model.MustDate("2023-12-25"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPreviousOccurrence(t *testing.T) {
	s := weeklyMonday()
	s.Rule = strPtr("FREQ=WEEKLY;INTERVAL=2;BYDAY=MO")

	prev, ok, err := PreviousOccurrence(s, model.MustDate("2024-01-29"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2024-01-15", prev.String())

	_, ok, err = PreviousOccurrence(s, s.StartDate)
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := CountBefore(s, model.MustDate("2024-01-29"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestNextOccurrence(t *testing.T) {
	s := weeklyMonday()

	next, ok, err := NextOccurrence(s, model.MustDate("2024-01-10"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2024-01-15", next.String())

	next, ok, err = NextOccurrence(s, model.MustDate("2023-06-01"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2024-01-01", next.String())

	until := model.MustDate("2024-01-12")
	s.SeriesUntil = &until
	_, ok, err = NextOccurrence(s, model.MustDate("2024-01-10"))
	require.NoError(t, err)
	assert.False(t, ok)

	single := weeklyMonday()
	single.Rule = nil
	_, ok, err = NextOccurrence(single, model.MustDate("2024-01-02"))
	require.NoError(t, err)
	assert.False(t, ok)
}
