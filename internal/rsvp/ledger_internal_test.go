package rsvp

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuaslong/labor-membership-sub000/internal/auth"
	"github.com/joshuaslong/labor-membership-sub000/internal/model"
	"github.com/joshuaslong/labor-membership-sub000/internal/schedule"
	"github.com/joshuaslong/labor-membership-sub000/internal/series"
	"github.com/joshuaslong/labor-membership-sub000/internal/store/storetest"
)

// A guest answers for 2024-01-22 on the series they loaded, while an
// organizer splits it at 2024-01-15. The split lands first.
func TestRsvpLosesToSplit(t *testing.T) {
	st := storetest.Open(t)
	ctx := context.Background()
	editor := series.NewEditor(st, auth.ChapterPolicy{})
	l := NewLedger(st, auth.ChapterPolicy{})
	organizer := model.Actor{
		MemberID:  uuid.MustParse("00000000-0000-4000-8000-000000000001"),
		ChapterID: "chapter-7",
		Role:      model.RoleOrganizer,
	}

	rule := "FREQ=WEEKLY;INTERVAL=1;BYDAY=MO"
	s := model.EventSeries{
		ChapterID: "chapter-7",
		Title:     "General meeting",
		StartDate: model.MustDate("2024-01-01"),
		Timezone:  "America/Chicago",
		Rule:      &rule,
		Status:    model.StatusPublished,
	}
	require.NoError(t, st.CreateSeries(ctx, &s))

	stale, err := st.GetSeries(ctx, s.ID)
	require.NoError(t, err)
	d := model.MustDate("2024-01-22")
	ok, err := schedule.ValidateWith(ctx, st, stale, d)
	require.NoError(t, err)
	require.True(t, ok)

	res, err := editor.Edit(ctx, organizer, series.Request{
		SeriesID:     s.ID,
		InstanceDate: model.MustDate("2024-01-15"),
		Scope:        series.ScopeFollowing,
		Changes:      series.Changes{Location: ptr("Union hall")},
	})
	require.NoError(t, err)
	require.True(t, res.Split)
	child := *res.NewSeries

	guest, err := Guest("late@example.org")
	require.NoError(t, err)
	_, err = l.write(ctx, stale, d, guest, model.RsvpAttending)
	var conflict *series.ConcurrentModificationError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, s.ID, conflict.SeriesID)

	row, err := st.GetRsvp(ctx, s.ID, d, guest.Key())
	require.NoError(t, err)
	assert.Nil(t, row, "nothing was written to the truncated series")

	require.NoError(t, editor.CheckIntegrity(ctx, child.ID))
	for _, id := range []uuid.UUID{s.ID, child.ID} {
		cur, err := st.GetSeries(ctx, id)
		require.NoError(t, err)
		assert.False(t, cur.IntegrityHold)
	}

	// Retrying against fresh state gives the right answer on each side.
	_, err = l.Set(ctx, model.Actor{}, s.ID, d, guest, model.RsvpAttending)
	var invalid *schedule.InvalidInstanceError
	assert.ErrorAs(t, err, &invalid)

	rec, err := l.Set(ctx, model.Actor{}, child.ID, d, guest, model.RsvpAttending)
	require.NoError(t, err)
	assert.Equal(t, child.ID, rec.SeriesID)
}

// Answering bumps the series version, so an edit built on the same read
// afterwards is refused too.
func TestRsvpWriteBumpsVersion(t *testing.T) {
	st := storetest.Open(t)
	ctx := context.Background()
	l := NewLedger(st, auth.ChapterPolicy{})

	s := model.EventSeries{
		ChapterID: "chapter-7",
		Title:     "Phone bank",
		StartDate: model.MustDate("2024-03-02"),
		Timezone:  "UTC",
		Status:    model.StatusPublished,
	}
	require.NoError(t, st.CreateSeries(ctx, &s))

	guest, err := Guest("caller@example.org")
	require.NoError(t, err)
	_, err = l.write(ctx, s, s.StartDate, guest, model.RsvpMaybe)
	require.NoError(t, err)

	cur, err := st.GetSeries(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.Version+1, cur.Version)

	_, err = l.write(ctx, s, s.StartDate, guest, model.RsvpAttending)
	var conflict *series.ConcurrentModificationError
	assert.ErrorAs(t, err, &conflict)
}

func ptr[T any](v T) *T { return &v }
