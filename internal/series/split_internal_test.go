package series

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuaslong/labor-membership-sub000/internal/auth"
	"github.com/joshuaslong/labor-membership-sub000/internal/model"
	"github.com/joshuaslong/labor-membership-sub000/internal/recurrence"
	"github.com/joshuaslong/labor-membership-sub000/internal/store/storetest"
)

// Two organizers open the same series and both split it. The second one
// commits against the snapshot it read before the first split landed.
func TestRacingSplitLoses(t *testing.T) {
	st := storetest.Open(t)
	ctx := context.Background()
	e := NewEditor(st, auth.ChapterPolicy{})
	admin := model.Actor{MemberID: uuid.MustParse("00000000-0000-4000-8000-000000000001"), Role: model.RoleAdmin}

	rule := recurrence.Rule{Frequency: recurrence.Weekly, ByWeekday: []time.Weekday{time.Monday}}
	s, err := e.Create(ctx, admin, Draft{
		ChapterID: "chapter-7",
		Title:     "General meeting",
		StartDate: model.MustDate("2024-01-01"),
		Timezone:  "America/Chicago",
		Rule:      &rule,
	})
	require.NoError(t, err)
	stale := s

	first, err := e.Edit(ctx, admin, Request{
		SeriesID: s.ID, InstanceDate: model.MustDate("2024-01-15"), Scope: ScopeFollowing,
		Changes: Changes{Location: ptr("First hall")},
	})
	require.NoError(t, err)
	require.True(t, first.Split)

	loc := "Second hall"
	_, err = e.editFollowing(ctx, stale, model.MustDate("2024-01-22"), Changes{Location: &loc})
	var conflict *ConcurrentModificationError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, s.ID, conflict.SeriesID)

	_, err = e.editAll(ctx, stale, Changes{Location: &loc})
	require.ErrorAs(t, err, &conflict)

	_, err = e.editThis(ctx, stale, model.MustDate("2024-01-08"), Changes{Location: &loc})
	require.ErrorAs(t, err, &conflict)

	all, err := st.ListSeries(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2, "the losing split created nothing")

	ov, err := st.GetOverride(ctx, s.ID, model.MustDate("2024-01-08"))
	require.NoError(t, err)
	assert.Nil(t, ov, "the losing override was rolled back")

	require.NoError(t, e.CheckIntegrity(ctx, first.NewSeries.ID))
}

func TestDivergedReasons(t *testing.T) {
	a := "FREQ=WEEKLY;INTERVAL=1;BYDAY=MO"
	b := "FREQ=WEEKLY;INTERVAL=1;BYDAY=MO;UNTIL=20240108"
	until := model.MustDate("2024-01-08")

	read := model.EventSeries{Version: 3, Rule: &a}
	assert.Empty(t, diverged(read, read))
	assert.Contains(t, diverged(read, model.EventSeries{Version: 4, Rule: &a}), "version")
	assert.Equal(t, "rule changed", diverged(read, model.EventSeries{Version: 3, Rule: &b}))
	assert.Equal(t, "series end changed", diverged(read, model.EventSeries{Version: 3, Rule: &a, SeriesUntil: &until}))
}

func ptr[T any](v T) *T { return &v }
