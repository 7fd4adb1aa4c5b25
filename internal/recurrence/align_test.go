package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuaslong/labor-membership-sub000/internal/model"
)

func TestAlign(t *testing.T) {
	monday := model.MustDate("2024-01-15") // third Monday of January

	tests := []struct {
		name string
		text string
		want string
	}{
		{"matching weekday unchanged", "FREQ=WEEKLY;INTERVAL=2;BYDAY=MO", "FREQ=WEEKLY;INTERVAL=2;BYDAY=MO"},
		{"lone weekday replaced", "FREQ=WEEKLY;INTERVAL=2;BYDAY=WE", "FREQ=WEEKLY;INTERVAL=2;BYDAY=MO"},
		{"weekday set extended", "FREQ=WEEKLY;BYDAY=WE,FR", "FREQ=WEEKLY;INTERVAL=1;BYDAY=MO,WE,FR"},
		{"implicit weekday untouched", "FREQ=WEEKLY;COUNT=3", "FREQ=WEEKLY;INTERVAL=1;COUNT=3"},
		{"monthly position recomputed", "FREQ=MONTHLY;BYDAY=1TU", "FREQ=MONTHLY;INTERVAL=1;BYDAY=MO;BYSETPOS=3"},
		{"daily untouched", "FREQ=DAILY;INTERVAL=4", "FREQ=DAILY;INTERVAL=4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Parse(tt.text)
			require.NoError(t, err)
			got, err := Serialize(Align(r, monday))
			require.NoError(t, err)
			want, err := Parse(tt.want)
			require.NoError(t, err)
			assert.Equal(t, MustSerialize(want), got)
		})
	}
}

func TestAlignKeepsLastPosition(t *testing.T) {
	// 2024-01-29 is both the fifth and the last Monday of January.
	r := Rule{Frequency: Monthly, ByWeekday: []time.Weekday{time.Friday}, Position: Last}
	got := Align(r, model.MustDate("2024-01-29"))
	assert.Equal(t, Last, got.Position)
	assert.Equal(t, []time.Weekday{time.Monday}, got.ByWeekday)
}

func TestAlignDoesNotMutateInput(t *testing.T) {
	days := []time.Weekday{time.Friday, time.Wednesday}
	r := Rule{Frequency: Weekly, ByWeekday: days}
	_ = Align(r, model.MustDate("2024-01-15"))
	assert.Equal(t, []time.Weekday{time.Friday, time.Wednesday}, days)
}
