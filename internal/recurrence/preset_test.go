package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuaslong/labor-membership-sub000/internal/model"
)

func TestPresetDetectIdempotent(t *testing.T) {
	anchors := []string{"2024-01-01", "2024-02-29", "2024-03-31", "2024-07-19", "2025-12-25"}
	for _, a := range anchors {
		anchor := model.MustDate(a)
		for _, p := range templated {
			t.Run(a+"/"+string(p), func(t *testing.T) {
				r, err := FromPreset(p, anchor)
				require.NoError(t, err)
				assert.Equal(t, p, Detect(&r, anchor))

				// Detection survives a trip through the stored text form.
				text, err := Serialize(r)
				require.NoError(t, err)
				parsed, err := Parse(text)
				require.NoError(t, err)
				assert.Equal(t, p, Detect(&parsed, anchor))
			})
		}
	}
}

func TestDetect(t *testing.T) {
	monday := model.MustDate("2024-01-01")

	tests := []struct {
		text string
		want Preset
	}{
		{"FREQ=DAILY", PresetDaily},
		{"FREQ=DAILY;COUNT=5", PresetDaily},
		{"FREQ=WEEKLY;BYDAY=MO", PresetWeekly},
		{"FREQ=WEEKLY", PresetWeekly},
		{"FREQ=WEEKLY;INTERVAL=2;BYDAY=MO;UNTIL=20240601", PresetBiweekly},
		{"FREQ=MONTHLY;BYDAY=1MO", PresetMonthly},
		{"FREQ=WEEKLY;BYDAY=TU", PresetCustom},
		{"FREQ=WEEKLY;BYDAY=MO,WE", PresetCustom},
		{"FREQ=WEEKLY;INTERVAL=3;BYDAY=MO", PresetCustom},
		{"FREQ=MONTHLY", PresetCustom},
		{"FREQ=MONTHLY;BYDAY=-1MO", PresetCustom},
		{"FREQ=YEARLY", PresetCustom},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			r, err := Parse(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, Detect(&r, monday))
			// Deterministic.
			assert.Equal(t, Detect(&r, monday), Detect(&r, monday))
		})
	}

	assert.Equal(t, PresetNone, Detect(nil, monday))
}

func TestMonthlyPresetUsesLastForFifthWeek(t *testing.T) {
	// 2024-01-29 is the fifth Monday of January.
	r, err := FromPreset(PresetMonthly, model.MustDate("2024-01-29"))
	require.NoError(t, err)
	assert.Equal(t, Last, r.Position)
	assert.Equal(t, []time.Weekday{time.Monday}, r.ByWeekday)
}

func TestFromPresetCustom(t *testing.T) {
	_, err := FromPreset(PresetCustom, model.MustDate("2024-01-01"))
	assert.Error(t, err)
}

func TestParsePreset(t *testing.T) {
	p, err := ParsePreset(" Biweekly ")
	require.NoError(t, err)
	assert.Equal(t, PresetBiweekly, p)

	_, err = ParsePreset("fortnightly")
	assert.Error(t, err)
}
