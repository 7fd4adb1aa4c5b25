package schedule

import (
	"context"

	"github.com/google/uuid"

	"github.com/joshuaslong/labor-membership-sub000/internal/metrics"
	"github.com/joshuaslong/labor-membership-sub000/internal/model"
	"github.com/joshuaslong/labor-membership-sub000/internal/store"
)

// Materializer is the store-backed face of the package: it loads a series
// and its overrides and expands or validates against them.
type Materializer struct {
	store          *store.Store
	maxOccurrences int
}

// NewMaterializer creates a Materializer. maxOccurrences <= 0 uses the
// package default.
func NewMaterializer(st *store.Store, maxOccurrences int) *Materializer {
	return &Materializer{store: st, maxOccurrences: maxOccurrences}
}

// Expand loads series id and expands it within w.
func (m *Materializer) Expand(ctx context.Context, id uuid.UUID, w Window) (model.EventSeries, Result, error) {
	if err := w.Validate(); err != nil {
		return model.EventSeries{}, Result{}, err
	}
	s, err := m.store.GetSeries(ctx, id)
	if err != nil {
		return model.EventSeries{}, Result{}, err
	}
	res, err := m.ExpandSeries(ctx, s, w)
	return s, res, err
}

// ExpandSeries expands an already loaded series.
func (m *Materializer) ExpandSeries(ctx context.Context, s model.EventSeries, w Window) (Result, error) {
	overrides, err := m.store.ListOverrides(ctx, s.ID, w.From, w.To)
	if err != nil {
		return Result{}, err
	}
	res, err := ExpandWith(s, overrides, ExpandConfig{Window: w, MaxOccurrences: m.maxOccurrences})
	if err != nil {
		return Result{}, err
	}
	metrics.OccurrencesExpanded.Add(float64(len(res.Occurrences)))
	if res.Truncated {
		metrics.ExpansionsTruncated.Inc()
	}
	return res, nil
}

// Occurrence returns the live occurrence of series id on d, or an
// *InvalidInstanceError.
func (m *Materializer) Occurrence(ctx context.Context, id uuid.UUID, d model.Date) (model.EventSeries, model.Occurrence, error) {
	s, err := m.store.GetSeries(ctx, id)
	if err != nil {
		return model.EventSeries{}, model.Occurrence{}, err
	}
	res, err := m.ExpandSeries(ctx, s, Window{From: d, To: d})
	if err != nil {
		return s, model.Occurrence{}, err
	}
	if len(res.Occurrences) == 0 {
		member, err := IsMember(s, d)
		if err != nil {
			return s, model.Occurrence{}, err
		}
		return s, model.Occurrence{}, &InvalidInstanceError{SeriesID: s.ID, Date: d, Cancelled: member}
	}
	return s, res.Occurrences[0], nil
}

// ValidateInstance reports whether d is a live occurrence of s.
func (m *Materializer) ValidateInstance(ctx context.Context, s model.EventSeries, d model.Date) (bool, error) {
	return ValidateWith(ctx, m.store, s, d)
}

// ValidateWith is ValidateInstance against an explicit store handle, so
// callers inside a transaction read through it.
func ValidateWith(ctx context.Context, st *store.Store, s model.EventSeries, d model.Date) (bool, error) {
	member, err := IsMember(s, d)
	if err != nil || !member {
		return false, err
	}
	ov, err := st.GetOverride(ctx, s.ID, d)
	if err != nil {
		return false, err
	}
	return ov == nil || !ov.Cancelled, nil
}
