package series

import (
	"context"

	"github.com/google/uuid"

	appLog "github.com/joshuaslong/labor-membership-sub000/internal/log"
)

// CheckIntegrity verifies the split lineage of seriesID: the series it was
// split from must neither generate nor own rows on or after its start date.
// On violation both series are put on hold and a *DataIntegrityError is
// returned. Series that were not created by a split always pass.
func (e *Editor) CheckIntegrity(ctx context.Context, seriesID uuid.UUID) error {
	child, err := e.store.GetSeries(ctx, seriesID)
	if err != nil {
		return err
	}
	if child.SplitFromID == nil {
		return nil
	}
	orig, err := e.store.GetSeries(ctx, *child.SplitFromID)
	if err != nil {
		return err
	}

	reason, err := lineageViolation(ctx, e.store, orig, child.StartDate)
	if err != nil {
		return err
	}
	if reason == "" {
		appLog.Debug("split lineage ok", "series_id", child.ID, "split_from_id", orig.ID)
		return nil
	}

	cause := &DataIntegrityError{SeriesID: orig.ID, Reason: reason}
	if !(orig.IntegrityHold && child.IntegrityHold) {
		e.hold(ctx, cause, orig.ID, child.ID)
	}
	return cause
}
