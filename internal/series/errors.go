package series

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/joshuaslong/labor-membership-sub000/internal/store"
)

var (
	// ErrScope is returned when a change does not fit the requested scope,
	// such as a rule change on a single occurrence.
	ErrScope = errors.New("edit not allowed at this scope")

	// ErrInvalidSeries is returned for field values a series cannot hold.
	ErrInvalidSeries = errors.New("invalid series")
)

// ConcurrentModificationError means another writer changed the series
// between our read and our commit. Re-read and retry once.
type ConcurrentModificationError struct {
	SeriesID uuid.UUID
	Reason   string
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("series %s was modified concurrently (%s); reload and try again", e.SeriesID, e.Reason)
}

// DataIntegrityError means a split left rows on the wrong side of the split
// point. The series involved are put on hold and refuse every write until
// repaired by hand.
type DataIntegrityError struct {
	SeriesID uuid.UUID
	Reason   string
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("series %s failed integrity check: %s", e.SeriesID, e.Reason)
}

func (e *DataIntegrityError) Unwrap() error { return store.ErrIntegrityHold }

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidSeries, fmt.Sprintf(format, args...))
}

func scopef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrScope, fmt.Sprintf(format, args...))
}
