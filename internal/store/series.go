package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/joshuaslong/labor-membership-sub000/internal/model"
)

func (s *Store) GetSeries(ctx context.Context, id uuid.UUID) (model.EventSeries, error) {
	var series model.EventSeries
	if err := s.with(ctx).First(&series, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.EventSeries{}, fmt.Errorf("series %s: %w", id, ErrNotFound)
		}
		return model.EventSeries{}, fmt.Errorf("load series %s: %w", id, err)
	}
	return series, nil
}

func (s *Store) CreateSeries(ctx context.Context, series *model.EventSeries) error {
	if err := s.with(ctx).Create(series).Error; err != nil {
		return fmt.Errorf("create series: %w", err)
	}
	return nil
}

// UpdateSeries writes every mutable column of series, but only if the row
// still carries expectVersion. It bumps the version and reports false when
// another writer got there first.
func (s *Store) UpdateSeries(ctx context.Context, series *model.EventSeries, expectVersion int) (bool, error) {
	next := expectVersion + 1
	res := s.with(ctx).
		Model(&model.EventSeries{}).
		Where("id = ? AND version = ?", series.ID, expectVersion).
		Updates(map[string]any{
			"chapter_id":     series.ChapterID,
			"title":          series.Title,
			"description":    series.Description,
			"location":       series.Location,
			"audience":       series.Audience,
			"visibility":     series.Visibility,
			"max_attendees":  series.MaxAttendees,
			"status":         series.Status,
			"start_date":     series.StartDate,
			"start_time":     series.StartTime,
			"end_time":       series.EndTime,
			"timezone":       series.Timezone,
			"is_all_day":     series.IsAllDay,
			"rule":           series.Rule,
			"series_until":   series.SeriesUntil,
			"integrity_hold": series.IntegrityHold,
			"version":        next,
		})
	if res.Error != nil {
		return false, fmt.Errorf("update series %s: %w", series.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	series.Version = next
	return true, nil
}

// TouchSeries bumps the version of a series without changing it, so writes
// that hang off the series (overrides) conflict with a concurrent split.
func (s *Store) TouchSeries(ctx context.Context, id uuid.UUID, expectVersion int) (bool, error) {
	res := s.with(ctx).
		Model(&model.EventSeries{}).
		Where("id = ? AND version = ?", id, expectVersion).
		Update("version", expectVersion+1)
	if res.Error != nil {
		return false, fmt.Errorf("touch series %s: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// SetIntegrityHold flags series so that every further write is refused.
func (s *Store) SetIntegrityHold(ctx context.Context, ids ...uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.with(ctx).
		Model(&model.EventSeries{}).
		Where("id IN ?", ids).
		Updates(map[string]any{"integrity_hold": true, "version": gorm.Expr("version + 1")}).Error
	if err != nil {
		return fmt.Errorf("set integrity hold: %w", err)
	}
	return nil
}

// ListSeries returns series ordered by creation; chapterID filters when set.
func (s *Store) ListSeries(ctx context.Context, chapterID string) ([]model.EventSeries, error) {
	var out []model.EventSeries
	q := s.with(ctx).Order("created_at asc")
	if chapterID != "" {
		q = q.Where("chapter_id = ?", chapterID)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list series: %w", err)
	}
	return out, nil
}

// ListSplitChildren returns every series created by a split.
func (s *Store) ListSplitChildren(ctx context.Context) ([]model.EventSeries, error) {
	var out []model.EventSeries
	if err := s.with(ctx).Where("split_from_id IS NOT NULL").Order("start_date asc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list split children: %w", err)
	}
	return out, nil
}
