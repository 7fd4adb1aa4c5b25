package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/joshuaslong/labor-membership-sub000/internal/model"
)

// ListOverrides returns the overrides of a series within [from, to]. A zero
// bound is open.
func (s *Store) ListOverrides(ctx context.Context, seriesID uuid.UUID, from, to model.Date) ([]model.InstanceOverride, error) {
	var out []model.InstanceOverride
	q := s.with(ctx).Where("series_id = ?", seriesID)
	if !from.IsZero() {
		q = q.Where("instance_date >= ?", from)
	}
	if !to.IsZero() {
		q = q.Where("instance_date <= ?", to)
	}
	if err := q.Order("instance_date asc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list overrides: %w", err)
	}
	return out, nil
}

// GetOverride returns nil when the date has no override.
func (s *Store) GetOverride(ctx context.Context, seriesID uuid.UUID, date model.Date) (*model.InstanceOverride, error) {
	var ov model.InstanceOverride
	err := s.with(ctx).Where("series_id = ? AND instance_date = ?", seriesID, date).First(&ov).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load override: %w", err)
	}
	return &ov, nil
}

// SaveOverride inserts ov or replaces the existing row for its date.
func (s *Store) SaveOverride(ctx context.Context, ov *model.InstanceOverride) error {
	var err error
	if ov.ID == uuid.Nil {
		err = s.with(ctx).Create(ov).Error
	} else {
		err = s.with(ctx).Save(ov).Error
	}
	if err != nil {
		return fmt.Errorf("save override: %w", err)
	}
	return nil
}

// UpsertRsvp writes r; an existing row for the same attendee and occurrence
// gets r's status (last write wins).
func (s *Store) UpsertRsvp(ctx context.Context, r *model.RsvpRecord) error {
	err := s.with(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "series_id"}, {Name: "instance_date"}, {Name: "attendee_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "updated_at"}),
	}).Create(r).Error
	if err != nil {
		return fmt.Errorf("upsert rsvp: %w", err)
	}
	return nil
}

// DeleteRsvp removes one attendee's RSVP and reports how many rows went.
func (s *Store) DeleteRsvp(ctx context.Context, seriesID uuid.UUID, date model.Date, attendeeKey string) (int64, error) {
	res := s.with(ctx).
		Where("series_id = ? AND instance_date = ? AND attendee_key = ?", seriesID, date, attendeeKey).
		Delete(&model.RsvpRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete rsvp: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// GetRsvp returns nil when the attendee has no RSVP for the occurrence.
func (s *Store) GetRsvp(ctx context.Context, seriesID uuid.UUID, date model.Date, attendeeKey string) (*model.RsvpRecord, error) {
	var r model.RsvpRecord
	err := s.with(ctx).
		Where("series_id = ? AND instance_date = ? AND attendee_key = ?", seriesID, date, attendeeKey).
		First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load rsvp: %w", err)
	}
	return &r, nil
}

func (s *Store) CountRsvps(ctx context.Context, seriesID uuid.UUID, date model.Date, status model.RsvpStatus) (int64, error) {
	var n int64
	err := s.with(ctx).
		Model(&model.RsvpRecord{}).
		Where("series_id = ? AND instance_date = ? AND status = ?", seriesID, date, status).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count rsvps: %w", err)
	}
	return n, nil
}

func (s *Store) ListRsvps(ctx context.Context, seriesID uuid.UUID, date model.Date) ([]model.RsvpRecord, error) {
	var out []model.RsvpRecord
	err := s.with(ctx).
		Where("series_id = ? AND instance_date = ?", seriesID, date).
		Order("created_at asc").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list rsvps: %w", err)
	}
	return out, nil
}

// RsvpDates returns the distinct occurrence dates that carry RSVPs.
func (s *Store) RsvpDates(ctx context.Context, seriesID uuid.UUID) ([]model.Date, error) {
	var out []model.Date
	err := s.with(ctx).
		Model(&model.RsvpRecord{}).
		Where("series_id = ?", seriesID).
		Distinct().
		Order("instance_date asc").
		Pluck("instance_date", &out).Error
	if err != nil {
		return nil, fmt.Errorf("list rsvp dates: %w", err)
	}
	return out, nil
}

// Repoint moves every override and RSVP of series from on or after since to
// series to. instance_date is never rewritten.
func (s *Store) Repoint(ctx context.Context, from, to uuid.UUID, since model.Date) (overrides, rsvps int64, err error) {
	res := s.with(ctx).
		Model(&model.InstanceOverride{}).
		Where("series_id = ? AND instance_date >= ?", from, since).
		Update("series_id", to)
	if res.Error != nil {
		return 0, 0, fmt.Errorf("repoint overrides: %w", res.Error)
	}
	overrides = res.RowsAffected

	res = s.with(ctx).
		Model(&model.RsvpRecord{}).
		Where("series_id = ? AND instance_date >= ?", from, since).
		Update("series_id", to)
	if res.Error != nil {
		return 0, 0, fmt.Errorf("repoint rsvps: %w", res.Error)
	}
	return overrides, res.RowsAffected, nil
}

// CountRowsSince counts overrides and RSVPs of a series on or after since.
func (s *Store) CountRowsSince(ctx context.Context, seriesID uuid.UUID, since model.Date) (int64, error) {
	var overrides, rsvps int64
	if err := s.with(ctx).Model(&model.InstanceOverride{}).
		Where("series_id = ? AND instance_date >= ?", seriesID, since).
		Count(&overrides).Error; err != nil {
		return 0, fmt.Errorf("count overrides: %w", err)
	}
	if err := s.with(ctx).Model(&model.RsvpRecord{}).
		Where("series_id = ? AND instance_date >= ?", seriesID, since).
		Count(&rsvps).Error; err != nil {
		return 0, fmt.Errorf("count rsvps: %w", err)
	}
	return overrides + rsvps, nil
}
