package ics

import (
	"context"
	"errors"

	appLog "github.com/joshuaslong/labor-membership-sub000/internal/log"
	"github.com/joshuaslong/labor-membership-sub000/internal/model"
	"github.com/joshuaslong/labor-membership-sub000/internal/recurrence"
	"github.com/joshuaslong/labor-membership-sub000/internal/schedule"
	"github.com/joshuaslong/labor-membership-sub000/internal/series"
)

// Importer creates series from parsed calendars through the editor, so
// imported data passes the same validation and authorization as edits.
type Importer struct {
	editor *series.Editor
}

func NewImporter(e *series.Editor) *Importer {
	return &Importer{editor: e}
}

// Report summarizes one import.
type Report struct {
	Created []model.EventSeries
	// Skipped counts events the editor refused.
	Skipped int
	// Exceptions counts cancellations and per-occurrence edits applied.
	Exceptions int
}

// Import creates one series per item in chapterID. Invalid items are
// skipped; store and authorization failures abort.
func (im *Importer) Import(ctx context.Context, actor model.Actor, chapterID string, items []Imported) (Report, error) {
	var rep Report
	cancel := true

	for _, item := range items {
		d := item.Draft
		d.ChapterID = chapterID

		s, err := im.editor.Create(ctx, actor, d)
		if err != nil {
			if skippable(err) {
				appLog.Warn("ics import skipped event", "uid", item.UID, "err", err)
				rep.Skipped++
				continue
			}
			return rep, err
		}
		rep.Created = append(rep.Created, s)

		for _, date := range item.Cancelled {
			ok, err := im.apply(ctx, actor, s, item.UID, date, series.Changes{Cancelled: &cancel})
			if err != nil {
				return rep, err
			}
			if ok {
				rep.Exceptions++
			}
		}
		for _, e := range item.Edits {
			ok, err := im.apply(ctx, actor, s, item.UID, e.Date, e.Changes)
			if err != nil {
				return rep, err
			}
			if ok {
				rep.Exceptions++
			}
		}
	}

	appLog.Info("ics import completed", "chapter_id", chapterID, "created", len(rep.Created), "skipped", rep.Skipped, "exceptions", rep.Exceptions)
	return rep, nil
}

// apply edits one occurrence. Exceptions on dates the imported rule does
// not generate are dropped with a warning.
func (im *Importer) apply(ctx context.Context, actor model.Actor, s model.EventSeries, uid string, date model.Date, ch series.Changes) (bool, error) {
	_, err := im.editor.Edit(ctx, actor, series.Request{
		SeriesID:     s.ID,
		InstanceDate: date,
		Scope:        series.ScopeThis,
		Changes:      ch,
	})
	var invalid *schedule.InvalidInstanceError
	if errors.As(err, &invalid) || skippable(err) {
		appLog.Warn("ics import dropped exception", "uid", uid, "date", date, "err", err)
		return false, nil
	}
	return err == nil, err
}

func skippable(err error) bool {
	var (
		badRule     *recurrence.InvalidRuleError
		unsupported *recurrence.UnsupportedRuleError
	)
	return errors.Is(err, series.ErrInvalidSeries) ||
		errors.Is(err, series.ErrScope) ||
		errors.As(err, &badRule) ||
		errors.As(err, &unsupported)
}
