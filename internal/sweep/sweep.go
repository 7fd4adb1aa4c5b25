// Package sweep periodically re-verifies split lineages and counts rows
// that readers ignore because their date is no longer a live occurrence.
package sweep

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "github.com/joshuaslong/labor-membership-sub000/internal/log"
	"github.com/joshuaslong/labor-membership-sub000/internal/metrics"
	"github.com/joshuaslong/labor-membership-sub000/internal/model"
	"github.com/joshuaslong/labor-membership-sub000/internal/schedule"
	"github.com/joshuaslong/labor-membership-sub000/internal/series"
	"github.com/joshuaslong/labor-membership-sub000/internal/store"
)

// Report is the outcome of one sweep.
type Report struct {
	SplitsChecked int `json:"splits_checked"`
	// Held lists the split children that failed their integrity check.
	Held            []string `json:"held,omitempty"`
	OrphanOverrides int      `json:"orphan_overrides"`
	OrphanRsvps     int      `json:"orphan_rsvps"`
}

type Sweeper struct {
	store  *store.Store
	editor *series.Editor

	// mu keeps a slow sweep from overlapping the next tick.
	mu sync.Mutex
}

func New(st *store.Store, editor *series.Editor) *Sweeper {
	return &Sweeper{store: st, editor: editor}
}

// Run performs one sweep. Orphans are reported, never deleted: a later
// edit may make their date live again.
func (s *Sweeper) Run(ctx context.Context) (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rep Report
	started := time.Now()

	children, err := s.store.ListSplitChildren(ctx)
	if err != nil {
		return rep, err
	}
	for _, child := range children {
		rep.SplitsChecked++
		err := s.editor.CheckIntegrity(ctx, child.ID)
		var broken *series.DataIntegrityError
		switch {
		case errors.As(err, &broken):
			rep.Held = append(rep.Held, child.ID.String())
		case err != nil:
			return rep, err
		}
	}

	all, err := s.store.ListSeries(ctx, "")
	if err != nil {
		return rep, err
	}
	for _, sr := range all {
		overrides, err := s.store.ListOverrides(ctx, sr.ID, model.Date{}, model.Date{})
		if err != nil {
			return rep, err
		}
		for _, ov := range overrides {
			member, err := schedule.IsMember(sr, ov.InstanceDate)
			if err != nil {
				return rep, err
			}
			if !member {
				rep.OrphanOverrides++
			}
		}

		dates, err := s.store.RsvpDates(ctx, sr.ID)
		if err != nil {
			return rep, err
		}
		for _, d := range dates {
			live, err := schedule.ValidateWith(ctx, s.store, sr, d)
			if err != nil {
				return rep, err
			}
			if live {
				continue
			}
			rows, err := s.store.ListRsvps(ctx, sr.ID, d)
			if err != nil {
				return rep, err
			}
			rep.OrphanRsvps += len(rows)
		}
	}

	metrics.OrphanedRows.WithLabelValues("override").Set(float64(rep.OrphanOverrides))
	metrics.OrphanedRows.WithLabelValues("rsvp").Set(float64(rep.OrphanRsvps))
	appLog.Info("sweep completed",
		"splits_checked", rep.SplitsChecked,
		"held", len(rep.Held),
		"orphan_overrides", rep.OrphanOverrides,
		"orphan_rsvps", rep.OrphanRsvps,
		"took", time.Since(started).Round(time.Millisecond),
	)
	return rep, nil
}

// Schedule runs the sweep on spec (standard five-field cron syntax) until
// ctx is cancelled. An empty schedule disables it.
func (s *Sweeper) Schedule(ctx context.Context, spec string) error {
	if spec == "" {
		appLog.Info("sweep disabled")
		return nil
	}
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		if _, err := s.Run(ctx); err != nil {
			appLog.Error("sweep failed", err)
		}
	})
	if err != nil {
		return err
	}
	c.Start()
	appLog.Info("sweep scheduled", "cron", spec)

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return nil
}
