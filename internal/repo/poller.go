// Package repo keeps the active repository snapshot fresh by instructing
// the host controller to refresh it whenever the mirrored snapshot ages
// past the configured interval.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/homegrid/admind/internal/host"
	"github.com/homegrid/admind/internal/metrics"
	"github.com/homegrid/admind/internal/sched"
	"github.com/homegrid/admind/internal/store"
	"github.com/homegrid/admind/pkg/logger"
)

// RefreshListener is notified after a successful repository refresh.
// Implemented by the transport layer to push the event to clients.
type RefreshListener interface {
	RepoUpdated()
}

// ObjectStore is the store slice the poller reads from.
type ObjectStore interface {
	GetObject(ctx context.Context, id string) (*store.Object, error)
}

// Refresher requests a repository refresh from the host environment.
type Refresher interface {
	RequestRepositoryRefresh(ctx context.Context, repo string) error
}

// Poller schedules repository refreshes. With a zero interval the poller
// is disabled entirely.
type Poller struct {
	store    ObjectStore
	host     Refresher
	interval time.Duration
	listener RefreshListener

	timer *sched.Timer
	now   func() time.Time
}

// NewPoller creates a repository poller with the given auto-update
// interval. listener may be nil.
func NewPoller(st ObjectStore, h Refresher, interval time.Duration, listener RefreshListener) *Poller {
	return &Poller{
		store:    st,
		host:     h,
		interval: interval,
		listener: listener,
		now:      time.Now,
	}
}

// Start performs the initial check and owns the reschedule loop from then
// on. Disabled (zero interval) pollers never start.
func (p *Poller) Start(ctx context.Context) {
	if p.interval <= 0 {
		logger.Info("Repository auto-update disabled")
		return
	}
	p.timer = sched.NewTimer(func() { p.run(ctx, false) })
	go p.run(ctx, false)
}

// Stop cancels the pending check.
func (p *Poller) Stop() {
	if p.timer != nil {
		p.timer.Stop()
	}
}

// ForceRefresh triggers an immediate refresh regardless of freshness.
func (p *Poller) ForceRefresh(ctx context.Context) {
	p.run(ctx, true)
}

func (p *Poller) run(ctx context.Context, force bool) {
	if ctx.Err() != nil {
		return
	}
	next, err := p.Check(ctx, force)
	if err != nil {
		metrics.PollCycles.WithLabelValues("repo", "error").Inc()
	} else {
		metrics.PollCycles.WithLabelValues("repo", "ok").Inc()
	}
	if next > 0 && p.timer != nil {
		logger.Debug("Next repository check scheduled", "at", p.now().Add(next).Format(time.RFC3339))
		p.timer.Rearm(next)
	}
}

// Check decides between waiting for the current snapshot to expire and
// requesting a fresh one. It returns the delay until the next check, or
// zero when polling must stop (auto-update disabled).
func (p *Poller) Check(ctx context.Context, force bool) (time.Duration, error) {
	sysConfig, err := p.store.GetObject(ctx, store.SystemConfig)
	if err != nil || sysConfig == nil || sysConfig.Common == nil {
		logger.Error("May not read \"system.config\"", "error", err)
		return 0, err
	}
	active := sysConfig.Common.ActiveRepo

	repoObj, err := p.store.GetObject(ctx, store.SystemRepositories)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		logger.Error("May not read \"system.repositories\"", "error", err)
	}

	now := p.now()
	if !force && p.isFresh(repoObj, active, now) {
		// wait out the remainder of the snapshot's lifetime
		expiry := time.UnixMilli(repoObj.TS).Add(p.interval)
		return expiry.Sub(now) + time.Millisecond, nil
	}

	logger.Info("Request actual repository...", "repo", active)
	err = p.host.RequestRepositoryRefresh(ctx, active)
	switch {
	case errors.Is(err, host.ErrPermissionDenied):
		logger.Error("May not request repository refresh", "repo", active)
	case err != nil:
		logger.Error("Repository refresh failed", "repo", active, "error", err)
	default:
		logger.Info("Repository received successfully", "repo", active)
		if p.listener != nil {
			p.listener.RepoUpdated()
		}
	}

	if p.interval <= 0 {
		return 0, err
	}
	return p.interval + time.Millisecond, err
}

// isFresh reports whether the mirrored snapshot for the active repository
// is present and younger than the auto-update interval.
func (p *Poller) isFresh(repoObj *store.Object, active string, now time.Time) bool {
	if repoObj == nil {
		return false
	}
	if _, ok := store.RepositorySnapshot(repoObj, active); !ok {
		return false
	}
	return now.Before(time.UnixMilli(repoObj.TS).Add(p.interval))
}
