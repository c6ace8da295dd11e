// Package app wires the reconciliation core together and owns its
// lifecycle: store connection, mirror warm load, pollers, rights queue and
// clean shutdown.
package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/homegrid/admind/internal/config"
	"github.com/homegrid/admind/internal/host"
	"github.com/homegrid/admind/internal/metrics"
	"github.com/homegrid/admind/internal/mirror"
	"github.com/homegrid/admind/internal/news"
	"github.com/homegrid/admind/internal/ratings"
	"github.com/homegrid/admind/internal/repo"
	"github.com/homegrid/admind/internal/rights"
	"github.com/homegrid/admind/internal/store"
	"github.com/homegrid/admind/internal/updates"
	"github.com/homegrid/admind/pkg/logger"
)

// languageLogger stands in for the transport layer until one attaches.
type languageLogger struct{}

func (languageLogger) SetLanguage(lang string) {
	logger.Info("Display language changed", "language", lang)
}

// repoLogger stands in for the transport layer's repo-updated push.
type repoLogger struct{}

func (repoLogger) RepoUpdated() {
	logger.Debug("Repository snapshot refreshed")
}

// App is the assembled reconciliation core.
type App struct {
	cfg     *config.Config
	store   store.Store
	host    host.Host
	mirror  *mirror.Mirror
	engine  *updates.Engine
	rights  *rights.Queue
	news    *news.Poller
	ratings *ratings.Poller
	repo    *repo.Poller
}

// Run assembles the core and blocks until ctx is canceled, then shuts
// everything down: every timer canceled, queued rights tasks discarded.
func Run(ctx context.Context, cfg *config.Config) error {
	app, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.shutdown()

	if err := app.start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("Shutting down")
	return nil
}

func build(ctx context.Context, cfg *config.Config) (*App, error) {
	var (
		st  store.Store
		h   host.Host
		err error
	)
	switch cfg.Store.Mode {
	case "embedded":
		st, err = store.OpenEmbedded(cfg.Store.DataDir)
		h = host.Static(nil)
	default:
		st, err = store.DialNATS(cfg.Store.URL)
		if err == nil {
			h, err = host.Dial(cfg.Store.URL, cfg.Admin.Host, 30*time.Second)
		}
	}
	if err != nil {
		return nil, err
	}

	m := mirror.New()
	m.SetLanguageListener(languageLogger{})

	engine := updates.NewEngine(st, m, h, cfg.Admin.Namespace)
	m.SetUpdateTrigger(mirror.UpdateDebounce, func() {
		if _, err := engine.Recompute(ctx, nil); err != nil && !errors.Is(err, updates.ErrConfigUnavailable) {
			logger.Error("Update recomputation failed", "error", err)
		}
	})

	httpc := &http.Client{Timeout: 30 * time.Second}

	app := &App{
		cfg:    cfg,
		store:  st,
		host:   h,
		mirror: m,
		engine: engine,
		rights: rights.NewQueue(st, cfg.Admin.DefaultUser),
		news:   news.NewPoller(st, httpc, cfg.Feeds.NewsHashURL, cfg.Feeds.NewsURL, cfg.Admin.Namespace),
		repo:   repo.NewPoller(st, h, time.Duration(cfg.Admin.AutoUpdateHours)*time.Hour, repoLogger{}),
	}
	return app, nil
}

func (a *App) start(ctx context.Context) error {
	if err := a.bootstrapSecret(ctx); err != nil {
		logger.Error("Cannot bootstrap instance secret", "error", err)
	}
	if a.cfg.Store.Mode == "embedded" {
		if err := a.ensureInstallationID(ctx); err != nil {
			logger.Error("Cannot create installation identifier", "error", err)
		}
	}

	if err := a.warmLoad(ctx); err != nil {
		return err
	}

	if err := a.engine.EnsureInfoObjects(ctx); err != nil {
		logger.Error("Cannot create update info objects", "error", err)
	}
	if _, err := a.engine.Recompute(ctx, nil); err != nil && !errors.Is(err, updates.ErrConfigUnavailable) {
		logger.Error("Initial update recomputation failed", "error", err)
	}

	changes, err := a.store.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe change feed: %w", err)
	}
	go func() {
		// single consumer: updates for one id never interleave
		for change := range changes {
			a.mirror.ApplyChange(change.ID, change.Object)
		}
	}()

	a.rights.Start(ctx)
	if a.applyRightsConfigured() {
		go a.rights.Apply(ctx, a.cfg.Admin.AccessAllowedConfigs, a.cfg.Admin.AccessAllowedTabs)
	}

	a.news.Start(ctx)
	a.startRatings(ctx)
	a.repo.Start(ctx)

	if addr := a.cfg.Metrics.Addr; addr != "" {
		go func() {
			if err := metrics.Serve(addr); err != nil {
				logger.Error("Metrics server stopped", "error", err)
			}
		}()
	}
	return nil
}

// applyRightsConfigured mirrors the original activation rule: rights are
// only rewritten when access limiting is active without authentication and
// the target identity is not the builtin admin.
func (a *App) applyRightsConfigured() bool {
	c := a.cfg.Admin
	return c.AccessApplyRights && c.AccessLimit && !c.Auth &&
		rights.NormalizeUser(c.DefaultUser) != "system.user.admin"
}

// warmLoad fills the mirror from a full object list before the change
// feed takes over.
func (a *App) warmLoad(ctx context.Context) error {
	logger.Info("Requesting all objects")
	objects, err := a.store.ListObjects(ctx)
	if err != nil {
		return fmt.Errorf("load objects: %w", err)
	}
	a.mirror.Load(objects)
	return nil
}

// bootstrapSecret generates the instance secret on first start and stores
// it in the system configuration's native bag.
func (a *App) bootstrapSecret(ctx context.Context) error {
	obj, err := a.store.GetObject(ctx, store.SystemConfig)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			logger.Error("Cannot find object system.config")
			return nil
		}
		return err
	}
	if obj.NativeString("secret") != "" {
		return nil
	}

	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return err
	}
	if obj.Native == nil {
		obj.Native = map[string]any{}
	}
	obj.Native["secret"] = hex.EncodeToString(buf)
	if err := a.store.SetObject(ctx, store.SystemConfig, obj); err != nil {
		return err
	}
	logger.Info("Generated instance secret")
	return nil
}

// ensureInstallationID creates the anonymous installation identifier on
// first start of a standalone store. Platform deployments get theirs
// from the host controller instead.
func (a *App) ensureInstallationID(ctx context.Context) error {
	if _, err := a.store.GetObject(ctx, store.SystemUUID); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	obj := &store.Object{
		ID:     store.SystemUUID,
		Type:   "meta",
		Common: &store.Common{Name: "uuid"},
		Native: map[string]any{"uuid": uuid.NewString()},
	}
	logger.Info("Generated installation identifier")
	return a.store.SetObject(ctx, store.SystemUUID, obj)
}

// startRatings resolves the anonymous installation identifier; without
// one the ratings poller never activates.
func (a *App) startRatings(ctx context.Context) {
	uuidObj, err := a.store.GetObject(ctx, store.SystemUUID)
	if err != nil {
		logger.Warn("No installation identifier found, ratings disabled", "error", err)
		return
	}
	a.ratings = ratings.NewPoller(nil, a.cfg.Feeds.RatingURL, uuidObj.NativeString("uuid"))
	a.ratings.Start(ctx)
}

// Ratings exposes the current rating document for the transport layer.
func (a *App) Ratings() map[string]any {
	if a.ratings == nil {
		return map[string]any{}
	}
	return a.ratings.Current()
}

func (a *App) shutdown() {
	a.repo.Stop()
	a.news.Stop()
	if a.ratings != nil {
		a.ratings.Stop()
	}
	a.mirror.Stop()
	if err := a.store.Close(); err != nil {
		logger.Error("Cannot close object store", "error", err)
	}
}
