// Package updates computes the "available updates" report by diffing the
// active repository snapshot against locally installed component versions,
// and publishes it as well-known state values.
package updates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/homegrid/admind/internal/host"
	"github.com/homegrid/admind/internal/metrics"
	"github.com/homegrid/admind/internal/store"
	"github.com/homegrid/admind/pkg/logger"
)

// ErrConfigUnavailable signals that the system configuration or repository
// object needed to resolve the active snapshot is missing or malformed.
// The current cycle aborts; the periodic trigger retries later.
var ErrConfigUnavailable = errors.New("updates: system configuration unavailable")

// State id suffixes of the published report, relative to the namespace.
// These ids are a durable contract with existing readers.
const (
	StateUpdatesNumber   = "info.updatesNumber"
	StateUpdatesList     = "info.updatesList"
	StateNewUpdates      = "info.newUpdates"
	StateUpdatesJSON     = "info.updatesJson"
	StateLastUpdateCheck = "info.lastUpdateCheck"
)

// Detail is the persisted per-component update info.
type Detail struct {
	AvailableVersion string `json:"availableVersion"`
	InstalledVersion string `json:"installedVersion"`
}

// Report is the derived update summary. Details is keyed by qualified
// component name; Names holds short display names in stable order.
type Report struct {
	Count     int
	Names     []string
	HasNew    bool
	Details   map[string]Detail
	Messages  map[string][]Message
	CheckedAt time.Time
}

// StateStore is the slice of the object store the engine writes through.
type StateStore interface {
	GetState(ctx context.Context, id string) (*store.State, error)
	SetState(ctx context.Context, id string, val any, ack bool) error
	SetObject(ctx context.Context, id string, obj *store.Object) error
}

// ObjectCache is the mirror read surface the engine resolves config from.
type ObjectCache interface {
	Get(id string) *store.Object
}

// InstalledSource reports locally installed component versions.
type InstalledSource interface {
	InstalledVersions(ctx context.Context) (map[string]host.InstalledInfo, error)
}

// Engine recomputes and publishes the update report.
type Engine struct {
	states    StateStore
	mirror    ObjectCache
	installed InstalledSource
	namespace string
	now       func() time.Time
}

// NewEngine creates an update engine publishing under the given namespace
// (e.g. "admin.0").
func NewEngine(states StateStore, mirror ObjectCache, installed InstalledSource, namespace string) *Engine {
	return &Engine{
		states:    states,
		mirror:    mirror,
		installed: installed,
		namespace: namespace,
		now:       time.Now,
	}
}

func (e *Engine) stateID(suffix string) string {
	return e.namespace + "." + suffix
}

// Recompute rebuilds the update report. With a nil snapshot the active
// repository is resolved from the mirrored system configuration; a missing
// or malformed configuration clears the published values and returns
// ErrConfigUnavailable.
func (e *Engine) Recompute(ctx context.Context, snapshot map[string]store.RepoEntry) (*Report, error) {
	if snapshot == nil {
		var err error
		snapshot, err = e.resolveSnapshot()
		if err != nil {
			e.clear(ctx)
			metrics.UpdateChecks.WithLabelValues("config_unavailable").Inc()
			return nil, err
		}
	}

	installed, err := e.installed.InstalledVersions(ctx)
	if err != nil {
		metrics.UpdateChecks.WithLabelValues("host_error").Inc()
		return nil, fmt.Errorf("fetch installed versions: %w", err)
	}

	oldDetails := e.previousDetails(ctx)

	report := &Report{
		Details:   make(map[string]Detail),
		Messages:  make(map[string][]Message),
		CheckedAt: e.now(),
	}

	names := make([]string, 0, len(snapshot))
	for name := range snapshot {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		entry := snapshot[name]
		inst, ok := installed[name]
		if !ok || inst.Version == "" || entry.Version == "" {
			continue
		}
		if entry.Version == inst.Version {
			continue
		}
		newer, err := IsNewer(entry.Version, inst.Version)
		if err != nil {
			logger.Warn("Error on version check", "component", name, "error", err)
			continue
		}
		if !newer {
			continue
		}

		if old, ok := oldDetails[name]; !ok || old.AvailableVersion != entry.Version {
			report.HasNew = true
		}
		report.Details[name] = Detail{
			AvailableVersion: entry.Version,
			InstalledVersion: inst.Version,
		}
		report.Names = append(report.Names, ShortName(name))

		if msgs := decodeMessages(entry.Messages); len(msgs) > 0 {
			if applicable := CheckConditions(msgs, inst.Version, entry.Version); len(applicable) > 0 {
				report.Messages[name] = applicable
			}
		}
	}
	report.Count = len(report.Names)

	e.publish(ctx, report)
	metrics.UpdateChecks.WithLabelValues("ok").Inc()
	return report, nil
}

// resolveSnapshot reads the active repository snapshot out of the mirror.
func (e *Engine) resolveSnapshot() (map[string]store.RepoEntry, error) {
	sysConfig := e.mirror.Get(store.SystemConfig)
	if sysConfig == nil || sysConfig.Common == nil {
		logger.Warn("Repository cannot be read. Invalid \"system.config\" object.")
		return nil, ErrConfigUnavailable
	}

	activeRepo := sysConfig.Common.ActiveRepo
	repoObj := e.mirror.Get(store.SystemRepositories)
	snapshot, ok := store.RepositorySnapshot(repoObj, activeRepo)
	if !ok {
		if repoObj != nil {
			logger.Warn("Repository cannot be read", "activeRepo", activeRepo)
		} else {
			logger.Warn("No repository source configured")
		}
		return nil, ErrConfigUnavailable
	}
	return snapshot, nil
}

// previousDetails reads back the persisted detail map, tolerating a
// missing or corrupt value as empty.
func (e *Engine) previousDetails(ctx context.Context) map[string]Detail {
	details := map[string]Detail{}
	st, err := e.states.GetState(ctx, e.stateID(StateUpdatesJSON))
	if err != nil || st == nil {
		return details
	}
	raw, ok := st.Val.(string)
	if !ok || raw == "" {
		return details
	}
	if err := json.Unmarshal([]byte(raw), &details); err != nil {
		logger.Warn("Ignoring corrupt update detail state", "error", err)
		return map[string]Detail{}
	}
	return details
}

// publish writes the report as independent state values. A failure on any
// one is logged and does not block the others.
func (e *Engine) publish(ctx context.Context, report *Report) {
	detailJSON, err := json.Marshal(report.Details)
	if err != nil {
		logger.Error("Cannot encode update details", "error", err)
		detailJSON = []byte("{}")
	}

	e.setState(ctx, StateUpdatesNumber, report.Count)
	e.setState(ctx, StateUpdatesList, strings.Join(report.Names, ", "))
	e.setState(ctx, StateNewUpdates, report.HasNew)
	e.setState(ctx, StateUpdatesJSON, string(detailJSON))
	e.setState(ctx, StateLastUpdateCheck, report.CheckedAt.UnixMilli())
}

// clear resets the published values to their empty defaults.
func (e *Engine) clear(ctx context.Context) {
	e.setState(ctx, StateUpdatesNumber, 0)
	e.setState(ctx, StateUpdatesList, "")
	e.setState(ctx, StateNewUpdates, false)
	e.setState(ctx, StateUpdatesJSON, "{}")
	e.setState(ctx, StateLastUpdateCheck, e.now().UnixMilli())
}

func (e *Engine) setState(ctx context.Context, suffix string, val any) {
	if err := e.states.SetState(ctx, e.stateID(suffix), val, true); err != nil {
		metrics.StoreWriteFailures.Inc()
		logger.Error("Cannot publish update state", "state", suffix, "error", err)
	}
}

func decodeMessages(raw json.RawMessage) []Message {
	if len(raw) == 0 {
		return nil
	}
	var msgs []Message
	if err := json.Unmarshal(raw, &msgs); err != nil {
		logger.Warn("Ignoring malformed update messages", "error", err)
		return nil
	}
	return msgs
}
