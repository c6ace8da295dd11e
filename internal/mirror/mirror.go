// Package mirror keeps the process-wide cache of the remote object store.
// The mirror owns its local copies exclusively; the store stays the source
// of truth and feeds the mirror through change notifications.
package mirror

import (
	"regexp"
	"sync"
	"time"

	"github.com/homegrid/admind/internal/sched"
	"github.com/homegrid/admind/internal/store"
	"github.com/homegrid/admind/pkg/logger"
)

// UpdateDebounce is the quiet period before a repository or descriptor
// change triggers an update recomputation. Bursts coalesce into one run.
const UpdateDebounce = 5 * time.Second

// adapterDescriptor matches adapter-instance-descriptor ids, e.g.
// "system.adapter.hue" but not "system.adapter.hue.0.alive".
var adapterDescriptor = regexp.MustCompile(`^system\.adapter\.[^.]+$`)

// LanguageListener is notified when the system display language changes.
// Implemented by the transport layer; the mirror never blocks on it.
type LanguageListener interface {
	SetLanguage(lang string)
}

// Mirror is the single-writer object cache.
type Mirror struct {
	mu      sync.RWMutex
	objects map[string]*store.Object

	language string
	listener LanguageListener
	updates  *sched.Debouncer
}

// New creates an empty mirror.
func New() *Mirror {
	return &Mirror{
		objects:  make(map[string]*store.Object),
		language: "en",
	}
}

// SetLanguageListener registers the transport-layer language listener.
func (m *Mirror) SetLanguageListener(l LanguageListener) {
	m.mu.Lock()
	m.listener = l
	m.mu.Unlock()
}

// SetUpdateTrigger registers the update-engine recomputation hook, fired
// debounced whenever the repository or an adapter descriptor changes.
func (m *Mirror) SetUpdateTrigger(delay time.Duration, trigger func()) {
	m.updates = sched.NewDebouncer(delay, trigger)
}

// Load replaces the mirror content with a full object list. Used once at
// startup to warm the cache before the change feed takes over.
func (m *Mirror) Load(objects []*store.Object) {
	m.mu.Lock()
	m.objects = make(map[string]*store.Object, len(objects))
	for _, obj := range objects {
		if obj != nil && obj.ID != "" {
			m.objects[obj.ID] = obj
		}
	}
	m.mu.Unlock()
	logger.Info("Mirror loaded", "objects", len(objects))
}

// ApplyChange upserts the record, or deletes it when obj is nil. Must be
// called from the single change-feed consumer so updates for one id never
// interleave.
func (m *Mirror) ApplyChange(id string, obj *store.Object) {
	if obj == nil {
		m.mu.Lock()
		delete(m.objects, id)
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	m.objects[id] = obj
	m.mu.Unlock()

	if id == store.SystemConfig {
		m.applyLanguage(obj)
	}

	if m.updates != nil && (id == store.SystemRepositories || adapterDescriptor.MatchString(id)) {
		m.updates.Trigger()
	}
}

func (m *Mirror) applyLanguage(obj *store.Object) {
	if obj.Common == nil || obj.Common.Language == "" {
		return
	}
	m.mu.Lock()
	changed := m.language != obj.Common.Language
	m.language = obj.Common.Language
	listener := m.listener
	m.mu.Unlock()

	if changed && listener != nil {
		// Notification, not a blocking call.
		go listener.SetLanguage(obj.Common.Language)
	}
}

// Get returns the mirrored record for id, or nil when absent.
func (m *Mirror) Get(id string) *store.Object {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.objects[id]
}

// Language returns the active display language.
func (m *Mirror) Language() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.language
}

// Len returns the number of mirrored records.
func (m *Mirror) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// Stop cancels the pending debounced recomputation, if any.
func (m *Mirror) Stop() {
	if m.updates != nil {
		m.updates.Stop()
	}
}
