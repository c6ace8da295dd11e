package mirror

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homegrid/admind/internal/store"
)

type recordingLanguageListener struct {
	mu    sync.Mutex
	langs []string
}

func (l *recordingLanguageListener) SetLanguage(lang string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.langs = append(l.langs, lang)
}

func (l *recordingLanguageListener) received() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string{}, l.langs...)
}

func TestMirror_ApplyChange_UpsertAndDelete(t *testing.T) {
	m := New()

	obj := &store.Object{ID: "system.adapter.demo.0", Type: "instance"}
	m.ApplyChange("system.adapter.demo.0", obj)
	assert.Same(t, obj, m.Get("system.adapter.demo.0"))
	assert.Equal(t, 1, m.Len())

	m.ApplyChange("system.adapter.demo.0", nil)
	assert.Nil(t, m.Get("system.adapter.demo.0"))
	assert.Zero(t, m.Len())
}

func TestMirror_Load(t *testing.T) {
	m := New()
	m.Load([]*store.Object{
		{ID: "a.0"},
		{ID: "b.0"},
		nil, // tolerated
	})
	assert.Equal(t, 2, m.Len())
	assert.NotNil(t, m.Get("a.0"))
}

func TestMirror_LanguageChangeNotifiesListener(t *testing.T) {
	m := New()
	listener := &recordingLanguageListener{}
	m.SetLanguageListener(listener)

	m.ApplyChange(store.SystemConfig, &store.Object{
		ID:     store.SystemConfig,
		Common: &store.Common{Language: "de"},
	})

	require.Eventually(t, func() bool {
		return len(listener.received()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "de", m.Language())
	assert.Equal(t, []string{"de"}, listener.received())

	// same language again: no second notification
	m.ApplyChange(store.SystemConfig, &store.Object{
		ID:     store.SystemConfig,
		Common: &store.Common{Language: "de"},
	})
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, listener.received(), 1)
}

func TestMirror_DebounceCoalescesQualifyingChanges(t *testing.T) {
	m := New()
	var recomputes atomic.Int32
	m.SetUpdateTrigger(120*time.Millisecond, func() { recomputes.Add(1) })
	defer m.Stop()

	repoObj := &store.Object{ID: store.SystemRepositories}
	descriptor := &store.Object{ID: "system.adapter.hue", Type: "adapter"}

	m.ApplyChange(store.SystemRepositories, repoObj)
	time.Sleep(40 * time.Millisecond)
	m.ApplyChange("system.adapter.hue", descriptor)
	time.Sleep(40 * time.Millisecond)
	m.ApplyChange(store.SystemRepositories, repoObj)

	// the delay restarts with every qualifying change: 140ms after the
	// first change only 60ms have passed since the last one
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), recomputes.Load())

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), recomputes.Load())
}

func TestMirror_NonQualifyingChangesDoNotTrigger(t *testing.T) {
	m := New()
	var recomputes atomic.Int32
	m.SetUpdateTrigger(30*time.Millisecond, func() { recomputes.Add(1) })
	defer m.Stop()

	// instance states and deep adapter ids do not qualify
	m.ApplyChange("system.adapter.hue.0", &store.Object{ID: "system.adapter.hue.0"})
	m.ApplyChange("system.adapter.hue.0.alive", &store.Object{ID: "system.adapter.hue.0.alive"})
	m.ApplyChange("alias.0.kitchen", &store.Object{ID: "alias.0.kitchen"})

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), recomputes.Load())
}

func TestMirror_DeleteNeverTriggers(t *testing.T) {
	m := New()
	var recomputes atomic.Int32
	m.SetUpdateTrigger(30*time.Millisecond, func() { recomputes.Add(1) })
	defer m.Stop()

	m.ApplyChange(store.SystemRepositories, nil)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), recomputes.Load())
}
