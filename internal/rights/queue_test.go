package rights

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homegrid/admind/internal/store"
)

// rightsStore records SetObject calls and asserts that at most one write
// is ever in flight.
type rightsStore struct {
	mu      sync.Mutex
	objects map[string]*store.Object
	written []string

	inFlight   atomic.Int32
	overlapped atomic.Bool
}

func newRightsStore(objects ...*store.Object) *rightsStore {
	s := &rightsStore{objects: map[string]*store.Object{}}
	for _, obj := range objects {
		s.objects[obj.ID] = obj
	}
	return s
}

func (s *rightsStore) GetObject(_ context.Context, id string) (*store.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return obj, nil
}

func (s *rightsStore) SetObject(_ context.Context, id string, obj *store.Object) error {
	if s.inFlight.Add(1) > 1 {
		s.overlapped.Store(true)
	}
	time.Sleep(2 * time.Millisecond)
	s.inFlight.Add(-1)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[id] = obj
	s.written = append(s.written, id)
	return nil
}

func (s *rightsStore) GetObjectsByPrefix(_ context.Context, prefix string, types []string) ([]*store.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.Object
	for _, obj := range s.objects {
		if !strings.HasPrefix(obj.ID, prefix) {
			continue
		}
		for _, typ := range types {
			if obj.Type == typ {
				out = append(out, obj)
				break
			}
		}
	}
	return out, nil
}

func (s *rightsStore) writtenIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.written...)
}

func TestNormalizeUser(t *testing.T) {
	assert.Equal(t, "system.user.admin", NormalizeUser("admin"))
	assert.Equal(t, "system.user.admin", NormalizeUser(""))
	assert.Equal(t, "system.user.operator", NormalizeUser("system.user.operator"))
}

func TestQueue_SkipsAlreadyCorrectOwners(t *testing.T) {
	st := newRightsStore(
		&store.Object{ID: "system.adapter.hue", ACL: &store.ACL{Owner: "system.user.root"}},
		&store.Object{ID: "system.adapter.sonos", ACL: &store.ACL{Owner: "system.user.admin"}},
		&store.Object{ID: "system.adapter.zwave"},
	)

	ctx, cancel := context.WithCancel(context.Background())
	q := NewQueue(st, "admin")
	q.Start(ctx)

	for _, id := range []string{"system.adapter.hue", "system.adapter.sonos", "system.adapter.zwave"} {
		require.NoError(t, q.EnqueueObject(ctx, id))
	}

	require.Eventually(t, func() bool {
		return q.Pending() == 0 && len(st.writtenIDs()) == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	q.Wait()

	// the already-correct owner is never rewritten
	assert.ElementsMatch(t, []string{"system.adapter.hue", "system.adapter.zwave"}, st.writtenIDs())
	obj, err := st.GetObject(context.Background(), "system.adapter.hue")
	require.NoError(t, err)
	assert.Equal(t, "system.user.admin", obj.ACL.Owner)
}

func TestQueue_WritesSerializedInFIFOOrder(t *testing.T) {
	objects := []*store.Object{
		{ID: "alias.a", Type: "state"},
		{ID: "alias.b", Type: "state"},
		{ID: "alias.c", Type: "channel"},
		{ID: "alias.d", Type: "state"},
		{ID: "alias.e", Type: "channel"},
	}
	st := newRightsStore(objects...)

	ctx, cancel := context.WithCancel(context.Background())
	q := NewQueue(st, "operator")
	q.Start(ctx)

	for _, obj := range objects {
		require.NoError(t, q.EnqueueObject(ctx, obj.ID))
	}

	require.Eventually(t, func() bool {
		return len(st.writtenIDs()) == len(objects)
	}, time.Second, 5*time.Millisecond)

	cancel()
	q.Wait()

	assert.False(t, st.overlapped.Load(), "writes must never overlap")
	assert.Equal(t, []string{"alias.a", "alias.b", "alias.c", "alias.d", "alias.e"}, st.writtenIDs())
	for _, obj := range objects {
		got, err := st.GetObject(context.Background(), obj.ID)
		require.NoError(t, err)
		assert.Equal(t, "system.user.operator", got.ACL.Owner)
	}
}

func TestQueue_EnqueuePatternFiltersByType(t *testing.T) {
	st := newRightsStore(
		&store.Object{ID: "alias.0.kitchen", Type: "state"},
		&store.Object{ID: "alias.0.rooms", Type: "channel"},
		&store.Object{ID: "alias.0.meta", Type: "meta"},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := NewQueue(st, "admin")

	require.NoError(t, q.EnqueuePattern(ctx, "alias", []string{"state", "channel"}))
	assert.Equal(t, 2, q.Pending())
}

func TestQueue_ApplyAccessLists(t *testing.T) {
	st := newRightsStore(
		&store.Object{ID: "system.adapter.hue", Type: "adapter"},
		&store.Object{ID: "javascript.0.script.lights", Type: "script"},
		&store.Object{ID: "alias.0.kitchen", Type: "state"},
	)

	ctx, cancel := context.WithCancel(context.Background())
	q := NewQueue(st, "admin")
	q.Start(ctx)

	// "missing" is tolerated, tab prefixes select their object trees
	q.Apply(ctx, []string{"hue", "missing"}, []string{"javascript.0", "devices.0"})

	require.Eventually(t, func() bool {
		return len(st.writtenIDs()) == 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	q.Wait()

	assert.ElementsMatch(t, []string{
		"system.adapter.hue",
		"javascript.0.script.lights",
		"alias.0.kitchen",
	}, st.writtenIDs())
}

func TestQueue_CancelStopsWorker(t *testing.T) {
	st := newRightsStore()

	ctx, cancel := context.WithCancel(context.Background())
	q := NewQueue(st, "admin")
	q.Start(ctx)
	cancel()
	q.Wait()

	// starting again after shutdown is a no-op, not a panic
	q.Start(ctx)
}
