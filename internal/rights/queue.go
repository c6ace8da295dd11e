// Package rights serializes bulk ownership rewrites across stored objects.
// The store gives no transactional guarantee for overlapping writes, so a
// single consumer drains the queue with at most one write in flight.
package rights

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/homegrid/admind/internal/metrics"
	"github.com/homegrid/admind/internal/store"
	"github.com/homegrid/admind/pkg/logger"
)

// DefaultQueueSize bounds the task queue. Batches larger than this block
// the enqueuer until the worker catches up.
const DefaultQueueSize = 1024

// Task is one queued ownership correction.
type Task struct {
	ID     string
	Object *store.Object
}

// ObjectStore is the slice of the store the queue works against.
type ObjectStore interface {
	GetObject(ctx context.Context, id string) (*store.Object, error)
	SetObject(ctx context.Context, id string, obj *store.Object) error
	GetObjectsByPrefix(ctx context.Context, prefix string, types []string) ([]*store.Object, error)
}

// Queue is the serialized rights-propagation worker. Queued tasks are
// best-effort: shutdown discards them.
type Queue struct {
	store       ObjectStore
	defaultUser string

	tasks   chan Task
	done    chan struct{}
	startMu sync.Mutex
	started bool
}

// NewQueue creates a rights queue rewriting owners to defaultUser.
func NewQueue(st ObjectStore, defaultUser string) *Queue {
	return &Queue{
		store:       st,
		defaultUser: NormalizeUser(defaultUser),
		tasks:       make(chan Task, DefaultQueueSize),
		done:        make(chan struct{}),
	}
}

// NormalizeUser qualifies a bare user name into the system user hierarchy.
func NormalizeUser(user string) string {
	if user == "" {
		user = "admin"
	}
	if !strings.HasPrefix(user, "system.user.") {
		return "system.user." + user
	}
	return user
}

// Start launches the single consumer. The worker exits when ctx is
// canceled; tasks still queued at that point are discarded.
func (q *Queue) Start(ctx context.Context) {
	q.startMu.Lock()
	defer q.startMu.Unlock()
	if q.started {
		return
	}
	q.started = true
	go q.drain(ctx)
}

// Wait blocks until the worker has exited.
func (q *Queue) Wait() {
	<-q.done
}

func (q *Queue) drain(ctx context.Context) {
	defer close(q.done)
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-q.tasks:
			q.process(ctx, task)
		}
	}
}

// process applies one task. Writes happen strictly one at a time: the
// worker does not pick the next task before this write returned.
func (q *Queue) process(ctx context.Context, task Task) {
	obj := task.Object
	if obj == nil {
		return
	}
	if obj.ACL != nil && obj.ACL.Owner == q.defaultUser {
		metrics.RightsTasks.WithLabelValues("skipped").Inc()
		return
	}
	if obj.ACL == nil {
		obj.ACL = &store.ACL{}
	}
	obj.ACL.Owner = q.defaultUser

	if err := q.store.SetObject(ctx, task.ID, obj); err != nil {
		metrics.RightsTasks.WithLabelValues("failed").Inc()
		metrics.StoreWriteFailures.Inc()
		logger.Error("Cannot update object rights", "id", task.ID, "error", err)
		return
	}
	metrics.RightsTasks.WithLabelValues("written").Inc()
	logger.Debug("Object owner corrected", "id", task.ID, "owner", q.defaultUser)
}

// EnqueuePattern scans the store for objects under pattern with the given
// type tags and queues each for ownership correction. Each queued task is
// independently idempotent, so batches for different patterns may be
// enqueued back-to-back.
func (q *Queue) EnqueuePattern(ctx context.Context, pattern string, types []string) error {
	objects, err := q.store.GetObjectsByPrefix(ctx, pattern+".", types)
	if err != nil {
		return fmt.Errorf("scan %q: %w", pattern, err)
	}
	for _, obj := range objects {
		select {
		case q.tasks <- Task{ID: obj.ID, Object: obj}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// EnqueueObject queues a single object by id.
func (q *Queue) EnqueueObject(ctx context.Context, id string) error {
	obj, err := q.store.GetObject(ctx, id)
	if err != nil {
		return fmt.Errorf("read %s: %w", id, err)
	}
	select {
	case q.tasks <- Task{ID: id, Object: obj}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of queued tasks. Test helper.
func (q *Queue) Pending() int {
	return len(q.tasks)
}
