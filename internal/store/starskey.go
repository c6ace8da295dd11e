package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/starskey-io/starskey"

	"github.com/homegrid/admind/pkg/logger"
)

// Key prefixes inside the embedded database. Objects and states share one
// keyspace, disambiguated by prefix.
const (
	keyObject = "obj:"
	keyState  = "st:"
)

// embeddedStore is a starskey-backed store for standalone mode and tests.
// It emulates the remote store's change feed by fanning out local writes.
type embeddedStore struct {
	db *starskey.Starskey

	mu   sync.Mutex
	subs []chan Change
}

// OpenEmbedded opens a local starskey-backed object store under dir.
func OpenEmbedded(dir string) (Store, error) {
	db, err := starskey.Open(&starskey.Config{
		Permission:        0755,
		Directory:         dir,
		FlushThreshold:    8 * 1024 * 1024,
		MaxLevel:          3,
		SizeFactor:        10,
		BloomFilter:       true,
		SuRF:              true, // prefix scans need range support
		Logging:           false,
		Compression:       true,
		CompressionOption: starskey.SnappyCompression,
	})
	if err != nil {
		return nil, fmt.Errorf("open embedded store: %w", err)
	}
	logger.Info("Opened embedded object store", "path", dir)
	return &embeddedStore{db: db}, nil
}

func (s *embeddedStore) GetObject(_ context.Context, id string) (*Object, error) {
	value, err := s.db.Get([]byte(keyObject + id))
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", id, err)
	}
	if value == nil {
		return nil, ErrNotFound
	}
	var obj Object
	if err := json.Unmarshal(value, &obj); err != nil {
		return nil, fmt.Errorf("decode object %s: %w", id, err)
	}
	return &obj, nil
}

func (s *embeddedStore) SetObject(_ context.Context, id string, obj *Object) error {
	obj.ID = id
	obj.TS = time.Now().UnixMilli()

	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("encode object %s: %w", id, err)
	}
	err = s.db.Update(func(txn *starskey.Txn) error {
		txn.Put([]byte(keyObject+id), data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("write object %s: %w", id, err)
	}

	s.notify(Change{ID: id, Object: obj})
	return nil
}

func (s *embeddedStore) GetObjectsByPrefix(_ context.Context, prefix string, types []string) ([]*Object, error) {
	objects, err := s.scan(keyObject + prefix)
	if err != nil {
		return nil, err
	}
	var out []*Object
	for _, obj := range objects {
		if matchesTypes(obj, types) {
			out = append(out, obj)
		}
	}
	return out, nil
}

func (s *embeddedStore) ListObjects(_ context.Context) ([]*Object, error) {
	return s.scan(keyObject)
}

func (s *embeddedStore) scan(prefix string) ([]*Object, error) {
	results, err := s.db.FilterKeys(func(key []byte) bool {
		return strings.HasPrefix(string(key), prefix)
	})
	if err != nil {
		return nil, fmt.Errorf("scan %q: %w", prefix, err)
	}

	var objects []*Object
	// FilterKeys returns key/value pairs interleaved
	for i := 0; i+1 < len(results); i += 2 {
		var obj Object
		if err := json.Unmarshal(results[i+1], &obj); err != nil {
			logger.Warn("Skipping undecodable object", "key", string(results[i]), "error", err)
			continue
		}
		objects = append(objects, &obj)
	}
	return objects, nil
}

func (s *embeddedStore) GetState(_ context.Context, id string) (*State, error) {
	value, err := s.db.Get([]byte(keyState + id))
	if err != nil {
		return nil, fmt.Errorf("get state %s: %w", id, err)
	}
	if value == nil {
		return nil, ErrNotFound
	}
	var st State
	if err := json.Unmarshal(value, &st); err != nil {
		return nil, fmt.Errorf("decode state %s: %w", id, err)
	}
	return &st, nil
}

func (s *embeddedStore) SetState(_ context.Context, id string, val any, ack bool) error {
	st := State{Val: val, Ack: ack, TS: time.Now().UnixMilli()}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode state %s: %w", id, err)
	}
	err = s.db.Update(func(txn *starskey.Txn) error {
		txn.Put([]byte(keyState+id), data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("write state %s: %w", id, err)
	}
	return nil
}

func (s *embeddedStore) Subscribe(ctx context.Context) (<-chan Change, error) {
	ch := make(chan Change, 256)

	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		for i, sub := range s.subs {
			if sub == ch {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}

func (s *embeddedStore) notify(change Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		select {
		case sub <- change:
		default:
			logger.Warn("Local change feed buffer full, dropping notification", "id", change.ID)
		}
	}
}

func (s *embeddedStore) Close() error {
	s.mu.Lock()
	s.subs = nil
	s.mu.Unlock()
	return s.db.Close()
}
