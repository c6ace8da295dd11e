package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/homegrid/admind/pkg/logger"
)

// Subjects of the object-store service on the platform bus.
const (
	subjObjectGet    = "objects.get"
	subjObjectSet    = "objects.set"
	subjObjectList   = "objects.list"
	subjObjectPrefix = "objects.prefix"
	subjStateGet     = "states.get"
	subjStateSet     = "states.set"
	subjChangeFeed   = "objects.change.>"
	subjChangePrefix = "objects.change."
)

const errNotFoundMarker = "notFound"

type natsStore struct {
	nc *nats.Conn

	mu   sync.Mutex
	subs []*nats.Subscription
}

// DialNATS connects to the platform object store over NATS.
func DialNATS(url string) (Store, error) {
	nc, err := nats.Connect(url,
		nats.Name("admind"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect object store: %w", err)
	}
	logger.Info("Connected to object store", "url", url)
	return &natsStore{nc: nc}, nil
}

type objectRequest struct {
	ID     string   `json:"id,omitempty"`
	Object *Object  `json:"object,omitempty"`
	Prefix string   `json:"prefix,omitempty"`
	Types  []string `json:"types,omitempty"`
	Val    any      `json:"val,omitempty"`
	Ack    bool     `json:"ack,omitempty"`
}

type objectReply struct {
	Error   string    `json:"error,omitempty"`
	Object  *Object   `json:"object,omitempty"`
	Objects []*Object `json:"objects,omitempty"`
	State   *State    `json:"state,omitempty"`
}

func (s *natsStore) request(ctx context.Context, subject string, req objectRequest) (*objectReply, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	msg, err := s.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", subject, err)
	}
	var reply objectReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return nil, fmt.Errorf("decode reply from %s: %w", subject, err)
	}
	if reply.Error == errNotFoundMarker {
		return nil, ErrNotFound
	}
	if reply.Error != "" {
		return nil, fmt.Errorf("store error on %s: %s", subject, reply.Error)
	}
	return &reply, nil
}

func (s *natsStore) GetObject(ctx context.Context, id string) (*Object, error) {
	reply, err := s.request(ctx, subjObjectGet, objectRequest{ID: id})
	if err != nil {
		return nil, err
	}
	if reply.Object == nil {
		return nil, ErrNotFound
	}
	return reply.Object, nil
}

func (s *natsStore) SetObject(ctx context.Context, id string, obj *Object) error {
	obj.ID = id
	_, err := s.request(ctx, subjObjectSet, objectRequest{ID: id, Object: obj})
	return err
}

func (s *natsStore) GetObjectsByPrefix(ctx context.Context, prefix string, types []string) ([]*Object, error) {
	reply, err := s.request(ctx, subjObjectPrefix, objectRequest{Prefix: prefix, Types: types})
	if err != nil {
		return nil, err
	}
	return reply.Objects, nil
}

func (s *natsStore) ListObjects(ctx context.Context) ([]*Object, error) {
	reply, err := s.request(ctx, subjObjectList, objectRequest{})
	if err != nil {
		return nil, err
	}
	return reply.Objects, nil
}

func (s *natsStore) GetState(ctx context.Context, id string) (*State, error) {
	reply, err := s.request(ctx, subjStateGet, objectRequest{ID: id})
	if err != nil {
		return nil, err
	}
	if reply.State == nil {
		return nil, ErrNotFound
	}
	return reply.State, nil
}

func (s *natsStore) SetState(ctx context.Context, id string, val any, ack bool) error {
	_, err := s.request(ctx, subjStateSet, objectRequest{ID: id, Val: val, Ack: ack})
	return err
}

func (s *natsStore) Subscribe(ctx context.Context) (<-chan Change, error) {
	ch := make(chan Change, 256)
	sub, err := s.nc.Subscribe(subjChangeFeed, func(msg *nats.Msg) {
		var change Change
		if err := json.Unmarshal(msg.Data, &change); err != nil {
			logger.Warn("Dropping malformed change notification", "subject", msg.Subject, "error", err)
			return
		}
		if change.ID == "" {
			change.ID = msg.Subject[len(subjChangePrefix):]
		}
		select {
		case ch <- change:
		default:
			// The consumer fell behind; the mirror reconciles on the next
			// change for the same id, so dropping is safe here.
			logger.Warn("Change feed buffer full, dropping notification", "id", change.ID)
		}
	})
	if err != nil {
		close(ch)
		return nil, fmt.Errorf("subscribe change feed: %w", err)
	}

	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
		close(ch)
	}()

	return ch, nil
}

func (s *natsStore) Close() error {
	s.mu.Lock()
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.subs = nil
	s.mu.Unlock()
	s.nc.Close()
	return nil
}
