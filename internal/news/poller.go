// Package news polls the platform news feed, content-addressed by a hash
// token, and maintains a retained, time-pruned history in the object store.
package news

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/homegrid/admind/internal/metrics"
	"github.com/homegrid/admind/internal/sched"
	"github.com/homegrid/admind/internal/store"
	"github.com/homegrid/admind/pkg/logger"
)

// Retention is the history window; older items are pruned on merge.
const Retention = 180 * 24 * time.Hour

// PollInterval is the unconditional reschedule interval. The extra
// millisecond keeps the next fire strictly past the 24h boundary.
const PollInterval = 24*time.Hour + time.Millisecond

// State id suffixes, relative to the namespace. Durable contract.
const (
	StateFeed   = "info.newsFeed"
	StateETag   = "info.newsETag"
	StateLastID = "info.newsLastId"
)

// Item is one news entry. Items are unique by creation timestamp.
type Item struct {
	Created   time.Time         `json:"created"`
	Title     map[string]string `json:"title,omitempty"`
	Content   map[string]string `json:"content,omitempty"`
	Class     string            `json:"class,omitempty"`
	Icon      string            `json:"fa-icon,omitempty"`
	Image     string            `json:"img,omitempty"`
	Link      string            `json:"link,omitempty"`
	LinkTitle string            `json:"linkTitle,omitempty"`
}

type hashToken struct {
	Hash string `json:"hash"`
}

// StateStore is the store slice the poller persists through.
type StateStore interface {
	GetState(ctx context.Context, id string) (*store.State, error)
	SetState(ctx context.Context, id string, val any, ack bool) error
}

// Poller fetches and merges the news feed every 24 hours.
type Poller struct {
	states    StateStore
	client    *http.Client
	hashURL   string
	feedURL   string
	namespace string

	timer *sched.Timer
	now   func() time.Time
}

// NewPoller creates a news poller publishing under the given namespace.
func NewPoller(states StateStore, client *http.Client, hashURL, feedURL, namespace string) *Poller {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Poller{
		states:    states,
		client:    client,
		hashURL:   hashURL,
		feedURL:   feedURL,
		namespace: namespace,
		now:       time.Now,
	}
}

func (p *Poller) stateID(suffix string) string {
	return p.namespace + "." + suffix
}

// Start runs the first cycle and keeps rescheduling until ctx is canceled.
func (p *Poller) Start(ctx context.Context) {
	p.timer = sched.NewTimer(func() { p.poll(ctx) })
	go p.poll(ctx)
}

// Stop cancels the pending timer.
func (p *Poller) Stop() {
	if p.timer != nil {
		p.timer.Stop()
	}
}

// poll runs one cycle and reschedules unconditionally, success or failure.
func (p *Poller) poll(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := p.RunCycle(ctx); err != nil {
		metrics.PollCycles.WithLabelValues("news", "error").Inc()
		logger.Error("Cannot update news", "error", err)
	} else {
		metrics.PollCycles.WithLabelValues("news", "ok").Inc()
	}
	if p.timer != nil {
		p.timer.Rearm(PollInterval)
	}
}

// RunCycle executes one fetch/merge/persist pass. A network or parse
// failure aborts the merge and persist steps for this cycle.
func (p *Poller) RunCycle(ctx context.Context) error {
	oldEtag := p.readString(ctx, StateETag)

	var token hashToken
	if err := p.fetchJSON(ctx, p.hashURL, &token); err != nil {
		return fmt.Errorf("read news hash: %w", err)
	}

	newEtag := oldEtag
	var incoming []Item
	if token.Hash != "" && token.Hash != oldEtag {
		newEtag = token.Hash
		if err := p.fetchJSON(ctx, p.feedURL, &incoming); err != nil {
			return fmt.Errorf("read news feed: %w", err)
		}
	}

	history := p.readHistory(ctx)
	before, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("encode news history: %w", err)
	}

	watermark := p.readWatermark(ctx)
	merged := Merge(history, incoming, watermark, p.now())

	after, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("encode news history: %w", err)
	}

	// persist only on actual change to avoid redundant writes
	if string(before) != string(after) {
		if err := p.states.SetState(ctx, p.stateID(StateFeed), string(after), true); err != nil {
			return fmt.Errorf("persist news feed: %w", err)
		}
	}
	if newEtag != oldEtag {
		if err := p.states.SetState(ctx, p.stateID(StateETag), newEtag, true); err != nil {
			return fmt.Errorf("persist news token: %w", err)
		}
	}
	return nil
}

// Merge admits incoming items strictly newer than the watermark and not
// already present by creation timestamp, sorts the result descending by
// creation time and prunes items older than the retention window.
func Merge(history, incoming []Item, watermark, now time.Time) []Item {
	for _, item := range incoming {
		if !item.Created.After(watermark) {
			continue
		}
		exists := false
		for _, have := range history {
			if have.Created.Equal(item.Created) {
				exists = true
				break
			}
		}
		if !exists {
			history = append(history, item)
		}
	}

	sort.Slice(history, func(i, j int) bool {
		return history[i].Created.After(history[j].Created)
	})

	cutoff := now.Add(-Retention)
	pruned := history[:0]
	for _, item := range history {
		if item.Created.After(cutoff) {
			pruned = append(pruned, item)
		}
	}
	return pruned
}

func (p *Poller) readString(ctx context.Context, suffix string) string {
	st, err := p.states.GetState(ctx, p.stateID(suffix))
	if err != nil || st == nil {
		return ""
	}
	s, _ := st.Val.(string)
	return s
}

func (p *Poller) readHistory(ctx context.Context) []Item {
	raw := p.readString(ctx, StateFeed)
	if raw == "" {
		return nil
	}
	var history []Item
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		logger.Warn("Ignoring corrupt news history", "error", err)
		return nil
	}
	return history
}

// readWatermark returns the last-seen-id timestamp. The UI maintains this
// state; the poller only reads it.
func (p *Poller) readWatermark(ctx context.Context) time.Time {
	st, err := p.states.GetState(ctx, p.stateID(StateLastID))
	if err != nil || st == nil {
		return time.Time{}
	}
	switch v := st.Val.(type) {
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
			if t, err := time.Parse(layout, v); err == nil {
				return t
			}
		}
	case float64:
		return time.UnixMilli(int64(v))
	}
	return time.Time{}
}

func (p *Poller) fetchJSON(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: unexpected status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("GET %s: decode: %w", url, err)
	}
	return nil
}
