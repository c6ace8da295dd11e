// Package ratings refreshes the usage-rating document for this
// installation, keyed by the anonymous installation identifier.
package ratings

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/homegrid/admind/internal/metrics"
	"github.com/homegrid/admind/internal/sched"
	"github.com/homegrid/admind/pkg/logger"
)

// PollInterval is the wholesale refresh interval.
const PollInterval = 24 * time.Hour

// Poller fetches the rating document every 24 hours. Without an
// installation identifier the poller never activates.
type Poller struct {
	client  *http.Client
	baseURL string
	uuid    string

	mu      sync.RWMutex
	current map[string]any

	timer *sched.Timer
}

// NewPoller creates a ratings poller for the given installation uuid.
func NewPoller(client *http.Client, baseURL, uuid string) *Poller {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Poller{
		client:  client,
		baseURL: baseURL,
		uuid:    uuid,
		current: map[string]any{},
	}
}

// Start runs the first refresh and reschedules every 24 hours. A poller
// without a uuid stays inactive.
func (p *Poller) Start(ctx context.Context) {
	if p.uuid == "" {
		logger.Warn("No installation identifier, ratings stay disabled")
		return
	}
	p.timer = sched.NewTimer(func() { p.poll(ctx) })
	go p.poll(ctx)
}

// Stop cancels the pending timer.
func (p *Poller) Stop() {
	if p.timer != nil {
		p.timer.Stop()
	}
}

func (p *Poller) poll(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := p.RunCycle(ctx); err != nil {
		metrics.PollCycles.WithLabelValues("ratings", "error").Inc()
		logger.Error("Cannot update ratings", "error", err)
	} else {
		metrics.PollCycles.WithLabelValues("ratings", "ok").Inc()
		logger.Info("Component ratings updated")
	}
	if p.timer != nil {
		p.timer.Rearm(PollInterval)
	}
}

// RunCycle fetches the rating document and replaces the in-memory copy
// wholesale. A non-object payload is normalized to an empty object; the
// installation identifier is re-stamped onto the result in every case,
// including parse-failure paths that keep the previous document.
func (p *Poller) RunCycle(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s?uuid=%s", p.baseURL, url.QueryEscape(p.uuid))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.restamp()
		return fmt.Errorf("fetch ratings: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		p.restamp()
		return fmt.Errorf("read ratings: %w", err)
	}

	var parsed any
	if err := json.Unmarshal(body, &parsed); err != nil {
		logger.Error("Cannot parse ratings", "error", err)
		p.restamp()
		return nil
	}

	doc, ok := parsed.(map[string]any)
	if !ok {
		// arrays and scalars would break downstream consumers
		doc = map[string]any{}
	}
	doc["uuid"] = p.uuid

	p.mu.Lock()
	p.current = doc
	p.mu.Unlock()
	return nil
}

// restamp keeps the previous document but guarantees the uuid field.
func (p *Poller) restamp() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		p.current = map[string]any{}
	}
	p.current["uuid"] = p.uuid
}

// Current returns the active rating document.
func (p *Poller) Current() map[string]any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]any, len(p.current))
	for k, v := range p.current {
		out[k] = v
	}
	return out
}
