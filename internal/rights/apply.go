package rights

import (
	"context"
	"errors"
	"strings"

	"github.com/homegrid/admind/internal/store"
	"github.com/homegrid/admind/pkg/logger"
)

// tabPattern maps an allowed-tab prefix to the object pattern and type
// tags whose ownership must follow the configured default identity.
type tabPattern struct {
	prefix  string
	pattern string
	types   []string
}

var tabPatterns = []tabPattern{
	{"devices.", "alias", []string{"state", "channel"}},
	{"javascript.", "javascript", []string{"script", "channel"}},
	{"fullcalendar.", "fullcalendar", []string{"schedule"}},
	{"scenes.", "scenes", []string{"state", "channel"}},
}

// Apply queues ownership corrections for the configured access lists:
// directly allowed adapter configurations, and the object trees behind
// allowed tabs (aliases, scripts, schedules, scenes).
func (q *Queue) Apply(ctx context.Context, allowedConfigs, allowedTabs []string) {
	for _, id := range allowedConfigs {
		objID := "system.adapter." + id
		if err := q.EnqueueObject(ctx, objID); err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				logger.Warn("Cannot queue rights task", "id", objID, "error", err)
			}
			continue
		}
	}

	for _, tab := range allowedTabs {
		for _, tp := range tabPatterns {
			if !strings.HasPrefix(tab, tp.prefix) {
				continue
			}
			if err := q.EnqueuePattern(ctx, tp.pattern, tp.types); err != nil {
				logger.Warn("Cannot queue rights batch", "pattern", tp.pattern, "error", err)
			}
		}
	}
}
