package updates

import (
	"context"
	"fmt"

	"github.com/homegrid/admind/internal/store"
)

// infoObject describes one of the published state objects.
type infoObject struct {
	suffix string
	name   string
	role   string
	typ    string
	def    any
}

var infoObjects = []infoObject{
	{StateUpdatesNumber, "Number of components to update", "indicator.updates", "number", 0},
	{StateUpdatesList, "List of components to update", "indicator.updates", "string", ""},
	{StateNewUpdates, "Indicator if new component updates are available", "indicator.updates", "boolean", false},
	{StateUpdatesJSON, "JSON string with component update information", "indicator.updates", "string", "{}"},
	{StateLastUpdateCheck, "Timestamp of last update check", "value.time", "number", 0},
}

// EnsureInfoObjects creates the published state objects when they are
// missing or carry the wrong value type, so readers always find properly
// typed states under the namespace.
func (e *Engine) EnsureInfoObjects(ctx context.Context) error {
	var firstErr error
	for _, def := range infoObjects {
		id := e.stateID(def.suffix)
		existing := e.mirror.Get(id)
		if existing != nil && existing.Common != nil && existing.Common.Type == def.typ {
			continue
		}
		obj := &store.Object{
			ID:   id,
			Type: "state",
			Common: &store.Common{
				Name:  def.name,
				Role:  def.role,
				Type:  def.typ,
				Read:  true,
				Write: false,
				Def:   def.def,
			},
			Native: map[string]any{},
		}
		if err := e.states.SetObject(ctx, id, obj); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("create %s: %w", id, err)
		}
	}
	return firstErr
}
