package realtime

import (
	"encoding/json"

	"github.com/factorypulse/pulse/internal/rfq/cache"
	"github.com/factorypulse/pulse/internal/rfq/entity"
	"github.com/factorypulse/pulse/internal/rfq/state"
	"go.uber.org/zap"
)

// Notifier forwards an applied change to connected UI clients.
type Notifier interface {
	NotifyChange(orgID string, event ChangeEvent)
}

// Reconciler is the single consumer of the change event stream. It merges
// events into the project store by id, drops the affected cache scope and
// re-broadcasts to SSE clients. Applying the same event twice converges
// to the same state.
type Reconciler struct {
	store    *state.ProjectStore
	cache    *cache.QueryCache
	notifier Notifier
	logger   *zap.Logger
}

// NewReconciler creates a reconciler; notifier may be nil.
func NewReconciler(store *state.ProjectStore, qc *cache.QueryCache, notifier Notifier, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		store:    store,
		cache:    qc,
		notifier: notifier,
		logger:   logger,
	}
}

// Run consumes events until the channel closes.
func (r *Reconciler) Run(events <-chan ChangeEvent) {
	for event := range events {
		r.Apply(event)
	}
}

// Apply merges one event into local state.
func (r *Reconciler) Apply(event ChangeEvent) {
	id := event.RecordID()
	if id == "" {
		r.logger.Warn("Change event without record id, skipping",
			zap.String("type", string(event.Type)))
		return
	}

	switch event.Type {
	case EventInsert:
		project, err := decodeProject(event.New)
		if err != nil {
			r.logger.Warn("Failed to decode inserted project", zap.Error(err))
			return
		}
		r.store.InsertIfAbsent(*project)

	case EventUpdate:
		if !r.store.MergeFields(id, event.New) {
			// Record unknown locally: treat like an insert so late
			// joiners still converge.
			project, err := decodeProject(event.New)
			if err != nil {
				r.logger.Warn("Failed to decode updated project", zap.Error(err))
				return
			}
			project.ID = id
			r.store.InsertIfAbsent(*project)
		}

	case EventDelete:
		r.store.Remove(id)

	default:
		r.logger.Warn("Unknown change event type", zap.String("type", string(event.Type)))
		return
	}

	if r.cache != nil && event.OrgID != "" {
		r.cache.InvalidateScope(event.OrgID)
	}
	if r.notifier != nil {
		r.notifier.NotifyChange(event.OrgID, event)
	}
}

func decodeProject(fields map[string]interface{}) (*entity.Project, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	var project entity.Project
	if err := json.Unmarshal(raw, &project); err != nil {
		return nil, err
	}
	return &project, nil
}
