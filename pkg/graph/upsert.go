package graph

import (
	"context"
	"fmt"

	"github.com/PiRogueToolSuite/threatr/pkg/logging"
	"github.com/PiRogueToolSuite/threatr/pkg/storage"
)

// Upserter is the idempotent create-or-merge engine for entities, relations
// and events. Rows are keyed by natural identity, not by the request that
// produced them, so concurrent normalization runs touching the same
// observable converge to one row. Natural-key collisions raised by the
// store are handled as retry-as-lookup.
type Upserter struct {
	store  storage.Store
	logger logging.Logger
}

// NewUpserter creates an upsert engine over the given store.
func NewUpserter(store storage.Store, logger logging.Logger) *Upserter {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Upserter{store: store, logger: logger.With(logging.Component("graph"))}
}

// UpsertEntity creates the entity described by defaults, or merges defaults
// into the row already holding its natural key (name, super-type, type).
// Returns the stored row and whether it was created by this call.
func (u *Upserter) UpsertEntity(ctx context.Context, defaults *storage.Entity) (*storage.Entity, bool, error) {
	if defaults.TLP == "" {
		defaults.TLP = storage.MarkerWhite
	}
	if defaults.PAP == "" {
		defaults.PAP = storage.MarkerWhite
	}

	existing, err := u.store.GetEntity(ctx, defaults.Name, defaults.SuperType, defaults.Type)
	if storage.IsNotFound(err) {
		createErr := u.store.CreateEntity(ctx, defaults)
		if createErr == nil {
			u.logger.Debug("entity created", logging.EntityName(defaults.Name))
			return defaults, true, nil
		}
		if !storage.IsConflict(createErr) {
			return nil, false, fmt.Errorf("upsert entity %q: %w", defaults.Name, createErr)
		}
		// Another writer created the row between lookup and create.
		existing, err = u.store.GetEntity(ctx, defaults.Name, defaults.SuperType, defaults.Type)
	}
	if err != nil {
		return nil, false, fmt.Errorf("upsert entity %q: %w", defaults.Name, err)
	}

	if mergeEntity(existing, defaults) {
		if err := u.store.UpdateEntity(ctx, existing); err != nil {
			return nil, false, fmt.Errorf("upsert entity %q: %w", defaults.Name, err)
		}
	}
	return existing, false, nil
}

// UpsertRelation creates or merges a directed labeled edge, keyed by
// (name, from, to).
func (u *Upserter) UpsertRelation(ctx context.Context, defaults *storage.EntityRelation) (*storage.EntityRelation, bool, error) {
	existing, err := u.store.GetRelation(ctx, defaults.Name, defaults.FromID, defaults.ToID)
	if storage.IsNotFound(err) {
		createErr := u.store.CreateRelation(ctx, defaults)
		if createErr == nil {
			return defaults, true, nil
		}
		if !storage.IsConflict(createErr) {
			return nil, false, fmt.Errorf("upsert relation %q: %w", defaults.Name, createErr)
		}
		existing, err = u.store.GetRelation(ctx, defaults.Name, defaults.FromID, defaults.ToID)
	}
	if err != nil {
		return nil, false, fmt.Errorf("upsert relation %q: %w", defaults.Name, err)
	}

	if mergeRelation(existing, defaults) {
		if err := u.store.UpdateRelation(ctx, existing); err != nil {
			return nil, false, fmt.Errorf("upsert relation %q: %w", defaults.Name, err)
		}
	}
	return existing, false, nil
}

// UpsertEvent creates or merges an event observation, keyed by
// (type, name, first-seen, last-seen, involved entity).
func (u *Upserter) UpsertEvent(ctx context.Context, defaults *storage.Event) (*storage.Event, bool, error) {
	if defaults.Count == 0 {
		defaults.Count = 1
	}

	existing, err := u.store.GetEvent(ctx, defaults.Type, defaults.Name,
		defaults.FirstSeen, defaults.LastSeen, defaults.InvolvedEntityID)
	if storage.IsNotFound(err) {
		createErr := u.store.CreateEvent(ctx, defaults)
		if createErr == nil {
			return defaults, true, nil
		}
		if !storage.IsConflict(createErr) {
			return nil, false, fmt.Errorf("upsert event %q: %w", defaults.Name, createErr)
		}
		existing, err = u.store.GetEvent(ctx, defaults.Type, defaults.Name,
			defaults.FirstSeen, defaults.LastSeen, defaults.InvolvedEntityID)
	}
	if err != nil {
		return nil, false, fmt.Errorf("upsert event %q: %w", defaults.Name, err)
	}

	if mergeEvent(existing, defaults) {
		if err := u.store.UpdateEvent(ctx, existing); err != nil {
			return nil, false, fmt.Errorf("upsert event %q: %w", defaults.Name, err)
		}
	}
	return existing, false, nil
}

// Store exposes the underlying store for read paths that sit next to the
// upsert engine (rendering, coalescing).
func (u *Upserter) Store() storage.Store {
	return u.store
}
