package storage

import (
	"context"
	"time"
)

// Store is the durable record store behind the aggregation pipeline.
// Implementations must enforce the natural-key uniqueness invariants
// atomically: Create* returns ErrConflict when a row with the same natural
// key already exists, so that concurrent writers converge on one row via
// retry-as-lookup.
type Store interface {
	// Entities. Natural key: (name, superType, type).
	GetEntity(ctx context.Context, name, superType, typ string) (*Entity, error)
	GetEntityByID(ctx context.Context, id string) (*Entity, error)
	CreateEntity(ctx context.Context, e *Entity) error
	UpdateEntity(ctx context.Context, e *Entity) error
	CountEntities(ctx context.Context) (int, error)

	// Relations. Natural key: (name, fromID, toID).
	GetRelation(ctx context.Context, name, fromID, toID string) (*EntityRelation, error)
	CreateRelation(ctx context.Context, r *EntityRelation) error
	UpdateRelation(ctx context.Context, r *EntityRelation) error
	RelationsOf(ctx context.Context, entityID string) ([]*EntityRelation, error)
	CountRelations(ctx context.Context) (int, error)

	// Events. Natural key: (type, name, firstSeen, lastSeen, involvedEntityID).
	GetEvent(ctx context.Context, typ, name string, firstSeen, lastSeen time.Time, entityID string) (*Event, error)
	CreateEvent(ctx context.Context, ev *Event) error
	UpdateEvent(ctx context.Context, ev *Event) error
	DeleteEvent(ctx context.Context, id string) error
	EventsOf(ctx context.Context, entityID string) ([]*Event, error)
	CountEvents(ctx context.Context) (int, error)

	// Requests. Never deleted; latest first.
	CreateRequest(ctx context.Context, r *Request) error
	GetRequest(ctx context.Context, id string) (*Request, error)
	LatestRequest(ctx context.Context, value, superType, typ string) (*Request, error)
	ListRequests(ctx context.Context) ([]*Request, error)
	// TransitionRequest atomically moves a request to the given status.
	// Terminal states are sticky: transitioning out of SUCCEEDED, FAILED or
	// CANCELLED fails with ErrTerminalStatus.
	TransitionRequest(ctx context.Context, id string, to RequestStatus) (*Request, error)

	// Credentials, ordered by last usage for rotation.
	UpsertCredentials(ctx context.Context, c *VendorCredentials) error
	LeastUsedCredentials(ctx context.Context, vendor string) (*VendorCredentials, error)
	TouchCredentials(ctx context.Context, id string, usedAt time.Time) error
	CountCredentials(ctx context.Context, vendor string) (int, error)

	// Ping checks the store is reachable.
	Ping(ctx context.Context) error
	Close() error
}
