package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func marshalAttributes(a Attributes) ([]byte, error) {
	if a == nil {
		a = make(Attributes)
	}
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal attributes: %w", err)
	}
	return data, nil
}

func unmarshalAttributes(data []byte, a *Attributes) error {
	if len(data) == 0 {
		*a = make(Attributes)
		return nil
	}
	if err := json.Unmarshal(data, a); err != nil {
		return fmt.Errorf("failed to unmarshal attributes: %w", err)
	}
	return nil
}

// Entities

func (s *PGStore) scanEntity(row pgx.Row) (*Entity, error) {
	e := &Entity{}
	var attrs []byte
	err := row.Scan(
		&e.ID, &e.Name, &e.Description, &e.SourceURL,
		&e.SuperType, &e.Type, &e.TLP, &e.PAP,
		&attrs, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalAttributes(attrs, &e.Attributes); err != nil {
		return nil, err
	}
	return e, nil
}

const entityColumns = `id, name, description, source_url, super_type, type, tlp, pap, attributes, created_at, updated_at`

func (s *PGStore) GetEntity(ctx context.Context, name, superType, typ string) (*Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities
		WHERE name = $1 AND upper(super_type) = upper($2) AND upper(type) = upper($3)`

	e, err := s.scanEntity(s.pool.QueryRow(ctx, query, name, superType, typ))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, NewError("GetEntity", "entity", name, ErrEntityNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	return e, nil
}

func (s *PGStore) GetEntityByID(ctx context.Context, id string) (*Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities WHERE id = $1`

	e, err := s.scanEntity(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, NewError("GetEntityByID", "entity", id, ErrEntityNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	return e, nil
}

func (s *PGStore) CreateEntity(ctx context.Context, e *Entity) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	attrs, err := marshalAttributes(e.Attributes)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO entities (id, name, description, source_url, super_type, type, tlp, pap, attributes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = s.pool.Exec(ctx, query,
		e.ID, e.Name, e.Description, e.SourceURL,
		e.SuperType, e.Type, e.TLP, e.PAP,
		attrs, e.CreatedAt, e.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return NewError("CreateEntity", "entity", e.Name, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to create entity: %w", err)
	}
	return nil
}

func (s *PGStore) UpdateEntity(ctx context.Context, e *Entity) error {
	e.UpdatedAt = time.Now().UTC()

	attrs, err := marshalAttributes(e.Attributes)
	if err != nil {
		return err
	}

	query := `
		UPDATE entities
		SET description = $2, source_url = $3, tlp = $4, pap = $5, attributes = $6, updated_at = $7
		WHERE id = $1
	`

	result, err := s.pool.Exec(ctx, query,
		e.ID, e.Description, e.SourceURL, e.TLP, e.PAP, attrs, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update entity: %w", err)
	}
	if result.RowsAffected() == 0 {
		return NewError("UpdateEntity", "entity", e.ID, ErrEntityNotFound)
	}
	return nil
}

func (s *PGStore) CountEntities(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM entities`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count entities: %w", err)
	}
	return n, nil
}

// Relations

const relationColumns = `id, name, description, from_id, to_id, attributes, created_at`

func (s *PGStore) scanRelation(row pgx.Row) (*EntityRelation, error) {
	r := &EntityRelation{}
	var attrs []byte
	err := row.Scan(&r.ID, &r.Name, &r.Description, &r.FromID, &r.ToID, &attrs, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := unmarshalAttributes(attrs, &r.Attributes); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *PGStore) GetRelation(ctx context.Context, name, fromID, toID string) (*EntityRelation, error) {
	query := `SELECT ` + relationColumns + ` FROM entity_relations
		WHERE name = $1 AND from_id = $2 AND to_id = $3`

	r, err := s.scanRelation(s.pool.QueryRow(ctx, query, name, fromID, toID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, NewError("GetRelation", "relation", name, ErrRelationNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get relation: %w", err)
	}
	return r, nil
}

func (s *PGStore) CreateRelation(ctx context.Context, r *EntityRelation) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	attrs, err := marshalAttributes(r.Attributes)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO entity_relations (id, name, description, from_id, to_id, attributes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = s.pool.Exec(ctx, query,
		r.ID, r.Name, r.Description, r.FromID, r.ToID, attrs, r.CreatedAt,
	)
	if isUniqueViolation(err) {
		return NewError("CreateRelation", "relation", r.Name, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to create relation: %w", err)
	}
	return nil
}

func (s *PGStore) UpdateRelation(ctx context.Context, r *EntityRelation) error {
	attrs, err := marshalAttributes(r.Attributes)
	if err != nil {
		return err
	}

	query := `UPDATE entity_relations SET description = $2, attributes = $3 WHERE id = $1`

	result, err := s.pool.Exec(ctx, query, r.ID, r.Description, attrs)
	if err != nil {
		return fmt.Errorf("failed to update relation: %w", err)
	}
	if result.RowsAffected() == 0 {
		return NewError("UpdateRelation", "relation", r.ID, ErrRelationNotFound)
	}
	return nil
}

func (s *PGStore) RelationsOf(ctx context.Context, entityID string) ([]*EntityRelation, error) {
	query := `SELECT ` + relationColumns + ` FROM entity_relations
		WHERE from_id = $1 OR to_id = $1
		ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list relations: %w", err)
	}
	defer rows.Close()

	var relations []*EntityRelation
	for rows.Next() {
		r, err := s.scanRelation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan relation: %w", err)
		}
		relations = append(relations, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating relations: %w", err)
	}
	return relations, nil
}

func (s *PGStore) CountRelations(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM entity_relations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count relations: %w", err)
	}
	return n, nil
}

// Events

const eventColumns = `id, type, name, description, first_seen, last_seen, count, involved_entity_id, attributes, created_at, updated_at`

func (s *PGStore) scanEvent(row pgx.Row) (*Event, error) {
	ev := &Event{}
	var attrs []byte
	err := row.Scan(
		&ev.ID, &ev.Type, &ev.Name, &ev.Description,
		&ev.FirstSeen, &ev.LastSeen, &ev.Count, &ev.InvolvedEntityID,
		&attrs, &ev.CreatedAt, &ev.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalAttributes(attrs, &ev.Attributes); err != nil {
		return nil, err
	}
	return ev, nil
}

func (s *PGStore) GetEvent(ctx context.Context, typ, name string, firstSeen, lastSeen time.Time, entityID string) (*Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events
		WHERE upper(type) = upper($1) AND name = $2 AND first_seen = $3 AND last_seen = $4 AND involved_entity_id = $5`

	ev, err := s.scanEvent(s.pool.QueryRow(ctx, query, typ, name, firstSeen, lastSeen, entityID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, NewError("GetEvent", "event", name, ErrEventNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return ev, nil
}

func (s *PGStore) CreateEvent(ctx context.Context, ev *Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = now
	}
	ev.UpdatedAt = now

	attrs, err := marshalAttributes(ev.Attributes)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO events (id, type, name, description, first_seen, last_seen, count, involved_entity_id, attributes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = s.pool.Exec(ctx, query,
		ev.ID, ev.Type, ev.Name, ev.Description,
		ev.FirstSeen, ev.LastSeen, ev.Count, ev.InvolvedEntityID,
		attrs, ev.CreatedAt, ev.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return NewError("CreateEvent", "event", ev.Name, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}
	return nil
}

func (s *PGStore) UpdateEvent(ctx context.Context, ev *Event) error {
	ev.UpdatedAt = time.Now().UTC()

	attrs, err := marshalAttributes(ev.Attributes)
	if err != nil {
		return err
	}

	query := `
		UPDATE events
		SET description = $2, first_seen = $3, last_seen = $4, count = $5, attributes = $6, updated_at = $7
		WHERE id = $1
	`

	result, err := s.pool.Exec(ctx, query,
		ev.ID, ev.Description, ev.FirstSeen, ev.LastSeen, ev.Count, attrs, ev.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return NewError("UpdateEvent", "event", ev.Name, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to update event: %w", err)
	}
	if result.RowsAffected() == 0 {
		return NewError("UpdateEvent", "event", ev.ID, ErrEventNotFound)
	}
	return nil
}

func (s *PGStore) DeleteEvent(ctx context.Context, id string) error {
	result, err := s.pool.Exec(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	if result.RowsAffected() == 0 {
		return NewError("DeleteEvent", "event", id, ErrEventNotFound)
	}
	return nil
}

func (s *PGStore) EventsOf(ctx context.Context, entityID string) ([]*Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events
		WHERE involved_entity_id = $1
		ORDER BY first_seen DESC`

	rows, err := s.pool.Query(ctx, query, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		ev, err := s.scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}

func (s *PGStore) CountEvents(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

// Requests

const requestColumns = `id, value, super_type, type, status, created_at`

func (s *PGStore) scanRequest(row pgx.Row) (*Request, error) {
	r := &Request{}
	err := row.Scan(&r.ID, &r.Value, &r.SuperType, &r.Type, &r.Status, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *PGStore) CreateRequest(ctx context.Context, r *Request) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = StatusCreated
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO requests (id, value, super_type, type, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.pool.Exec(ctx, query, r.ID, r.Value, r.SuperType, r.Type, r.Status, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return nil
}

func (s *PGStore) GetRequest(ctx context.Context, id string) (*Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE id = $1`

	r, err := s.scanRequest(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, NewError("GetRequest", "request", id, ErrRequestNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	return r, nil
}

func (s *PGStore) LatestRequest(ctx context.Context, value, superType, typ string) (*Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests
		WHERE value = $1 AND upper(super_type) = upper($2) AND upper(type) = upper($3)
		ORDER BY created_at DESC
		LIMIT 1`

	r, err := s.scanRequest(s.pool.QueryRow(ctx, query, value, superType, typ))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, NewError("LatestRequest", "request", value, ErrRequestNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest request: %w", err)
	}
	return r, nil
}

func (s *PGStore) ListRequests(ctx context.Context) ([]*Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	defer rows.Close()

	var requests []*Request
	for rows.Next() {
		r, err := s.scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		requests = append(requests, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating requests: %w", err)
	}
	return requests, nil
}

func (s *PGStore) TransitionRequest(ctx context.Context, id string, to RequestStatus) (*Request, error) {
	// Terminal states are sticky; the WHERE clause makes the check atomic.
	query := `
		UPDATE requests
		SET status = $2
		WHERE id = $1 AND status NOT IN ('SUCCEEDED', 'FAILED', 'CANCELLED')
		RETURNING ` + requestColumns

	r, err := s.scanRequest(s.pool.QueryRow(ctx, query, id, to))
	if errors.Is(err, pgx.ErrNoRows) {
		// Either missing or already terminal; disambiguate for the caller.
		if _, getErr := s.GetRequest(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, NewError("TransitionRequest", "request", id, ErrTerminalStatus)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to transition request: %w", err)
	}
	return r, nil
}

// Credentials

func (s *PGStore) UpsertCredentials(ctx context.Context, c *VendorCredentials) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.LastUsage.IsZero() {
		c.LastUsage = time.Now().UTC()
	}

	secrets, err := json.Marshal(c.Secrets)
	if err != nil {
		return fmt.Errorf("failed to marshal secrets: %w", err)
	}

	query := `
		INSERT INTO vendor_credentials (id, vendor, last_usage, secrets)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (vendor, secrets) DO NOTHING
	`

	if _, err := s.pool.Exec(ctx, query, c.ID, c.Vendor, c.LastUsage, secrets); err != nil {
		return fmt.Errorf("failed to upsert credentials: %w", err)
	}
	return nil
}

func (s *PGStore) LeastUsedCredentials(ctx context.Context, vendor string) (*VendorCredentials, error) {
	query := `
		SELECT id, vendor, last_usage, secrets
		FROM vendor_credentials
		WHERE vendor = $1
		ORDER BY last_usage ASC
		LIMIT 1
	`

	c := &VendorCredentials{}
	var secrets []byte
	err := s.pool.QueryRow(ctx, query, vendor).Scan(&c.ID, &c.Vendor, &c.LastUsage, &secrets)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, NewError("LeastUsedCredentials", "credentials", vendor, ErrCredentialsNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credentials: %w", err)
	}
	if len(secrets) > 0 {
		if err := json.Unmarshal(secrets, &c.Secrets); err != nil {
			return nil, fmt.Errorf("failed to unmarshal secrets: %w", err)
		}
	}
	return c, nil
}

func (s *PGStore) TouchCredentials(ctx context.Context, id string, usedAt time.Time) error {
	result, err := s.pool.Exec(ctx,
		`UPDATE vendor_credentials SET last_usage = $2 WHERE id = $1`, id, usedAt)
	if err != nil {
		return fmt.Errorf("failed to touch credentials: %w", err)
	}
	if result.RowsAffected() == 0 {
		return NewError("TouchCredentials", "credentials", id, ErrCredentialsNotFound)
	}
	return nil
}

func (s *PGStore) CountCredentials(ctx context.Context, vendor string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM vendor_credentials WHERE vendor = $1`, vendor).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count credentials: %w", err)
	}
	return n, nil
}
