package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store implementation. It backs tests and
// single-process deployments that do not need durability. All natural-key
// checks happen under one lock, which gives the atomic update-or-create
// semantics concurrent upserts rely on.
type MemoryStore struct {
	mu     sync.RWMutex
	closed bool

	entities      map[string]*Entity // by ID
	entityKeys    map[string]string  // natural key -> ID
	relations     map[string]*EntityRelation
	relationKeys  map[string]string
	events        map[string]*Event
	eventKeys     map[string]string
	requests      map[string]*Request
	requestOrder  []string // IDs in creation order
	credentials   map[string]*VendorCredentials
	credentialIDs []string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities:     make(map[string]*Entity),
		entityKeys:   make(map[string]string),
		relations:    make(map[string]*EntityRelation),
		relationKeys: make(map[string]string),
		events:       make(map[string]*Event),
		eventKeys:    make(map[string]string),
		requests:     make(map[string]*Request),
		credentials:  make(map[string]*VendorCredentials),
	}
}

func entityKey(name, superType, typ string) string {
	return strings.ToUpper(superType) + "\x00" + strings.ToUpper(typ) + "\x00" + name
}

func relationKey(name, fromID, toID string) string {
	return name + "\x00" + fromID + "\x00" + toID
}

func eventKey(typ, name string, firstSeen, lastSeen time.Time, entityID string) string {
	return fmt.Sprintf("%s\x00%s\x00%d\x00%d\x00%s",
		strings.ToUpper(typ), name, firstSeen.UnixNano(), lastSeen.UnixNano(), entityID)
}

func (s *MemoryStore) guard() error {
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Entities

func (s *MemoryStore) GetEntity(ctx context.Context, name, superType, typ string) (*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(); err != nil {
		return nil, err
	}
	id, ok := s.entityKeys[entityKey(name, superType, typ)]
	if !ok {
		return nil, NewError("GetEntity", "entity", name, ErrEntityNotFound)
	}
	return s.entities[id].Clone(), nil
}

func (s *MemoryStore) GetEntityByID(ctx context.Context, id string) (*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(); err != nil {
		return nil, err
	}
	e, ok := s.entities[id]
	if !ok {
		return nil, NewError("GetEntityByID", "entity", id, ErrEntityNotFound)
	}
	return e.Clone(), nil
}

func (s *MemoryStore) CreateEntity(ctx context.Context, e *Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}
	key := entityKey(e.Name, e.SuperType, e.Type)
	if _, exists := s.entityKeys[key]; exists {
		return NewError("CreateEntity", "entity", e.Name, ErrConflict)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	if e.Attributes == nil {
		e.Attributes = make(Attributes)
	}
	s.entities[e.ID] = e.Clone()
	s.entityKeys[key] = e.ID
	return nil
}

func (s *MemoryStore) UpdateEntity(ctx context.Context, e *Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}
	if _, ok := s.entities[e.ID]; !ok {
		return NewError("UpdateEntity", "entity", e.ID, ErrEntityNotFound)
	}
	e.UpdatedAt = time.Now().UTC()
	s.entities[e.ID] = e.Clone()
	return nil
}

func (s *MemoryStore) CountEntities(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities), nil
}

// Relations

func (s *MemoryStore) GetRelation(ctx context.Context, name, fromID, toID string) (*EntityRelation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(); err != nil {
		return nil, err
	}
	id, ok := s.relationKeys[relationKey(name, fromID, toID)]
	if !ok {
		return nil, NewError("GetRelation", "relation", name, ErrRelationNotFound)
	}
	return s.relations[id].Clone(), nil
}

func (s *MemoryStore) CreateRelation(ctx context.Context, r *EntityRelation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}
	if _, ok := s.entities[r.FromID]; !ok {
		return NewError("CreateRelation", "entity", r.FromID, ErrEntityNotFound)
	}
	if _, ok := s.entities[r.ToID]; !ok {
		return NewError("CreateRelation", "entity", r.ToID, ErrEntityNotFound)
	}
	key := relationKey(r.Name, r.FromID, r.ToID)
	if _, exists := s.relationKeys[key]; exists {
		return NewError("CreateRelation", "relation", r.Name, ErrConflict)
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.Attributes == nil {
		r.Attributes = make(Attributes)
	}
	s.relations[r.ID] = r.Clone()
	s.relationKeys[key] = r.ID
	return nil
}

func (s *MemoryStore) UpdateRelation(ctx context.Context, r *EntityRelation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}
	if _, ok := s.relations[r.ID]; !ok {
		return NewError("UpdateRelation", "relation", r.ID, ErrRelationNotFound)
	}
	s.relations[r.ID] = r.Clone()
	return nil
}

func (s *MemoryStore) RelationsOf(ctx context.Context, entityID string) ([]*EntityRelation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(); err != nil {
		return nil, err
	}
	var out []*EntityRelation
	for _, r := range s.relations {
		if r.FromID == entityID || r.ToID == entityID {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) CountRelations(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.relations), nil
}

// Events

func (s *MemoryStore) GetEvent(ctx context.Context, typ, name string, firstSeen, lastSeen time.Time, entityID string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(); err != nil {
		return nil, err
	}
	id, ok := s.eventKeys[eventKey(typ, name, firstSeen, lastSeen, entityID)]
	if !ok {
		return nil, NewError("GetEvent", "event", name, ErrEventNotFound)
	}
	return s.events[id].Clone(), nil
}

func (s *MemoryStore) CreateEvent(ctx context.Context, ev *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}
	if _, ok := s.entities[ev.InvolvedEntityID]; !ok {
		return NewError("CreateEvent", "entity", ev.InvolvedEntityID, ErrEntityNotFound)
	}
	key := eventKey(ev.Type, ev.Name, ev.FirstSeen, ev.LastSeen, ev.InvolvedEntityID)
	if _, exists := s.eventKeys[key]; exists {
		return NewError("CreateEvent", "event", ev.Name, ErrConflict)
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = now
	}
	ev.UpdatedAt = now
	if ev.Attributes == nil {
		ev.Attributes = make(Attributes)
	}
	s.events[ev.ID] = ev.Clone()
	s.eventKeys[key] = ev.ID
	return nil
}

func (s *MemoryStore) UpdateEvent(ctx context.Context, ev *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}
	old, ok := s.events[ev.ID]
	if !ok {
		return NewError("UpdateEvent", "event", ev.ID, ErrEventNotFound)
	}
	// Natural key fields may change when coalescing extends an interval.
	oldKey := eventKey(old.Type, old.Name, old.FirstSeen, old.LastSeen, old.InvolvedEntityID)
	newKey := eventKey(ev.Type, ev.Name, ev.FirstSeen, ev.LastSeen, ev.InvolvedEntityID)
	if newKey != oldKey {
		if _, exists := s.eventKeys[newKey]; exists {
			return NewError("UpdateEvent", "event", ev.Name, ErrConflict)
		}
		delete(s.eventKeys, oldKey)
		s.eventKeys[newKey] = ev.ID
	}
	ev.UpdatedAt = time.Now().UTC()
	s.events[ev.ID] = ev.Clone()
	return nil
}

func (s *MemoryStore) DeleteEvent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}
	ev, ok := s.events[id]
	if !ok {
		return NewError("DeleteEvent", "event", id, ErrEventNotFound)
	}
	delete(s.eventKeys, eventKey(ev.Type, ev.Name, ev.FirstSeen, ev.LastSeen, ev.InvolvedEntityID))
	delete(s.events, id)
	return nil
}

func (s *MemoryStore) EventsOf(ctx context.Context, entityID string) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(); err != nil {
		return nil, err
	}
	var out []*Event
	for _, ev := range s.events {
		if ev.InvolvedEntityID == entityID {
			out = append(out, ev.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FirstSeen.After(out[j].FirstSeen) })
	return out, nil
}

func (s *MemoryStore) CountEvents(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events), nil
}

// Requests

func (s *MemoryStore) CreateRequest(ctx context.Context, r *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = StatusCreated
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	cp := *r
	s.requests[r.ID] = &cp
	s.requestOrder = append(s.requestOrder, r.ID)
	return nil
}

func (s *MemoryStore) GetRequest(ctx context.Context, id string) (*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(); err != nil {
		return nil, err
	}
	r, ok := s.requests[id]
	if !ok {
		return nil, NewError("GetRequest", "request", id, ErrRequestNotFound)
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) LatestRequest(ctx context.Context, value, superType, typ string) (*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(); err != nil {
		return nil, err
	}
	for i := len(s.requestOrder) - 1; i >= 0; i-- {
		r := s.requests[s.requestOrder[i]]
		if r.Value == value &&
			strings.EqualFold(r.SuperType, superType) &&
			strings.EqualFold(r.Type, typ) {
			cp := *r
			return &cp, nil
		}
	}
	return nil, NewError("LatestRequest", "request", value, ErrRequestNotFound)
}

func (s *MemoryStore) ListRequests(ctx context.Context) ([]*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(); err != nil {
		return nil, err
	}
	out := make([]*Request, 0, len(s.requestOrder))
	for i := len(s.requestOrder) - 1; i >= 0; i-- {
		cp := *s.requests[s.requestOrder[i]]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) TransitionRequest(ctx context.Context, id string, to RequestStatus) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return nil, err
	}
	r, ok := s.requests[id]
	if !ok {
		return nil, NewError("TransitionRequest", "request", id, ErrRequestNotFound)
	}
	if r.Status.Terminal() {
		return nil, NewError("TransitionRequest", "request", id, ErrTerminalStatus)
	}
	r.Status = to
	cp := *r
	return &cp, nil
}

// Credentials

func (s *MemoryStore) UpsertCredentials(ctx context.Context, c *VendorCredentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.LastUsage.IsZero() {
		c.LastUsage = time.Now().UTC()
	}
	if _, exists := s.credentials[c.ID]; !exists {
		s.credentialIDs = append(s.credentialIDs, c.ID)
	}
	cp := *c
	cp.Secrets = make(map[string]string, len(c.Secrets))
	for k, v := range c.Secrets {
		cp.Secrets[k] = v
	}
	s.credentials[c.ID] = &cp
	return nil
}

func (s *MemoryStore) LeastUsedCredentials(ctx context.Context, vendor string) (*VendorCredentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(); err != nil {
		return nil, err
	}
	var best *VendorCredentials
	for _, id := range s.credentialIDs {
		c := s.credentials[id]
		if c.Vendor != vendor {
			continue
		}
		if best == nil || c.LastUsage.Before(best.LastUsage) {
			best = c
		}
	}
	if best == nil {
		return nil, NewError("LeastUsedCredentials", "credentials", vendor, ErrCredentialsNotFound)
	}
	cp := *best
	cp.Secrets = make(map[string]string, len(best.Secrets))
	for k, v := range best.Secrets {
		cp.Secrets[k] = v
	}
	return &cp, nil
}

func (s *MemoryStore) TouchCredentials(ctx context.Context, id string, usedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}
	c, ok := s.credentials[id]
	if !ok {
		return NewError("TouchCredentials", "credentials", id, ErrCredentialsNotFound)
	}
	c.LastUsage = usedAt
	return nil
}

func (s *MemoryStore) CountCredentials(ctx context.Context, vendor string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, c := range s.credentials {
		if c.Vendor == vendor {
			n++
		}
	}
	return n, nil
}

// Ping always succeeds while the store is open.
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.guard()
}

// Close marks the store closed; subsequent operations fail.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
