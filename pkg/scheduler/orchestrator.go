package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PiRogueToolSuite/threatr/pkg/graph"
	"github.com/PiRogueToolSuite/threatr/pkg/logging"
	"github.com/PiRogueToolSuite/threatr/pkg/metrics"
	"github.com/PiRogueToolSuite/threatr/pkg/modules"
	"github.com/PiRogueToolSuite/threatr/pkg/pubsub"
	"github.com/PiRogueToolSuite/threatr/pkg/storage"
	"github.com/PiRogueToolSuite/threatr/pkg/taxonomy"
)

var (
	// ErrInvalidSubmission marks a submission the taxonomy cannot place.
	ErrInvalidSubmission = errors.New("invalid submission")

	// ErrQueueFull is returned when no worker capacity is left.
	ErrQueueFull = errors.New("request queue full")
)

// processTimeout bounds one request's full module pipeline.
const processTimeout = 10 * time.Minute

// Submission is a client's ask: look this value up as the given type.
type Submission struct {
	Value     string
	SuperType string
	Type      string
	Force     bool
}

// Outcome is what a submission resolved to: a fresh or reused request,
// or an answer straight from the graph when the entity is already known.
type Outcome struct {
	Request *storage.Request
	Cached  *graph.Neighborhood
	Reused  bool
}

// Orchestrator owns the request lifecycle: it validates submissions,
// deduplicates them against prior requests, dispatches work to the pool
// and drives each request through its status transitions.
type Orchestrator struct {
	store    storage.Store
	graph    *graph.Upserter
	registry *modules.Registry
	taxonomy *taxonomy.Taxonomy
	bus      *pubsub.Bus
	metrics  *metrics.Registry
	spool    *storage.PayloadSpool
	logger   logging.Logger
	pool     *Pool
}

// NewOrchestrator wires the orchestrator and starts its worker pool.
// spool may be nil to disable raw payload retention.
func NewOrchestrator(
	store storage.Store,
	upserter *graph.Upserter,
	registry *modules.Registry,
	tax *taxonomy.Taxonomy,
	bus *pubsub.Bus,
	m *metrics.Registry,
	spool *storage.PayloadSpool,
	workers, queueSize int,
	logger logging.Logger,
) *Orchestrator {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if m == nil {
		m = metrics.NewRegistry()
	}
	logger = logger.With(logging.Component("scheduler"))
	return &Orchestrator{
		store:    store,
		graph:    upserter,
		registry: registry,
		taxonomy: tax,
		bus:      bus,
		metrics:  m,
		spool:    spool,
		logger:   logger,
		pool:     NewPool(workers, queueSize, logger),
	}
}

// Submit resolves one submission. Known entities short-circuit to a graph
// answer unless force is set; otherwise the most recent request for the
// same triple is reused, or a new one is created and enqueued.
func (o *Orchestrator) Submit(ctx context.Context, sub Submission) (*Outcome, error) {
	value := strings.TrimSpace(sub.Value)
	if value == "" {
		return nil, fmt.Errorf("%w: empty value", ErrInvalidSubmission)
	}
	st, err := o.taxonomy.ResolveSuperType(sub.SuperType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
	}
	ty, err := o.taxonomy.ResolveType(st.Code, sub.Type)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
	}

	if !sub.Force {
		root, err := o.store.GetEntity(ctx, value, st.Code, ty.Code)
		if err == nil {
			neighborhood, err := o.graph.BuildNeighborhood(ctx, root)
			if err != nil {
				return nil, fmt.Errorf("submit: %w", err)
			}
			o.metrics.CacheHitsTotal.Inc()
			o.logger.Debug("submission answered from graph",
				logging.EntityName(value))
			return &Outcome{Cached: neighborhood}, nil
		}
		if !storage.IsNotFound(err) {
			return nil, fmt.Errorf("submit: %w", err)
		}

		latest, err := o.store.LatestRequest(ctx, value, st.Code, ty.Code)
		if err == nil {
			if latest.Status == storage.StatusCreated {
				if err := o.enqueue(ctx, latest); err != nil {
					return nil, err
				}
			}
			return &Outcome{Request: latest, Reused: true}, nil
		}
		if !storage.IsNotFound(err) {
			return nil, fmt.Errorf("submit: %w", err)
		}
	}

	req := &storage.Request{
		Value:     value,
		SuperType: st.Code,
		Type:      ty.Code,
		Status:    storage.StatusCreated,
	}
	if err := o.store.CreateRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}
	o.metrics.RecordSubmission(st.Code, ty.Code)
	if err := o.enqueue(ctx, req); err != nil {
		return nil, err
	}
	return &Outcome{Request: req}, nil
}

// enqueue commits the ENQUEUED transition first, then hands the request
// to the pool. The status write must land before a worker can observe
// the request, never after.
func (o *Orchestrator) enqueue(ctx context.Context, req *storage.Request) error {
	updated, err := o.store.TransitionRequest(ctx, req.ID, storage.StatusEnqueued)
	if err != nil {
		return fmt.Errorf("enqueue request %s: %w", req.ID, err)
	}
	*req = *updated
	o.publish(req, 0)

	id := req.ID
	if !o.pool.Submit(func() { o.process(id) }) {
		if _, err := o.store.TransitionRequest(ctx, id, storage.StatusFailed); err != nil {
			o.logger.Error("failed to mark overflowed request",
				logging.RequestID(id), logging.Error(err))
		}
		return ErrQueueFull
	}
	o.logger.Info("request enqueued",
		logging.RequestID(req.ID),
		logging.EntityName(req.Value))
	return nil
}

// process runs the full module pipeline for one request.
func (o *Orchestrator) process(requestID string) {
	ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
	defer cancel()

	req, err := o.store.TransitionRequest(ctx, requestID, storage.StatusProcessing)
	if err != nil {
		// A cancelled request reaches its terminal state before the
		// worker picks it up; that is not a fault.
		if errors.Is(err, storage.ErrTerminalStatus) {
			o.logger.Info("skipping finished request", logging.RequestID(requestID))
			return
		}
		o.logger.Error("cannot start processing",
			logging.RequestID(requestID), logging.Error(err))
		return
	}
	o.publish(req, 0)
	o.metrics.RequestsInFlight.Inc()
	defer o.metrics.RequestsInFlight.Dec()
	start := time.Now()

	success := false
	totalRows := 0
	touched := make(map[string]bool)
	for _, m := range o.registry.CandidatesFor(req) {
		rows, entityIDs, ok := o.runModule(ctx, req, m)
		if ok {
			success = true
			totalRows += rows
			for _, id := range entityIDs {
				touched[id] = true
			}
		}
	}

	if _, err := o.store.TransitionRequest(ctx, requestID, storage.StatusPostProcessing); err == nil {
		o.coalesce(ctx, touched)
	} else if !errors.Is(err, storage.ErrTerminalStatus) {
		o.logger.Error("post-processing transition failed",
			logging.RequestID(requestID), logging.Error(err))
	}

	final := storage.StatusFailed
	if success {
		final = storage.StatusSucceeded
	}
	finished, err := o.store.TransitionRequest(ctx, requestID, final)
	if err != nil {
		if errors.Is(err, storage.ErrTerminalStatus) {
			o.logger.Info("request finished externally", logging.RequestID(requestID))
			return
		}
		o.logger.Error("terminal transition failed",
			logging.RequestID(requestID), logging.Error(err))
		return
	}
	o.metrics.RecordRequestFinished(final, time.Since(start))
	o.metrics.UpdateGraphSize(ctx, o.store)
	o.publish(finished, totalRows)
	o.logger.Info("request processed",
		logging.RequestID(requestID),
		logging.String("status", string(final)),
		logging.Count(totalRows),
		logging.Latency(time.Since(start)))
}

// runModule executes one vendor module against the request and persists
// its results. Reports the number of rows written, the entity ids they
// touched, and whether the run counts as a success.
func (o *Orchestrator) runModule(ctx context.Context, req *storage.Request, m modules.Module) (int, []string, bool) {
	id := m.Identifier()
	if m.ShouldSkip(req) {
		o.metrics.RecordModuleRun(id, metrics.OutcomeSkipped, 0)
		return 0, nil, false
	}

	creds, err := o.store.LeastUsedCredentials(ctx, id)
	if err != nil {
		o.logger.Error("no credentials for module",
			logging.Vendor(id), logging.RequestID(req.ID), logging.Error(err))
		o.metrics.RecordModuleRun(id, metrics.OutcomeFailed, 0)
		return 0, nil, false
	}
	if err := o.store.TouchCredentials(ctx, creds.ID, time.Now().UTC()); err != nil {
		o.logger.Warn("credential rotation bookkeeping failed",
			logging.Vendor(id), logging.Error(err))
	}

	start := time.Now()
	results, err := m.Run(ctx, req, creds)
	if err != nil {
		o.logger.Error("module run failed",
			logging.Vendor(id), logging.RequestID(req.ID), logging.Error(err))
		o.metrics.RecordModuleRun(id, metrics.OutcomeFailed, time.Since(start))
		return 0, nil, false
	}

	rows, entityIDs, err := o.persist(ctx, req, id, results)
	if err != nil {
		o.logger.Error("persisting module results failed",
			logging.Vendor(id), logging.RequestID(req.ID), logging.Error(err))
		o.metrics.RecordModuleRun(id, metrics.OutcomeFailed, time.Since(start))
		return 0, nil, false
	}
	o.metrics.RecordModuleRun(id, metrics.OutcomeSucceeded, time.Since(start))
	return rows, entityIDs, true
}

// persist upserts one module's normalized rows. Relation and event drafts
// reference entities by natural key; refs outside the entity list are
// upserted as bare entities so the edge is never dangling.
func (o *Orchestrator) persist(ctx context.Context, req *storage.Request, moduleID string, results *modules.Results) (int, []string, error) {
	ids := make(map[modules.EntityRef]string)
	var entityIDs []string
	rows := 0

	for _, e := range results.Entities {
		row, created, err := o.graph.UpsertEntity(ctx, e)
		if err != nil {
			return 0, nil, err
		}
		o.metrics.RecordUpsert("entity", created)
		ids[modules.Ref(row)] = row.ID
		entityIDs = append(entityIDs, row.ID)
		rows++
	}

	resolve := func(ref modules.EntityRef) (string, error) {
		if id, ok := ids[ref]; ok {
			return id, nil
		}
		row, created, err := o.graph.UpsertEntity(ctx, &storage.Entity{
			Name:      ref.Name,
			SuperType: ref.SuperType,
			Type:      ref.Type,
		})
		if err != nil {
			return "", err
		}
		o.metrics.RecordUpsert("entity", created)
		ids[ref] = row.ID
		return row.ID, nil
	}

	for _, d := range results.Relations {
		fromID, err := resolve(d.From)
		if err != nil {
			return 0, nil, err
		}
		toID, err := resolve(d.To)
		if err != nil {
			return 0, nil, err
		}
		_, created, err := o.graph.UpsertRelation(ctx, &storage.EntityRelation{
			Name:        d.Name,
			Description: d.Description,
			FromID:      fromID,
			ToID:        toID,
			Attributes:  d.Attributes,
		})
		if err != nil {
			return 0, nil, err
		}
		o.metrics.RecordUpsert("relation", created)
		rows++
	}

	for _, d := range results.Events {
		involvedID, err := resolve(d.Involved)
		if err != nil {
			return 0, nil, err
		}
		_, created, err := o.graph.UpsertEvent(ctx, &storage.Event{
			Type:             d.Type,
			Name:             d.Name,
			Description:      d.Description,
			FirstSeen:        d.FirstSeen,
			LastSeen:         d.LastSeen,
			Count:            d.Count,
			InvolvedEntityID: involvedID,
			Attributes:       d.Attributes,
		})
		if err != nil {
			return 0, nil, err
		}
		o.metrics.RecordUpsert("event", created)
		rows++
	}

	if o.spool != nil && len(results.RawPayload) > 0 {
		if err := o.spool.Save(moduleID, req.ID, results.RawPayload); err != nil {
			o.logger.Warn("payload spool write failed",
				logging.Vendor(moduleID), logging.RequestID(req.ID), logging.Error(err))
		}
	}
	return rows, entityIDs, nil
}

// coalesce folds overlapping event observations for every entity this
// request touched.
func (o *Orchestrator) coalesce(ctx context.Context, touched map[string]bool) {
	for entityID := range touched {
		events, err := o.store.EventsOf(ctx, entityID)
		if err != nil {
			o.logger.Error("listing events for coalescing failed",
				logging.String("entity_id", entityID), logging.Error(err))
			continue
		}
		kept, err := o.graph.CoalesceEvents(ctx, events)
		if err != nil {
			o.logger.Error("event coalescing failed",
				logging.String("entity_id", entityID), logging.Error(err))
			continue
		}
		if folded := len(events) - len(kept); folded > 0 {
			o.metrics.EventsCoalescedTotal.Add(float64(folded))
		}
	}
}

// Cancel moves a request to CANCELLED. Terminal requests stay untouched.
func (o *Orchestrator) Cancel(ctx context.Context, requestID string) (*storage.Request, error) {
	req, err := o.store.TransitionRequest(ctx, requestID, storage.StatusCancelled)
	if err != nil {
		return nil, err
	}
	o.publish(req, 0)
	return req, nil
}

func (o *Orchestrator) publish(req *storage.Request, available int) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(pubsub.Update{
		RequestID:        req.ID,
		Status:           req.Status,
		AvailableResults: available,
		At:               time.Now().UTC(),
	})
}

// Status is the scheduler snapshot served by the status endpoint.
type Status struct {
	Workers          []WorkerStatus `json:"workers"`
	QueueDepth       int            `json:"queue_depth"`
	InstalledModules int            `json:"installed_modules"`
}

// Status reports worker and queue state.
func (o *Orchestrator) Status() Status {
	return Status{
		Workers:          o.pool.Workers(),
		QueueDepth:       o.pool.QueueDepth(),
		InstalledModules: len(o.registry.Modules()),
	}
}

// Close drains the pool. In-flight requests finish first.
func (o *Orchestrator) Close() {
	o.pool.Close()
}
