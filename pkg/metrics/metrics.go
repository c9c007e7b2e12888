package metrics

import (
	"context"
	"time"

	"github.com/PiRogueToolSuite/threatr/pkg/storage"
)

// Module run outcomes.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// RecordHTTPRequest records an HTTP request with its duration
func (r *Registry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	r.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	r.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordSubmission records one accepted request submission
func (r *Registry) RecordSubmission(superType, typeCode string) {
	r.RequestsSubmittedTotal.WithLabelValues(superType, typeCode).Inc()
}

// RecordRequestFinished records a request reaching a terminal status
func (r *Registry) RecordRequestFinished(status storage.RequestStatus, duration time.Duration) {
	r.RequestsFinishedTotal.WithLabelValues(string(status)).Inc()
	r.RequestDuration.Observe(duration.Seconds())
}

// RecordModuleRun records one vendor module run with its outcome
func (r *Registry) RecordModuleRun(module, outcome string, duration time.Duration) {
	r.ModuleRunsTotal.WithLabelValues(module, outcome).Inc()
	r.ModuleRunDuration.WithLabelValues(module).Observe(duration.Seconds())
}

// RecordUpsert records one upsert by record kind ("entity", "relation",
// "event") and whether it created a new row
func (r *Registry) RecordUpsert(record string, created bool) {
	outcome := "merged"
	if created {
		outcome = "created"
	}
	r.UpsertsTotal.WithLabelValues(record, outcome).Inc()
}

// UpdateGraphSize refreshes the graph size gauges from the store
func (r *Registry) UpdateGraphSize(ctx context.Context, store storage.Store) {
	if n, err := store.CountEntities(ctx); err == nil {
		r.GraphEntitiesTotal.Set(float64(n))
	}
	if n, err := store.CountRelations(ctx); err == nil {
		r.GraphRelationsTotal.Set(float64(n))
	}
	if n, err := store.CountEvents(ctx); err == nil {
		r.GraphEventsTotal.Set(float64(n))
	}
}
