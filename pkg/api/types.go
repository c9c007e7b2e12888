package api

import (
	"github.com/PiRogueToolSuite/threatr/pkg/graph"
	"github.com/PiRogueToolSuite/threatr/pkg/modules"
	"github.com/PiRogueToolSuite/threatr/pkg/scheduler"
	"github.com/PiRogueToolSuite/threatr/pkg/storage"
	"github.com/PiRogueToolSuite/threatr/pkg/taxonomy"
)

// SubmitRequest is the body of POST /api/requests.
type SubmitRequest struct {
	Value     string `json:"value" validate:"required,min=1,max=2048"`
	SuperType string `json:"super_type" validate:"required"`
	Type      string `json:"type" validate:"required"`
	Force     bool   `json:"force"`
}

// ErrorResponse is the envelope for every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// RequestResponse describes one request, optionally with its result
// subgraph once processing has succeeded.
type RequestResponse struct {
	Request *storage.Request    `json:"request"`
	Results *graph.Neighborhood `json:"results,omitempty"`
}

// SuperTypeListing is one taxonomy super-type with its types, served by
// the types endpoint.
type SuperTypeListing struct {
	SuperType taxonomy.SuperType `json:"super_type"`
	Types     []taxonomy.Type    `json:"types"`
}

// ModuleListing is one installed vendor module with its credential count.
type ModuleListing struct {
	modules.Info
	Configured int `json:"configured"`
}

// StatusResponse is the scheduler status with graph size counters.
type StatusResponse struct {
	scheduler.Status
	CachedEntities  int `json:"cached_entities"`
	CachedEvents    int `json:"cached_events"`
	CachedRelations int `json:"cached_relations"`
}
