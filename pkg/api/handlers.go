package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/PiRogueToolSuite/threatr/pkg/graph"
	"github.com/PiRogueToolSuite/threatr/pkg/health"
	"github.com/PiRogueToolSuite/threatr/pkg/logging"
	"github.com/PiRogueToolSuite/threatr/pkg/scheduler"
	"github.com/PiRogueToolSuite/threatr/pkg/storage"
)

// handleSubmit accepts an observable lookup. A value that is already in
// the graph answers immediately with its neighborhood; otherwise a new
// or still-running request is returned for the client to poll.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.validate.Struct(body); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	outcome, err := s.orch.Submit(r.Context(), scheduler.Submission{
		Value:     body.Value,
		SuperType: body.SuperType,
		Type:      body.Type,
		Force:     body.Force,
	})
	if err != nil {
		switch {
		case errors.Is(err, scheduler.ErrInvalidSubmission):
			s.respondError(w, http.StatusNotAcceptable, err.Error())
		case errors.Is(err, scheduler.ErrQueueFull):
			s.respondError(w, http.StatusServiceUnavailable, "request queue full, retry later")
		default:
			s.logger.Error("submission failed", logging.Error(err))
			s.respondError(w, http.StatusInternalServerError, "submission failed")
		}
		return
	}

	if outcome.Cached != nil {
		s.respondJSON(w, http.StatusOK, RequestResponse{
			Request: outcome.Request,
			Results: outcome.Cached,
		})
		return
	}
	// A reused request that already failed tells the client the
	// observable could not be resolved last time around.
	if outcome.Reused && outcome.Request.Status == storage.StatusFailed {
		s.respondJSON(w, http.StatusNotFound, RequestResponse{Request: outcome.Request})
		return
	}
	s.respondJSON(w, http.StatusCreated, RequestResponse{Request: outcome.Request})
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := s.store.ListRequests(r.Context())
	if err != nil {
		s.logger.Error("listing requests failed", logging.Error(err))
		s.respondError(w, http.StatusInternalServerError, "listing requests failed")
		return
	}
	s.respondJSON(w, http.StatusOK, reqs)
}

// handleGetRequest reports one request's status and, once it has
// succeeded, the result subgraph around its root entity.
func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	if _, err := graph.ParseFormat(r.URL.Query().Get("format")); err != nil {
		s.respondError(w, http.StatusNotAcceptable, err.Error())
		return
	}

	req, err := s.store.GetRequest(r.Context(), r.PathValue("id"))
	if err != nil {
		if storage.IsNotFound(err) {
			s.respondError(w, http.StatusNotFound, "unknown request")
			return
		}
		s.logger.Error("fetching request failed", logging.Error(err))
		s.respondError(w, http.StatusInternalServerError, "fetching request failed")
		return
	}

	resp := RequestResponse{Request: req}
	if req.Status == storage.StatusSucceeded {
		root, err := s.store.GetEntity(r.Context(), req.Value, req.SuperType, req.Type)
		if err == nil {
			neighborhood, err := s.graph.BuildNeighborhood(r.Context(), root)
			if err != nil {
				s.logger.Error("building result graph failed",
					logging.RequestID(req.ID), logging.Error(err))
				s.respondError(w, http.StatusInternalServerError, "building result graph failed")
				return
			}
			resp.Results = neighborhood
		} else if !storage.IsNotFound(err) {
			s.logger.Error("fetching root entity failed",
				logging.RequestID(req.ID), logging.Error(err))
			s.respondError(w, http.StatusInternalServerError, "fetching root entity failed")
			return
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancelRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.orch.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		switch {
		case storage.IsNotFound(err):
			s.respondError(w, http.StatusNotFound, "unknown request")
		case errors.Is(err, storage.ErrTerminalStatus):
			s.respondError(w, http.StatusConflict, "request already finished")
		default:
			s.logger.Error("cancelling request failed", logging.Error(err))
			s.respondError(w, http.StatusInternalServerError, "cancelling request failed")
		}
		return
	}
	s.respondJSON(w, http.StatusOK, RequestResponse{Request: req})
}

func (s *Server) handleTypes(w http.ResponseWriter, r *http.Request) {
	var listing []SuperTypeListing
	for _, st := range s.taxonomy.SuperTypes() {
		listing = append(listing, SuperTypeListing{
			SuperType: st,
			Types:     s.taxonomy.TypesOf(st.Code),
		})
	}
	s.respondJSON(w, http.StatusOK, listing)
}

func (s *Server) handleSupportedTypes(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.registry.SupportedTypes())
}

// handleModules lists installed modules with how many credential sets
// each one has to rotate over.
func (s *Server) handleModules(w http.ResponseWriter, r *http.Request) {
	infos := s.registry.Infos()
	listing := make([]ModuleListing, 0, len(infos))
	for _, info := range infos {
		configured, err := s.store.CountCredentials(r.Context(), info.Identifier)
		if err != nil {
			s.logger.Error("counting credentials failed",
				logging.Vendor(info.Identifier), logging.Error(err))
			s.respondError(w, http.StatusInternalServerError, "counting credentials failed")
			return
		}
		listing = append(listing, ModuleListing{Info: info, Configured: configured})
	}
	s.respondJSON(w, http.StatusOK, listing)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Status: s.orch.Status()}
	var err error
	if resp.CachedEntities, err = s.store.CountEntities(r.Context()); err != nil {
		s.respondError(w, http.StatusInternalServerError, "counting records failed")
		return
	}
	if resp.CachedEvents, err = s.store.CountEvents(r.Context()); err != nil {
		s.respondError(w, http.StatusInternalServerError, "counting records failed")
		return
	}
	if resp.CachedRelations, err = s.store.CountRelations(r.Context()); err != nil {
		s.respondError(w, http.StatusInternalServerError, "counting records failed")
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := s.checker.Check(r.Context())
	status := http.StatusOK
	if resp.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	s.respondJSON(w, status, resp)
}
