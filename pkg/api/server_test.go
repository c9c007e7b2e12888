package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/PiRogueToolSuite/threatr/pkg/graph"
	"github.com/PiRogueToolSuite/threatr/pkg/health"
	"github.com/PiRogueToolSuite/threatr/pkg/metrics"
	"github.com/PiRogueToolSuite/threatr/pkg/modules"
	"github.com/PiRogueToolSuite/threatr/pkg/scheduler"
	"github.com/PiRogueToolSuite/threatr/pkg/storage"
	"github.com/PiRogueToolSuite/threatr/pkg/taxonomy"
)

type stubModule struct {
	id        string
	supported map[string][]string
	err       error
}

func (s *stubModule) Identifier() string                  { return s.id }
func (s *stubModule) DisplayName() string                 { return "Stub " + s.id }
func (s *stubModule) Description() string                 { return "test module" }
func (s *stubModule) SupportedTypes() map[string][]string { return s.supported }
func (s *stubModule) ShouldSkip(*storage.Request) bool    { return false }

func (s *stubModule) Run(ctx context.Context, req *storage.Request, creds *storage.VendorCredentials) (*modules.Results, error) {
	if s.err != nil {
		return nil, s.err
	}
	root := &storage.Entity{Name: req.Value, SuperType: req.SuperType, Type: req.Type}
	ip := &storage.Entity{Name: "1.2.3.4", SuperType: "OBSERVABLE", Type: "IPV4"}
	return &modules.Results{
		Entities: []*storage.Entity{root, ip},
		Relations: []modules.RelationDraft{
			{Name: "resolves to", From: modules.Ref(root), To: modules.Ref(ip)},
		},
		Events: []modules.EventDraft{
			{
				Type: "PASSIVE_DNS", Name: "resolution",
				FirstSeen: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
				LastSeen:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
				Involved:  modules.Ref(root),
			},
		},
	}, nil
}

type fixture struct {
	server  *Server
	store   *storage.MemoryStore
	handler http.Handler
}

func newFixture(t *testing.T, hashes []string, mods ...modules.Module) *fixture {
	t.Helper()
	store := storage.NewMemoryStore()
	upserter := graph.NewUpserter(store, nil)
	registry := modules.NewRegistry(nil)
	for _, m := range mods {
		require.NoError(t, registry.Register(m))
		require.NoError(t, store.UpsertCredentials(context.Background(), &storage.VendorCredentials{
			Vendor:  m.Identifier(),
			Secrets: map[string]string{"api_key": "sekrit"},
		}))
	}
	tax := taxonomy.NewDefault()
	orch := scheduler.NewOrchestrator(store, upserter, registry, tax,
		nil, metrics.NewRegistry(), nil, 2, 16, nil)
	t.Cleanup(orch.Close)

	checker := health.NewChecker()
	checker.Register("store", health.StoreCheck(store.Ping))
	checker.Register("modules", health.ModulesCheck(func() int { return len(registry.Modules()) }))

	server := NewServer(Options{
		Store:        store,
		Orchestrator: orch,
		Graph:        upserter,
		Registry:     registry,
		Taxonomy:     tax,
		Checker:      checker,
		APIKeyHashes: hashes,
	})
	return &fixture{server: server, store: store, handler: server.Handler()}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) waitForTerminal(t *testing.T, id string) *storage.Request {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		req, err := f.store.GetRequest(context.Background(), id)
		require.NoError(t, err)
		if req.Status.Terminal() {
			return req
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("request %s never finished", id)
	return nil
}

func domainModule() *stubModule {
	return &stubModule{id: "stub", supported: map[string][]string{"observable": {"domain"}}}
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t, nil, domainModule())

	rec := f.do(t, http.MethodPost, "/api/requests", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/requests", SubmitRequest{Value: "example.com"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/requests", SubmitRequest{
		Value: "example.com", SuperType: "OBSERVABLE", Type: "NOPE",
	})
	assert.Equal(t, http.StatusNotAcceptable, rec.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, http.StatusNotAcceptable, body.Code)
}

func TestSubmitAndFetchLifecycle(t *testing.T) {
	f := newFixture(t, nil, domainModule())

	rec := f.do(t, http.MethodPost, "/api/requests", SubmitRequest{
		Value: "example.com", SuperType: "observable", Type: "domain",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created RequestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotNil(t, created.Request)
	assert.Nil(t, created.Results)

	f.waitForTerminal(t, created.Request.ID)

	rec = f.do(t, http.MethodGet, "/api/requests/"+created.Request.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var fetched RequestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fetched))
	assert.Equal(t, storage.StatusSucceeded, fetched.Request.Status)
	require.NotNil(t, fetched.Results)
	assert.Equal(t, "example.com", fetched.Results.RootEntity.Name)
	assert.Len(t, fetched.Results.Entities, 1)
	assert.Len(t, fetched.Results.Relations, 1)
	assert.Len(t, fetched.Results.Events, 1)
	assert.Contains(t, fetched.Results.Graph, "flowchart LR")
}

func TestSubmitAnswersFromGraphOnSecondLookup(t *testing.T) {
	f := newFixture(t, nil, domainModule())

	rec := f.do(t, http.MethodPost, "/api/requests", SubmitRequest{
		Value: "example.com", SuperType: "OBSERVABLE", Type: "DOMAIN",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created RequestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	f.waitForTerminal(t, created.Request.ID)

	rec = f.do(t, http.MethodPost, "/api/requests", SubmitRequest{
		Value: "example.com", SuperType: "OBSERVABLE", Type: "DOMAIN",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var cached RequestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cached))
	require.NotNil(t, cached.Results)
	assert.Equal(t, "example.com", cached.Results.RootEntity.Name)
}

func TestSubmitReusedFailedRequestIs404(t *testing.T) {
	mod := &stubModule{
		id:        "broken",
		supported: map[string][]string{"observable": {"domain"}},
		err:       fmt.Errorf("vendor unavailable"),
	}
	f := newFixture(t, nil, mod)

	rec := f.do(t, http.MethodPost, "/api/requests", SubmitRequest{
		Value: "example.com", SuperType: "OBSERVABLE", Type: "DOMAIN",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created RequestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	f.waitForTerminal(t, created.Request.ID)

	rec = f.do(t, http.MethodPost, "/api/requests", SubmitRequest{
		Value: "example.com", SuperType: "OBSERVABLE", Type: "DOMAIN",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var reused RequestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reused))
	assert.Equal(t, storage.StatusFailed, reused.Request.Status)
}

func TestGetRequestErrors(t *testing.T) {
	f := newFixture(t, nil, domainModule())

	rec := f.do(t, http.MethodGet, "/api/requests/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/requests/nope?format=stix", nil)
	assert.Equal(t, http.StatusNotAcceptable, rec.Code)
}

func TestListRequests(t *testing.T) {
	f := newFixture(t, nil, domainModule())

	rec := f.do(t, http.MethodPost, "/api/requests", SubmitRequest{
		Value: "example.com", SuperType: "OBSERVABLE", Type: "DOMAIN",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/requests", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var reqs []*storage.Request
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reqs))
	assert.Len(t, reqs, 1)
}

func TestCancelRequest(t *testing.T) {
	f := newFixture(t, nil, domainModule())

	rec := f.do(t, http.MethodDelete, "/api/requests/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/requests", SubmitRequest{
		Value: "example.com", SuperType: "OBSERVABLE", Type: "DOMAIN",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created RequestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	f.waitForTerminal(t, created.Request.ID)

	rec = f.do(t, http.MethodDelete, "/api/requests/"+created.Request.ID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestTypesEndpoints(t *testing.T) {
	f := newFixture(t, nil, domainModule())

	rec := f.do(t, http.MethodGet, "/api/types", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing []SuperTypeListing
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	codes := make([]string, 0, len(listing))
	for _, l := range listing {
		codes = append(codes, l.SuperType.Code)
	}
	assert.Contains(t, codes, "OBSERVABLE")

	rec = f.do(t, http.MethodGet, "/api/types/supported", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var supported map[string][]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &supported))
	assert.Equal(t, []string{"DOMAIN"}, supported["OBSERVABLE"])
}

func TestModulesAndStatusEndpoints(t *testing.T) {
	f := newFixture(t, nil, domainModule())

	rec := f.do(t, http.MethodGet, "/api/modules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing []ModuleListing
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Len(t, listing, 1)
	assert.Equal(t, "stub", listing[0].Identifier)
	assert.Equal(t, 1, listing[0].Configured)

	rec = f.do(t, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Len(t, status.Workers, 2)
	assert.Equal(t, 1, status.InstalledModules)
	assert.Equal(t, 0, status.CachedEntities)
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t, nil, domainModule())

	rec := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp health.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, health.StatusHealthy, resp.Status)
}

func TestAPIKeyAuthentication(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("open-sesame"), bcrypt.MinCost)
	require.NoError(t, err)
	f := newFixture(t, []string{string(hash)}, domainModule())

	rec := f.do(t, http.MethodGet, "/api/types", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/types", nil)
	req.Header.Set("X-Api-Key", "wrong")
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/types", nil)
	req.Header.Set("X-Api-Key", "open-sesame")
	rr = httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	// Health stays open for load balancer probes.
	rec = f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBodySizeLimit(t *testing.T) {
	f := newFixture(t, nil, domainModule())

	req := httptest.NewRequest(http.MethodPost, "/api/requests",
		strings.NewReader(strings.Repeat("x", 64)))
	req.ContentLength = maxBodyBytes + 1
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
