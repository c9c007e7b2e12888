package modules

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PiRogueToolSuite/threatr/pkg/logging"
	"github.com/PiRogueToolSuite/threatr/pkg/storage"
)

const defaultHTTPTimeout = 30 * time.Second

// maxResponseBytes caps how much of a vendor response is read. Vendor
// APIs occasionally return very large documents for popular observables.
const maxResponseBytes = 8 << 20

// RelatedField maps a string-array field of the vendor response onto
// neighbor entities linked to the root by a named relation.
type RelatedField struct {
	Field        string `yaml:"field" json:"field"`
	RelationName string `yaml:"relation_name" json:"relation_name"`
	SuperType    string `yaml:"super_type" json:"super_type"`
	Type         string `yaml:"type" json:"type"`
	// Inbound flips the edge so the neighbor points at the root.
	Inbound bool `yaml:"inbound,omitempty" json:"inbound,omitempty"`
}

// HTTPModuleConfig describes one REST-style JSON intelligence endpoint.
// One config produces one installed module; deployments declare these in
// the configuration file rather than writing code per vendor.
type HTTPModuleConfig struct {
	Identifier  string `yaml:"identifier" validate:"required"`
	Vendor      string `yaml:"vendor" validate:"required"`
	Description string `yaml:"description"`
	BaseURL     string `yaml:"base_url" validate:"required,url"`

	// Paths maps an upper-cased type code to the request path for that
	// type. The requested value replaces the {value} placeholder.
	Paths map[string]string `yaml:"paths" validate:"required,min=1"`

	// Supported declares the taxonomy slices the endpoint answers for.
	Supported map[string][]string `yaml:"supported" validate:"required,min=1"`

	// APIKeyHeader is the header carrying the api_key secret.
	APIKeyHeader string `yaml:"api_key_header"`

	// Attributes lists top-level response fields copied onto the root
	// entity verbatim.
	Attributes []string `yaml:"attributes"`

	// TagsField names a string-array response field merged into the
	// root entity's tags.
	TagsField string `yaml:"tags_field"`

	Related []RelatedField `yaml:"related"`

	// EventTimeField names a unix-seconds response field; when present
	// and non-zero, one observation event of EventType/EventName is
	// emitted against the root entity at that time.
	EventTimeField string `yaml:"event_time_field"`
	EventType      string `yaml:"event_type"`
	EventName      string `yaml:"event_name"`

	Timeout time.Duration `yaml:"timeout"`
}

// HTTPModule is a generic vendor integration over a REST JSON endpoint.
// It fetches one document per request and normalizes its top-level fields
// into the root entity, neighbor entities and relations.
type HTTPModule struct {
	cfg    HTTPModuleConfig
	client *http.Client
	logger logging.Logger
}

// NewHTTPModule builds a module from an endpoint description.
func NewHTTPModule(cfg HTTPModuleConfig, logger logging.Logger) *HTTPModule {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = "X-Api-Key"
	}
	return &HTTPModule{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger.With(logging.Vendor(cfg.Vendor)),
	}
}

func (m *HTTPModule) Identifier() string  { return m.cfg.Identifier }
func (m *HTTPModule) DisplayName() string { return m.cfg.Vendor }
func (m *HTTPModule) Description() string { return m.cfg.Description }

func (m *HTTPModule) SupportedTypes() map[string][]string {
	return m.cfg.Supported
}

// ShouldSkip reports true when no path is configured for the requested
// type. A declared type without a path is a deployment gap, not a run
// failure.
func (m *HTTPModule) ShouldSkip(req *storage.Request) bool {
	_, ok := m.cfg.Paths[strings.ToUpper(req.Type)]
	return !ok
}

// Run fetches the vendor document for the request and normalizes it.
func (m *HTTPModule) Run(ctx context.Context, req *storage.Request, creds *storage.VendorCredentials) (*Results, error) {
	if creds == nil || creds.Secrets["api_key"] == "" {
		return nil, fmt.Errorf("module %s: %w", m.cfg.Identifier, ErrNoCredentials)
	}

	raw, err := m.fetch(ctx, req, creds.Secrets["api_key"])
	if err != nil {
		return nil, err
	}

	results, err := m.normalize(req, raw)
	if err != nil {
		return nil, err
	}
	results.RawPayload = raw
	m.logger.Debug("module run complete",
		logging.RequestID(req.ID),
		logging.Count(len(results.Entities)))
	return results, nil
}

func (m *HTTPModule) fetch(ctx context.Context, req *storage.Request, apiKey string) ([]byte, error) {
	path, ok := m.cfg.Paths[strings.ToUpper(req.Type)]
	if !ok {
		return nil, fmt.Errorf("module %s: no endpoint path for type %s", m.cfg.Identifier, req.Type)
	}
	url := strings.TrimRight(m.cfg.BaseURL, "/") + strings.ReplaceAll(path, "{value}", req.Value)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("module %s: build request: %w", m.cfg.Identifier, err)
	}
	httpReq.Header.Set(m.cfg.APIKeyHeader, apiKey)
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := m.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("module %s: fetch: %w", m.cfg.Identifier, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("module %s: vendor returned status %d", m.cfg.Identifier, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("module %s: read response: %w", m.cfg.Identifier, err)
	}
	m.logger.Debug("vendor fetched",
		logging.RequestID(req.ID),
		logging.Latency(time.Since(start)))
	return body, nil
}

// normalize maps the vendor document onto graph rows. The root entity is
// the requested observable itself; configured attribute fields are copied
// onto it, tag arrays become tags, and related fields become neighbor
// entities plus one relation each.
func (m *HTTPModule) normalize(req *storage.Request, raw []byte) (*Results, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("module %s: decode response: %w", m.cfg.Identifier, err)
	}

	root := &storage.Entity{
		Name:      req.Value,
		SuperType: strings.ToUpper(req.SuperType),
		Type:      strings.ToUpper(req.Type),
		Attributes: storage.Attributes{
			"source_vendor": storage.StringValue(m.cfg.Vendor),
		},
	}
	for _, field := range m.cfg.Attributes {
		if v, ok := doc[field]; ok {
			if attr, ok := attributeValue(v); ok {
				root.Attributes[field] = attr
			}
		}
	}
	if m.cfg.TagsField != "" {
		if tags := stringSlice(doc[m.cfg.TagsField]); len(tags) > 0 {
			root.Attributes["tags"] = storage.StringValue(strings.Join(tags, ","))
		}
	}

	results := &Results{Entities: []*storage.Entity{root}}
	for _, rel := range m.cfg.Related {
		for _, name := range stringSlice(doc[rel.Field]) {
			neighbor := &storage.Entity{
				Name:      name,
				SuperType: strings.ToUpper(rel.SuperType),
				Type:      strings.ToUpper(rel.Type),
				Attributes: storage.Attributes{
					"source_vendor": storage.StringValue(m.cfg.Vendor),
				},
			}
			results.Entities = append(results.Entities, neighbor)
			edge := RelationDraft{
				Name: rel.RelationName,
				Attributes: storage.Attributes{
					"source_vendor": storage.StringValue(m.cfg.Vendor),
				},
			}
			if rel.Inbound {
				edge.From, edge.To = Ref(neighbor), Ref(root)
			} else {
				edge.From, edge.To = Ref(root), Ref(neighbor)
			}
			results.Relations = append(results.Relations, edge)
		}
	}

	if m.cfg.EventTimeField != "" {
		if ts, ok := doc[m.cfg.EventTimeField].(float64); ok && ts > 0 {
			seen := time.Unix(int64(ts), 0).UTC()
			results.Events = append(results.Events, EventDraft{
				Type:      m.cfg.EventType,
				Name:      m.cfg.EventName,
				FirstSeen: seen,
				LastSeen:  seen,
				Count:     1,
				Involved:  Ref(root),
				Attributes: storage.Attributes{
					"source_vendor": storage.StringValue(m.cfg.Vendor),
				},
			})
		}
	}
	return results, nil
}

// attributeValue converts a decoded JSON scalar into a storable value.
// Arrays and objects are skipped; they belong in dedicated fields.
func attributeValue(v any) (storage.Value, bool) {
	switch t := v.(type) {
	case string:
		return storage.StringValue(t), true
	case float64:
		if t == float64(int64(t)) {
			return storage.IntValue(int64(t)), true
		}
		return storage.FloatValue(t), true
	case bool:
		return storage.BoolValue(t), true
	default:
		return storage.Value{}, false
	}
}

// stringSlice extracts a []string from a decoded JSON value, skipping
// non-string elements.
func stringSlice(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
