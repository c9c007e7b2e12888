package modules

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PiRogueToolSuite/threatr/pkg/storage"
)

const vendorDoc = `{
	"asn": 64496,
	"isp": "Example ISP",
	"score": 0.75,
	"malicious": true,
	"last_update": 1704067200,
	"tags": ["scanner", "tor"],
	"domains": ["example.com", "example.org"],
	"ports": [22, 443]
}`

func testHTTPModule(baseURL string) *HTTPModule {
	return NewHTTPModule(HTTPModuleConfig{
		Identifier:  "fakevendor",
		Vendor:      "FakeVendor",
		Description: "Get intelligence from FakeVendor.",
		BaseURL:     baseURL,
		Paths: map[string]string{
			"IPV4": "/hosts/{value}",
		},
		Supported: map[string][]string{
			"observable": {"ipv4"},
		},
		Attributes: []string{"asn", "isp", "score", "malicious", "missing"},
		TagsField:  "tags",
		Related: []RelatedField{
			{Field: "domains", RelationName: "resolves to", SuperType: "OBSERVABLE", Type: "DOMAIN", Inbound: true},
		},
		EventTimeField: "last_update",
		EventType:      "SCAN",
		EventName:      "host scanned",
	}, nil)
}

func ipRequest() *storage.Request {
	return &storage.Request{ID: "req-1", Value: "1.2.3.4", SuperType: "observable", Type: "ipv4"}
}

func creds() *storage.VendorCredentials {
	return &storage.VendorCredentials{Vendor: "fakevendor", Secrets: map[string]string{"api_key": "sekrit"}}
}

func TestHTTPModuleRun(t *testing.T) {
	var gotPath, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-Api-Key")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(vendorDoc))
	}))
	defer srv.Close()

	m := testHTTPModule(srv.URL)
	results, err := m.Run(context.Background(), ipRequest(), creds())
	require.NoError(t, err)

	assert.Equal(t, "/hosts/1.2.3.4", gotPath)
	assert.Equal(t, "sekrit", gotKey)
	assert.JSONEq(t, vendorDoc, string(results.RawPayload))

	// Root entity plus two related domains
	require.Len(t, results.Entities, 3)
	root := results.Entities[0]
	assert.Equal(t, "1.2.3.4", root.Name)
	assert.Equal(t, "OBSERVABLE", root.SuperType)
	assert.Equal(t, "IPV4", root.Type)
	assert.Equal(t, "FakeVendor", root.Attributes.GetString("source_vendor"))
	assert.Equal(t, "Example ISP", root.Attributes.GetString("isp"))
	assert.Equal(t, "scanner,tor", root.Attributes.GetString("tags"))

	asn, err := root.Attributes["asn"].AsInt()
	require.NoError(t, err)
	assert.Equal(t, int64(64496), asn)
	score, err := root.Attributes["score"].AsFloat()
	require.NoError(t, err)
	assert.Equal(t, 0.75, score)
	malicious, err := root.Attributes["malicious"].AsBool()
	require.NoError(t, err)
	assert.True(t, malicious)
	_, present := root.Attributes["missing"]
	assert.False(t, present)

	// Inbound related field: domain points at the root
	require.Len(t, results.Relations, 2)
	rel := results.Relations[0]
	assert.Equal(t, "resolves to", rel.Name)
	assert.Equal(t, "example.com", rel.From.Name)
	assert.Equal(t, "1.2.3.4", rel.To.Name)

	require.Len(t, results.Events, 1)
	ev := results.Events[0]
	assert.Equal(t, "SCAN", ev.Type)
	assert.Equal(t, "host scanned", ev.Name)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), ev.FirstSeen)
	assert.Equal(t, Ref(results.Entities[0]), ev.Involved)
}

func TestHTTPModuleRequiresCredentials(t *testing.T) {
	m := testHTTPModule("http://127.0.0.1:1")

	_, err := m.Run(context.Background(), ipRequest(), nil)
	assert.ErrorIs(t, err, ErrNoCredentials)

	_, err = m.Run(context.Background(), ipRequest(), &storage.VendorCredentials{Secrets: map[string]string{}})
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestHTTPModuleVendorError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	m := testHTTPModule(srv.URL)
	_, err := m.Run(context.Background(), ipRequest(), creds())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestHTTPModuleShouldSkipUnmappedType(t *testing.T) {
	m := testHTTPModule("http://127.0.0.1:1")

	assert.False(t, m.ShouldSkip(ipRequest()))
	assert.True(t, m.ShouldSkip(&storage.Request{SuperType: "OBSERVABLE", Type: "SHA256"}))
}

func TestHTTPModuleMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	m := testHTTPModule(srv.URL)
	_, err := m.Run(context.Background(), ipRequest(), creds())
	assert.Error(t, err)
}
