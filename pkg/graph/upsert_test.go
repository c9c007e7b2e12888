package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PiRogueToolSuite/threatr/pkg/logging"
	"github.com/PiRogueToolSuite/threatr/pkg/storage"
)

func newUpserter() (*Upserter, *storage.MemoryStore) {
	store := storage.NewMemoryStore()
	return NewUpserter(store, logging.NewNopLogger()), store
}

func observable(name string) *storage.Entity {
	return &storage.Entity{Name: name, SuperType: "OBSERVABLE", Type: "DOMAIN"}
}

func TestUpsertEntityIdempotent(t *testing.T) {
	u, store := newUpserter()
	ctx := context.Background()

	first, created, err := u.UpsertEntity(ctx, observable("example.com"))
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := u.UpsertEntity(ctx, observable("example.com"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	n, _ := store.CountEntities(ctx)
	assert.Equal(t, 1, n)
}

func TestUpsertEntityDoesNotClobberDescription(t *testing.T) {
	u, _ := newUpserter()
	ctx := context.Background()

	e := observable("example.com")
	e.Description = "A"
	_, _, err := u.UpsertEntity(ctx, e)
	require.NoError(t, err)

	richer := observable("example.com")
	richer.Description = "B"
	got, _, err := u.UpsertEntity(ctx, richer)
	require.NoError(t, err)
	assert.Equal(t, "A", got.Description)
}

func TestUpsertEntityBackfillsEmptyFields(t *testing.T) {
	u, _ := newUpserter()
	ctx := context.Background()

	_, _, err := u.UpsertEntity(ctx, observable("example.com"))
	require.NoError(t, err)

	update := observable("example.com")
	update.Description = "B"
	update.SourceURL = "https://vendor.example/report"
	got, _, err := u.UpsertEntity(ctx, update)
	require.NoError(t, err)
	assert.Equal(t, "B", got.Description)
	assert.Equal(t, "https://vendor.example/report", got.SourceURL)
}

func TestUpsertEntityAttributeMergeFirstWriterWins(t *testing.T) {
	u, _ := newUpserter()
	ctx := context.Background()

	e := observable("example.com")
	e.Attributes = storage.Attributes{
		"country": storage.StringValue("FR"),
	}
	_, _, err := u.UpsertEntity(ctx, e)
	require.NoError(t, err)

	later := observable("example.com")
	later.Attributes = storage.Attributes{
		"country": storage.StringValue("DE"),
		"asn":     storage.IntValue(64496),
	}
	got, _, err := u.UpsertEntity(ctx, later)
	require.NoError(t, err)

	// Existing key untouched, new key added
	assert.Equal(t, "FR", got.Attributes.GetString("country"))
	asn, err := got.Attributes["asn"].AsInt()
	require.NoError(t, err)
	assert.Equal(t, int64(64496), asn)
}

func TestUpsertEntityTagsUnion(t *testing.T) {
	u, _ := newUpserter()
	ctx := context.Background()

	e := observable("example.com")
	e.Attributes = storage.Attributes{"tags": storage.StringValue("phishing,c2")}
	_, _, err := u.UpsertEntity(ctx, e)
	require.NoError(t, err)

	later := observable("example.com")
	later.Attributes = storage.Attributes{"tags": storage.StringValue("c2,malware")}
	got, _, err := u.UpsertEntity(ctx, later)
	require.NoError(t, err)

	assert.Equal(t, "c2,malware,phishing", got.Attributes.GetString("tags"))
}

func TestUpsertEntityDefaultsMarkers(t *testing.T) {
	u, _ := newUpserter()

	got, _, err := u.UpsertEntity(context.Background(), observable("example.com"))
	require.NoError(t, err)
	assert.Equal(t, storage.MarkerWhite, got.TLP)
	assert.Equal(t, storage.MarkerWhite, got.PAP)
}

func TestUpsertRelationIdempotent(t *testing.T) {
	u, store := newUpserter()
	ctx := context.Background()

	from, _, err := u.UpsertEntity(ctx, observable("example.com"))
	require.NoError(t, err)
	ip := observable("1.2.3.4")
	ip.Type = "IPV4"
	to, _, err := u.UpsertEntity(ctx, ip)
	require.NoError(t, err)

	r := &storage.EntityRelation{Name: "resolves to", FromID: from.ID, ToID: to.ID}
	_, created, err := u.UpsertRelation(ctx, r)
	require.NoError(t, err)
	assert.True(t, created)

	again := &storage.EntityRelation{Name: "resolves to", FromID: from.ID, ToID: to.ID}
	_, created, err = u.UpsertRelation(ctx, again)
	require.NoError(t, err)
	assert.False(t, created)

	n, _ := store.CountRelations(ctx)
	assert.Equal(t, 1, n)
}

func TestUpsertEventDefaultsCountToOne(t *testing.T) {
	u, _ := newUpserter()
	ctx := context.Background()

	e, _, err := u.UpsertEntity(ctx, observable("example.com"))
	require.NoError(t, err)

	ev := &storage.Event{Type: "PASSIVE_DNS", Name: "resolution", InvolvedEntityID: e.ID}
	got, created, err := u.UpsertEvent(ctx, ev)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(1), got.Count)
}

func TestCrossRequestAccumulation(t *testing.T) {
	// Two independent normalization runs for the same observable merge
	// into one row, each contributing its own attributes.
	u, store := newUpserter()
	ctx := context.Background()

	fromVendorA := observable("1.2.3.4")
	fromVendorA.Type = "IPV4"
	fromVendorA.Attributes = storage.Attributes{
		"source_vendor": storage.StringValue("vendor-a"),
		"country":       storage.StringValue("FR"),
	}
	_, _, err := u.UpsertEntity(ctx, fromVendorA)
	require.NoError(t, err)

	fromVendorB := observable("1.2.3.4")
	fromVendorB.Type = "IPV4"
	fromVendorB.Attributes = storage.Attributes{
		"asn": storage.IntValue(64496),
	}
	got, _, err := u.UpsertEntity(ctx, fromVendorB)
	require.NoError(t, err)

	assert.Equal(t, "vendor-a", got.Attributes.GetString("source_vendor"))
	assert.Equal(t, "64496", got.Attributes.GetString("asn"))

	n, _ := store.CountEntities(ctx)
	assert.Equal(t, 1, n)
}

func TestUnionTags(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want string
	}{
		{"disjoint", "a,b", "c", "a,b,c"},
		{"overlap", "a,b", "b,c", "a,b,c"},
		{"empty left", "", "x", "x"},
		{"empty both", "", "", ""},
		{"whitespace", " a , b ", "b", "a,b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, unionTags(tt.a, tt.b))
		})
	}
}
