package graph

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PiRogueToolSuite/threatr/pkg/storage"
)

func ts(value string) time.Time {
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		panic(err)
	}
	return t
}

func pdnsEvent(t *testing.T, u *Upserter, entityID, first, last string) *storage.Event {
	t.Helper()
	ev := &storage.Event{
		Type:             "PASSIVE_DNS",
		Name:             "resolution",
		FirstSeen:        ts(first),
		LastSeen:         ts(last),
		InvolvedEntityID: entityID,
		Attributes:       storage.Attributes{"source_vendor": storage.StringValue("vendor-a")},
	}
	got, _, err := u.UpsertEvent(context.Background(), ev)
	require.NoError(t, err)
	return got
}

func TestCoalesceOverlappingObservations(t *testing.T) {
	u, store := newUpserter()
	ctx := context.Background()

	root, _, err := u.UpsertEntity(ctx, observable("example.com"))
	require.NoError(t, err)

	// Three observations of the same resolution: two overlapping on
	// 2024-01-01, one far apart on 2024-01-05.
	a := pdnsEvent(t, u, root.ID, "2024-01-01", "2024-01-01")
	b := &storage.Event{
		Type:             "PASSIVE_DNS",
		Name:             "resolution",
		FirstSeen:        ts("2024-01-01"),
		LastSeen:         ts("2024-01-02"),
		Count:            2,
		InvolvedEntityID: root.ID,
		Attributes:       storage.Attributes{"source_vendor": storage.StringValue("vendor-a")},
	}
	b, _, err = u.UpsertEvent(ctx, b)
	require.NoError(t, err)
	c := pdnsEvent(t, u, root.ID, "2024-01-05", "2024-01-05")

	kept, err := u.CoalesceEvents(ctx, []*storage.Event{a, b, c})
	require.NoError(t, err)
	require.Len(t, kept, 2)

	merged := kept[0]
	assert.Equal(t, ts("2024-01-01"), merged.FirstSeen)
	assert.Equal(t, ts("2024-01-02"), merged.LastSeen)
	assert.Equal(t, int64(3), merged.Count)

	assert.Equal(t, ts("2024-01-05"), kept[1].FirstSeen)
	assert.Equal(t, int64(1), kept[1].Count)

	n, _ := store.CountEvents(ctx)
	assert.Equal(t, 2, n)
}

func TestCoalesceAdjacentDaysMerge(t *testing.T) {
	u, _ := newUpserter()
	ctx := context.Background()

	root, _, err := u.UpsertEntity(ctx, observable("example.com"))
	require.NoError(t, err)

	// Day granularity: an event starting the same day the previous one
	// ended is folded in, even if the clock times do not overlap.
	a := pdnsEvent(t, u, root.ID, "2024-02-01", "2024-02-03")
	b := &storage.Event{
		Type:             "PASSIVE_DNS",
		Name:             "resolution",
		FirstSeen:        ts("2024-02-03").Add(23 * time.Hour),
		LastSeen:         ts("2024-02-04"),
		InvolvedEntityID: root.ID,
		Attributes:       storage.Attributes{"source_vendor": storage.StringValue("vendor-a")},
	}
	b, _, err = u.UpsertEvent(ctx, b)
	require.NoError(t, err)

	kept, err := u.CoalesceEvents(ctx, []*storage.Event{a, b})
	require.NoError(t, err)
	require.Len(t, kept, 1)
	assert.Equal(t, ts("2024-02-04"), kept[0].LastSeen)
	assert.Equal(t, int64(2), kept[0].Count)
}

func TestCoalesceKeepsVendorsSeparate(t *testing.T) {
	u, _ := newUpserter()
	ctx := context.Background()

	root, _, err := u.UpsertEntity(ctx, observable("example.com"))
	require.NoError(t, err)

	a := pdnsEvent(t, u, root.ID, "2024-01-01", "2024-01-02")
	b := &storage.Event{
		Type:             "PASSIVE_DNS",
		Name:             "resolution",
		FirstSeen:        ts("2024-01-01"),
		LastSeen:         ts("2024-01-02"),
		InvolvedEntityID: root.ID,
		Attributes:       storage.Attributes{"source_vendor": storage.StringValue("vendor-b")},
	}
	b, _, err = u.UpsertEvent(ctx, b)
	require.NoError(t, err)

	kept, err := u.CoalesceEvents(ctx, []*storage.Event{a, b})
	require.NoError(t, err)
	assert.Len(t, kept, 2)
}

func TestCoalesceKeepsDifferentNamesSeparate(t *testing.T) {
	u, _ := newUpserter()
	ctx := context.Background()

	root, _, err := u.UpsertEntity(ctx, observable("example.com"))
	require.NoError(t, err)

	a := pdnsEvent(t, u, root.ID, "2024-01-01", "2024-01-02")
	b := &storage.Event{
		Type:             "PASSIVE_DNS",
		Name:             "scan hit",
		FirstSeen:        ts("2024-01-01"),
		LastSeen:         ts("2024-01-02"),
		InvolvedEntityID: root.ID,
		Attributes:       storage.Attributes{"source_vendor": storage.StringValue("vendor-a")},
	}
	b, _, err = u.UpsertEvent(ctx, b)
	require.NoError(t, err)

	kept, err := u.CoalesceEvents(ctx, []*storage.Event{a, b})
	require.NoError(t, err)
	assert.Len(t, kept, 2)
}

// TestCoalesceProperties verifies interval-sweep invariants that must hold
// for any input set.
func TestCoalesceProperties(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping property-based test in short mode")
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	base := ts("2024-01-01")

	makeEvents := func(spans [][2]int) []*storage.Event {
		events := make([]*storage.Event, 0, len(spans))
		for _, span := range spans {
			start, length := span[0], span[1]
			events = append(events, &storage.Event{
				Type:      "PASSIVE_DNS",
				Name:      "resolution",
				FirstSeen: base.AddDate(0, 0, start),
				LastSeen:  base.AddDate(0, 0, start+length),
				Count:     1,
			})
		}
		return events
	}

	spanGen := gen.SliceOf(gopter.CombineGens(
		gen.IntRange(0, 60),
		gen.IntRange(0, 10),
	).Map(func(vals []interface{}) [2]int {
		return [2]int{vals[0].(int), vals[1].(int)}
	}))

	properties.Property("total count is conserved", prop.ForAll(
		func(spans [][2]int) bool {
			merged, _ := mergeIntervals(makeEvents(spans))
			var total int64
			for _, ev := range merged {
				total += ev.Count
			}
			return total == int64(len(spans))
		},
		spanGen,
	))

	properties.Property("merged intervals never overlap", prop.ForAll(
		func(spans [][2]int) bool {
			merged, _ := mergeIntervals(makeEvents(spans))
			for i := 1; i < len(merged); i++ {
				if !day(merged[i].FirstSeen).After(day(merged[i-1].LastSeen)) {
					return false
				}
			}
			return true
		},
		spanGen,
	))

	properties.Property("merged plus dropped equals input", prop.ForAll(
		func(spans [][2]int) bool {
			merged, dropped := mergeIntervals(makeEvents(spans))
			return len(merged)+len(dropped) == len(spans)
		},
		spanGen,
	))

	properties.TestingRun(t)
}
