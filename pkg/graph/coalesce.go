package graph

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/PiRogueToolSuite/threatr/pkg/logging"
	"github.com/PiRogueToolSuite/threatr/pkg/storage"
)

// sourceVendorKey is the attribute naming which vendor reported an event.
// Events from different vendors never coalesce with each other.
const sourceVendorKey = "source_vendor"

// bucketKey groups events that are candidate duplicates of one another:
// same event name, same involved entity, same reporting vendor (missing
// vendor treated as empty string).
func bucketKey(ev *storage.Event) string {
	return ev.Name + "\x00" + ev.InvolvedEntityID + "\x00" + ev.Attributes.GetString(sourceVendorKey)
}

// day truncates a timestamp to its UTC calendar day. Overlap is decided at
// day granularity to absorb vendor clock skew and precision differences.
func day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// mergeIntervals sweeps a single bucket of events sorted by first-seen and
// folds overlapping observations together. An event whose first-seen day is
// strictly after the last merged event's last-seen day starts a new merged
// event; anything else extends the last one (last-seen pushed to the max,
// counts added). Returns the surviving events and the folded-in ones.
func mergeIntervals(events []*storage.Event) (merged, dropped []*storage.Event) {
	sorted := make([]*storage.Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].FirstSeen.Before(sorted[j].FirstSeen)
	})

	for _, ev := range sorted {
		if len(merged) == 0 || day(ev.FirstSeen).After(day(merged[len(merged)-1].LastSeen)) {
			merged = append(merged, ev)
			continue
		}
		last := merged[len(merged)-1]
		if ev.LastSeen.After(last.LastSeen) {
			last.LastSeen = ev.LastSeen
		}
		last.Count += ev.Count
		dropped = append(dropped, ev)
	}
	return merged, dropped
}

// CoalesceEvents merges overlapping or duplicate observations within the
// given event set and persists the outcome: surviving events are saved with
// their extended intervals and summed counts, folded-in events are deleted.
// Returns the surviving events.
func (u *Upserter) CoalesceEvents(ctx context.Context, events []*storage.Event) ([]*storage.Event, error) {
	buckets := make(map[string][]*storage.Event)
	var order []string
	for _, ev := range events {
		key := bucketKey(ev)
		if _, ok := buckets[key]; !ok {
			order = append(order, key)
		}
		buckets[key] = append(buckets[key], ev)
	}

	var kept []*storage.Event
	for _, key := range order {
		merged, dropped := mergeIntervals(buckets[key])
		for _, ev := range dropped {
			if err := u.store.DeleteEvent(ctx, ev.ID); err != nil {
				return nil, fmt.Errorf("coalesce events: %w", err)
			}
		}
		for _, ev := range merged {
			if err := u.store.UpdateEvent(ctx, ev); err != nil {
				return nil, fmt.Errorf("coalesce events: %w", err)
			}
			kept = append(kept, ev)
		}
		if len(dropped) > 0 {
			u.logger.Debug("events coalesced",
				logging.Count(len(dropped)),
				logging.EntityName(buckets[key][0].InvolvedEntityID))
		}
	}
	return kept, nil
}
