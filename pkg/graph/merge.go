package graph

import (
	"sort"
	"strings"

	"github.com/PiRogueToolSuite/threatr/pkg/storage"
)

// tagsKey is merged as a set union instead of first-writer-wins.
const tagsKey = "tags"

// tagsSeparator delimits tags when the union is rendered back to a string.
const tagsSeparator = ","

// mergeAttributes merges incoming attributes into existing, key by key.
// A key absent on existing is added; a key already present keeps its value
// (first vendor to state a fact wins). The "tags" attribute is a set union.
// Reports whether existing changed.
func mergeAttributes(existing, incoming storage.Attributes) bool {
	changed := false
	for key, value := range incoming {
		if key == tagsKey {
			continue
		}
		if _, ok := existing[key]; !ok {
			existing[key] = value
			changed = true
		}
	}

	if incomingTags, ok := incoming[tagsKey]; ok {
		merged := unionTags(existing.GetString(tagsKey), incomingTags.String())
		if merged != existing.GetString(tagsKey) {
			existing[tagsKey] = storage.StringValue(merged)
			changed = true
		}
	}
	return changed
}

// unionTags merges two delimited tag strings into one sorted, deduplicated
// delimited string.
func unionTags(a, b string) string {
	set := make(map[string]bool)
	for _, raw := range strings.Split(a+tagsSeparator+b, tagsSeparator) {
		tag := strings.TrimSpace(raw)
		if tag != "" {
			set[tag] = true
		}
	}
	tags := make([]string, 0, len(set))
	for tag := range set {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return strings.Join(tags, tagsSeparator)
}

// backfill sets dst to src only when dst is currently empty. Scalar
// descriptive fields are never overwritten once set.
func backfill(dst *string, src string) bool {
	if *dst == "" && src != "" {
		*dst = src
		return true
	}
	return false
}

// mergeEntity folds the defaults of a new observation into an existing
// entity. Reports whether the entity changed.
func mergeEntity(existing, defaults *storage.Entity) bool {
	changed := backfill(&existing.Description, defaults.Description)
	changed = backfill(&existing.SourceURL, defaults.SourceURL) || changed
	if existing.Attributes == nil {
		existing.Attributes = make(storage.Attributes)
	}
	return mergeAttributes(existing.Attributes, defaults.Attributes) || changed
}

// mergeRelation folds a new observation into an existing relation.
func mergeRelation(existing, defaults *storage.EntityRelation) bool {
	changed := backfill(&existing.Description, defaults.Description)
	if existing.Attributes == nil {
		existing.Attributes = make(storage.Attributes)
	}
	return mergeAttributes(existing.Attributes, defaults.Attributes) || changed
}

// mergeEvent folds a new observation into an existing event.
func mergeEvent(existing, defaults *storage.Event) bool {
	changed := backfill(&existing.Description, defaults.Description)
	if existing.Attributes == nil {
		existing.Attributes = make(storage.Attributes)
	}
	return mergeAttributes(existing.Attributes, defaults.Attributes) || changed
}
