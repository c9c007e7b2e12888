package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/PiRogueToolSuite/threatr/pkg/storage"
)

// Format selects the rendering of a result graph.
type Format string

const (
	// FormatJSON is the only required output format.
	FormatJSON Format = "json"
)

// ErrUnsupportedFormat is returned for formats this renderer cannot produce.
var ErrUnsupportedFormat = errors.New("unsupported output format")

// ParseFormat validates a client-supplied format string.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatJSON, "":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, s)
	}
}

// Neighborhood is the result subgraph assembled around one root entity:
// its events, the relations it participates in, and the de-duplicated
// neighbor entities those reference.
type Neighborhood struct {
	RootEntity *storage.Entity            `json:"root_entity"`
	Entities   []*storage.Entity          `json:"entities"`
	Events     []*storage.Event           `json:"events"`
	Relations  []*storage.EntityRelation  `json:"relations"`
	Graph      string                     `json:"graph"`
}

// BuildNeighborhood gathers the subgraph around root: every event involving
// it, every relation where it is either endpoint, and the neighbor entities
// on the far side of those relations (deduplicated, root excluded).
func (u *Upserter) BuildNeighborhood(ctx context.Context, root *storage.Entity) (*Neighborhood, error) {
	events, err := u.store.EventsOf(ctx, root.ID)
	if err != nil {
		return nil, fmt.Errorf("build neighborhood: %w", err)
	}
	relations, err := u.store.RelationsOf(ctx, root.ID)
	if err != nil {
		return nil, fmt.Errorf("build neighborhood: %w", err)
	}

	seen := map[string]bool{root.ID: true}
	var neighbors []*storage.Entity
	for _, rel := range relations {
		otherID := rel.FromID
		if otherID == root.ID {
			otherID = rel.ToID
		}
		if seen[otherID] {
			continue
		}
		seen[otherID] = true
		other, err := u.store.GetEntityByID(ctx, otherID)
		if err != nil {
			return nil, fmt.Errorf("build neighborhood: %w", err)
		}
		neighbors = append(neighbors, other)
	}

	all := append([]*storage.Entity{root}, neighbors...)
	return &Neighborhood{
		RootEntity: root,
		Entities:   neighbors,
		Events:     events,
		Relations:  relations,
		Graph:      mermaidGraph(all, relations),
	}, nil
}

// entityLabel renders the display label used in the flow diagram.
func entityLabel(e *storage.Entity) string {
	return fmt.Sprintf("%s (%s)", e.Name, strings.ToLower(e.Type))
}

// mermaidGraph renders a textual flow diagram: one line per distinct
// entity, one line per distinct relation. Lines are de-duplicated by exact
// content and sorted so the output is deterministic regardless of input
// ordering.
func mermaidGraph(entities []*storage.Entity, relations []*storage.EntityRelation) string {
	entityLines := make(map[string]bool)
	for _, e := range entities {
		entityLines[fmt.Sprintf("%s(%q)", e.ID, entityLabel(e))] = true
	}
	relationLines := make(map[string]bool)
	for _, r := range relations {
		relationLines[fmt.Sprintf("%s -- %s --> %s", r.FromID, r.Name, r.ToID)] = true
	}

	lines := make([]string, 0, len(entityLines)+len(relationLines))
	for line := range entityLines {
		lines = append(lines, line)
	}
	sort.Strings(lines)
	rels := make([]string, 0, len(relationLines))
	for line := range relationLines {
		rels = append(rels, line)
	}
	sort.Strings(rels)
	lines = append(lines, rels...)

	return "flowchart LR\n\t" + strings.Join(lines, "\n\t")
}
