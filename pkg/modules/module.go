package modules

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/PiRogueToolSuite/threatr/pkg/storage"
)

// ErrNoCredentials is returned by a module run that cannot proceed without
// vendor credentials.
var ErrNoCredentials = errors.New("no vendor credentials")

// EntityRef identifies an entity within one result set by its natural
// key. Modules cannot know store ids before their rows are upserted, so
// relations and events reference entities this way; the orchestrator
// resolves refs to ids after the entity pass.
type EntityRef struct {
	Name      string
	SuperType string
	Type      string
}

// Ref builds the natural-key reference for an entity.
func Ref(e *storage.Entity) EntityRef {
	return EntityRef{Name: e.Name, SuperType: e.SuperType, Type: e.Type}
}

// RelationDraft is a relation whose endpoints are natural-key refs into
// the same result set.
type RelationDraft struct {
	Name        string
	From        EntityRef
	To          EntityRef
	Description string
	Attributes  storage.Attributes
}

// EventDraft is an event whose involved entity is a natural-key ref into
// the same result set.
type EventDraft struct {
	Type        string
	Name        string
	Description string
	FirstSeen   time.Time
	LastSeen    time.Time
	Count       int64
	Involved    EntityRef
	Attributes  storage.Attributes
}

// Results is the normalized output of one vendor module run: graph rows
// ready for upserting, plus the raw vendor payload kept for the spool.
type Results struct {
	Entities   []*storage.Entity
	Relations  []RelationDraft
	Events     []EventDraft
	RawPayload []byte
}

// Empty reports whether the run produced no graph rows at all.
func (r *Results) Empty() bool {
	return len(r.Entities) == 0 && len(r.Relations) == 0 && len(r.Events) == 0
}

// Module is one vendor integration. A module declares which taxonomy slices
// it can answer for and turns one request into normalized graph rows.
// Implementations must be safe for concurrent Run calls.
type Module interface {
	// Identifier is the stable unique id used for registration and
	// credential lookup (e.g. "shodan").
	Identifier() string

	// DisplayName is the human-facing vendor name (e.g. "Shodan").
	DisplayName() string

	Description() string

	// SupportedTypes maps super-type codes to the type codes the module
	// handles under them. Matching is case-insensitive on both levels.
	SupportedTypes() map[string][]string

	// ShouldSkip reports that the module cannot usefully run for this
	// request even though its types match (missing local prerequisites,
	// unresolvable value shape). A skipped module is not a failure.
	ShouldSkip(req *storage.Request) bool

	// Run fetches vendor data for the request and normalizes it. The
	// credentials are the rotated set picked for this run.
	Run(ctx context.Context, req *storage.Request, creds *storage.VendorCredentials) (*Results, error)
}

// Info is the serializable description of an installed module, served by
// the module listing endpoint.
type Info struct {
	Identifier     string              `json:"identifier"`
	DisplayName    string              `json:"display_name"`
	Description    string              `json:"description"`
	SupportedTypes map[string][]string `json:"supported_types"`
}

// Supports reports whether a supported-types declaration covers the given
// super-type and type codes, comparing case-insensitively.
func Supports(supported map[string][]string, superType, typeCode string) bool {
	for st, types := range supported {
		if !strings.EqualFold(st, superType) {
			continue
		}
		for _, tc := range types {
			if strings.EqualFold(tc, typeCode) {
				return true
			}
		}
	}
	return false
}
