package modules

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/PiRogueToolSuite/threatr/pkg/logging"
	"github.com/PiRogueToolSuite/threatr/pkg/storage"
)

// Registry holds the installed vendor modules. Modules are registered
// explicitly at startup; there is no runtime discovery.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]Module
	logger  logging.Logger
}

// NewRegistry creates an empty module registry.
func NewRegistry(logger logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Registry{
		modules: make(map[string]Module),
		logger:  logger.With(logging.Component("modules")),
	}
}

// Register installs a module under its identifier. Registering two modules
// with the same identifier is a configuration error.
func (r *Registry) Register(m Module) error {
	id := strings.ToLower(m.Identifier())
	if id == "" {
		return fmt.Errorf("register module: empty identifier")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.modules[id]; exists {
		return fmt.Errorf("register module: duplicate identifier %q", id)
	}
	r.modules[id] = m
	r.logger.Info("module registered",
		logging.Vendor(m.DisplayName()),
		logging.String("identifier", id))
	return nil
}

// Get returns the module registered under the given identifier.
func (r *Registry) Get(identifier string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[strings.ToLower(identifier)]
	return m, ok
}

// Modules lists the installed modules sorted by identifier.
func (r *Registry) Modules() []Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Module, 0, len(r.modules))
	for _, m := range r.modules {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Identifier() < out[j].Identifier()
	})
	return out
}

// Infos lists the installed modules as serializable descriptions, sorted
// by identifier.
func (r *Registry) Infos() []Info {
	mods := r.Modules()
	infos := make([]Info, 0, len(mods))
	for _, m := range mods {
		infos = append(infos, Info{
			Identifier:     m.Identifier(),
			DisplayName:    m.DisplayName(),
			Description:    m.Description(),
			SupportedTypes: m.SupportedTypes(),
		})
	}
	return infos
}

// CandidatesFor selects the modules whose declared types cover the
// request, sorted by identifier so execution order is stable.
func (r *Registry) CandidatesFor(req *storage.Request) []Module {
	var candidates []Module
	for _, m := range r.Modules() {
		if Supports(m.SupportedTypes(), req.SuperType, req.Type) {
			candidates = append(candidates, m)
		}
	}
	return candidates
}

// SupportedTypes aggregates the declarations of every installed module
// into one map of upper-cased super-type code to sorted, de-duplicated
// upper-cased type codes. This is what the types endpoint serves so
// clients know what the deployment can answer for.
func (r *Registry) SupportedTypes() map[string][]string {
	sets := make(map[string]map[string]bool)
	for _, m := range r.Modules() {
		for st, types := range m.SupportedTypes() {
			key := strings.ToUpper(st)
			if sets[key] == nil {
				sets[key] = make(map[string]bool)
			}
			for _, tc := range types {
				sets[key][strings.ToUpper(tc)] = true
			}
		}
	}

	out := make(map[string][]string, len(sets))
	for st, types := range sets {
		codes := make([]string, 0, len(types))
		for tc := range types {
			codes = append(codes, tc)
		}
		sort.Strings(codes)
		out[st] = codes
	}
	return out
}
