package parts

import (
	"fmt"
	"sort"
	"sync"

	"github.com/medley-tv/medley/internal/fsprobe"
)

// Registry holds the six ordered collections the metadata pipeline draws
// from. Registration happens during module init and plugin discovery; after
// Freeze the contents never change, so pipeline reads need no locking.
type Registry struct {
	mu     sync.RWMutex
	frozen bool
	strict bool

	ignoreRules    []fsprobe.IgnoreRule
	resolvers      []ItemResolver
	sidecarParsers []SidecarParser
	extractors     []EmbeddedExtractor
	agents         []MetadataAgent
	analyzers      map[string][]FileAnalyzer
	imageProviders map[string][]ImageProvider
}

// NewRegistry creates an empty, unfrozen registry.
func NewRegistry() *Registry {
	return &Registry{
		analyzers:      make(map[string][]FileAnalyzer),
		imageProviders: make(map[string][]ImageProvider),
	}
}

// SetStrict makes post-freeze registration panic instead of returning an
// error. Development builds turn this on to catch ordering bugs early.
func (r *Registry) SetStrict(strict bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strict = strict
}

// Freeze seals the registry. Idempotent.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Frozen reports whether the registry is sealed.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

func (r *Registry) frozenErr(what, name string) error {
	err := fmt.Errorf("registry is frozen: cannot register %s %q", what, name)
	if r.strict {
		panic(err)
	}
	return err
}

// RegisterIgnoreRule appends a traversal ignore rule.
func (r *Registry) RegisterIgnoreRule(rule fsprobe.IgnoreRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return r.frozenErr("ignore rule", rule.Name())
	}
	r.ignoreRules = append(r.ignoreRules, rule)
	return nil
}

// RegisterResolver adds an item resolver, kept sorted by ascending priority.
// Registration order breaks priority ties.
func (r *Registry) RegisterResolver(res ItemResolver) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return r.frozenErr("resolver", res.Name())
	}
	r.resolvers = append(r.resolvers, res)
	sort.SliceStable(r.resolvers, func(i, j int) bool {
		return r.resolvers[i].Priority() < r.resolvers[j].Priority()
	})
	return nil
}

// RegisterSidecarParser adds a sidecar parser.
func (r *Registry) RegisterSidecarParser(p SidecarParser) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return r.frozenErr("sidecar parser", p.Name())
	}
	r.sidecarParsers = append(r.sidecarParsers, p)
	return nil
}

// RegisterExtractor adds an embedded extractor.
func (r *Registry) RegisterExtractor(e EmbeddedExtractor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return r.frozenErr("extractor", e.Name())
	}
	r.extractors = append(r.extractors, e)
	return nil
}

// RegisterAgent adds a metadata agent, kept sorted by category then priority.
func (r *Registry) RegisterAgent(a MetadataAgent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return r.frozenErr("agent", a.Name())
	}
	r.agents = append(r.agents, a)
	sort.SliceStable(r.agents, func(i, j int) bool {
		if r.agents[i].Category() != r.agents[j].Category() {
			return r.agents[i].Category() < r.agents[j].Category()
		}
		return r.agents[i].Priority() < r.agents[j].Priority()
	})
	return nil
}

// RegisterAnalyzer adds a file analyzer for each library type it names.
func (r *Registry) RegisterAnalyzer(a FileAnalyzer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return r.frozenErr("analyzer", a.Name())
	}
	for _, lt := range a.LibraryTypes() {
		r.analyzers[lt] = append(r.analyzers[lt], a)
	}
	return nil
}

// RegisterImageProvider adds an image provider for each library type it names.
func (r *Registry) RegisterImageProvider(p ImageProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return r.frozenErr("image provider", p.Name())
	}
	for _, lt := range p.LibraryTypes() {
		r.imageProviders[lt] = append(r.imageProviders[lt], p)
	}
	return nil
}

// IgnoreRules returns the registered ignore rules. Callers must not mutate.
func (r *Registry) IgnoreRules() []fsprobe.IgnoreRule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ignoreRules
}

// Resolvers returns resolvers in ascending priority order.
func (r *Registry) Resolvers() []ItemResolver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolvers
}

// SidecarParsers returns parsers in registration order.
func (r *Registry) SidecarParsers() []SidecarParser {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sidecarParsers
}

// Extractors returns embedded extractors in registration order.
func (r *Registry) Extractors() []EmbeddedExtractor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.extractors
}

// Agents returns agents ordered by category then priority.
func (r *Registry) Agents() []MetadataAgent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.agents
}

// AnalyzersFor returns the analyzers registered for a library type.
func (r *Registry) AnalyzersFor(libraryType string) []FileAnalyzer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.analyzers[libraryType]
}

// ImageProvidersFor returns the image providers for a library type.
func (r *Registry) ImageProvidersFor(libraryType string) []ImageProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.imageProviders[libraryType]
}

// Default is the process-wide registry. Core modules and the plugin host
// register into it during startup; Freeze runs after both finish.
var Default = NewRegistry()
