// Package problemid maps heterogeneous user inputs (full URLs, bare
// numeric ids, already-canonical ids, manual-paste markers) onto the
// canonical "<adapter>_<origin_id>" key used by the filesystem and every
// pipeline stage.
package problemid

import (
	"fmt"
	"strings"

	"github.com/ojobatch/ojo/pkg/adapter"
	"github.com/ojobatch/ojo/pkg/workspace"
)

// Resolver canonicalizes problem inputs against the adapter registry.
type Resolver struct {
	registry       *adapter.Registry
	defaultAdapter string
	defaultBaseURL string
	ws             *workspace.Manager
}

// NewResolver creates a resolver. Bare numeric ids resolve through
// defaultAdapter by constructing "<defaultBaseURL>/problem/<id>".
func NewResolver(registry *adapter.Registry, ws *workspace.Manager, defaultAdapter, defaultBaseURL string) *Resolver {
	return &Resolver{
		registry:       registry,
		defaultAdapter: defaultAdapter,
		defaultBaseURL: strings.TrimRight(defaultBaseURL, "/"),
		ws:             ws,
	}
}

// IsPureNumeric reports whether the input is a bare 1-10 digit id.
func IsPureNumeric(raw string) bool {
	s := strings.TrimSpace(raw)
	if len(s) < 1 || len(s) > 10 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// FindAdapter locates the adapter for an input, returning the adapter and
// the lookup string its fetcher should parse. Bare numeric ids are
// expanded to the default platform's problem URL first.
func (r *Resolver) FindAdapter(raw string) (adapter.Adapter, string) {
	input := strings.TrimSpace(raw)

	if IsPureNumeric(input) {
		constructed := fmt.Sprintf("%s/problem/%s", r.defaultBaseURL, input)
		if a, ok := r.registry.FindByURL(constructed); ok {
			return a, constructed
		}
		return nil, input
	}

	if a, ok := r.registry.FindByURL(input); ok {
		return a, input
	}

	// Platform-native ids like "P1001" resolve through the default
	// adapter when its fetcher recognizes the form. URLs no adapter
	// claimed stay unresolved.
	if strings.Contains(input, "://") {
		return nil, input
	}
	if a, ok := r.registry.Get(r.defaultAdapter); ok {
		if f, isFetcher := a.(adapter.Fetcher); isFetcher && f.ParseProblemID(input) != "" {
			return a, input
		}
	}
	return nil, input
}

// Canonicalize converts any legitimate input form into the canonical
// "<adapter>_<id>" key. Inputs that cannot be resolved are returned
// unchanged, which makes the operation idempotent: an already-canonical
// id either re-resolves to itself or passes through.
func (r *Resolver) Canonicalize(raw string) string {
	input := strings.TrimSpace(raw)
	if input == "" {
		return input
	}

	a, lookup := r.FindAdapter(input)
	if a == nil {
		return input
	}
	f, ok := a.(adapter.Fetcher)
	if !ok {
		return input
	}
	parsed := f.ParseProblemID(lookup)
	if parsed == "" {
		return input
	}
	canonical := a.Name() + "_" + parsed
	return canonical
}

// Parse resolves the adapter and origin id for an input. Returns
// (nil, "") when nothing matches.
func (r *Resolver) Parse(raw string) (adapter.Adapter, string) {
	a, lookup := r.FindAdapter(raw)
	if a == nil {
		return nil, ""
	}
	f, ok := a.(adapter.Fetcher)
	if !ok {
		return a, ""
	}
	return a, f.ParseProblemID(lookup)
}

// WorkspaceDir returns the artifact directory for an input and user.
func (r *Resolver) WorkspaceDir(raw string, userID int64) string {
	return r.ws.Dir(userID, r.Canonicalize(raw))
}
