package job

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/xraph/jobhub"
)

// Registry maps kind identifiers to definitions.
// It is safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register adds or replaces a definition.
func (r *Registry) Register(def Definition) error {
	if def.Kind == "" {
		return errors.New("jobhub: definition has empty kind")
	}
	if def.New == nil {
		return fmt.Errorf("jobhub: definition %q has no constructor", def.Kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Kind] = def
	return nil
}

// Get returns the definition registered for kind.
func (r *Registry) Get(kind string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[kind]
	return def, ok
}

// Kinds returns all registered kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.defs))
	for k := range r.defs {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Instantiate builds the job for rec: it resolves the kind, calls the
// constructor and injects the id and parameters. The returned error wraps
// one of jobhub.ErrClassNotFound, jobhub.ErrInstantiation,
// jobhub.ErrParameterMissing or jobhub.ErrParameterInvalid.
func (r *Registry) Instantiate(rec *Record) (Job, Definition, error) {
	def, ok := r.Get(rec.Kind)
	if !ok {
		return nil, Definition{}, fmt.Errorf("%w: %q", jobhub.ErrClassNotFound, rec.Kind)
	}

	j, err := construct(def)
	if err != nil {
		return nil, def, err
	}

	j.SetID(rec.ID)
	if err := j.SetParameters(rec.Parameters.Clone()); err != nil {
		if errors.Is(err, jobhub.ErrParameterMissing) || errors.Is(err, jobhub.ErrParameterInvalid) {
			return nil, def, err
		}
		return nil, def, fmt.Errorf("%w: %w", jobhub.ErrParameterInvalid, err)
	}
	return j, def, nil
}

func construct(def Definition) (j Job, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %q: constructor panicked: %v", jobhub.ErrInstantiation, def.Kind, p)
		}
	}()
	j = def.New()
	if j == nil {
		return nil, fmt.Errorf("%w: %q: constructor returned nil", jobhub.ErrInstantiation, def.Kind)
	}
	return j, nil
}
