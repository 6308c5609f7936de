package libraries

import (
	"fmt"
	"sort"
)

const duplicateLibraryTemplateConstant = "library %s registered more than once"

// Registry resolves run_lib identifiers to implementations.
type Registry struct {
	libraries map[ID]Library
}

// NewRegistry indexes the supplied libraries by ID.
func NewRegistry(libraries ...Library) (*Registry, error) {
	indexed := make(map[ID]Library, len(libraries))
	for _, library := range libraries {
		if library == nil {
			continue
		}
		if _, exists := indexed[library.ID()]; exists {
			return nil, fmt.Errorf(duplicateLibraryTemplateConstant, library.ID())
		}
		indexed[library.ID()] = library
	}
	return &Registry{libraries: indexed}, nil
}

// Lookup returns the library registered under id.
func (registry *Registry) Lookup(id ID) (Library, bool) {
	if registry == nil {
		return nil, false
	}
	library, found := registry.libraries[id]
	return library, found
}

// IDs lists registered identifiers in lexical order.
func (registry *Registry) IDs() []ID {
	if registry == nil {
		return nil
	}
	identifiers := make([]ID, 0, len(registry.libraries))
	for id := range registry.libraries {
		identifiers = append(identifiers, id)
	}
	sort.Slice(identifiers, func(left, right int) bool { return identifiers[left] < identifiers[right] })
	return identifiers
}
