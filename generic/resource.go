/*
resource.go - Resource type registration and lookup

PURPOSE:
  Domain packages register their ResourceType values here so stores can
  turn the strings they persist back into typed values.

USAGE:
  // In coin/types.go
  func init() {
      generic.RegisterResource(Government)
      generic.RegisterResource(Self)
  }

  // In a store
  tx.ResourceType = generic.ResourceFor("government") // coin.Government
*/
package generic

import (
	"fmt"
	"sort"
	"sync"
)

var (
	resourceRegistry = make(map[string]ResourceType)
	registryMu       sync.RWMutex
)

// RegisterResource adds a resource type to the global registry.
func RegisterResource(r ResourceType) {
	registryMu.Lock()
	defer registryMu.Unlock()
	resourceRegistry[r.ResourceID()] = r
}

// LookupResource finds a registered resource type by ID, or nil.
func LookupResource(id string) ResourceType {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return resourceRegistry[id]
}

// ResourceFor returns the registered type for id, falling back to an
// unregistered StringResource so rows written by newer code still load.
func ResourceFor(id string) ResourceType {
	if r := LookupResource(id); r != nil {
		return r
	}
	return StringResource{ID: id, Domain: "unknown"}
}

// ListResources returns registered resource types of a domain, sorted by ID.
func ListResources(domain string) []ResourceType {
	registryMu.RLock()
	defer registryMu.RUnlock()
	var result []ResourceType
	for _, r := range resourceRegistry {
		if domain == "" || r.ResourceDomain() == domain {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ResourceID() < result[j].ResourceID() })
	return result
}

// StringResource is a plain string resource type for unregistered IDs.
type StringResource struct {
	ID     string
	Domain string
}

func (r StringResource) ResourceID() string     { return r.ID }
func (r StringResource) ResourceDomain() string { return r.Domain }
func (r StringResource) String() string         { return fmt.Sprintf("%s/%s", r.Domain, r.ID) }
