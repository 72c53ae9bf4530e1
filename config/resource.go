package config

import (
	"fmt"
)

// FindResource locates a resource in a collection by identifier,
// matching the collection key first, then resource ids, then resource
// names, in that order.
func FindResource(identifier string, resources Collection) (map[string]any, error) {
	if resource, ok := resources[identifier]; ok {
		return resource, nil
	}
	for _, resource := range resources {
		if id, ok := resource["id"].(string); ok && id == identifier {
			return resource, nil
		}
	}
	for _, resource := range resources {
		if name, ok := resource["name"].(string); ok && name == identifier {
			return resource, nil
		}
	}
	return nil, fmt.Errorf("no resource with identifier %q found", identifier)
}
