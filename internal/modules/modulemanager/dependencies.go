// Package modulemanager provides module dependency management and initialization ordering
package modulemanager

import (
	"fmt"
	"sort"

	"github.com/medley-tv/medley/internal/logger"
)

// DependencyProvider is an optional interface for modules that declare dependencies
type DependencyProvider interface {
	// Dependencies returns the list of module IDs this module depends on
	Dependencies() []string
}

// ServiceProvider is an optional interface for modules that provide services
type ServiceProvider interface {
	// ProvidedServices returns the list of service names this module provides
	ProvidedServices() []string
}

// ServiceConsumer is an optional interface for modules that consume services
type ServiceConsumer interface {
	// RequiredServices returns the list of service names this module requires
	RequiredServices() []string
}

// DependencyGraph holds the resolved dependency relationships between modules
type DependencyGraph struct {
	nodes     map[string]*graphNode
	providers map[string]string // service name -> providing module ID
}

type graphNode struct {
	module   Module
	deps     []string // Module IDs this module depends on
	requires []string // Service names this module requires
}

// BuildDependencyGraph creates a dependency graph from registered modules.
// Service requirements are folded into module dependencies: requiring a
// service makes its provider a dependency.
func BuildDependencyGraph(modules map[string]Module) (*DependencyGraph, error) {
	graph := &DependencyGraph{
		nodes:     make(map[string]*graphNode),
		providers: make(map[string]string),
	}

	for id, module := range modules {
		node := &graphNode{module: module}

		if p, ok := module.(DependencyProvider); ok {
			node.deps = append(node.deps, p.Dependencies()...)
		}
		if p, ok := module.(ServiceProvider); ok {
			for _, service := range p.ProvidedServices() {
				if prior, taken := graph.providers[service]; taken {
					return nil, fmt.Errorf("service '%s' is provided by multiple modules: %s and %s",
						service, prior, id)
				}
				graph.providers[service] = id
			}
		}
		if c, ok := module.(ServiceConsumer); ok {
			node.requires = c.RequiredServices()
		}

		graph.nodes[id] = node
	}

	// Fold service requirements into module dependencies
	for id, node := range graph.nodes {
		for _, service := range node.requires {
			providerID, exists := graph.providers[service]
			if !exists {
				continue // Reported by ValidateServiceRequirements
			}
			if providerID != id {
				node.deps = append(node.deps, providerID)
				logger.Debug("Module %s depends on %s for service '%s'", id, providerID, service)
			}
		}
	}

	for id, node := range graph.nodes {
		for _, depID := range node.deps {
			if _, exists := graph.nodes[depID]; !exists {
				return nil, fmt.Errorf("module %s depends on non-existent module %s", id, depID)
			}
		}
	}

	if cycle := graph.findCycle(); cycle != nil {
		return nil, fmt.Errorf("circular dependency detected: %v", cycle)
	}

	return graph, nil
}

const (
	colorWhite = iota // Unvisited
	colorGray         // On the current DFS path
	colorBlack        // Fully explored
)

// findCycle returns a dependency cycle as a module ID path, or nil
func (g *DependencyGraph) findCycle() []string {
	colors := make(map[string]int, len(g.nodes))

	var path []string
	var visit func(id string) []string
	visit = func(id string) []string {
		colors[id] = colorGray
		path = append(path, id)

		for _, depID := range g.nodes[id].deps {
			switch colors[depID] {
			case colorWhite:
				if cycle := visit(depID); cycle != nil {
					return cycle
				}
			case colorGray:
				// Slice the path from the first occurrence of depID
				for i, onPath := range path {
					if onPath == depID {
						return append(append([]string{}, path[i:]...), depID)
					}
				}
			}
		}

		colors[id] = colorBlack
		path = path[:len(path)-1]
		return nil
	}

	for _, id := range g.sortedIDs() {
		if colors[id] == colorWhite {
			if cycle := visit(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// InitializationOrder returns modules topologically sorted so every
// module initializes after its dependencies
func (g *DependencyGraph) InitializationOrder() ([]Module, error) {
	order := make([]Module, 0, len(g.nodes))
	done := make(map[string]bool, len(g.nodes))

	var visit func(id string)
	visit = func(id string) {
		if done[id] {
			return
		}
		done[id] = true
		for _, depID := range g.nodes[id].deps {
			visit(depID)
		}
		order = append(order, g.nodes[id].module)
	}

	// Iterate in sorted ID order so ties break deterministically
	for _, id := range g.sortedIDs() {
		visit(id)
	}

	return order, nil
}

// ValidateServiceRequirements reports required services with no provider
func (g *DependencyGraph) ValidateServiceRequirements() []error {
	var errs []error
	for _, id := range g.sortedIDs() {
		for _, service := range g.nodes[id].requires {
			if _, exists := g.providers[service]; !exists {
				errs = append(errs, fmt.Errorf("module %s requires service '%s' but no provider found", id, service))
			}
		}
	}
	return errs
}

// Dependencies returns the resolved dependencies of one module
func (g *DependencyGraph) Dependencies(moduleID string) ([]string, error) {
	node, exists := g.nodes[moduleID]
	if !exists {
		return nil, fmt.Errorf("module %s not found", moduleID)
	}
	return node.deps, nil
}

func (g *DependencyGraph) sortedIDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
