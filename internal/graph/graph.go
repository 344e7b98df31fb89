// Package graph runs dependency-ordered node sets with parallel execution of
// every node whose dependencies are satisfied.
package graph

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrUnknownDependency indicates a dependency reference missing from the graph.
	ErrUnknownDependency = fmt.Errorf("unknown dependency")
	// ErrCycleDetected indicates the graph contains a cycle.
	ErrCycleDetected = fmt.Errorf("cycle detected")
	// ErrDuplicateNode indicates two nodes share an ID.
	ErrDuplicateNode = fmt.Errorf("duplicate node id")
)

// NodeFunc is the work of one node. inputs maps each dependency ID to its
// output.
type NodeFunc func(ctx context.Context, inputs map[string]any) (any, error)

// Node is one unit of work in the graph.
type Node struct {
	ID        string
	DependsOn []string
	Run       NodeFunc
}

// Graph is a set of nodes keyed by ID. Not safe for concurrent mutation.
type Graph struct {
	nodes map[string]Node
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{nodes: make(map[string]Node)}
}

// Add inserts a node, rejecting duplicate IDs.
func (g *Graph) Add(n Node) error {
	if n.ID == "" {
		return fmt.Errorf("node id is empty")
	}
	if _, exists := g.nodes[n.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, n.ID)
	}
	g.nodes[n.ID] = n
	return nil
}

// Len reports the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Validate checks dependency references and acyclicity and returns a
// topological order. Independent nodes are ordered by ID for determinism.
func (g *Graph) Validate() ([]string, error) {
	indegree := make(map[string]int, len(g.nodes))
	adjacency := make(map[string][]string, len(g.nodes))
	for id, n := range g.nodes {
		if _, ok := indegree[id]; !ok {
			indegree[id] = 0
		}
		for _, dep := range n.DependsOn {
			if _, ok := g.nodes[dep]; !ok {
				return nil, fmt.Errorf("%w: %s -> %s", ErrUnknownDependency, id, dep)
			}
			adjacency[dep] = append(adjacency[dep], id)
			indegree[id]++
		}
	}

	var ready []string
	for id, d := range indegree {
		if d == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(g.nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		var next []string
		for _, succ := range adjacency[id] {
			indegree[succ]--
			if indegree[succ] == 0 {
				next = append(next, succ)
			}
		}
		sort.Strings(next)
		ready = append(ready, next...)
	}
	if len(order) != len(g.nodes) {
		return nil, ErrCycleDetected
	}
	return order, nil
}

// Execute runs the graph: every node whose dependencies are satisfied runs
// concurrently. The first node error cancels the remaining work and is
// returned; outputs holds the results of every node that finished.
func (g *Graph) Execute(ctx context.Context) (map[string]any, error) {
	if _, err := g.Validate(); err != nil {
		return nil, err
	}

	indegree := make(map[string]int, len(g.nodes))
	adjacency := make(map[string][]string, len(g.nodes))
	for id, n := range g.nodes {
		if _, ok := indegree[id]; !ok {
			indegree[id] = 0
		}
		for _, dep := range n.DependsOn {
			adjacency[dep] = append(adjacency[dep], id)
			indegree[id]++
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type nodeDone struct {
		id     string
		output any
		err    error
	}
	done := make(chan nodeDone, len(g.nodes))
	outputs := make(map[string]any, len(g.nodes))
	var wg sync.WaitGroup

	start := func(id string) {
		n := g.nodes[id]
		inputs := make(map[string]any, len(n.DependsOn))
		for _, dep := range n.DependsOn {
			inputs[dep] = outputs[dep]
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := n.Run(ctx, inputs)
			done <- nodeDone{id: id, output: out, err: err}
		}()
	}

	running := 0
	for id, d := range indegree {
		if d == 0 {
			start(id)
			running++
		}
	}

	var firstErr error
	finished := 0
	for running > 0 {
		d := <-done
		running--
		finished++
		if d.err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("node %s: %w", d.id, d.err)
				cancel()
			}
			continue
		}
		outputs[d.id] = d.output
		if firstErr != nil {
			continue
		}
		for _, succ := range adjacency[d.id] {
			indegree[succ]--
			if indegree[succ] == 0 {
				start(succ)
				running++
			}
		}
	}
	cancel()
	wg.Wait()

	if firstErr != nil {
		return outputs, firstErr
	}
	if finished != len(g.nodes) {
		return outputs, ErrCycleDetected
	}
	return outputs, nil
}
