// Package dag implements the in-memory state machine over a pipeline run's
// jobs: the ready frontier, skip-on-failure propagation, and cycle
// detection described in SPEC_FULL §4.2.
package dag

import (
	"github.com/zephyr-ci/zephyr/internal/model"
	streamyerrors "github.com/zephyr-ci/zephyr/pkg/errors"
)

// node is the DAG engine's private bookkeeping for one job; Graph exposes
// model.JobNode snapshots derived from it.
type node struct {
	id         string
	name       string
	dependsOn  []string
	dependents []string
	status     model.JobStatus
}

// Graph is the state machine over a set of job nodes belonging to one
// pipeline run. It is built once from a flat node list and mutated by
// MarkRunning/MarkCompleted/CancelAll as the scheduler drives jobs to
// completion.
type Graph struct {
	order []string
	nodes map[string]*node
}

// Build validates uniqueness of ids, existence of every dependsOn target,
// and acyclicity, then returns a Graph with each node's initial status set
// to ready (no dependencies) or pending (otherwise). The order of nodes
// governs tie-breaking in TopologicalOrder and ParallelLayers.
func Build(nodes []model.JobNode) (*Graph, error) {
	g := &Graph{
		order: make([]string, 0, len(nodes)),
		nodes: make(map[string]*node, len(nodes)),
	}

	for _, n := range nodes {
		if _, exists := g.nodes[n.ID]; exists {
			return nil, streamyerrors.NewValidationError("dependsOn", "duplicate job id \""+n.ID+"\"", nil)
		}
		g.nodes[n.ID] = &node{id: n.ID, name: n.Name, dependsOn: append([]string(nil), n.DependsOn...)}
		g.order = append(g.order, n.ID)
	}

	for _, id := range g.order {
		for _, dep := range g.nodes[id].dependsOn {
			depNode, ok := g.nodes[dep]
			if !ok {
				return nil, streamyerrors.NewValidationError("dependsOn", "job \""+id+"\" depends on unknown job \""+dep+"\"", nil)
			}
			depNode.dependents = append(depNode.dependents, id)
		}
	}

	if cycleNode := detectCycle(g); cycleNode != "" {
		return nil, streamyerrors.NewCyclicDependencyError(cycleNode)
	}

	for _, id := range g.order {
		n := g.nodes[id]
		if len(n.dependsOn) == 0 {
			n.status = model.JobReady
		} else {
			n.status = model.JobPending
		}
	}

	return g, nil
}

// color values for the three-colour DFS cycle detector.
type color int

const (
	white color = iota
	grey
	black
)

func detectCycle(g *Graph) string {
	colors := make(map[string]color, len(g.nodes))

	var visit func(id string) string
	visit = func(id string) string {
		colors[id] = grey
		for _, dep := range g.nodes[id].dependents {
			switch colors[dep] {
			case grey:
				return dep
			case white:
				if found := visit(dep); found != "" {
					return found
				}
			}
		}
		colors[id] = black
		return ""
	}

	for _, id := range g.order {
		if colors[id] == white {
			if found := visit(id); found != "" {
				return found
			}
		}
	}
	return ""
}

// Node returns a snapshot of one node's current state, or false if id is
// unknown.
func (g *Graph) Node(id string) (model.JobNode, bool) {
	n, ok := g.nodes[id]
	if !ok {
		return model.JobNode{}, false
	}
	return n.snapshot(), true
}

func (n *node) snapshot() model.JobNode {
	return model.JobNode{
		ID:         n.id,
		Name:       n.name,
		DependsOn:  append([]string(nil), n.dependsOn...),
		Dependents: append([]string(nil), n.dependents...),
		Status:     n.status,
	}
}

// MarkRunning transitions a ready node to running. It fails with
// IllegalTransitionError unless the node's current status is ready.
func (g *Graph) MarkRunning(id string) error {
	n, ok := g.nodes[id]
	if !ok {
		return streamyerrors.NewNotFoundError("job", id)
	}
	if n.status != model.JobReady {
		return streamyerrors.NewIllegalTransitionError(id, string(n.status), string(model.JobRunning))
	}
	n.status = model.JobRunning
	return nil
}

// MarkCompleted records the terminal outcome of a running job. On success,
// it flips any direct dependent whose dependencies are now all successful
// from pending to ready, returning their ids. On failure, it recursively
// marks the entire dependent closure that is still pending or ready as
// skipped.
func (g *Graph) MarkCompleted(id string, success bool) ([]string, error) {
	n, ok := g.nodes[id]
	if !ok {
		return nil, streamyerrors.NewNotFoundError("job", id)
	}

	if success {
		n.status = model.JobSuccess
		var newlyReady []string
		for _, depID := range n.dependents {
			dep := g.nodes[depID]
			if dep.status != model.JobPending {
				continue
			}
			if g.allDependenciesSucceeded(dep) {
				dep.status = model.JobReady
				newlyReady = append(newlyReady, depID)
			}
		}
		return newlyReady, nil
	}

	n.status = model.JobFailure
	g.skipDescendants(n)
	return nil, nil
}

func (g *Graph) allDependenciesSucceeded(n *node) bool {
	for _, dep := range n.dependsOn {
		if g.nodes[dep].status != model.JobSuccess {
			return false
		}
	}
	return true
}

func (g *Graph) skipDescendants(n *node) {
	for _, depID := range n.dependents {
		dep := g.nodes[depID]
		if dep.status == model.JobPending || dep.status == model.JobReady {
			dep.status = model.JobSkipped
			g.skipDescendants(dep)
		}
	}
}

// CancelAll sets every node still pending or ready to cancelled. Running
// nodes are left for the executor to cancel; they transition to cancelled
// or failure when the executor reports completion.
func (g *Graph) CancelAll() {
	for _, id := range g.order {
		n := g.nodes[id]
		if n.status == model.JobPending || n.status == model.JobReady {
			n.status = model.JobCancelled
		}
	}
}

// IsComplete reports whether every node is in a terminal state.
func (g *Graph) IsComplete() bool {
	for _, id := range g.order {
		if !g.nodes[id].status.Terminal() {
			return false
		}
	}
	return true
}

// HasFailures reports whether any node is in the failure state. Skipped
// descendants of a failed node are not themselves failures (preserved from
// the source per SPEC_FULL's open-question decisions).
func (g *Graph) HasFailures() bool {
	for _, id := range g.order {
		if g.nodes[id].status == model.JobFailure {
			return true
		}
	}
	return false
}

// TopologicalOrder returns a linear extension of dependsOn, ties broken by
// insertion order, via Kahn's algorithm.
func (g *Graph) TopologicalOrder() []string {
	indegree := make(map[string]int, len(g.nodes))
	for _, id := range g.order {
		indegree[id] = len(g.nodes[id].dependsOn)
	}

	queue := make([]string, 0)
	for _, id := range g.order {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	result := make([]string, 0, len(g.order))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		result = append(result, id)

		for _, depID := range g.nodes[id].dependents {
			indegree[depID]--
			if indegree[depID] == 0 {
				queue = append(queue, depID)
			}
		}
	}

	return result
}

// ParallelLayers returns successive antichains: nodes whose dependencies
// all lie in earlier layers, in insertion order within each layer.
func (g *Graph) ParallelLayers() [][]string {
	placed := make(map[string]bool, len(g.nodes))
	var layers [][]string

	for len(placed) < len(g.order) {
		var layer []string
		for _, id := range g.order {
			if placed[id] {
				continue
			}
			if g.allDependenciesPlaced(g.nodes[id], placed) {
				layer = append(layer, id)
			}
		}
		if len(layer) == 0 {
			// Unreachable once Build has rejected cycles, but avoid
			// looping forever if called on a corrupted graph.
			break
		}
		for _, id := range layer {
			placed[id] = true
		}
		layers = append(layers, layer)
	}

	return layers
}

func (g *Graph) allDependenciesPlaced(n *node, placed map[string]bool) bool {
	for _, dep := range n.dependsOn {
		if !placed[dep] {
			return false
		}
	}
	return true
}
