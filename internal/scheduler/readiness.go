package scheduler

import (
	"github.com/zephyr-ci/zephyr/internal/dag"
	"github.com/zephyr-ci/zephyr/internal/model"
)

// reconstructGraph rebuilds a dag.Graph for one pipeline run from its
// currently stored job rows and replays each success, failure and running
// status onto it in topological order, so the graph's notion of "ready"
// reflects what has actually completed rather than only what dependsOn
// implies at rest. Skipped and cancelled rows are not replayed.
func reconstructGraph(jobs []model.Job) (*dag.Graph, error) {
	byID := make(map[string]model.Job, len(jobs))
	nodes := make([]model.JobNode, len(jobs))
	for i, j := range jobs {
		nodes[i] = model.JobNode{ID: j.ID, Name: j.Name, DependsOn: j.DependsOn}
		byID[j.ID] = j
	}

	g, err := dag.Build(nodes)
	if err != nil {
		return nil, err
	}

	for _, id := range g.TopologicalOrder() {
		switch byID[id].Status {
		case model.JobSuccess:
			_, _ = g.MarkCompleted(id, true)
		case model.JobFailure:
			_, _ = g.MarkCompleted(id, false)
		case model.JobRunning:
			_ = g.MarkRunning(id)
		}
	}

	return g, nil
}

// isReady reports whether id is currently in the ready state within g.
func isReady(g *dag.Graph, id string) bool {
	node, ok := g.Node(id)
	if !ok {
		return false
	}
	return node.Status == model.JobReady
}
