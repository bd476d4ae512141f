package dag

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zephyr-ci/zephyr/internal/model"
	streamyerrors "github.com/zephyr-ci/zephyr/pkg/errors"
)

func job(id string, deps ...string) model.JobNode {
	return model.JobNode{ID: id, Name: id, DependsOn: deps}
}

func TestBuildLinearChain(t *testing.T) {
	t.Parallel()

	g, err := Build([]model.JobNode{job("A"), job("B", "A"), job("C", "B")})
	require.NoError(t, err)

	a, _ := g.Node("A")
	b, _ := g.Node("B")
	require.Equal(t, model.JobReady, a.Status)
	require.Equal(t, model.JobPending, b.Status)

	require.Equal(t, [][]string{{"A"}, {"B"}, {"C"}}, g.ParallelLayers())
	require.Equal(t, []string{"A", "B", "C"}, g.TopologicalOrder())
}

func TestBuildDetectsCycle(t *testing.T) {
	t.Parallel()

	_, err := Build([]model.JobNode{job("A", "C"), job("B", "A"), job("C", "B")})
	require.Error(t, err)
	var cycleErr *streamyerrors.CyclicDependencyError
	require.ErrorAs(t, err, &cycleErr)
}

func TestBuildDetectsSelfLoop(t *testing.T) {
	t.Parallel()

	_, err := Build([]model.JobNode{job("A", "A")})
	require.Error(t, err)
}

func TestBuildRejectsDanglingDependency(t *testing.T) {
	t.Parallel()

	_, err := Build([]model.JobNode{job("A", "ghost")})
	require.Error(t, err)
}

func TestMarkRunningRequiresReady(t *testing.T) {
	t.Parallel()

	g, err := Build([]model.JobNode{job("A"), job("B", "A")})
	require.NoError(t, err)

	require.Error(t, g.MarkRunning("B"))
	require.NoError(t, g.MarkRunning("A"))
}

func TestDiamondWithOneFailure(t *testing.T) {
	t.Parallel()

	g, err := Build([]model.JobNode{
		job("A"),
		job("B", "A"),
		job("C", "A"),
		job("D", "B", "C"),
	})
	require.NoError(t, err)

	require.NoError(t, g.MarkRunning("A"))
	ready, err := g.MarkCompleted("A", true)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"B", "C"}, ready)

	require.NoError(t, g.MarkRunning("B"))
	_, err = g.MarkCompleted("B", false)
	require.NoError(t, err)

	require.NoError(t, g.MarkRunning("C"))
	_, err = g.MarkCompleted("C", true)
	require.NoError(t, err)

	a, _ := g.Node("A")
	b, _ := g.Node("B")
	c, _ := g.Node("C")
	d, _ := g.Node("D")
	require.Equal(t, model.JobSuccess, a.Status)
	require.Equal(t, model.JobFailure, b.Status)
	require.Equal(t, model.JobSuccess, c.Status)
	require.Equal(t, model.JobSkipped, d.Status)

	require.True(t, g.IsComplete())
	require.True(t, g.HasFailures())
}

func TestCancelAllLeavesRunningAlone(t *testing.T) {
	t.Parallel()

	g, err := Build([]model.JobNode{job("A"), job("B", "A")})
	require.NoError(t, err)
	require.NoError(t, g.MarkRunning("A"))

	g.CancelAll()

	a, _ := g.Node("A")
	b, _ := g.Node("B")
	require.Equal(t, model.JobRunning, a.Status)
	require.Equal(t, model.JobCancelled, b.Status)
}

func TestParallelLayersIsValidTopologicalConcatenation(t *testing.T) {
	t.Parallel()

	g, err := Build([]model.JobNode{
		job("A"), job("B"), job("C", "A", "B"), job("D", "C"),
	})
	require.NoError(t, err)

	layers := g.ParallelLayers()
	require.Equal(t, [][]string{{"A", "B"}, {"C"}, {"D"}}, layers)

	var flattened []string
	for _, layer := range layers {
		flattened = append(flattened, layer...)
	}

	require.ElementsMatch(t, g.TopologicalOrder(), flattened)

	indexOf := func(id string) int {
		for i, v := range flattened {
			if v == id {
				return i
			}
		}
		return -1
	}
	for _, id := range flattened {
		n, ok := g.Node(id)
		require.True(t, ok)
		for _, dep := range n.DependsOn {
			require.Less(t, indexOf(dep), indexOf(id))
		}
	}
}
