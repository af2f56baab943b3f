package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDAGReadyNodesHandsOutOnce(t *testing.T) {
	d := NewDAG()
	d.AddNode("a", false, nil)
	d.AddNode("b", false, []string{"a"})

	ready := d.ReadyNodes()
	assert.Equal(t, []string{"a"}, ready)
	assert.Empty(t, d.ReadyNodes(), "ready nodes are not handed out twice")

	d.MarkRunning("a")
	assert.Empty(t, d.ReadyNodes())

	d.MarkCompleted("a")
	assert.Equal(t, []string{"b"}, d.ReadyNodes())
}

func TestDAGFailedParentBlocksChild(t *testing.T) {
	d := NewDAG()
	d.AddNode("a", false, nil)
	d.AddNode("b", false, []string{"a"})
	d.AddNode("c", false, []string{"b"})

	d.ReadyNodes()
	d.MarkFailed("a")

	assert.Empty(t, d.ReadyNodes())
	assert.Equal(t, NodeSkipped, d.Status("b"), "dependents of a hard failure are skipped")
	assert.Equal(t, NodeSkipped, d.Status("c"), "skips propagate transitively")
	assert.True(t, d.IsComplete())
}

func TestDAGPartialFailureKeepsChildrenSchedulable(t *testing.T) {
	d := NewDAG()
	d.AddNode("upload", false, nil)
	d.AddNode("labels", true, []string{"upload"})
	d.AddNode("objects", true, []string{"upload"})
	d.AddNode("finalize", false, []string{"labels", "objects"})

	d.ReadyNodes()
	d.MarkCompleted("upload")
	d.ReadyNodes()
	d.MarkFailed("labels")
	d.MarkCompleted("objects")

	assert.Equal(t, []string{"finalize"}, d.ReadyNodes(),
		"a failed partial parent does not block the child")
	assert.Equal(t, NodeFailed, d.Status("labels"))
}

func TestDAGMixedParentsRequireAllTerminal(t *testing.T) {
	d := NewDAG()
	d.AddNode("a", true, nil)
	d.AddNode("b", false, nil)
	d.AddNode("c", false, []string{"a", "b"})

	d.ReadyNodes()
	d.MarkFailed("a")

	assert.Empty(t, d.ReadyNodes(), "b has not terminated yet")

	d.MarkCompleted("b")
	assert.Equal(t, []string{"c"}, d.ReadyNodes())
}

func TestDAGValidateCycle(t *testing.T) {
	d := NewDAG()
	d.AddNode("a", false, []string{"c"})
	d.AddNode("b", false, []string{"a"})
	d.AddNode("c", false, []string{"b"})

	assert.Error(t, d.Validate())
}

func TestDAGValidateMissingDependency(t *testing.T) {
	d := NewDAG()
	d.AddNode("a", false, []string{"ghost"})

	err := d.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestDAGValidateAcceptsDiamond(t *testing.T) {
	d := NewDAG()
	d.AddNode("root", false, nil)
	d.AddNode("left", false, []string{"root"})
	d.AddNode("right", false, []string{"root"})
	d.AddNode("join", false, []string{"left", "right"})

	assert.NoError(t, d.Validate())
}

func TestDAGTopologicalOrder(t *testing.T) {
	d := NewDAG()
	d.AddNode("root", false, nil)
	d.AddNode("left", false, []string{"root"})
	d.AddNode("right", false, []string{"root"})
	d.AddNode("join", false, []string{"left", "right"})

	order := d.TopologicalOrder()
	require.Len(t, order, 4)

	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	assert.Less(t, pos["root"], pos["left"])
	assert.Less(t, pos["root"], pos["right"])
	assert.Less(t, pos["left"], pos["join"])
	assert.Less(t, pos["right"], pos["join"])
}

func TestDAGIsComplete(t *testing.T) {
	d := NewDAG()
	d.AddNode("a", false, nil)
	assert.False(t, d.IsComplete())

	d.ReadyNodes()
	assert.False(t, d.IsComplete())

	d.MarkRunning("a")
	assert.False(t, d.IsComplete())

	d.MarkCompleted("a")
	assert.True(t, d.IsComplete())
}
