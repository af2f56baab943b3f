// Package flow builds and schedules the step graph for one task: the
// builder materializes StepJobs and edges per task kind, the scheduler runs
// them with bounded parallelism, per-step retry and resume, and the
// aggregator classifies the terminal result set per flow kind.
package flow

import (
	"fmt"
	"sync"
)

// NodeStatus is the execution status of a DAG node.
type NodeStatus int

const (
	NodePending NodeStatus = iota
	NodeReady
	NodeRunning
	NodeCompleted
	NodeFailed
	NodeSkipped
)

// DAGNode is one step node. AllowPartialFailure is the node's own flag: a
// failed partial node does not block or skip its dependents.
type DAGNode struct {
	ID                  string
	Dependencies        []string
	Dependents          []string
	AllowPartialFailure bool
	Status              NodeStatus
}

// DAG is the dependency graph the scheduler drives. All mutation goes
// through the Mark methods under the internal lock.
type DAG struct {
	nodes map[string]*DAGNode
	mu    sync.RWMutex
}

// NewDAG creates an empty graph.
func NewDAG() *DAG {
	return &DAG{nodes: make(map[string]*DAGNode)}
}

// AddNode adds or re-targets a node with its parent edges.
func (d *DAG) AddNode(id string, allowPartialFailure bool, dependencies []string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.nodes[id]; ok {
		existing.Dependencies = dependencies
		existing.AllowPartialFailure = allowPartialFailure
	} else {
		d.nodes[id] = &DAGNode{
			ID:                  id,
			Dependencies:        dependencies,
			AllowPartialFailure: allowPartialFailure,
			Status:              NodePending,
		}
	}
	d.rebuildDependents()
}

func (d *DAG) rebuildDependents() {
	for _, node := range d.nodes {
		node.Dependents = nil
	}
	for id, node := range d.nodes {
		for _, dep := range node.Dependencies {
			parent, ok := d.nodes[dep]
			if !ok {
				continue
			}
			seen := false
			for _, existing := range parent.Dependents {
				if existing == id {
					seen = true
					break
				}
			}
			if !seen {
				parent.Dependents = append(parent.Dependents, id)
			}
		}
	}
}

// Validate rejects cycles and edges to missing nodes.
func (d *DAG) Validate() error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	for id := range d.nodes {
		if !visited[id] {
			if d.hasCycleDFS(id, visited, recStack) {
				return fmt.Errorf("flow contains circular dependencies")
			}
		}
	}

	for id, node := range d.nodes {
		for _, dep := range node.Dependencies {
			if _, ok := d.nodes[dep]; !ok {
				return fmt.Errorf("step %s depends on unknown step %s", id, dep)
			}
		}
	}
	return nil
}

func (d *DAG) hasCycleDFS(id string, visited, recStack map[string]bool) bool {
	visited[id] = true
	recStack[id] = true

	for _, dependent := range d.nodes[id].Dependents {
		if !visited[dependent] {
			if d.hasCycleDFS(dependent, visited, recStack) {
				return true
			}
		} else if recStack[dependent] {
			return true
		}
	}

	recStack[id] = false
	return false
}

// ReadyNodes returns pending nodes whose parents have all terminated, with
// failed parents tolerated only when the parent allows partial failure.
// Returned nodes are moved to ready so a second call does not hand them out
// again.
func (d *DAG) ReadyNodes() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var ready []string
	for id, node := range d.nodes {
		if node.Status == NodePending && d.parentsSatisfied(id) {
			node.Status = NodeReady
			ready = append(ready, id)
		}
	}
	return ready
}

func (d *DAG) parentsSatisfied(id string) bool {
	for _, dep := range d.nodes[id].Dependencies {
		parent := d.nodes[dep]
		switch parent.Status {
		case NodeCompleted:
		case NodeFailed:
			if !parent.AllowPartialFailure {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// MarkRunning marks a node running.
func (d *DAG) MarkRunning(id string) {
	d.setStatus(id, NodeRunning)
}

// MarkCompleted marks a node completed.
func (d *DAG) MarkCompleted(id string) {
	d.setStatus(id, NodeCompleted)
}

// MarkFailed marks a node failed. When the node does not allow partial
// failure its pending dependents are skipped transitively; a partial node's
// dependents stay schedulable.
func (d *DAG) MarkFailed(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	node, ok := d.nodes[id]
	if !ok {
		return
	}
	node.Status = NodeFailed
	if !node.AllowPartialFailure {
		d.skipDependents(id)
	}
}

func (d *DAG) skipDependents(id string) {
	for _, dependent := range d.nodes[id].Dependents {
		if dep := d.nodes[dependent]; dep != nil && dep.Status == NodePending {
			dep.Status = NodeSkipped
			d.skipDependents(dependent)
		}
	}
}

func (d *DAG) setStatus(id string, status NodeStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if node, ok := d.nodes[id]; ok {
		node.Status = status
	}
}

// IsComplete reports whether every node reached a terminal state.
func (d *DAG) IsComplete() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, node := range d.nodes {
		switch node.Status {
		case NodePending, NodeReady, NodeRunning:
			return false
		}
	}
	return true
}

// Node returns the node for id, or nil.
func (d *DAG) Node(id string) *DAGNode {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.nodes[id]
}

// Status returns the node's status; missing nodes report pending.
func (d *DAG) Status(id string) NodeStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if node, ok := d.nodes[id]; ok {
		return node.Status
	}
	return NodePending
}

// TopologicalOrder returns node ids with parents before children. Used for
// deterministic progress weighting and tests.
func (d *DAG) TopologicalOrder() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	inDegree := make(map[string]int, len(d.nodes))
	for id, node := range d.nodes {
		inDegree[id] = len(node.Dependencies)
	}

	var queue []string
	for id, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, id)
		}
	}

	var result []string
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		result = append(result, current)

		for _, dependent := range d.nodes[current].Dependents {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}
	return result
}
