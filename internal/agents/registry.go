package agents

import (
	"fmt"

	"github.com/jonathan/viral-agents/internal/workflow"
)

// Registry maps every stage of a graph to its worker
type Registry struct {
	workers map[workflow.Stage]Worker
}

// NewRegistry indexes workers by stage and checks that graph is fully covered
func NewRegistry(graph *workflow.Graph, workers ...Worker) (*Registry, error) {
	r := &Registry{workers: make(map[workflow.Stage]Worker, len(workers))}
	for _, w := range workers {
		stage := w.Stage()
		if !graph.Contains(stage) {
			return nil, fmt.Errorf("worker for unknown stage %q", stage)
		}
		if _, dup := r.workers[stage]; dup {
			return nil, fmt.Errorf("duplicate worker for stage %q", stage)
		}
		r.workers[stage] = w
	}
	for _, stage := range graph.Stages() {
		if _, ok := r.workers[stage]; !ok {
			return nil, fmt.Errorf("no worker for stage %q", stage)
		}
	}
	return r, nil
}

// Get returns the worker for stage
func (r *Registry) Get(stage workflow.Stage) (Worker, bool) {
	w, ok := r.workers[stage]
	return w, ok
}
