package workflow

import "fmt"

// Stage names one step of the pipeline.
type Stage string

// Pipeline stages in execution order
const (
	StagePlanner   Stage = "planner"
	StageCollector Stage = "collector"
	StageAnalyzer  Stage = "analyzer"
	StageDrafter   Stage = "drafter"
	StageReviewer  Stage = "reviewer"
)

// QueueSuffix is appended to a stage name to form its queue name.
const QueueSuffix = "-queue"

// Graph is the stage graph: an ordered chain of stages with an explicit successor edge per
// stage and the job statuses each terminal stage may end in.
type Graph struct {
	order    []Stage
	next     map[Stage]Stage
	outcomes map[Stage][]JobStatus
}

// DefaultGraph returns planner -> collector -> analyzer -> drafter -> reviewer.
// The reviewer ends the chain by moving the job to awaiting_approval or failed.
func DefaultGraph() *Graph {
	g, err := NewGraph(StagePlanner, StageCollector, StageAnalyzer, StageDrafter, StageReviewer)
	if err != nil {
		panic(err)
	}
	g.outcomes[StageReviewer] = []JobStatus{StatusAwaitingApproval, StatusFailed}
	return g
}

// NewGraph builds a linear graph from the given stages.
func NewGraph(stages ...Stage) (*Graph, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("graph needs at least one stage")
	}
	g := &Graph{
		next:     make(map[Stage]Stage, len(stages)),
		outcomes: make(map[Stage][]JobStatus),
	}
	seen := make(map[Stage]bool, len(stages))
	for i, s := range stages {
		if s == "" {
			return nil, fmt.Errorf("empty stage name at position %d", i)
		}
		if seen[s] {
			return nil, fmt.Errorf("duplicate stage %q", s)
		}
		seen[s] = true
		g.order = append(g.order, s)
		if i > 0 {
			g.next[stages[i-1]] = s
		}
	}
	return g, nil
}

// First returns the entry stage.
func (g *Graph) First() Stage {
	return g.order[0]
}

// Stages returns all stages in execution order.
func (g *Graph) Stages() []Stage {
	out := make([]Stage, len(g.order))
	copy(out, g.order)
	return out
}

// Next returns the successor of s. ok is false for the last stage or an unknown stage.
func (g *Graph) Next(s Stage) (next Stage, ok bool) {
	next, ok = g.next[s]
	return next, ok
}

// Contains reports whether s is part of the graph.
func (g *Graph) Contains(s Stage) bool {
	for _, known := range g.order {
		if known == s {
			return true
		}
	}
	return false
}

// IsLast reports whether s ends the chain.
func (g *Graph) IsLast(s Stage) bool {
	return g.Contains(s) && g.order[len(g.order)-1] == s
}

// Outcomes returns the job statuses a terminal stage may set when it completes.
func (g *Graph) Outcomes(s Stage) []JobStatus {
	return g.outcomes[s]
}

// Queue returns the queue name that carries messages for s.
func (g *Graph) Queue(s Stage) string {
	return string(s) + QueueSuffix
}

// Queues returns every queue name in stage order.
func (g *Graph) Queues() []string {
	out := make([]string, 0, len(g.order))
	for _, s := range g.order {
		out = append(out, g.Queue(s))
	}
	return out
}

// StageForQueue resolves a queue name back to its stage.
func (g *Graph) StageForQueue(queue string) (Stage, bool) {
	for _, s := range g.order {
		if g.Queue(s) == queue {
			return s, true
		}
	}
	return "", false
}
