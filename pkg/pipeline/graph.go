package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/heimdalr/dag"
)

var (
	// ErrUnknownStage is returned when a stage depends on a stage that was never added
	ErrUnknownStage = errors.New("stage depends on unknown stage")
	// ErrInvalidStage is returned when a graph vertex does not hold a stage
	ErrInvalidStage = errors.New("invalid stage vertex")
)

// Stage names
const (
	StageRead            = "read"
	StageComputeServices = "compute_services"
	StageClean           = "clean"
	StageTimestamp       = "timestamp"
	StageLabels          = "labels"
	StageFeatures        = "features"
	StageOnline          = "online"
	StageFunctions       = "functions"
)

// Stage is one step of a pipeline run. Run returns the number of rows the
// stage produced, for metrics.
type Stage struct {
	ID    string
	Needs []string
	Run   func(ctx context.Context) (int, error)
}

// Graph holds stages and their dependencies. Vertices store *Stage since
// the graph indexes vertex values by hash.
type Graph struct {
	dag *dag.DAG
}

// NewGraph builds the dependency graph of the given stages
func NewGraph(stages ...Stage) (*Graph, error) {
	g := &Graph{dag: dag.NewDAG()}

	for i := range stages {
		s := &stages[i]
		if err := g.dag.AddVertexByID(s.ID, s); err != nil {
			return nil, fmt.Errorf("failed to add stage %s: %w", s.ID, err)
		}
	}

	for _, s := range stages {
		for _, need := range s.Needs {
			if _, err := g.dag.GetVertex(need); err != nil {
				return nil, fmt.Errorf("%w: %s needs %s", ErrUnknownStage, s.ID, need)
			}

			if err := g.dag.AddEdge(need, s.ID); err != nil {
				return nil, fmt.Errorf("failed to add dependency %s -> %s: %w", need, s.ID, err)
			}
		}
	}

	return g, nil
}

// Stage returns the stage with the given id
func (g *Graph) Stage(id string) (Stage, error) {
	v, err := g.dag.GetVertex(id)
	if err != nil {
		return Stage{}, fmt.Errorf("failed to get stage %s: %w", id, err)
	}

	s, ok := v.(*Stage)
	if !ok {
		return Stage{}, fmt.Errorf("%w: %s", ErrInvalidStage, id)
	}

	return *s, nil
}

// Dependencies returns every stage id that must finish before id, transitively
func (g *Graph) Dependencies(id string) []string {
	ancestors, err := g.dag.GetAncestors(id)
	if err != nil {
		return nil
	}

	return sortedIDs(ancestors)
}

// Levels groups stage ids so that every stage only depends on stages of
// earlier levels. Stages of one level can run concurrently; ids are sorted
// within a level.
func (g *Graph) Levels() ([][]string, error) {
	remaining := make(map[string]int)

	for id := range g.dag.GetVertices() {
		parents, err := g.dag.GetParents(id)
		if err != nil {
			return nil, fmt.Errorf("failed to get dependencies of %s: %w", id, err)
		}

		remaining[id] = len(parents)
	}

	var levels [][]string

	for len(remaining) > 0 {
		var level []string

		for id, n := range remaining {
			if n == 0 {
				level = append(level, id)
			}
		}

		sort.Strings(level)

		for _, id := range level {
			delete(remaining, id)

			children, err := g.dag.GetChildren(id)
			if err != nil {
				return nil, fmt.Errorf("failed to get dependents of %s: %w", id, err)
			}

			for child := range children {
				remaining[child]--
			}
		}

		levels = append(levels, level)
	}

	return levels, nil
}

func sortedIDs(m map[string]interface{}) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}
