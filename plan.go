package jitload

import (
	"github.com/dominikbraun/graph"
	"github.com/pkg/errors"
)

// stepDependencies lists, for each step, the steps that must finish first.
var stepDependencies = map[Step][]Step{
	StepClean:          nil,
	StepInitialize:     {StepClean},
	StepConfigure:      {StepInitialize},
	StepBuild:          {StepConfigure},
	StepStubGeneration: {StepBuild},
}

// stepOrder returns the execution order of the pipeline. Stub generation is
// left out when withStubs is false.
func stepOrder(withStubs bool) ([]Step, error) {
	g := graph.New(graph.StringHash, graph.Directed(), graph.Acyclic(), graph.PreventCycles())

	for step := range stepDependencies {
		if step == StepStubGeneration && !withStubs {
			continue
		}
		if err := g.AddVertex(string(step)); err != nil {
			return nil, errors.Wrapf(err, "adding step %s", step)
		}
	}
	for step, deps := range stepDependencies {
		if step == StepStubGeneration && !withStubs {
			continue
		}
		for _, dep := range deps {
			if err := g.AddEdge(string(dep), string(step)); err != nil {
				return nil, errors.Wrapf(err, "ordering %s after %s", step, dep)
			}
		}
	}

	order, err := graph.StableTopologicalSort(g, func(a, b string) bool { return a < b })
	if err != nil {
		return nil, errors.Wrap(err, "sorting steps")
	}

	steps := make([]Step, len(order))
	for i, name := range order {
		steps[i] = Step(name)
	}
	return steps, nil
}

// Plan is the set of decisions a run would make, without running anything.
type Plan struct {
	Module              string
	Stale               bool   // Cached state would be discarded
	StaleReason         string // Why, when Stale
	NeedsConfigure      bool
	NeedsBuild          bool
	NeedsStubGeneration bool
	ArtifactPath        string // Last recorded artifact
}

// UpToDate reports whether a run would skip every step.
func (p *Plan) UpToDate() bool {
	return !p.Stale && !p.NeedsConfigure && !p.NeedsBuild && !p.NeedsStubGeneration
}
