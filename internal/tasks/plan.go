package tasks

// ExecutionPlan splits the eligible tasks into the serial bootstrap phase and the parallel phase.
type ExecutionPlan struct {
	Bootstrap []string
	Parallel  []string
	graph     *Graph
}

// BuildPlan orders the configured bootstrap entries that are eligible, once each, ahead of everything else.
// With bootstrap disabled every task goes to the parallel phase.
func BuildPlan(graph *Graph, bootstrapTasks []string, bootstrap bool) ExecutionPlan {
	plan := ExecutionPlan{graph: graph}
	inBootstrap := make(map[string]struct{})
	if bootstrap {
		for _, name := range bootstrapTasks {
			if _, eligible := graph.Index(name); !eligible {
				continue
			}
			if _, duplicate := inBootstrap[name]; duplicate {
				continue
			}
			inBootstrap[name] = struct{}{}
			plan.Bootstrap = append(plan.Bootstrap, name)
		}
	}
	for _, name := range graph.names {
		if _, bootstrapped := inBootstrap[name]; bootstrapped {
			continue
		}
		plan.Parallel = append(plan.Parallel, name)
	}
	return plan
}

// Graph returns the dependency graph the plan was built from.
func (plan ExecutionPlan) Graph() *Graph {
	return plan.graph
}

// Len reports the number of planned tasks.
func (plan ExecutionPlan) Len() int {
	return len(plan.Bootstrap) + len(plan.Parallel)
}
