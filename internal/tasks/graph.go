package tasks

// Graph is the dependency graph of the eligible tasks, indexed by load order.
type Graph struct {
	names        []string
	indexes      map[string]int
	dependencies [][]int
	dependents   [][]int
}

const (
	unvisitedConstant = iota
	visitingConstant
	visitedConstant
)

// BuildGraph links every eligible task to its dependencies.
// all is the full loaded set and distinguishes a filtered-out dependency from an unknown one.
func BuildGraph(eligible []TaskDescriptor, all []TaskDescriptor) (*Graph, error) {
	graph := &Graph{
		names:        make([]string, len(eligible)),
		indexes:      make(map[string]int, len(eligible)),
		dependencies: make([][]int, len(eligible)),
		dependents:   make([][]int, len(eligible)),
	}
	for index, descriptor := range eligible {
		graph.names[index] = descriptor.Name
		graph.indexes[descriptor.Name] = index
	}

	known := nameSet(nil)
	for _, descriptor := range all {
		known[descriptor.Name] = struct{}{}
	}

	for index, descriptor := range eligible {
		for _, dependencyName := range descriptor.Requires {
			dependencyIndex, eligibleDependency := graph.indexes[dependencyName]
			if !eligibleDependency {
				kind := UnknownDependencyKind
				if _, loaded := known[dependencyName]; loaded {
					kind = DependencyExcludedKind
				}
				return nil, ConfigurationError{Kind: kind, Task: descriptor.Name, Path: descriptor.SourcePath, Dependency: dependencyName}
			}
			graph.dependencies[index] = append(graph.dependencies[index], dependencyIndex)
			graph.dependents[dependencyIndex] = append(graph.dependents[dependencyIndex], index)
		}
	}

	if cycle := graph.findCycle(); cycle != nil {
		return nil, ConfigurationError{Kind: CyclicDependencyKind, Task: cycle[0], Members: cycle}
	}
	return graph, nil
}

// Len reports the number of tasks.
func (graph *Graph) Len() int {
	return len(graph.names)
}

// Name returns the task at index.
func (graph *Graph) Name(index int) string {
	return graph.names[index]
}

// Names returns the task names in load order.
func (graph *Graph) Names() []string {
	return append([]string{}, graph.names...)
}

// Index returns the index of name.
func (graph *Graph) Index(name string) (int, bool) {
	index, found := graph.indexes[name]
	return index, found
}

// Dependencies returns the indexes a task requires.
func (graph *Graph) Dependencies(index int) []int {
	return graph.dependencies[index]
}

// Dependents returns the indexes that require a task.
func (graph *Graph) Dependents(index int) []int {
	return graph.dependents[index]
}

// findCycle runs a depth-first search and returns the first cycle found, closed by its starting member.
func (graph *Graph) findCycle() []string {
	states := make([]int, len(graph.names))
	path := make([]int, 0, len(graph.names))

	var visit func(index int) []string
	visit = func(index int) []string {
		states[index] = visitingConstant
		path = append(path, index)
		for _, dependencyIndex := range graph.dependencies[index] {
			switch states[dependencyIndex] {
			case visitingConstant:
				start := 0
				for position, member := range path {
					if member == dependencyIndex {
						start = position
						break
					}
				}
				members := make([]string, 0, len(path)-start+1)
				for _, member := range path[start:] {
					members = append(members, graph.names[member])
				}
				return append(members, graph.names[dependencyIndex])
			case unvisitedConstant:
				if cycle := visit(dependencyIndex); cycle != nil {
					return cycle
				}
			}
		}
		path = path[:len(path)-1]
		states[index] = visitedConstant
		return nil
	}

	for index := range graph.names {
		if states[index] != unvisitedConstant {
			continue
		}
		if cycle := visit(index); cycle != nil {
			return cycle
		}
	}
	return nil
}
