package tasks_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tyemirov/up/internal/tasks"
)

func TestBuildGraphIndexesDependencies(testInstance *testing.T) {
	all := []tasks.TaskDescriptor{shellTask("B", "A"), shellTask("A"), shellTask("C", "A", "B")}

	graph, graphError := tasks.BuildGraph(all, all)
	require.NoError(testInstance, graphError)
	require.Equal(testInstance, 3, graph.Len())
	require.Equal(testInstance, []string{"B", "A", "C"}, graph.Names())

	indexA, found := graph.Index("A")
	require.True(testInstance, found)
	indexC, _ := graph.Index("C")
	require.Empty(testInstance, graph.Dependencies(indexA))
	require.ElementsMatch(testInstance, []int{0, 2}, graph.Dependents(indexA))
	require.Equal(testInstance, []int{indexA, 0}, graph.Dependencies(indexC))
}

func TestBuildGraphReportsConfigurationErrors(testInstance *testing.T) {
	testCases := []struct {
		name            string
		eligible        []tasks.TaskDescriptor
		all             []tasks.TaskDescriptor
		expectedKind    tasks.ConfigurationErrorKind
		expectedMembers []string
	}{
		{
			name:         "unknown_dependency",
			eligible:     []tasks.TaskDescriptor{shellTask("A", "ghost")},
			expectedKind: tasks.UnknownDependencyKind,
		},
		{
			name:         "excluded_dependency",
			eligible:     []tasks.TaskDescriptor{shellTask("A", "B")},
			all:          []tasks.TaskDescriptor{shellTask("A", "B"), shellTask("B")},
			expectedKind: tasks.DependencyExcludedKind,
		},
		{
			name:            "two_task_cycle",
			eligible:        []tasks.TaskDescriptor{shellTask("A", "B"), shellTask("B", "A")},
			expectedKind:    tasks.CyclicDependencyKind,
			expectedMembers: []string{"A", "B", "A"},
		},
		{
			name:            "cycle_behind_prefix",
			eligible:        []tasks.TaskDescriptor{shellTask("start", "X"), shellTask("X", "Y"), shellTask("Y", "Z"), shellTask("Z", "X")},
			expectedKind:    tasks.CyclicDependencyKind,
			expectedMembers: []string{"X", "Y", "Z", "X"},
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			all := testCase.all
			if all == nil {
				all = testCase.eligible
			}
			_, graphError := tasks.BuildGraph(testCase.eligible, all)
			var configurationError tasks.ConfigurationError
			require.ErrorAs(testInstance, graphError, &configurationError)
			require.Equal(testInstance, testCase.expectedKind, configurationError.Kind)
			if testCase.expectedMembers != nil {
				require.Equal(testInstance, testCase.expectedMembers, configurationError.Members)
				require.Contains(testInstance, graphError.Error(), strings.Join(testCase.expectedMembers, " -> "))
			}
		})
	}
}

func TestBuildPlanSeparatesBootstrapTasks(testInstance *testing.T) {
	all := []tasks.TaskDescriptor{shellTask("A"), shellTask("B", "A"), shellTask("C"), shellTask("D")}
	graph, graphError := tasks.BuildGraph(all, all)
	require.NoError(testInstance, graphError)

	plan := tasks.BuildPlan(graph, []string{"C", "missing", "A", "C"}, true)
	require.Equal(testInstance, []string{"C", "A"}, plan.Bootstrap)
	require.Equal(testInstance, []string{"B", "D"}, plan.Parallel)
	require.Equal(testInstance, 4, plan.Len())

	withoutBootstrap := tasks.BuildPlan(graph, []string{"C"}, false)
	require.Empty(testInstance, withoutBootstrap.Bootstrap)
	require.Equal(testInstance, []string{"A", "B", "C", "D"}, withoutBootstrap.Parallel)
}
