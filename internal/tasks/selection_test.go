package tasks_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tyemirov/up/internal/tasks"
)

func descriptorNames(descriptors []tasks.TaskDescriptor) []string {
	names := make([]string, 0, len(descriptors))
	for _, descriptor := range descriptors {
		names = append(names, descriptor.Name)
	}
	return names
}

func TestSelectAppliesFilters(testInstance *testing.T) {
	manual := shellTask("manual")
	manual.AutoRun = false
	darwinOnly := shellTask("darwin-only")
	darwinOnly.Constraints = map[string]string{"OS": "darwin"}
	all := []tasks.TaskDescriptor{shellTask("A"), shellTask("B"), manual, darwinOnly}
	linux := map[string]string{"OS": "linux"}

	testCases := []struct {
		name        string
		selection   tasks.Selection
		environment map[string]string
		expected    []string
	}{
		{name: "defaults", environment: linux, expected: []string{"A", "B"}},
		{name: "exclude_wins_over_include", selection: tasks.Selection{Include: []string{"A", "B"}, Exclude: []string{"B"}}, environment: linux, expected: []string{"A"}},
		{name: "comma_separated_lists", selection: tasks.Selection{Include: []string{"A, manual"}}, environment: linux, expected: []string{"A", "manual"}},
		{name: "explicit_include_runs_manual_task", selection: tasks.Selection{Include: []string{"manual"}}, environment: linux, expected: []string{"manual"}},
		{name: "constraint_matches", environment: map[string]string{"OS": "darwin"}, expected: []string{"A", "B", "darwin-only"}},
		{name: "constraint_missing_variable", environment: map[string]string{}, expected: []string{"A", "B"}},
		{name: "constraint_beats_include", selection: tasks.Selection{Include: []string{"darwin-only"}}, environment: linux, expected: []string{}},
		{name: "unmatched_names_tolerated", selection: tasks.Selection{Include: []string{"A", "ghost"}, Exclude: []string{"phantom"}}, environment: linux, expected: []string{"A"}},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			eligible := tasks.Select(all, testCase.selection, testCase.environment)
			require.Equal(testInstance, testCase.expected, descriptorNames(eligible))
		})
	}
}

func TestNormalizeNames(testInstance *testing.T) {
	require.Equal(testInstance, []string{"a", "b", "c"}, tasks.NormalizeNames([]string{"a,b", " c ", "", "a"}))
	require.Nil(testInstance, tasks.NormalizeNames(nil))
}
