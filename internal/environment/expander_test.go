package environment_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tyemirov/up/internal/environment"
)

func staticHome(path string) func() (string, error) {
	return func() (string, error) { return path, nil }
}

func TestExpanderExpand(testInstance *testing.T) {
	variables := map[string]string{"NAME": "world", "EMPTY": "", "HOME": "/home/tester"}

	testCases := []struct {
		name          string
		input         string
		expected      string
		expectedError error
	}{
		{name: "plain", input: "plain text", expected: "plain text"},
		{name: "bare_reference", input: "hello $NAME", expected: "hello world"},
		{name: "braced_reference", input: "${NAME}wide", expected: "worldwide"},
		{name: "empty_value", input: "x${EMPTY}y", expected: "xy"},
		{name: "home_alone", input: "~", expected: "/home/tester"},
		{name: "home_prefix", input: "~/bin", expected: "/home/tester/bin"},
		{name: "tilde_elsewhere", input: "a~/b", expected: "a~/b"},
		{name: "trailing_dollar", input: "cost$", expected: "cost$"},
		{name: "shell_pid", input: "echo pid $$", expected: "echo pid $$"},
		{name: "shell_status", input: "test $? -eq 0 && echo $NAME", expected: "test $? -eq 0 && echo world"},
		{name: "shell_argument_count", input: "echo $# $@ $* $1 $-", expected: "echo $# $@ $* $1 $-"},
		{name: "digit_led_braces", input: "${1}${NAME}", expected: "${1}world"},
		{name: "unterminated_braces", input: "${NAME", expected: "${NAME"},
		{name: "name_stops_at_punctuation", input: "$NAME.txt", expected: "world.txt"},
		{name: "missing_braced", input: "x${MISSING}", expectedError: environment.LookupError{Name: "MISSING", Value: "x${MISSING}"}},
		{name: "missing", input: "$MISSING/bin", expectedError: environment.LookupError{Name: "MISSING", Value: "$MISSING/bin"}},
	}

	expander := environment.NewExpander(environment.MapLookup(variables), staticHome("/unused"))
	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			expanded, expandError := expander.Expand(testCase.input)
			if testCase.expectedError != nil {
				require.Equal(testInstance, testCase.expectedError, expandError)
				return
			}
			require.NoError(testInstance, expandError)
			require.Equal(testInstance, testCase.expected, expanded)
		})
	}
}

func TestExpanderHomeFallsBackToResolver(testInstance *testing.T) {
	expander := environment.NewExpander(environment.MapLookup(nil), staticHome("/fallback"))
	expanded, expandError := expander.Expand("~/.config")
	require.NoError(testInstance, expandError)
	require.Equal(testInstance, "/fallback/.config", expanded)

	failing := environment.NewExpander(nil, func() (string, error) { return "", errors.New("no home") })
	_, failingError := failing.Expand("~")
	var homeError environment.HomeDirectoryError
	require.ErrorAs(testInstance, failingError, &homeError)
}

func TestExpanderExpandArguments(testInstance *testing.T) {
	expander := environment.NewExpander(environment.MapLookup(map[string]string{"TARGET": "docs"}), staticHome("/home"))

	expanded, expandError := expander.ExpandArguments([]string{"ls", "$TARGET", "~"})
	require.NoError(testInstance, expandError)
	require.Equal(testInstance, []string{"ls", "docs", "/home"}, expanded)

	_, missingError := expander.ExpandArguments([]string{"ls", "$OTHER"})
	require.ErrorAs(testInstance, missingError, &environment.LookupError{})
}

func TestExpanderExpandPayload(testInstance *testing.T) {
	expander := environment.NewExpander(environment.MapLookup(map[string]string{"REPO": "dotfiles", "HOME": "/h"}), nil)

	payload := map[string]any{
		"git_url": "https://example.com/$REPO.git",
		"$REPO":   "keys stay literal",
		"nested":  []any{"~/code", 3, true, map[string]any{"path": "${REPO}"}},
	}

	expanded, expandError := expander.ExpandPayload(payload)
	require.NoError(testInstance, expandError)
	require.Equal(testInstance, map[string]any{
		"git_url": "https://example.com/dotfiles.git",
		"$REPO":   "keys stay literal",
		"nested":  []any{"/h/code", 3, true, map[string]any{"path": "dotfiles"}},
	}, expanded)
	require.Equal(testInstance, "https://example.com/$REPO.git", payload["git_url"])

	_, missingError := expander.ExpandPayload(map[string]any{"list": []any{"$NOPE"}})
	require.ErrorAs(testInstance, missingError, &environment.LookupError{})
	require.Contains(testInstance, missingError.Error(), "list: [0]:")
}

func TestSnapshotBuilderBuild(testInstance *testing.T) {
	ambient := map[string]string{"PATH": "/usr/bin", "USER": "tester", "SECRET": "hidden"}
	builder := environment.NewSnapshotBuilderWithLookup(environment.MapLookup(ambient), staticHome("/home/tester"))

	snapshot, buildError := builder.Build([]string{"USER", "NOT_SET", " "}, []environment.Variable{
		{Name: "BIN", Value: "~/bin"},
		{Name: "PATH", Value: "$BIN:$PATH"},
		{Name: "GREETING", Value: "hi ${USER}"},
	})
	require.NoError(testInstance, buildError)
	require.Equal(testInstance, map[string]string{
		"USER":     "tester",
		"BIN":      "/home/tester/bin",
		"PATH":     "/home/tester/bin:/usr/bin",
		"GREETING": "hi tester",
	}, snapshot)
}

func TestSnapshotBuilderReportsUnresolvedVariables(testInstance *testing.T) {
	builder := environment.NewSnapshotBuilderWithLookup(environment.MapLookup(nil), staticHome("/h"))

	_, buildError := builder.Build(nil, []environment.Variable{{Name: "BROKEN", Value: "$UNDEFINED"}})
	var resolutionError environment.ResolutionError
	require.ErrorAs(testInstance, buildError, &resolutionError)
	require.Equal(testInstance, "BROKEN", resolutionError.Name)
	require.ErrorAs(testInstance, buildError, &environment.LookupError{})
}
