package tasks

import "strings"

// Selection is the allow-list and exclude-list requested for a run.
type Selection struct {
	Include []string
	Exclude []string
}

// NormalizeNames splits comma-separated entries, trims them and drops blanks and duplicates.
func NormalizeNames(values []string) []string {
	var names []string
	seen := make(map[string]struct{})
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			name := strings.TrimSpace(part)
			if len(name) == 0 {
				continue
			}
			if _, duplicate := seen[name]; duplicate {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	return names
}

// Select returns the eligible descriptors in load order.
// Exclusion wins over inclusion; unmatched names are ignored.
func Select(descriptors []TaskDescriptor, selection Selection, environment map[string]string) []TaskDescriptor {
	included := nameSet(NormalizeNames(selection.Include))
	excluded := nameSet(NormalizeNames(selection.Exclude))

	eligible := make([]TaskDescriptor, 0, len(descriptors))
	for _, descriptor := range descriptors {
		if _, isExcluded := excluded[descriptor.Name]; isExcluded {
			continue
		}
		_, isIncluded := included[descriptor.Name]
		if len(included) > 0 && !isIncluded {
			continue
		}
		if !constraintsHold(descriptor.Constraints, environment) {
			continue
		}
		if !descriptor.AutoRun && !isIncluded {
			continue
		}
		eligible = append(eligible, descriptor)
	}
	return eligible
}

func constraintsHold(constraints map[string]string, environment map[string]string) bool {
	for key, expected := range constraints {
		actual, present := environment[key]
		if !present || actual != expected {
			return false
		}
	}
	return true
}

func nameSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}
