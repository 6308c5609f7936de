// Package pathutils normalizes user supplied filesystem paths.
package pathutils

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	homeDirectoryShorthandConstant = "~"
	pathSeparatorConstant          = string(filepath.Separator)
)

// HomeDirectoryResolver reports the user's home directory.
type HomeDirectoryResolver func() (string, error)

// PathSanitizerConfiguration toggles optional sanitizer behaviours.
type PathSanitizerConfiguration struct {
	PruneNestedPaths bool
}

// PathSanitizer trims, expands, cleans, and deduplicates paths while preserving input order.
type PathSanitizer struct {
	resolveHomeDirectory HomeDirectoryResolver
	configuration        PathSanitizerConfiguration
}

// NewPathSanitizer constructs a sanitizer using the process home directory.
func NewPathSanitizer() *PathSanitizer {
	return NewPathSanitizerWithConfiguration(nil, PathSanitizerConfiguration{})
}

// NewPathSanitizerWithConfiguration constructs a sanitizer with explicit collaborators.
func NewPathSanitizerWithConfiguration(resolver HomeDirectoryResolver, configuration PathSanitizerConfiguration) *PathSanitizer {
	if resolver == nil {
		resolver = os.UserHomeDir
	}
	return &PathSanitizer{resolveHomeDirectory: resolver, configuration: configuration}
}

// Sanitize returns the normalized paths, or nil when nothing remains.
func (sanitizer *PathSanitizer) Sanitize(candidates []string) []string {
	seen := make(map[string]struct{}, len(candidates))
	sanitized := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		normalized := sanitizer.Normalize(candidate)
		if len(normalized) == 0 {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		sanitized = append(sanitized, normalized)
	}

	if sanitizer.configuration.PruneNestedPaths {
		sanitized = pruneNestedPaths(sanitized)
	}

	if len(sanitized) == 0 {
		return nil
	}
	return sanitized
}

// Normalize expands a leading ~ and cleans a single path. Blank input yields an empty string.
func (sanitizer *PathSanitizer) Normalize(candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if len(trimmed) == 0 {
		return ""
	}
	if trimmed == homeDirectoryShorthandConstant || strings.HasPrefix(trimmed, homeDirectoryShorthandConstant+pathSeparatorConstant) {
		homeDirectory, homeError := sanitizer.resolveHomeDirectory()
		if homeError == nil && len(homeDirectory) > 0 {
			trimmed = filepath.Join(homeDirectory, strings.TrimPrefix(trimmed, homeDirectoryShorthandConstant))
		}
	}
	return filepath.Clean(trimmed)
}

func pruneNestedPaths(paths []string) []string {
	byLength := append([]string{}, paths...)
	sort.SliceStable(byLength, func(leftIndex int, rightIndex int) bool {
		return len(byLength[leftIndex]) < len(byLength[rightIndex])
	})

	kept := make(map[string]struct{}, len(byLength))
	for _, candidate := range byLength {
		nested := false
		for keptPath := range kept {
			if strings.HasPrefix(candidate, strings.TrimSuffix(keptPath, pathSeparatorConstant)+pathSeparatorConstant) {
				nested = true
				break
			}
		}
		if !nested {
			kept[candidate] = struct{}{}
		}
	}

	pruned := make([]string, 0, len(kept))
	for _, candidate := range paths {
		if _, exists := kept[candidate]; exists {
			pruned = append(pruned, candidate)
		}
	}
	return pruned
}
