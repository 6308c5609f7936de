// Package tasks discovers task files, filters them for a run, orders them by dependency and executes them.
//
// A run has an optional serial bootstrap phase followed by a parallel phase on a bounded worker pool.
// Every eligible task ends Passed, Skipped or Failed, and the run fails when any task failed.
package tasks
