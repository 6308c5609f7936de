// Package taskrunner hosts the shared abstractions for building and executing up
// runs. It exposes the `Executor` interface plus helpers (`BuildDependencies`,
// `Factory`, `Resolve`) so CLI packages can wire the shell executor, library
// registry and task loader once and obtain a runner, while unit tests can swap
// in fakes. Orchestration itself lives in `internal/tasks`.
package taskrunner
