package tasks

import (
	"context"
	"runtime"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tyemirov/up/internal/tracing"
)

const (
	bootstrapPhaseName        = "bootstrap"
	parallelPhaseName         = "parallel"
	phaseStartedMessage       = "phase started"
	phaseCompletedMessage     = "phase completed"
	taskFinishedMessage       = "task finished"
	taskFailedMessage         = "task failed"
	runAbortedMessage         = "run aborted, no further tasks will start"
	phaseFieldName            = "phase"
	taskFieldName             = "task"
	statusFieldName           = "status"
	reasonFieldName           = "reason"
	blockedByFieldName        = "blocked_by"
	durationFieldName         = "duration"
	tasksFieldName            = "tasks"
	workersFieldName          = "workers"
	phaseSpanAttributeTasks   = "up.phase.tasks"
	phaseSpanAttributeWorkers = "up.phase.workers"
)

// TaskRunner executes one task to a terminal result.
type TaskRunner interface {
	RunTask(executionContext context.Context, descriptor TaskDescriptor) TaskResult
}

// SchedulerOptions tunes phase execution.
type SchedulerOptions struct {
	// Workers bounds parallel-phase concurrency; zero or less means runtime.NumCPU().
	Workers   int
	KeepGoing bool
	Logger    *zap.Logger
	Tracer    *tracing.Provider
}

// Scheduler runs an ExecutionPlan: the bootstrap phase serially, then the parallel phase on a worker pool.
type Scheduler struct {
	runner  TaskRunner
	options SchedulerOptions
}

// NewScheduler constructs a Scheduler around runner.
func NewScheduler(runner TaskRunner, options SchedulerOptions) *Scheduler {
	if options.Workers <= 0 {
		options.Workers = runtime.NumCPU()
	}
	if options.Logger == nil {
		options.Logger = zap.NewNop()
	}
	return &Scheduler{runner: runner, options: options}
}

// runState is owned by the coordinating goroutine.
type runState struct {
	outcome RunOutcome
	logger  *zap.Logger
}

// Execute runs every planned task and returns one terminal result per task.
// Cancelling executionContext stops new tasks from starting; running ones complete.
func (scheduler *Scheduler) Execute(executionContext context.Context, plan ExecutionPlan, runID string, descriptors map[string]TaskDescriptor) RunOutcome {
	order := plan.Bootstrap
	if plan.graph != nil {
		order = plan.graph.Names()
	}
	state := &runState{outcome: newRunOutcome(runID, order), logger: scheduler.options.Logger}

	scheduler.runBootstrap(executionContext, plan, descriptors, state)
	scheduler.runParallel(executionContext, plan, descriptors, state)

	state.outcome.Duration = time.Since(state.outcome.StartTime)
	return state.outcome
}

func (scheduler *Scheduler) runBootstrap(executionContext context.Context, plan ExecutionPlan, descriptors map[string]TaskDescriptor, state *runState) {
	if len(plan.Bootstrap) == 0 {
		return
	}
	phaseContext, span := scheduler.options.Tracer.Start(executionContext, bootstrapPhaseName, map[string]string{phaseSpanAttributeTasks: strconv.Itoa(len(plan.Bootstrap))})
	scheduler.options.Logger.Info(phaseStartedMessage, zap.String(phaseFieldName, bootstrapPhaseName), zap.Int(tasksFieldName, len(plan.Bootstrap)))

	for _, name := range plan.Bootstrap {
		if state.outcome.Aborted || executionContext.Err() != nil {
			state.abort()
			state.record(TaskResult{Name: name, Status: StatusSkipped, SkipReason: SkipReasonRunAborted})
			continue
		}
		result := scheduler.runner.RunTask(phaseContext, descriptors[name])
		state.record(result)
		if result.Status == StatusFailed && !scheduler.options.KeepGoing {
			state.abort()
		}
	}

	scheduler.options.Logger.Info(phaseCompletedMessage, zap.String(phaseFieldName, bootstrapPhaseName))
	span.End(nil)
}

func (scheduler *Scheduler) runParallel(executionContext context.Context, plan ExecutionPlan, descriptors map[string]TaskDescriptor, state *runState) {
	if len(plan.Parallel) == 0 {
		return
	}
	if state.outcome.Aborted {
		for _, name := range plan.Parallel {
			state.record(TaskResult{Name: name, Status: StatusSkipped, SkipReason: SkipReasonRunAborted})
		}
		return
	}

	workers := min(scheduler.options.Workers, len(plan.Parallel))
	phaseContext, span := scheduler.options.Tracer.Start(executionContext, parallelPhaseName, map[string]string{
		phaseSpanAttributeTasks:   strconv.Itoa(len(plan.Parallel)),
		phaseSpanAttributeWorkers: strconv.Itoa(workers),
	})
	defer span.End(nil)
	scheduler.options.Logger.Info(phaseStartedMessage, zap.String(phaseFieldName, parallelPhaseName), zap.Int(tasksFieldName, len(plan.Parallel)), zap.Int(workersFieldName, workers))

	jobs := make(chan TaskDescriptor, workers)
	completions := make(chan TaskResult, len(plan.Parallel))
	var waitGroup sync.WaitGroup
	for workerIndex := 0; workerIndex < workers; workerIndex++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			for descriptor := range jobs {
				completions <- scheduler.runner.RunTask(phaseContext, descriptor)
			}
		}()
	}

	pending := make([]int, 0, len(plan.Parallel))
	for _, name := range plan.Parallel {
		index, _ := plan.graph.Index(name)
		pending = append(pending, index)
	}

	inFlight := 0
	cancelled := executionContext.Done()
	for {
		if executionContext.Err() != nil {
			state.abort()
		}
		if !state.outcome.Aborted {
			pending, inFlight = scheduler.dispatch(plan.graph, pending, inFlight, workers, jobs, descriptors, state)
		}
		if inFlight == 0 {
			break
		}
		select {
		case result := <-completions:
			inFlight--
			state.record(result)
		case <-cancelled:
			cancelled = nil
			state.abort()
		}
	}
	close(jobs)
	waitGroup.Wait()

	for _, index := range pending {
		state.record(TaskResult{Name: plan.graph.Name(index), Status: StatusSkipped, SkipReason: SkipReasonRunAborted})
	}
	scheduler.options.Logger.Info(phaseCompletedMessage, zap.String(phaseFieldName, parallelPhaseName))
}

// dispatch records dependency-blocked tasks and hands runnable ones to idle workers, in load order.
// It repeats until a pass changes nothing so that blocking propagates transitively.
func (scheduler *Scheduler) dispatch(graph *Graph, pending []int, inFlight int, workers int, jobs chan<- TaskDescriptor, descriptors map[string]TaskDescriptor, state *runState) ([]int, int) {
	for changed := true; changed; {
		changed = false
		remaining := pending[:0]
		for _, index := range pending {
			ready, blockedBy := state.readiness(graph, index)
			switch {
			case len(blockedBy) > 0:
				state.record(TaskResult{Name: graph.Name(index), Status: StatusSkipped, SkipReason: SkipReasonDependencyFailed, BlockedBy: blockedBy})
				changed = true
			case ready && inFlight < workers:
				jobs <- descriptors[graph.Name(index)]
				inFlight++
				changed = true
			default:
				remaining = append(remaining, index)
			}
		}
		pending = remaining
	}
	return pending, inFlight
}

// readiness reports whether every dependency has a satisfying terminal result, or names the first one that blocks.
func (state *runState) readiness(graph *Graph, index int) (bool, string) {
	ready := true
	for _, dependencyIndex := range graph.Dependencies(index) {
		dependencyName := graph.Name(dependencyIndex)
		result, terminal := state.outcome.Results[dependencyName]
		if !terminal {
			ready = false
			continue
		}
		if !result.SatisfiesDependents() {
			return false, dependencyName
		}
	}
	return ready, ""
}

func (state *runState) abort() {
	if state.outcome.Aborted {
		return
	}
	state.outcome.Aborted = true
	state.outcome.Failed = true
	state.logger.Error(runAbortedMessage)
}

func (state *runState) record(result TaskResult) {
	if _, recorded := state.outcome.Results[result.Name]; recorded {
		return
	}
	if !result.Terminal() {
		result.Status = StatusFailed
	}
	state.outcome.Results[result.Name] = result
	if result.Status == StatusFailed {
		state.outcome.Failed = true
	}

	fields := []zap.Field{
		zap.String(taskFieldName, result.Name),
		zap.String(statusFieldName, string(result.Status)),
		zap.Duration(durationFieldName, result.Duration),
	}
	if result.SkipReason != SkipReasonNone {
		fields = append(fields, zap.String(reasonFieldName, string(result.SkipReason)))
	}
	if len(result.BlockedBy) > 0 {
		fields = append(fields, zap.String(blockedByFieldName, result.BlockedBy))
	}
	if result.Status == StatusFailed {
		state.logger.Error(taskFailedMessage, append(fields, zap.Error(result.Error))...)
		return
	}
	state.logger.Info(taskFinishedMessage, fields...)
}
