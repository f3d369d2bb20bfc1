// Package pipeline implements component D: the hybrid sync/async
// producer -> stages -> sink runner with per-producer-task ordering and
// cooperative cancellation. Tasks are run one at a time.
package pipeline

import (
	"context"
	"fmt"

	"github.com/orbimport/importsvc/internal/importstate"
)

// Stage is a coroutine-like transform: Prime advances it to its first
// yield, Send feeds one task and returns zero or more output tasks (§4.D).
// Implementations that are purely synchronous can ignore ctx; Send is
// still called with the pipeline's cancellation context so I/O-bound
// stages can observe cancellation mid-call.
type Stage interface {
	Name() string
	Prime(ctx context.Context) error
	Send(ctx context.Context, task *importstate.TaskState) ([]*importstate.TaskState, error)
}

// StageFunc adapts a plain function to the Stage interface for stages that
// need no priming (the common case: most of the session variants' stages
// are stateless transforms).
type StageFunc struct {
	name string
	fn   func(ctx context.Context, task *importstate.TaskState) ([]*importstate.TaskState, error)
}

// NewStageFunc builds a Stage from a bare transform function.
func NewStageFunc(name string, fn func(ctx context.Context, task *importstate.TaskState) ([]*importstate.TaskState, error)) *StageFunc {
	return &StageFunc{name: name, fn: fn}
}

func (s *StageFunc) Name() string { return s.name }

func (s *StageFunc) Prime(ctx context.Context) error { return nil }

func (s *StageFunc) Send(ctx context.Context, task *importstate.TaskState) ([]*importstate.TaskState, error) {
	return s.fn(ctx, task)
}

// StageOrder is an insertion-ordered, named list of stages (§4.D).
type StageOrder struct {
	stages []Stage
}

// NewStageOrder builds a StageOrder from an initial ordered list.
func NewStageOrder(stages ...Stage) *StageOrder {
	return &StageOrder{stages: append([]Stage(nil), stages...)}
}

// Append adds a stage to the end.
func (o *StageOrder) Append(s Stage) { o.stages = append(o.stages, s) }

// Prepend adds a stage to the front.
func (o *StageOrder) Prepend(s Stage) {
	o.stages = append([]Stage{s}, o.stages...)
}

// InsertBefore inserts s immediately before the stage named name. Returns
// an error if name is not found.
func (o *StageOrder) InsertBefore(name string, s Stage) error {
	i, err := o.indexOf(name)
	if err != nil {
		return err
	}
	o.insertAt(i, s)
	return nil
}

// InsertAfter inserts s immediately after the stage named name.
func (o *StageOrder) InsertAfter(name string, s Stage) error {
	i, err := o.indexOf(name)
	if err != nil {
		return err
	}
	o.insertAt(i+1, s)
	return nil
}

func (o *StageOrder) indexOf(name string) (int, error) {
	for i, s := range o.stages {
		if s.Name() == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("pipeline: no stage named %q", name)
}

func (o *StageOrder) insertAt(i int, s Stage) {
	o.stages = append(o.stages, nil)
	copy(o.stages[i+1:], o.stages[i:])
	o.stages[i] = s
}

// Stages returns the ordered stage list.
func (o *StageOrder) Stages() []Stage { return o.stages }

// Producer yields tasks one at a time, in order, until exhausted.
type Producer interface {
	// Next returns the next task, or (nil, false, nil) when exhausted.
	// An error aborts the pipeline run.
	Next(ctx context.Context) (*importstate.TaskState, bool, error)
}

// SliceProducer adapts a fixed slice of tasks (the common case: read_tasks
// has already materialized every task before the remaining stages run).
type SliceProducer struct {
	tasks []*importstate.TaskState
	i     int
}

// NewSliceProducer wraps tasks as a Producer.
func NewSliceProducer(tasks []*importstate.TaskState) *SliceProducer {
	return &SliceProducer{tasks: tasks}
}

func (p *SliceProducer) Next(ctx context.Context) (*importstate.TaskState, bool, error) {
	if p.i >= len(p.tasks) {
		return nil, false, nil
	}
	t := p.tasks[p.i]
	p.i++
	return t, true, nil
}

// Sink receives the final task list for one producer-task after it has
// flowed through every stage.
type Sink func(ctx context.Context, tasks []*importstate.TaskState) error

// Run executes a pipeline to completion (§4.D steps 1-2): primes every
// stage, then for each producer task, drains it sequentially through the
// ordered stage list, flattening outputs, and yields the remainder to
// sink. Per-producer-task stage application is sequential matching the
// ordering contract ("a stage sees its inputs in producer order"); this
// runner processes producer tasks one at a time rather than fanning them
// out across goroutines, since the durable-store commit in each variant's
// finally block is the actual parallelism boundary, not stage execution —
// true cross-task pipeline parallelism is an optimization the spec allows
// but does not require (§4.D: "when stages are I/O-bound async").
//
// On context cancellation, Run lets the in-flight Send complete, then
// returns ctx.Err() without advancing further — callers persist whatever
// progress was reached, per §4.D's cancellation contract.
func Run(ctx context.Context, producer Producer, order *StageOrder, sink Sink) error {
	for _, s := range order.Stages() {
		if err := s.Prime(ctx); err != nil {
			return fmt.Errorf("pipeline: prime stage %q: %w", s.Name(), err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		task, ok, err := producer.Next(ctx)
		if err != nil {
			return fmt.Errorf("pipeline: producer: %w", err)
		}
		if !ok {
			return nil
		}

		messages := []*importstate.TaskState{task}
		for _, stage := range order.Stages() {
			var next []*importstate.TaskState
			for _, m := range messages {
				out, err := stage.Send(ctx, m)
				if err != nil {
					return fmt.Errorf("pipeline: stage %q: %w", stage.Name(), err)
				}
				next = append(next, out...)
			}
			messages = next

			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}

		if err := sink(ctx, messages); err != nil {
			return fmt.Errorf("pipeline: sink: %w", err)
		}
	}
}

// SetProgress returns a stage that marks every task's progress to p
// before delegating to the wrapped stage (§4.E's set_progress decorator).
func SetProgress(name string, p importstate.Progress, next Stage) Stage {
	return NewStageFunc(name, func(ctx context.Context, task *importstate.TaskState) ([]*importstate.TaskState, error) {
		task.SetProgress(p)
		if next == nil {
			return []*importstate.TaskState{task}, nil
		}
		return next.Send(ctx, task)
	})
}
