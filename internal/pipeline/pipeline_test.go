package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbimport/importsvc/internal/importstate"
)

func passthroughStage(name string) Stage {
	return NewStageFunc(name, func(ctx context.Context, t *importstate.TaskState) ([]*importstate.TaskState, error) {
		return []*importstate.TaskState{t}, nil
	})
}

func TestStageOrderAppendPrepend(t *testing.T) {
	o := NewStageOrder(passthroughStage("a"), passthroughStage("b"))
	o.Append(passthroughStage("c"))
	o.Prepend(passthroughStage("z"))

	var names []string
	for _, s := range o.Stages() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"z", "a", "b", "c"}, names)
}

func TestStageOrderInsertBeforeAfter(t *testing.T) {
	o := NewStageOrder(passthroughStage("a"), passthroughStage("c"))
	require.NoError(t, o.InsertBefore("c", passthroughStage("b")))
	require.NoError(t, o.InsertAfter("a", passthroughStage("a2")))

	var names []string
	for _, s := range o.Stages() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"a", "a2", "b", "c"}, names)
}

func TestStageOrderInsertUnknownNameErrors(t *testing.T) {
	o := NewStageOrder(passthroughStage("a"))
	assert.Error(t, o.InsertBefore("missing", passthroughStage("x")))
}

func TestRunAppliesStagesInOrderPerTask(t *testing.T) {
	var trace []string
	record := func(label string) Stage {
		return NewStageFunc(label, func(ctx context.Context, t *importstate.TaskState) ([]*importstate.TaskState, error) {
			trace = append(trace, label+":"+t.ID)
			return []*importstate.TaskState{t}, nil
		})
	}
	order := NewStageOrder(record("s1"), record("s2"))
	producer := NewSliceProducer([]*importstate.TaskState{
		{ID: "t1"}, {ID: "t2"},
	})

	var sunk [][]*importstate.TaskState
	err := Run(context.Background(), producer, order, func(ctx context.Context, tasks []*importstate.TaskState) error {
		sunk = append(sunk, tasks)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"s1:t1", "s2:t1", "s1:t2", "s2:t2"}, trace)
	assert.Len(t, sunk, 2)
}

func TestRunFlattensStageFanOut(t *testing.T) {
	split := NewStageFunc("split", func(ctx context.Context, t *importstate.TaskState) ([]*importstate.TaskState, error) {
		return []*importstate.TaskState{{ID: t.ID + "-a"}, {ID: t.ID + "-b"}}, nil
	})
	order := NewStageOrder(split)
	producer := NewSliceProducer([]*importstate.TaskState{{ID: "t1"}})

	var got []*importstate.TaskState
	err := Run(context.Background(), producer, order, func(ctx context.Context, tasks []*importstate.TaskState) error {
		got = append(got, tasks...)
		return nil
	})

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "t1-a", got[0].ID)
	assert.Equal(t, "t1-b", got[1].ID)
}

func TestRunPropagatesStageError(t *testing.T) {
	boom := errors.New("boom")
	failing := NewStageFunc("fail", func(ctx context.Context, t *importstate.TaskState) ([]*importstate.TaskState, error) {
		return nil, boom
	})
	order := NewStageOrder(failing)
	producer := NewSliceProducer([]*importstate.TaskState{{ID: "t1"}})

	err := Run(context.Background(), producer, order, func(ctx context.Context, tasks []*importstate.TaskState) error {
		return nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestRunRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	order := NewStageOrder(passthroughStage("s1"))
	producer := NewSliceProducer([]*importstate.TaskState{{ID: "t1"}})

	err := Run(ctx, producer, order, func(ctx context.Context, tasks []*importstate.TaskState) error {
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestSetProgressStageAdvancesThenDelegates(t *testing.T) {
	var delegated bool
	next := NewStageFunc("next", func(ctx context.Context, t *importstate.TaskState) ([]*importstate.TaskState, error) {
		delegated = true
		return []*importstate.TaskState{t}, nil
	})
	stage := SetProgress("mark", importstate.PreviewCompleted, next)

	task := &importstate.TaskState{ID: "t1"}
	out, err := stage.Send(context.Background(), task)

	require.NoError(t, err)
	assert.True(t, delegated)
	assert.Equal(t, importstate.PreviewCompleted, task.Progress)
	assert.Len(t, out, 1)
}
