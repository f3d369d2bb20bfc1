package library

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbimport/importsvc/internal/importstate"
)

func TestPluginsSendDispatchesInOrder(t *testing.T) {
	var order []string
	var p Plugins
	p.Register(func(ctx context.Context, kind EventKind, session *importstate.SessionState, task *importstate.TaskState) ([]*importstate.CandidateState, error) {
		order = append(order, "first:"+string(kind))
		return nil, nil
	})
	p.Register(func(ctx context.Context, kind EventKind, session *importstate.SessionState, task *importstate.TaskState) ([]*importstate.CandidateState, error) {
		order = append(order, "second:"+string(kind))
		return nil, nil
	})

	_, err := p.Send(context.Background(), EventImportBegin, nil, nil)

	require.NoError(t, err)
	assert.Equal(t, []string{"first:import_begin", "second:import_begin"}, order)
}

func TestPluginsSendCollectsOffersOnlyForBeforeChoice(t *testing.T) {
	var p Plugins
	offer := &importstate.CandidateState{ID: "offered"}
	p.Register(func(ctx context.Context, kind EventKind, session *importstate.SessionState, task *importstate.TaskState) ([]*importstate.CandidateState, error) {
		return []*importstate.CandidateState{offer}, nil
	})

	offers, err := p.Send(context.Background(), EventImportTaskBeforeChoice, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []*importstate.CandidateState{offer}, offers)

	offers, err = p.Send(context.Background(), EventImportTaskApply, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, offers)
}

func TestPluginsSendPropagatesHandlerError(t *testing.T) {
	var p Plugins
	p.Register(func(ctx context.Context, kind EventKind, session *importstate.SessionState, task *importstate.TaskState) ([]*importstate.CandidateState, error) {
		return nil, assertErrBoom
	})

	_, err := p.Send(context.Background(), EventCliExit, nil, nil)
	assert.Error(t, err)
}

var assertErrBoom = &boomErr{}

type boomErr struct{}

func (*boomErr) Error() string { return "boom" }
