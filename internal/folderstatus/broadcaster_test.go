package folderstatus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	published []Update
	err       error
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, payload any) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, payload.(Update))
	return nil
}

func TestSendPublishesStatusWithoutException(t *testing.T) {
	pub := &fakePublisher{}
	b := New(pub)

	require.NoError(t, b.Send(context.Background(), "h1", "/music/a", Previewing, nil))
	require.Len(t, pub.published, 1)
	assert.Equal(t, Previewing, pub.published[0].Status)
	assert.Nil(t, pub.published[0].Exc)
}

func TestSendAttachesSerializedException(t *testing.T) {
	pub := &fakePublisher{}
	b := New(pub)

	require.NoError(t, b.Send(context.Background(), "h1", "/music/a", Failed, errors.New("boom")))
	require.Len(t, pub.published, 1)
	require.NotNil(t, pub.published[0].Exc)
	assert.Equal(t, "boom", pub.published[0].Exc.Message)
}

func TestEmitSendsBeforeAfterOnSuccess(t *testing.T) {
	pub := &fakePublisher{}
	b := New(pub)

	wrapped := b.Emit(Previewing, Tagged)(func(ctx context.Context, hash, path string) error {
		return nil
	})

	require.NoError(t, wrapped(context.Background(), "h1", "/music/a"))
	require.Len(t, pub.published, 2)
	assert.Equal(t, Previewing, pub.published[0].Status)
	assert.Equal(t, Tagged, pub.published[1].Status)
}

func TestEmitSendsFailedAndReturnsErrorOnFailure(t *testing.T) {
	pub := &fakePublisher{}
	b := New(pub)
	boom := errors.New("boom")

	wrapped := b.Emit(Previewing, Tagged)(func(ctx context.Context, hash, path string) error {
		return boom
	})

	err := wrapped(context.Background(), "h1", "/music/a")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	require.Len(t, pub.published, 2)
	assert.Equal(t, Previewing, pub.published[0].Status)
	assert.Equal(t, Failed, pub.published[1].Status)
}
