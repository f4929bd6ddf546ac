package bus_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plagscan/engine/internal/bus"
)

const validEnvelope = `{
	"task_id": "11111111-1111-1111-1111-111111111111",
	"language": "python",
	"files": [
		{"id": "22222222-2222-2222-2222-222222222222", "hash": "abc123", "path": "blob://x", "filename": "a.py"}
	]
}`

func TestBus_ValidEnvelopeDispatchesHandler(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := bus.New(nil, 4)

	var handled atomic.Bool

	go b.Run(ctx, func(_ context.Context, env bus.TaskEnvelope) error {
		handled.Store(true)
		assert.Equal(t, "python", env.Language)
		assert.Len(t, env.Files, 1)

		return nil
	})

	acked := make(chan error, 1)
	b.Publish([]byte(validEnvelope), func(err error) { acked <- err })

	select {
	case err := <-acked:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ack not received")
	}

	assert.True(t, handled.Load())
}

func TestBus_MalformedEnvelopeGoesToDeadLetter(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := bus.New(nil, 4)
	go b.Run(ctx, func(context.Context, bus.TaskEnvelope) error {
		t.Fatal("handler should not run for malformed envelope")

		return nil
	})

	acked := make(chan error, 1)
	b.Publish([]byte(`{"task_id": ""}`), func(err error) { acked <- err })

	select {
	case err := <-acked:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("ack not received")
	}

	select {
	case dl := <-b.DeadLetters():
		require.Error(t, dl.Err)
	case <-time.After(time.Second):
		t.Fatal("expected a dead letter")
	}
}

func TestBus_HandlerErrorStillAcksWithError(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := bus.New(nil, 4)
	go b.Run(ctx, func(context.Context, bus.TaskEnvelope) error {
		return assert.AnError
	})

	acked := make(chan error, 1)
	b.Publish([]byte(validEnvelope), func(err error) { acked <- err })

	select {
	case err := <-acked:
		require.ErrorIs(t, err, assert.AnError)
	case <-time.After(time.Second):
		t.Fatal("ack not received")
	}
}

func TestTaskEnvelope_ToTaskDescriptor(t *testing.T) {
	t.Parallel()

	env, err := bus.Decode([]byte(validEnvelope))
	require.NoError(t, err)

	td, err := env.ToTaskDescriptor()
	require.NoError(t, err)

	assert.Equal(t, "11111111-1111-1111-1111-111111111111", td.TaskID.String())
	require.Len(t, td.Files, 1)
	assert.Equal(t, "abc123", td.Files[0].ContentHash)
}

func TestTaskEnvelope_ToTaskDescriptor_InvalidUUID(t *testing.T) {
	t.Parallel()

	env := bus.TaskEnvelope{TaskID: "not-a-uuid", Language: "python"}
	_, err := env.ToTaskDescriptor()
	require.Error(t, err)
}
