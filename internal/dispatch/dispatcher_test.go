package dispatch

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"optimus-console-go/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type flagState struct{ running atomic.Bool }

func (s *flagState) Running() bool { return s.running.Load() }

type senderFunc func(ctx context.Context, text string, task types.Task) (string, error)

func (f senderFunc) SendCommand(ctx context.Context, text string, task types.Task) (string, error) {
	return f(ctx, text, task)
}

func startDispatcher(t *testing.T, opts Options) (*Dispatcher, chan types.Event) {
	t.Helper()
	events := make(chan types.Event, 16)
	opts.Events = events
	d := New(opts)
	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)
	t.Cleanup(func() {
		cancel()
		require.NoError(t, d.Wait())
	})
	return d, events
}

func nextEvent(t *testing.T, events <-chan types.Event) types.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
		return nil
	}
}

func TestActionLoopStopsAfterPause(t *testing.T) {
	state := &flagState{}
	state.running.Store(true)

	var calls atomic.Int32
	sender := senderFunc(func(_ context.Context, text string, task types.Task) (string, error) {
		assert.Equal(t, ActionCommand, text)
		assert.Equal(t, types.TaskAction, task)
		if calls.Add(1) == 3 {
			// Pause lands while this send is in flight.
			state.running.Store(false)
		}
		return "ok", nil
	})

	d, events := startDispatcher(t, Options{Sender: sender, State: state})
	require.True(t, d.StartAction())

	ev := nextEvent(t, events)
	done, ok := ev.(types.CommandCompleted)
	require.True(t, ok)
	assert.Equal(t, ActionDone, done.Text)
	assert.Equal(t, types.TaskAction, done.Task)
	assert.NoError(t, done.Err)
	assert.Equal(t, int32(3), calls.Load())
	assert.False(t, d.ActionActive())
}

func TestActionLoopNotStartedTwice(t *testing.T) {
	state := &flagState{}
	state.running.Store(true)
	release := make(chan struct{})
	sender := senderFunc(func(ctx context.Context, _ string, _ types.Task) (string, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		state.running.Store(false)
		return "", nil
	})

	d, events := startDispatcher(t, Options{Sender: sender, State: state})
	require.True(t, d.StartAction())
	assert.False(t, d.StartAction())
	assert.True(t, d.ActionActive())

	close(release)
	nextEvent(t, events)
	assert.False(t, d.ActionActive())
}

func TestActionLoopStopsOnError(t *testing.T) {
	state := &flagState{}
	state.running.Store(true)
	boom := errors.New("server gone")
	var calls atomic.Int32
	sender := senderFunc(func(context.Context, string, types.Task) (string, error) {
		calls.Add(1)
		return "", boom
	})

	d, events := startDispatcher(t, Options{Sender: sender, State: state})
	require.True(t, d.StartAction())

	done := nextEvent(t, events).(types.CommandCompleted)
	assert.ErrorIs(t, done.Err, boom)
	assert.Equal(t, int32(1), calls.Load())
}

func TestActionLoopRespectsRate(t *testing.T) {
	state := &flagState{}
	state.running.Store(true)
	var calls atomic.Int32
	sender := senderFunc(func(context.Context, string, types.Task) (string, error) {
		if calls.Add(1) >= 3 {
			state.running.Store(false)
		}
		return "", nil
	})

	d, events := startDispatcher(t, Options{Sender: sender, State: state, ActionRate: 20})
	start := time.Now()
	require.True(t, d.StartAction())
	nextEvent(t, events)
	// The first token is free; the next two wait ~50ms each.
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestActionLoopNeverSendsWhenPaused(t *testing.T) {
	state := &flagState{}
	var calls atomic.Int32
	sender := senderFunc(func(context.Context, string, types.Task) (string, error) {
		calls.Add(1)
		return "", nil
	})

	d, events := startDispatcher(t, Options{Sender: sender, State: state})
	require.True(t, d.StartAction())
	nextEvent(t, events)
	assert.Zero(t, calls.Load())
}

func TestDispatchDeliversOneReply(t *testing.T) {
	var calls atomic.Int32
	sender := senderFunc(func(_ context.Context, text string, task types.Task) (string, error) {
		calls.Add(1)
		return "reply to " + text + " as " + string(task), nil
	})

	d, events := startDispatcher(t, Options{Sender: sender, State: &flagState{}})
	id, err := d.Dispatch("describe", types.TaskCaptioning)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	done := nextEvent(t, events).(types.CommandCompleted)
	assert.Equal(t, id, done.ID)
	assert.Equal(t, "reply to describe as captioning", done.Text)
	assert.Nil(t, done.Box)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDispatchGroundingCarriesBox(t *testing.T) {
	sender := senderFunc(func(context.Context, string, types.Task) (string, error) {
		return "box is at 0 10 20 200 220", nil
	})

	d, events := startDispatcher(t, Options{Sender: sender, State: &flagState{}})
	_, err := d.Dispatch("where is the tree", types.TaskGrounding)
	require.NoError(t, err)

	done := nextEvent(t, events).(types.CommandCompleted)
	require.NotNil(t, done.Box)
	assert.Equal(t, image.Rect(10, 20, 201, 221), *done.Box)
}

func TestDispatchReportsErrors(t *testing.T) {
	boom := &types.Error{Kind: types.KindConnection, Op: "send_text", Err: errors.New("refused")}
	sender := senderFunc(func(context.Context, string, types.Task) (string, error) {
		return "", boom
	})

	d, events := startDispatcher(t, Options{Sender: sender, State: &flagState{}})
	_, err := d.Dispatch("hi", types.TaskPlanning)
	require.NoError(t, err)

	done := nextEvent(t, events).(types.CommandCompleted)
	assert.True(t, types.IsKind(done.Err, types.KindConnection))
}

func TestGoRejectsWhenQueueFull(t *testing.T) {
	block := make(chan struct{})
	var started sync.WaitGroup
	started.Add(1)

	d, _ := startDispatcher(t, Options{Sender: senderFunc(nil), State: &flagState{}, Workers: 1, Queue: 1})
	require.NoError(t, d.Go("blocker", func(ctx context.Context) types.Event {
		started.Done()
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil
	}))
	started.Wait()

	require.NoError(t, d.Go("queued", func(context.Context) types.Event { return nil }))
	assert.ErrorIs(t, d.Go("overflow", func(context.Context) types.Event { return nil }), ErrQueueFull)
	close(block)
}

func TestNotStarted(t *testing.T) {
	d := New(Options{State: &flagState{}})
	assert.ErrorIs(t, d.Go("x", func(context.Context) types.Event { return nil }), ErrNotRunning)
	assert.False(t, d.StartAction())
	_, err := d.Dispatch("x", types.TaskPlanning)
	assert.ErrorIs(t, err, ErrNotRunning)
	assert.NoError(t, d.Wait())
}

func TestShutdownStopsActionLoop(t *testing.T) {
	state := &flagState{}
	state.running.Store(true)
	sender := senderFunc(func(ctx context.Context, _ string, _ types.Task) (string, error) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Millisecond):
			return "", nil
		}
	})

	events := make(chan types.Event, 4)
	d := New(Options{Sender: sender, State: state, Events: events})
	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)
	require.True(t, d.StartAction())
	time.Sleep(10 * time.Millisecond)

	cancel()
	require.NoError(t, d.Wait())
	assert.False(t, d.ActionActive())
}
