package orchestrator_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Homiakus/motto/internal/transport"
	"github.com/Homiakus/motto/orchestrator"
)

const validTOML = `
version = "1.0"

[commands.move]
line = "MOVE {axis}"
params = ["axis"]

[sequences.boot]

[[sequences.boot.steps]]
kind = "command"
command = "move"
args = { axis = "x" }
`

const invalidTOML = `
version = "1.0"

[sequences.boot]

[[sequences.boot.steps]]
kind = "command"
command = "does_not_exist"
`

func newLoadedOrchestrator(t *testing.T, tr transport.Transport, toml string) *orchestrator.Orchestrator {
	t.Helper()
	o := orchestrator.New(tr)
	errs, err := o.Load([]byte(toml))
	require.NoError(t, err)
	require.Empty(t, errs)
	return o
}

func TestLoadRejectsUnresolvedReferences(t *testing.T) {
	o := orchestrator.New(transport.NewMock(nil))
	errs, err := o.Load([]byte(invalidTOML))
	require.Error(t, err)
	assert.NotEmpty(t, errs)
}

func TestLoadSwapsConfigurationAtomically(t *testing.T) {
	o := newLoadedOrchestrator(t, transport.NewMock(nil), validTOML)
	result := o.Execute(context.Background(), "boot", nil, "")
	assert.Equal(t, "boot", result.SequenceID)
}

func TestExecuteRunsSequenceToCompletion(t *testing.T) {
	mock := transport.NewMock(nil)
	o := newLoadedOrchestrator(t, mock, validTOML)

	result := o.Execute(context.Background(), "boot", nil, "")

	assert.Equal(t, []string{"MOVE x"}, mock.SentLines())
	require.Len(t, result.Steps, 1)
}

func TestExecuteAsyncAwaitReturnsFinalResult(t *testing.T) {
	mock := transport.NewMock(nil)
	o := newLoadedOrchestrator(t, mock, validTOML)

	h := o.ExecuteAsync(context.Background(), "boot", nil, "")
	result := h.Await()

	assert.Equal(t, []string{"MOVE x"}, mock.SentLines())
	assert.Equal(t, "boot", result.SequenceID)
}

func TestExecuteAsyncCancelStopsInFlightWait(t *testing.T) {
	const waitingTOML = `
version = "1.0"

[sequences.boot]

[[sequences.boot.steps]]
kind = "wait"
wait_seconds = 5
`
	o := newLoadedOrchestrator(t, transport.NewMock(nil), waitingTOML)

	h := o.ExecuteAsync(context.Background(), "boot", nil, "")

	if _, done := h.Status(); done {
		t.Fatal("sequence finished before cancel, nothing exercised")
	}
	h.Cancel()

	awaited := make(chan struct{})
	go func() {
		h.Await()
		close(awaited)
	}()
	select {
	case <-awaited:
	case <-time.After(time.Second):
		t.Fatal("handle never reached done after cancel")
	}
	result := h.Await()
	_, done := h.Status()
	assert.True(t, done)
	assert.NotEmpty(t, result.SequenceID)
}

func TestPublishReachesRegisteredHandler(t *testing.T) {
	const handlerTOML = `
version = "1.0"

[commands.cleanup]
line = "CLEANUP"

[sequences.cleanup_seq]

[[sequences.cleanup_seq.steps]]
kind = "command"
command = "cleanup"

[events.alarm_raised]

[handlers.h1]
event_ref = "alarm_raised"
[[handlers.h1.actions]]
sequence_ref = "cleanup_seq"
`
	mock := transport.NewMock(nil)
	o := newLoadedOrchestrator(t, mock, handlerTOML)

	o.Publish("alarm_raised", map[string]any{})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(mock.SentLines()) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.Contains(t, mock.SentLines(), "CLEANUP")
}

func TestStatusReportsRunningSequence(t *testing.T) {
	const lockTOML = `
version = "1.0"

[commands.move]
line = "MOVE {axis}"
params = ["axis"]

[resources.lock]
kind = "mutex"

[sequences.boot]
resources = ["lock"]

[[sequences.boot.steps]]
kind = "wait"
wait_seconds = 1

[[sequences.boot.steps]]
kind = "command"
command = "move"
args = { axis = "x" }
`
	o := newLoadedOrchestrator(t, transport.NewMock(nil), lockTOML)

	h := o.ExecuteAsync(context.Background(), "boot", nil, "")

	var snap orchestrator.Snapshot
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap = o.Status()
		if len(snap.RunningSequences) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	var running []string
	for _, seqID := range snap.RunningSequences {
		running = append(running, seqID)
	}
	assert.Contains(t, running, "boot")

	h.Await()
	snap = o.Status()
	assert.Empty(t, snap.RunningSequences)
}

func TestConcurrentLoadAndExecuteDoNotRace(t *testing.T) {
	mock := transport.NewMock(nil)
	o := newLoadedOrchestrator(t, mock, validTOML)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 5; i++ {
			o.Execute(context.Background(), "boot", nil, "")
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 5; i++ {
			_, _ = o.Load([]byte(validTOML))
		}
	}()
	wg.Wait()
}
