package state

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestErrorMessage(t *testing.T) {
	err := NewError(ErrorKindIOFailed, "save config", errors.New("disk full"))
	require.Equal(t, "save config: disk full", err.Error())
	require.Equal(t, "process already running", Errorf(ErrorKindInvalidState, "process already running").Error())
	require.Equal(t, "NotFound", (&Error{Kind: ErrorKindNotFound}).Error())
}

func TestKindOf(t *testing.T) {
	require.Equal(t, ErrorKind(""), KindOf(nil))
	require.Equal(t, ErrorKindUnknown, KindOf(errors.New("plain")))

	wrapped := fmt.Errorf("outer: %w", Errorf(ErrorKindRegistryFailed, "open key"))
	require.Equal(t, ErrorKindRegistryFailed, KindOf(wrapped))
	require.True(t, IsPlatformFailure(wrapped))
	require.True(t, IsPlatformFailure(Errorf(ErrorKindPlatformCommandFailed, "networksetup")))
	require.False(t, IsPlatformFailure(Errorf(ErrorKindUnsupported, "linux")))
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := NewError(ErrorKindSpawnFailed, "start worker", cause)
	require.ErrorIs(t, err, cause)
}

func TestBusDeliversInOrder(t *testing.T) {
	bus := NewBus()
	var got []string
	bus.Subscribe(func(event EventType, payload any) {
		got = append(got, fmt.Sprintf("a:%s:%v", event, payload))
	})
	unsubscribe := bus.Subscribe(func(event EventType, payload any) {
		got = append(got, fmt.Sprintf("b:%s:%v", event, payload))
	})

	bus.Emit(EventProcessStarted, nil)
	bus.Emit(EventLogOutput, "line")
	unsubscribe()
	unsubscribe()
	bus.Emit(EventProcessStopped, nil)

	require.Equal(t, []string{
		"a:process-started:<nil>",
		"b:process-started:<nil>",
		"a:log-output:line",
		"b:log-output:line",
		"a:process-stopped:<nil>",
	}, got)
}

func TestEmitterFunc(t *testing.T) {
	var got EventType
	var emitter Emitter = EmitterFunc(func(event EventType, _ any) { got = event })
	emitter.Emit(EventProcessStopped, nil)
	require.Equal(t, EventProcessStopped, got)
}

func TestProcessRecordClone(t *testing.T) {
	now := time.Now()
	code := 2
	rec := ProcessRecord{Args: []string{"-f", "x"}, ExitedAt: &now, ExitCode: &code}
	clone := rec.Clone()
	clone.Args[0] = "-l"
	*clone.ExitCode = 3
	require.Equal(t, "-f", rec.Args[0])
	require.Equal(t, 2, *rec.ExitCode)
}
