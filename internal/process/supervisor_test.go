//go:build !windows

package process

import (
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Taylor-Ding/ech/internal/profile"
	"github.com/Taylor-Ding/ech/internal/state"
)

type recorder struct {
	mu     sync.Mutex
	events []state.EventType
	lines  []string
}

func (r *recorder) Emit(event state.EventType, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	if line, ok := payload.(string); ok {
		r.lines = append(r.lines, line)
	}
}

func (r *recorder) snapshot() ([]state.EventType, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]state.EventType(nil), r.events...), append([]string(nil), r.lines...)
}

func (r *recorder) hasLine(want string) bool {
	_, lines := r.snapshot()
	for _, line := range lines {
		if line == want {
			return true
		}
	}
	return false
}

func writeWorker(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ech-workers")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func newTestSupervisor(t *testing.T, binary string, rec *recorder, onExit func(state.ExitPayload)) *Supervisor {
	t.Helper()
	sup := NewSupervisor(Options{
		Finder:      FinderFunc(func() (string, error) { return binary, nil }),
		Emitter:     rec,
		GracePeriod: 200 * time.Millisecond,
		OnExit:      onExit,
	})
	t.Cleanup(sup.Close)
	return sup
}

func testServer() profile.Server {
	srv := profile.DefaultServer()
	srv.Server = "relay:443"
	srv.Token = "t"
	return srv
}

const (
	chattyWorker = `echo "first line"
echo ""
echo "args: $*"
echo "oops" 1>&2
trap 'exit 0' TERM
while true; do sleep 0.05; done
`
	stubbornWorker = `trap '' TERM
echo ready
while true; do sleep 0.05; done
`
)

func TestSupervisorStartStreamsOutputAfterStarted(t *testing.T) {
	rec := &recorder{}
	sup := newTestSupervisor(t, writeWorker(t, chattyWorker), rec, nil)

	require.NoError(t, sup.Start(testServer()))
	require.True(t, sup.IsRunning())

	wantArgs := "args: -f relay:443 -l 127.0.0.1:30000 -token t -ip saas.sin.fan -routing bypass_cn"
	require.Eventually(t, func() bool { return rec.hasLine(wantArgs) }, 5*time.Second, 10*time.Millisecond)

	events, lines := rec.snapshot()
	require.Equal(t, state.EventProcessStarted, events[0])
	require.Equal(t, []string{"first line", wantArgs}, lines, "empty lines and stderr are not forwarded")

	record, ok := sup.Record()
	require.True(t, ok)
	require.Equal(t, state.ProcessRunning, record.Status)
	require.NotZero(t, record.PID)

	require.True(t, sup.Stop())
	require.False(t, sup.IsRunning())

	record, ok = sup.Record()
	require.True(t, ok)
	require.Equal(t, state.ProcessStopped, record.Status)
	require.NotNil(t, record.ExitedAt)
}

func TestSupervisorRejectsSecondStart(t *testing.T) {
	rec := &recorder{}
	sup := newTestSupervisor(t, writeWorker(t, chattyWorker), rec, nil)

	require.NoError(t, sup.Start(testServer()))
	err := sup.Start(testServer())
	require.Error(t, err)
	require.Equal(t, state.ErrorKindInvalidState, state.KindOf(err))
	require.Equal(t, "process already running", err.Error())
	require.True(t, sup.IsRunning())

	events, _ := rec.snapshot()
	started := 0
	for _, ev := range events {
		if ev == state.EventProcessStarted {
			started++
		}
	}
	require.Equal(t, 1, started)
}

func TestSupervisorStopIsIdempotent(t *testing.T) {
	rec := &recorder{}
	sup := newTestSupervisor(t, writeWorker(t, chattyWorker), rec, nil)

	require.False(t, sup.Stop(), "nothing to stop while idle")

	require.NoError(t, sup.Start(testServer()))
	require.True(t, sup.Stop())
	require.False(t, sup.Stop())
	require.False(t, sup.IsRunning())
}

func TestSupervisorKillsAfterGracePeriod(t *testing.T) {
	rec := &recorder{}
	sup := newTestSupervisor(t, writeWorker(t, stubbornWorker), rec, nil)

	require.NoError(t, sup.Start(testServer()))
	require.Eventually(t, func() bool { return rec.hasLine("ready") }, 5*time.Second, 10*time.Millisecond)

	began := time.Now()
	require.True(t, sup.Stop())
	require.GreaterOrEqual(t, time.Since(began), 200*time.Millisecond)
	require.False(t, sup.IsRunning())

	// A fresh run starts cleanly after a forced kill.
	require.NoError(t, sup.Start(testServer()))
	require.True(t, sup.Stop())
}

func TestSupervisorNoOutputAfterStop(t *testing.T) {
	rec := &recorder{}
	sup := newTestSupervisor(t, writeWorker(t, `trap 'echo late; exit 0' TERM
echo ready
while true; do sleep 0.05; done
`), rec, nil)

	require.NoError(t, sup.Start(testServer()))
	require.Eventually(t, func() bool { return rec.hasLine("ready") }, 5*time.Second, 10*time.Millisecond)
	require.True(t, sup.Stop())

	time.Sleep(100 * time.Millisecond)
	require.False(t, rec.hasLine("late"))
}

func TestSupervisorUnsolicitedExit(t *testing.T) {
	rec := &recorder{}
	exits := make(chan state.ExitPayload, 1)
	sup := newTestSupervisor(t, writeWorker(t, "echo bye\nexit 3\n"), rec, func(p state.ExitPayload) {
		exits <- p
	})

	require.NoError(t, sup.Start(testServer()))

	select {
	case payload := <-exits:
		require.Equal(t, 3, payload.ExitCode)
		require.False(t, payload.Requested)
	case <-time.After(5 * time.Second):
		t.Fatal("exit callback not called")
	}
	require.False(t, sup.IsRunning())
	require.False(t, sup.Stop())

	record, ok := sup.Record()
	require.True(t, ok)
	require.Equal(t, state.ProcessFailed, record.Status)
	require.Equal(t, 3, *record.ExitCode)

	require.NoError(t, sup.Start(testServer()), "a new run may start after the worker died")
}

func TestSupervisorSpawnFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ech-workers")
	require.NoError(t, os.WriteFile(path, []byte{0x00, 0x01, 0x02, 0x03}, 0o755))

	rec := &recorder{}
	sup := newTestSupervisor(t, path, rec, nil)

	err := sup.Start(testServer())
	require.Error(t, err)
	require.Equal(t, state.ErrorKindSpawnFailed, state.KindOf(err))
	require.False(t, sup.IsRunning())

	events, _ := rec.snapshot()
	require.Empty(t, events)
}

func TestSupervisorFinderError(t *testing.T) {
	rec := &recorder{}
	sup := NewSupervisor(Options{
		Finder: FinderFunc(func() (string, error) {
			return "", state.Errorf(state.ErrorKindNotFound, "ech-workers executable not found")
		}),
		Emitter: rec,
	})

	err := sup.Start(testServer())
	require.Equal(t, state.ErrorKindNotFound, state.KindOf(err))
	require.False(t, sup.IsRunning())
	_, ok := sup.Record()
	require.False(t, ok)
}

func TestSupervisorCloseKillsWorker(t *testing.T) {
	rec := &recorder{}
	sup := newTestSupervisor(t, writeWorker(t, stubbornWorker), rec, nil)

	require.NoError(t, sup.Start(testServer()))
	record, _ := sup.Record()
	sup.Close()
	require.False(t, sup.IsRunning())

	require.Eventually(t, func() bool {
		proc, err := os.FindProcess(record.PID)
		if err != nil {
			return true
		}
		return proc.Signal(syscall.Signal(0)) != nil
	}, 5*time.Second, 20*time.Millisecond)
}
