package process

import (
	"bufio"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Taylor-Ding/ech/internal/logging"
	"github.com/Taylor-Ding/ech/internal/profile"
	"github.com/Taylor-Ding/ech/internal/state"
)

const (
	// DefaultGracePeriod is how long Stop waits after the terminate request
	// before killing the worker.
	DefaultGracePeriod = 500 * time.Millisecond
	// pipeDrainDelay bounds how long Wait keeps copying output after the
	// worker exits, in case a grandchild still holds its pipes.
	pipeDrainDelay = time.Second
)

// Options configure a Supervisor.
type Options struct {
	Finder  Finder
	Emitter state.Emitter
	Logger  *logging.Logger
	// Encoding is the WHATWG label of the worker's output encoding.
	Encoding    string
	GracePeriod time.Duration
	// OnExit is called from the waiter goroutine when the worker exits
	// without a Stop request.
	OnExit func(state.ExitPayload)
}

// run is one spawned worker. A fresh run per Start keeps a stale pump from
// observing the flag of a later run.
type run struct {
	cmd    *exec.Cmd
	record state.ProcessRecord
	active atomic.Bool
	exited chan struct{}
	err    error
}

// Supervisor owns at most one worker process.
type Supervisor struct {
	finder  Finder
	emitter state.Emitter
	logger  *logging.Logger
	decode  func(string) string
	grace   time.Duration
	onExit  func(state.ExitPayload)

	running atomic.Bool

	mu      sync.Mutex
	current *run
	last    state.ProcessRecord
}

// NewSupervisor creates an idle Supervisor.
func NewSupervisor(opts Options) *Supervisor {
	decode, err := newLineDecoder(opts.Encoding)
	if err != nil {
		opts.Logger.Errorf("%v, worker output is passed through as is", err)
	}
	grace := opts.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	finder := opts.Finder
	if finder == nil {
		finder = NewResolver("")
	}
	emitter := opts.Emitter
	if emitter == nil {
		emitter = state.EmitterFunc(func(state.EventType, any) {})
	}
	return &Supervisor{
		finder:  finder,
		emitter: emitter,
		logger:  opts.Logger,
		decode:  decode,
		grace:   grace,
		onExit:  opts.OnExit,
	}
}

// IsRunning reports the running flag without waiting for transitions.
func (s *Supervisor) IsRunning() bool {
	return s.running.Load()
}

// Record returns the record of the current or most recent run.
func (s *Supervisor) Record() (state.ProcessRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		return s.current.record.Clone(), true
	}
	if s.last.PID == 0 {
		return state.ProcessRecord{}, false
	}
	return s.last.Clone(), true
}

// Start spawns the worker for srv. process-started is emitted before the
// first log-output line.
func (s *Supervisor) Start(srv profile.Server) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil || s.running.Load() {
		return state.Errorf(state.ErrorKindInvalidState, "process already running")
	}
	binary, err := s.finder.Find()
	if err != nil {
		return err
	}
	args := BuildArgs(srv)
	cmd := exec.Command(binary, args...)
	cmd.Dir = filepath.Dir(binary)
	cmd.WaitDelay = pipeDrainDelay
	applyProcessAttributes(cmd)

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	s.logger.Debugf("launch worker: %s", formatCommand(binary, args))
	if err := cmd.Start(); err != nil {
		stdoutW.Close()
		stderrW.Close()
		return state.NewError(state.ErrorKindSpawnFailed, "start "+WorkerName, err)
	}

	r := &run{
		cmd: cmd,
		record: state.ProcessRecord{
			Command:   binary,
			Args:      append([]string(nil), args...),
			PID:       cmd.Process.Pid,
			StartedAt: time.Now(),
			Status:    state.ProcessRunning,
		},
		exited: make(chan struct{}),
	}
	r.active.Store(true)
	s.current = r
	s.running.Store(true)
	s.logger.Infof("worker started, pid %d", r.record.PID)

	go s.wait(r, stdoutW, stderrW)
	s.emitter.Emit(state.EventProcessStarted, nil)
	go s.pump(r, stdoutR)
	go s.drainStderr(stderrR)
	return nil
}

// Stop terminates the worker and reports whether one was running. It asks the
// worker to exit, waits up to the grace period, then kills it and reaps it.
func (s *Supervisor) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running.Store(false)
	r := s.current
	s.current = nil
	if r == nil {
		return false
	}
	r.active.Store(false)
	select {
	case <-r.exited:
		// Already reaped; the pid may belong to someone else by now.
	default:
		if err := terminate(r.cmd); err != nil && !errors.Is(err, os.ErrProcessDone) {
			s.logger.Debugf("terminate worker %d: %v", r.record.PID, err)
		}
	}
	select {
	case <-r.exited:
	case <-time.After(s.grace):
		s.logger.Infof("worker %d still alive after %s, killing", r.record.PID, s.grace)
		if err := r.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			s.logger.Errorf("kill worker %d: %v", r.record.PID, err)
		}
		<-r.exited
	}
	s.last = finishRecord(r, state.ProcessStopped)
	return true
}

// Close kills the worker without a grace period and does not wait for it.
func (s *Supervisor) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running.Store(false)
	r := s.current
	s.current = nil
	if r == nil {
		return
	}
	r.active.Store(false)
	if err := r.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.logger.Errorf("kill worker %d: %v", r.record.PID, err)
	}
	s.last = r.record.Clone()
	s.last.Status = state.ProcessStopped
}

// wait owns cmd.Wait for r. The pipes are closed once the worker has been
// reaped so the readers see EOF.
func (s *Supervisor) wait(r *run, stdout, stderr *io.PipeWriter) {
	err := r.cmd.Wait()
	stdout.Close()
	stderr.Close()
	r.err = err
	close(r.exited)

	s.mu.Lock()
	unsolicited := s.current == r
	if unsolicited {
		s.current = nil
		s.running.Store(false)
		r.active.Store(false)
		status := state.ProcessExited
		if err != nil {
			status = state.ProcessFailed
		}
		s.last = finishRecord(r, status)
	}
	s.mu.Unlock()

	payload := exitPayload(r.record.PID, err, !unsolicited)
	if !unsolicited {
		s.logger.Debugf("worker %d reaped: %s", payload.PID, payload.Reason)
		return
	}
	if err != nil {
		s.logger.Errorf("worker %d exited: %s", payload.PID, payload.Reason)
	} else {
		s.logger.Infof("worker %d exited", payload.PID)
	}
	if s.onExit != nil {
		s.onExit(payload)
	}
}

// pump forwards each non-empty stdout line as log-output while the run is
// active, then discards the rest so the worker never blocks on a full pipe.
func (s *Supervisor) pump(r *run, stdout io.Reader) {
	reader := bufio.NewReader(stdout)
	for {
		line, err := reader.ReadString('\n')
		if !r.active.Load() {
			break
		}
		line = strings.TrimRight(line, "\r\n")
		if line != "" {
			s.emitter.Emit(state.EventLogOutput, s.decode(line))
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Debugf("read worker output: %v", err)
			}
			return
		}
	}
	_, _ = io.Copy(io.Discard, reader)
}

func (s *Supervisor) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 4096), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			s.logger.Infof("worker stderr: %s", s.decode(line))
		}
	}
	_, _ = io.Copy(io.Discard, stderr)
}

func finishRecord(r *run, status state.ProcessStatus) state.ProcessRecord {
	record := r.record.Clone()
	now := time.Now()
	record.ExitedAt = &now
	record.Status = status
	payload := exitPayload(record.PID, r.err, status == state.ProcessStopped)
	record.ExitCode = &payload.ExitCode
	record.ExitReason = payload.Reason
	return record
}

func exitPayload(pid int, err error, requested bool) state.ExitPayload {
	payload := state.ExitPayload{PID: pid, Reason: "process exited normally", Requested: requested}
	if err == nil {
		return payload
	}
	payload.Reason = err.Error()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		payload.ExitCode = exitErr.ExitCode()
	} else {
		payload.ExitCode = -1
	}
	return payload
}
