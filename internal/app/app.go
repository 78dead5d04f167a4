// Package app binds the profile store, the worker supervisor and the system
// proxy controller into the command surface used by the UI.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Taylor-Ding/ech/internal/logging"
	"github.com/Taylor-Ding/ech/internal/profile"
	"github.com/Taylor-Ding/ech/internal/state"
	"github.com/Taylor-Ding/ech/internal/sysproxy"
)

// Version is set at build time with -ldflags "-X".
var Version = "0.1.0"

// FallbackListen is the proxy target when no profile is selected.
const FallbackListen = profile.DefaultListenAddr

const proxyTimeout = 10 * time.Second

// Supervisor runs the worker process.
type Supervisor interface {
	Start(srv profile.Server) error
	Stop() bool
	Close()
	IsRunning() bool
}

// Options wire an Application.
type Options struct {
	Store      *profile.Store
	Supervisor Supervisor
	Proxy      sysproxy.Controller
	Emitter    state.Emitter
	Logger     *logging.Logger
}

// Application is the command facade. Every method runs to completion on the
// calling goroutine.
type Application struct {
	store   *profile.Store
	sup     Supervisor
	proxy   sysproxy.Controller
	emitter state.Emitter
	logger  *logging.Logger

	runCtx    context.Context
	runCancel context.CancelFunc

	mu          sync.Mutex
	quitHook    func()
	cleanupOnce sync.Once
}

// New validates opts and creates an Application.
func New(opts Options) (*Application, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("profile store is nil")
	}
	if opts.Supervisor == nil {
		return nil, fmt.Errorf("supervisor is nil")
	}
	if opts.Proxy == nil {
		return nil, fmt.Errorf("proxy controller is nil")
	}
	emitter := opts.Emitter
	if emitter == nil {
		emitter = state.EmitterFunc(func(state.EventType, any) {})
	}
	runCtx, runCancel := context.WithCancel(context.Background())
	return &Application{
		store:     opts.Store,
		sup:       opts.Supervisor,
		proxy:     opts.Proxy,
		emitter:   emitter,
		logger:    opts.Logger,
		runCtx:    runCtx,
		runCancel: runCancel,
	}, nil
}

// SetQuitHook registers the function that ends the UI loop after Quit.
func (a *Application) SetQuitHook(hook func()) {
	a.mu.Lock()
	a.quitHook = hook
	a.mu.Unlock()
}

// GetServers returns every profile in catalog order.
func (a *Application) GetServers() []profile.Server {
	return a.store.List()
}

// GetCurrentServer returns the selected profile or nil.
func (a *Application) GetCurrentServer() *profile.Server {
	srv, ok := a.store.Current()
	if !ok {
		return nil
	}
	return &srv
}

// GetCurrentServerID returns the selected id, "" when none.
func (a *Application) GetCurrentServerID() string {
	return a.store.CurrentID()
}

// SetCurrentServer selects id and persists. Unknown ids leave the selection
// unchanged but the catalog is still written.
func (a *Application) SetCurrentServer(id string) error {
	a.store.Select(id)
	return a.store.Persist()
}

// AddServer appends a default profile named name and selects it.
func (a *Application) AddServer(name string) (profile.Server, error) {
	srv := a.store.AddNamed(name)
	if err := a.store.Persist(); err != nil {
		return profile.Server{}, err
	}
	a.logger.Infof("server %s added", srv.ID)
	return srv, nil
}

// UpdateServer replaces the profile with the same id.
func (a *Application) UpdateServer(srv profile.Server) error {
	if err := a.store.Update(srv); err != nil {
		return err
	}
	return a.store.Persist()
}

// DeleteServer removes a profile. The last profile cannot be deleted.
func (a *Application) DeleteServer(id string) error {
	if a.store.Len() <= 1 {
		return state.Errorf(state.ErrorKindInvalidState, "at least one server must remain")
	}
	if err := a.store.Delete(id); err != nil {
		return err
	}
	a.logger.Infof("server %s deleted", id)
	return a.store.Persist()
}

// RenameServer changes the name of a profile.
func (a *Application) RenameServer(id, newName string) error {
	if err := a.store.Rename(id, newName); err != nil {
		return err
	}
	return a.store.Persist()
}

// StartProcess launches the worker for the selected profile.
func (a *Application) StartProcess() (string, error) {
	srv, ok := a.store.Current()
	if !ok {
		return "", state.Errorf(state.ErrorKindNotFound, "no server selected")
	}
	if srv.Server == "" {
		return "", state.Errorf(state.ErrorKindInvalidState, "server address is required")
	}
	if srv.Listen == "" {
		return "", state.Errorf(state.ErrorKindInvalidState, "listen address is required")
	}
	if err := a.sup.Start(srv); err != nil {
		a.logger.Errorf("start worker for %s: %v", srv.ID, err)
		return "", err
	}
	return fmt.Sprintf("server started: %s", srv.Name), nil
}

// StopProcess stops the worker. process-stopped is emitted only when a
// worker was actually running.
func (a *Application) StopProcess() string {
	if a.sup.Stop() {
		a.emitter.Emit(state.EventProcessStopped, nil)
	}
	return "process stopped"
}

// IsProcessRunning reports the supervisor's running flag.
func (a *Application) IsProcessRunning() bool {
	return a.sup.IsRunning()
}

// SetSystemProxy points the system proxy at the selected profile's listen
// address, or turns it off.
func (a *Application) SetSystemProxy(enabled bool) (string, error) {
	ctx, cancel := a.requestContext(proxyTimeout)
	defer cancel()
	if !enabled {
		return a.proxy.Disable(ctx)
	}
	listen := FallbackListen
	if srv, ok := a.store.Current(); ok {
		listen = srv.Listen
	}
	return a.proxy.Enable(ctx, listen)
}

// GetProxyStatus reads the system proxy state back from the OS.
func (a *Application) GetProxyStatus() bool {
	ctx, cancel := a.requestContext(proxyTimeout)
	defer cancel()
	return a.proxy.Status(ctx)
}

// GetAppVersion returns Version.
func (a *Application) GetAppVersion() string {
	return Version
}

// HandleWorkerExit is the supervisor callback for a worker that exited on
// its own.
func (a *Application) HandleWorkerExit(payload state.ExitPayload) {
	if payload.Requested {
		return
	}
	a.logger.Infof("worker %d exited unexpectedly: %s", payload.PID, payload.Reason)
	a.emitter.Emit(state.EventProcessStopped, nil)
}

// Quit stops the worker, disables the system proxy and ends the UI loop.
func (a *Application) Quit() {
	a.cleanup()
	a.mu.Lock()
	hook := a.quitHook
	a.mu.Unlock()
	if hook != nil {
		hook()
	}
}

// Shutdown runs the Quit cleanup without touching the UI. It is safe to call
// after Quit.
func (a *Application) Shutdown() {
	a.cleanup()
	a.sup.Close()
	a.runCancel()
}

func (a *Application) cleanup() {
	a.cleanupOnce.Do(func() {
		a.logger.Infof("shutting down")
		a.StopProcess()
		if _, err := a.SetSystemProxy(false); err != nil {
			a.logger.Errorf("disable system proxy: %v", err)
		}
	})
}

func (a *Application) requestContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(a.runCtx, timeout)
}
