// Package sysproxy toggles the operating system's SOCKS proxy so that
// cooperating applications route through the worker's listen address.
package sysproxy

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/Taylor-Ding/ech/internal/logging"
	"github.com/Taylor-Ding/ech/internal/state"
)

// Platform selects the proxy implementation.
type Platform string

const (
	PlatformMacOS   Platform = "macos"
	PlatformWindows Platform = "windows"
	PlatformOther   Platform = "other"
)

// DefaultHost is used when a listen address carries only a port.
const DefaultHost = "127.0.0.1"

// BypassDomains are exempted from the proxy on every platform.
var BypassDomains = []string{
	"localhost", "127.*", "10.*",
	"172.16.*", "172.17.*", "172.18.*", "172.19.*",
	"172.20.*", "172.21.*", "172.22.*", "172.23.*",
	"172.24.*", "172.25.*", "172.26.*", "172.27.*",
	"172.28.*", "172.29.*", "172.30.*", "172.31.*",
	"192.168.*", "*.local", "169.254.*",
}

// Controller enables, disables and reads back the system proxy.
type Controller interface {
	// Enable points the system proxy at listenAddr and returns a message
	// for the user.
	Enable(ctx context.Context, listenAddr string) (string, error)
	// Disable turns the system proxy off.
	Disable(ctx context.Context) (string, error)
	// Status reports whether the system proxy is on. Failures read as off.
	Status(ctx context.Context) bool
	Platform() Platform
}

// PlatformFor maps a GOOS value to a Platform.
func PlatformFor(goos string) Platform {
	switch goos {
	case "darwin":
		return PlatformMacOS
	case "windows":
		return PlatformWindows
	default:
		return PlatformOther
	}
}

// Detect returns the Platform of the running binary.
func Detect() Platform {
	return PlatformFor(runtime.GOOS)
}

// New returns the Controller for platform.
func New(platform Platform, logger *logging.Logger) Controller {
	switch platform {
	case PlatformMacOS:
		return NewMacOS(ExecRunner{}, logger)
	case PlatformWindows:
		return NewWindows(openInternetSettings, notifySettingsChanged, logger)
	default:
		return Unsupported{GOOS: runtime.GOOS}
	}
}

// ParseListenAddr splits addr at its rightmost colon. Input without a colon
// is taken as a port on DefaultHost.
func ParseListenAddr(addr string) (host, port string) {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return DefaultHost, addr
	}
	return addr[:idx], addr[idx+1:]
}

func enabledMessage(host, port string) string {
	return fmt.Sprintf("system proxy set: %s:%s", host, port)
}

const disabledMessage = "system proxy disabled"

// Unsupported is the Controller for platforms without proxy automation.
type Unsupported struct {
	GOOS string
}

func (u Unsupported) err() error {
	return state.Errorf(state.ErrorKindUnsupported, "automatic system proxy is not supported on %s", u.GOOS)
}

func (u Unsupported) Enable(context.Context, string) (string, error) { return "", u.err() }

func (u Unsupported) Disable(context.Context) (string, error) { return "", u.err() }

func (u Unsupported) Status(context.Context) bool { return false }

func (u Unsupported) Platform() Platform { return PlatformOther }
