package sysproxy

import (
	"context"
	"strings"

	"github.com/Taylor-Ding/ech/internal/logging"
	"github.com/Taylor-Ding/ech/internal/state"
)

// internetSettingsPath is the per-user key read by WinINet.
const internetSettingsPath = `Software\Microsoft\Windows\CurrentVersion\Internet Settings`

const (
	valueProxyServer   = "ProxyServer"
	valueProxyEnable   = "ProxyEnable"
	valueProxyOverride = "ProxyOverride"
)

// InternetSettings is an open handle on the Internet Settings key.
type InternetSettings interface {
	SetString(name, value string) error
	SetDWord(name string, value uint32) error
	DWord(name string) (uint32, error)
	Close() error
}

// OpenFunc opens the Internet Settings key, writable when write is set.
type OpenFunc func(write bool) (InternetSettings, error)

// Windows writes the WinINet proxy values of the current user and
// broadcasts the change.
type Windows struct {
	open   OpenFunc
	notify func() error
	logger *logging.Logger
}

// NewWindows creates a Windows controller.
func NewWindows(open OpenFunc, notify func() error, logger *logging.Logger) *Windows {
	return &Windows{open: open, notify: notify, logger: logger}
}

// OverrideList returns the ProxyOverride value: the bypass list without
// *.local and 169.254.*, terminated by <local>.
func OverrideList() string {
	entries := make([]string, 0, len(BypassDomains))
	for _, d := range BypassDomains {
		if d == "*.local" || d == "169.254.*" {
			continue
		}
		entries = append(entries, d)
	}
	return strings.Join(append(entries, "<local>"), ";")
}

func (w *Windows) Platform() Platform { return PlatformWindows }

// Enable writes ProxyServer, ProxyEnable=1 and ProxyOverride.
func (w *Windows) Enable(_ context.Context, listenAddr string) (string, error) {
	host, port := ParseListenAddr(listenAddr)
	key, err := w.openKey(true)
	if err != nil {
		return "", err
	}
	defer key.Close()

	server := host + ":" + port
	if err := key.SetString(valueProxyServer, server); err != nil {
		return "", registryFailed("set "+valueProxyServer, err)
	}
	if err := key.SetDWord(valueProxyEnable, 1); err != nil {
		return "", registryFailed("set "+valueProxyEnable, err)
	}
	if err := key.SetString(valueProxyOverride, OverrideList()); err != nil {
		return "", registryFailed("set "+valueProxyOverride, err)
	}
	w.refresh()
	w.logger.Infof("system proxy set to %s", server)
	return enabledMessage(host, port), nil
}

// Disable writes ProxyEnable=0 and leaves the other values in place.
func (w *Windows) Disable(context.Context) (string, error) {
	key, err := w.openKey(true)
	if err != nil {
		return "", err
	}
	defer key.Close()

	if err := key.SetDWord(valueProxyEnable, 0); err != nil {
		return "", registryFailed("set "+valueProxyEnable, err)
	}
	w.refresh()
	w.logger.Infof("system proxy disabled")
	return disabledMessage, nil
}

// Status reports ProxyEnable == 1.
func (w *Windows) Status(context.Context) bool {
	key, err := w.open(false)
	if err != nil {
		w.logger.Debugf("open internet settings: %v", err)
		return false
	}
	defer key.Close()
	enabled, err := key.DWord(valueProxyEnable)
	if err != nil {
		return false
	}
	return enabled == 1
}

func (w *Windows) openKey(write bool) (InternetSettings, error) {
	key, err := w.open(write)
	if err != nil {
		return nil, registryFailed("open internet settings", err)
	}
	return key, nil
}

func (w *Windows) refresh() {
	if w.notify == nil {
		return
	}
	if err := w.notify(); err != nil {
		w.logger.Warnf("refresh proxy settings: %v", err)
	}
}

func registryFailed(op string, err error) error {
	return state.NewError(state.ErrorKindRegistryFailed, op, err)
}
