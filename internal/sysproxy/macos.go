package sysproxy

import (
	"bufio"
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/Taylor-Ding/ech/internal/logging"
	"github.com/Taylor-Ding/ech/internal/state"
)

const (
	networksetup = "networksetup"
	// statusService is the service queried for Status.
	statusService = "Wi-Fi"
)

// Runner executes a command and returns its standard output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run executes name with args.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// MacOS drives the SOCKS firewall proxy of every enabled network service
// through networksetup.
type MacOS struct {
	runner Runner
	logger *logging.Logger
}

// NewMacOS creates a MacOS controller.
func NewMacOS(runner Runner, logger *logging.Logger) *MacOS {
	return &MacOS{runner: runner, logger: logger}
}

func (m *MacOS) Platform() Platform { return PlatformMacOS }

// Enable configures host, port, bypass list and state on each service.
// Failures on individual services are logged and skipped.
func (m *MacOS) Enable(ctx context.Context, listenAddr string) (string, error) {
	host, port := ParseListenAddr(listenAddr)
	services, err := m.services(ctx)
	if err != nil {
		return "", err
	}
	for _, svc := range services {
		m.run(ctx, "-setsocksfirewallproxy", svc, host, port)
		m.run(ctx, append([]string{"-setsocksfirewallproxybypassdomains", svc}, BypassDomains...)...)
		m.run(ctx, "-setsocksfirewallproxystate", svc, "on")
	}
	m.logger.Infof("socks proxy %s:%s enabled on %d services", host, port, len(services))
	return enabledMessage(host, port), nil
}

// Disable turns the SOCKS proxy off on each service.
func (m *MacOS) Disable(ctx context.Context) (string, error) {
	services, err := m.services(ctx)
	if err != nil {
		return "", err
	}
	for _, svc := range services {
		m.run(ctx, "-setsocksfirewallproxystate", svc, "off")
	}
	m.logger.Infof("socks proxy disabled on %d services", len(services))
	return disabledMessage, nil
}

// Status reads the Wi-Fi service only.
func (m *MacOS) Status(ctx context.Context) bool {
	out, err := m.runner.Run(ctx, networksetup, "-getsocksfirewallproxy", statusService)
	if err != nil {
		m.logger.Debugf("networksetup -getsocksfirewallproxy: %v", err)
		return false
	}
	return bytes.Contains(out, []byte("Enabled: Yes"))
}

func (m *MacOS) services(ctx context.Context) ([]string, error) {
	out, err := m.runner.Run(ctx, networksetup, "-listallnetworkservices")
	if err != nil {
		return nil, state.NewError(state.ErrorKindPlatformCommandFailed, "list network services", err)
	}
	return parseServices(out), nil
}

func (m *MacOS) run(ctx context.Context, args ...string) {
	if _, err := m.runner.Run(ctx, networksetup, args...); err != nil {
		m.logger.Warnf("networksetup %s: %v", strings.Join(args, " "), err)
	}
}

// parseServices drops the header line, disabled services (prefixed with
// '*') and blank lines.
func parseServices(out []byte) []string {
	var services []string
	scanner := bufio.NewScanner(bytes.NewReader(out))
	first := true
	for scanner.Scan() {
		if first {
			first = false
			continue
		}
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" || strings.HasPrefix(line, "*") {
			continue
		}
		services = append(services, line)
	}
	return services
}
