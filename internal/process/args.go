package process

import (
	"strings"

	"github.com/Taylor-Ding/ech/internal/profile"
)

// BuildArgs derives the worker command line from a profile. Empty fields are
// omitted, as are dns and ech when they equal the worker's own defaults.
func BuildArgs(srv profile.Server) []string {
	args := make([]string, 0, 14)
	add := func(flag, value string) {
		if value == "" {
			return
		}
		args = append(args, flag, value)
	}
	add("-f", srv.Server)
	add("-l", srv.Listen)
	add("-token", srv.Token)
	add("-ip", srv.IP)
	if srv.DNS != profile.DefaultDNS {
		add("-dns", srv.DNS)
	}
	if srv.ECH != profile.DefaultECH {
		add("-ech", srv.ECH)
	}
	add("-routing", srv.RoutingMode)
	return args
}

// formatCommand renders a command line for the log with the token masked.
func formatCommand(binary string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, quoteArg(binary))
	for i, arg := range args {
		if i > 0 && args[i-1] == "-token" {
			arg = "***"
		}
		parts = append(parts, quoteArg(arg))
	}
	return strings.Join(parts, " ")
}

func quoteArg(arg string) string {
	if arg == "" {
		return "\"\""
	}
	if strings.IndexAny(arg, " \t\"") == -1 {
		return arg
	}
	escaped := strings.ReplaceAll(arg, "\"", "\\\"")
	return "\"" + escaped + "\""
}
