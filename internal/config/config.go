package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// AppDirName is the per-user directory holding the catalog, settings and logs.
const AppDirName = "ECHWorkersClient"

const (
	catalogFileName  = "config.json"
	settingsFileName = "settings.yaml"
)

// ErrConfigFailed marks any problem reading or parsing settings.yaml.
var ErrConfigFailed = errors.New("config: failed to load")

// Settings holds optional application settings. Every field may be omitted.
type Settings struct {
	LogLevel       string `yaml:"log_level"`
	LogFile        string `yaml:"log_file"`
	WorkerPath     string `yaml:"worker_path"`
	WorkerEncoding string `yaml:"worker_encoding"`

	Dir string `yaml:"-"`
}

// Error adds the file path to a settings failure.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ErrConfigFailed.Error()
	}
	return fmt.Sprintf("%v: %s: %v", ErrConfigFailed, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is makes errors.Is(err, ErrConfigFailed) hold for every *Error.
func (e *Error) Is(target error) bool {
	return target == ErrConfigFailed
}

// Dir returns the platform config directory of the client.
func Dir() string {
	home, _ := os.UserHomeDir()
	userConfig, _ := os.UserConfigDir()
	return DirFor(runtime.GOOS, home, userConfig)
}

// DirFor resolves the config directory for goos given the user's home and
// platform config directories. Empty inputs fall back to ".".
func DirFor(goos, home, userConfig string) string {
	base := userConfig
	if goos == "darwin" {
		base = ""
		if home != "" {
			base = filepath.Join(home, "Library", "Application Support")
		}
	}
	if base == "" {
		base = "."
	}
	return filepath.Join(base, AppDirName)
}

// EnsureDir creates dir and its parents.
func EnsureDir(dir string) error {
	if dir == "" {
		return errors.New("config directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory %s: %w", dir, err)
	}
	return nil
}

// CatalogPath returns the profile catalog document inside dir.
func CatalogPath(dir string) string {
	return filepath.Join(dir, catalogFileName)
}

// SettingsPath returns the settings file inside dir.
func SettingsPath(dir string) string {
	return filepath.Join(dir, settingsFileName)
}

// DetectAppDir returns the directory of the running executable.
func DetectAppDir() (string, error) {
	exePath, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("detect executable: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(exePath)
	if err == nil {
		exePath = resolved
	}
	return filepath.Dir(exePath), nil
}

// LoadSettings reads settings from path. A missing file yields defaults;
// relative paths are resolved against dir.
func LoadSettings(path string, dir string) (*Settings, error) {
	if dir == "" {
		return nil, &Error{Path: path, Err: errors.New("config directory is empty")}
	}
	cfg := &Settings{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, &Error{Path: path, Err: err}
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, &Error{Path: path, Err: err}
		}
	}
	cfg.Dir = filepath.Clean(dir)
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	return cfg, nil
}

func (c *Settings) applyDefaults() {
	c.LogLevel = normalizeLogLevel(c.LogLevel)
	if strings.TrimSpace(c.LogFile) == "" {
		c.LogFile = filepath.Join(c.Dir, "logs", "client.log")
	}
	c.LogFile = makeAbsolute(c.LogFile, c.Dir)
	c.WorkerPath = makeAbsolute(strings.TrimSpace(c.WorkerPath), c.Dir)
	c.WorkerEncoding = strings.ToLower(strings.TrimSpace(c.WorkerEncoding))
	if c.WorkerEncoding == "" {
		c.WorkerEncoding = "utf-8"
	}
}

func (c *Settings) validate() error {
	if _, ok := allowedLevels[c.LogLevel]; !ok {
		return fmt.Errorf("unsupported log_level %q", c.LogLevel)
	}
	return nil
}

func makeAbsolute(path string, base string) string {
	if path == "" {
		return ""
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	if base == "" {
		return filepath.Clean(path)
	}
	return filepath.Join(base, path)
}

func normalizeLogLevel(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return "info"
	}
	return value
}

var allowedLevels = map[string]struct{}{
	"debug":   {},
	"info":    {},
	"warn":    {},
	"warning": {},
	"error":   {},
}
