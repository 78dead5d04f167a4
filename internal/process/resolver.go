package process

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/Taylor-Ding/ech/internal/config"
	"github.com/Taylor-Ding/ech/internal/state"
)

// WorkerName is the base name of the worker executable.
const WorkerName = "ech-workers"

// Finder locates the worker executable.
type Finder interface {
	Find() (string, error)
}

// FinderFunc adapts a function to Finder.
type FinderFunc func() (string, error)

// Find calls f.
func (f FinderFunc) Find() (string, error) {
	return f()
}

// Resolver probes the fixed search order for the worker executable.
type Resolver struct {
	// Override, when set, is the only location considered.
	Override string
	ExeDir   string
	WorkDir  string
	GOOS     string
	LookPath func(file string) (string, error)
}

// NewResolver builds a Resolver for the running process.
func NewResolver(override string) *Resolver {
	exeDir, _ := config.DetectAppDir()
	workDir, _ := os.Getwd()
	return &Resolver{
		Override: override,
		ExeDir:   exeDir,
		WorkDir:  workDir,
		GOOS:     runtime.GOOS,
		LookPath: exec.LookPath,
	}
}

// BinaryName returns the executable file name on goos.
func BinaryName(goos string) string {
	if goos == "windows" {
		return WorkerName + ".exe"
	}
	return WorkerName
}

// Candidates lists the probed paths in order, excluding the PATH lookup.
func (r *Resolver) Candidates() []string {
	name := BinaryName(r.GOOS)
	var paths []string
	if r.ExeDir != "" {
		paths = append(paths, filepath.Join(r.ExeDir, name))
		if r.GOOS == "darwin" {
			paths = append(paths, filepath.Join(r.ExeDir, "..", "Resources", name))
		}
		paths = append(paths,
			filepath.Join(r.ExeDir, "..", "..", "..", name),
			filepath.Join(r.ExeDir, "..", "..", "..", "..", name),
		)
	}
	paths = append(paths,
		filepath.Join(r.WorkDir, name),
		filepath.Join(r.WorkDir, "..", name),
	)
	return paths
}

// Find returns the absolute path of the first usable candidate.
func (r *Resolver) Find() (string, error) {
	if r.Override != "" {
		path, ok := r.usable(r.Override)
		if !ok {
			return "", state.Errorf(state.ErrorKindNotFound, "worker_path %s is not an executable file", r.Override)
		}
		return path, nil
	}
	for _, candidate := range r.Candidates() {
		if path, ok := r.usable(candidate); ok {
			return path, nil
		}
	}
	if r.LookPath != nil {
		if found, err := r.LookPath(BinaryName(r.GOOS)); err == nil {
			if path, ok := r.usable(found); ok {
				return path, nil
			}
		}
	}
	return "", state.Errorf(state.ErrorKindNotFound, "%s executable not found", WorkerName)
}

// usable canonicalizes path and checks that it is an existing file that,
// outside Windows, has at least one execute bit.
func (r *Resolver) usable(path string) (string, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", false
	}
	info, err := os.Stat(canonical)
	if err != nil || info.IsDir() {
		return "", false
	}
	if r.GOOS != "windows" && info.Mode().Perm()&0o111 == 0 {
		return "", false
	}
	return canonical, true
}

func (r *Resolver) String() string {
	return fmt.Sprintf("resolver(os=%s exe=%s cwd=%s)", r.GOOS, r.ExeDir, r.WorkDir)
}
