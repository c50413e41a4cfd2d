package proc

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Env is the environment tools are started with. The zero value
// inherits the parent process environment and working directory.
type Env struct {
	Dir  string
	Vars []string
}

// DetectVenv returns an Env whose PATH starts with the bin directory of
// the first candidate virtual environment that contains a python
// executable. Detection order: override → <root>/.venv → $IDF_PYTHON_ENV_PATH
// → no modification.
func DetectVenv(root, override string) Env {
	env := Env{Dir: root}

	var candidates []string
	if override != "" {
		candidates = append(candidates, override)
	}
	if root != "" {
		candidates = append(candidates, filepath.Join(root, ".venv"))
	}
	if idf := os.Getenv("IDF_PYTHON_ENV_PATH"); idf != "" {
		candidates = append(candidates, idf)
	}

	for _, venv := range candidates {
		binDir := venvBinDir(venv)
		if _, err := os.Stat(filepath.Join(binDir, pythonExeName())); err == nil {
			env.Vars = buildEnvWithPath(binDir)
			return env
		}
	}
	return env
}

// venvBinDir returns the bin (or Scripts on Windows) directory for a venv.
func venvBinDir(venvPath string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(venvPath, "Scripts")
	}
	return filepath.Join(venvPath, "bin")
}

func pythonExeName() string {
	if runtime.GOOS == "windows" {
		return "python.exe"
	}
	return "python"
}

// buildEnvWithPath creates a copy of the current environment with binDir
// prepended to PATH.
func buildEnvWithPath(binDir string) []string {
	env := os.Environ()
	result := make([]string, 0, len(env))
	pathSet := false

	for _, e := range env {
		if strings.HasPrefix(e, "PATH=") {
			result = append(result, "PATH="+binDir+string(os.PathListSeparator)+e[5:])
			pathSet = true
		} else {
			result = append(result, e)
		}
	}

	if !pathSet {
		result = append(result, "PATH="+binDir)
	}

	return result
}

// With returns a copy of e with extra variables appended.
func (e Env) With(vars ...string) Env {
	base := e.Vars
	if base == nil {
		base = os.Environ()
	}
	out := Env{Dir: e.Dir, Vars: make([]string, 0, len(base)+len(vars))}
	out.Vars = append(out.Vars, base...)
	out.Vars = append(out.Vars, vars...)
	return out
}
