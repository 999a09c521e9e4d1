package agent

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"
)

// ExecResult holds the result of a command execution.
type ExecResult struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exit_code"`
	TimedOut   bool   `json:"timed_out"`
	DurationMs int64  `json:"duration_ms"`
}

// Output returns combined stdout and stderr.
func (r ExecResult) Output() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// DirEntry represents a filesystem directory entry.
type DirEntry struct {
	Name string `json:"name"`
	Type string `json:"type"` // "file" or "directory"
	Size int64  `json:"size,omitempty"`
}

// SearchOptions configures content search behavior.
type SearchOptions struct {
	FilePattern     string `json:"file_pattern,omitempty"`
	CaseInsensitive bool   `json:"case_insensitive,omitempty"`
	MaxResults      int    `json:"max_results,omitempty"`
}

// ExecutionEnvironment abstracts where tool operations run. Tool
// executors consume this narrow contract and are indifferent to whether
// it is the local filesystem or something containerized behind it.
type ExecutionEnvironment interface {
	ReadFile(path string) (string, error)
	WriteFile(path string, content string) error
	FileExists(path string) bool
	ListDirectory(path string, pattern string) ([]DirEntry, error)
	CreateDirectory(path string) error

	ExecCommand(ctx context.Context, command string, timeoutMs int) (*ExecResult, error)

	Search(ctx context.Context, pattern string, path string, options SearchOptions) ([]string, error)
	Glob(pattern string, path string) ([]string, error)

	WorkingDirectory() string
}

// sensitiveEnvPatterns are case-insensitive suffixes for environment
// variables that are excluded from child processes.
var sensitiveEnvPatterns = []string{
	"_API_KEY",
	"_SECRET",
	"_TOKEN",
	"_PASSWORD",
	"_CREDENTIAL",
}

// safeEnvVars are always included regardless of filtering.
var safeEnvVars = map[string]bool{
	"PATH": true, "HOME": true, "USER": true, "SHELL": true,
	"LANG": true, "TERM": true, "TMPDIR": true,
	"GOPATH": true, "GOROOT": true, "CARGO_HOME": true,
	"NVM_DIR": true, "PYENV_ROOT": true,
	"XDG_CONFIG_HOME": true, "XDG_DATA_HOME": true, "XDG_CACHE_HOME": true,
}

func isSensitiveEnvVar(name string) bool {
	upper := strings.ToUpper(name)
	for _, pattern := range sensitiveEnvPatterns {
		if strings.HasSuffix(upper, pattern) {
			return true
		}
	}
	return false
}

func filterEnvironment() []string {
	var filtered []string
	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := parts[0]
		if safeEnvVars[name] || !isSensitiveEnvVar(name) {
			filtered = append(filtered, env)
		}
	}
	return filtered
}

// LocalEnv runs tools against the local filesystem and shell, scoped to a
// working root. Path arguments come out of LLM text and are untrusted:
// with sandbox on (the default), every path is canonicalized and rejected
// if it resolves outside the root.
type LocalEnv struct {
	workingDir string
	sandbox    bool
}

// LocalEnvOption configures a LocalEnv.
type LocalEnvOption func(*LocalEnv)

// WithoutSandbox disables path containment. Absolute paths and ".."
// traversal are then resolved as-is.
func WithoutSandbox() LocalEnvOption {
	return func(e *LocalEnv) {
		e.sandbox = false
	}
}

// NewLocalEnv creates a local execution environment rooted at workingDir
// (the current directory when empty).
func NewLocalEnv(workingDir string, opts ...LocalEnvOption) *LocalEnv {
	if workingDir == "" {
		workingDir, _ = os.Getwd()
	}
	if abs, err := filepath.Abs(workingDir); err == nil {
		workingDir = abs
	}
	e := &LocalEnv{workingDir: workingDir, sandbox: true}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *LocalEnv) WorkingDirectory() string {
	return e.workingDir
}

// resolvePath joins relative paths onto the working root and, in sandbox
// mode, rejects any result outside it.
func (e *LocalEnv) resolvePath(path string) (string, error) {
	resolved := path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(e.workingDir, resolved)
	}
	resolved = filepath.Clean(resolved)

	if e.sandbox {
		rel, err := filepath.Rel(e.workingDir, resolved)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("path %q escapes the working root %q", path, e.workingDir)
		}
	}
	return resolved, nil
}

func (e *LocalEnv) ReadFile(path string) (string, error) {
	resolved, err := e.resolvePath(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", fmt.Errorf("read_file: %w", err)
	}
	return string(data), nil
}

func (e *LocalEnv) WriteFile(path string, content string) error {
	resolved, err := e.resolvePath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0755); err != nil {
		return fmt.Errorf("write_file: failed to create directory: %w", err)
	}
	return os.WriteFile(resolved, []byte(content), 0644)
}

func (e *LocalEnv) FileExists(path string) bool {
	resolved, err := e.resolvePath(path)
	if err != nil {
		return false
	}
	_, err = os.Stat(resolved)
	return err == nil
}

func (e *LocalEnv) CreateDirectory(path string) error {
	resolved, err := e.resolvePath(path)
	if err != nil {
		return err
	}
	return os.MkdirAll(resolved, 0755)
}

func (e *LocalEnv) ListDirectory(path string, pattern string) ([]DirEntry, error) {
	if path == "" {
		path = "."
	}
	resolved, err := e.resolvePath(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return nil, fmt.Errorf("list_directory: %w", err)
	}

	var result []DirEntry
	for _, entry := range entries {
		if pattern != "" && pattern != "*" {
			matched, err := filepath.Match(pattern, entry.Name())
			if err != nil {
				return nil, fmt.Errorf("list_directory: bad pattern %q: %w", pattern, err)
			}
			if !matched && !entry.IsDir() {
				continue
			}
		}
		de := DirEntry{Name: entry.Name(), Type: "file"}
		if entry.IsDir() {
			de.Type = "directory"
		}
		if info, err := entry.Info(); err == nil && !entry.IsDir() {
			de.Size = info.Size()
		}
		result = append(result, de)
	}
	return result, nil
}

func (e *LocalEnv) ExecCommand(ctx context.Context, command string, timeoutMs int) (*ExecResult, error) {
	if timeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
		defer cancel()
	}

	shell := "/bin/bash"
	shellArg := "-c"
	if runtime.GOOS == "windows" {
		shell = "cmd.exe"
		shellArg = "/c"
	}

	cmd := exec.CommandContext(ctx, shell, shellArg, command)
	cmd.Dir = e.workingDir

	// Process group for clean killability on timeout.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = filterEnvironment()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	result := &ExecResult{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMs: duration.Milliseconds(),
	}

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			result.TimedOut = true
			result.ExitCode = -1
			if cmd.Process != nil {
				_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
			}
		} else if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("exec_command: %w", err)
		}
	}

	return result, nil
}

// Search looks for pattern matches under path, preferring ripgrep and
// falling back to grep. Each returned entry is "file:line: text".
func (e *LocalEnv) Search(ctx context.Context, pattern string, path string, options SearchOptions) ([]string, error) {
	if path == "" {
		path = "."
	}
	resolved, err := e.resolvePath(path)
	if err != nil {
		return nil, err
	}

	var out string
	if rgPath, lookErr := exec.LookPath("rg"); lookErr == nil {
		args := []string{pattern, resolved, "--line-number", "--no-heading"}
		if options.CaseInsensitive {
			args = append(args, "-i")
		}
		if options.FilePattern != "" {
			args = append(args, "--glob", options.FilePattern)
		}
		if options.MaxResults > 0 {
			args = append(args, "--max-count", fmt.Sprintf("%d", options.MaxResults))
		}
		cmd := exec.CommandContext(ctx, rgPath, args...)
		cmd.Dir = e.workingDir
		var stdout bytes.Buffer
		cmd.Stdout = &stdout
		_ = cmd.Run() // rg exits 1 for no matches
		out = stdout.String()
	} else {
		args := []string{"-rn", pattern, resolved}
		if options.CaseInsensitive {
			args = append([]string{"-i"}, args...)
		}
		cmd := exec.CommandContext(ctx, "grep", args...)
		cmd.Dir = e.workingDir
		var stdout bytes.Buffer
		cmd.Stdout = &stdout
		_ = cmd.Run()
		out = stdout.String()
	}

	// Report paths relative to the root.
	prefix := e.workingDir + string(filepath.Separator)

	var matches []string
	for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		if line == "" {
			continue
		}
		matches = append(matches, strings.TrimPrefix(line, prefix))
		if options.MaxResults > 0 && len(matches) >= options.MaxResults {
			break
		}
	}
	return matches, nil
}

func (e *LocalEnv) Glob(pattern string, path string) ([]string, error) {
	if path == "" {
		path = "."
	}
	resolved, err := e.resolvePath(path)
	if err != nil {
		return nil, err
	}

	matches, err := filepath.Glob(filepath.Join(resolved, pattern))
	if err != nil {
		return nil, fmt.Errorf("glob: bad pattern %q: %w", pattern, err)
	}

	result := make([]string, len(matches))
	for i, m := range matches {
		rel, err := filepath.Rel(e.workingDir, m)
		if err != nil {
			result[i] = m
		} else {
			result[i] = rel
		}
	}
	return result, nil
}
