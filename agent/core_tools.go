package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

const defaultCommandTimeoutMs = 30_000

// allowedCommands is the whitelist of program names run_command accepts.
// The model generates commands, so anything outside the list is refused.
var allowedCommands = []string{
	"go", "git", "python", "python3", "pytest", "node", "npm",
	"make", "ls", "cat", "grep", "wc", "black", "ruff", "mypy",
}

func commandAllowed(command string) (string, bool) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "", false
	}
	program := filepath.Base(fields[0])
	for _, allowed := range allowedCommands {
		if program == allowed {
			return program, true
		}
	}
	return program, false
}

// NewDefaultRegistry returns a registry with the full built-in tool set
// bound to env.
func NewDefaultRegistry(env ExecutionEnvironment) *ToolRegistry {
	r := NewToolRegistry(env)
	RegisterCoreTools(r)
	return r
}

// RegisterCoreTools installs the built-in capabilities into r.
func RegisterCoreTools(r *ToolRegistry) {
	registerReadFile(r)
	registerWriteFile(r)
	registerEditFile(r)
	registerListFiles(r)
	registerCreateDirectory(r)
	registerRunCommand(r)
	registerSearchInFiles(r)
	registerAnalyzeCode(r)
	registerGitTools(r)
}

func registerReadFile(r *ToolRegistry) {
	r.mustRegister(ToolDefinition{
		Name:        "read_file",
		Description: "Read the content of a file in the project. Use this when you need to see a specific file's code.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Path of the file to read, relative to the project root (e.g. 'main.go', 'internal/util.go')",
				},
			},
			"required": []string{"path"},
		},
	}, func(ctx context.Context, args map[string]any, env ExecutionEnvironment) (*ToolOutput, error) {
		path := stringArg(args, "path", "")
		content, err := env.ReadFile(path)
		if err != nil {
			return nil, err
		}
		lineCount := strings.Count(content, "\n")
		if content != "" && !strings.HasSuffix(content, "\n") {
			lineCount++
		}
		return &ToolOutput{
			Message: fmt.Sprintf("Read %s (%d lines)", path, lineCount),
			Data: map[string]any{
				"content":    content,
				"size":       len(content),
				"line_count": lineCount,
			},
		}, nil
	})
}

func registerWriteFile(r *ToolRegistry) {
	r.mustRegister(ToolDefinition{
		Name:        "write_file",
		Description: "Create or overwrite a file with the given content.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Path of the file to create or overwrite",
				},
				"content": map[string]any{
					"type":        "string",
					"description": "Complete content of the file",
				},
			},
			"required": []string{"path", "content"},
		},
	}, func(ctx context.Context, args map[string]any, env ExecutionEnvironment) (*ToolOutput, error) {
		path := stringArg(args, "path", "")
		content := stringArg(args, "content", "")
		if err := env.WriteFile(path, content); err != nil {
			return nil, err
		}
		return &ToolOutput{
			Message: fmt.Sprintf("Wrote %d bytes to %s", len(content), path),
			Data:    map[string]any{"path": path, "size": len(content)},
		}, nil
	})
}

func registerEditFile(r *ToolRegistry) {
	r.mustRegister(ToolDefinition{
		Name:        "edit_file",
		Description: "Replace an exact text fragment in an existing file. The fragment must appear exactly once.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Path of the file to edit",
				},
				"old_string": map[string]any{
					"type":        "string",
					"description": "Exact text to replace",
				},
				"new_string": map[string]any{
					"type":        "string",
					"description": "Replacement text",
				},
			},
			"required": []string{"path", "old_string", "new_string"},
		},
	}, func(ctx context.Context, args map[string]any, env ExecutionEnvironment) (*ToolOutput, error) {
		path := stringArg(args, "path", "")
		oldString := stringArg(args, "old_string", "")
		newString := stringArg(args, "new_string", "")

		if oldString == "" {
			return nil, fmt.Errorf("old_string must not be empty")
		}
		content, err := env.ReadFile(path)
		if err != nil {
			return nil, err
		}
		switch n := strings.Count(content, oldString); {
		case n == 0:
			return nil, fmt.Errorf("old_string not found in %s", path)
		case n > 1:
			return nil, fmt.Errorf("old_string appears %d times in %s; provide more context to make it unique", n, path)
		}

		updated := strings.Replace(content, oldString, newString, 1)
		if err := env.WriteFile(path, updated); err != nil {
			return nil, err
		}

		diff, diffErr := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
			A:        difflib.SplitLines(content),
			B:        difflib.SplitLines(updated),
			FromFile: path,
			ToFile:   path,
			Context:  3,
		})
		if diffErr != nil {
			diff = ""
		}
		return &ToolOutput{
			Message: fmt.Sprintf("Edited %s\n%s", path, diff),
			Data:    map[string]any{"path": path, "diff": diff},
		}, nil
	})
}

func registerListFiles(r *ToolRegistry) {
	r.mustRegister(ToolDefinition{
		Name:        "list_files",
		Description: "List files in a project directory, optionally filtered by a glob pattern. Useful for exploring project structure.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"directory": map[string]any{
					"type":        "string",
					"description": "Directory to list (defaults to the project root)",
				},
				"pattern": map[string]any{
					"type":        "string",
					"description": "Glob pattern for file names (e.g. '*.go')",
				},
			},
		},
	}, func(ctx context.Context, args map[string]any, env ExecutionEnvironment) (*ToolOutput, error) {
		directory := stringArg(args, "directory", ".")
		pattern := stringArg(args, "pattern", "*")

		entries, err := env.ListDirectory(directory, pattern)
		if err != nil {
			return nil, err
		}

		items := make([]map[string]any, 0, len(entries))
		for _, e := range entries {
			items = append(items, map[string]any{
				"name": e.Name,
				"type": e.Type,
				"size": e.Size,
			})
		}
		return &ToolOutput{
			Message: fmt.Sprintf("Found %d entries in %s", len(entries), directory),
			Data:    map[string]any{"entries": items, "count": len(entries)},
		}, nil
	})
}

func registerCreateDirectory(r *ToolRegistry) {
	r.mustRegister(ToolDefinition{
		Name:        "create_directory",
		Description: "Create a directory (including parents) inside the project.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Directory path to create",
				},
			},
			"required": []string{"path"},
		},
	}, func(ctx context.Context, args map[string]any, env ExecutionEnvironment) (*ToolOutput, error) {
		path := stringArg(args, "path", "")
		if err := env.CreateDirectory(path); err != nil {
			return nil, err
		}
		return &ToolOutput{
			Message: fmt.Sprintf("Created directory %s", path),
			Data:    map[string]any{"path": path},
		}, nil
	})
}

func registerRunCommand(r *ToolRegistry) {
	r.mustRegister(ToolDefinition{
		Name:        "run_command",
		Description: "Run a whitelisted shell command (go, git, pytest, npm, ...) in the project root and capture its output.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"type":        "string",
					"description": "Command line to run (e.g. 'go test ./...', 'git status')",
				},
				"timeout_ms": map[string]any{
					"type":        "integer",
					"description": "Timeout in milliseconds (default 30000)",
				},
			},
			"required": []string{"command"},
		},
	}, func(ctx context.Context, args map[string]any, env ExecutionEnvironment) (*ToolOutput, error) {
		command := stringArg(args, "command", "")
		timeoutMs := intArg(args, "timeout_ms", defaultCommandTimeoutMs)

		program, ok := commandAllowed(command)
		if !ok {
			return nil, fmt.Errorf("command %q is not allowed; permitted programs: %s", program, strings.Join(allowedCommands, ", "))
		}

		result, err := env.ExecCommand(ctx, command, timeoutMs)
		if err != nil {
			return nil, err
		}
		if result.TimedOut {
			return nil, fmt.Errorf("command timed out after %dms: %s", timeoutMs, command)
		}
		return &ToolOutput{
			Message: fmt.Sprintf("Command finished with exit code %d", result.ExitCode),
			Data: map[string]any{
				"stdout":    result.Stdout,
				"stderr":    result.Stderr,
				"exit_code": result.ExitCode,
			},
		}, nil
	})
}

func registerSearchInFiles(r *ToolRegistry) {
	r.mustRegister(ToolDefinition{
		Name:        "search_in_files",
		Description: "Search for a text or regex pattern in project files. Useful for finding where a function or variable is used.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Text or regex pattern to search for",
				},
				"file_pattern": map[string]any{
					"type":        "string",
					"description": "Glob filter for files to search (e.g. '*.go')",
				},
				"path": map[string]any{
					"type":        "string",
					"description": "Directory to search under (defaults to the project root)",
				},
			},
			"required": []string{"query"},
		},
	}, func(ctx context.Context, args map[string]any, env ExecutionEnvironment) (*ToolOutput, error) {
		query := stringArg(args, "query", "")
		matches, err := env.Search(ctx, query, stringArg(args, "path", ""), SearchOptions{
			FilePattern: stringArg(args, "file_pattern", ""),
			MaxResults:  50,
		})
		if err != nil {
			return nil, err
		}
		return &ToolOutput{
			Message: fmt.Sprintf("Found %d matches for %q", len(matches), query),
			Data:    map[string]any{"matches": matches, "count": len(matches)},
		}, nil
	})
}

// languageByExt maps file extensions to language names for analyze_code.
var languageByExt = map[string]string{
	".go": "Go", ".py": "Python", ".js": "JavaScript", ".ts": "TypeScript",
	".jsx": "JavaScript", ".tsx": "TypeScript", ".java": "Java",
	".c": "C", ".h": "C", ".cpp": "C++", ".hpp": "C++", ".rs": "Rust",
	".rb": "Ruby", ".php": "PHP", ".sh": "Shell", ".sql": "SQL",
	".html": "HTML", ".css": "CSS", ".md": "Markdown",
	".yaml": "YAML", ".yml": "YAML", ".json": "JSON", ".toml": "TOML",
}

var skippedDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true,
	"__pycache__": true, ".venv": true, "dist": true, "build": true,
}

func registerAnalyzeCode(r *ToolRegistry) {
	r.mustRegister(ToolDefinition{
		Name:        "analyze_code",
		Description: "Analyze the project structure: file counts, line counts and languages.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}, func(ctx context.Context, args map[string]any, env ExecutionEnvironment) (*ToolOutput, error) {
		root := env.WorkingDirectory()

		type langStats struct {
			Files int `json:"files"`
			Lines int `json:"lines"`
		}
		totalFiles := 0
		totalLines := 0
		languages := map[string]*langStats{}

		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil // unreadable entries are skipped, not fatal
			}
			if d.IsDir() {
				if skippedDirs[d.Name()] || (strings.HasPrefix(d.Name(), ".") && path != root) {
					return filepath.SkipDir
				}
				return nil
			}
			lang, known := languageByExt[filepath.Ext(d.Name())]
			if !known {
				return nil
			}
			data, readErr := os.ReadFile(path)
			if readErr != nil {
				return nil
			}
			lines := strings.Count(string(data), "\n")
			totalFiles++
			totalLines += lines
			if languages[lang] == nil {
				languages[lang] = &langStats{}
			}
			languages[lang].Files++
			languages[lang].Lines += lines
			return nil
		})
		if err != nil {
			return nil, err
		}

		langData := map[string]any{}
		for lang, stats := range languages {
			langData[lang] = map[string]any{"files": stats.Files, "lines": stats.Lines}
		}
		return &ToolOutput{
			Message: fmt.Sprintf("Project has %d source files, %d lines across %d languages", totalFiles, totalLines, len(languages)),
			Data: map[string]any{
				"total_files": totalFiles,
				"total_lines": totalLines,
				"languages":   langData,
			},
		}, nil
	})
}

func registerGitTools(r *ToolRegistry) {
	runGit := func(ctx context.Context, env ExecutionEnvironment, gitArgs string) (*ExecResult, error) {
		result, err := env.ExecCommand(ctx, "git "+gitArgs, defaultCommandTimeoutMs)
		if err != nil {
			return nil, err
		}
		if result.ExitCode != 0 {
			return nil, fmt.Errorf("git %s failed: %s", gitArgs, strings.TrimSpace(result.Output()))
		}
		return result, nil
	}

	r.mustRegister(ToolDefinition{
		Name:        "git_status",
		Description: "Show the working tree status of the project's git repository.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}, func(ctx context.Context, args map[string]any, env ExecutionEnvironment) (*ToolOutput, error) {
		result, err := runGit(ctx, env, "status --porcelain -b")
		if err != nil {
			return nil, err
		}
		changed := 0
		for _, line := range strings.Split(result.Stdout, "\n") {
			if line != "" && !strings.HasPrefix(line, "##") {
				changed++
			}
		}
		return &ToolOutput{
			Message: fmt.Sprintf("%d changed files", changed),
			Data:    map[string]any{"status": result.Stdout, "changed_files": changed},
		}, nil
	})

	r.mustRegister(ToolDefinition{
		Name:        "git_diff",
		Description: "Show pending changes, optionally limited to one path or the staging area.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Limit the diff to this path",
				},
				"staged": map[string]any{
					"type":        "boolean",
					"description": "Diff the staging area instead of the working tree",
				},
			},
		},
	}, func(ctx context.Context, args map[string]any, env ExecutionEnvironment) (*ToolOutput, error) {
		gitArgs := "diff"
		if boolArg(args, "staged", false) {
			gitArgs += " --staged"
		}
		if path := stringArg(args, "path", ""); path != "" {
			gitArgs += " -- " + path
		}
		result, err := runGit(ctx, env, gitArgs)
		if err != nil {
			return nil, err
		}
		message := "No pending changes"
		if strings.TrimSpace(result.Stdout) != "" {
			message = "Diff of pending changes"
		}
		return &ToolOutput{
			Message: message,
			Data:    map[string]any{"diff": result.Stdout},
		}, nil
	})

	r.mustRegister(ToolDefinition{
		Name:        "git_commit",
		Description: "Stage all changes and create a commit with the given message.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"message": map[string]any{
					"type":        "string",
					"description": "Commit message",
				},
			},
			"required": []string{"message"},
		},
	}, func(ctx context.Context, args map[string]any, env ExecutionEnvironment) (*ToolOutput, error) {
		message := stringArg(args, "message", "")
		if strings.TrimSpace(message) == "" {
			return nil, fmt.Errorf("commit message must not be empty")
		}
		if _, err := runGit(ctx, env, "add -A"); err != nil {
			return nil, err
		}
		result, err := runGit(ctx, env, "commit -m "+strconv.Quote(message))
		if err != nil {
			return nil, err
		}
		return &ToolOutput{
			Message: fmt.Sprintf("Committed: %s", message),
			Data:    map[string]any{"output": result.Stdout},
		}, nil
	})

	r.mustRegister(ToolDefinition{
		Name:        "git_log",
		Description: "Show recent commits.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"limit": map[string]any{
					"type":        "integer",
					"description": "Number of commits to show (default 10)",
				},
			},
		},
	}, func(ctx context.Context, args map[string]any, env ExecutionEnvironment) (*ToolOutput, error) {
		limit := intArg(args, "limit", 10)
		result, err := runGit(ctx, env, fmt.Sprintf("log --oneline -n %d", limit))
		if err != nil {
			return nil, err
		}
		return &ToolOutput{
			Message: fmt.Sprintf("Last %d commits", limit),
			Data:    map[string]any{"log": result.Stdout},
		}, nil
	})
}

// Argument helpers. Parsed arguments are free-form; values may arrive as
// strings even for numeric parameters when the function-call grammar
// produced them.

func stringArg(args map[string]any, key, fallback string) string {
	if v, ok := args[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprintf("%v", v)
	}
	return fallback
}

func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func boolArg(args map[string]any, key string, fallback bool) bool {
	switch v := args[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
