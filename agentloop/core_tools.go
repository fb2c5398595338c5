package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// FileTools builds the workspace file tools: read_file, write_file,
// edit_file, list_dir, and glob. Write-capable tools consult the sandbox
// policy and encode refusals as result text rather than errors, so a
// rejected write is model-visible and recoverable.
func FileTools(ws Workspace, sandbox SandboxPolicy) []Tool {
	return []Tool{
		readFileTool(ws),
		writeFileTool(ws, sandbox),
		editFileTool(ws, sandbox),
		listDirTool(ws),
		globTool(ws),
	}
}

func readFileTool(ws Workspace) Tool {
	return Tool{
		Name:        "read_file",
		Description: "Read a file from the workspace. Returns line-numbered content.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Workspace-relative path to the file to read.",
				},
				"offset": map[string]interface{}{
					"type":        "integer",
					"description": "1-based line number to start reading from.",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of lines to read. Default: 2000.",
				},
			},
			"required": []string{"path"},
		},
		Handler: func(ctx context.Context, arguments json.RawMessage) (string, error) {
			args, err := ParseArguments(arguments)
			if err != nil {
				return "", err
			}
			path, ok := StringArg(args, "path")
			if !ok || path == "" {
				return "", fmt.Errorf("path is required")
			}
			offset, _ := IntArg(args, "offset")
			limit, _ := IntArg(args, "limit")
			if limit <= 0 {
				limit = 2000
			}

			content, err := ws.ReadFile(path)
			if err != nil {
				return "", fmt.Errorf("cannot read %s: %w", path, err)
			}
			return numberLines(content, offset, limit), nil
		},
	}
}

func writeFileTool(ws Workspace, sandbox SandboxPolicy) Tool {
	return Tool{
		Name:        "write_file",
		Description: "Write content to a file. Creates the file and parent directories if needed.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Workspace-relative path to write to.",
				},
				"content": map[string]interface{}{
					"type":        "string",
					"description": "The full file content to write.",
				},
			},
			"required": []string{"path", "content"},
		},
		Handler: func(ctx context.Context, arguments json.RawMessage) (string, error) {
			args, err := ParseArguments(arguments)
			if err != nil {
				return "", err
			}
			path, ok := StringArg(args, "path")
			if !ok || path == "" {
				return "", fmt.Errorf("path is required")
			}
			content, ok := StringArg(args, "content")
			if !ok {
				return "", fmt.Errorf("content is required")
			}
			if !sandbox.Allowed(path) {
				return sandbox.Refusal(path), nil
			}
			if err := ws.WriteFile(path, content); err != nil {
				return "", err
			}
			return fmt.Sprintf("Successfully wrote %d bytes to %s", len(content), path), nil
		},
	}
}

func editFileTool(ws Workspace, sandbox SandboxPolicy) Tool {
	return Tool{
		Name:        "edit_file",
		Description: "Replace an exact string occurrence in a file. The old_string must be unique in the file unless replace_all is true.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Workspace-relative path to the file to edit.",
				},
				"old_string": map[string]interface{}{
					"type":        "string",
					"description": "Exact text to find in the file.",
				},
				"new_string": map[string]interface{}{
					"type":        "string",
					"description": "Replacement text.",
				},
				"replace_all": map[string]interface{}{
					"type":        "boolean",
					"description": "Replace all occurrences. Default: false.",
				},
			},
			"required": []string{"path", "old_string", "new_string"},
		},
		Handler: func(ctx context.Context, arguments json.RawMessage) (string, error) {
			args, err := ParseArguments(arguments)
			if err != nil {
				return "", err
			}
			path, ok := StringArg(args, "path")
			if !ok || path == "" {
				return "", fmt.Errorf("path is required")
			}
			oldString, ok := StringArg(args, "old_string")
			if !ok || oldString == "" {
				return "", fmt.Errorf("old_string is required")
			}
			newString, _ := StringArg(args, "new_string")
			replaceAll, _ := BoolArg(args, "replace_all")

			if !sandbox.Allowed(path) {
				return sandbox.Refusal(path), nil
			}

			content, err := ws.ReadFile(path)
			if err != nil {
				return "", fmt.Errorf("cannot read %s: %w", path, err)
			}

			count := strings.Count(content, oldString)
			if count == 0 {
				return "", fmt.Errorf("old_string not found in %s", path)
			}
			if count > 1 && !replaceAll {
				return "", fmt.Errorf("old_string found %d times in %s. Provide more context to make it unique, or set replace_all=true", count, path)
			}

			var newContent string
			replacements := 1
			if replaceAll {
				newContent = strings.ReplaceAll(content, oldString, newString)
				replacements = count
			} else {
				newContent = strings.Replace(content, oldString, newString, 1)
			}

			if err := ws.WriteFile(path, newContent); err != nil {
				return "", err
			}
			return fmt.Sprintf("Successfully replaced %d occurrence(s) in %s", replacements, path), nil
		},
	}
}

func listDirTool(ws Workspace) Tool {
	return Tool{
		Name:        "list_dir",
		Description: "List the entries of a workspace directory.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Workspace-relative directory. Default: workspace root.",
				},
			},
		},
		Handler: func(ctx context.Context, arguments json.RawMessage) (string, error) {
			args, err := ParseArguments(arguments)
			if err != nil {
				return "", err
			}
			path, _ := StringArg(args, "path")
			if path == "" {
				path = "."
			}

			entries, err := ws.ListDirectory(path)
			if err != nil {
				return "", fmt.Errorf("cannot list %s: %w", path, err)
			}
			if len(entries) == 0 {
				return "Directory is empty.", nil
			}

			var sb strings.Builder
			for _, e := range entries {
				if e.IsDir {
					fmt.Fprintf(&sb, "%s/\n", e.Name)
				} else {
					fmt.Fprintf(&sb, "%s (%d bytes)\n", e.Name, e.Size)
				}
			}
			return strings.TrimRight(sb.String(), "\n"), nil
		},
	}
}

func globTool(ws Workspace) Tool {
	return Tool{
		Name:        "glob",
		Description: "Find files matching a glob pattern. Returns workspace-relative paths.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"pattern": map[string]interface{}{
					"type":        "string",
					"description": "Glob pattern (e.g., \"**/*.go\").",
				},
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Base directory. Default: workspace root.",
				},
			},
			"required": []string{"pattern"},
		},
		Handler: func(ctx context.Context, arguments json.RawMessage) (string, error) {
			args, err := ParseArguments(arguments)
			if err != nil {
				return "", err
			}
			pattern, ok := StringArg(args, "pattern")
			if !ok || pattern == "" {
				return "", fmt.Errorf("pattern is required")
			}
			path, _ := StringArg(args, "path")

			matches, err := ws.Glob(pattern, path)
			if err != nil {
				return "", err
			}
			if len(matches) == 0 {
				return "No files matched the pattern.", nil
			}
			return strings.Join(matches, "\n"), nil
		},
	}
}

// numberLines formats content as "N | line" rows, honoring a 1-based
// offset and a line limit.
func numberLines(content string, offset, limit int) string {
	lines := strings.Split(content, "\n")
	if offset < 1 {
		offset = 1
	}
	if offset > len(lines) {
		return ""
	}
	end := offset - 1 + limit
	if end > len(lines) {
		end = len(lines)
	}

	var sb strings.Builder
	for i := offset - 1; i < end; i++ {
		fmt.Fprintf(&sb, "%d | %s\n", i+1, lines[i])
	}
	out := strings.TrimRight(sb.String(), "\n")
	if end < len(lines) {
		out += fmt.Sprintf("\n... (%d more lines)", len(lines)-end)
	}
	return out
}
