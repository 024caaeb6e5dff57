package tools

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/m4xw311/spark/config"
	"github.com/m4xw311/spark/errors"
)

const (
	maxReadChars   = 50000
	maxListEntries = 200
)

// checkAccess resolves path and applies the hidden and, for writes, read-only
// policies. A non-empty message is the refusal to return to the model.
func checkAccess(fsAccess *config.FilesystemAccess, path string, write bool) (string, string, error) {
	resolved := config.ExpandPath(path)
	candidates := []string{path, resolved, filepath.Clean(resolved)}

	for _, p := range candidates {
		hidden, err := isPathRestricted(p, fsAccess.Hidden)
		if err != nil {
			return "", "", err
		}
		if hidden {
			return "", fmt.Sprintf("Error: access denied: path '%s' is hidden", path), nil
		}
	}
	if write {
		for _, p := range candidates {
			readOnly, err := isPathRestricted(p, fsAccess.ReadOnly)
			if err != nil {
				return "", "", err
			}
			if readOnly {
				return "", fmt.Sprintf("Error: access denied: path '%s' is read-only", path), nil
			}
		}
	}
	return resolved, "", nil
}

// ReadFileTool implements the tool for reading a file.
type ReadFileTool struct {
	fsAccess *config.FilesystemAccess
}

func (t *ReadFileTool) Name() string { return "read_file" }
func (t *ReadFileTool) Description() string {
	return "Read the contents of a file. Returns the file content as text."
}
func (t *ReadFileTool) Parameters() map[string]any {
	return ObjectSchema(map[string]any{
		"path":      Prop("string", "Path to the file to read"),
		"max_lines": Prop("integer", "Maximum number of lines to read (optional)"),
	}, "path")
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path, ok := stringArg(args, "path")
	if !ok {
		return "", errors.New("missing or invalid 'path' argument")
	}
	resolved, denied, err := checkAccess(t.fsAccess, path, false)
	if err != nil || denied != "" {
		return denied, err
	}

	info, err := os.Stat(resolved)
	if os.IsNotExist(err) {
		return fmt.Sprintf("Error: File not found: %s", path), nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to stat '%s'", path)
	}
	if info.IsDir() {
		return fmt.Sprintf("Error: Not a file: %s", path), nil
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read file '%s'", path)
	}
	content := strings.ToValidUTF8(string(data), "�")

	if maxLines := intArg(args, "max_lines", 0); maxLines > 0 {
		lines := strings.Split(content, "\n")
		if len(lines) > maxLines {
			content = strings.Join(lines[:maxLines], "\n") + fmt.Sprintf("\n... (truncated at %d lines)", maxLines)
		}
	}
	if cut, ok := truncateRunes(content, maxReadChars); ok {
		content = cut + fmt.Sprintf("\n... (truncated at %d chars)", maxReadChars)
	}
	return content, nil
}

// WriteFileTool implements the tool for writing to a file.
type WriteFileTool struct {
	fsAccess *config.FilesystemAccess
}

func (t *WriteFileTool) Name() string { return "write_file" }
func (t *WriteFileTool) Description() string {
	return "Write content to a file, replacing it entirely. Creates parent directories if needed."
}
func (t *WriteFileTool) Parameters() map[string]any {
	return ObjectSchema(map[string]any{
		"path":    Prop("string", "Path to the file to write"),
		"content": Prop("string", "Content to write to the file"),
	}, "path", "content")
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path, pathOk := stringArg(args, "path")
	content, contentOk := stringArg(args, "content")
	if !pathOk || !contentOk {
		return "", errors.New("missing or invalid 'path' or 'content' arguments")
	}
	resolved, denied, err := checkAccess(t.fsAccess, path, true)
	if err != nil || denied != "" {
		return denied, err
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return "", errors.Wrapf(err, "failed to create parent directory for '%s'", path)
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return "", errors.Wrapf(err, "failed to write to file '%s'", path)
	}
	return fmt.Sprintf("Successfully wrote %d bytes to %s", len(content), path), nil
}

// ListDirectoryTool lists a directory, optionally recursively.
type ListDirectoryTool struct {
	fsAccess *config.FilesystemAccess
}

func (t *ListDirectoryTool) Name() string        { return "list_directory" }
func (t *ListDirectoryTool) Description() string { return "List files and directories in a path." }
func (t *ListDirectoryTool) Parameters() map[string]any {
	return ObjectSchema(map[string]any{
		"path":      Prop("string", "Directory path to list"),
		"recursive": Prop("boolean", "Whether to list recursively (default: false)"),
	}, "path")
}

func (t *ListDirectoryTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path, ok := stringArg(args, "path")
	if !ok {
		return "", errors.New("missing or invalid 'path' argument")
	}
	resolved, denied, err := checkAccess(t.fsAccess, path, false)
	if err != nil || denied != "" {
		return denied, err
	}

	info, err := os.Stat(resolved)
	if os.IsNotExist(err) {
		return fmt.Sprintf("Error: Path not found: %s", path), nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to stat '%s'", path)
	}
	if !info.IsDir() {
		return fmt.Sprintf("Error: Not a directory: %s", path), nil
	}

	var entries []string
	add := func(rel string, dir bool) {
		if hidden, _ := isPathRestricted(filepath.Join(path, rel), t.fsAccess.Hidden); hidden {
			return
		}
		prefix := "[FILE]"
		if dir {
			prefix = "[DIR] "
		}
		entries = append(entries, fmt.Sprintf("%s %s", prefix, rel))
	}

	if boolArg(args, "recursive") {
		var rels []string
		dirs := map[string]bool{}
		err = filepath.WalkDir(resolved, func(p string, d fs.DirEntry, err error) error {
			if err != nil || p == resolved {
				return nil
			}
			rel, _ := filepath.Rel(resolved, p)
			rels = append(rels, rel)
			dirs[rel] = d.IsDir()
			return ctx.Err()
		})
		if err != nil {
			return "", errors.Wrapf(err, "failed to walk '%s'", path)
		}
		sort.Strings(rels)
		if len(rels) > maxListEntries {
			rels = rels[:maxListEntries]
		}
		for _, rel := range rels {
			add(rel, dirs[rel])
		}
	} else {
		items, err := os.ReadDir(resolved)
		if err != nil {
			return "", errors.Wrapf(err, "failed to read directory '%s'", path)
		}
		for _, it := range items {
			add(it.Name(), it.IsDir())
		}
	}

	if len(entries) == 0 {
		return "(empty directory)", nil
	}
	return strings.Join(entries, "\n"), nil
}

// EditFileTool replaces exact text in a file.
type EditFileTool struct {
	fsAccess *config.FilesystemAccess
}

func (t *EditFileTool) Name() string { return "edit_file" }
func (t *EditFileTool) Description() string {
	return "Edit a file by replacing exact text. The old_text must match exactly."
}
func (t *EditFileTool) Parameters() map[string]any {
	return ObjectSchema(map[string]any{
		"path":     Prop("string", "Path to the file to edit"),
		"old_text": Prop("string", "Exact text to find and replace"),
		"new_text": Prop("string", "Text to replace with"),
	}, "path", "old_text", "new_text")
}

func (t *EditFileTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path, ok1 := stringArg(args, "path")
	oldText, ok2 := stringArg(args, "old_text")
	newText, ok3 := stringArg(args, "new_text")
	if !ok1 || !ok2 || !ok3 {
		return "", errors.New("missing or invalid 'path', 'old_text' or 'new_text' arguments")
	}
	resolved, denied, err := checkAccess(t.fsAccess, path, true)
	if err != nil || denied != "" {
		return denied, err
	}

	data, err := os.ReadFile(resolved)
	if os.IsNotExist(err) {
		return fmt.Sprintf("Error: File not found: %s", path), nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to read file '%s'", path)
	}
	content := string(data)
	count := strings.Count(content, oldText)
	if oldText == "" || count == 0 {
		return "Error: old_text not found in file", nil
	}
	if err := os.WriteFile(resolved, []byte(strings.ReplaceAll(content, oldText, newText)), 0o644); err != nil {
		return "", errors.Wrapf(err, "failed to write to file '%s'", path)
	}
	return fmt.Sprintf("Successfully replaced %d occurrence(s)", count), nil
}
