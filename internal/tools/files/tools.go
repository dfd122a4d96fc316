// Package files provides file tools over a per-session workspace directory
// <root>/<session_id>.
package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/haasonsaas/agentbridge/internal/agent"
)

// Tool names.
const (
	ReadFileTool  = "read-file"
	ReadDirTool   = "read-dir"
	ScanFilesTool = "scan-files"
	WriteFileTool = "write-file"
)

// PermissionWrite gates write-file.
const PermissionWrite = "file:write"

// DefaultMaxReadBytes caps read-file output.
const DefaultMaxReadBytes = 200000

// Config controls filesystem tool defaults.
type Config struct {
	// WorkspaceRoot holds one directory per session.
	WorkspaceRoot string
	MaxReadBytes  int
}

type readFileArgs struct {
	Path string `json:"path" jsonschema:"description=File path relative to the workspace"`
}

type readDirArgs struct {
	DirPath string `json:"dirPath" jsonschema:"description=Directory path relative to the workspace"`
}

type scanFilesArgs struct {
	GlobPattern string `json:"globPattern" jsonschema:"description=Glob pattern such as docs/*.md"`
}

type writeFileArgs struct {
	Path    string `json:"path" jsonschema:"description=File path relative to the workspace"`
	Content string `json:"content"`
}

// Workspace resolves the workspace of the session in ctx.
type Workspace struct {
	root     string
	maxBytes int
}

// NewWorkspace creates a workspace over cfg.WorkspaceRoot.
func NewWorkspace(cfg Config) (*Workspace, error) {
	if strings.TrimSpace(cfg.WorkspaceRoot) == "" {
		return nil, errors.New("workspace root is required")
	}
	limit := cfg.MaxReadBytes
	if limit <= 0 {
		limit = DefaultMaxReadBytes
	}
	return &Workspace{root: cfg.WorkspaceRoot, maxBytes: limit}, nil
}

// Dir returns the workspace directory of sessionID, creating it.
func (w *Workspace) Dir(sessionID string) (string, error) {
	if sessionID == "" || strings.ContainsAny(sessionID, `/\`) || sessionID == "." || sessionID == ".." {
		return "", fmt.Errorf("invalid session id %q", sessionID)
	}
	dir := filepath.Join(w.root, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}
	return dir, nil
}

func (w *Workspace) resolver(ctx context.Context) (Resolver, error) {
	sessionID := agent.SessionIDFromContext(ctx)
	if sessionID == "" {
		return Resolver{}, errors.New("no session in context")
	}
	dir, err := w.Dir(sessionID)
	if err != nil {
		return Resolver{}, err
	}
	return Resolver{Root: dir}, nil
}

// Tools returns the file tool descriptors. write-file requires the
// file:write permission; the others are untagged.
func (w *Workspace) Tools() ([]agent.ToolDescriptor, error) {
	readFile, err := agent.DefineTool(ReadFileTool, "Read a text file from the workspace.", "", w.readFile)
	if err != nil {
		return nil, err
	}
	readDir, err := agent.DefineTool(ReadDirTool, "List the entries of a workspace directory.", "", w.readDir)
	if err != nil {
		return nil, err
	}
	scanFiles, err := agent.DefineTool(ScanFilesTool, "Scan files in the current workspace matching a glob pattern.", "", w.scanFiles)
	if err != nil {
		return nil, err
	}
	writeFile, err := agent.DefineTool(WriteFileTool, "Write content to a file in the workspace.", PermissionWrite, w.writeFile)
	if err != nil {
		return nil, err
	}
	return []agent.ToolDescriptor{readFile, readDir, scanFiles, writeFile}, nil
}

func (w *Workspace) readFile(ctx context.Context, args readFileArgs) (string, error) {
	r, err := w.resolver(ctx)
	if err != nil {
		return "", err
	}
	path, err := r.Resolve(args.Path)
	if err != nil {
		return "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	buf, err := io.ReadAll(io.LimitReader(f, int64(w.maxBytes)+1))
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	if len(buf) > w.maxBytes {
		return string(buf[:w.maxBytes]) + "\n[truncated]", nil
	}
	return string(buf), nil
}

func (w *Workspace) readDir(ctx context.Context, args readDirArgs) (string, error) {
	r, err := w.resolver(ctx)
	if err != nil {
		return "", err
	}
	dirPath := args.DirPath
	if strings.TrimSpace(dirPath) == "" {
		dirPath = "."
	}
	path, err := r.Resolve(dirPath)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return "", fmt.Errorf("read dir: %w", err)
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return strings.Join(names, "\n"), nil
}

func (w *Workspace) scanFiles(ctx context.Context, args scanFilesArgs) (string, error) {
	r, err := w.resolver(ctx)
	if err != nil {
		return "", err
	}
	pattern := strings.TrimPrefix(filepath.ToSlash(strings.TrimSpace(args.GlobPattern)), "./")
	if pattern == "" || !fs.ValidPath(pattern) {
		return "", fmt.Errorf("invalid glob pattern %q", args.GlobPattern)
	}
	matches, err := fs.Glob(os.DirFS(r.Root), pattern)
	if err != nil {
		return "", fmt.Errorf("scan files: %w", err)
	}
	sort.Strings(matches)
	return strings.Join(matches, "\n"), nil
}

func (w *Workspace) writeFile(ctx context.Context, args writeFileArgs) (string, error) {
	r, err := w.resolver(ctx)
	if err != nil {
		return "", err
	}
	path, err := r.Resolve(args.Path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create parent dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(args.Content), 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return "Done", nil
}
