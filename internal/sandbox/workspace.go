package sandbox

import (
	"fmt"
	"path/filepath"
	"strings"
)

// containerWorkspace is the mount point inside the tool container.
const containerWorkspace = "/workspace"

// hasDotDot reports whether any path segment is a parent reference.
func hasDotDot(p string) bool {
	for _, seg := range strings.Split(filepath.ToSlash(p), "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

// ResolveWorkDir maps a command's declared working directory into the
// container workspace. Parent references are rejected rather than
// cleaned: a declared workdir should never need them. An empty workDir
// means the workspace root.
func ResolveWorkDir(workDir string) (string, error) {
	if workDir == "" {
		return containerWorkspace, nil
	}
	if hasDotDot(workDir) {
		return "", fmt.Errorf("working directory %q escapes the workspace", workDir)
	}
	clean := filepath.Join(containerWorkspace, filepath.Clean("/"+strings.TrimPrefix(workDir, containerWorkspace)))
	if clean != containerWorkspace && !strings.HasPrefix(clean, containerWorkspace+"/") {
		return "", fmt.Errorf("working directory %q escapes the workspace", workDir)
	}
	return clean, nil
}

// ResolveWorkspacePath maps a host-side relative path into the tenant
// workspace directory, rejecting traversal out of it.
func ResolveWorkspacePath(root, rel string) (string, error) {
	if hasDotDot(rel) {
		return "", fmt.Errorf("path %q escapes the workspace", rel)
	}
	clean := filepath.Join(root, filepath.Clean("/"+rel))
	if clean != root && !strings.HasPrefix(clean, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the workspace", rel)
	}
	return clean, nil
}
