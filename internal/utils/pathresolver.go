package utils

import (
	"os"
	"path/filepath"
	"strings"
)

// PathResolver maps section location paths across container and host
// environments. A section registered as /media/movies on the host is
// typically mounted under /app/media/movies inside the container.
type PathResolver struct {
	workspaceRoot string
}

// NewPathResolver creates a resolver rooted at the current working directory.
func NewPathResolver() *PathResolver {
	pwd, _ := os.Getwd()
	return &PathResolver{
		workspaceRoot: pwd,
	}
}

// ResolvePath returns the first variant of originalPath that exists.
func (pr *PathResolver) ResolvePath(originalPath string) (string, error) {
	for _, path := range pr.pathVariants(originalPath) {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", os.ErrNotExist
}

// ResolveDirectory returns the first variant of originalPath that exists and
// is a directory. Section location validation uses this before a scan starts.
func (pr *PathResolver) ResolveDirectory(originalPath string) (string, error) {
	for _, path := range pr.pathVariants(originalPath) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			return path, nil
		}
	}
	return "", os.ErrNotExist
}

func (pr *PathResolver) pathVariants(originalPath string) []string {
	variants := []string{originalPath}

	// Container/host prefix mapping
	if strings.HasPrefix(originalPath, "/app/") {
		variants = append(variants, strings.TrimPrefix(originalPath, "/app"))
	} else if filepath.IsAbs(originalPath) {
		variants = append(variants, filepath.Join("/app", originalPath))
	}

	if pr.workspaceRoot != "" && !filepath.IsAbs(originalPath) {
		variants = append(variants, filepath.Join(pr.workspaceRoot, originalPath))
	}

	return variants
}
