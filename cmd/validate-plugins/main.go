// Command validate-plugins checks every plugin manifest under a plugin
// root without starting the server. It exists so a broken plugin.cue is
// caught at build time rather than as a skipped-plugin warning at boot.
//
// Usage: validate-plugins [plugin-root]
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/medley-tv/medley/internal/modules/pluginmodule"
)

func main() {
	root := "./data/plugins"
	if len(os.Args) > 1 {
		root = os.Args[1]
	}

	fmt.Printf("=== Plugin Manifest Validation: %s ===\n", root)

	entries, err := os.ReadDir(root)
	if err != nil {
		fmt.Printf("✗ Cannot read plugin root: %v\n", err)
		os.Exit(1)
	}

	var dirs []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		if _, err := os.Stat(filepath.Join(dir, pluginmodule.ManifestFileName)); err != nil {
			continue
		}
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	if len(dirs) == 0 {
		fmt.Println("No plugin directories found (nothing to validate)")
		return
	}

	parser := pluginmodule.NewManifestParser()
	failed := 0
	for _, dir := range dirs {
		manifest, err := parser.ParseDir(dir)
		if err != nil {
			fmt.Printf("✗ %s: %v\n", dir, err)
			failed++
			continue
		}

		fmt.Printf("✓ %s: %s v%s (%s", dir, manifest.ID, manifest.Version, manifest.Type)
		if manifest.Category != "" {
			fmt.Printf("/%s", manifest.Category)
		}
		fmt.Println(")")

		// Missing binaries are only a warning; manifests are often
		// authored before the agent is built.
		binary := filepath.Join(dir, manifest.BinaryName())
		if _, err := os.Stat(binary); err != nil {
			fmt.Printf("  ⚠ binary not found: %s\n", binary)
		}
		for _, kv := range sortedSettings(manifest.Settings) {
			fmt.Printf("  setting %s = %s\n", kv[0], kv[1])
		}
	}

	fmt.Printf("\n%d manifest(s) checked, %d failed\n", len(dirs), failed)
	if failed > 0 {
		os.Exit(1)
	}
}

func sortedSettings(settings map[string]string) [][2]string {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([][2]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, [2]string{k, settings[k]})
	}
	return out
}
