// Package fsprobe enumerates section location directories for the scanner.
// It guarantees deterministic lexicographic ordering, which checkpoint resume
// depends on, and it never aborts a walk because a single entry failed to
// stat.
package fsprobe

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Entry is a single observed filesystem object.
type Entry struct {
	Path    string    // absolute path
	Name    string    // base name
	Ext     string    // lowercase extension including the dot, empty for directories
	IsDir   bool      //
	Size    int64     // file size in bytes, 0 for directories
	ModTime time.Time //
	CTime   time.Time // inode change time where the platform exposes it
	Exists  bool      // false when stat failed; such entries carry path info only
}

// IgnoreRule decides whether the scanner should skip an entry. Rules compose
// with OR; a directory that matches any rule is never descended into.
type IgnoreRule interface {
	Name() string
	Matches(entry Entry, libraryType string) bool
}

type ruleFunc struct {
	name string
	fn   func(Entry, string) bool
}

func (r ruleFunc) Name() string { return r.name }
func (r ruleFunc) Matches(entry Entry, libraryType string) bool {
	return r.fn(entry, libraryType)
}

// NewRule adapts a plain function to the IgnoreRule interface.
func NewRule(name string, fn func(entry Entry, libraryType string) bool) IgnoreRule {
	return ruleFunc{name: name, fn: fn}
}

// Ignored reports whether any rule matches the entry.
func Ignored(entry Entry, libraryType string, rules []IgnoreRule) bool {
	for _, rule := range rules {
		if rule.Matches(entry, libraryType) {
			return true
		}
	}
	return false
}

// Stat builds an Entry for path, following symlinks. A failed stat yields
// Exists=false rather than an error so callers can treat disappearing files
// as data.
func Stat(path string) Entry {
	entry := Entry{
		Path: path,
		Name: filepath.Base(path),
	}
	info, err := os.Stat(path)
	if err != nil {
		entry.Ext = strings.ToLower(filepath.Ext(entry.Name))
		return entry
	}
	fillFromInfo(&entry, info)
	return entry
}

// List returns the entries of dir sorted by name. The sort order comes from
// os.ReadDir and is stable across runs; resume cursors rely on it.
func List(dir string) ([]Entry, error) {
	dirents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(dirents))
	for _, d := range dirents {
		entries = append(entries, entryFromDirEntry(filepath.Join(dir, d.Name()), d))
	}
	return entries, nil
}

// WalkFunc receives each visited directory together with its sorted,
// ignore-filtered children. listErr is non-nil when the directory itself
// could not be read; the walk continues either way unless the callback
// returns an error.
type WalkFunc func(dir Entry, children []Entry, listErr error) error

// Walk visits root and every non-ignored subdirectory depth-first in
// lexicographic order. The root is never ignore-checked since the user
// configured it explicitly, but a missing root is an error: reconciling
// deletions against an unmounted share would orphan the whole section.
func Walk(ctx context.Context, root string, libraryType string, rules []IgnoreRule, fn WalkFunc) error {
	rootEntry := Stat(root)
	if !rootEntry.Exists {
		return fmt.Errorf("scan root does not exist: %s", root)
	}
	if !rootEntry.IsDir {
		return fmt.Errorf("scan root is not a directory: %s", root)
	}
	return walkDir(ctx, rootEntry, libraryType, rules, fn)
}

func walkDir(ctx context.Context, dir Entry, libraryType string, rules []IgnoreRule, fn WalkFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	children, listErr := List(dir.Path)
	if listErr == nil && len(rules) > 0 {
		kept := children[:0]
		for _, child := range children {
			if !Ignored(child, libraryType, rules) {
				kept = append(kept, child)
			}
		}
		children = kept
	}

	if err := fn(dir, children, listErr); err != nil {
		return err
	}

	for _, child := range children {
		if !child.IsDir || !child.Exists {
			continue
		}
		if err := walkDir(ctx, child, libraryType, rules, fn); err != nil {
			return err
		}
	}
	return nil
}

func entryFromDirEntry(path string, d fs.DirEntry) Entry {
	entry := Entry{
		Path: path,
		Name: d.Name(),
	}

	var info fs.FileInfo
	var err error
	if d.Type()&fs.ModeSymlink != 0 {
		// Follow symlinks so linked media trees scan like real ones.
		// A dangling link stats as missing.
		info, err = os.Stat(path)
	} else {
		info, err = d.Info()
	}
	if err != nil {
		entry.Ext = strings.ToLower(filepath.Ext(entry.Name))
		return entry
	}

	fillFromInfo(&entry, info)
	return entry
}

func fillFromInfo(entry *Entry, info fs.FileInfo) {
	entry.Exists = true
	entry.IsDir = info.IsDir()
	entry.ModTime = info.ModTime()
	entry.CTime = changeTime(info)
	if !entry.IsDir {
		entry.Ext = strings.ToLower(filepath.Ext(entry.Name))
		entry.Size = info.Size()
	}
}
