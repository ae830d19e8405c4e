package fsprobe

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkdirAll(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(path, 0o755))
}

func writeFile(t *testing.T, path string, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func dotfileRule() IgnoreRule {
	return NewRule("dotfiles", func(entry Entry, _ string) bool {
		return len(entry.Name) > 0 && entry.Name[0] == '.'
	})
}

func systemDirRule() IgnoreRule {
	return NewRule("system-dirs", func(entry Entry, _ string) bool {
		return entry.IsDir && entry.Name == "@eaDir"
	})
}

func TestWalk_LexicographicDepthFirst(t *testing.T) {
	root := t.TempDir()
	mkdirAll(t, filepath.Join(root, "Alien (1979)"))
	writeFile(t, filepath.Join(root, "Alien (1979)", "Alien.mkv"), "x")
	writeFile(t, filepath.Join(root, "Alien (1979)", "Alien.en.srt"), "x")
	mkdirAll(t, filepath.Join(root, "Zodiac (2007)"))
	writeFile(t, filepath.Join(root, "Zodiac (2007)", "Zodiac.mp4"), "x")
	mkdirAll(t, filepath.Join(root, "Alien (1979)", "Extras"))
	writeFile(t, filepath.Join(root, "Alien (1979)", "Extras", "trailer.mkv"), "x")

	var visited []string
	err := Walk(context.Background(), root, "movie", nil, func(dir Entry, children []Entry, listErr error) error {
		require.NoError(t, listErr)
		visited = append(visited, dir.Path)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		root,
		filepath.Join(root, "Alien (1979)"),
		filepath.Join(root, "Alien (1979)", "Extras"),
		filepath.Join(root, "Zodiac (2007)"),
	}, visited)
}

func TestWalk_ChildrenSortedAndTyped(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "b.mkv"), "bb")
	writeFile(t, filepath.Join(root, "a.MKV"), "a")
	mkdirAll(t, filepath.Join(root, "c-dir"))

	var children []Entry
	err := Walk(context.Background(), root, "movie", nil, func(dir Entry, kids []Entry, listErr error) error {
		if dir.Path == root {
			children = kids
		}
		return nil
	})
	require.NoError(t, err)
	require.Len(t, children, 3)

	assert.Equal(t, "a.MKV", children[0].Name)
	assert.Equal(t, ".mkv", children[0].Ext)
	assert.Equal(t, int64(1), children[0].Size)
	assert.False(t, children[0].IsDir)
	assert.True(t, children[0].Exists)

	assert.Equal(t, "b.mkv", children[1].Name)
	assert.Equal(t, int64(2), children[1].Size)

	assert.Equal(t, "c-dir", children[2].Name)
	assert.True(t, children[2].IsDir)
	assert.Equal(t, "", children[2].Ext)
}

func TestWalk_IgnoredDirectoryNeverDescended(t *testing.T) {
	root := t.TempDir()
	mkdirAll(t, filepath.Join(root, "@eaDir"))
	writeFile(t, filepath.Join(root, "@eaDir", "SYNOINDEX.db"), "x")
	mkdirAll(t, filepath.Join(root, ".hidden"))
	writeFile(t, filepath.Join(root, ".trash"), "x")
	writeFile(t, filepath.Join(root, "Movie.mkv"), "x")

	rules := []IgnoreRule{dotfileRule(), systemDirRule()}

	var visited []string
	var rootChildren []Entry
	err := Walk(context.Background(), root, "movie", rules, func(dir Entry, children []Entry, listErr error) error {
		visited = append(visited, dir.Name)
		if dir.Path == root {
			rootChildren = children
		}
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{filepath.Base(root)}, visited)
	require.Len(t, rootChildren, 1)
	assert.Equal(t, "Movie.mkv", rootChildren[0].Name)
}

func TestWalk_MissingRootFails(t *testing.T) {
	err := Walk(context.Background(), filepath.Join(t.TempDir(), "nope"), "movie", nil, func(Entry, []Entry, error) error {
		return nil
	})
	assert.Error(t, err)
}

func TestWalk_CancelledContextStops(t *testing.T) {
	root := t.TempDir()
	mkdirAll(t, filepath.Join(root, "sub"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Walk(ctx, root, "movie", nil, func(Entry, []Entry, error) error {
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStat_MissingFileSentinel(t *testing.T) {
	entry := Stat(filepath.Join(t.TempDir(), "gone.mkv"))
	assert.False(t, entry.Exists)
	assert.Equal(t, "gone.mkv", entry.Name)
	assert.Equal(t, ".mkv", entry.Ext)
}

func TestList_DanglingSymlinkSentinel(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "missing-target.mkv")
	link := filepath.Join(root, "link.mkv")
	require.NoError(t, os.Symlink(target, link))

	entries, err := List(root)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	assert.Equal(t, "link.mkv", entries[0].Name)
	assert.False(t, entries[0].Exists)
	assert.Equal(t, ".mkv", entries[0].Ext)
}
