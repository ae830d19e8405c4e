package librarymodule

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medley-tv/medley/internal/database"
)

const testDebounce = 40 * time.Millisecond

type triggerLog struct {
	mu  sync.Mutex
	ids []string
}

func (l *triggerLog) add(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ids = append(l.ids, id)
}

func (l *triggerLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ids)
}

func (l *triggerLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ids...)
}

func newTestWatcher(t *testing.T, store *database.Store) (*Watcher, *triggerLog) {
	t.Helper()
	log := &triggerLog{}
	w := NewWatcher(store, nil, testDebounce, log.add)
	t.Cleanup(w.Stop)
	return w, log
}

func seedWatchedSection(t *testing.T, store *database.Store, root string) string {
	t.Helper()
	section := movieSection(t, root)
	require.NoError(t, store.CreateSection(context.Background(), section))
	return section.ID
}

func isWatched(w *Watcher, dir string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.dirs[dir]
	return ok
}

func TestWatcherTriggersScanOnNewFile(t *testing.T) {
	store := newTestStore(t)
	root := t.TempDir()
	sectionID := seedWatchedSection(t, store, root)

	w, log := newTestWatcher(t, store)
	require.NoError(t, w.Start())

	require.NoError(t, os.WriteFile(filepath.Join(root, "Heat (1995).mkv"), []byte("film"), 0o644))

	require.Eventually(t, func() bool { return log.count() >= 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, sectionID, log.all()[0])
}

func TestWatcherDebouncesBursts(t *testing.T) {
	store := newTestStore(t)
	root := t.TempDir()
	seedWatchedSection(t, store, root)

	w, log := newTestWatcher(t, store)
	require.NoError(t, w.Start())

	for i := 0; i < 5; i++ {
		name := filepath.Join(root, "track"+string(rune('a'+i))+".flac")
		require.NoError(t, os.WriteFile(name, []byte("pcm"), 0o644))
	}

	require.Eventually(t, func() bool { return log.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(4 * testDebounce)
	assert.Equal(t, 1, log.count(), "one burst should collapse into one trigger")
}

func TestWatcherArmsNewSubdirectories(t *testing.T) {
	store := newTestStore(t)
	root := t.TempDir()
	sectionID := seedWatchedSection(t, store, root)

	w, log := newTestWatcher(t, store)
	require.NoError(t, w.Start())

	sub := filepath.Join(root, "Season 01")
	require.NoError(t, os.Mkdir(sub, 0o755))
	require.Eventually(t, func() bool { return isWatched(w, sub) }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(sub, "e01.mkv"), []byte("ep"), 0o644))

	require.Eventually(t, func() bool { return log.count() >= 2 }, 2*time.Second, 10*time.Millisecond)
	for _, id := range log.all() {
		assert.Equal(t, sectionID, id)
	}
}

func TestWatcherSkipsIgnoredEntries(t *testing.T) {
	store := newTestStore(t)
	root := t.TempDir()
	hidden := filepath.Join(root, ".stversions")
	require.NoError(t, os.Mkdir(hidden, 0o755))
	seedWatchedSection(t, store, root)

	w, log := newTestWatcher(t, store)
	require.NoError(t, w.Start())

	assert.False(t, isWatched(w, hidden), "dot directories stay unwatched")

	require.NoError(t, os.WriteFile(filepath.Join(root, ".movie.mkv.part"), []byte("x"), 0o644))
	time.Sleep(4 * testDebounce)
	assert.Zero(t, log.count(), "ignored entries must not trigger scans")
}

func TestWatcherForgetSilencesSection(t *testing.T) {
	store := newTestStore(t)
	root := t.TempDir()
	sectionID := seedWatchedSection(t, store, root)

	w, log := newTestWatcher(t, store)
	require.NoError(t, w.Start())
	require.True(t, isWatched(w, root))

	w.Forget(sectionID)
	assert.False(t, isWatched(w, root))

	require.NoError(t, os.WriteFile(filepath.Join(root, "late.mkv"), []byte("x"), 0o644))
	time.Sleep(4 * testDebounce)
	assert.Zero(t, log.count())
}

func TestWatcherRearmPicksUpNewLocations(t *testing.T) {
	store := newTestStore(t)
	rootA := t.TempDir()
	rootB := t.TempDir()
	sectionID := seedWatchedSection(t, store, rootA)

	w, log := newTestWatcher(t, store)
	require.NoError(t, w.Start())
	require.False(t, isWatched(w, rootB))

	section, err := store.GetSection(context.Background(), sectionID)
	require.NoError(t, err)
	section.Locations = append(section.Locations, database.SectionLocation{RootPath: rootB, ListIndex: 1})
	require.NoError(t, store.SaveSection(context.Background(), section))

	w.Rearm(sectionID)
	require.True(t, isWatched(w, rootB))

	require.NoError(t, os.WriteFile(filepath.Join(rootB, "new.mkv"), []byte("x"), 0o644))
	require.Eventually(t, func() bool { return log.count() >= 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, sectionID, log.all()[0])
}

func TestWatcherStopCancelsPendingTriggers(t *testing.T) {
	store := newTestStore(t)
	root := t.TempDir()
	seedWatchedSection(t, store, root)

	log := &triggerLog{}
	w := NewWatcher(store, nil, time.Minute, log.add)
	require.NoError(t, w.Start())

	require.NoError(t, os.WriteFile(filepath.Join(root, "cut.mkv"), []byte("x"), 0o644))
	w.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, log.count())
}
