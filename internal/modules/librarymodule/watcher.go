package librarymodule

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/medley-tv/medley/internal/database"
	"github.com/medley-tv/medley/internal/events"
	"github.com/medley-tv/medley/internal/fsprobe"
	"github.com/medley-tv/medley/internal/logger"
	"github.com/medley-tv/medley/internal/modules/metadatamodule/parts"
)

// Watcher turns filesystem activity under section locations into scan
// triggers. fsnotify watches single directories, so the watcher arms
// every subdirectory of every root and re-arms a section whenever a scan
// over it completes, picking up directories created while the scan ran.
//
// Events are debounced per directory: a ripped album or an unpacking
// download generates hundreds of events for one logical change, and one
// scan covers them all.
type Watcher struct {
	store    *database.Store
	eventBus events.EventBus
	debounce time.Duration
	trigger  func(sectionID string)

	mu      sync.Mutex
	fs      *fsnotify.Watcher
	dirs    map[string]watchOwner
	pending map[string]*pendingChange

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// watchOwner ties a watched directory back to its section. The library
// type matters because ignore rules are type-aware.
type watchOwner struct {
	sectionID   string
	libraryType string
}

type pendingChange struct {
	timer     *time.Timer
	sectionID string
	op        string
}

func NewWatcher(store *database.Store, eventBus events.EventBus, debounce time.Duration, trigger func(sectionID string)) *Watcher {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		store:    store,
		eventBus: eventBus,
		debounce: debounce,
		trigger:  trigger,
		dirs:     make(map[string]watchOwner),
		pending:  make(map[string]*pendingChange),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start arms every existing section and begins relaying events. Scan
// completions re-arm the scanned section so directories the scan itself
// created get watched too.
func (w *Watcher) Start() error {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.fs = fs
	w.mu.Unlock()

	sections, err := w.store.ListSections(w.ctx)
	if err != nil {
		fs.Close()
		return err
	}
	for i := range sections {
		w.armSection(&sections[i])
	}

	if w.eventBus != nil {
		filter := events.EventFilter{Types: []events.EventType{events.EventScanCompleted}}
		if _, err := w.eventBus.Subscribe(w.ctx, filter, w.onScanCompleted); err != nil {
			logger.Warn("library watcher: subscribing to scan completions: %v", err)
		}
	}

	w.wg.Add(1)
	go w.run()
	logger.Info("👀 library watcher armed: %d sections, %s debounce", len(sections), w.debounce)
	return nil
}

// Stop halts event delivery and cancels pending debounce timers.
func (w *Watcher) Stop() {
	w.cancel()
	w.mu.Lock()
	for dir, p := range w.pending {
		p.timer.Stop()
		delete(w.pending, dir)
	}
	fs := w.fs
	w.mu.Unlock()
	if fs != nil {
		fs.Close()
	}
	w.wg.Wait()
}

// Rearm re-walks the section's roots. Already-watched directories are
// re-added harmlessly; new ones start reporting.
func (w *Watcher) Rearm(sectionID string) {
	section, err := w.store.GetSection(w.ctx, sectionID)
	if err != nil {
		logger.Warn("library watcher: re-arming %s: %v", sectionID, err)
		return
	}
	w.armSection(section)
}

// Forget drops every watch belonging to the section.
func (w *Watcher) Forget(sectionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for dir, owner := range w.dirs {
		if owner.sectionID != sectionID {
			continue
		}
		if w.fs != nil {
			w.fs.Remove(dir)
		}
		delete(w.dirs, dir)
	}
	for dir, p := range w.pending {
		if p.sectionID == sectionID {
			p.timer.Stop()
			delete(w.pending, dir)
		}
	}
}

func (w *Watcher) armSection(section *database.LibrarySection) {
	owner := watchOwner{sectionID: section.ID, libraryType: section.Type}
	for _, loc := range section.Locations {
		w.armTree(filepath.Clean(loc.RootPath), owner)
	}
}

// armTree walks root and watches each directory, skipping the same
// entries a scan would skip.
func (w *Watcher) armTree(root string, owner watchOwner) {
	err := fsprobe.Walk(w.ctx, root, owner.libraryType, parts.BuiltinIgnoreRules(),
		func(dir fsprobe.Entry, _ []fsprobe.Entry, _ error) error {
			w.armDir(dir.Path, owner)
			return nil
		})
	if err != nil {
		logger.Warn("library watcher: arming %s: %v", root, err)
	}
}

func (w *Watcher) armDir(path string, owner watchOwner) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fs == nil {
		return
	}
	if err := w.fs.Add(path); err != nil {
		logger.Warn("library watcher: watching %s: %v", path, err)
		return
	}
	w.dirs[path] = owner
}

func (w *Watcher) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			logger.Warn("library watcher: %v", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	const interesting = fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename
	if ev.Op&interesting == 0 {
		return
	}

	parent := filepath.Dir(ev.Name)
	w.mu.Lock()
	owner, watched := w.dirs[parent]
	if !watched {
		// A root itself was removed or renamed.
		owner, watched = w.dirs[ev.Name]
		parent = ev.Name
	}
	if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		delete(w.dirs, ev.Name)
	}
	w.mu.Unlock()
	if !watched {
		return
	}

	// Entries a scan would skip should not wake the scanner either. A
	// fresh zero-byte file is skipped here but its write events are not.
	entry := fsprobe.Stat(ev.Name)
	if fsprobe.Ignored(entry, owner.libraryType, parts.BuiltinIgnoreRules()) {
		return
	}

	if ev.Op&fsnotify.Create != 0 && entry.Exists && entry.IsDir {
		w.armTree(ev.Name, owner)
	}

	w.schedule(owner.sectionID, parent, opString(ev.Op))
}

func (w *Watcher) schedule(sectionID, dir, op string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ctx.Err() != nil {
		return
	}
	if p, ok := w.pending[dir]; ok {
		p.op = op
		p.timer.Reset(w.debounce)
		return
	}
	p := &pendingChange{sectionID: sectionID, op: op}
	p.timer = time.AfterFunc(w.debounce, func() { w.flush(dir) })
	w.pending[dir] = p
}

func (w *Watcher) flush(dir string) {
	w.mu.Lock()
	p, ok := w.pending[dir]
	delete(w.pending, dir)
	w.mu.Unlock()
	if !ok {
		return
	}
	logger.Debug("👀 library %s: %s in %s", p.sectionID, p.op, dir)
	if w.eventBus != nil {
		w.eventBus.PublishAsync(events.NewLibraryChangedEvent(p.sectionID, dir, p.op))
	}
	if w.trigger != nil {
		w.trigger(p.sectionID)
	}
}

func (w *Watcher) onScanCompleted(event events.Event) error {
	if id, ok := event.Data["library_id"].(string); ok && id != "" {
		w.Rearm(id)
	}
	return nil
}

func opString(op fsnotify.Op) string {
	switch {
	case op&fsnotify.Create != 0:
		return "create"
	case op&fsnotify.Write != 0:
		return "write"
	case op&fsnotify.Remove != 0:
		return "remove"
	case op&fsnotify.Rename != 0:
		return "rename"
	}
	return "change"
}
