package scanner

import (
	"sync"

	"github.com/medley-tv/medley/internal/logger"
	"github.com/medley-tv/medley/internal/modules/metadatamodule/parts"
	"github.com/medley-tv/medley/internal/modules/metadatamodule/sidecar"
	"github.com/medley-tv/medley/internal/utils"
)

// localStage runs sidecar parsers, embedded extractors and file
// analyzers across a worker pool. Results re-enter emission order
// through a sequence buffer, so persistence downstream stays
// deterministic no matter which worker finished first.
type localStage struct{}

func (localStage) Name() string { return StageLocalMetadata }

func (st *localStage) Run(sc *ScanContext, in <-chan *ScanWorkItem, out chan<- *ScanWorkItem) error {
	pool := utils.NewWorkerPool(sc.Config.WorkerCount)
	pool.Start()
	defer pool.Stop()

	results := make(chan *ScanWorkItem, sc.Config.WorkerCount*2)

	collectDone := make(chan struct{})
	go func() {
		defer close(collectDone)
		pending := make(map[int64]*ScanWorkItem)
		var next int64
		for item := range results {
			pending[item.seq] = item
			for {
				head, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				next++
				if err := sc.send(out, head); err != nil {
					return
				}
			}
		}
	}()

	var seq int64
	var wg sync.WaitGroup
	for item := range in {
		item.seq = seq
		seq++
		work := item
		wg.Add(1)
		err := pool.SubmitWait(sc.Context(), func() {
			defer wg.Done()
			st.process(sc, work)
			select {
			case results <- work:
			case <-sc.Done():
			}
		})
		if err != nil {
			wg.Done()
			break
		}
	}

	wg.Wait()
	close(results)
	<-collectDone
	return sc.Err()
}

// process gathers everything local sources know about one item. Errors
// from individual sources are recoverable: they are logged, counted, and
// the item continues with whatever the remaining sources produced.
func (st *localStage) process(sc *ScanContext, item *ScanWorkItem) {
	if item.Unchanged || item.Draft == nil {
		return
	}
	ctx := sc.Context()
	draft := item.Draft

	target := item.Entry.Path
	if len(draft.Parts) > 0 {
		target = draft.Parts[0].Path
	}
	candidates := item.Siblings
	if item.Entry.IsDir {
		candidates = item.Children
	}

	var results []*parts.SidecarResult

	// embedded tags come first so sidecar files can overrule them
	if len(draft.Parts) > 0 {
		for _, ex := range sc.Registry.Extractors() {
			if !ex.CanExtract(target) {
				continue
			}
			res, err := ex.Extract(ctx, target, sc.Section.Type)
			if err != nil {
				sc.CountError()
				logger.Warn("extractor %s on %s: %v", ex.Name(), target, err)
				continue
			}
			results = append(results, res)
		}
	}

	// A parser that already produced metadata is not run again for this
	// item: two NFO variants next to one movie describe the same thing.
	// Hint-only parsers like artwork see every candidate, since each
	// image file contributes a different hint.
	parsed := make(map[string]bool)
	for _, cand := range candidates {
		if cand.IsDir || cand.Path == item.Entry.Path {
			continue
		}
		if !sidecar.PairsWith(target, cand.Path) {
			continue
		}
		for _, parser := range sc.Registry.SidecarParsers() {
			if parsed[parser.Name()] || !parser.CanParse(cand.Path) {
				continue
			}
			res, err := parser.Parse(ctx, &parts.SidecarRequest{
				MediaFile:   target,
				SidecarFile: cand.Path,
				LibraryType: sc.Section.Type,
				Siblings:    candidates,
			})
			if err != nil {
				sc.CountError()
				logger.Warn("sidecar %s on %s: %v", parser.Name(), cand.Path, err)
				continue
			}
			if res != nil && res.Patch != nil {
				parsed[parser.Name()] = true
			}
			results = append(results, res)
		}
	}

	item.Local = sidecar.MergeResults(results...)

	if len(draft.Parts) > 0 {
		st.analyzeParts(sc, item)
	}
}

// analyzeParts probes changed parts for streams and a content hash.
// Parts whose stat still matches the store are skipped; their rows stay
// authoritative.
func (st *localStage) analyzeParts(sc *ScanContext, item *ScanWorkItem) {
	ctx := sc.Context()
	analyzers := sc.Registry.AnalyzersFor(sc.Section.Type)
	for _, part := range item.Draft.Parts {
		if sc.partStatUnchanged(part) {
			continue
		}

		if hash, err := utils.CalculateFileHashSampled(part.Path, part.Size); err != nil {
			sc.CountError()
			logger.Warn("hashing %s: %v", part.Path, err)
		} else {
			if item.Hashes == nil {
				item.Hashes = make(map[string]string)
			}
			item.Hashes[part.Path] = hash
		}

		for _, analyzer := range analyzers {
			info, err := analyzer.Analyze(ctx, part.Path)
			if err != nil {
				sc.CountError()
				logger.Warn("analyzer %s on %s: %v", analyzer.Name(), part.Path, err)
				continue
			}
			if info != nil {
				if item.MediaInfo == nil {
					item.MediaInfo = make(map[string]*parts.MediaInfo)
				}
				item.MediaInfo[part.Path] = info
				break
			}
		}
	}
}
