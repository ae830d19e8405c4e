// Package scanner implements the staged scan pipeline. A single
// traversal goroutine walks every section location in order and feeds
// change detection, resolution, local metadata, persistence and
// reconciliation stages over bounded channels. The traversal checkpoints
// a durable cursor as it goes, so an interrupted scan resumes where the
// persisted work actually stopped.
package scanner

import (
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/medley-tv/medley/internal/fsprobe"
	"github.com/medley-tv/medley/internal/modules/metadatamodule/parts"
)

// Stage names are stable identifiers persisted in scan checkpoints. A
// resumed scan dispatches on the stored name, so renaming one breaks
// resume across versions.
const (
	StageTraversal       = "directory_traversal"
	StageChangeDetection = "change_detection"
	StageResolveItems    = "resolve_items"
	StageLocalMetadata   = "local_metadata"
	StageRemoteMetadata  = "remote_metadata"
	StageReconcile       = "reconcile"
)

// ScanWorkItem is one filesystem entry moving through the pipeline.
// Stages attach what they learn; a stage reads, never rewrites, fields
// set upstream.
type ScanWorkItem struct {
	LocationID   string
	LocationRoot string
	Entry        fsprobe.Entry
	Children     []fsprobe.Entry // entries inside Entry when it is a directory
	Siblings     []fsprobe.Entry // entries next to Entry, excluding Entry itself
	IsRoot       bool

	// Unchanged marks files whose size and mtime match the stored part
	// row. Later stages skip heavy work for unchanged items.
	Unchanged bool

	Draft     *parts.ItemDraft
	Local     *parts.SidecarResult
	MediaInfo map[string]*parts.MediaInfo // keyed by part path
	Hashes    map[string]string           // keyed by part path

	seq int64 // assigned by the parallel stage to restore order
}

// Stage is one pipeline segment. Run consumes items from in until it
// closes and sends results to out; the runner closes out after Run
// returns. The head stage receives a nil in channel.
type Stage interface {
	Name() string
	Run(sc *ScanContext, in <-chan *ScanWorkItem, out chan<- *ScanWorkItem) error
}

func buildStages() []Stage {
	return []Stage{
		&traversalStage{},
		&changeStage{},
		&resolveStage{},
		&localStage{},
		&remoteStage{},
		&reconcileStage{},
	}
}

// runPipeline wires the stages together over bounded channels, one
// goroutine per stage. The first error cancels the rest; whatever was in
// flight past the checkpointed cursor is re-emitted on resume, so an
// abort at any point loses nothing.
func runPipeline(sc *ScanContext, stages []Stage) error {
	g, gctx := errgroup.WithContext(sc.ctx)
	sc.ctx = gctx

	var in <-chan *ScanWorkItem
	for _, stage := range stages {
		stage := stage
		upstream := in
		out := make(chan *ScanWorkItem, sc.Config.ChannelBufferSize)
		g.Go(func() error {
			defer close(out)
			if err := stage.Run(sc, upstream, out); err != nil {
				sc.fail(err)
				return fmt.Errorf("%s: %w", stage.Name(), err)
			}
			return nil
		})
		in = out
	}

	// drain whatever the tail stage emits
	last := in
	g.Go(func() error {
		for range last {
		}
		return nil
	})
	return g.Wait()
}
