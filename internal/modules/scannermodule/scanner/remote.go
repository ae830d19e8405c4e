package scanner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/medley-tv/medley/internal/database"
	"github.com/medley-tv/medley/internal/events"
	"github.com/medley-tv/medley/internal/logger"
	"github.com/medley-tv/medley/internal/modules/metadatamodule"
	"github.com/medley-tv/medley/internal/modules/metadatamodule/parts"
	"github.com/medley-tv/medley/internal/modules/metadatamodule/sidecar"
	"github.com/medley-tv/medley/internal/services"
	"github.com/medley-tv/medley/internal/types"
)

// Agent pacing. Remote providers rate limit aggressively; a scan that
// bursts thousands of lookups gets the whole server banned.
const (
	agentRequestsPerSecond = 4
	agentBurst             = 8
)

// remoteStage persists each draft and overlays remote agent metadata on
// rows that actually changed. It is the single consumer feeding the
// persister, which keeps item creation ordered and its caches coherent
// without locks.
type remoteStage struct{}

func (remoteStage) Name() string { return StageRemoteMetadata }

func (st *remoteStage) Run(sc *ScanContext, in <-chan *ScanWorkItem, out chan<- *ScanWorkItem) error {
	agents := sc.Registry.Agents()
	limiter := rate.NewLimiter(rate.Limit(agentRequestsPerSecond), agentBurst)

	for item := range in {
		res, err := sc.Persister.PersistDraft(sc.Context(), &metadatamodule.PersistInput{
			Draft:        item.Draft,
			Entry:        item.Entry,
			LocationRoot: item.LocationRoot,
			Unchanged:    item.Unchanged,
			Local:        item.Local,
			MediaInfo:    item.MediaInfo,
			Hashes:       item.Hashes,
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			sc.CountError()
			logger.Error("persist %s: %v", item.Entry.Path, err)
			continue
		}

		sc.MarkPersisted(item.Entry.Path)
		sc.CountProcessed()
		sc.publishProgress()

		if res.Created || res.Updated {
			if err := st.enrich(sc, agents, limiter, res); err != nil {
				return err
			}
			if sc.Bus != nil && res.Created {
				sc.Bus.PublishAsync(events.Event{
					ID:     fmt.Sprintf("item-created-%s", res.ItemID),
					Type:   events.EventItemCreated,
					Source: "module:scanner",
					Title:  "Item Created",
					Data: map[string]interface{}{
						"item_id":    res.ItemID,
						"library_id": sc.Section.ID,
						"path":       item.Entry.Path,
					},
					Priority:  events.PriorityLow,
					Timestamp: time.Now(),
				})
			}
		}

		if err := sc.send(out, item); err != nil {
			return err
		}
	}

	// relations whose targets appeared later in the walk resolve now
	return sc.Persister.Flush(sc.Context())
}

// enrich reloads the persisted row, runs the agents that support its
// kind, and ingests whatever artwork the local sources pointed at.
// Agent failures are warnings; one dead provider never fails a scan.
func (st *remoteStage) enrich(sc *ScanContext, agents []parts.MetadataAgent, limiter *rate.Limiter, res *metadatamodule.PersistResult) error {
	ctx := sc.Context()
	item, err := sc.Store.GetItem(ctx, res.ItemID)
	if err != nil {
		sc.CountError()
		logger.Warn("reload %s after persist: %v", res.ItemID, err)
		return nil
	}

	if len(agents) > 0 {
		ids, err := sc.Store.ListExternalIDs(ctx, item.ID)
		if err != nil {
			sc.CountError()
			logger.Warn("list external ids for %s: %v", item.ID, err)
			ids = nil
		}
		req := &parts.AgentRequest{
			Item:        item,
			ExternalIDs: ids,
			LibraryType: sc.Section.Type,
			Language:    sc.Section.Language,
		}
		var merged *parts.SidecarResult
		for _, agent := range agents {
			if !agent.Supports(item.Kind) {
				continue
			}
			if agent.Category() >= parts.AgentRemote {
				if err := limiter.Wait(ctx); err != nil {
					return err
				}
			}
			agentCtx, cancel := context.WithTimeout(ctx, sc.Config.AgentTimeout)
			fetched, err := agent.Fetch(agentCtx, req)
			cancel()
			if err != nil {
				sc.CountError()
				logger.Warn("agent %s on %s: %v", agent.Name(), item.Title, err)
				continue
			}
			merged = sidecar.MergeResults(merged, fetched)
		}
		if merged != nil {
			if _, err := sc.Persister.ApplyAgentResult(ctx, item, merged); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				sc.CountError()
				logger.Error("apply agent result to %s: %v", item.ID, err)
			}
		}
	}

	st.ingestArtwork(sc, item, res.Hints)
	return nil
}

// artworkHints maps hint keys to asset kinds in preference order; when
// two hints feed the same kind the earlier one wins.
var artworkHints = []struct {
	hint string
	kind string
}{
	{parts.HintArtworkPoster, "thumb"},
	{parts.HintArtworkThumb, "thumb"},
	{parts.HintArtworkFanart, "art"},
	{parts.HintArtworkBanner, "banner"},
}

// ingestArtwork stores local and embedded artwork for an item and points
// the item's URIs at the stored copies. Failures only cost the image.
func (st *remoteStage) ingestArtwork(sc *ScanContext, item *database.MetadataItem, hints map[string]string) {
	if sc.Assets == nil || len(hints) == 0 {
		return
	}
	ctx := sc.Context()
	filled := make(map[string]bool)

	for _, h := range artworkHints {
		path := hints[h.hint]
		if path == "" || filled[h.kind] {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			sc.CountError()
			logger.Warn("read artwork %s: %v", path, err)
			continue
		}
		if st.saveArtwork(sc, item, h.kind, "local", data, "") {
			filled[h.kind] = true
		}
	}

	if mediaPath := hints[parts.HintEmbeddedArt]; mediaPath != "" && !filled["thumb"] {
		data, format, err := sidecar.ReadEmbeddedArt(mediaPath)
		if err != nil {
			sc.CountError()
			logger.Warn("embedded art in %s: %v", mediaPath, err)
		} else if st.saveArtwork(sc, item, "thumb", "embedded", data, format) {
			filled["thumb"] = true
		}
	}

	if len(filled) == 0 {
		return
	}
	changed := false
	for kind := range filled {
		uri := types.ImageURI(item.ID, kind)
		switch kind {
		case "thumb":
			if item.ThumbURI != uri {
				item.ThumbURI = uri
				changed = true
			}
		case "art":
			if item.ArtURI != uri {
				item.ArtURI = uri
				changed = true
			}
		case "banner":
			if item.BannerURI != uri {
				item.BannerURI = uri
				changed = true
			}
		}
	}
	if changed {
		if err := sc.Store.SaveItem(ctx, item); err != nil {
			sc.CountError()
			logger.Warn("save artwork uris for %s: %v", item.ID, err)
		}
	}
}

func (st *remoteStage) saveArtwork(sc *ScanContext, item *database.MetadataItem, kind, source string, data []byte, format string) bool {
	_, err := sc.Assets.SaveImage(sc.Context(), &services.SaveImageRequest{
		MetadataItemID: item.ID,
		Kind:           kind,
		Source:         source,
		Data:           data,
		Format:         format,
	})
	if err != nil {
		sc.CountError()
		logger.Warn("store %s artwork for %s: %v", kind, item.ID, err)
		return false
	}
	return true
}
