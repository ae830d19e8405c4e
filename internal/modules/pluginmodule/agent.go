package pluginmodule

import (
	"context"
	"fmt"
	"time"

	"github.com/medley-tv/medley/internal/database"
	"github.com/medley-tv/medley/internal/modules/metadatamodule/parts"
	plugins "github.com/medley-tv/medley/sdk"
)

// agentConn is the slice of the SDK client a hosted agent needs per call.
type agentConn interface {
	Enrich(req *plugins.EnrichRequest) (*plugins.EnrichResponse, error)
}

// hostedAgent bridges one plugin into the metadata agent registry. It is
// registered once at startup and survives enable/disable cycles: while
// the plugin is stopped Fetch contributes nothing, so the frozen
// registry never has to change.
type hostedAgent struct {
	host     *Host
	id       string
	category parts.AgentCategory
	priority int
	kinds    map[database.ItemKind]bool
	settings map[string]string
}

func newHostedAgent(host *Host, m *Manifest) *hostedAgent {
	category := parts.AgentRemote
	if m.Category == CategoryFallback {
		category = parts.AgentFallback
	}
	var kinds map[database.ItemKind]bool
	if len(m.Kinds) > 0 {
		kinds = make(map[database.ItemKind]bool, len(m.Kinds))
		for _, k := range m.Kinds {
			kinds[database.ItemKind(k)] = true
		}
	}
	return &hostedAgent{
		host:     host,
		id:       m.ID,
		category: category,
		priority: m.Priority,
		kinds:    kinds,
		settings: m.Settings,
	}
}

func (a *hostedAgent) Name() string                  { return a.id }
func (a *hostedAgent) Category() parts.AgentCategory { return a.category }
func (a *hostedAgent) Priority() int                 { return a.priority }

// Supports matches the manifest's kind list; an empty list means the
// agent wants to see everything.
func (a *hostedAgent) Supports(kind database.ItemKind) bool {
	if a.kinds == nil {
		return true
	}
	return a.kinds[kind]
}

func (a *hostedAgent) Fetch(ctx context.Context, req *parts.AgentRequest) (*parts.SidecarResult, error) {
	conn := a.host.conn(a.id)
	if conn == nil {
		return nil, nil
	}
	return a.fetch(ctx, conn, req)
}

func (a *hostedAgent) fetch(ctx context.Context, conn agentConn, req *parts.AgentRequest) (*parts.SidecarResult, error) {
	enrichReq := &plugins.EnrichRequest{
		ItemID:      req.Item.ID,
		Kind:        string(req.Item.Kind),
		Title:       req.Item.Title,
		Year:        req.Item.Year,
		ExternalIDs: req.ExternalIDs,
		Language:    req.Language,
		Hints:       map[string]string{"library_type": req.LibraryType},
		Settings:    a.settings,
	}

	// net/rpc calls carry no deadline. Run the call aside and abandon it
	// when the caller's context expires; the plugin finishes or dies on
	// its own clock.
	type result struct {
		resp *plugins.EnrichResponse
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		resp, err := conn.Enrich(enrichReq)
		ch <- result{resp, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("plugin %s: %w", a.id, r.err)
		}
		return convertResponse(a.id, r.resp), nil
	}
}

// convertResponse maps the wire answer into the registry's result shape.
// An unmatched response collapses to nil so the merge layer skips it.
func convertResponse(id string, resp *plugins.EnrichResponse) *parts.SidecarResult {
	if resp == nil || !resp.Matched || resp.Patch == nil {
		return nil
	}
	source := resp.Source
	if source == "" {
		source = id
	}
	out := &parts.SidecarResult{
		Source: source,
		Patch:  convertPatch(resp.Patch),
		Genres: resp.Patch.Genres,
		Tags:   resp.Patch.Tags,
	}
	for _, pc := range resp.Patch.People {
		out.People = append(out.People, parts.PersonRef{
			Name:      pc.Name,
			Role:      pc.Role,
			As:        pc.As,
			SortOrder: pc.SortOrder,
		})
	}
	return out
}

func convertPatch(rp *plugins.RemotePatch) *parts.ItemPatch {
	p := &parts.ItemPatch{
		Title:            rp.Title,
		SortTitle:        rp.SortTitle,
		OriginalTitle:    rp.OriginalTitle,
		Summary:          rp.Summary,
		Tagline:          rp.Tagline,
		ContentRating:    rp.ContentRating,
		ContentRatingAge: rp.ContentRatingAge,
		Year:             rp.Year,
		ItemIndex:        rp.Index,
		AbsoluteIndex:    rp.AbsoluteIndex,
		DurationMs:       rp.DurationMs,
		ExtraFields:      rp.ExtraFields,
		ExternalIDs:      rp.ExternalIDs,
	}
	if rp.ReleaseDate != nil {
		if t, err := time.Parse("2006-01-02", *rp.ReleaseDate); err == nil {
			p.ReleaseDate = &t
		}
	}
	// Poster and thumb land on the same slot; poster wins.
	switch {
	case rp.PosterURI != nil:
		p.ThumbURI = rp.PosterURI
	case rp.ThumbURI != nil:
		p.ThumbURI = rp.ThumbURI
	}
	p.ArtURI = rp.BackgroundURI
	return p
}
