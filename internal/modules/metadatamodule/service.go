package metadatamodule

import (
	"context"
	"fmt"
	"time"

	"github.com/medley-tv/medley/internal/database"
	"github.com/medley-tv/medley/internal/logger"
	"github.com/medley-tv/medley/internal/modules/metadatamodule/parts"
	"github.com/medley-tv/medley/internal/modules/metadatamodule/sidecar"
	"github.com/medley-tv/medley/internal/services"
)

// agentTimeout bounds a single agent fetch during an item refresh.
const agentTimeout = 30 * time.Second

// Service implements services.MetadataService over the store and the
// agent registry.
type Service struct {
	store    *database.Store
	registry *parts.Registry
}

var _ services.MetadataService = (*Service)(nil)

func NewService(store *database.Store, registry *parts.Registry) *Service {
	return &Service{store: store, registry: registry}
}

func (s *Service) GetItem(ctx context.Context, id string) (*database.MetadataItem, error) {
	return s.store.GetItem(ctx, id)
}

func (s *Service) ListChildren(ctx context.Context, parentID string) ([]database.MetadataItem, error) {
	return s.store.ListChildren(ctx, parentID)
}

func (s *Service) ListItemsBySection(ctx context.Context, sectionID string, kinds []database.ItemKind) ([]database.MetadataItem, error) {
	return s.store.ListItemsBySection(ctx, sectionID, kinds)
}

// RefreshItem re-runs metadata agents for one item and overlays whatever
// they return, honoring field locks.
func (s *Service) RefreshItem(ctx context.Context, itemID string) error {
	return s.Refresh(ctx, itemID, nil)
}

// Refresh is RefreshItem with a lock override: fields listed in unlock
// are overlaid even when the item locks them. A failing agent is logged
// and skipped; one dead provider never fails the whole refresh.
func (s *Service) Refresh(ctx context.Context, itemID string, unlock []string) error {
	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return fmt.Errorf("refresh %s: %w", itemID, err)
	}
	section, err := s.store.GetSection(ctx, item.LibrarySectionID)
	if err != nil {
		return fmt.Errorf("refresh %s: load section: %w", itemID, err)
	}
	ids, err := s.store.ListExternalIDs(ctx, itemID)
	if err != nil {
		return err
	}

	req := &parts.AgentRequest{
		Item:        item,
		ExternalIDs: ids,
		LibraryType: section.Type,
		Language:    section.Language,
	}
	var merged *parts.SidecarResult
	for _, agent := range s.registry.Agents() {
		if !agent.Supports(item.Kind) {
			continue
		}
		agentCtx, cancel := context.WithTimeout(ctx, agentTimeout)
		res, err := agent.Fetch(agentCtx, req)
		cancel()
		if err != nil {
			logger.Warn("metadata agent %s failed for %s: %v", agent.Name(), itemID, err)
			continue
		}
		merged = sidecar.MergeResults(merged, res)
	}
	if merged == nil {
		return nil
	}

	// Application reuses the scan-time persister; the caches it builds
	// live only as long as this refresh.
	persister := NewPersister(s.store, item.LibrarySectionID, section.Type)
	_, err = persister.ApplyAgentResult(ctx, item, merged, unlock...)
	return err
}
