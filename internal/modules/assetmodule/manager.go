package assetmodule

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/google/renameio/v2"
	"gorm.io/gorm"

	"github.com/medley-tv/medley/internal/config"
	"github.com/medley-tv/medley/internal/database"
	"github.com/medley-tv/medley/internal/events"
	"github.com/medley-tv/medley/internal/logger"
	"github.com/medley-tv/medley/internal/modules/metadatamodule/parts"
	"github.com/medley-tv/medley/internal/services"
	"github.com/medley-tv/medley/internal/types"
	"github.com/medley-tv/medley/internal/utils"
)

// Manager stores artwork under the sharded media tree and keeps the
// asset rows that describe it. Every stored image is WebP; whatever
// format arrives is decoded and re-encoded once at ingest so serving
// never converts.
type Manager struct {
	store    *database.Store
	registry *parts.Registry
	eventBus events.EventBus
	cfg      config.AssetConfig
	client   *http.Client
}

func NewManager(store *database.Store, registry *parts.Registry, eventBus events.EventBus, cfg config.AssetConfig) *Manager {
	return &Manager{
		store:    store,
		registry: registry,
		eventBus: eventBus,
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.FetchTimeout},
	}
}

// assetPath is where an item's artwork of a kind lives: the preferred
// row owns the bare kind name, other sources keep a suffixed copy.
func (m *Manager) assetPath(metadataItemID, kind, source string, preferred bool) string {
	name := kind + ".webp"
	if !preferred {
		name = kind + "-" + source + ".webp"
	}
	return filepath.Join(m.cfg.MediaDir, metadataItemID[:2], metadataItemID, "image", name)
}

// SaveImage converts, hashes, and stores one artwork payload. Identical
// bytes for the same kind are a no-op returning the existing row; a
// source re-saving different bytes replaces its own earlier copy.
func (m *Manager) SaveImage(ctx context.Context, req *services.SaveImageRequest) (*database.MediaAsset, error) {
	if req.MetadataItemID == "" || len(req.MetadataItemID) < 2 {
		return nil, fmt.Errorf("asset needs an owning item id")
	}
	if req.Kind == "" {
		return nil, fmt.Errorf("asset needs a kind")
	}
	if int64(len(req.Data)) > m.cfg.MaxFileSize {
		return nil, fmt.Errorf("image %d bytes exceeds limit %d", len(req.Data), m.cfg.MaxFileSize)
	}

	img, err := decodeImage(req.Data, req.Format)
	if err != nil {
		return nil, fmt.Errorf("decode %s image: %w", req.Kind, err)
	}
	encoded, err := encodeWebP(img, m.quality())
	if err != nil {
		return nil, fmt.Errorf("encode webp: %w", err)
	}
	hash := utils.HashBytes(encoded)

	if existing, err := m.store.FindAssetByHash(ctx, req.MetadataItemID, req.Kind, hash); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	bounds := img.Bounds()
	source := req.Source
	if source == "" {
		source = database.AssetSourceLocal
	}

	row, err := m.store.FindAsset(ctx, req.MetadataItemID, req.Kind, source)
	if err != nil {
		return nil, err
	}
	created := row == nil
	if created {
		// first source to land a kind becomes the served copy
		preferredRow, err := m.store.GetPreferredAsset(ctx, req.MetadataItemID, req.Kind)
		if err != nil && !isNotFound(err) {
			return nil, err
		}
		row = &database.MediaAsset{
			MetadataItemID: req.MetadataItemID,
			Kind:           req.Kind,
			Source:         source,
			PluginID:       req.PluginID,
			Preferred:      preferredRow == nil,
		}
	}
	row.Format = "webp"
	row.Width = bounds.Dx()
	row.Height = bounds.Dy()
	row.SizeBytes = int64(len(encoded))
	row.Hash = hash
	row.PlaceholderHash = placeholderHash(img)
	row.Language = req.Language
	row.SortOrder = req.SortOrder
	row.Path = m.assetPath(req.MetadataItemID, req.Kind, source, row.Preferred)

	if err := writeFileAtomic(row.Path, encoded); err != nil {
		return nil, fmt.Errorf("store asset file: %w", err)
	}

	if created {
		err = m.store.CreateAsset(ctx, row)
	} else {
		err = m.store.SaveAsset(ctx, row)
	}
	if err != nil {
		os.Remove(row.Path)
		return nil, err
	}

	if m.eventBus != nil && created {
		m.eventBus.PublishAsync(events.NewAssetCreatedEvent(events.AssetEventData{
			AssetID: row.ID,
			ItemID:  row.MetadataItemID,
			Kind:    row.Kind,
			Source:  row.Source,
			Size:    row.SizeBytes,
		}))
	}
	return row, nil
}

// OpenAsset returns a reader over the served copy of an item's artwork.
func (m *Manager) OpenAsset(ctx context.Context, metadataItemID, kind string) (io.ReadCloser, *database.MediaAsset, error) {
	asset, err := m.store.GetPreferredAsset(ctx, metadataItemID, kind)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(asset.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open asset %s: %w", asset.ID, err)
	}
	return f, asset, nil
}

// ResolveURI maps a medley://image/<item>/<kind> URI to the stored file.
func (m *Manager) ResolveURI(ctx context.Context, uri string) (string, error) {
	itemID, kind, ok := types.ParseImageURI(uri)
	if !ok {
		return "", fmt.Errorf("not an image uri: %s", uri)
	}
	asset, err := m.store.GetPreferredAsset(ctx, itemID, kind)
	if err != nil {
		return "", err
	}
	return asset.Path, nil
}

// FetchArtwork asks the registered image providers for artwork the item
// is missing. Provider and download failures cost only that image.
func (m *Manager) FetchArtwork(ctx context.Context, metadataItemID string) error {
	item, err := m.store.GetItem(ctx, metadataItemID)
	if err != nil {
		return err
	}
	section, err := m.store.GetSection(ctx, item.LibrarySectionID)
	if err != nil {
		return err
	}
	providers := m.registry.ImageProvidersFor(section.Type)
	if len(providers) == 0 {
		return nil
	}

	have := make(map[string]bool)
	existing, err := m.store.ListAssetsForItem(ctx, metadataItemID)
	if err != nil {
		return err
	}
	for _, a := range existing {
		have[a.Kind] = true
	}

	changed := false
	for _, provider := range providers {
		refs, err := provider.ImagesFor(ctx, item)
		if err != nil {
			logger.Warn("image provider %s on %s: %v", provider.Name(), item.ID, err)
			continue
		}
		for _, ref := range refs {
			if have[ref.Kind] {
				continue
			}
			data, err := m.fetch(ctx, ref.URI)
			if err != nil {
				logger.Warn("fetch %s artwork from %s: %v", ref.Kind, ref.URI, err)
				continue
			}
			if _, err := m.SaveImage(ctx, &services.SaveImageRequest{
				MetadataItemID: metadataItemID,
				Kind:           ref.Kind,
				Source:         database.AssetSourceRemote,
				PluginID:       ref.Provider,
				Data:           data,
			}); err != nil {
				logger.Warn("store fetched %s artwork for %s: %v", ref.Kind, item.ID, err)
				continue
			}
			have[ref.Kind] = true
			changed = setItemURI(item, ref.Kind) || changed
		}
	}
	if changed {
		return m.store.SaveItem(ctx, item)
	}
	return nil
}

// fetch downloads one remote image, refusing bodies over the size cap.
func (m *Manager) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, m.cfg.MaxFileSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > m.cfg.MaxFileSize {
		return nil, fmt.Errorf("image exceeds %d byte limit", m.cfg.MaxFileSize)
	}
	return data, nil
}

// RemoveAssets drops an item's artwork rows and files. A missing file is
// not an error; the row was the authority.
func (m *Manager) RemoveAssets(ctx context.Context, metadataItemID string) error {
	assets, err := m.store.DeleteAssetsForItem(ctx, metadataItemID)
	if err != nil {
		return err
	}
	for _, asset := range assets {
		if err := os.Remove(asset.Path); err != nil && !os.IsNotExist(err) {
			logger.Warn("remove asset file %s: %v", asset.Path, err)
		}
	}
	// drop the item's now-empty image directory
	if len(assets) > 0 && len(metadataItemID) >= 2 {
		dir := filepath.Join(m.cfg.MediaDir, metadataItemID[:2], metadataItemID, "image")
		os.Remove(dir)
	}
	return nil
}

func (m *Manager) quality() int {
	if m.cfg.DefaultQuality > 0 && m.cfg.DefaultQuality <= 100 {
		return m.cfg.DefaultQuality
	}
	return 90
}

func setItemURI(item *database.MetadataItem, kind string) bool {
	uri := types.ImageURI(item.ID, kind)
	switch kind {
	case database.AssetKindThumb:
		if item.ThumbURI == "" {
			item.ThumbURI = uri
			return true
		}
	case database.AssetKindArt:
		if item.ArtURI == "" {
			item.ArtURI = uri
			return true
		}
	case database.AssetKindBanner:
		if item.BannerURI == "" {
			item.BannerURI = uri
			return true
		}
	}
	return false
}

// decodeImage parses image bytes, trusting the declared format first and
// sniffing when it lies or is absent.
func decodeImage(data []byte, format string) (image.Image, error) {
	reader := bytes.NewReader(data)
	switch strings.TrimPrefix(strings.ToLower(format), "image/") {
	case "jpeg", "jpg":
		if img, err := jpeg.Decode(reader); err == nil {
			return img, nil
		}
	case "png":
		if img, err := png.Decode(reader); err == nil {
			return img, nil
		}
	case "gif":
		if img, err := gif.Decode(reader); err == nil {
			return img, nil
		}
	case "webp":
		if img, err := webp.Decode(reader); err == nil {
			return img, nil
		}
	}
	if _, err := reader.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	if img, _, err := image.Decode(reader); err == nil {
		return img, nil
	}
	if _, err := reader.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return webp.Decode(reader)
}

func encodeWebP(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, &webp.Options{Quality: float32(quality)}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// placeholderHash is a 64-bit average hash: the image reduced to 8x8
// luma blocks, each bit set when its block beats the mean. Clients
// render it as a blurred stand-in while the real image loads.
func placeholderHash(img image.Image) string {
	const grid = 8
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return ""
	}

	var cells [grid * grid]float64
	var counts [grid * grid]int
	for y := 0; y < h; y++ {
		cy := y * grid / h
		for x := 0; x < w; x++ {
			cx := x * grid / w
			c := color.GrayModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray)
			cells[cy*grid+cx] += float64(c.Y)
			counts[cy*grid+cx]++
		}
	}

	var mean float64
	for i := range cells {
		if counts[i] > 0 {
			cells[i] /= float64(counts[i])
		}
		mean += cells[i]
	}
	mean /= grid * grid

	var bits uint64
	for i := range cells {
		if cells[i] >= mean {
			bits |= 1 << uint(i)
		}
	}
	return fmt.Sprintf("%016x", bits)
}

// writeFileAtomic lands bytes via rename so readers never observe a
// partial image.
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return renameio.WriteFile(path, data, 0o644)
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

var _ services.AssetService = (*Manager)(nil)
