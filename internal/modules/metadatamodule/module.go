// Package metadatamodule owns the metadata item graph: resolving scanned
// files into typed items, overlaying local and remote metadata, and
// exposing the merged result to other modules. The pluggable pieces live
// in the parts, resolve, and sidecar subpackages; this package implements
// the persist and merge layers the scanner drives.
package metadatamodule

import (
	"fmt"

	"github.com/medley-tv/medley/internal/database"
	"github.com/medley-tv/medley/internal/ffmpeg"
	"github.com/medley-tv/medley/internal/modules/metadatamodule/parts"
	"github.com/medley-tv/medley/internal/modules/metadatamodule/resolve"
	"github.com/medley-tv/medley/internal/modules/metadatamodule/sidecar"
	"github.com/medley-tv/medley/internal/modules/modulemanager"
	"github.com/medley-tv/medley/internal/services"
	"gorm.io/gorm"
)

func init() {
	Register()
}

const (
	ModuleID   = "system.metadata"
	ModuleName = "Metadata"
)

// Module wires the metadata pipeline into the module system.
type Module struct {
	db      *gorm.DB
	service *Service
}

func NewModule(db *gorm.DB) *Module {
	return &Module{db: db}
}

// Register registers the module with the global registry.
func Register() {
	modulemanager.Register(NewModule(database.GetDB()))
}

func (m *Module) ID() string   { return ModuleID }
func (m *Module) Name() string { return ModuleName }
func (m *Module) Core() bool   { return true }

// Migrate creates the item graph and media tables.
func (m *Module) Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&database.MetadataItem{},
		&database.ExternalIdentifier{},
		&database.MetadataRelation{},
		&database.TagEdge{},
		&database.MediaItem{},
		&database.MediaPart{},
		&database.MediaStream{},
	)
}

// Init registers the built-in resolvers, sidecar sources, and analyzers,
// then publishes the metadata service. Plugin agents register after this;
// the registry freezes in PostInit.
func (m *Module) Init() error {
	if m.db == nil {
		m.db = database.GetDB()
	}
	if err := resolve.RegisterBuiltins(parts.Default); err != nil {
		return fmt.Errorf("register resolvers: %w", err)
	}
	if err := sidecar.RegisterBuiltins(parts.Default, ffmpeg.New()); err != nil {
		return fmt.Errorf("register sidecar sources: %w", err)
	}
	m.service = NewService(database.NewStore(m.db), parts.Default)
	services.RegisterService(services.ServiceMetadata, m.service)
	return nil
}

// PostInit freezes the registry once every module, plugins included, has
// had its chance to register pipeline parts.
func (m *Module) PostInit() error {
	parts.Default.Freeze()
	return nil
}
