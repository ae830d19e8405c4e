package modulemanager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeModule struct {
	id       string
	deps     []string
	provides []string
	requires []string
}

func (m *fakeModule) ID() string                { return m.id }
func (m *fakeModule) Name() string              { return m.id }
func (m *fakeModule) Core() bool                { return false }
func (m *fakeModule) Migrate(db *gorm.DB) error { return nil }
func (m *fakeModule) Init() error               { return nil }
func (m *fakeModule) Dependencies() []string    { return m.deps }
func (m *fakeModule) ProvidedServices() []string {
	return m.provides
}
func (m *fakeModule) RequiredServices() []string {
	return m.requires
}

func moduleSet(mods ...*fakeModule) map[string]Module {
	out := make(map[string]Module, len(mods))
	for _, m := range mods {
		out[m.id] = m
	}
	return out
}

func orderOf(t *testing.T, order []Module) map[string]int {
	t.Helper()
	positions := make(map[string]int, len(order))
	for i, m := range order {
		positions[m.ID()] = i
	}
	return positions
}

func TestDependencyGraph_ServiceRequirementOrdersInit(t *testing.T) {
	store := &fakeModule{id: "system.store", provides: []string{"store"}}
	scanner := &fakeModule{id: "system.scanner", requires: []string{"store"}}

	graph, err := BuildDependencyGraph(moduleSet(store, scanner))
	require.NoError(t, err)

	order, err := graph.InitializationOrder()
	require.NoError(t, err)
	require.Len(t, order, 2)

	pos := orderOf(t, order)
	assert.Less(t, pos["system.store"], pos["system.scanner"])
}

func TestDependencyGraph_ExplicitDependencyOrdersInit(t *testing.T) {
	database := &fakeModule{id: "system.database"}
	playback := &fakeModule{id: "system.playback", deps: []string{"system.database"}}
	playlist := &fakeModule{id: "system.playlist", deps: []string{"system.playback"}}

	graph, err := BuildDependencyGraph(moduleSet(playlist, playback, database))
	require.NoError(t, err)

	order, err := graph.InitializationOrder()
	require.NoError(t, err)

	pos := orderOf(t, order)
	assert.Less(t, pos["system.database"], pos["system.playback"])
	assert.Less(t, pos["system.playback"], pos["system.playlist"])
}

func TestDependencyGraph_DetectsCycle(t *testing.T) {
	a := &fakeModule{id: "a", deps: []string{"b"}}
	b := &fakeModule{id: "b", deps: []string{"a"}}

	_, err := BuildDependencyGraph(moduleSet(a, b))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circular dependency")
}

func TestDependencyGraph_RejectsDuplicateServiceProvider(t *testing.T) {
	first := &fakeModule{id: "first", provides: []string{"playback"}}
	second := &fakeModule{id: "second", provides: []string{"playback"}}

	_, err := BuildDependencyGraph(moduleSet(first, second))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provided by multiple modules")
}

func TestDependencyGraph_RejectsUnknownModuleDependency(t *testing.T) {
	orphan := &fakeModule{id: "orphan", deps: []string{"missing"}}

	_, err := BuildDependencyGraph(moduleSet(orphan))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-existent module")
}

func TestDependencyGraph_ValidateServiceRequirements(t *testing.T) {
	consumer := &fakeModule{id: "consumer", requires: []string{"nowhere"}}

	graph, err := BuildDependencyGraph(moduleSet(consumer))
	require.NoError(t, err)

	errs := graph.ValidateServiceRequirements()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "no provider found")

	// Missing services warn but never block initialization
	order, err := graph.InitializationOrder()
	require.NoError(t, err)
	assert.Len(t, order, 1)
}

func TestDependencyGraph_DeterministicOrderWithoutDependencies(t *testing.T) {
	mods := moduleSet(
		&fakeModule{id: "c"},
		&fakeModule{id: "a"},
		&fakeModule{id: "b"},
	)

	graph, err := BuildDependencyGraph(mods)
	require.NoError(t, err)

	order, err := graph.InitializationOrder()
	require.NoError(t, err)

	var ids []string
	for _, m := range order {
		ids = append(ids, m.ID())
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}
