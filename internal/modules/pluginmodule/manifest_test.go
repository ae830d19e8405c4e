package pluginmodule

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePluginDir(t *testing.T, root, name, manifest string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFileName), []byte(manifest), 0o644))
	return dir
}

const tmdbManifest = `#Plugin: {
	id:          "tmdb"
	name:        "TMDb Metadata"
	version:     "1.2.0"
	description: "Movie and show metadata from themoviedb.org"
	author:      "medley"
	type:        "metadata_agent"
	category:    "remote"
	priority:    40
	kinds: ["movie", "show", "season", "episode"]
	languages: ["en", "de"]

	settings: {
		api_key:         string | *""
		language:        string | *"en-US"
		timeout_seconds: int | *10
		verbose:         bool | *false
		secret:          string
	}
}
`

func TestParseManifest(t *testing.T) {
	dir := writePluginDir(t, t.TempDir(), "tmdb", tmdbManifest)

	manifest, err := NewManifestParser().ParseDir(dir)
	require.NoError(t, err)

	assert.Equal(t, "tmdb", manifest.ID)
	assert.Equal(t, "TMDb Metadata", manifest.Name)
	assert.Equal(t, "1.2.0", manifest.Version)
	assert.Equal(t, PluginTypeMetadataAgent, manifest.Type)
	assert.Equal(t, CategoryRemote, manifest.Category)
	assert.Equal(t, 40, manifest.Priority)
	assert.Equal(t, []string{"movie", "show", "season", "episode"}, manifest.Kinds)
	assert.Equal(t, []string{"en", "de"}, manifest.Languages)
	assert.Equal(t, "tmdb", manifest.BinaryName())
}

func TestParseManifestSettingsDefaults(t *testing.T) {
	dir := writePluginDir(t, t.TempDir(), "tmdb", tmdbManifest)

	manifest, err := NewManifestParser().ParseDir(dir)
	require.NoError(t, err)

	assert.Equal(t, "en-US", manifest.Settings["language"])
	assert.Equal(t, "10", manifest.Settings["timeout_seconds"])
	assert.Equal(t, "false", manifest.Settings["verbose"])
	assert.Equal(t, "", manifest.Settings["api_key"])
	assert.Contains(t, manifest.Settings, "api_key")
	// fields without a default stay with the agent
	assert.NotContains(t, manifest.Settings, "secret")
}

func TestParseManifestBinaryOverride(t *testing.T) {
	dir := writePluginDir(t, t.TempDir(), "fanart", `#Plugin: {
	id:      "fanart"
	name:    "Fanart"
	version: "0.3.0"
	type:    "metadata_agent"
	binary:  "fanart-agent"
}
`)
	manifest, err := NewManifestParser().ParseDir(dir)
	require.NoError(t, err)
	assert.Equal(t, "fanart-agent", manifest.BinaryName())
	assert.Empty(t, manifest.Kinds)
	assert.Nil(t, manifest.Settings)
}

func TestParseManifestRejectsBadDeclarations(t *testing.T) {
	cases := []struct {
		name     string
		manifest string
		want     string
	}{
		{
			name:     "no plugin definition",
			manifest: `settings: {enabled: bool | *true}` + "\n",
			want:     "#Plugin definition not found",
		},
		{
			name:     "missing id",
			manifest: "#Plugin: {\n\tname: \"X\"\n\tversion: \"1.0\"\n\ttype: \"metadata_agent\"\n}\n",
			want:     "missing id",
		},
		{
			name:     "unsupported type",
			manifest: "#Plugin: {\n\tid: \"x\"\n\tname: \"X\"\n\tversion: \"1.0\"\n\ttype: \"transcoder\"\n}\n",
			want:     "unsupported type",
		},
		{
			name:     "unknown category",
			manifest: "#Plugin: {\n\tid: \"x\"\n\tname: \"X\"\n\tversion: \"1.0\"\n\ttype: \"metadata_agent\"\n\tcategory: \"primary\"\n}\n",
			want:     "unknown category",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := writePluginDir(t, t.TempDir(), "x", tc.manifest)
			_, err := NewManifestParser().ParseDir(dir)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestParseManifestMissingFile(t *testing.T) {
	_, err := NewManifestParser().ParseDir(t.TempDir())
	require.Error(t, err)
}

func TestHostDiscover(t *testing.T) {
	root := t.TempDir()
	writePluginDir(t, root, "tmdb", tmdbManifest)
	writePluginDir(t, root, "broken", "#Plugin: {id:\n")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "no-manifest"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "stray.txt"), []byte("x"), 0o644))

	host := NewHost(root, 0)
	manifests, err := host.Discover()
	require.NoError(t, err)
	require.Len(t, manifests, 1)
	assert.Equal(t, "tmdb", manifests[0].ID)
	assert.Equal(t, filepath.Join(root, "tmdb"), host.Dir("tmdb"))
	assert.False(t, host.Running("tmdb"))
	assert.Nil(t, host.conn("tmdb"))
}

func TestHostDiscoverMissingRoot(t *testing.T) {
	host := NewHost(filepath.Join(t.TempDir(), "absent"), 0)
	manifests, err := host.Discover()
	require.NoError(t, err)
	assert.Empty(t, manifests)
}

func TestHostLaunchWithoutBinary(t *testing.T) {
	root := t.TempDir()
	writePluginDir(t, root, "tmdb", tmdbManifest)

	host := NewHost(root, 0)
	_, err := host.Discover()
	require.NoError(t, err)

	err = host.Launch("tmdb")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plugin binary")
	assert.False(t, host.Running("tmdb"))

	require.Error(t, host.Launch("missing"))
}
