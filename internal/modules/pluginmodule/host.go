package pluginmodule

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	goplugin "github.com/hashicorp/go-plugin"

	plugins "github.com/medley-tv/medley/sdk"
)

// managedPlugin tracks one discovered plugin directory and, when the
// plugin is running, its process handle and dispensed agent.
type managedPlugin struct {
	manifest  *Manifest
	dir       string
	launching bool

	client    *goplugin.Client
	agent     plugins.MetadataAgent
	info      *plugins.AgentInfo
	startedAt time.Time
}

// Host discovers plugin directories and owns the child processes. Each
// plugin is a directory under the plugin root holding a plugin.cue and
// an executable; the host speaks the agent handshake over net/rpc.
type Host struct {
	mu        sync.RWMutex
	log       hclog.Logger
	parser    *ManifestParser
	pluginDir string
	timeout   time.Duration
	plugins   map[string]*managedPlugin
}

func NewHost(pluginDir string, timeout time.Duration) *Host {
	return &Host{
		log: hclog.New(&hclog.LoggerOptions{
			Name:  "plugin-host",
			Level: hclog.Info,
		}),
		parser:    NewManifestParser(),
		pluginDir: pluginDir,
		timeout:   timeout,
		plugins:   make(map[string]*managedPlugin),
	}
}

// Discover scans the plugin root for directories carrying a manifest and
// records them without launching anything. A directory with a broken
// manifest is skipped with a warning; it never takes the host down.
func (h *Host) Discover() ([]*Manifest, error) {
	entries, err := os.ReadDir(h.pluginDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read plugin dir: %w", err)
	}

	var found []*Manifest
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(h.pluginDir, entry.Name())
		if _, err := os.Stat(filepath.Join(dir, ManifestFileName)); err != nil {
			continue
		}
		manifest, err := h.parser.ParseDir(dir)
		if err != nil {
			h.log.Warn("skipping plugin dir", "dir", dir, "error", err)
			continue
		}

		h.mu.Lock()
		if existing, ok := h.plugins[manifest.ID]; ok && existing.dir != dir {
			h.mu.Unlock()
			h.log.Warn("duplicate plugin id", "plugin", manifest.ID, "dir", dir, "kept", existing.dir)
			continue
		}
		if existing, ok := h.plugins[manifest.ID]; ok {
			existing.manifest = manifest
		} else {
			h.plugins[manifest.ID] = &managedPlugin{manifest: manifest, dir: dir}
		}
		h.mu.Unlock()
		found = append(found, manifest)
	}

	sort.Slice(found, func(i, j int) bool { return found[i].ID < found[j].ID })
	return found, nil
}

// Launch starts the plugin process and verifies the agent handshake. It
// is a no-op when the plugin is already running or mid-launch.
func (h *Host) Launch(id string) error {
	h.mu.Lock()
	p, ok := h.plugins[id]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("unknown plugin %s", id)
	}
	if p.client != nil || p.launching {
		h.mu.Unlock()
		return nil
	}
	p.launching = true
	binary := filepath.Join(p.dir, p.manifest.BinaryName())
	h.mu.Unlock()

	client, agent, info, err := h.connect(id, binary)

	h.mu.Lock()
	p.launching = false
	if err != nil {
		h.mu.Unlock()
		return err
	}
	p.client = client
	p.agent = agent
	p.info = info
	p.startedAt = time.Now()
	h.mu.Unlock()

	h.log.Info("plugin started", "plugin", id, "version", info.Version)
	return nil
}

func (h *Host) connect(id, binary string) (*goplugin.Client, plugins.MetadataAgent, *plugins.AgentInfo, error) {
	fi, err := os.Stat(binary)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("plugin binary: %w", err)
	}
	if fi.IsDir() || fi.Mode()&0o111 == 0 {
		return nil, nil, nil, fmt.Errorf("plugin binary %s is not executable", binary)
	}

	client := goplugin.NewClient(&goplugin.ClientConfig{
		HandshakeConfig: plugins.Handshake,
		Plugins: map[string]goplugin.Plugin{
			plugins.AgentPluginName: &plugins.AgentPlugin{},
		},
		Cmd:              exec.Command(binary),
		Logger:           h.log.Named(id),
		AllowedProtocols: []goplugin.Protocol{goplugin.ProtocolNetRPC},
		StartTimeout:     h.timeout,
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, nil, nil, fmt.Errorf("connect to plugin %s: %w", id, err)
	}
	raw, err := rpcClient.Dispense(plugins.AgentPluginName)
	if err != nil {
		client.Kill()
		return nil, nil, nil, fmt.Errorf("dispense agent from %s: %w", id, err)
	}
	agent, ok := raw.(plugins.MetadataAgent)
	if !ok {
		client.Kill()
		return nil, nil, nil, fmt.Errorf("plugin %s does not serve a metadata agent", id)
	}
	info, err := agent.Info()
	if err != nil {
		client.Kill()
		return nil, nil, nil, fmt.Errorf("agent info from %s: %w", id, err)
	}
	if info.ID != id {
		client.Kill()
		return nil, nil, nil, fmt.Errorf("binary identifies as %q, manifest says %q", info.ID, id)
	}
	return client, agent, info, nil
}

// Stop kills the plugin process. Safe on stopped or unknown plugins.
func (h *Host) Stop(id string) {
	h.mu.Lock()
	var client *goplugin.Client
	if p, ok := h.plugins[id]; ok && p.client != nil {
		client = p.client
		p.client = nil
		p.agent = nil
		p.info = nil
	}
	h.mu.Unlock()

	if client != nil {
		client.Kill()
		h.log.Info("plugin stopped", "plugin", id)
	}
}

// StopAll kills every running plugin process.
func (h *Host) StopAll() {
	h.mu.Lock()
	clients := make(map[string]*goplugin.Client)
	for id, p := range h.plugins {
		if p.client != nil {
			clients[id] = p.client
			p.client = nil
			p.agent = nil
			p.info = nil
		}
	}
	h.mu.Unlock()

	for id, client := range clients {
		client.Kill()
		h.log.Info("plugin stopped", "plugin", id)
	}
}

// Running reports whether the plugin's process is up. An exited process
// counts as stopped even before Stop reaps the handle.
func (h *Host) Running(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.plugins[id]
	return ok && p.client != nil && !p.client.Exited()
}

// conn returns the live agent connection, or nil when the plugin is
// stopped or its process died.
func (h *Host) conn(id string) plugins.MetadataAgent {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.plugins[id]
	if !ok || p.client == nil || p.client.Exited() {
		return nil
	}
	return p.agent
}

// Manifest returns the parsed manifest for a discovered plugin.
func (h *Host) Manifest(id string) *Manifest {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if p, ok := h.plugins[id]; ok {
		return p.manifest
	}
	return nil
}

// Dir returns the install directory of a discovered plugin.
func (h *Host) Dir(id string) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if p, ok := h.plugins[id]; ok {
		return p.dir
	}
	return ""
}

// Manifests lists every discovered plugin sorted by ID.
func (h *Host) Manifests() []*Manifest {
	h.mu.RLock()
	out := make([]*Manifest, 0, len(h.plugins))
	for _, p := range h.plugins {
		out = append(out, p.manifest)
	}
	h.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
