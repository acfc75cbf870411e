// Package config loads the daemon configuration file recognized by
// ringmeshd: a YAML file at a fixed path under $XDG_CONFIG_HOME
// carrying the discovery core's tunables plus the peer-provider and
// authenticator selection.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"ringmesh/internal/ring/discovery"
)

// File is the on-disk shape of $XDG_CONFIG_HOME/ringmesh/config.yaml.
// Durations are parsed as Go duration strings ("2s", "500ms"); zero
// values fall back to discovery.DefaultConfig() field by field.
type File struct {
	LocalAddress   string `yaml:"localAddress,omitempty"`
	LocalPort      int    `yaml:"localPort,omitempty"`
	LocalPortRange int    `yaml:"localPortRange,omitempty"`

	HeartbeatFrequency        string `yaml:"heartbeatFrequency,omitempty"`
	MaxMissedHeartbeats       int    `yaml:"maxMissedHeartbeats,omitempty"`
	MaxMissedClientHeartbeats int    `yaml:"maxMissedClientHeartbeats,omitempty"`

	NetworkTimeout string `yaml:"networkTimeout,omitempty"`
	SocketTimeout  string `yaml:"socketTimeout,omitempty"`
	AckTimeout     string `yaml:"ackTimeout,omitempty"`
	MaxAckTimeout  string `yaml:"maxAckTimeout,omitempty"`
	ReconnectCount int    `yaml:"reconnectCount,omitempty"`

	JoinTimeout string `yaml:"joinTimeout,omitempty"`

	IPFinderCleanFrequency string `yaml:"ipFinderCleanFrequency,omitempty"`
	StatisticsPrintFreq    string `yaml:"statisticsPrintFrequency,omitempty"`
	TopologyHistorySize    int    `yaml:"topologyHistorySize,omitempty"`
	ForceServerMode        bool   `yaml:"forceServerMode,omitempty"`
	ThreadPriority         int    `yaml:"threadPriority,omitempty"`

	// Peer discovery: exactly one provider is consulted. Peers is a
	// static list; SharedFile and SQLiteBook point at cluster-shared
	// stores. Peers wins if more than one is set.
	Peers      []string `yaml:"peers,omitempty"`
	SharedFile string   `yaml:"sharedFile,omitempty"`
	SQLiteBook string   `yaml:"sqliteBook,omitempty"`

	// AuthSecret, when set, enables the shared-secret HMAC
	// authenticator for join admission.
	AuthSecret string `yaml:"authSecret,omitempty"`
}

// Path returns the default config file location, following the
// $XDG_CONFIG_HOME/<app>/config.yaml convention.
func Path() (string, error) {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("config: resolve home directory: %w", err)
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "ringmesh", "config.yaml"), nil
}

// Settings is the fully resolved daemon configuration: the discovery
// core's tunables plus the peer-provider and authenticator selection
// that live outside the core.
type Settings struct {
	Discovery  discovery.Config
	Peers      []string
	SharedFile string
	SQLiteBook string
	AuthSecret string
}

// Load reads path and overlays it onto discovery.DefaultConfig(). A
// missing file is not an error — it yields the defaults unchanged.
func Load(path string) (Settings, error) {
	cfg := discovery.DefaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Settings{Discovery: cfg}, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Settings{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	resolved, err := f.apply(cfg)
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		Discovery:  resolved,
		Peers:      f.Peers,
		SharedFile: f.SharedFile,
		SQLiteBook: f.SQLiteBook,
		AuthSecret: f.AuthSecret,
	}, nil
}

func (f File) apply(cfg discovery.Config) (discovery.Config, error) {
	if f.LocalAddress != "" {
		cfg.LocalAddress = f.LocalAddress
	}
	if f.LocalPort != 0 {
		cfg.LocalPort = f.LocalPort
	}
	if f.LocalPortRange != 0 {
		cfg.LocalPortRange = f.LocalPortRange
	}
	if f.MaxMissedHeartbeats != 0 {
		cfg.MaxMissedHeartbeats = f.MaxMissedHeartbeats
	}
	if f.MaxMissedClientHeartbeats != 0 {
		cfg.MaxMissedClientHeartbeats = f.MaxMissedClientHeartbeats
	}
	if f.ReconnectCount != 0 {
		cfg.ReconnectCount = f.ReconnectCount
	}
	if f.TopologyHistorySize != 0 {
		cfg.TopologyHistorySize = f.TopologyHistorySize
	}
	if f.TopologyHistorySize != 0 && f.TopologyHistorySize < 1000 {
		return discovery.Config{}, fmt.Errorf("config: topologyHistorySize must be >= 1000, got %d", f.TopologyHistorySize)
	}
	cfg.ForceServerMode = cfg.ForceServerMode || f.ForceServerMode
	if f.ThreadPriority != 0 {
		cfg.ThreadPriority = f.ThreadPriority
	}

	durations := []struct {
		raw string
		dst *time.Duration
	}{
		{f.HeartbeatFrequency, &cfg.HeartbeatFrequency},
		{f.NetworkTimeout, &cfg.NetworkTimeout},
		{f.SocketTimeout, &cfg.SocketTimeout},
		{f.AckTimeout, &cfg.AckTimeout},
		{f.MaxAckTimeout, &cfg.MaxAckTimeout},
		{f.JoinTimeout, &cfg.JoinTimeout},
		{f.IPFinderCleanFrequency, &cfg.IPFinderCleanFrequency},
		{f.StatisticsPrintFreq, &cfg.StatisticsPrintFreq},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return discovery.Config{}, fmt.Errorf("config: invalid duration %q: %w", d.raw, err)
		}
		*d.dst = parsed
	}
	return cfg, nil
}
