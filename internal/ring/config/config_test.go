package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	assert.NilError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	settings, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.NilError(t, err)
	assert.Equal(t, settings.Discovery.HeartbeatFrequency, 2*time.Second)
	assert.Equal(t, settings.Discovery.TopologyHistorySize, 1000)
	assert.Equal(t, len(settings.Peers), 0)
}

func TestLoadOverlaysRecognizedOptions(t *testing.T) {
	path := writeConfig(t, `
localAddress: 10.0.0.7
localPort: 47500
heartbeatFrequency: 500ms
maxMissedHeartbeats: 4
ackTimeout: 250ms
joinTimeout: 30s
peers:
  - 10.0.0.1:47500
  - 10.0.0.2:47500
authSecret: hunter2
`)
	settings, err := Load(path)
	assert.NilError(t, err)
	assert.Equal(t, settings.Discovery.LocalAddress, "10.0.0.7")
	assert.Equal(t, settings.Discovery.LocalPort, 47500)
	assert.Equal(t, settings.Discovery.HeartbeatFrequency, 500*time.Millisecond)
	assert.Equal(t, settings.Discovery.MaxMissedHeartbeats, 4)
	assert.Equal(t, settings.Discovery.AckTimeout, 250*time.Millisecond)
	assert.Equal(t, settings.Discovery.JoinTimeout, 30*time.Second)
	assert.DeepEqual(t, settings.Peers, []string{"10.0.0.1:47500", "10.0.0.2:47500"})
	assert.Equal(t, settings.AuthSecret, "hunter2")
}

func TestLoadRejectsTinyTopologyHistory(t *testing.T) {
	path := writeConfig(t, "topologyHistorySize: 10\n")
	_, err := Load(path)
	assert.ErrorContains(t, err, "topologyHistorySize")
}

func TestLoadRejectsMalformedDuration(t *testing.T) {
	path := writeConfig(t, "networkTimeout: soon\n")
	_, err := Load(path)
	assert.ErrorContains(t, err, "invalid duration")
}
