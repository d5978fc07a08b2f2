package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebas/mediaserver/internal/mediaserver/endpoint"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load([]string{"--advertise", "192.0.2.10"})
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.GRPCPort)
	assert.Equal(t, "0.0.0.0", cfg.GRPCBindAddr)
	assert.Equal(t, ":9100", cfg.MetricsAddr)
	assert.Equal(t, "192.0.2.10", cfg.AdvertiseAddr)
	assert.Equal(t, "0.0.0.0", cfg.RTPBindAddr)
	assert.Equal(t, 10000, cfg.RTPPortMin)
	assert.Equal(t, 20000, cfg.RTPPortMax)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 100*time.Millisecond, cfg.HeartbeatQuantum)
	assert.Equal(t, 30*time.Second, cfg.HalfOpenTimeout)
	assert.Zero(t, cfg.OpenTimeout)
	require.Len(t, cfg.Endpoints, 1)
	assert.Equal(t, "conference", cfg.Endpoints[0].Name)
}

func TestLoadAdvertiseAutoDetected(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.AdvertiseAddr)
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("GRPC_PORT", "9191")
	t.Setenv("MEDIASERVER_RTP_PORT_MIN", "30000")
	t.Setenv("MEDIASERVER_OPEN_TIMEOUT", "2m")

	cfg, err := Load([]string{"--rtp-port-max", "31000"})
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.GRPCPort)
	assert.Equal(t, 30000, cfg.RTPPortMin)
	assert.Equal(t, 31000, cfg.RTPPortMax)
	assert.Equal(t, 2*time.Minute, cfg.OpenTimeout)
}

func TestLoadFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("LOGLEVEL", "warn")
	cfg, err := Load([]string{"--loglevel", "debug"})
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mediaserver.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
grpc-port: 7070
heartbeat-quantum: 50ms
endpoints:
  - name: conf
    kind: conference
    local: 4
    rtp: 4
  - name: gw
    kind: bridge
    local: 2
    rtp: 2
`), 0o600))

	cfg, err := Load([]string{"--config", path})
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.GRPCPort)
	assert.Equal(t, 50*time.Millisecond, cfg.HeartbeatQuantum)
	assert.Equal(t, []endpoint.Config{
		{Name: "conf", Kind: "conference", LocalConnections: 4, RTPConnections: 4},
		{Name: "gw", Kind: "bridge", LocalConnections: 2, RTPConnections: 2},
	}, cfg.Endpoints)

	_, err = Load([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")})
	require.Error(t, err)
}

func TestLoadEndpointFlags(t *testing.T) {
	cfg, err := Load([]string{
		"--endpoint", "conf:conference:4:2",
		"--endpoint", "relay:relay:0:6",
		"--endpoint", "local:bridge",
	})
	require.NoError(t, err)
	assert.Equal(t, []endpoint.Config{
		{Name: "conf", Kind: "conference", LocalConnections: 4, RTPConnections: 2},
		{Name: "relay", Kind: "relay", RTPConnections: 6},
		{Name: "local", Kind: "bridge"},
	}, cfg.Endpoints)
}

func TestLoadRejectsInvalid(t *testing.T) {
	for name, args := range map[string][]string{
		"bad endpoint": {"--endpoint", "nope"},
		"bad count":    {"--endpoint", "a:conference:x"},
		"unknown kind": {"--endpoint", "a:ivr:1:1"},
		"duplicate":    {"--endpoint", "a:conference", "--endpoint", "a:relay"},
		"port range":   {"--rtp-port-min", "20000", "--rtp-port-max", "10000"},
		"heartbeat":    {"--heartbeat-quantum", "0s"},
		"unknown flag": {"--no-such-flag"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load(append(args, "--advertise", "127.0.0.1"))
			require.Error(t, err)
		})
	}
}
