package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
serverinfo:
  name: services.example.org
  sid: "00A"
  description: network services

database:
  driver: sqlite
  dsn: "services.db"

connect:
  - name: hub.example.org
    host: 10.0.0.1
    port: 7000
    password: linkpass
    autoconn: true

operator:
  - name: root
    username: alice
    masks: ["*!*@trusted.example.org"]
    privileges: ["admin", "kline"]

service:
  - name: NickServ
    nick: NickServ
    enabled: true
    tuning:
      flood_window: 10s
      flood_max: 5
      flood_max_ignore: 3
      flood_ignore_window: 1m
    options:
      max_nicks: "5"
`

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadYAMLConfig(t *testing.T) {
	path := writeTemp(t, "services.yaml", sampleYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "services.example.org", cfg.ServerInfo.Name)
	assert.Equal(t, "00A", cfg.ServerInfo.SID)
	require.Len(t, cfg.Connects, 1)
	assert.Equal(t, "hub.example.org", cfg.Connects[0].Name)
	assert.True(t, cfg.Connects[0].AutoConn)
	require.Len(t, cfg.Services, 1)
	assert.Equal(t, 5, cfg.Services[0].Tuning.FloodMax)
	assert.Equal(t, "5", cfg.Services[0].Options["max_nicks"])
}

func TestEnvOverrideWinsOverFile(t *testing.T) {
	path := writeTemp(t, "services.yaml", sampleYAML)
	t.Setenv("RSERVICES_SERVER_NAME", "override.example.org")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "override.example.org", cfg.ServerInfo.Name)
}

func TestReloadRereadsSameSource(t *testing.T) {
	path := writeTemp(t, "services.yaml", sampleYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(sampleYAML+"\n# touch\n"), 0o644))
	reloaded, err := cfg.Reload()
	require.NoError(t, err)
	assert.Equal(t, cfg.ServerInfo.Name, reloaded.ServerInfo.Name)
}
