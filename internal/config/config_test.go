package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	req := require.New(t)
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_ENV", "test")

	cfg, err := Load()

	req.NoError(err)
	req.Equal(30*time.Second, cfg.NegotiationTimeout)
	req.Equal([]string{"stun:stun.l.google.com:19302"}, cfg.StunServers)
	req.Equal(54*time.Second, cfg.PingPeriod)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	req := require.New(t)
	dir := t.TempDir()
	req.NoError(os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	yaml := "negotiation_timeout: 45s\nstun_servers:\n  - stun:stun.example.org:3478\n"
	req.NoError(os.WriteFile(filepath.Join(dir, "config", "config.test.yaml"), []byte(yaml), 0o644))
	t.Chdir(dir)
	t.Setenv("CONFIG_ENV", "test")

	cfg, err := Load()

	req.NoError(err)
	req.Equal(45*time.Second, cfg.NegotiationTimeout)
	req.Equal([]string{"stun:stun.example.org:3478"}, cfg.StunServers)
}
