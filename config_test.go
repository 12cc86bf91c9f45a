package main

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "rtl-mus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeTempConfig(t, `
schema_version: "1.0.0"
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, "0.0.0.0", cfg.Server.ListenAddress)
	require.Equal(t, 1234, cfg.Server.ListenPort)
	require.Len(t, cfg.Command.FreqAllowedRanges, 1)
	require.Equal(t, uint32(0), cfg.Command.FreqAllowedRanges[0].Lo)
	require.Equal(t, uint32(0xFFFFFFFF), cfg.Command.FreqAllowedRanges[0].Hi)
}

func TestLoadConfig_AccessRangesParsed(t *testing.T) {
	path := writeTempConfig(t, `
access:
  use_ip_access_control: true
  allowed_ranges: ["10.1."]
  denied_ranges: ["10.0.0.0/8"]
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.True(t, IPAllowed(mustParseIP(t, "10.1.2.3"), &cfg.Access))
	require.False(t, IPAllowed(mustParseIP(t, "10.2.2.3"), &cfg.Access))
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/rtl-mus.yaml")
	require.Error(t, err)
}

func mustParseIP(t *testing.T, s string) net.IP {
	t.Helper()
	ip := net.ParseIP(s)
	require.NotNil(t, ip)
	return ip
}
