package main

import (
	"bytes"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hiddenprotocol/internal/config"
)

func TestServiceUnit_Systemd(t *testing.T) {
	path, body, err := serviceUnit("linux", "/usr/local/bin/hiddenprotocol", "/etc/hp/config.yaml")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, "systemd/user/hiddenprotocol.service"))
	assert.Contains(t, body, "ExecStart=/usr/local/bin/hiddenprotocol run --config /etc/hp/config.yaml")
	assert.Contains(t, body, "WorkingDirectory=/etc/hp")
	assert.NotContains(t, body, "{{")
}

func TestServiceUnit_Launchd(t *testing.T) {
	path, body, err := serviceUnit("darwin", "/opt/hp", "/Users/x/.hiddenprotocol/config.json")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, "com.hiddenprotocol.bot.plist"))
	assert.Contains(t, body, "<string>run</string>")
	assert.NotContains(t, body, "{{")
}

func TestServiceUnit_UnsupportedOS(t *testing.T) {
	_, _, err := serviceUnit("plan9", "/bin/hp", "/c.json")
	assert.Error(t, err)
}

func TestEscalationSender_DisabledReturnsNil(t *testing.T) {
	assert.Nil(t, escalationSender(nil, config.EscalationConfig{ChatID: -100}))
}

func TestCheckWritableDir(t *testing.T) {
	dir := t.TempDir() + "/nested/downloads"
	require.NoError(t, checkWritableDir(dir))
}

func writeTestConfig(t *testing.T) string {
	t.Helper()
	cfg := config.Defaults()
	cfg.Telegram.Token = "123456:ABCDEFGHIJ"
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, config.Save(path, cfg))

	prev := configPath
	configPath = path
	t.Cleanup(func() { configPath = prev })
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return path
}

func runConfigCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := configCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestConfigList_Flat(t *testing.T) {
	writeTestConfig(t)

	out, err := runConfigCmd(t, "list", "--flat")
	require.NoError(t, err)
	assert.Contains(t, out, "download.binary = yt-dlp\n")
	assert.Contains(t, out, "telegram.token = 1234****GHIJ\n")
	assert.NotContains(t, out, "ABCDEFGHIJ")
}

func TestConfigSet_RejectsInvalidValueWithoutSaving(t *testing.T) {
	path := writeTestConfig(t)

	_, err := runConfigCmd(t, "set", "--", "download.maxConcurrent", "-1")
	require.Error(t, err)
	_, err = runConfigCmd(t, "set", "download.nope", "1")
	require.Error(t, err)

	cfg, err := config.Load(path, false)
	require.NoError(t, err)
	assert.Equal(t, config.Defaults().Download.MaxConcurrent, cfg.Download.MaxConcurrent)

	_, err = runConfigCmd(t, "set", "download.maxConcurrent", "3")
	require.NoError(t, err)
	cfg, err = config.Load(path, false)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Download.MaxConcurrent)
}
