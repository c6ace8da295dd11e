package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadFromTOML(t *testing.T, content string) (*Config, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "admind.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	viper.SetConfigFile(path)
	require.NoError(t, viper.ReadInConfig())
	return Load()
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := loadFromTOML(t, "")
	require.NoError(t, err)

	assert.Equal(t, "nats", cfg.Store.Mode)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.Store.URL)
	assert.Equal(t, "admin.0", cfg.Admin.Namespace)
	assert.Equal(t, "local", cfg.Admin.Host)
	assert.Equal(t, "admin", cfg.Admin.DefaultUser)
	assert.Equal(t, 24, cfg.Admin.AutoUpdateHours)
	assert.Equal(t, "https://feeds.homegrid.io/news-hash.json", cfg.Feeds.NewsHashURL)
	assert.Equal(t, "https://feeds.homegrid.io/news.json", cfg.Feeds.NewsURL)
	assert.Equal(t, "https://rating.homegrid.io/rating", cfg.Feeds.RatingURL)
	assert.Empty(t, cfg.Metrics.Addr)
}

func TestLoad_FullFile(t *testing.T) {
	cfg, err := loadFromTOML(t, `
[store]
mode = "embedded"
data_dir = "/var/lib/admind"

[admin]
namespace = "admin.1"
host = "pi"
default_user = "operator"
auto_update_hours = 12
auth = true
access_limit = true
access_apply_rights = true
access_allowed_configs = ["hue", "sonos"]
access_allowed_tabs = ["javascript.0"]

[metrics]
addr = ":9180"
`)
	require.NoError(t, err)

	assert.Equal(t, "embedded", cfg.Store.Mode)
	assert.Equal(t, "/var/lib/admind", cfg.Store.DataDir)
	assert.Equal(t, "admin.1", cfg.Admin.Namespace)
	assert.Equal(t, "pi", cfg.Admin.Host)
	assert.Equal(t, "operator", cfg.Admin.DefaultUser)
	assert.Equal(t, 12, cfg.Admin.AutoUpdateHours)
	assert.True(t, cfg.Admin.Auth)
	assert.True(t, cfg.Admin.AccessLimit)
	assert.True(t, cfg.Admin.AccessApplyRights)
	assert.Equal(t, []string{"hue", "sonos"}, cfg.Admin.AccessAllowedConfigs)
	assert.Equal(t, []string{"javascript.0"}, cfg.Admin.AccessAllowedTabs)
	assert.Equal(t, ":9180", cfg.Metrics.Addr)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "unknown store mode",
			content: "[store]\nmode = \"redis\"\n",
			wantErr: "store.mode",
		},
		{
			name:    "embedded without data dir",
			content: "[store]\nmode = \"embedded\"\ndata_dir = \"\"\n",
			wantErr: "store.data_dir",
		},
		{
			name:    "nats without url",
			content: "[store]\nmode = \"nats\"\nurl = \"\"\n",
			wantErr: "store.url",
		},
		{
			name:    "empty namespace",
			content: "[admin]\nnamespace = \"\"\n",
			wantErr: "admin.namespace",
		},
		{
			name:    "namespace with spaces",
			content: "[admin]\nnamespace = \"admin 0\"\n",
			wantErr: "admin.namespace",
		},
		{
			name:    "negative auto update hours",
			content: "[admin]\nauto_update_hours = -1\n",
			wantErr: "auto_update_hours",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadFromTOML(t, tt.content)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
