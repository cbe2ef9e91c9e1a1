package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidepool-labs/tidepool/config"
)

func TestGeneratedConfigRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tidepool.yaml")
	want := config.GenerateConfig("/var/lib/tidepool")
	require.NoError(t, want.Validate())
	require.NoError(t, want.Write(path))

	got, err := config.LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.Equal(t, 24*time.Hour, got.Network.EpochDuration)
}

func TestWriteDoesNotOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tidepool.yaml")
	require.NoError(t, os.WriteFile(path, []byte("keep me"), 0600))
	require.Error(t, config.GenerateConfig(t.TempDir()).Write(path))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "keep me", string(b))
}

func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := config.LoadConfig(filepath.Join(dir, "missing.yaml"))
	require.ErrorIs(t, err, config.ErrConfigFileUnreadable)

	garbage := filepath.Join(dir, "garbage.yaml")
	require.NoError(t, os.WriteFile(garbage, []byte("storeDir: [unterminated"), 0600))
	_, err = config.LoadConfig(garbage)
	require.ErrorIs(t, err, config.ErrConfigFileUnmarshallable)

	partial := filepath.Join(dir, "partial.yaml")
	require.NoError(t, os.WriteFile(partial, []byte("storeDir: /tmp/tidepool\n"), 0600))
	_, err = config.LoadConfig(partial)
	require.ErrorIs(t, err, config.ErrHTTPListenAddrMissing)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   error
	}{
		{name: "store dir", mutate: func(c *config.Config) { c.StoreDir = "" }, want: config.ErrStoreDirMissing},
		{name: "key name", mutate: func(c *config.Config) { c.KeyName = "" }, want: config.ErrKeyNameMissing},
		{name: "gateway", mutate: func(c *config.Config) { c.Endpoints.Gateway = "" }, want: config.ErrGatewayMissing},
		{name: "shards", mutate: func(c *config.Config) { c.Network.DataShards = 0 }, want: config.ErrNetworkShardsInvalid},
		{name: "nodes", mutate: func(c *config.Config) { c.Network.Nodes = -1 }, want: config.ErrNetworkNodesInvalid},
		{name: "upload timeout", mutate: func(c *config.Config) { c.Upload.Timeout = 0 }, want: config.ErrUploadTimeoutMissing},
		{name: "http timeout", mutate: func(c *config.Config) { c.Retrieval.HTTPTimeout = 0 }, want: config.ErrRetrievalTimeoutMissing},
		{name: "rate limit", mutate: func(c *config.Config) { c.RateLimiter.Limit = 0 }, want: config.ErrRateLimiterLimitMissing},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := config.GenerateConfig(t.TempDir())
			test.mutate(cfg)
			require.ErrorIs(t, cfg.Validate(), test.want)
		})
	}
}
