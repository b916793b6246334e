package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.FileExists(t, path)
	require.Equal(t, ":8545", cfg.ListenAddress)
	require.Equal(t, int64(1), cfg.ChainID)
	require.Equal(t, uint32(500), cfg.FeeBps)
	require.Equal(t, int64(86_400), cfg.PayoutDelaySeconds)
}

func TestLoadParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
ListenAddress = ":9000"
DataDir = "/var/lib/bookadot"
ChainID = 5
FeeBps = 250
PayoutDelaySeconds = 3600
Owner = "0x00000000000000000000000000000000000000aa"
Treasury = "0x00000000000000000000000000000000000000bb"
WhitelistedTokens = ["0x00000000000000000000000000000000000000cc"]
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.ListenAddress)
	require.Equal(t, "/var/lib/bookadot", cfg.DataDir)
	require.Equal(t, int64(5), cfg.ChainID)
	require.Equal(t, uint32(250), cfg.FeeBps)
	require.Equal(t, int64(3600), cfg.PayoutDelaySeconds)
	require.Len(t, cfg.WhitelistedTokens, 1)
}

func TestLoadParsesGenesisBalances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
Owner = "0x00000000000000000000000000000000000000aa"
Treasury = "0x00000000000000000000000000000000000000bb"

[[GenesisBalances]]
Token = "0x00000000000000000000000000000000000000cc"
Address = "0x00000000000000000000000000000000000000dd"
Amount = "1000000000000000000"

[[GenesisBalances]]
Address = "0x00000000000000000000000000000000000000ee"
Amount = "500"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.GenesisBalances, 2)
	require.Equal(t, "0x00000000000000000000000000000000000000cc", cfg.GenesisBalances[0].Token)
	require.Equal(t, "1000000000000000000", cfg.GenesisBalances[0].Amount)
	// An omitted token selects the native currency.
	require.Empty(t, cfg.GenesisBalances[1].Token)
	require.Equal(t, "500", cfg.GenesisBalances[1].Amount)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
Owner = "0x00000000000000000000000000000000000000aa"
Treasury = "0x00000000000000000000000000000000000000bb"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":8545", cfg.ListenAddress)
	require.Equal(t, "./data", cfg.DataDir)
	require.Equal(t, int64(1), cfg.ChainID)
	require.NotNil(t, cfg.WhitelistedTokens)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Owner:    "0x00000000000000000000000000000000000000aa",
			Treasury: "0x00000000000000000000000000000000000000bb",
		}
	}

	require.NoError(t, base().Validate())

	cfg := base()
	cfg.FeeBps = 10_001
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.PayoutDelaySeconds = -1
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Owner = " "
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Treasury = ""
	require.Error(t, cfg.Validate())
}
