// Package config loads the daemon configuration from TOML, writing a
// commented default file on first run.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	ListenAddress      string           `toml:"ListenAddress"`
	DataDir            string           `toml:"DataDir"`
	LogFile            string           `toml:"LogFile"`
	Env                string           `toml:"Env"`
	RPCAuthToken       string           `toml:"RPCAuthToken"`
	ChainID            int64            `toml:"ChainID"`
	FeeBps             uint32           `toml:"FeeBps"`
	PayoutDelaySeconds int64            `toml:"PayoutDelaySeconds"`
	Owner              string           `toml:"Owner"`
	Treasury           string           `toml:"Treasury"`
	FactoryAddress     string           `toml:"FactoryAddress"`
	ConfigAddress      string           `toml:"ConfigAddress"`
	WhitelistedTokens  []string         `toml:"WhitelistedTokens"`
	GenesisBalances    []GenesisBalance `toml:"GenesisBalances"`
	SignerKeystorePath string           `toml:"SignerKeystorePath"`
	SignerKeyEnv       string           `toml:"SignerKeyEnv"`
}

// GenesisBalance seeds one account balance on the daemon's first start.
// An empty Token selects the native currency.
type GenesisBalance struct {
	Token   string `toml:"Token"`
	Address string `toml:"Address"`
	Amount  string `toml:"Amount"`
}

// Load reads the configuration at path, creating a default file when
// none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, cfg.Validate()
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = ":8545"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./data"
	}
	if c.ChainID == 0 {
		c.ChainID = 1
	}
	if c.WhitelistedTokens == nil {
		c.WhitelistedTokens = []string{}
	}
}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	if c.FeeBps > 10_000 {
		return fmt.Errorf("config: FeeBps %d exceeds 10000", c.FeeBps)
	}
	if c.PayoutDelaySeconds < 0 {
		return fmt.Errorf("config: negative PayoutDelaySeconds")
	}
	if strings.TrimSpace(c.Owner) == "" {
		return fmt.Errorf("config: Owner address required")
	}
	if strings.TrimSpace(c.Treasury) == "" {
		return fmt.Errorf("config: Treasury address required")
	}
	return nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{
		ListenAddress:      ":8545",
		DataDir:            "./data",
		ChainID:            1,
		FeeBps:             500,
		PayoutDelaySeconds: 86_400,
		WhitelistedTokens:  []string{},
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
