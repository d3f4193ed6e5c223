package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"launchpad/crypto"
	"launchpad/native/market"

	"github.com/BurntSushi/toml"
)

// Duration wraps time.Duration so TOML files can carry values like "24h".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// StageSeed declares a sale stage applied at first boot. Amounts are decimal
// strings in the stable token's base units.
type StageSeed struct {
	Cap         string `toml:"Cap"`
	MinPurchase string `toml:"MinPurchase"`
	MaxPurchase string `toml:"MaxPurchase"`
	Activate    bool   `toml:"Activate"`
}

// Pauses seeds the per-module pause switches applied at boot.
type Pauses struct {
	Sale     bool `toml:"Sale"`
	Referral bool `toml:"Referral"`
	Market   bool `toml:"Market"`
}

type Config struct {
	RPCAddress   string   `toml:"RPCAddress"`
	DataDir      string   `toml:"DataDir"`
	IntentDBPath string   `toml:"IntentDBPath"`
	IntentTTL    Duration `toml:"IntentTTL"`
	EventHistory int      `toml:"EventHistory"`
	NetworkName  string   `toml:"NetworkName"`

	StableToken    string `toml:"StableToken"`
	Treasury       string `toml:"Treasury"`
	CustodyAccount string `toml:"CustodyAccount"`

	EVMEndpoint  string   `toml:"EVMEndpoint"`
	ChainID      uint64   `toml:"ChainID"`
	VenueFactory string   `toml:"VenueFactory"`
	VenueRouter  string   `toml:"VenueRouter"`
	FeeTiers     []uint32 `toml:"FeeTiers"`
	SwapDeadline Duration `toml:"SwapDeadline"`

	OperatorKeystorePath string `toml:"OperatorKeystorePath"`
	OperatorKMSEnv       string `toml:"OperatorKMSEnv"`

	ReferralLevel1Bps uint32 `toml:"ReferralLevel1Bps"`
	ReferralLevel2Bps uint32 `toml:"ReferralLevel2Bps"`

	Pauses Pauses      `toml:"Pauses"`
	Stages []StageSeed `toml:"Stage"`
}

// Load loads the configuration from the given path.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}

	for _, undecoded := range meta.Undecoded() {
		if len(undecoded) == 1 && undecoded[0] == "AuthToken" {
			return nil, fmt.Errorf("config file %s uses deprecated AuthToken field; set the LAUNCHPAD_RPC_TOKEN environment variable instead", path)
		}
	}

	if cfg.OperatorKMSEnv == "" {
		if err := ensureOperatorKeystore(path, cfg); err != nil {
			return nil, err
		}
	}

	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "launchpad-local"
	}
	if cfg.EventHistory <= 0 {
		cfg.EventHistory = 1024
	}
	if cfg.FeeTiers == nil {
		cfg.FeeTiers = append([]uint32{}, market.DefaultFeeTiers...)
	}

	return cfg, nil
}

// IntentPath resolves the replay-protection database location, defaulting to
// a file inside the data directory.
func (c *Config) IntentPath() string {
	if strings.TrimSpace(c.IntentDBPath) != "" {
		return c.IntentDBPath
	}
	return filepath.Join(c.DataDir, "intents.db")
}

// SwapEnabled reports whether venue contracts are configured, i.e. whether
// non-stable payment tokens can be accepted.
func (c *Config) SwapEnabled() bool {
	return strings.TrimSpace(c.VenueFactory) != "" || strings.TrimSpace(c.VenueRouter) != ""
}

func ensureOperatorKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.OperatorKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveOperatorKey(keystorePath, key, ""); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.OperatorKeystorePath != keystorePath {
		cfg.OperatorKeystorePath = keystorePath
		return persist(configPath, cfg)
	}

	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveOperatorKey(keystorePath, key, ""); err != nil {
		return nil, err
	}

	cfg := &Config{
		RPCAddress:   ":8080",
		DataDir:      "./launchpad-data",
		IntentTTL:    Duration{Duration: 24 * time.Hour},
		EventHistory: 1024,
		NetworkName:  "launchpad-local",
		FeeTiers:     append([]uint32{}, market.DefaultFeeTiers...),
		SwapDeadline: Duration{Duration: 5 * time.Minute},
	}
	cfg.OperatorKeystorePath = keystorePath

	if err := persist(path, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "operator.keystore")
}
