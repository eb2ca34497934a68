package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var ErrInvalidConfig = errors.New("invalid config")

type TokenConfig struct {
	Symbol   string         `yaml:"symbol"`
	Address  common.Address `yaml:"address"`
	Decimals int32          `yaml:"decimals"`
}

// ParseAmount converts a human readable amount such as "1.5" into base units.
func (c *TokenConfig) ParseAmount(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("can't parse amount %q: %w", s, err)
	}
	scaled := d.Shift(c.Decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("amount %s has more than %d decimals", s, c.Decimals)
	}
	return scaled.BigInt(), nil
}

func (c *TokenConfig) FormatAmount(v *big.Int) string {
	return decimal.NewFromBigInt(v, -c.Decimals).String()
}

// ConvertAmount rescales base units of one token into base units of another, truncating dust.
func ConvertAmount(v *big.Int, from, to *TokenConfig) *big.Int {
	if from.Decimals == to.Decimals {
		return new(big.Int).Set(v)
	}
	return decimal.NewFromBigInt(v, to.Decimals-from.Decimals).Truncate(0).BigInt()
}

type GenesisBalance struct {
	Holder common.Address `yaml:"holder"`
	Token  string         `yaml:"token"`
	Amount string         `yaml:"amount"`
}

type ChainConfig struct {
	Name                string           `yaml:"-"`
	ChainID             uint64           `yaml:"chain_id"`
	BlockTime           time.Duration    `yaml:"block_time"`
	Owner               common.Address   `yaml:"owner"`
	RegistryAddress     common.Address   `yaml:"registry_address"`
	StartBlock          uint64           `yaml:"start_block"`
	MaxBlockRangeSize   uint64           `yaml:"max_block_range_size"`
	BlockIndexInterval  time.Duration    `yaml:"block_index_interval"`
	Tokens              []*TokenConfig   `yaml:"tokens"`
	Genesis             []GenesisBalance `yaml:"genesis"`
	AuthorizedResolvers []common.Address `yaml:"authorized_resolvers"`
}

func (c *ChainConfig) TokenBySymbol(symbol string) (*TokenConfig, bool) {
	for _, token := range c.Tokens {
		if strings.EqualFold(token.Symbol, symbol) {
			return token, true
		}
	}
	return nil, false
}

func (c *ChainConfig) TokenByAddress(addr common.Address) (*TokenConfig, bool) {
	for _, token := range c.Tokens {
		if token.Address == addr {
			return token, true
		}
	}
	return nil, false
}

type AuctionConfig struct {
	Duration      time.Duration    `yaml:"duration"`
	MinReputation float64          `yaml:"min_reputation"`
	MinStakeRaw   string           `yaml:"min_stake"`
	MinStake      *big.Int         `yaml:"-"`
	MaxFeeBps     uint64           `yaml:"max_fee_bps"`
	Blacklist     []common.Address `yaml:"blacklist"`
	CloseInterval time.Duration    `yaml:"close_interval"`
}

type ExecutionConfig struct {
	FeeBps            uint64  `yaml:"fee_bps"`
	RequireSignature  bool    `yaml:"require_signature"`
	ReputationReward  float64 `yaml:"reputation_reward"`
	ReputationPenalty float64 `yaml:"reputation_penalty"`
}

type CoordinatorConfig struct {
	DefaultTimeout      time.Duration `yaml:"default_timeout"`
	// SetupTimeout is how long a transfer may wait for its destination leg before it is reported as stalled.
	SetupTimeout        time.Duration `yaml:"setup_timeout"`
	ExpiryCheckInterval time.Duration `yaml:"expiry_check_interval"`
}

type DBConfig struct {
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	DB             string `yaml:"database"`
	SSLMode        string `yaml:"ssl_mode"`
	MaxOpenConns   int    `yaml:"max_open_conns"`
	MaxIdleConns   int    `yaml:"max_idle_conns"`
	MigrationsPath string `yaml:"migrations_path"`
}

type RedisConfig struct {
	Addr string        `yaml:"addr"`
	DB   int           `yaml:"db"`
	TTL  time.Duration `yaml:"ttl"`
}

type PresenterConfig struct {
	Host string `yaml:"host"`
}

type Config struct {
	Chains      map[string]*ChainConfig `yaml:"chains"`
	Auction     *AuctionConfig          `yaml:"auction"`
	Execution   *ExecutionConfig        `yaml:"execution"`
	Coordinator *CoordinatorConfig      `yaml:"coordinator"`
	DBConfig    *DBConfig               `yaml:"postgres"`
	Redis       *RedisConfig            `yaml:"redis"`
	Presenter   *PresenterConfig        `yaml:"presenter"`
	LogLevel    logrus.Level            `yaml:"log_level"`
}

func (c *Config) ChainByID(chainID uint64) (*ChainConfig, bool) {
	for _, chain := range c.Chains {
		if chain.ChainID == chainID {
			return chain, true
		}
	}
	return nil, false
}

func (c *Config) setDefaults() {
	if c.Auction == nil {
		c.Auction = new(AuctionConfig)
	}
	if c.Execution == nil {
		c.Execution = new(ExecutionConfig)
	}
	if c.Coordinator == nil {
		c.Coordinator = new(CoordinatorConfig)
	}
	setDefault(&c.Auction.Duration, 300*time.Second)
	setDefault(&c.Auction.MinReputation, 0.7)
	setDefault(&c.Auction.MinStakeRaw, "0")
	setDefault(&c.Auction.MaxFeeBps, 100)
	setDefault(&c.Auction.CloseInterval, 5*time.Second)
	setDefault(&c.Execution.FeeBps, 10)
	setDefault(&c.Execution.ReputationReward, 0.01)
	setDefault(&c.Execution.ReputationPenalty, 0.05)
	setDefault(&c.Coordinator.DefaultTimeout, time.Hour)
	setDefault(&c.Coordinator.SetupTimeout, c.Coordinator.DefaultTimeout/4)
	setDefault(&c.Coordinator.ExpiryCheckInterval, time.Minute)
	if c.Redis != nil {
		setDefault(&c.Redis.TTL, 10*time.Second)
	}
	if c.DBConfig != nil {
		setDefault(&c.DBConfig.Port, 5432)
		setDefault(&c.DBConfig.SSLMode, "disable")
		setDefault(&c.DBConfig.MaxOpenConns, 10)
		setDefault(&c.DBConfig.MaxIdleConns, 3)
		setDefault(&c.DBConfig.MigrationsPath, "db/migrations")
	}
	for _, chain := range c.Chains {
		setDefault(&chain.BlockTime, 2*time.Second)
		setDefault(&chain.StartBlock, 1)
		setDefault(&chain.MaxBlockRangeSize, 1000)
		setDefault(&chain.BlockIndexInterval, 5*time.Second)
	}
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}

func (c *Config) validate() error {
	if len(c.Chains) < 2 {
		return fmt.Errorf("at least two chains are required: %w", ErrInvalidConfig)
	}
	seen := make(map[uint64]string, len(c.Chains))
	for name, chain := range c.Chains {
		chain.Name = name
		if chain.ChainID == 0 {
			return fmt.Errorf("chain %s has no chain_id: %w", name, ErrInvalidConfig)
		}
		if other, ok := seen[chain.ChainID]; ok {
			return fmt.Errorf("chains %s and %s share chain_id %d: %w", other, name, chain.ChainID, ErrInvalidConfig)
		}
		seen[chain.ChainID] = name
		if chain.Owner == (common.Address{}) || chain.RegistryAddress == (common.Address{}) {
			return fmt.Errorf("chain %s requires owner and registry_address: %w", name, ErrInvalidConfig)
		}
		for _, balance := range chain.Genesis {
			token, ok := chain.TokenBySymbol(balance.Token)
			if !ok {
				return fmt.Errorf("chain %s genesis references unknown token %s: %w", name, balance.Token, ErrInvalidConfig)
			}
			if _, err := token.ParseAmount(balance.Amount); err != nil {
				return fmt.Errorf("chain %s genesis: %v: %w", name, err, ErrInvalidConfig)
			}
		}
	}

	minStake, ok := new(big.Int).SetString(c.Auction.MinStakeRaw, 10)
	if !ok || minStake.Sign() < 0 {
		return fmt.Errorf("auction min_stake %q is not a non-negative integer: %w", c.Auction.MinStakeRaw, ErrInvalidConfig)
	}
	c.Auction.MinStake = minStake
	if c.Auction.MinReputation < 0 || c.Auction.MinReputation > 1 {
		return fmt.Errorf("auction min_reputation must be within [0, 1]: %w", ErrInvalidConfig)
	}
	if c.Auction.MaxFeeBps > 10000 || c.Execution.FeeBps > 10000 {
		return fmt.Errorf("fee basis points must not exceed 10000: %w", ErrInvalidConfig)
	}
	if timeout := c.Coordinator.DefaultTimeout; timeout < time.Hour || timeout > 30*24*time.Hour {
		return fmt.Errorf("timeout %s is outside [1h, 720h]: %w", timeout, ErrInvalidConfig)
	}
	if c.Coordinator.SetupTimeout < 0 || c.Coordinator.SetupTimeout >= c.Coordinator.DefaultTimeout {
		return fmt.Errorf("setup_timeout must be shorter than default_timeout: %w", ErrInvalidConfig)
	}
	return nil
}

func ReadConfig(blob []byte) (*Config, error) {
	cfg := &Config{LogLevel: logrus.InfoLevel}
	if err := parseYaml(cfg, blob); err != nil {
		return nil, err
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReadConfigWithEnv expands ${VAR} references before parsing and applies BRIDGE_* overrides afterwards.
func ReadConfigWithEnv(blob []byte) (*Config, error) {
	cfg, err := ReadConfig([]byte(os.ExpandEnv(string(blob))))
	if err != nil {
		return nil, err
	}
	if err = applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func ReadConfigFromFile(path string) (*Config, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("can't read config file: %w", err)
	}
	return ReadConfigWithEnv(blob)
}
