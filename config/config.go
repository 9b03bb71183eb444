package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/michaelpento.lv/flasharb/dex/sushiswap"
	"github.com/michaelpento.lv/flasharb/dex/uniswap"
	"github.com/michaelpento.lv/flasharb/executor"
	"github.com/michaelpento.lv/flasharb/flashloan"
	"github.com/michaelpento.lv/flasharb/flashloan/balancer"
	"github.com/michaelpento.lv/flasharb/ledger"
	"github.com/michaelpento.lv/flasharb/types"
	"gopkg.in/yaml.v2"
)

const defaultConfigName = ".flasharb.yaml"

type Config struct {
	Network  NetworkConfig  `yaml:"network"`
	Executor ExecutorConfig `yaml:"executor"`
	Vault    VaultConfig    `yaml:"vault"`
	Assets   []AssetConfig  `yaml:"assets"`
	Pools    []PoolConfig   `yaml:"pools"`
	Trade    TradeConfig    `yaml:"trade"`
}

type NetworkConfig struct {
	RPCEndpoint string          `yaml:"rpc_endpoint"`
	ChainID     uint64          `yaml:"chain_id"`
	Timeout     time.Duration   `yaml:"timeout"`
	MaxRetries  uint            `yaml:"max_retries"`
	CacheSize   int             `yaml:"cache_size"`
	Concurrency int             `yaml:"concurrency"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	BurstSize         int           `yaml:"burst_size"`
	WaitTimeout       time.Duration `yaml:"wait_timeout"`
}

// ExecutorConfig addresses may be hex or an asset/pool name
type ExecutorConfig struct {
	Address     string `yaml:"address"`
	Owner       string `yaml:"owner"`
	Policy      string `yaml:"policy"`
	SlippageBps uint32 `yaml:"slippage_bps"`
}

type VaultConfig struct {
	Address   string            `yaml:"address"`
	Fee       string            `yaml:"fee"` // proportional, flat or zero
	FeeBps    uint32            `yaml:"fee_bps"`
	FeeAmount string            `yaml:"fee_amount"`
	FeeToken  string            `yaml:"fee_token"` // decimals used to parse fee_amount
	Liquidity map[string]string `yaml:"liquidity"` // asset -> amount
}

type AssetConfig struct {
	Symbol   string `yaml:"symbol"`
	Address  string `yaml:"address"`
	Decimals uint8  `yaml:"decimals"`
}

// PoolConfig.Address may be left empty for a known dex, the pair address is
// then derived from the factory.
type PoolConfig struct {
	Name     string  `yaml:"name"`
	Dex      string  `yaml:"dex,omitempty"` // uniswap or sushiswap
	Address  string  `yaml:"address"`
	Token0   string  `yaml:"token0"`
	Token1   string  `yaml:"token1"`
	Reserve0 string  `yaml:"reserve0"`
	Reserve1 string  `yaml:"reserve1"`
	FeeBps   *uint32 `yaml:"fee_bps,omitempty"` // nil means the Uniswap V2 default
}

type TradeConfig struct {
	Caller      string      `yaml:"caller"`
	Token       string      `yaml:"token"`
	Amount      string      `yaml:"amount"`
	MinProfit   string      `yaml:"min_profit"`
	SlippageBps uint32      `yaml:"slippage_bps"`
	Legs        []LegConfig `yaml:"legs"`
}

type LegConfig struct {
	Venue        string `yaml:"venue"`
	TokenIn      string `yaml:"token_in"`
	TokenOut     string `yaml:"token_out"`
	MinAmountOut string `yaml:"min_amount_out"`
}

// ValidateConfig checks every section and reports all problems at once
func (c *Config) ValidateConfig() error {
	var errors []string

	if err := c.Network.RateLimit.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("rate limit error: %v", err))
	}
	if c.Network.Concurrency < 0 {
		errors = append(errors, "network.concurrency must not be negative")
	}

	seen := make(map[string]bool)
	for i, a := range c.Assets {
		key := strings.ToLower(a.Symbol)
		switch {
		case a.Symbol == "":
			errors = append(errors, fmt.Sprintf("assets[%d]: symbol must be specified", i))
		case seen[key]:
			errors = append(errors, fmt.Sprintf("assets[%d]: duplicate symbol %s", i, a.Symbol))
		}
		seen[key] = true
		if !common.IsHexAddress(a.Address) {
			errors = append(errors, fmt.Sprintf("assets[%d]: invalid address %q", i, a.Address))
		}
		if a.Decimals > 77 {
			errors = append(errors, fmt.Sprintf("assets[%d]: %d decimals out of range", i, a.Decimals))
		}
	}

	if _, err := c.ExecutorSettings(); err != nil {
		errors = append(errors, fmt.Sprintf("executor: %v", err))
	}
	if _, err := c.FeePolicy(); err != nil {
		errors = append(errors, fmt.Sprintf("vault: %v", err))
	}
	if _, err := c.VaultLiquidity(); err != nil {
		errors = append(errors, fmt.Sprintf("vault: %v", err))
	}

	for i := range c.Pools {
		if _, err := c.PoolSettings(i); err != nil {
			errors = append(errors, fmt.Sprintf("pools[%d]: %v", i, err))
		}
	}

	if len(c.Trade.Legs) > 0 {
		if _, err := c.TradeSpec(); err != nil {
			errors = append(errors, fmt.Sprintf("trade: %v", err))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}

func (r *RateLimitConfig) Validate() error {
	if r.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests per second must be positive")
	}
	if r.BurstSize <= 0 {
		return fmt.Errorf("burst size must be positive")
	}
	if r.WaitTimeout <= 0 {
		return fmt.Errorf("wait timeout must be positive")
	}

	return nil
}

// LoadConfig reads a YAML file over the defaults, then applies environment
// overrides. An empty path means ~/.flasharb.yaml.
func LoadConfig(cfgFile string) (*Config, error) {
	if cfgFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		cfgFile = filepath.Join(home, defaultConfigName)
	}

	data, err := os.ReadFile(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	config := NewConfig()
	if err := yaml.UnmarshalStrict(data, config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}
	config.ApplyEnv()

	if err := config.ValidateConfig(); err != nil {
		return nil, err
	}

	return config, nil
}

func SaveConfig(cfg *Config, cfgFile string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return os.WriteFile(cfgFile, data, 0o644)
}

// NewConfig returns the defaults: public RPC limits, the mainnet Balancer
// vault with its zero flash loan fee, and an owner-only executor.
func NewConfig() *Config {
	reader := uniswap.DefaultReaderConfig()
	return &Config{
		Network: NetworkConfig{
			RPCEndpoint: "http://localhost:8545",
			ChainID:     1,
			Timeout:     30 * time.Second,
			MaxRetries:  reader.MaxRetries,
			CacheSize:   reader.CacheSize,
			Concurrency: 4,
			RateLimit: RateLimitConfig{
				RequestsPerSecond: reader.RequestsPerSecond,
				BurstSize:         reader.Burst,
				WaitTimeout:       reader.MaxElapsed,
			},
		},
		Executor: ExecutorConfig{
			Policy:      executor.OwnerOnly.String(),
			SlippageBps: executor.DefaultSlippageBps,
		},
		Vault: VaultConfig{
			Address: balancer.VaultAddress,
			Fee:     "proportional",
		},
	}
}

// ReaderConfig maps the network section onto pair reader settings
func (c *Config) ReaderConfig() uniswap.ReaderConfig {
	return uniswap.ReaderConfig{
		CacheSize:         c.Network.CacheSize,
		RequestsPerSecond: c.Network.RateLimit.RequestsPerSecond,
		Burst:             c.Network.RateLimit.BurstSize,
		MaxRetries:        c.Network.MaxRetries,
		MaxElapsed:        c.Network.RateLimit.WaitTimeout,
	}
}

// Asset looks a token up by symbol (case-insensitive) or address
func (c *Config) Asset(ref string) (types.Asset, error) {
	for _, a := range c.Assets {
		if strings.EqualFold(a.Symbol, ref) || (common.IsHexAddress(ref) && common.HexToAddress(ref) == common.HexToAddress(a.Address)) {
			return types.Asset{Address: common.HexToAddress(a.Address), Symbol: a.Symbol, Decimals: a.Decimals}, nil
		}
	}
	return types.Asset{}, fmt.Errorf("unknown asset %q", ref)
}

// Address resolves an asset symbol, a pool name or a hex address
func (c *Config) Address(ref string) (common.Address, error) {
	if ref == "" {
		return common.Address{}, fmt.Errorf("address not specified")
	}
	if asset, err := c.Asset(ref); err == nil {
		return asset.Address, nil
	}
	for _, p := range c.Pools {
		if p.Name != "" && strings.EqualFold(p.Name, ref) {
			return c.poolAddress(p)
		}
	}
	if !common.IsHexAddress(ref) {
		return common.Address{}, fmt.Errorf("cannot resolve %q to an address", ref)
	}
	return common.HexToAddress(ref), nil
}

// Amount parses a decimal amount in the asset's units. Empty means zero.
func (c *Config) Amount(asset types.Asset, s string) (*big.Int, error) {
	if strings.TrimSpace(s) == "" {
		return new(big.Int), nil
	}
	amount, err := ledger.ParseUnits(s, asset.Decimals)
	if err != nil {
		return nil, fmt.Errorf("%s amount: %w", asset.Symbol, err)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("%s amount %s is negative", asset.Symbol, s)
	}
	return amount, nil
}

// ExecutorSettings builds the immutable executor config
func (c *Config) ExecutorSettings() (executor.Config, error) {
	self, err := c.Address(c.Executor.Address)
	if err != nil {
		return executor.Config{}, fmt.Errorf("address: %w", err)
	}
	owner, err := c.Address(c.Executor.Owner)
	if err != nil {
		return executor.Config{}, fmt.Errorf("owner: %w", err)
	}
	vault, err := c.Address(c.Vault.Address)
	if err != nil {
		return executor.Config{}, fmt.Errorf("vault: %w", err)
	}
	policy, err := executor.ParsePolicy(c.Executor.Policy)
	if err != nil {
		return executor.Config{}, err
	}
	if c.Executor.SlippageBps > 10000 {
		return executor.Config{}, fmt.Errorf("slippage %d bps out of range", c.Executor.SlippageBps)
	}

	return executor.Config{
		Vault:       vault,
		Owner:       owner,
		Self:        self,
		Policy:      policy,
		SlippageBps: c.Executor.SlippageBps,
	}, nil
}

// FeePolicy builds the vault's flash loan fee model
func (c *Config) FeePolicy() (flashloan.FeePolicy, error) {
	var amount *big.Int
	if strings.EqualFold(c.Vault.Fee, "flat") {
		asset, err := c.Asset(c.Vault.FeeToken)
		if err != nil {
			return nil, fmt.Errorf("fee_token: %w", err)
		}
		if amount, err = c.Amount(asset, c.Vault.FeeAmount); err != nil {
			return nil, err
		}
	}
	return flashloan.ParseFeePolicy(c.Vault.Fee, amount, c.Vault.FeeBps)
}

// VaultLiquidity returns the vault's seeded balances keyed by token
func (c *Config) VaultLiquidity() (map[common.Address]*big.Int, error) {
	out := make(map[common.Address]*big.Int, len(c.Vault.Liquidity))
	for ref, s := range c.Vault.Liquidity {
		asset, err := c.Asset(ref)
		if err != nil {
			return nil, fmt.Errorf("liquidity: %w", err)
		}
		amount, err := c.Amount(asset, s)
		if err != nil {
			return nil, err
		}
		out[asset.Address] = amount
	}
	return out, nil
}

// Pool is a resolved pool entry
type Pool struct {
	uniswap.PoolConfig
	Reserve0 *big.Int
	Reserve1 *big.Int
}

// PoolSettings resolves the i-th pool entry
func (c *Config) PoolSettings(i int) (Pool, error) {
	p := c.Pools[i]
	addr, err := c.poolAddress(p)
	if err != nil {
		return Pool{}, err
	}
	token0, err := c.Asset(p.Token0)
	if err != nil {
		return Pool{}, fmt.Errorf("token0: %w", err)
	}
	token1, err := c.Asset(p.Token1)
	if err != nil {
		return Pool{}, fmt.Errorf("token1: %w", err)
	}
	if token0.Address == token1.Address {
		return Pool{}, fmt.Errorf("identical tokens %s", token0.Symbol)
	}
	r0, err := c.Amount(token0, p.Reserve0)
	if err != nil {
		return Pool{}, err
	}
	r1, err := c.Amount(token1, p.Reserve1)
	if err != nil {
		return Pool{}, err
	}

	fee := uint32(uniswap.DefaultFeeBps)
	if p.FeeBps != nil {
		fee = *p.FeeBps
	}
	if fee >= 10000 {
		return Pool{}, fmt.Errorf("fee %d bps out of range", fee)
	}

	name := p.Name
	if name == "" {
		name = token0.Symbol + "/" + token1.Symbol
		if d, ok := deployments[strings.ToLower(p.Dex)]; ok {
			name = d.Name + " " + name
		}
	}

	return Pool{
		PoolConfig: uniswap.PoolConfig{
			Address: addr,
			Name:    name,
			Token0:  token0.Address,
			Token1:  token1.Address,
			FeeBps:  fee,
		},
		Reserve0: r0,
		Reserve1: r1,
	}, nil
}

var deployments = map[string]uniswap.Deployment{
	"uniswap":   uniswap.Mainnet,
	"uniswapv2": uniswap.Mainnet,
	"sushiswap": sushiswap.Mainnet,
}

func (c *Config) poolAddress(p PoolConfig) (common.Address, error) {
	if p.Address != "" {
		if !common.IsHexAddress(p.Address) {
			return common.Address{}, fmt.Errorf("invalid pool address %q", p.Address)
		}
		return common.HexToAddress(p.Address), nil
	}

	d, ok := deployments[strings.ToLower(p.Dex)]
	if !ok {
		return common.Address{}, fmt.Errorf("pool address not specified and dex %q unknown", p.Dex)
	}
	token0, err := c.Asset(p.Token0)
	if err != nil {
		return common.Address{}, fmt.Errorf("token0: %w", err)
	}
	token1, err := c.Asset(p.Token1)
	if err != nil {
		return common.Address{}, fmt.Errorf("token1: %w", err)
	}
	return d.PairFor(token0.Address, token1.Address), nil
}

// TradeSpec resolves the trade section. Leg minimums are in the leg's
// output token units.
func (c *Config) TradeSpec() (types.TradeSpec, error) {
	token, err := c.Asset(c.Trade.Token)
	if err != nil {
		return types.TradeSpec{}, fmt.Errorf("token: %w", err)
	}
	amount, err := c.Amount(token, c.Trade.Amount)
	if err != nil {
		return types.TradeSpec{}, err
	}
	minProfit, err := c.Amount(token, c.Trade.MinProfit)
	if err != nil {
		return types.TradeSpec{}, err
	}

	spec := types.TradeSpec{
		Token:       token.Address,
		Amount:      amount,
		MinProfit:   minProfit,
		SlippageBps: c.Trade.SlippageBps,
		Path:        make(types.Path, 0, len(c.Trade.Legs)),
	}
	for i, leg := range c.Trade.Legs {
		venue, err := c.Address(leg.Venue)
		if err != nil {
			return types.TradeSpec{}, fmt.Errorf("leg %d venue: %w", i, err)
		}
		in, err := c.Asset(leg.TokenIn)
		if err != nil {
			return types.TradeSpec{}, fmt.Errorf("leg %d: %w", i, err)
		}
		out, err := c.Asset(leg.TokenOut)
		if err != nil {
			return types.TradeSpec{}, fmt.Errorf("leg %d: %w", i, err)
		}

		var minOut *big.Int
		if leg.MinAmountOut != "" {
			if minOut, err = c.Amount(out, leg.MinAmountOut); err != nil {
				return types.TradeSpec{}, fmt.Errorf("leg %d: %w", i, err)
			}
		}
		spec.Path = append(spec.Path, types.SwapLeg{
			Venue:        venue,
			TokenIn:      in.Address,
			TokenOut:     out.Address,
			MinAmountOut: minOut,
		})
	}
	if len(spec.Path) > 0 {
		spec.Path[0].AmountIn = amount
	}
	return spec, nil
}

// Caller resolves the trade caller, defaulting to the owner
func (c *Config) Caller() (common.Address, error) {
	if c.Trade.Caller == "" {
		return c.Address(c.Executor.Owner)
	}
	return c.Address(c.Trade.Caller)
}
