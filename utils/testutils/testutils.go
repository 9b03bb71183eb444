package testutils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

// Addresses used by the sample config
var (
	OwnerAddress    = common.HexToAddress("0x1234567890123456789012345678901234567890")
	ExecutorAddress = common.HexToAddress("0x00000000000000000000000000000000000fa5e1")
	WETH            = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	USDC            = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	UniswapPair     = common.HexToAddress("0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc")
	SushiswapPair   = common.HexToAddress("0x397FF1542f962076d0BFE58eA045FfA2d347ACa0")
)

// SampleConfig borrows 10 WETH, sells it on the richer USDC pool and buys
// it back on the cheaper one. With a zero fee the trade nets
// 0.228363322920256861 WETH.
const SampleConfig = `
network:
  rpc_endpoint: http://localhost:8545
  chain_id: 1
executor:
  address: "0x00000000000000000000000000000000000fa5e1"
  owner: "0x1234567890123456789012345678901234567890"
  policy: owner-only
  slippage_bps: 50
vault:
  fee: proportional
  fee_bps: 0
  liquidity:
    WETH: "5000"
assets:
  - symbol: WETH
    address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
    decimals: 18
  - symbol: USDC
    address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
    decimals: 6
pools:
  - name: uni-weth-usdc
    address: "0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc"
    token0: USDC
    token1: WETH
    reserve0: "2100000"
    reserve1: "1000"
  - name: sushi-weth-usdc
    address: "0x397FF1542f962076d0BFE58eA045FfA2d347ACa0"
    token0: USDC
    token1: WETH
    reserve0: "2000000"
    reserve1: "1000"
    fee_bps: 30
trade:
  token: WETH
  amount: "10"
  min_profit: "0.01"
  legs:
    - venue: uni-weth-usdc
      token_in: WETH
      token_out: USDC
    - venue: sushi-weth-usdc
      token_in: USDC
      token_out: WETH
`

// SampleProfit is the sample trade's net profit in wei at zero fee
const SampleProfit = "228363322920256861"

// WriteConfig writes content to a config file in a fresh temp dir and
// returns its path
func WriteConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flasharb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}
