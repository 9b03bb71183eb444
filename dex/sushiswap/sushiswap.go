package sushiswap

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/michaelpento.lv/flasharb/dex/uniswap"
)

// Factory addresses
var (
	MainnetFactory = common.HexToAddress("0xC0AEe478e3658e2610c5F7A4A2E1777cE9e4f2Ac")
	MainnetRouter  = common.HexToAddress("0xd9e1cE17f2641f24aE83637ab66a2cca9C378B9F")
)

// Mainnet is the SushiSwap V2 deployment. Its pairs are Uniswap V2 forks
// with the same 0.3% fee, so they are priced and swapped by uniswap.Pool.
var Mainnet = uniswap.Deployment{
	Name:         "SushiswapV2",
	Factory:      MainnetFactory,
	InitCodeHash: common.FromHex("0xe18a34eb0e04b04f7a0ac29a6e80748dca96319b42c54d679cb821dca90c6303"),
}

// PoolConfig describes the SushiSwap pair for two tokens
func PoolConfig(a, b common.Address) uniswap.PoolConfig {
	token0, token1 := uniswap.SortTokens(a, b)
	return uniswap.PoolConfig{
		Address: Mainnet.PairFor(token0, token1),
		Name:    Mainnet.Name,
		Token0:  token0,
		Token1:  token1,
		FeeBps:  uniswap.DefaultFeeBps,
	}
}
