// Package chain talks to the market factory, market and collateral token
// contracts through go-ethereum. Raw calls live on Client, which is bound to
// one RPC endpoint at a time; Service routes every call through the rpc
// failover executor and classifies failures into domain.ChainError.
package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const factoryABIJSON = `[
  {"type":"function","name":"currentEpoch","stateMutability":"view","inputs":[],
   "outputs":[{"name":"epochId","type":"uint256"},{"name":"startTime","type":"uint256"},{"name":"endTime","type":"uint256"},{"name":"rewardPool","type":"uint256"}]},
  {"type":"function","name":"epochPhase","stateMutability":"view","inputs":[{"name":"epochId","type":"uint256"}],
   "outputs":[{"name":"","type":"uint8"}]},
  {"type":"function","name":"pendingEpochs","stateMutability":"view","inputs":[],
   "outputs":[{"name":"epochIds","type":"uint256[]"},{"name":"rewards","type":"uint256[]"}]},
  {"type":"function","name":"creationFee","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"createMarket","stateMutability":"nonpayable",
   "inputs":[{"name":"question","type":"string"},{"name":"optionA","type":"string"},{"name":"optionB","type":"string"},{"name":"endTime","type":"uint256"},{"name":"imageUrl","type":"string"},{"name":"tags","type":"string"}],
   "outputs":[{"name":"market","type":"address"}]},
  {"type":"event","name":"MarketCreated","anonymous":false,
   "inputs":[{"name":"marketId","type":"uint256","indexed":true},{"name":"market","type":"address","indexed":true},{"name":"creator","type":"address","indexed":true},{"name":"question","type":"string","indexed":false},{"name":"endTime","type":"uint256","indexed":false}]},
  {"type":"error","name":"WeekNotActive","inputs":[]},
  {"type":"error","name":"InsufficientBalance","inputs":[]},
  {"type":"error","name":"DeadlineTooFar","inputs":[]},
  {"type":"error","name":"DeadlineTooSoon","inputs":[]},
  {"type":"error","name":"DeadlineInPast","inputs":[]}
]`

const marketABIJSON = `[
  {"type":"function","name":"placeBet","stateMutability":"nonpayable",
   "inputs":[{"name":"option","type":"uint8"},{"name":"amount","type":"uint256"}],"outputs":[]},
  {"type":"error","name":"MarketClosed","inputs":[]},
  {"type":"error","name":"InsufficientBalance","inputs":[]}
]`

const erc20ABIJSON = `[
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
  {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"error","name":"ERC20InsufficientBalance","inputs":[{"name":"sender","type":"address"},{"name":"balance","type":"uint256"},{"name":"needed","type":"uint256"}]},
  {"type":"error","name":"ERC20InsufficientAllowance","inputs":[{"name":"spender","type":"address"},{"name":"allowance","type":"uint256"},{"name":"needed","type":"uint256"}]}
]`

var (
	factoryABI = mustParseABI(factoryABIJSON)
	marketABI  = mustParseABI(marketABIJSON)
	erc20ABI   = mustParseABI(erc20ABIJSON)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("chain: parse abi: " + err.Error())
	}
	return parsed
}
