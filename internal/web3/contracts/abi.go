// Package contracts binds the payment token and the escrow contract used by
// the hiring flow. Only the functions and events the daemon needs are
// declared.
package contracts

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// TokenABI covers the ERC-20 approval surface.
const TokenABI = `[
  {"type":"function","name":"approve","stateMutability":"nonpayable",
   "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"allowance","stateMutability":"view",
   "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]}
]`

// EscrowABI covers task creation and the lifecycle events.
const EscrowABI = `[
  {"type":"function","name":"createTask","stateMutability":"nonpayable",
   "inputs":[{"name":"worker","type":"address"},{"name":"amount","type":"uint256"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"event","name":"TaskCreated","anonymous":false,
   "inputs":[{"name":"taskId","type":"uint256","indexed":true},
             {"name":"employer","type":"address","indexed":true},
             {"name":"worker","type":"address","indexed":true},
             {"name":"amount","type":"uint256","indexed":false}]},
  {"type":"event","name":"TaskCompleted","anonymous":false,
   "inputs":[{"name":"taskId","type":"uint256","indexed":true},
             {"name":"output","type":"string","indexed":false}]}
]`

var (
	tokenABI  = mustParse(TokenABI)
	escrowABI = mustParse(EscrowABI)
)

func mustParse(definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic("contracts: invalid ABI: " + err.Error())
	}
	return parsed
}
