package web3

import (
	"context"
	"errors"
	"math/big"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrReverted is returned when a mined transaction carries a failed status.
var ErrReverted = errors.New("transaction reverted")

// ChainSnapshot represents summarized network metadata for status reporting.
type ChainSnapshot struct {
	ChainID     string `json:"chain_id"`
	BlockNumber string `json:"block_number"`
	Notes       string `json:"notes,omitempty"`
}

// Client defines the chain access every network implementation must provide
// so the hiring and subscription layers stay backend agnostic.
type Client interface {
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	ChainID(ctx context.Context) (*big.Int, error)
	// Backend returns the handle contract bindings are bound to.
	Backend() bind.ContractBackend
	SubscribeFilterLogs(ctx context.Context, query gethcore.FilterQuery, ch chan<- types.Log) (gethcore.Subscription, error)
	// WaitMined blocks until tx is included and returns its receipt.
	WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
	Close()
}

// CheckReceipt converts a failed receipt status into ErrReverted.
func CheckReceipt(receipt *types.Receipt) error {
	if receipt == nil {
		return errors.New("missing transaction receipt")
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return ErrReverted
	}
	return nil
}
