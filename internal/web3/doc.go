// Package web3 houses blockchain connectivity utilities shared by the hiring
// daemon: the chain client abstraction, multi-chain configuration helpers and
// token unit conversions. Concrete EVM clients live in the ethereum
// subpackage, contract bindings in contracts, and named client selection in
// provider.
package web3
