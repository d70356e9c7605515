package domain

import (
	"math/big"
	"time"
)

// NetworkID names a monitored ledger network, e.g. "ethereum" or "polkadot".
type NetworkID string

// NetworkType selects which chain client implementation serves a network.
type NetworkType string

const (
	NetworkTypeEVM       NetworkType = "evm"
	NetworkTypeSubstrate NetworkType = "substrate"
)

// ConnectionState is the lifecycle state of a network connection.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
)

// ChainInfo is the metadata recorded after a successful connect.
type ChainInfo struct {
	Network     NetworkID `json:"network"`
	Endpoint    string    `json:"endpoint"`
	Name        string    `json:"name"`
	ChainID     string    `json:"chain_id"`
	Head        uint64    `json:"head"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Receipt is the on-chain outcome of a confirmed transaction.
type Receipt struct {
	Reference     string   `json:"reference"`
	BlockNumber   uint64   `json:"block_number"`
	BlockHash     string   `json:"block_hash"`
	GasUsed       *big.Int `json:"gas_used,omitempty"`
	Cost          *big.Int `json:"cost,omitempty"`
	Confirmations uint64   `json:"confirmations"`
}

// FeeLevel is a point-in-time fee or gas price snapshot.
type FeeLevel struct {
	Price      *big.Int  `json:"price"`
	Unit       string    `json:"unit"`
	ObservedAt time.Time `json:"observed_at"`
}
