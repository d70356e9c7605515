package domain

import "errors"

// Chain clients wrap these with %w so failures can be classified by kind.
var (
	ErrConnection          = errors.New("connection error")
	ErrTransport           = errors.New("rpc transport error")
	ErrConfirmationTimeout = errors.New("confirmation timeout")
	ErrReverted            = errors.New("execution reverted")
	ErrRejected            = errors.New("transaction rejected")
	ErrInvalidAddress      = errors.New("invalid address")
	ErrInvalidParams       = errors.New("invalid parameters")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrGasEstimation       = errors.New("gas estimation failed")
)

var (
	ErrNoClient         = errors.New("no chain client for network")
	ErrInvalidReference = errors.New("invalid transaction reference")
	ErrNotConnected     = errors.New("network not connected")
)
