package crdt

import (
	"errors"

	"github.com/kevinxiao27/textcrdt/ol"
)

var (
	ErrInvalidPosition = errors.New("invalid position")
	ErrInvalidLength   = errors.New("invalid length")
	// ErrInternalConsistency means the content index and the identity log
	// disagree. It is a bug, never a user error.
	ErrInternalConsistency = errors.New("internal consistency violation")
	ErrUnknownAddress      = errors.New("unknown address")

	ErrClientCapacityExceeded = ol.ErrClientCapacityExceeded
	ErrUnknownClient          = ol.ErrUnknownClient
	ErrSeqExhausted           = ol.ErrSeqExhausted
)
