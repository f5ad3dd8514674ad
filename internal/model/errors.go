package model

import "errors"

// Error kinds from the error taxonomy (spec §7). Components return these
// directly or wrap them with fmt.Errorf("...: %w", ...) the way the teacher
// wraps every fallible call ("connect rpc: %w", "read config: %w", ...).
var (
	ErrChainNotSupported  = errors.New("chain not supported")
	ErrPoolNotFound       = errors.New("pool not found")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrDecode             = errors.New("decode error")
	ErrInvalidAddress     = errors.New("invalid address")
)

// RPCError wraps a transport/timeout failure from the chain adapter. It is
// a distinct type (rather than a sentinel) because callers want the
// underlying cause for logging.
type RPCError struct {
	Op  string
	Err error
}

func (e *RPCError) Error() string {
	if e.Err == nil {
		return "rpc error: " + e.Op
	}
	return "rpc error: " + e.Op + ": " + e.Err.Error()
}

func (e *RPCError) Unwrap() error { return e.Err }
