package slave

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyInitialized = errors.New("already initialized")
	ErrNotInitialized     = errors.New("not initialized")
	ErrResourceBusy       = errors.New("resource claimed by another driver")
	ErrBusy               = errors.New("transaction in progress")
	ErrInvalidConfig      = errors.New("invalid configuration")
	ErrInvalidAddress     = errors.New("buffer not addressable by the transfer mechanism")
	ErrInvalidLength      = errors.New("invalid buffer length")
	ErrInvalidState       = errors.New("engine not enabled")
	// ErrAborted is returned to a blocked caller when Disable cancels its
	// transaction.
	ErrAborted = errors.New("transaction aborted")
	// ErrTransferFailed is wrapped by every TransferError.
	ErrTransferFailed = errors.New("transfer failed")
)

// Direction of a transaction, seen from the master.
type Direction uint8

const (
	Read Direction = iota
	Write
)

func (d Direction) String() string {
	if d == Write {
		return "write"
	}
	return "read"
}

// TransferError reports a blocking-mode transaction that ended with a
// bus-protocol fault.
type TransferError struct {
	Direction Direction
	Faults    FaultSet
	Amount    int
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s failed after %d bytes: %s", e.Direction, e.Amount, e.Faults)
}

func (e *TransferError) Unwrap() error {
	return ErrTransferFailed
}
