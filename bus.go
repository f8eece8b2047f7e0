// Package twis holds the master-side bus contract shared by the tools that
// exercise a two-wire slave, simulated or real.
package twis

import (
	"context"
	"errors"
	"fmt"
)

var ErrBusBusy = fmt.Errorf("I2C engine is busy (command not completed)")

// ErrNack is returned by a master when the addressed slave did not
// acknowledge the address or a data byte.
var ErrNack = errors.New("slave did not acknowledge")

type AddressableReader interface {
	ReadFromAddr(ctx context.Context, address byte, buffer []byte) error
}

type AddressableWriter interface {
	WriteToAddr(ctx context.Context, address byte, buffer []byte) error
	Release(ctx context.Context) error
}

type I2CBus interface {
	AddressableReader
	AddressableWriter
}

// Transactor is implemented by masters able to issue a write followed by a
// read with a repeated start in between. A nil w or r skips that phase.
type Transactor interface {
	Tx(ctx context.Context, address byte, w, r []byte) error
}
