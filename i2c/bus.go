// Package i2c provides host-side bus masters for talking to a slave under
// test: a periph.io bus for Linux i2c-dev and a gobot bus for NanoPi boards.
package i2c

import (
	"context"
	"fmt"
	"log/slog"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/mklimuk/twis"
)

var _ twis.I2CBus = &GenericBus{}
var _ twis.Transactor = &GenericBus{}

type GenericBus struct {
	bus i2c.BusCloser
}

// NewGenericBus opens a bus by name, an empty name picks the first one.
func NewGenericBus(dev string) (*GenericBus, error) {
	state, err := host.Init()
	if err != nil {
		return nil, fmt.Errorf("could not init host: %w", err)
	}
	for _, driver := range state.Loaded {
		slog.Debug("host driver loaded", "driver", driver.String())
	}
	bus, err := i2creg.Open(dev)
	if err != nil {
		return nil, fmt.Errorf("could not open i2c bus: %w", err)
	}
	return NewBus(bus), nil
}

// NewBus wraps an already open bus.
func NewBus(bus i2c.BusCloser) *GenericBus {
	return &GenericBus{
		bus: bus,
	}
}

// SetSpeed sets the bus clock in Hz.
func (b *GenericBus) SetSpeed(hz int64) error {
	if err := b.bus.SetSpeed(physic.Frequency(hz) * physic.Hertz); err != nil {
		return fmt.Errorf("could not set i2c bus speed to %dHz: %w", hz, err)
	}
	return nil
}

func (b *GenericBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	err := b.bus.Tx(uint16(address), nil, buffer)
	if err != nil {
		return fmt.Errorf("could not read from i2c bus %x: %w", address, err)
	}
	return nil
}

func (b *GenericBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	err := b.bus.Tx(uint16(address), buffer, nil)
	if err != nil {
		return fmt.Errorf("could not write to i2c bus %x: %w", address, err)
	}
	return nil
}

// Tx writes w and reads r with a repeated start in between.
func (b *GenericBus) Tx(ctx context.Context, address byte, w, r []byte) error {
	err := b.bus.Tx(uint16(address), w, r)
	if err != nil {
		return fmt.Errorf("could not transact with %x: %w", address, err)
	}
	return nil
}

func (b *GenericBus) Release(ctx context.Context) error {
	return nil
}

func (b *GenericBus) Close() error {
	return b.bus.Close()
}
