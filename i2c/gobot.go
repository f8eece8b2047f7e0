package i2c

import (
	"context"
	"fmt"
	"sync"

	gi2c "gobot.io/x/gobot/v2/drivers/i2c"
	"gobot.io/x/gobot/v2/platforms/friendlyelec/nanopi"

	"github.com/mklimuk/twis"
)

// DefaultNanoPiBus is the i2c bus exposed on the NanoPi header.
const DefaultNanoPiBus = 2

var _ twis.I2CBus = &GobotBus{}

// GobotBus is a master on top of a gobot i2c connector. A driver is started
// for every transfer, so one bus serves any address.
type GobotBus struct {
	mx       sync.Mutex
	conn     gi2c.Connector
	bus      int
	finalize func() error
}

// NewGobotBus uses conn on the given bus number. Close does not finalize
// conn.
func NewGobotBus(conn gi2c.Connector, bus int) *GobotBus {
	return &GobotBus{conn: conn, bus: bus}
}

// NewNanoPiBus connects to the NanoPi NEO i2c adaptor.
func NewNanoPiBus(bus int) (*GobotBus, error) {
	npi := nanopi.NewNeoAdaptor()
	if err := npi.I2cBusAdaptor.Connect(); err != nil {
		return nil, fmt.Errorf("adaptor connect error: %w", err)
	}
	b := NewGobotBus(npi, bus)
	b.finalize = npi.I2cBusAdaptor.Finalize
	return b, nil
}

func (b *GobotBus) driver(address byte) (*gi2c.GenericDriver, error) {
	d := gi2c.NewGenericDriver(b.conn, "twis", int(address), func(c gi2c.Config) {
		c.SetBus(b.bus)
	})
	if err := d.Start(); err != nil {
		return nil, fmt.Errorf("start error: %w", err)
	}
	return d, nil
}

func (b *GobotBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	d, err := b.driver(address)
	if err != nil {
		return fmt.Errorf("could not read from i2c bus %x: %w", address, err)
	}
	defer func() { _ = d.Halt() }()
	if err := d.Read(buffer); err != nil {
		return fmt.Errorf("could not read from i2c bus %x: %w", address, err)
	}
	return nil
}

func (b *GobotBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	d, err := b.driver(address)
	if err != nil {
		return fmt.Errorf("could not write to i2c bus %x: %w", address, err)
	}
	defer func() { _ = d.Halt() }()
	if err := d.Write(buffer); err != nil {
		return fmt.Errorf("could not write to i2c bus %x: %w", address, err)
	}
	return nil
}

func (b *GobotBus) Release(ctx context.Context) error {
	return nil
}

func (b *GobotBus) Close() error {
	if b.finalize == nil {
		return nil
	}
	return b.finalize()
}
