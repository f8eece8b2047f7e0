package sim

import (
	"context"
	"fmt"
	"sync"

	"github.com/mklimuk/twis"
)

var _ twis.I2CBus = &Bus{}
var _ twis.Transactor = &Bus{}

// Bus is a simulated master. Every transfer ends with a stop condition,
// also when it fails.
type Bus struct {
	mx    sync.Mutex
	ctrls []*Controller
}

func NewBus(ctrls ...*Controller) *Bus {
	return &Bus{ctrls: ctrls}
}

// Attach connects another controller to the bus.
func (b *Bus) Attach(c *Controller) {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.ctrls = append(b.ctrls, c)
}

func (b *Bus) target(address byte) *Controller {
	for _, c := range b.ctrls {
		if c.Matches(address) {
			return c
		}
	}
	return nil
}

func (b *Bus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	c := b.target(address)
	if c == nil {
		return fmt.Errorf("could not read from i2c bus %x: %w", address, twis.ErrNack)
	}
	if err := c.StartRead(address); err != nil {
		return fmt.Errorf("could not read from i2c bus %x: %w", address, err)
	}
	defer c.Stop()
	data, err := c.ReadBytes(ctx, len(buffer))
	if err != nil {
		return fmt.Errorf("could not read from i2c bus %x: %w", address, err)
	}
	copy(buffer, data)
	return nil
}

func (b *Bus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	c := b.target(address)
	if c == nil {
		return fmt.Errorf("could not write to i2c bus %x: %w", address, twis.ErrNack)
	}
	if err := c.StartWrite(address); err != nil {
		return fmt.Errorf("could not write to i2c bus %x: %w", address, err)
	}
	defer c.Stop()
	if err := c.WriteBytes(ctx, buffer); err != nil {
		return fmt.Errorf("could not write to i2c bus %x: %w", address, err)
	}
	return nil
}

// Tx writes w and then reads r after a repeated start.
func (b *Bus) Tx(ctx context.Context, address byte, w, r []byte) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	c := b.target(address)
	if c == nil {
		return fmt.Errorf("could not transact with %x: %w", address, twis.ErrNack)
	}
	defer c.Stop()
	if w != nil {
		if err := c.StartWrite(address); err != nil {
			return fmt.Errorf("could not write to %x: %w", address, err)
		}
		if err := c.WriteBytes(ctx, w); err != nil {
			return fmt.Errorf("could not write to %x: %w", address, err)
		}
	}
	if r != nil {
		if err := c.StartRead(address); err != nil {
			return fmt.Errorf("could not read from %x after repeated start: %w", address, err)
		}
		data, err := c.ReadBytes(ctx, len(r))
		if err != nil {
			return fmt.Errorf("could not read from %x: %w", address, err)
		}
		copy(r, data)
	}
	return nil
}

func (b *Bus) Release(ctx context.Context) error {
	return nil
}
