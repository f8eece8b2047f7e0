package regmap

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mklimuk/twis"
)

// Client talks to a register file from the master side of a bus.
type Client struct {
	mx         sync.Mutex
	transport  twis.I2CBus
	address    byte
	retryLimit int
}

func NewClient(bus twis.I2CBus, address byte) *Client {
	return &Client{retryLimit: 2, transport: bus, address: address}
}

// Read reads n registers from reg on. Buses that can do a repeated start
// send the pointer and read in one transaction.
func (c *Client) Read(ctx context.Context, reg byte, n int) ([]byte, error) {
	var err error
	var res []byte
	for i := c.retryLimit; i > 0; i-- {
		res, err = c.read(ctx, reg, n)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, twis.ErrBusBusy) {
			return nil, fmt.Errorf("could not read registers from %#x: %w", reg, err)
		}
		// try to release the bus
		_ = c.transport.Release(ctx)
	}
	return nil, fmt.Errorf("could not read registers from %#x (retry limit reached): %w", reg, err)
}

func (c *Client) read(ctx context.Context, reg byte, n int) ([]byte, error) {
	c.mx.Lock()
	defer c.mx.Unlock()
	buf := make([]byte, n)
	if tx, ok := c.transport.(twis.Transactor); ok {
		if err := tx.Tx(ctx, c.address, []byte{reg}, buf); err != nil {
			return nil, err
		}
		return buf, nil
	}
	if err := c.transport.WriteToAddr(ctx, c.address, []byte{reg}); err != nil {
		return nil, fmt.Errorf("could not set register pointer: %w", err)
	}
	if err := c.transport.ReadFromAddr(ctx, c.address, buf); err != nil {
		return nil, fmt.Errorf("could not read register data: %w", err)
	}
	return buf, nil
}

// Write stores vals from reg on.
func (c *Client) Write(ctx context.Context, reg byte, vals ...byte) error {
	msg := append([]byte{reg}, vals...)
	var err error
	for i := c.retryLimit; i > 0; i-- {
		c.mx.Lock()
		err = c.transport.WriteToAddr(ctx, c.address, msg)
		c.mx.Unlock()
		if err == nil {
			return nil
		}
		if !errors.Is(err, twis.ErrBusBusy) {
			return fmt.Errorf("could not write registers from %#x: %w", reg, err)
		}
		// try to release the bus
		_ = c.transport.Release(ctx)
	}
	return fmt.Errorf("could not write registers from %#x (retry limit reached): %w", reg, err)
}
