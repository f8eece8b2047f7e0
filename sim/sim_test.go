package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/twis"
	"github.com/mklimuk/twis/slave"
)

func TestRAM(t *testing.T) {
	ram := NewRAM(16)
	a := ram.Alloc(10)
	require.Len(t, a, 10)
	assert.Equal(t, 6, ram.Free())
	assert.Nil(t, ram.Alloc(7))
	b := ram.Alloc(6)
	require.Len(t, b, 6)
	assert.Equal(t, 0, ram.Free())

	assert.True(t, ram.Contains(a))
	assert.True(t, ram.Contains(b[2:4]))
	assert.False(t, ram.Contains(a[:0]))
	assert.False(t, ram.Contains(make([]byte, 4)))
	assert.Equal(t, 10, cap(a), "allocations do not overlap")
}

// isrFunc adapts a function to slave.ISR.
type isrFunc func(ev slave.BusEvent)

func (f isrFunc) HandleBusEvent(ev slave.BusEvent) { f(ev) }

func newTestController(t *testing.T, opts ...Option) (*Controller, *[]slave.BusEvent) {
	t.Helper()
	c := NewController("twis0", opts...)
	require.NoError(t, c.Configure(slave.DefaultConfig(slave.PinNumber(0, 1), slave.PinNumber(0, 2), 0x20)))
	var events []slave.BusEvent
	c.Attach(isrFunc(func(ev slave.BusEvent) { events = append(events, ev) }), 1)
	c.Enable()
	return c, &events
}

func TestController_AddressNack(t *testing.T) {
	c, events := newTestController(t)
	assert.ErrorIs(t, c.StartRead(0x21), twis.ErrNack)
	assert.Empty(t, *events)

	c.Disable()
	assert.ErrorIs(t, c.StartWrite(0x20), twis.ErrNack)

	bus := NewBus(c)
	err := bus.ReadFromAddr(context.Background(), 0x20, make([]byte, 1))
	assert.ErrorIs(t, err, twis.ErrNack)
}

func TestController_Overread(t *testing.T) {
	c, events := newTestController(t, WithORC(0xAA))
	require.NoError(t, c.StartRead(0x20))
	c.PrepareTx([]byte{1, 2})

	got, err := c.ReadBytes(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 0xAA, 0xAA}, got)
	assert.Equal(t, 2, c.TxAmount())
	assert.Equal(t, slave.NewFaultSet(slave.FaultOverread), c.ErrorSource())
	assert.True(t, c.ErrorSource().Empty(), "error source is cleared on read")
	c.Stop()
	assert.Equal(t, []slave.BusEvent{slave.BusRead, slave.BusError, slave.BusStopped}, *events)
}

func TestController_Overflow(t *testing.T) {
	c, events := newTestController(t)
	require.NoError(t, c.StartWrite(0x20))
	buf := make([]byte, 2)
	c.PrepareRx(buf)

	err := c.WriteBytes(context.Background(), []byte{7, 8, 9})
	assert.ErrorIs(t, err, twis.ErrNack)
	assert.Equal(t, []byte{7, 8}, buf)
	assert.Equal(t, 2, c.RxAmount())
	assert.Equal(t, slave.NewFaultSet(slave.FaultOverflow, slave.FaultDataNack), c.ErrorSource())
	assert.Equal(t, []slave.BusEvent{slave.BusWrite, slave.BusError}, *events)
}

func TestController_StallsUntilPrepared(t *testing.T) {
	c, _ := newTestController(t)
	require.NoError(t, c.StartRead(0x20))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.ReadBytes(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	go func() {
		time.Sleep(10 * time.Millisecond)
		c.PrepareTx([]byte{0x5A})
	}()
	got, err := c.ReadBytes(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x5A}, got)
}

func TestController_AbortReleasesMaster(t *testing.T) {
	c, _ := newTestController(t)
	require.NoError(t, c.StartWrite(0x20))
	go func() {
		time.Sleep(10 * time.Millisecond)
		c.Abort()
	}()
	err := c.WriteBytes(context.Background(), []byte{1})
	assert.ErrorIs(t, err, twis.ErrNack)
}

func TestController_StopWithoutTransfer(t *testing.T) {
	c, events := newTestController(t)
	c.Stop()
	assert.Empty(t, *events)
}

func TestController_Addressable(t *testing.T) {
	c := NewController("twis0")
	assert.True(t, c.Addressable(make([]byte, 1)))
	assert.False(t, c.Addressable(nil))

	ram := NewRAM(8)
	c = NewController("twis1", WithRAM(ram), WithResource("serial1"), WithMaxTransfer(8))
	assert.True(t, c.Addressable(ram.Alloc(4)))
	assert.False(t, c.Addressable(make([]byte, 4)))
	assert.Equal(t, "serial1", c.Resource())
	assert.Equal(t, 8, c.MaxTransfer())
}
