// Package sim models a two-wire slave controller in software so the slave
// engine can be driven by a simulated master, in tests and from the CLI.
package sim

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mklimuk/twis"
	"github.com/mklimuk/twis/slave"
)

// DefaultMaxTransfer is the largest buffer the simulated transfer mechanism
// addresses (a 16-bit byte counter).
const DefaultMaxTransfer = 0xFFFF

// DefaultORC is the over-read character sent once the TX buffer runs out.
const DefaultORC byte = 0xFF

type phase uint8

const (
	phaseNone phase = iota
	phaseRead
	phaseWrite
)

type Options struct {
	Resource    string
	RAM         *RAM
	MaxTransfer int
	ORC         byte
	Logger      *slog.Logger
}

type Option func(*Options)

// WithResource names the hardware block shared with other peripherals.
// It defaults to the controller ID.
func WithResource(res string) Option {
	return func(o *Options) {
		o.Resource = res
	}
}

// WithRAM restricts addressable buffers to those allocated from ram.
func WithRAM(ram *RAM) Option {
	return func(o *Options) {
		o.RAM = ram
	}
}

func WithMaxTransfer(n int) Option {
	return func(o *Options) {
		o.MaxTransfer = n
	}
}

func WithORC(b byte) Option {
	return func(o *Options) {
		o.ORC = b
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

var _ slave.Controller = &Controller{}

// Controller is a simulated slave controller. The slave.Controller methods
// are used by the engine; StartRead, StartWrite, ReadBytes, WriteBytes and
// Stop play the master's side of the bus.
type Controller struct {
	id     string
	config Options
	log    *slog.Logger

	// irq serialises event deliveries, like a single interrupt line
	irq sync.Mutex

	mx       sync.Mutex
	changed  chan struct{} // closed and replaced on every transfer state change
	isr      slave.ISR
	priority uint8
	cfg      slave.Config
	enabled  bool
	routed   [2]slave.Pin
	pulls    [2]slave.Pull
	resets   int

	phase    phase
	aborted  bool
	txBuf    []byte
	rxBuf    []byte
	txAmount int
	rxAmount int
	errorSrc slave.FaultSet
}

func NewController(id string, opts ...Option) *Controller {
	config := Options{
		Resource:    id,
		MaxTransfer: DefaultMaxTransfer,
		ORC:         DefaultORC,
		Logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(&config)
	}
	return &Controller{
		id:      id,
		config:  config,
		log:     config.Logger.With("sim", id),
		changed: make(chan struct{}),
		routed:  [2]slave.Pin{slave.NoPin, slave.NoPin},
	}
}

// notify wakes every waiter. Must be called with mx held.
func (c *Controller) notify() {
	close(c.changed)
	c.changed = make(chan struct{})
}

func (c *Controller) ID() string       { return c.id }
func (c *Controller) Resource() string { return c.config.Resource }

func (c *Controller) Configure(cfg slave.Config) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.cfg = cfg
	if !cfg.SkipPinSelect {
		c.routed = [2]slave.Pin{cfg.SCL, cfg.SDA}
	}
	if !cfg.SkipGPIOConfig {
		c.pulls = [2]slave.Pull{cfg.SCLPull, cfg.SDAPull}
	}
	return nil
}

func (c *Controller) Reset() {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.cfg = slave.Config{}
	c.enabled = false
	c.routed = [2]slave.Pin{slave.NoPin, slave.NoPin}
	c.pulls = [2]slave.Pull{}
	c.resets++
	c.phase = phaseNone
	c.txBuf, c.rxBuf = nil, nil
	c.txAmount, c.rxAmount = 0, 0
	c.errorSrc = 0
	c.notify()
}

func (c *Controller) Attach(isr slave.ISR, priority uint8) {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.isr = isr
	c.priority = priority
}

func (c *Controller) Detach() {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.isr = nil
}

func (c *Controller) Enable() {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.enabled = true
}

func (c *Controller) Disable() {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.enabled = false
	if c.phase != phaseNone {
		c.aborted = true
	}
	c.notify()
}

func (c *Controller) PrepareTx(buf []byte) {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.txBuf = buf
	c.txAmount = 0
	c.notify()
}

func (c *Controller) PrepareRx(buf []byte) {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.rxBuf = buf
	c.rxAmount = 0
	c.notify()
}

func (c *Controller) Abort() {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.phase != phaseNone {
		c.aborted = true
	}
	c.txBuf, c.rxBuf = nil, nil
	c.notify()
}

func (c *Controller) TxAmount() int {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.txAmount
}

func (c *Controller) RxAmount() int {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.rxAmount
}

func (c *Controller) ErrorSource() slave.FaultSet {
	c.mx.Lock()
	defer c.mx.Unlock()
	f := c.errorSrc
	c.errorSrc = 0
	return f
}

func (c *Controller) Addressable(buf []byte) bool {
	if c.config.RAM == nil {
		return buf != nil
	}
	return c.config.RAM.Contains(buf)
}

func (c *Controller) MaxTransfer() int { return c.config.MaxTransfer }

// Enabled reports whether the controller answers on the bus.
func (c *Controller) Enabled() bool {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.enabled
}

// Attached reports whether an event handler is installed.
func (c *Controller) Attached() bool {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.isr != nil
}

func (c *Controller) Priority() uint8 {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.priority
}

// Resets counts how many times the controller was reset.
func (c *Controller) Resets() int {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.resets
}

// Pins returns the SCL and SDA pins routed to the controller.
func (c *Controller) Pins() (scl, sda slave.Pin) {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.routed[0], c.routed[1]
}

// Pulls returns the pull modes applied to SCL and SDA.
func (c *Controller) Pulls() (scl, sda slave.Pull) {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.pulls[0], c.pulls[1]
}

// Matches reports whether the controller acknowledges addr.
func (c *Controller) Matches(addr uint8) bool {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.enabled && c.cfg.Matches(addr)
}

func (c *Controller) raise(ev slave.BusEvent) {
	c.irq.Lock()
	defer c.irq.Unlock()
	c.mx.Lock()
	isr := c.isr
	c.mx.Unlock()
	if isr == nil {
		c.log.Debug("event without handler dropped", "event", ev)
		return
	}
	isr.HandleBusEvent(ev)
}

func (c *Controller) start(addr uint8, p phase) error {
	c.mx.Lock()
	if !c.enabled || !c.cfg.Matches(addr) {
		c.mx.Unlock()
		return twis.ErrNack
	}
	c.phase = p
	c.aborted = false
	// amounts stay readable until the next prepare
	if p == phaseRead {
		c.txBuf = nil
	} else {
		c.rxBuf = nil
	}
	c.notify()
	c.mx.Unlock()
	if p == phaseRead {
		c.raise(slave.BusRead)
	} else {
		c.raise(slave.BusWrite)
	}
	return nil
}

// StartRead addresses the controller for reading, as a start or repeated
// start would. It returns twis.ErrNack when the address does not match.
func (c *Controller) StartRead(addr uint8) error {
	return c.start(addr, phaseRead)
}

// StartWrite addresses the controller for writing.
func (c *Controller) StartWrite(addr uint8) error {
	return c.start(addr, phaseWrite)
}

// wait blocks until ready reports true under mx. It returns with mx held
// on success.
func (c *Controller) wait(ctx context.Context, p phase, ready func() bool) error {
	for {
		c.mx.Lock()
		if c.phase != p || c.aborted || !c.enabled {
			c.mx.Unlock()
			return twis.ErrNack
		}
		if ready() {
			return nil
		}
		ch := c.changed
		c.mx.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ReadBytes clocks n bytes out of the slave. It stalls until the engine
// supplies a TX buffer. Bytes beyond the buffer are the over-read character
// and raise an over-read error.
func (c *Controller) ReadBytes(ctx context.Context, n int) ([]byte, error) {
	err := c.wait(ctx, phaseRead, func() bool { return c.txBuf != nil })
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	k := min(n, len(c.txBuf)-c.txAmount)
	copy(out, c.txBuf[c.txAmount:c.txAmount+k])
	c.txAmount += k
	over := k < n
	if over {
		for i := k; i < n; i++ {
			out[i] = c.config.ORC
		}
		c.errorSrc = c.errorSrc.Add(slave.FaultOverread)
	}
	c.mx.Unlock()
	if over {
		c.raise(slave.BusError)
	}
	return out, nil
}

// WriteBytes clocks data into the slave. It stalls until the engine supplies
// an RX buffer. Bytes that do not fit are NACKed and raise an overflow
// error; twis.ErrNack is returned in that case.
func (c *Controller) WriteBytes(ctx context.Context, data []byte) error {
	err := c.wait(ctx, phaseWrite, func() bool { return c.rxBuf != nil })
	if err != nil {
		return err
	}
	k := min(len(data), len(c.rxBuf)-c.rxAmount)
	copy(c.rxBuf[c.rxAmount:], data[:k])
	c.rxAmount += k
	over := k < len(data)
	if over {
		c.errorSrc = c.errorSrc.Union(slave.NewFaultSet(slave.FaultOverflow, slave.FaultDataNack))
	}
	c.mx.Unlock()
	if over {
		c.raise(slave.BusError)
		return twis.ErrNack
	}
	return nil
}

// Stop ends the transfer with a stop condition. A controller that was not
// addressed does not see it.
func (c *Controller) Stop() {
	c.mx.Lock()
	if c.phase == phaseNone {
		c.mx.Unlock()
		return
	}
	c.phase = phaseNone
	c.notify()
	c.mx.Unlock()
	c.raise(slave.BusStopped)
}

// InjectError latches f in the error source and raises an error event.
func (c *Controller) InjectError(f slave.FaultSet) {
	c.mx.Lock()
	c.errorSrc = c.errorSrc.Union(f)
	c.mx.Unlock()
	c.raise(slave.BusError)
}

// Inject raises ev without touching the transfer state.
func (c *Controller) Inject(ev slave.BusEvent) {
	c.raise(ev)
}
