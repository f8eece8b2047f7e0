// Package slave implements the slave side of a two-wire bus: a transaction
// state machine that turns controller events into a buffer exchange with
// the application.
//
// The master drives every transaction. When it addresses the slave the
// engine reports the request and, unless a buffer was armed in advance,
// stalls the bus until the application supplies one with TxPrepare or
// RxPrepare. Bus-protocol faults are latched and keep the engine in the
// Faulted substate until ErrorGetAndClear is called.
//
// With a Handler the engine works in callback mode. Without one, prepare
// calls block until the transaction they armed is over.
package slave

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

type Options struct {
	Logger *slog.Logger
}

type Option func(*Options)

func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// arm is a buffer supplied by the application for one transaction.
type arm struct {
	buf      []byte
	done     chan error // blocking mode only
	finished bool
}

func (a *arm) resolve(err error) {
	if a.finished {
		return
	}
	a.finished = true
	if a.done != nil {
		a.done <- err
	}
}

// Engine is one slave instance bound to a controller. Create engines with
// Registry.Register.
type Engine struct {
	reg    *Registry
	handle Handle
	ctrl   Controller
	log    *slog.Logger

	mx        sync.Mutex
	lifecycle Lifecycle
	cfg       Config
	handler   Handler
	state     State
	faults    FaultSet
	// pending holds buffers armed ahead of the next request, per direction.
	pending [2]*arm
	// active is the buffer engaged in the current transaction.
	active *arm
}

var _ ISR = &Engine{}

func newEngine(reg *Registry, h Handle, ctrl Controller, opts ...Option) *Engine {
	o := Options{Logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Engine{
		reg:    reg,
		handle: h,
		ctrl:   ctrl,
		log:    o.Logger.With("controller", ctrl.ID(), "handle", h),
	}
}

func (e *Engine) Handle() Handle { return e.handle }

// ID returns the controller ID.
func (e *Engine) ID() string { return e.ctrl.ID() }

func (e *Engine) owner() string {
	return "twis:" + e.ctrl.ID()
}

// Init binds cfg to the controller. A nil handler selects blocking mode.
// The engine is left disabled.
func (e *Engine) Init(cfg Config, h Handler) error {
	e.mx.Lock()
	defer e.mx.Unlock()
	if e.lifecycle != Uninitialized {
		return fmt.Errorf("twis %s: init: %w", e.ID(), ErrAlreadyInitialized)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("twis %s: init: %w: %w", e.ID(), ErrInvalidConfig, err)
	}
	if err := e.reg.Claim(e.ctrl.Resource(), e.owner()); err != nil {
		return fmt.Errorf("twis %s: init: %w", e.ID(), err)
	}
	if err := e.ctrl.Configure(cfg); err != nil {
		e.reg.Release(e.ctrl.Resource(), e.owner())
		return fmt.Errorf("twis %s: init: %w: %w", e.ID(), ErrInvalidConfig, err)
	}
	// drop anything left in the hardware error source
	_ = e.ctrl.ErrorSource()
	e.ctrl.Attach(e, cfg.InterruptPriority)
	e.cfg = cfg
	e.handler = h
	e.state = Idle
	e.faults = 0
	e.pending = [2]*arm{}
	e.active = nil
	e.lifecycle = Initialized
	e.log.Debug("initialized", "addresses", cfg.Addresses, "blocking", h == nil)
	return nil
}

// Reconfigure replaces the configuration. The error latch is kept.
func (e *Engine) Reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("twis %s: reconfigure: %w: %w", e.ID(), ErrInvalidConfig, err)
	}
	e.mx.Lock()
	defer e.mx.Unlock()
	if e.lifecycle == Uninitialized {
		return fmt.Errorf("twis %s: reconfigure: %w", e.ID(), ErrNotInitialized)
	}
	if e.state.busy() {
		return fmt.Errorf("twis %s: reconfigure: %w", e.ID(), ErrBusy)
	}
	enabled := e.lifecycle == Enabled
	if enabled {
		e.ctrl.Disable()
	}
	err := e.ctrl.Configure(cfg)
	if err == nil {
		e.cfg = cfg
		e.ctrl.Attach(e, cfg.InterruptPriority)
	} else {
		// restore the previous setup
		_ = e.ctrl.Configure(e.cfg)
	}
	if enabled {
		e.ctrl.Enable()
	}
	if err != nil {
		return fmt.Errorf("twis %s: reconfigure: %w: %w", e.ID(), ErrInvalidConfig, err)
	}
	e.log.Debug("reconfigured", "addresses", cfg.Addresses)
	return nil
}

// Uninit releases the controller. It is safe to call at any time, also on
// an engine that was never initialized.
func (e *Engine) Uninit() {
	e.mx.Lock()
	defer e.mx.Unlock()
	if e.lifecycle == Uninitialized {
		return
	}
	e.abortLocked()
	e.ctrl.Disable()
	e.ctrl.Detach()
	e.ctrl.Reset()
	e.reg.Release(e.ctrl.Resource(), e.owner())
	e.handler = nil
	e.state = Idle
	e.faults = 0
	e.cfg = Config{}
	e.lifecycle = Uninitialized
	e.log.Debug("uninitialized")
}

func (e *Engine) IsInitialized() bool {
	e.mx.Lock()
	defer e.mx.Unlock()
	return e.lifecycle != Uninitialized
}

func (e *Engine) Lifecycle() Lifecycle {
	e.mx.Lock()
	defer e.mx.Unlock()
	return e.lifecycle
}

func (e *Engine) Config() Config {
	e.mx.Lock()
	defer e.mx.Unlock()
	return e.cfg
}

// Enable lets the engine take part in bus activity.
func (e *Engine) Enable() {
	e.mx.Lock()
	defer e.mx.Unlock()
	switch e.lifecycle {
	case Uninitialized:
		e.log.Warn("enable on uninitialized engine ignored")
	case Initialized:
		e.ctrl.Enable()
		e.lifecycle = Enabled
	}
}

// Disable stops bus participation. A transaction in flight is aborted
// without raising a fault or a completion event, and buffers armed in
// advance are dropped. Blocked prepare calls return ErrAborted.
func (e *Engine) Disable() {
	e.mx.Lock()
	defer e.mx.Unlock()
	if e.lifecycle != Enabled {
		return
	}
	e.ctrl.Disable()
	e.abortLocked()
	e.lifecycle = Initialized
}

func (e *Engine) abortLocked() {
	if e.state.busy() {
		e.ctrl.Abort()
		e.log.Debug("transaction aborted", "state", e.state)
		e.state = Idle
	}
	if e.active != nil {
		e.active.resolve(ErrAborted)
		e.active = nil
	}
	for i, a := range e.pending {
		if a != nil {
			a.resolve(ErrAborted)
			e.pending[i] = nil
		}
	}
}

// TxPrepare supplies the data for a read. Called while a read waits for a
// buffer it releases the master; called at any other time it arms the
// buffer for the next read, replacing any earlier unused one.
//
// In blocking mode the call returns once the read using buf is over, or
// with a *TransferError when a fault is latched before buf is used. A
// cancelled ctx withdraws buf, aborting the transfer if it already started.
func (e *Engine) TxPrepare(ctx context.Context, buf []byte) error {
	return e.prepare(ctx, Read, buf)
}

// RxPrepare supplies room for a write. See TxPrepare.
func (e *Engine) RxPrepare(ctx context.Context, buf []byte) error {
	return e.prepare(ctx, Write, buf)
}

func (e *Engine) prepare(ctx context.Context, dir Direction, buf []byte) error {
	op := "tx prepare"
	if dir == Write {
		op = "rx prepare"
	}
	e.mx.Lock()
	if e.lifecycle != Enabled {
		e.mx.Unlock()
		return fmt.Errorf("twis %s: %s: %w", e.ID(), op, ErrInvalidState)
	}
	if len(buf) == 0 || len(buf) > e.ctrl.MaxTransfer() {
		e.mx.Unlock()
		return fmt.Errorf("twis %s: %s: %d bytes: %w", e.ID(), op, len(buf), ErrInvalidLength)
	}
	if !e.ctrl.Addressable(buf) {
		e.mx.Unlock()
		return fmt.Errorf("twis %s: %s: %w", e.ID(), op, ErrInvalidAddress)
	}
	a := &arm{buf: buf}
	if e.handler == nil {
		a.done = make(chan error, 1)
	}
	if e.state == awaiting(dir) {
		e.engage(dir, a)
	} else {
		if old := e.pending[dir]; old != nil {
			old.resolve(fmt.Errorf("replaced by a later %s: %w", op, ErrAborted))
		}
		e.pending[dir] = a
	}
	e.mx.Unlock()

	if a.done == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case err := <-a.done:
		return err
	case <-ctx.Done():
		if done, err := e.withdraw(dir, a); done {
			return err
		}
		return ctx.Err()
	}
}

// withdraw takes a back from the engine. It reports done when a had already
// been resolved, along with its result.
func (e *Engine) withdraw(dir Direction, a *arm) (bool, error) {
	e.mx.Lock()
	defer e.mx.Unlock()
	if a.finished {
		return true, <-a.done
	}
	a.finished = true
	switch {
	case e.pending[dir] == a:
		e.pending[dir] = nil
	case e.active == a:
		e.ctrl.Abort()
		e.active = nil
		if e.state.busy() {
			e.state = Idle
		}
	}
	return false, nil
}

// TxAmount returns the bytes sent in the last read. It is meaningful only
// after a read-completed or read-failed event.
func (e *Engine) TxAmount() int {
	e.mx.Lock()
	defer e.mx.Unlock()
	return e.ctrl.TxAmount()
}

// RxAmount returns the bytes received in the last write. It is meaningful
// only after a write-completed or write-failed event.
func (e *Engine) RxAmount() int {
	e.mx.Lock()
	defer e.mx.Unlock()
	return e.ctrl.RxAmount()
}

func (e *Engine) State() State {
	e.mx.Lock()
	defer e.mx.Unlock()
	return e.state
}

// IsBusy reports a transaction in flight. Faulted is not busy.
func (e *Engine) IsBusy() bool { return e.State().busy() }

func (e *Engine) IsWaitingTxBuffer() bool { return e.State() == AwaitingTxBuffer }
func (e *Engine) IsWaitingRxBuffer() bool { return e.State() == AwaitingRxBuffer }
func (e *Engine) IsPendingTx() bool       { return e.State() == SendingTx }
func (e *Engine) IsPendingRx() bool       { return e.State() == ReceivingRx }

// ErrorGetAndClear returns the latched faults and empties the latch. It is
// the only way out of the Faulted substate.
func (e *Engine) ErrorGetAndClear() FaultSet {
	e.mx.Lock()
	defer e.mx.Unlock()
	f := e.faults
	e.faults = 0
	if e.state == Faulted {
		e.state = Idle
		e.log.Debug("fault cleared", "faults", f)
	}
	return f
}

// HandleBusEvent advances the state machine. Controllers call it from their
// event context; events reach the handler after the engine lock is released.
func (e *Engine) HandleBusEvent(ev BusEvent) {
	var buf [3]Event
	e.mx.Lock()
	if e.lifecycle != Enabled {
		e.mx.Unlock()
		e.log.Debug("bus event on disabled engine ignored", "event", ev)
		return
	}
	from := e.state
	events := e.step(ev, buf[:0])
	h := e.handler
	to := e.state
	e.mx.Unlock()

	if from != to {
		e.log.Debug("transition", "event", ev, "from", from, "to", to)
	}
	if h == nil {
		return
	}
	for _, evt := range events {
		h.HandleEvent(e, evt)
	}
}

func (e *Engine) step(ev BusEvent, out []Event) []Event {
	switch ev {
	case BusRead:
		switch e.state {
		case Idle:
			return e.request(Read, out)
		case ReceivingRx:
			// repeated start after a write
			out = e.complete(Write, out)
			return e.request(Read, out)
		case SendingTx:
			out = e.complete(Read, out)
			return e.request(Read, out)
		}
	case BusWrite:
		switch e.state {
		case Idle:
			return e.request(Write, out)
		case SendingTx:
			out = e.complete(Read, out)
			return e.request(Write, out)
		case ReceivingRx:
			out = e.complete(Write, out)
			return e.request(Write, out)
		}
	case BusStopped:
		switch e.state {
		case SendingTx:
			return e.complete(Read, out)
		case ReceivingRx:
			return e.complete(Write, out)
		case Idle, Faulted:
			return out
		}
	case BusError:
		f := e.ctrl.ErrorSource()
		if f.Empty() {
			f = NewFaultSet(FaultUnexpectedEvent)
		}
		return e.fault(f, out)
	}
	e.log.Warn("unexpected bus event", "event", ev, "state", e.state)
	// a master addressing a faulted engine is stalled too
	e.ctrl.Abort()
	return e.fault(NewFaultSet(FaultUnexpectedEvent), out)
}

func (e *Engine) request(dir Direction, out []Event) []Event {
	typ := EventReadRequested
	if dir == Write {
		typ = EventWriteRequested
	}
	if a := e.pending[dir]; a != nil {
		e.pending[dir] = nil
		e.engage(dir, a)
		return append(out, Event{Type: typ})
	}
	e.state = awaiting(dir)
	return append(out, Event{Type: typ, NeedsBuffer: true})
}

func (e *Engine) engage(dir Direction, a *arm) {
	e.active = a
	if dir == Read {
		e.ctrl.PrepareTx(a.buf)
		e.state = SendingTx
		return
	}
	e.ctrl.PrepareRx(a.buf)
	e.state = ReceivingRx
}

func (e *Engine) complete(dir Direction, out []Event) []Event {
	n := e.amount(dir)
	if e.active != nil {
		e.active.resolve(nil)
		e.active = nil
	}
	e.state = Idle
	if dir == Read {
		return append(out, Event{Type: EventReadCompleted, Amount: n})
	}
	return append(out, Event{Type: EventWriteCompleted, Amount: n})
}

// fault fails the transaction in flight, if any, latches f and enters Faulted.
func (e *Engine) fault(f FaultSet, out []Event) []Event {
	if e.state.busy() {
		dir := Read
		typ := EventReadFailed
		if e.state == AwaitingRxBuffer || e.state == ReceivingRx {
			dir = Write
			typ = EventWriteFailed
		}
		n := 0
		if e.state == SendingTx || e.state == ReceivingRx {
			n = e.amount(dir)
		}
		if e.active != nil {
			e.active.resolve(&TransferError{Direction: dir, Faults: f, Amount: n})
			e.active = nil
		}
		e.ctrl.Abort()
		out = append(out, Event{Type: typ, Faults: f})
	}
	e.faults = e.faults.Union(f)
	e.state = Faulted
	if e.handler == nil {
		// blocked callers are the only ones to learn of the fault
		for i, a := range e.pending {
			if a != nil {
				a.resolve(&TransferError{Direction: Direction(i), Faults: e.faults})
				e.pending[i] = nil
			}
		}
	}
	e.log.Debug("fault latched", "faults", f, "latched", e.faults)
	return append(out, Event{Type: EventGeneralFault, Faults: e.faults})
}

func (e *Engine) amount(dir Direction) int {
	if dir == Read {
		return e.ctrl.TxAmount()
	}
	return e.ctrl.RxAmount()
}

func awaiting(dir Direction) State {
	if dir == Read {
		return AwaitingTxBuffer
	}
	return AwaitingRxBuffer
}
