// Package regmap is a register-file target served by a slave engine.
//
// The first byte of every write sets the register pointer. Further bytes are
// stored from the pointer on, which auto-increments and wraps at the end of
// the file. Reads return registers from the pointer and advance it by the
// number of bytes the master clocked out.
package regmap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mklimuk/twis/slave"
)

// MaxSize is the largest register file addressable with a one-byte pointer.
const MaxSize = 256

var ErrNoMemory = errors.New("could not allocate transfer buffers")

// Allocator hands out memory the controller can transfer from.
type Allocator interface {
	Alloc(n int) []byte
}

// heap allocates from ordinary memory, for controllers without restrictions.
type heap struct{}

func (heap) Alloc(n int) []byte { return make([]byte, n) }

type Options struct {
	Logger    *slog.Logger
	Allocator Allocator
	Initial   []byte
}

type Option func(*Options)

func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithAllocator selects where transfer buffers live.
func WithAllocator(a Allocator) Option {
	return func(o *Options) {
		o.Allocator = a
	}
}

// WithInitial presets registers from offset 0.
func WithInitial(regs []byte) Option {
	return func(o *Options) {
		o.Initial = regs
	}
}

// File is a register file. In callback mode it is the engine's handler.
type File struct {
	log *slog.Logger

	mx   sync.Mutex
	regs []byte
	ptr  int
	// rx is sized to take the pointer and a full pass over the file
	rx     []byte
	tx     []byte
	seen   slave.FaultSet
	writes int
	reads  int
}

var _ slave.Handler = &File{}

func New(size int, opts ...Option) (*File, error) {
	if size < 1 || size > MaxSize {
		return nil, fmt.Errorf("invalid register file size %d", size)
	}
	o := Options{Logger: slog.Default(), Allocator: heap{}}
	for _, opt := range opts {
		opt(&o)
	}
	rx := o.Allocator.Alloc(size + 1)
	tx := o.Allocator.Alloc(size)
	if rx == nil || tx == nil {
		return nil, fmt.Errorf("register file of %d bytes: %w", size, ErrNoMemory)
	}
	f := &File{
		log:  o.Logger.With("regmap", size),
		regs: make([]byte, size),
		rx:   rx,
		tx:   tx,
	}
	copy(f.regs, o.Initial)
	return f, nil
}

func (f *File) Size() int { return len(f.regs) }

// Arm pre-arms the receive buffer so the next write does not stall the bus.
func (f *File) Arm(ctx context.Context, e *slave.Engine) error {
	if err := e.RxPrepare(ctx, f.rx); err != nil {
		return fmt.Errorf("could not arm register file: %w", err)
	}
	return nil
}

// HandleEvent implements slave.Handler.
func (f *File) HandleEvent(e *slave.Engine, ev slave.Event) {
	ctx := context.Background()
	switch ev.Type {
	case slave.EventWriteRequested:
		if !ev.NeedsBuffer {
			return
		}
		if err := e.RxPrepare(ctx, f.rx); err != nil {
			f.log.Error("could not supply rx buffer", "error", err)
		}
	case slave.EventWriteCompleted:
		f.mx.Lock()
		f.store(f.rx[:ev.Amount])
		f.mx.Unlock()
		// re-arm for the next write
		if err := e.RxPrepare(ctx, f.rx); err != nil {
			f.log.Warn("could not re-arm rx buffer", "error", err)
		}
	case slave.EventReadRequested:
		if !ev.NeedsBuffer {
			return
		}
		f.mx.Lock()
		f.fill()
		f.mx.Unlock()
		if err := e.TxPrepare(ctx, f.tx); err != nil {
			f.log.Error("could not supply tx buffer", "error", err)
		}
	case slave.EventReadCompleted:
		f.mx.Lock()
		f.advance(ev.Amount)
		f.mx.Unlock()
	case slave.EventReadFailed, slave.EventWriteFailed:
		f.log.Warn("transfer failed", "event", ev.Type, "faults", ev.Faults)
	case slave.EventGeneralFault:
		faults := e.ErrorGetAndClear()
		f.mx.Lock()
		f.seen = f.seen.Union(faults)
		f.mx.Unlock()
		f.log.Warn("bus fault cleared", "faults", faults)
		if err := e.RxPrepare(ctx, f.rx); err != nil {
			f.log.Warn("could not re-arm rx buffer", "error", err)
		}
	}
}

// store applies a received write. Must be called with mx held.
func (f *File) store(data []byte) {
	if len(data) == 0 {
		return
	}
	f.ptr = int(data[0]) % len(f.regs)
	for _, b := range data[1:] {
		f.regs[f.ptr] = b
		f.ptr = (f.ptr + 1) % len(f.regs)
	}
	f.writes++
}

// fill copies registers from the pointer into tx. Must be called with mx held.
func (f *File) fill() {
	for i := range f.tx {
		f.tx[i] = f.regs[(f.ptr+i)%len(f.regs)]
	}
}

// advance moves the pointer past n bytes read. Must be called with mx held.
func (f *File) advance(n int) {
	f.ptr = (f.ptr + n) % len(f.regs)
	f.reads++
}

func (f *File) Get(reg byte) byte {
	f.mx.Lock()
	defer f.mx.Unlock()
	return f.regs[int(reg)%len(f.regs)]
}

// Set stores vals from reg on, wrapping at the end of the file. The pointer
// is not moved.
func (f *File) Set(reg byte, vals ...byte) {
	f.mx.Lock()
	defer f.mx.Unlock()
	for i, v := range vals {
		f.regs[(int(reg)+i)%len(f.regs)] = v
	}
}

// Snapshot returns a copy of all registers.
func (f *File) Snapshot() []byte {
	f.mx.Lock()
	defer f.mx.Unlock()
	return append([]byte(nil), f.regs...)
}

// Pointer returns the current register pointer.
func (f *File) Pointer() byte {
	f.mx.Lock()
	defer f.mx.Unlock()
	return byte(f.ptr)
}

// Stats reports completed transactions and every fault cleared so far.
type Stats struct {
	Writes int            `yaml:"writes"`
	Reads  int            `yaml:"reads"`
	Faults slave.FaultSet `yaml:"-"`
}

func (f *File) Stats() Stats {
	f.mx.Lock()
	defer f.mx.Unlock()
	return Stats{Writes: f.writes, Reads: f.reads, Faults: f.seen}
}
