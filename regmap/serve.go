package regmap

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/mklimuk/twis/slave"
)

// Serve runs the register file on an engine in blocking mode until ctx is
// done or the engine stops accepting buffers.
//
// Blocking mode arms TX data ahead of the request: a read returns the
// registers from the pointer as it was when its buffer was armed, which is
// after the previous read completed.
func (f *File) Serve(ctx context.Context, e *slave.Engine) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			err := e.RxPrepare(ctx, f.rx)
			if err := f.served(ctx, e, "write", err); err != nil {
				return err
			}
			if err != nil {
				continue
			}
			n := e.RxAmount()
			f.mx.Lock()
			f.store(f.rx[:n])
			f.mx.Unlock()
		}
	})
	g.Go(func() error {
		for {
			f.mx.Lock()
			f.fill()
			f.mx.Unlock()
			err := e.TxPrepare(ctx, f.tx)
			if err := f.served(ctx, e, "read", err); err != nil {
				return err
			}
			if err != nil {
				continue
			}
			n := e.TxAmount()
			f.mx.Lock()
			f.advance(n)
			f.mx.Unlock()
		}
	})
	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// served decides whether a prepare result ends the loop. Failed transfers
// are logged and their faults cleared.
func (f *File) served(ctx context.Context, e *slave.Engine, op string, err error) error {
	var terr *slave.TransferError
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.As(err, &terr):
		faults := e.ErrorGetAndClear()
		f.mx.Lock()
		f.seen = f.seen.Union(faults)
		f.mx.Unlock()
		f.log.Warn("transfer failed", "op", op, "amount", terr.Amount, "faults", faults)
		return nil
	case errors.Is(err, slave.ErrAborted) && e.Lifecycle() == slave.Enabled:
		// replaced by a later prepare
		return nil
	default:
		return fmt.Errorf("register file %s loop: %w", op, err)
	}
}
