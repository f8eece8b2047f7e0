package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/mklimuk/twis/config"
	"github.com/mklimuk/twis/regmap"
	"github.com/mklimuk/twis/sim"
	"github.com/mklimuk/twis/slave"
)

// target is a configured instance: an engine on a simulated controller
// serving a register file.
type target struct {
	name     string
	engine   *slave.Engine
	ctrl     *sim.Controller
	file     *regmap.File
	blocking bool
}

// rig is a simulated bus with every configured slave attached.
type rig struct {
	log      *slog.Logger
	registry *slave.Registry
	ram      *sim.RAM
	bus      *sim.Bus
	targets  []*target
}

func newRig(cfg *config.Config, log *slog.Logger) (*rig, error) {
	r := &rig{
		log:      log,
		registry: slave.NewRegistry(),
		ram:      sim.NewRAM(cfg.RAM),
		bus:      sim.NewBus(),
	}
	for _, in := range cfg.Instances {
		t, err := r.add(in)
		if err != nil {
			r.close()
			return nil, fmt.Errorf("instance %s: %w", in.Name, err)
		}
		r.targets = append(r.targets, t)
	}
	return r, nil
}

func (r *rig) add(in config.Instance) (*target, error) {
	simOpts := []sim.Option{sim.WithRAM(r.ram), sim.WithLogger(r.log)}
	if in.Resource != "" {
		simOpts = append(simOpts, sim.WithResource(in.Resource))
	}
	ctrl := sim.NewController(in.Controller, simOpts...)
	e, err := r.registry.Register(ctrl, slave.WithLogger(r.log))
	if err != nil {
		return nil, err
	}
	f, err := regmap.New(in.Registers,
		regmap.WithAllocator(r.ram),
		regmap.WithInitial(in.Initial),
		regmap.WithLogger(r.log.With("instance", in.Name)))
	if err != nil {
		r.registry.Unregister(e.Handle())
		return nil, err
	}
	t := &target{name: in.Name, engine: e, ctrl: ctrl, file: f, blocking: in.Blocking}
	var h slave.Handler
	if !in.Blocking {
		h = slave.HandlerFunc(func(e *slave.Engine, ev slave.Event) {
			r.log.Info("event", "instance", in.Name, "event", ev)
			f.HandleEvent(e, ev)
		})
	}
	if err := e.Init(in.Slave, h); err != nil {
		r.registry.Unregister(e.Handle())
		return nil, err
	}
	e.Enable()
	if !in.Blocking {
		if err := f.Arm(context.Background(), e); err != nil {
			r.registry.Unregister(e.Handle())
			return nil, err
		}
	}
	r.bus.Attach(ctrl)
	return t, nil
}

// serve runs the blocking-mode targets until ctx is done.
func (r *rig) serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, t := range r.targets {
		if !t.blocking {
			continue
		}
		g.Go(func() error {
			if err := t.file.Serve(ctx, t.engine); err != nil {
				return fmt.Errorf("instance %s: %w", t.name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (r *rig) find(name string) (*target, error) {
	if name == "" && len(r.targets) > 0 {
		return r.targets[0], nil
	}
	for _, t := range r.targets {
		if t.name == name {
			return t, nil
		}
	}
	return nil, fmt.Errorf("no instance named %q", name)
}

func (r *rig) close() {
	for _, e := range r.registry.Engines() {
		r.registry.Unregister(e.Handle())
	}
}

type stepOp string

const (
	opWrite     stepOp = "w"
	opRead      stepOp = "r"
	opWriteRead stepOp = "wr"
)

// step is one master transfer of a script.
type step struct {
	op   stepOp
	addr byte
	data []byte
	n    int
}

func (s step) String() string {
	switch s.op {
	case opWrite:
		return fmt.Sprintf("write %#x <- %x", s.addr, s.data)
	case opRead:
		return fmt.Sprintf("read %#x %d bytes", s.addr, s.n)
	default:
		return fmt.Sprintf("write %#x <- %x, read %d bytes", s.addr, s.data, s.n)
	}
}

var errScript = errors.New("invalid script")

// parseScript reads comma separated steps: w:<addr>:<hex>, r:<addr>:<n> and
// wr:<addr>:<hex>:<n>. Addresses are hex.
func parseScript(src string) ([]step, error) {
	var res []step
	for _, raw := range strings.Split(src, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		s, err := parseStep(strings.Split(raw, ":"))
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %w", errScript, raw, err)
		}
		res = append(res, s)
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("%w: no steps", errScript)
	}
	return res, nil
}

func parseStep(fields []string) (step, error) {
	if len(fields) < 3 {
		return step{}, errors.New("expected op:addr:args")
	}
	addr, err := strconv.ParseUint(fields[1], 16, 7)
	if err != nil {
		return step{}, fmt.Errorf("address: %w", err)
	}
	s := step{op: stepOp(fields[0]), addr: byte(addr)}
	switch s.op {
	case opWrite:
		if len(fields) != 3 {
			return step{}, errors.New("expected w:addr:data")
		}
		s.data, err = hex.DecodeString(fields[2])
	case opRead:
		if len(fields) != 3 {
			return step{}, errors.New("expected r:addr:n")
		}
		s.n, err = strconv.Atoi(fields[2])
	case opWriteRead:
		if len(fields) != 4 {
			return step{}, errors.New("expected wr:addr:data:n")
		}
		s.data, err = hex.DecodeString(fields[2])
		if err == nil {
			s.n, err = strconv.Atoi(fields[3])
		}
	default:
		return step{}, fmt.Errorf("unknown op %q", fields[0])
	}
	if err != nil {
		return step{}, err
	}
	if s.op != opWrite && s.n <= 0 {
		return step{}, fmt.Errorf("read length %d", s.n)
	}
	return s, nil
}

// run performs s on the bus and returns the bytes read, if any.
func (r *rig) run(ctx context.Context, s step) ([]byte, error) {
	switch s.op {
	case opWrite:
		return nil, r.bus.WriteToAddr(ctx, s.addr, s.data)
	case opRead:
		buf := make([]byte, s.n)
		if err := r.bus.ReadFromAddr(ctx, s.addr, buf); err != nil {
			return nil, err
		}
		return buf, nil
	default:
		buf := make([]byte, s.n)
		if err := r.bus.Tx(ctx, s.addr, s.data, buf); err != nil {
			return nil, err
		}
		return buf, nil
	}
}
