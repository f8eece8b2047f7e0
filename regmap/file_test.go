package regmap_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/twis"
	"github.com/mklimuk/twis/regmap"
	"github.com/mklimuk/twis/sim"
	"github.com/mklimuk/twis/slave"
)

const addr = 0x30

func serve(t *testing.T, size int, blocking bool, opts ...regmap.Option) (*regmap.File, *slave.Engine, *sim.Bus, *sim.Controller) {
	t.Helper()
	ram := sim.NewRAM(1024)
	ctrl := sim.NewController("twis0", sim.WithRAM(ram))
	e, err := slave.NewRegistry().Register(ctrl)
	require.NoError(t, err)
	f, err := regmap.New(size, append([]regmap.Option{regmap.WithAllocator(ram)}, opts...)...)
	require.NoError(t, err)

	cfg := slave.DefaultConfig(slave.NoPin, slave.NoPin, addr)
	cfg.SkipGPIOConfig, cfg.SkipPinSelect = true, true
	var h slave.Handler
	if !blocking {
		h = f
	}
	require.NoError(t, e.Init(cfg, h))
	e.Enable()
	t.Cleanup(e.Uninit)
	if !blocking {
		require.NoError(t, f.Arm(context.Background(), e))
	}
	return f, e, sim.NewBus(ctrl), ctrl
}

func TestNew(t *testing.T) {
	_, err := regmap.New(0)
	assert.Error(t, err)
	_, err = regmap.New(regmap.MaxSize + 1)
	assert.Error(t, err)
	_, err = regmap.New(16, regmap.WithAllocator(sim.NewRAM(20)))
	assert.ErrorIs(t, err, regmap.ErrNoMemory)

	f, err := regmap.New(4, regmap.WithInitial([]byte{1, 2, 3, 4, 5}))
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, f.Snapshot())
	assert.Equal(t, 4, f.Size())
}

func TestFile_WriteThenRead(t *testing.T) {
	f, _, bus, _ := serve(t, 8, false)
	ctx := context.Background()

	require.NoError(t, bus.WriteToAddr(ctx, addr, []byte{2, 0xA, 0xB, 0xC}))
	assert.Equal(t, []byte{0, 0, 0xA, 0xB, 0xC, 0, 0, 0}, f.Snapshot())
	assert.Equal(t, byte(5), f.Pointer())

	// pointer only, then read
	require.NoError(t, bus.WriteToAddr(ctx, addr, []byte{3}))
	got := make([]byte, 2)
	require.NoError(t, bus.ReadFromAddr(ctx, addr, got))
	assert.Equal(t, []byte{0xB, 0xC}, got)
	assert.Equal(t, byte(5), f.Pointer(), "reads advance the pointer")

	assert.Equal(t, regmap.Stats{Writes: 2, Reads: 1}, f.Stats())
}

func TestFile_Wraps(t *testing.T) {
	f, _, bus, _ := serve(t, 4, false)
	ctx := context.Background()
	require.NoError(t, bus.WriteToAddr(ctx, addr, []byte{3, 1, 2, 3}))
	assert.Equal(t, []byte{2, 3, 0, 1}, f.Snapshot())

	// pointers beyond the file wrap too
	require.NoError(t, bus.WriteToAddr(ctx, addr, []byte{6, 9}))
	assert.Equal(t, byte(9), f.Get(2))

	got := make([]byte, 4)
	require.NoError(t, bus.WriteToAddr(ctx, addr, []byte{3}))
	require.NoError(t, bus.ReadFromAddr(ctx, addr, got))
	assert.Equal(t, []byte{1, 2, 3, 9}, got)
}

func TestFile_RepeatedStart(t *testing.T) {
	f, _, bus, _ := serve(t, 16, false, regmap.WithInitial([]byte{0, 1, 2, 3, 4, 5, 6, 7}))
	c := regmap.NewClient(bus, addr)
	ctx := context.Background()

	got, err := c.Read(ctx, 4, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{4, 5, 6}, got)
	assert.Equal(t, byte(7), f.Pointer())

	require.NoError(t, c.Write(ctx, 0x0E, 0xEE, 0xFF, 0x11))
	assert.Equal(t, byte(0x11), f.Get(0))
	got, err = c.Read(ctx, 0x0E, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xEE, 0xFF}, got)
}

func TestFile_FaultsCleared(t *testing.T) {
	f, e, bus, _ := serve(t, 4, false)
	ctx := context.Background()

	// a read longer than the file runs into the over-read character
	got := make([]byte, 6)
	require.NoError(t, bus.ReadFromAddr(ctx, addr, got))
	assert.Equal(t, sim.DefaultORC, got[5])
	assert.Equal(t, slave.Idle, e.State())

	// pointer plus five registers do not fit in a file of four
	err := bus.WriteToAddr(ctx, addr, []byte{0, 1, 2, 3, 4, 5})
	assert.ErrorIs(t, err, twis.ErrNack)
	assert.Equal(t, slave.Idle, e.State())

	stats := f.Stats()
	assert.True(t, stats.Faults.Has(slave.FaultOverread))
	assert.True(t, stats.Faults.Has(slave.FaultOverflow))

	// the target keeps working
	require.NoError(t, bus.WriteToAddr(ctx, addr, []byte{1, 7}))
	assert.Equal(t, byte(7), f.Get(1))
}

func TestFile_RearmAfterDisable(t *testing.T) {
	f, e, bus, _ := serve(t, 4, false)
	e.Disable()
	e.Enable()
	// the pre-armed buffer was dropped, the handler supplies a new one
	require.NoError(t, bus.WriteToAddr(context.Background(), addr, []byte{0, 5}))
	assert.Equal(t, byte(5), f.Get(0))
}

func TestFile_ServeBlocking(t *testing.T) {
	f, e, bus, _ := serve(t, 8, true, regmap.WithInitial([]byte{9, 8, 7, 6}))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Serve(ctx, e) }()

	require.Eventually(t, func() bool {
		got := make([]byte, 4)
		if err := bus.ReadFromAddr(context.Background(), addr, got); err != nil {
			return false
		}
		return assert.ObjectsAreEqual([]byte{9, 8, 7, 6}, got)
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, bus.WriteToAddr(context.Background(), addr, []byte{6, 0x66, 0x77}))
	assert.Eventually(t, func() bool { return f.Get(7) == 0x77 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestFile_ServeStopsOnDisable(t *testing.T) {
	f, e, _, _ := serve(t, 8, true)
	done := make(chan error, 1)
	go func() { done <- f.Serve(context.Background(), e) }()
	time.Sleep(20 * time.Millisecond)
	e.Disable()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, slave.ErrAborted)
	case <-time.After(time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestFile_ServeRecoversFromIdleFault(t *testing.T) {
	f, e, bus, ctrl := serve(t, 8, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.Serve(ctx, e) }()
	// let both loops arm their buffers
	time.Sleep(20 * time.Millisecond)

	ctrl.InjectError(slave.NewFaultSet(slave.FaultDataNack))
	assert.Eventually(t, func() bool { return f.Stats().Faults.Has(slave.FaultDataNack) }, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return bus.WriteToAddr(context.Background(), addr, []byte{1, 0x55}) == nil && f.Get(1) == 0x55
	}, time.Second, 5*time.Millisecond)
	assert.NotEqual(t, slave.Faulted, e.State())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("serve did not stop")
	}
}
