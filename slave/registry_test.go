package slave_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/twis/sim"
	"github.com/mklimuk/twis/slave"
)

func TestRegistry_Register(t *testing.T) {
	reg := slave.NewRegistry()
	a, err := reg.Register(sim.NewController("twis0"))
	require.NoError(t, err)
	b, err := reg.Register(sim.NewController("twis1"))
	require.NoError(t, err)
	assert.NotEqual(t, a.Handle(), b.Handle())

	_, err = reg.Register(sim.NewController("twis0"))
	assert.ErrorIs(t, err, slave.ErrResourceBusy)

	got, ok := reg.Lookup(b.Handle())
	require.True(t, ok)
	assert.Same(t, b, got)
	assert.Equal(t, []*slave.Engine{a, b}, reg.Engines())
}

func TestRegistry_Unregister(t *testing.T) {
	reg := slave.NewRegistry()
	ctrl := sim.NewController("twis0")
	e, err := reg.Register(ctrl)
	require.NoError(t, err)
	require.NoError(t, e.Init(testConfig(), nil))
	e.Enable()

	reg.Unregister(e.Handle())
	assert.False(t, e.IsInitialized())
	assert.False(t, ctrl.Enabled())
	assert.False(t, ctrl.Attached())
	_, ok := reg.Lookup(e.Handle())
	assert.False(t, ok)
	_, held := reg.Owner(ctrl.Resource())
	assert.False(t, held)

	// the controller may be registered again
	_, err = reg.Register(ctrl)
	assert.NoError(t, err)
	reg.Unregister(slave.Handle(999))
}

func TestRegistry_Claim(t *testing.T) {
	reg := slave.NewRegistry()
	require.NoError(t, reg.Claim("serial0", "twis:twis0"))
	require.NoError(t, reg.Claim("serial0", "twis:twis0"))
	assert.ErrorIs(t, reg.Claim("serial0", "spim0"), slave.ErrResourceBusy)

	reg.Release("serial0", "spim0")
	owner, ok := reg.Owner("serial0")
	require.True(t, ok)
	assert.Equal(t, "twis:twis0", owner)

	reg.Release("serial0", "twis:twis0")
	assert.NoError(t, reg.Claim("serial0", "spim0"))
}

func TestEngine_InitLeavesControllerConfigured(t *testing.T) {
	reg := slave.NewRegistry()
	ctrl := sim.NewController("twis0")
	e, err := reg.Register(ctrl)
	require.NoError(t, err)

	cfg := testConfig()
	cfg.SCLPull, cfg.SDAPull = slave.PullUp, slave.PullUp
	cfg.InterruptPriority = 2
	require.NoError(t, e.Init(cfg, nil))
	defer e.Uninit()

	scl, sda := ctrl.Pins()
	assert.Equal(t, cfg.SCL, scl)
	assert.Equal(t, cfg.SDA, sda)
	sclPull, sdaPull := ctrl.Pulls()
	assert.Equal(t, slave.PullUp, sclPull)
	assert.Equal(t, slave.PullUp, sdaPull)
	assert.Equal(t, uint8(2), ctrl.Priority())
	assert.True(t, ctrl.Attached())
	assert.False(t, ctrl.Enabled(), "init does not enable")

	e.Uninit()
	assert.Equal(t, 1, ctrl.Resets())
	scl, _ = ctrl.Pins()
	assert.Equal(t, slave.NoPin, scl)
}

func TestEngine_SkipPinConfig(t *testing.T) {
	ctrl := sim.NewController("twis0")
	e, err := slave.NewRegistry().Register(ctrl)
	require.NoError(t, err)
	cfg := testConfig()
	cfg.SCLPull = slave.PullUp
	cfg.SkipGPIOConfig = true
	cfg.SkipPinSelect = true
	require.NoError(t, e.Init(cfg, nil))
	defer e.Uninit()

	scl, sda := ctrl.Pins()
	assert.Equal(t, slave.NoPin, scl)
	assert.Equal(t, slave.NoPin, sda)
	sclPull, _ := ctrl.Pulls()
	assert.Equal(t, slave.NoPull, sclPull)
}
