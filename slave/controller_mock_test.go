package slave

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockController is a mock implementation of Controller using testify/mock
type MockController struct {
	mock.Mock
}

func (m *MockController) ID() string       { return m.Called().String(0) }
func (m *MockController) Resource() string { return m.Called().String(0) }

func (m *MockController) Configure(cfg Config) error {
	return m.Called(cfg).Error(0)
}

func (m *MockController) Reset()                         { m.Called() }
func (m *MockController) Attach(isr ISR, priority uint8) { m.Called(isr, priority) }
func (m *MockController) Detach()                        { m.Called() }
func (m *MockController) Enable()                        { m.Called() }
func (m *MockController) Disable()                       { m.Called() }
func (m *MockController) PrepareTx(buf []byte)           { m.Called(buf) }
func (m *MockController) PrepareRx(buf []byte)           { m.Called(buf) }
func (m *MockController) Abort()                         { m.Called() }
func (m *MockController) TxAmount() int                  { return m.Called().Int(0) }
func (m *MockController) RxAmount() int                  { return m.Called().Int(0) }
func (m *MockController) Addressable(buf []byte) bool    { return m.Called(buf).Bool(0) }
func (m *MockController) MaxTransfer() int               { return m.Called().Int(0) }
func (m *MockController) ErrorSource() FaultSet          { return m.Called().Get(0).(FaultSet) }

func newMockController() *MockController {
	m := &MockController{}
	m.On("ID").Return("twis0")
	m.On("Resource").Return("serial0")
	return m
}

func mockConfig() Config {
	return DefaultConfig(PinNumber(0, 3), PinNumber(0, 4), 0x42)
}

func TestInit_ControllerSequence(t *testing.T) {
	ctrl := newMockController()
	cfg := mockConfig()
	cfg.InterruptPriority = 2
	ctrl.On("Configure", cfg).Return(nil).Once()
	ctrl.On("ErrorSource").Return(NewFaultSet(FaultOverread)).Once()
	ctrl.On("Attach", mock.Anything, uint8(2)).Once()

	e, err := NewRegistry().Register(ctrl)
	require.NoError(t, err)
	require.NoError(t, e.Init(cfg, nil))
	assert.True(t, e.ErrorGetAndClear().Empty(), "stale hardware errors are not latched")
	ctrl.AssertExpectations(t)
	ctrl.AssertNotCalled(t, "Enable")
}

func TestInit_ConfigureFailureReleasesClaim(t *testing.T) {
	ctrl := newMockController()
	ctrl.On("Configure", mock.Anything).Return(errors.New("pin in use")).Once()

	reg := NewRegistry()
	e, err := reg.Register(ctrl)
	require.NoError(t, err)
	err = e.Init(mockConfig(), nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorContains(t, err, "pin in use")
	_, held := reg.Owner("serial0")
	assert.False(t, held)
	assert.False(t, e.IsInitialized())
	ctrl.AssertNotCalled(t, "Attach", mock.Anything, mock.Anything)
}

func TestUninit_NeverInitialized(t *testing.T) {
	ctrl := newMockController()
	e, err := NewRegistry().Register(ctrl)
	require.NoError(t, err)
	e.Uninit()
	ctrl.AssertNotCalled(t, "Reset")
	ctrl.AssertNotCalled(t, "Disable")
	ctrl.AssertNotCalled(t, "Detach")
}

func TestUninit_ControllerSequence(t *testing.T) {
	ctrl := newMockController()
	ctrl.On("Configure", mock.Anything).Return(nil)
	ctrl.On("ErrorSource").Return(FaultSet(0))
	ctrl.On("Attach", mock.Anything, mock.Anything)
	ctrl.On("Enable").Once()
	ctrl.On("Disable").Once()
	ctrl.On("Detach").Once()
	ctrl.On("Reset").Once()

	reg := NewRegistry()
	e, err := reg.Register(ctrl)
	require.NoError(t, err)
	require.NoError(t, e.Init(mockConfig(), nil))
	e.Enable()
	e.Uninit()
	e.Uninit()
	ctrl.AssertExpectations(t)
	_, held := reg.Owner("serial0")
	assert.False(t, held)
}

func TestReconfigure_RestoresOnFailure(t *testing.T) {
	ctrl := newMockController()
	good := mockConfig()
	bad := mockConfig()
	bad.Addresses[1] = 0x43
	ctrl.On("Configure", good).Return(nil)
	ctrl.On("Configure", bad).Return(errors.New("rejected")).Once()
	ctrl.On("ErrorSource").Return(FaultSet(0))
	ctrl.On("Attach", mock.Anything, mock.Anything)

	e, err := NewRegistry().Register(ctrl)
	require.NoError(t, err)
	require.NoError(t, e.Init(good, nil))
	assert.ErrorIs(t, e.Reconfigure(bad), ErrInvalidConfig)
	assert.Equal(t, good, e.Config())
	ctrl.AssertNumberOfCalls(t, "Configure", 3)
}
