package adapter

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/twis"
)

// fakeDevice answers requests from a queue of canned responses.
type fakeDevice struct {
	mx        sync.Mutex
	requests  [][]byte
	responses [][]byte
	closed    int
}

func (f *fakeDevice) Write(b []byte) (int, error) {
	f.mx.Lock()
	defer f.mx.Unlock()
	f.requests = append(f.requests, append([]byte(nil), b...))
	return len(b), nil
}

func (f *fakeDevice) Read(b []byte) (int, error) {
	f.mx.Lock()
	defer f.mx.Unlock()
	if len(f.responses) == 0 {
		return 0, errors.New("no response queued")
	}
	copy(b, f.responses[0])
	f.responses = f.responses[1:]
	return len(b), nil
}

func (f *fakeDevice) Close() error {
	f.mx.Lock()
	defer f.mx.Unlock()
	f.closed++
	return nil
}

func (f *fakeDevice) queue(resp ...byte) {
	f.mx.Lock()
	defer f.mx.Unlock()
	buf := make([]byte, reportSize)
	copy(buf, resp)
	f.responses = append(f.responses, buf)
}

func newTestAdapter(dev *fakeDevice) *MCP2221 {
	return NewMCP2221(
		WithOpener(func(index int) (Device, error) { return dev, nil }),
		WithResponseWait(0),
	)
}

func TestMCP2221_WriteToAddr(t *testing.T) {
	dev := &fakeDevice{}
	dev.queue(cmdWrite, 0x00)
	a := newTestAdapter(dev)

	require.NoError(t, a.WriteToAddr(context.Background(), 0x42, []byte{1, 2, 3}))
	require.Len(t, dev.requests, 1)
	req := dev.requests[0]
	assert.Equal(t, []byte{cmdWrite, 3, 0, 0x84, 1, 2, 3}, req[:7])
	assert.Equal(t, 1, dev.closed)
}

func TestMCP2221_WriteBusy(t *testing.T) {
	dev := &fakeDevice{}
	dev.queue(cmdWrite, responseBusy)
	a := newTestAdapter(dev)
	err := a.WriteToAddr(context.Background(), 0x42, []byte{1})
	assert.ErrorIs(t, err, twis.ErrBusBusy)
}

func TestMCP2221_ReadFromAddr(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{name: "ok", data: []byte{cmdGetData, 0x00, 0x00, 2, 0xAB, 0xCD}},
		{name: "slave error", data: []byte{cmdGetData, responseReadError}, wantErr: twis.ErrNack},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := &fakeDevice{}
			dev.queue(cmdRead, 0x00)
			dev.queue(tt.data...)
			a := newTestAdapter(dev)
			buf := make([]byte, 2)
			err := a.ReadFromAddr(context.Background(), 0x42, buf)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []byte{0xAB, 0xCD}, buf)
			require.Len(t, dev.requests, 2)
			assert.Equal(t, []byte{cmdRead, 2, 0, 0x85}, dev.requests[0][:4])
			assert.Equal(t, byte(cmdGetData), dev.requests[1][0])
		})
	}
}

func TestMCP2221_ReadSizeMismatch(t *testing.T) {
	dev := &fakeDevice{}
	dev.queue(cmdRead, 0x00)
	dev.queue(cmdGetData, 0x00, 0x00, 1, 0xAB)
	a := newTestAdapter(dev)
	assert.Error(t, a.ReadFromAddr(context.Background(), 0x42, make([]byte, 2)))
}

func TestMCP2221_Tx(t *testing.T) {
	dev := &fakeDevice{}
	dev.queue(cmdWriteNoStop, 0x00)
	dev.queue(cmdReadRepeated, 0x00)
	dev.queue(cmdGetData, 0x00, 0x00, 1, 0x77)
	a := newTestAdapter(dev)

	r := make([]byte, 1)
	require.NoError(t, a.Tx(context.Background(), 0x10, []byte{0x05}, r))
	assert.Equal(t, []byte{0x77}, r)
	require.Len(t, dev.requests, 3)
	assert.Equal(t, byte(cmdWriteNoStop), dev.requests[0][0])
	assert.Equal(t, byte(cmdReadRepeated), dev.requests[1][0])
}

func TestMCP2221_Status(t *testing.T) {
	dev := &fakeDevice{}
	resp := make([]byte, reportSize)
	resp[0] = cmdStatus
	resp[9], resp[10] = 0x04, 0x00
	resp[11], resp[12] = 0x02, 0x00
	resp[13] = 7
	resp[14] = 0x76
	resp[16] = 0x84
	resp[25] = 1
	dev.queue(resp...)
	a := newTestAdapter(dev)

	status, err := a.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &MCP2221Status{
		I2CDataBufferCounter:   7,
		I2CSpeedDivider:        0x76,
		CurrentAddress:         "8400",
		LastWriteRequestedSize: 4,
		LastWriteSentSize:      2,
		ReadPending:            1,
	}, status)
}

func TestMCP2221_Release(t *testing.T) {
	dev := &fakeDevice{}
	dev.queue(cmdStatus)
	a := newTestAdapter(dev)
	require.NoError(t, a.Release(context.Background()))
	assert.Equal(t, byte(statusCancel), dev.requests[0][2])
}

func TestMCP2221_NotFound(t *testing.T) {
	a := NewMCP2221(WithOpener(func(int) (Device, error) { return nil, ErrDeviceNotFound }))
	err := a.WriteToAddr(context.Background(), 0x42, nil)
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestIdentify(t *testing.T) {
	name, ok := Identify(HIDDevice{VendorID: VendorID, ProductID: ProductID})
	assert.True(t, ok)
	assert.Equal(t, "MCP2221", name)
	_, ok = Identify(HIDDevice{VendorID: 1, ProductID: 2})
	assert.False(t, ok)
}
