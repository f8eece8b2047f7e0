// Package adapter drives USB-to-I2C bridges acting as bus masters, used to
// exercise a slave from a host.
package adapter

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/karalabe/hid"

	"github.com/mklimuk/twis"
)

const VendorID = 0x04D8
const ProductID = 0x00DD

// reportSize is the size of every HID report exchanged with the bridge.
const reportSize = 64

// maxChunk is the largest payload a single read report carries.
const maxChunk = 60

const (
	cmdStatus         = 0x10
	cmdGetData        = 0x40
	cmdWrite          = 0x90
	cmdWriteNoStop    = 0x94
	cmdRead           = 0x91
	cmdReadRepeated   = 0x93
	statusCancel      = 0x10
	responseBusy      = 0x01
	responseReadError = 0x41
)

var ErrDeviceNotFound = errors.New("MCP2221 device not found")
var ErrCommandFailed = errors.New("command failed")

// Device is an open HID device.
type Device interface {
	Write(b []byte) (int, error)
	Read(b []byte) (int, error)
	Close() error
}

// Opener opens the index-th bridge found on the host.
type Opener func(index int) (Device, error)

// OpenHID opens a bridge through the host HID stack.
func OpenHID(index int) (Device, error) {
	devs := hid.Enumerate(VendorID, ProductID)
	if len(devs) == 0 {
		return nil, ErrDeviceNotFound
	}
	if index < 0 || index >= len(devs) {
		return nil, fmt.Errorf("no device with id %d (%d found): %w", index, len(devs), ErrDeviceNotFound)
	}
	dev, err := devs[index].Open()
	if err != nil {
		return nil, fmt.Errorf("error opening device: %w", err)
	}
	return dev, nil
}

type Options struct {
	Logger       *slog.Logger
	Index        int
	Opener       Opener
	ResponseWait time.Duration
}

type Option func(*Options)

func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithIndex selects a bridge when more than one is connected.
func WithIndex(i int) Option {
	return func(o *Options) {
		o.Index = i
	}
}

func WithOpener(open Opener) Option {
	return func(o *Options) {
		o.Opener = open
	}
}

// WithResponseWait sets the delay between a request and reading its answer.
func WithResponseWait(d time.Duration) Option {
	return func(o *Options) {
		o.ResponseWait = d
	}
}

var _ twis.I2CBus = &MCP2221{}
var _ twis.Transactor = &MCP2221{}

type MCP2221 struct {
	mx       sync.Mutex
	config   Options
	log      *slog.Logger
	request  []byte
	response []byte
}

type MCP2221Status struct {
	I2CDataBufferCounter   int    `yaml:"i2c_data_buffer_counter"`
	I2CSpeedDivider        int    `yaml:"i2c_speed_divider"`
	I2CTimeout             int    `yaml:"i2c_timeout"`
	CurrentAddress         string `yaml:"current_address"`
	LastWriteRequestedSize uint16 `yaml:"last_write_requested_size"`
	LastWriteSentSize      uint16 `yaml:"last_write_sent_size"`
	ReadPending            int    `yaml:"read_pending"`
}

func NewMCP2221(opts ...Option) *MCP2221 {
	config := Options{
		Logger:       slog.Default(),
		Opener:       OpenHID,
		ResponseWait: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&config)
	}
	return &MCP2221{
		config:   config,
		log:      config.Logger.With("adapter", "mcp2221", "index", config.Index),
		request:  make([]byte, reportSize),
		response: make([]byte, reportSize),
	}
}

func (d *MCP2221) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if err := d.write(ctx, cmdWrite, address, buffer); err != nil {
		return fmt.Errorf("write to %x failed: %w", address, err)
	}
	return nil
}

func (d *MCP2221) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if err := d.read(ctx, cmdRead, address, buffer); err != nil {
		return fmt.Errorf("bus read from %x failed: %w", address, err)
	}
	return nil
}

// Tx writes w without a stop condition and reads r after a repeated start.
func (d *MCP2221) Tx(ctx context.Context, address byte, w, r []byte) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if len(r) == 0 {
		if err := d.write(ctx, cmdWrite, address, w); err != nil {
			return fmt.Errorf("write to %x failed: %w", address, err)
		}
		return nil
	}
	readCmd := byte(cmdRead)
	if len(w) > 0 {
		if err := d.write(ctx, cmdWriteNoStop, address, w); err != nil {
			return fmt.Errorf("write to %x failed: %w", address, err)
		}
		readCmd = cmdReadRepeated
	}
	if err := d.read(ctx, readCmd, address, r); err != nil {
		return fmt.Errorf("bus read from %x failed: %w", address, err)
	}
	return nil
}

func (d *MCP2221) write(ctx context.Context, cmd byte, address byte, buffer []byte) error {
	if len(buffer) > reportSize-4 {
		return fmt.Errorf("%d bytes do not fit in a single report", len(buffer))
	}
	d.resetBuffers()
	d.request[0] = cmd
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(len(buffer)))
	d.request[3] = address << 1
	copy(d.request[4:], buffer)
	if err := d.send(ctx); err != nil {
		return err
	}
	if d.response[1] == responseBusy {
		d.log.Debug("adapter busy")
		return twis.ErrBusBusy
	}
	return nil
}

func (d *MCP2221) read(ctx context.Context, cmd byte, address byte, buffer []byte) error {
	if len(buffer) > maxChunk {
		return fmt.Errorf("%d bytes do not fit in a single report", len(buffer))
	}
	d.resetBuffers()
	d.request[0] = cmd
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(len(buffer)))
	d.request[3] = address<<1 + 1
	if err := d.send(ctx); err != nil {
		return err
	}
	if d.response[1] == responseBusy {
		d.log.Debug("adapter busy")
		return twis.ErrBusBusy
	}
	d.resetBuffers()
	d.request[0] = cmdGetData
	if err := d.send(ctx); err != nil {
		return fmt.Errorf("error getting read data from adapter: %w", err)
	}
	if d.response[1] == responseReadError {
		return fmt.Errorf("error reading the I2C slave data from the I2C engine: %w", twis.ErrNack)
	}
	if d.response[3] == 127 || int(d.response[3]) != len(buffer) {
		return fmt.Errorf("invalid data size byte; expected %d, got %d", len(buffer), d.response[3])
	}
	copy(buffer, d.response[4:])
	return nil
}

func (d *MCP2221) Status(ctx context.Context) (*MCP2221Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdStatus
	if err := d.send(ctx); err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	return bufferToStatus(d.response), nil
}

func bufferToStatus(buffer []byte) *MCP2221Status {
	/*
		9: Lower byte (16-bit value) of the requested I2C transfer length
		10: Higher byte (16-bit value) of the requested I2C transfer length
		11:	Lower byte (16-bit value) of the already transferred (through I2C) number of bytes
		12:	Higher byte (16-bit value) of the already transferred (through I2C) number of bytes
		13:	Internal I2C data buffer counter
		14: Current I2C communication speed divider value
		15: Current I2C timeout value
		16:	Lower byte (16-bit value) of the I2C address being used
		17:	Higher byte (16-bit value) of the I2C address being used
		25: I2C read pending
	*/
	return &MCP2221Status{
		I2CDataBufferCounter:   int(buffer[13]),
		I2CSpeedDivider:        int(buffer[14]),
		I2CTimeout:             int(buffer[15]),
		ReadPending:            int(buffer[25]),
		CurrentAddress:         hex.EncodeToString(buffer[16:18]),
		LastWriteRequestedSize: binary.LittleEndian.Uint16(buffer[9:11]),
		LastWriteSentSize:      binary.LittleEndian.Uint16(buffer[11:13]),
	}
}

// Release cancels the transfer the bridge is stuck in.
func (d *MCP2221) Release(ctx context.Context) error {
	_, err := d.ReleaseBus(ctx)
	return err
}

func (d *MCP2221) ReleaseBus(ctx context.Context) (*MCP2221Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdStatus
	d.request[2] = statusCancel
	if err := d.send(ctx); err != nil {
		return nil, fmt.Errorf("release request failed: %w", err)
	}
	return bufferToStatus(d.response), nil
}

func (d *MCP2221) send(ctx context.Context) error {
	dev, err := d.config.Opener(d.config.Index)
	if err != nil {
		return err
	}
	defer func() {
		if err := dev.Close(); err != nil {
			d.log.Warn("could not close device", "error", err)
		}
	}()
	d.log.Debug("sending message to adapter", "dump", hex.EncodeToString(d.request[:8]))
	n, err := dev.Write(d.request)
	if err != nil {
		return fmt.Errorf("could not write request: %w", err)
	}
	if n != reportSize {
		return fmt.Errorf("short write: %d", n)
	}
	select {
	case <-time.After(d.config.ResponseWait):
	case <-ctx.Done():
		return ctx.Err()
	}
	n, err = dev.Read(d.response)
	if err != nil {
		return fmt.Errorf("could not read response: %w", err)
	}
	if n != reportSize {
		return fmt.Errorf("short read: %d", n)
	}
	d.log.Debug("read message from adapter", "dump", hex.EncodeToString(d.response[:8]))
	return nil
}

func (d *MCP2221) resetBuffers() {
	clear(d.request)
	clear(d.response)
}

// HIDDevice describes a HID device found on the host.
type HIDDevice struct {
	Path         string
	Serial       string
	VendorID     uint16
	ProductID    uint16
	Manufacturer string
	Product      string
}

// Known names the USB bridges this package can drive.
var Known = map[string][2]uint16{
	"MCP2221": {VendorID, ProductID},
}

// Enumerate lists HID devices. Zero ids match any device.
func Enumerate(vendor, product uint16) []HIDDevice {
	var res []HIDDevice
	for _, dev := range hid.Enumerate(vendor, product) {
		res = append(res, HIDDevice{
			Path:         dev.Path,
			Serial:       dev.Serial,
			VendorID:     dev.VendorID,
			ProductID:    dev.ProductID,
			Manufacturer: dev.Manufacturer,
			Product:      dev.Product,
		})
	}
	return res
}

// Identify returns the name of a known bridge matching dev.
func Identify(dev HIDDevice) (string, bool) {
	for name, ids := range Known {
		if ids[0] == dev.VendorID && ids[1] == dev.ProductID {
			return name, true
		}
	}
	return "", false
}
