package slave

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultInterruptPriority is the interrupt priority used by DefaultConfig.
const DefaultInterruptPriority = 6

// NoPin marks an unused pin. Pins may be left unset when both SkipGPIOConfig
// and SkipPinSelect are true.
const NoPin Pin = 0xFFFFFFFF

// Pin is a GPIO number encoded as port<<5 | line.
type Pin uint32

// PinNumber encodes a port and line into a Pin.
func PinNumber(port, line uint32) Pin {
	return Pin(port<<5 | line&0x1F)
}

func (p Pin) Port() uint32 { return uint32(p) >> 5 }
func (p Pin) Line() uint32 { return uint32(p) & 0x1F }

func (p Pin) String() string {
	if p == NoPin {
		return "none"
	}
	return fmt.Sprintf("P%d.%02d", p.Port(), p.Line())
}

func (p Pin) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText accepts "P<port>.<line>", a plain number or "none".
func (p *Pin) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" || s == "none" {
		*p = NoPin
		return nil
	}
	if s[0] == 'P' || s[0] == 'p' {
		port, line, ok := strings.Cut(s[1:], ".")
		if !ok {
			return fmt.Errorf("invalid pin %q", s)
		}
		pv, err := strconv.ParseUint(port, 10, 8)
		if err != nil {
			return fmt.Errorf("invalid pin port %q: %w", s, err)
		}
		lv, err := strconv.ParseUint(line, 10, 8)
		if err != nil || lv > 31 {
			return fmt.Errorf("invalid pin line %q", s)
		}
		*p = PinNumber(uint32(pv), uint32(lv))
		return nil
	}
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return fmt.Errorf("invalid pin %q: %w", s, err)
	}
	*p = Pin(v)
	return nil
}

// Pull selects the pull resistor on a bus line.
type Pull uint8

const (
	NoPull   Pull = 0
	PullDown Pull = 1
	PullUp   Pull = 3
)

func (p Pull) String() string {
	switch p {
	case NoPull:
		return "none"
	case PullDown:
		return "down"
	case PullUp:
		return "up"
	default:
		return "unknown"
	}
}

func (p Pull) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Pull) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "", "none", "nopull":
		*p = NoPull
	case "down", "pulldown":
		*p = PullDown
	case "up", "pullup":
		*p = PullUp
	default:
		return fmt.Errorf("invalid pull mode %q", text)
	}
	return nil
}

// Config is the configuration of a slave engine.
type Config struct {
	// Addresses the slave answers to. A zero slot is disabled.
	Addresses         [2]uint8 `yaml:"addresses"`
	SCL               Pin      `yaml:"scl"`
	SDA               Pin      `yaml:"sda"`
	SCLPull           Pull     `yaml:"scl_pull"`
	SDAPull           Pull     `yaml:"sda_pull"`
	InterruptPriority uint8    `yaml:"interrupt_priority"`
	// SkipGPIOConfig leaves the electrical pin setup to the caller.
	SkipGPIOConfig bool `yaml:"skip_gpio_cfg"`
	// SkipPinSelect leaves the pin routing to the caller.
	SkipPinSelect bool `yaml:"skip_psel_cfg"`
}

// DefaultConfig answers on addr only, with no pulls and the default
// interrupt priority.
func DefaultConfig(scl, sda Pin, addr uint8) Config {
	return Config{
		Addresses:         [2]uint8{addr, 0},
		SCL:               scl,
		SDA:               sda,
		SCLPull:           NoPull,
		SDAPull:           NoPull,
		InterruptPriority: DefaultInterruptPriority,
	}
}

// Validate checks that addresses fit in 7 bits.
func (c Config) Validate() error {
	for i, a := range c.Addresses {
		if a > 0x7F {
			return fmt.Errorf("address %d (%#x) exceeds 7 bits", i, a)
		}
	}
	return nil
}

// Matches reports whether addr is one of the enabled addresses.
func (c Config) Matches(addr uint8) bool {
	if addr == 0 {
		return false
	}
	return c.Addresses[0] == addr || c.Addresses[1] == addr
}
