// Package config loads the YAML setup of the twis tool: the slave instances
// to create and how their register files look.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mklimuk/twis/slave"
)

// Version is the only config format version understood.
const Version = 1

var ErrInvalid = errors.New("invalid configuration")

type Instance struct {
	Name string `yaml:"name"`
	// Controller is the controller ID; it defaults to the instance name.
	Controller string `yaml:"controller"`
	// Resource is the hardware block the controller shares with other
	// peripherals; it defaults to the controller ID.
	Resource string `yaml:"resource,omitempty"`
	// Registers is the size of the register file served on the instance.
	Registers int    `yaml:"registers"`
	Initial   []byte `yaml:"initial,omitempty"`
	// Blocking serves the instance without a handler.
	Blocking bool         `yaml:"blocking"`
	Slave    slave.Config `yaml:",inline"`
}

type Config struct {
	Version   int        `yaml:"version"`
	LogLevel  string     `yaml:"log_level"`
	RAM       int        `yaml:"ram"`
	Instances []Instance `yaml:"instances"`
}

// Default is a single register file on address 0x42.
func Default() *Config {
	cfg := slave.DefaultConfig(slave.PinNumber(0, 11), slave.PinNumber(0, 12), 0x42)
	return &Config{
		Version:  Version,
		LogLevel: "info",
		RAM:      4096,
		Instances: []Instance{
			{Name: "twis0", Controller: "twis0", Registers: 16, Slave: cfg},
		},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open config: %w", err)
	}
	defer f.Close()
	cfg, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Decode reads a config; unknown fields are rejected.
func Decode(r io.Reader) (*Config, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	cfg := &Config{}
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("could not decode config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Version == 0 {
		c.Version = Version
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.RAM == 0 {
		c.RAM = 4096
	}
	for i := range c.Instances {
		in := &c.Instances[i]
		if in.Controller == "" {
			in.Controller = in.Name
		}
		if in.Registers == 0 {
			in.Registers = 16
		}
		if in.Slave.InterruptPriority == 0 {
			in.Slave.InterruptPriority = slave.DefaultInterruptPriority
		}
	}
}

func (c *Config) Validate() error {
	if c.Version != Version {
		return fmt.Errorf("%w: unsupported version %d", ErrInvalid, c.Version)
	}
	if len(c.Instances) == 0 {
		return fmt.Errorf("%w: no instances", ErrInvalid)
	}
	names := make(map[string]bool)
	for i, in := range c.Instances {
		if in.Name == "" {
			return fmt.Errorf("%w: instance %d has no name", ErrInvalid, i)
		}
		if names[in.Name] {
			return fmt.Errorf("%w: duplicate instance %s", ErrInvalid, in.Name)
		}
		names[in.Name] = true
		if in.Registers < 1 || in.Registers > 256 {
			return fmt.Errorf("%w: instance %s: %d registers", ErrInvalid, in.Name, in.Registers)
		}
		if err := in.Slave.Validate(); err != nil {
			return fmt.Errorf("%w: instance %s: %w", ErrInvalid, in.Name, err)
		}
	}
	return nil
}

// Encode writes c as YAML.
func (c *Config) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("could not encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("could not encode config: %w", err)
	}
	return buf.Bytes(), nil
}
