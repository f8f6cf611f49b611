// Package config loads YAML configuration for SeedLink client programs
// and applies it to a connection description.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"seedlink/client"
	"seedlink/streams"
)

// Config represents the complete client configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Streams StreamsConfig `yaml:"streams"`
	State   StateConfig   `yaml:"state"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig contains connection settings.
type ServerConfig struct {
	Address          string `yaml:"address"`
	TLS              bool   `yaml:"tls"`
	ClientName       string `yaml:"client_name"`
	ClientVersion    string `yaml:"client_version"`
	KeepaliveSeconds int    `yaml:"keepalive_seconds"`
	NetTimeoutSecs   int    `yaml:"network_timeout_seconds"`
	NetDelaySecs     int    `yaml:"reconnect_delay_seconds"`
	IOTimeoutSecs    int    `yaml:"io_timeout_seconds"`
	Dialup           bool   `yaml:"dialup"`
	Batch            bool   `yaml:"batch"`
	BeginTime        string `yaml:"begin_time"`
	EndTime          string `yaml:"end_time"`
}

// StreamsConfig selects the data streams.
type StreamsConfig struct {
	// List is an inline stream list: "IU_KONO:BHE BHN,GE_WLF".
	List string `yaml:"list"`
	// File reads subscriptions from a stream list file instead.
	File string `yaml:"file"`
	// DefaultSelectors apply to entries without their own selectors, and
	// to uni-station mode.
	DefaultSelectors string `yaml:"default_selectors"`
	// AllStation selects uni-station mode when no list is given.
	AllStation bool `yaml:"all_station"`
}

// StateConfig selects the resumption state backing.
type StateConfig struct {
	File   string `yaml:"file"`
	SQLite string `yaml:"sqlite"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Verbosity int  `yaml:"verbosity"`
	JSON      bool `yaml:"json"`
}

// Load loads configuration from a YAML file.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &cfg, nil
}

// Apply copies the configuration onto a connection description, including
// the stream subscriptions.
func (c *Config) Apply(cl *client.Client) error {
	if c.Server.Address != "" {
		cl.Addr = c.Server.Address
	}
	cl.TLS = c.Server.TLS
	if c.Server.ClientName != "" {
		cl.SetClientName(c.Server.ClientName, c.Server.ClientVersion)
	}
	if c.Server.KeepaliveSeconds > 0 {
		cl.Keepalive = time.Duration(c.Server.KeepaliveSeconds) * time.Second
	}
	if c.Server.NetTimeoutSecs > 0 {
		cl.NetTimeout = time.Duration(c.Server.NetTimeoutSecs) * time.Second
	}
	if c.Server.NetDelaySecs > 0 {
		cl.NetDelay = time.Duration(c.Server.NetDelaySecs) * time.Second
	}
	if c.Server.IOTimeoutSecs > 0 {
		cl.IOTimeout = time.Duration(c.Server.IOTimeoutSecs) * time.Second
	}
	cl.Dialup = c.Server.Dialup
	cl.BatchMode = c.Server.Batch
	cl.BeginTime = c.Server.BeginTime
	cl.EndTime = c.Server.EndTime

	switch {
	case c.Streams.List != "":
		if _, err := cl.ParseStreamList(c.Streams.List, c.Streams.DefaultSelectors); err != nil {
			return err
		}
	case c.Streams.File != "":
		if _, err := cl.ReadStreamList(c.Streams.File, c.Streams.DefaultSelectors); err != nil {
			return err
		}
	case c.Streams.AllStation:
		if err := cl.SetAllStation(c.Streams.DefaultSelectors, streams.UnsetSequence, ""); err != nil {
			return err
		}
	}

	return nil
}
