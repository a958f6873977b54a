// Package config loads the paper-session configuration: the trade to run,
// the simulated instrument, the audit journal, and a scripted quote tape.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete session configuration.
type Config struct {
	Trade      TradeConfig      `yaml:"trade"`
	Instrument InstrumentConfig `yaml:"instrument"`
	Journal    JournalConfig    `yaml:"journal"`
	Log        LogConfig        `yaml:"log"`
	Scenario   ScenarioConfig   `yaml:"scenario"`
}

// TradeConfig describes the single trade the session will run.
type TradeConfig struct {
	Symbol       string  `yaml:"symbol"`        // data-feed symbol
	SymbolBroker string  `yaml:"symbol_broker"` // broker symbology, defaults to Symbol
	Side         string  `yaml:"side"`          // "long" or "short"
	Contracts    int     `yaml:"contracts"`
	Armed        bool    `yaml:"armed"`
	HotInterval  string  `yaml:"hot_interval,omitempty"` // e.g. "5s"
	LimitOff     float64 `yaml:"limit_off"`
	MarketOrd    bool    `yaml:"market_ord"`
	StopOff      float64 `yaml:"stop_off"`
	StopOffEven  float64 `yaml:"stop_off_even"`
	HourSigmoid  float64 `yaml:"hour_sigmoid"`
	Commissions  float64 `yaml:"commissions"`
}

// ParseHotInterval converts the hot_interval string to a duration. Empty
// means the built-in default.
func (t TradeConfig) ParseHotInterval() (time.Duration, error) {
	if t.HotInterval == "" {
		return 0, nil
	}
	return time.ParseDuration(t.HotInterval)
}

// InstrumentConfig seeds the simulated broker's contract metadata.
type InstrumentConfig struct {
	Description string  `yaml:"description"`
	TickSize    float64 `yaml:"tick_size"`
	TickValue   float64 `yaml:"tick_value"`
	Fee         float64 `yaml:"fee"`
}

// JournalConfig selects the audit journal backend.
type JournalConfig struct {
	Type string `yaml:"type"` // "sqlite", "csv" or "none"
	Path string `yaml:"path,omitempty"`
}

// LogConfig controls the structured log output.
type LogConfig struct {
	Level  string `yaml:"level"`  // zerolog level name, default "info"
	Pretty bool   `yaml:"pretty"` // console writer instead of JSON
}

// ScenarioConfig is the scripted quote tape fed to the simulator.
type ScenarioConfig struct {
	Steps []QuoteStep `yaml:"steps"`
}

// QuoteStep is one quote on the tape. Last defaults to the mid when zero.
type QuoteStep struct {
	Bid   float64 `yaml:"bid"`
	Ask   float64 `yaml:"ask"`
	Last  float64 `yaml:"last,omitempty"`
	Delay string  `yaml:"delay,omitempty"` // pause before this step, e.g. "250ms"
}

// ParseDelay converts the delay string to a duration.
func (s QuoteStep) ParseDelay() (time.Duration, error) {
	if s.Delay == "" {
		return 0, nil
	}
	return time.ParseDuration(s.Delay)
}

// LoadFromFile reads and validates a YAML config.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Trade.SymbolBroker == "" {
		cfg.Trade.SymbolBroker = cfg.Trade.Symbol
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile writes the config as YAML.
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if c.Trade.Symbol == "" {
		return fmt.Errorf("trade.symbol is required")
	}
	if c.Trade.Side != "long" && c.Trade.Side != "short" {
		return fmt.Errorf("trade.side must be 'long' or 'short'")
	}
	if c.Trade.Contracts <= 0 {
		return fmt.Errorf("trade.contracts must be positive")
	}
	if _, err := c.Trade.ParseHotInterval(); err != nil {
		return fmt.Errorf("trade.hot_interval: %w", err)
	}
	if c.Instrument.TickSize <= 0 {
		return fmt.Errorf("instrument.tick_size must be positive")
	}
	if c.Instrument.TickValue <= 0 {
		return fmt.Errorf("instrument.tick_value must be positive")
	}
	switch c.Journal.Type {
	case "sqlite", "csv":
		if c.Journal.Path == "" {
			return fmt.Errorf("journal.path required for type %q", c.Journal.Type)
		}
	case "none":
	default:
		return fmt.Errorf("journal.type must be 'sqlite', 'csv' or 'none'")
	}
	for i, s := range c.Scenario.Steps {
		if _, err := s.ParseDelay(); err != nil {
			return fmt.Errorf("scenario step %d: %w", i, err)
		}
	}
	return nil
}

// Default returns a runnable paper configuration for the ES contract.
func Default() *Config {
	return &Config{
		Trade: TradeConfig{
			Symbol:      "@ES#",
			Side:        "long",
			Contracts:   1,
			Armed:       true,
			LimitOff:    0.25,
			StopOff:     2.00,
			StopOffEven: 2.00,
			HourSigmoid: 2.0,
			Commissions: 6.99,
		},
		Instrument: InstrumentConfig{
			Description: "E-mini S&P 500",
			TickSize:    0.25,
			TickValue:   12.50,
			Fee:         1.14,
		},
		Journal: JournalConfig{Type: "none"},
		Log:     LogConfig{Level: "info", Pretty: true},
	}
}
