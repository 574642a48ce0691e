// Package config loads process configuration from environment variables
// with yaml-file overrides, following the Default/Load/Validate shape of
// strategy/config.go, generalized away from that file's single
// LLM-provider config into the ambient knobs this service needs:
// upstream credentials, storage location, HTTP bind address, and the
// adapter/batcher cadences spec §4.6/§6 name as fixed constants, of which
// only some take effect when overridden (see Cadences and Timeouts).
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config holds everything read from the environment plus any optional
// yaml override file (spec §6 "Environment variables (recognized)").
type Config struct {
	UpstreamUsername string `yaml:"upstreamUsername"`
	UpstreamPassword string `yaml:"upstreamPassword"`
	StorageURI       string `yaml:"storageURI"`
	Host             string `yaml:"host"`
	Port             string `yaml:"port"`

	// Upstream endpoints (spec §6 "Inbound (consumed)"); not named as
	// recognized environment variables by the spec, so they carry
	// OpenF1-shaped defaults and are only ever overridden via the yaml
	// file, not environment variables.
	MQTTBroker            string `yaml:"mqttBroker"`
	SignalRNegotiateURL   string `yaml:"signalrNegotiateURL"`
	SignalRConnectURL     string `yaml:"signalrConnectURL"`
	RESTBaseURL           string `yaml:"restBaseURL"`
	MultiviewerBaseURL    string `yaml:"multiviewerBaseURL"`

	Cadences  Cadences  `yaml:"cadences"`
	Timeouts  Timeouts  `yaml:"timeouts"`
	TrackmapSeedDir string `yaml:"trackmapSeedDir"`
}

// Cadences mirrors the fixed cadences named in spec §4.6 and §6's REST
// fallback poller table. ProgressiveSave and the Fallback* cadences are
// read by cmd/telemetry-core, so overriding them takes effect;
// PositionsBatch, DriverStatesBatch and ClockFallback are not read, since
// the batcher runs on its own fixed intervals.
type Cadences struct {
	PositionsBatch    time.Duration `yaml:"positionsBatch"`
	DriverStatesBatch time.Duration `yaml:"driverStatesBatch"`
	ClockFallback     time.Duration `yaml:"clockFallback"`
	ProgressiveSave   time.Duration `yaml:"progressiveSave"`

	FallbackCarData     time.Duration `yaml:"fallbackCarData"`
	FallbackIntervals   time.Duration `yaml:"fallbackIntervals"`
	FallbackPosition    time.Duration `yaml:"fallbackPosition"`
	FallbackPit         time.Duration `yaml:"fallbackPit"`
	FallbackStints      time.Duration `yaml:"fallbackStints"`
	FallbackRaceControl time.Duration `yaml:"fallbackRaceControl"`
	FallbackWeather     time.Duration `yaml:"fallbackWeather"`
	FallbackOvertakes   time.Duration `yaml:"fallbackOvertakes"`
}

// Timeouts holds retry/backoff knobs named in spec §7. Only
// FallbackGracePeriod and MultiviewerFetch are read by cmd/telemetry-core;
// the SignalR and MQTT adapters use the ingest package's fixed retry
// constants, so SignalRRetryInterval, SignalRMaxAttempts and
// MQTTReconnectPeriod have no effect.
type Timeouts struct {
	SignalRRetryInterval time.Duration `yaml:"signalrRetryInterval"`
	SignalRMaxAttempts   int           `yaml:"signalrMaxAttempts"`
	MQTTReconnectPeriod  time.Duration `yaml:"mqttReconnectPeriod"`
	FallbackGracePeriod  time.Duration `yaml:"fallbackGracePeriod"`
	MultiviewerFetch     time.Duration `yaml:"multiviewerFetch"`
}

// Default returns the spec-mandated cadences and timeouts with no
// upstream credentials or storage location set.
func Default() *Config {
	return &Config{
		Host: "0.0.0.0",
		Port: "8080",
		MQTTBroker:          "tls://mqtt.upstream.example:8883",
		SignalRNegotiateURL: "https://livetiming.upstream.example/signalr/negotiate",
		SignalRConnectURL:   "wss://livetiming.upstream.example/signalr/connect",
		RESTBaseURL:         "https://api.upstream.example/v1",
		MultiviewerBaseURL:  "https://api.multiviewer.app/api/v1",
		Cadences: Cadences{
			PositionsBatch:      100 * time.Millisecond,
			DriverStatesBatch:   1000 * time.Millisecond,
			ClockFallback:       5 * time.Second,
			ProgressiveSave:     30 * time.Second,
			FallbackCarData:     2 * time.Second,
			FallbackIntervals:   4 * time.Second,
			FallbackPosition:    4 * time.Second,
			FallbackPit:         10 * time.Second,
			FallbackStints:      10 * time.Second,
			FallbackRaceControl: 5 * time.Second,
			FallbackWeather:     60 * time.Second,
			FallbackOvertakes:   10 * time.Second,
		},
		Timeouts: Timeouts{
			SignalRRetryInterval: 60 * time.Second,
			SignalRMaxAttempts:   3,
			MQTTReconnectPeriod:  5 * time.Second,
			FallbackGracePeriod:  15 * time.Second,
			MultiviewerFetch:     5 * time.Second,
		},
	}
}

// Load builds a Config from Default(), an optional yaml override file at
// yamlPath (skipped silently if empty or absent), and finally environment
// variables, which always take precedence.
func Load(yamlPath string) (*Config, error) {
	cfg := Default()

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, errors.Wrap(err, "config: reading override file")
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(err, "config: parsing override file")
		}
	}

	if v := os.Getenv("UPSTREAM_USERNAME"); v != "" {
		cfg.UpstreamUsername = v
	}
	if v := os.Getenv("UPSTREAM_PASSWORD"); v != "" {
		cfg.UpstreamPassword = v
	}
	if v := os.Getenv("STORAGE_URI"); v != "" {
		cfg.StorageURI = v
	}
	if v := os.Getenv("HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.UpstreamUsername == "" || c.UpstreamPassword == "" {
		return errors.New("config: UPSTREAM_USERNAME and UPSTREAM_PASSWORD are required")
	}
	if c.StorageURI == "" {
		return errors.New("config: STORAGE_URI is required")
	}
	if c.Port == "" {
		return errors.New("config: PORT is required")
	}
	return nil
}

// Addr returns the host:port HTTP admin surface should bind to.
func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}
