package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Pins        PinsConfig        `yaml:"pins"`
	Valve       ValveConfig       `yaml:"valve"`
	Debounce    DebounceConfig    `yaml:"debounce"`
	Drain       DrainConfig       `yaml:"drain"`
	Scale       ScaleConfig       `yaml:"scale"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Store       StoreConfig       `yaml:"store"`
	Mock        MockConfig        `yaml:"mock"`
	LogLevel    string            `yaml:"log_level"`
}

// PinsConfig names the GPIO lines by their periph registry names.
type PinsConfig struct {
	Manual     string `yaml:"manual"`      // push button, idle-high with pull-up
	DrainPanel string `yaml:"drain_panel"` // panel button, idle-high with pull-up
	External   string `yaml:"external"`    // driven trigger line, idle-low with pull-down
	Valve      string `yaml:"valve"`       // PWM-capable solenoid output
	StatusLED  string `yaml:"status_led"`  // optional valve-open indicator, empty to disable
}

// ValveConfig contains the two-stage actuation profile.
type ValveConfig struct {
	HitLevel       uint8         `yaml:"hit_level"`       // opening pulse level (0-255)
	HoldLevel      uint8         `yaml:"hold_level"`      // sustain level, must be below hit
	HoldTransition time.Duration `yaml:"hold_transition"` // time at hit level before downgrading
	PWMHz          int           `yaml:"pwm_hz"`          // solenoid PWM carrier frequency
}

// DebounceConfig contains input debounce parameters.
type DebounceConfig struct {
	Settle time.Duration `yaml:"settle"` // delay before re-sampling a bouncing input
}

// DrainConfig contains drain session limits.
type DrainConfig struct {
	MaxOpen time.Duration `yaml:"max_open"` // watchdog cap on a drain session
}

// ScaleConfig contains the serial weight-sensor bridge configuration.
type ScaleConfig struct {
	Port        string        `yaml:"port"`
	BaudRate    int           `yaml:"baud_rate"`
	Samples     int           `yaml:"samples"`      // default averaging window for reads
	ReadTimeout time.Duration `yaml:"read_timeout"` // per-read wait for fresh samples
}

// CalibrationConfig contains the flow-trial table and weight-calibration
// reference masses.
type CalibrationConfig struct {
	PulseTick      time.Duration `yaml:"pulse_tick"`      // calibration pulse clock granularity
	Trials         []TrialConfig `yaml:"trials"`          // ordered (duration, count) table
	ReferenceGrams []float32     `yaml:"reference_grams"` // weight-calibration reference masses
	DensityGPerML  float32       `yaml:"density_g_per_ml"`
}

// TrialConfig is one (pulse-duration, pulse-count) flow trial.
type TrialConfig struct {
	Duration time.Duration `yaml:"duration"`
	Count    int           `yaml:"count"`
}

// StoreConfig contains persistence paths.
type StoreConfig struct {
	ScaleFile   string `yaml:"scale_file"`   // YAML scale-factor file
	HistoryFile string `yaml:"history_file"` // SQLite flow-trial history
}

// MockConfig contains simulated rig configuration.
type MockConfig struct {
	BaselineCounts float32 `yaml:"baseline_counts"` // raw counts with nothing on the scale
	NoiseCounts    float32 `yaml:"noise_counts"`    // noise amplitude in raw counts
	ScaleFactor    float32 `yaml:"scale_factor"`    // simulated counts per gram
	DripGramsPerS  float32 `yaml:"drip_grams_per_s"` // mass accumulation while valve open
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Pins: PinsConfig{
			Manual:     "GPIO17",
			DrainPanel: "GPIO27",
			External:   "GPIO22",
			Valve:      "GPIO18", // hardware PWM channel on a Pi header
			StatusLED:  "GPIO23",
		},
		Valve: ValveConfig{
			HitLevel:       255,
			HoldLevel:      90,
			HoldTransition: 25 * time.Millisecond,
			PWMHz:          2000,
		},
		Debounce: DebounceConfig{
			Settle: 8 * time.Millisecond,
		},
		Drain: DrainConfig{
			MaxOpen: 2 * time.Minute,
		},
		Scale: ScaleConfig{
			Port:        "/dev/ttyACM0",
			BaudRate:    115200,
			Samples:     16,
			ReadTimeout: 2 * time.Second,
		},
		Calibration: CalibrationConfig{
			PulseTick: time.Millisecond,
			Trials: []TrialConfig{
				{Duration: 20 * time.Millisecond, Count: 50},
				{Duration: 40 * time.Millisecond, Count: 50},
				{Duration: 60 * time.Millisecond, Count: 25},
				{Duration: 80 * time.Millisecond, Count: 20},
				{Duration: 100 * time.Millisecond, Count: 10},
			},
			ReferenceGrams: []float32{10, 20, 50},
			DensityGPerML:  1.0, // water
		},
		Store: StoreConfig{
			ScaleFile:   "scale.yaml",
			HistoryFile: "calibration.db",
		},
		Mock: MockConfig{
			BaselineCounts: 12000,
			NoiseCounts:    25,
			ScaleFactor:    420,
			DripGramsPerS:  0.5,
		},
		LogLevel: "info",
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist, return defaults
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Ensure minimum required fields are set (use defaults if missing)
	cfg.ensureDefaults()

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate rejects settings the hardware cannot act on. It does not check
// pin names; those fail at HAL setup with a more specific error.
func (c *Config) Validate() error {
	if c.Valve.HitLevel == 0 {
		return fmt.Errorf("valve hit_level must be non-zero")
	}
	if c.Valve.HoldLevel == 0 {
		return fmt.Errorf("valve hold_level must be non-zero")
	}
	if c.Valve.HoldLevel >= c.Valve.HitLevel {
		return fmt.Errorf("valve hold_level (%d) must be below hit_level (%d)", c.Valve.HoldLevel, c.Valve.HitLevel)
	}
	if c.Valve.HoldTransition <= 0 {
		return fmt.Errorf("valve hold_transition must be positive")
	}
	if c.Debounce.Settle <= 0 {
		return fmt.Errorf("debounce settle must be positive")
	}
	if c.Drain.MaxOpen < time.Second {
		return fmt.Errorf("drain max_open must be at least one second")
	}
	if c.Calibration.PulseTick <= 0 {
		return fmt.Errorf("calibration pulse_tick must be positive")
	}
	if c.Calibration.DensityGPerML <= 0 {
		return fmt.Errorf("calibration density_g_per_ml must be positive")
	}
	for i, trial := range c.Calibration.Trials {
		if trial.Duration < c.Calibration.PulseTick {
			return fmt.Errorf("calibration trial %d: duration %v is below one pulse tick (%v)", i, trial.Duration, c.Calibration.PulseTick)
		}
		if trial.Count <= 0 {
			return fmt.Errorf("calibration trial %d: count must be positive", i)
		}
	}
	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Pins.Manual == "" {
		c.Pins.Manual = def.Pins.Manual
	}
	if c.Pins.DrainPanel == "" {
		c.Pins.DrainPanel = def.Pins.DrainPanel
	}
	if c.Pins.External == "" {
		c.Pins.External = def.Pins.External
	}
	if c.Pins.Valve == "" {
		c.Pins.Valve = def.Pins.Valve
	}

	if c.Valve.HitLevel == 0 {
		c.Valve.HitLevel = def.Valve.HitLevel
	}
	if c.Valve.HoldLevel == 0 {
		c.Valve.HoldLevel = def.Valve.HoldLevel
	}
	if c.Valve.HoldTransition == 0 {
		c.Valve.HoldTransition = def.Valve.HoldTransition
	}
	if c.Valve.PWMHz == 0 {
		c.Valve.PWMHz = def.Valve.PWMHz
	}

	if c.Debounce.Settle == 0 {
		c.Debounce.Settle = def.Debounce.Settle
	}
	if c.Drain.MaxOpen == 0 {
		c.Drain.MaxOpen = def.Drain.MaxOpen
	}

	if c.Scale.Port == "" {
		c.Scale.Port = def.Scale.Port
	}
	if c.Scale.BaudRate == 0 {
		c.Scale.BaudRate = def.Scale.BaudRate
	}
	if c.Scale.Samples == 0 {
		c.Scale.Samples = def.Scale.Samples
	}
	if c.Scale.ReadTimeout == 0 {
		c.Scale.ReadTimeout = def.Scale.ReadTimeout
	}

	if c.Calibration.PulseTick == 0 {
		c.Calibration.PulseTick = def.Calibration.PulseTick
	}
	if len(c.Calibration.Trials) == 0 {
		c.Calibration.Trials = def.Calibration.Trials
	}
	if len(c.Calibration.ReferenceGrams) == 0 {
		c.Calibration.ReferenceGrams = def.Calibration.ReferenceGrams
	}
	if c.Calibration.DensityGPerML == 0 {
		c.Calibration.DensityGPerML = def.Calibration.DensityGPerML
	}

	if c.Store.ScaleFile == "" {
		c.Store.ScaleFile = def.Store.ScaleFile
	}
	if c.Store.HistoryFile == "" {
		c.Store.HistoryFile = def.Store.HistoryFile
	}

	if c.Mock.BaselineCounts == 0 {
		c.Mock.BaselineCounts = def.Mock.BaselineCounts
	}
	if c.Mock.NoiseCounts == 0 {
		c.Mock.NoiseCounts = def.Mock.NoiseCounts
	}
	if c.Mock.ScaleFactor == 0 {
		c.Mock.ScaleFactor = def.Mock.ScaleFactor
	}
	if c.Mock.DripGramsPerS == 0 {
		c.Mock.DripGramsPerS = def.Mock.DripGramsPerS
	}

	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
}
