package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Sensor kinds understood by the register conversion.
const (
	KindTemperature = "temperature"
	KindAmbient     = "ambient"
	KindHumidity    = "humidity"
	KindCO2         = "co2"
	KindVOC         = "voc"
	KindAirflow     = "airflow"
)

const unitCelsius = "°C"

// MaxRegisterWindow is the most holding registers one Modbus read may return.
const MaxRegisterWindow = 125

type DeviceConfig struct {
	DeviceID   string           `yaml:"device_id" env-default:"vmc"`
	DeviceName string           `yaml:"device_name"`
	Connection ConnectionConfig `yaml:"connection"`
	Polling    PollingConfig    `yaml:"polling"`
	Sensors    []SensorConfig   `yaml:"sensors"`
}

type ConnectionConfig struct {
	Address     string        `yaml:"address" env:"MODBUS_ADDRESS" env-default:"localhost:502"`
	SlaveID     byte          `yaml:"slave_id" env-default:"1"`
	Timeout     time.Duration `yaml:"timeout" env-default:"5s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

type PollingConfig struct {
	Interval time.Duration `yaml:"interval" env-default:"30s"`
	Timeout  time.Duration `yaml:"timeout" env-default:"5s"`
}

type SensorConfig struct {
	Address uint16  `yaml:"address"`
	Name    string  `yaml:"name"`
	Unit    string  `yaml:"unit"`
	Kind    string  `yaml:"kind"`
	Min     float64 `yaml:"min"`
	Max     float64 `yaml:"max"`
}

// IsTemperature reports whether the sensor uses the linear temperature mapping.
// Sensors without an explicit kind fall back to their unit.
func (s SensorConfig) IsTemperature() bool {
	switch s.Kind {
	case KindTemperature, KindAmbient:
		return true
	case "":
		return s.Unit == unitCelsius
	default:
		return false
	}
}

// CapteurID is the identifier exposed to clients: register address + 1.
func (s SensorConfig) CapteurID() int {
	return int(s.Address) + 1
}

func (d *DeviceConfig) Validate() error {
	if len(d.Sensors) == 0 {
		return errors.New("no sensors configured")
	}

	seen := make(map[uint16]string, len(d.Sensors))
	lo, hi := d.Sensors[0].Address, d.Sensors[0].Address
	for _, s := range d.Sensors {
		lo = min(lo, s.Address)
		hi = max(hi, s.Address)

		if s.Name == "" {
			return fmt.Errorf("sensor at address %d has no name", s.Address)
		}
		if other, ok := seen[s.Address]; ok {
			return fmt.Errorf("sensors %q and %q share address %d", other, s.Name, s.Address)
		}
		seen[s.Address] = s.Name

		if s.Min > s.Max {
			return fmt.Errorf("sensor %q: min %.2f is greater than max %.2f", s.Name, s.Min, s.Max)
		}

		switch s.Kind {
		case "", KindTemperature, KindAmbient, KindHumidity, KindCO2, KindVOC, KindAirflow:
		default:
			return fmt.Errorf("sensor %q: unknown kind %q", s.Name, s.Kind)
		}
	}

	if span := int(hi) - int(lo) + 1; span > MaxRegisterWindow {
		return fmt.Errorf("sensor addresses %d..%d span %d registers, a single read allows at most %d",
			lo, hi, span, MaxRegisterWindow)
	}

	if d.Polling.Interval <= 0 {
		return errors.New("polling interval must be positive")
	}

	return nil
}

func LoadDevice(configPath string) (*DeviceConfig, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("device config file not found: %s", configPath)
	}

	var cfg DeviceConfig
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read device config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid device config: %w", err)
	}

	return &cfg, nil
}

func MustLoadDevice(configPath string) *DeviceConfig {
	cfg, err := LoadDevice(configPath)
	if err != nil {
		panic(err.Error())
	}
	return cfg
}
