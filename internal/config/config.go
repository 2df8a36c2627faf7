package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// Target peripheral
	DefaultTargetName = "6733contactTracing"

	// Custom GATT service exposed by the peripheral firmware
	DefaultServiceUUID = "4A981234-1CC4-E7C1-C757-F1267DD021E8"
	DefaultWriteUUID   = "4A981235-1CC4-E7C1-C757-F1267DD021E8"
	DefaultReadUUID    = "4A981236-1CC4-E7C1-C757-F1267DD021E8"

	// Scanner
	ScanWindow = 5 * time.Second // One discovery pass, matches the stack default

	// Calibration
	SamplesPerPoint = 5                      // RSSI readings averaged per reference distance
	ReadingInterval = 500 * time.Millisecond // Pause between readings at one position

	// Bridge
	TopicPrefix   = "test"
	PublishQoS    = 1
	InboundQueue  = 64                     // Buffered inbound lines before the handler starts dropping
	DrainWindow   = 500 * time.Millisecond // Inbound lines still relayed after input ends
	BenchmarkRuns = 10

	// Demo mode
	DemoDeviceMin = 4 // Minimum fake bystander peripherals
	DemoDeviceMax = 7 // Maximum fake bystander peripherals

	// App
	AppName    = "BLE-BRIDGE"
	AppVersion = "1.0"
)

// DefaultReferenceDistances are the known distances (cm) walked during calibration.
var DefaultReferenceDistances = []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90}

// Config is the top-level bridge configuration.
type Config struct {
	Adapter     string            `yaml:"adapter"`
	Target      TargetConfig      `yaml:"target"`
	Service     ServiceConfig     `yaml:"service"`
	Scan        ScanConfig        `yaml:"scan"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Bridge      BridgeConfig      `yaml:"bridge"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Logger      LoggerConfig      `yaml:"logger"`
}

// TargetConfig selects the peripheral. Address wins over Name when both are set.
type TargetConfig struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
}

// ServiceConfig names the custom service and its two characteristics.
type ServiceConfig struct {
	UUID      string `yaml:"uuid"`
	WriteUUID string `yaml:"write_uuid"`
	ReadUUID  string `yaml:"read_uuid"`
}

// ScanConfig bounds discovery.
type ScanConfig struct {
	Window    time.Duration `yaml:"window"`
	MaxPasses int           `yaml:"max_passes"` // 0 = scan until found
}

// CalibrationConfig holds the reference walk and, optionally, known coefficients.
type CalibrationConfig struct {
	ReferenceDistances []float64     `yaml:"reference_distances"`
	SamplesPerPoint    int           `yaml:"samples_per_point"`
	ReadingInterval    time.Duration `yaml:"reading_interval"`
	Slope              float64       `yaml:"slope"`
	Intercept          float64       `yaml:"intercept"`
	ModelFile          string        `yaml:"model_file"`
}

// BridgeConfig tunes the connected session.
type BridgeConfig struct {
	DeviceID           string        `yaml:"device_id"` // topic suffix; defaults to the peripheral address
	Confirmed          bool          `yaml:"confirmed"`
	Reconnect          bool          `yaml:"reconnect"`
	FailOnPublishError bool          `yaml:"fail_on_publish_error"`
	InboundQueue       int           `yaml:"inbound_queue"`
	DrainWindow        time.Duration `yaml:"drain_window"` // quiet period before exiting at end of input
	PollRate           float64       `yaml:"poll_rate"`    // reads per second in poll mode, 0 = unpaced
}

// MQTTConfig configures the broker sink. An empty Broker selects the console sink.
type MQTTConfig struct {
	Broker         string        `yaml:"broker"` // e.g. "ssl://xxxx-ats.iot.ap-southeast-2.amazonaws.com:8883"
	ClientID       string        `yaml:"client_id"`
	TopicPrefix    string        `yaml:"topic_prefix"`
	QoS            int           `yaml:"qos"`
	CAFile         string        `yaml:"ca_file"`
	CertFile       string        `yaml:"cert_file"`
	KeyFile        string        `yaml:"key_file"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	MaxFailures    uint32        `yaml:"max_failures"`
	OpenTimeout    time.Duration `yaml:"open_timeout"`
}

// LoggerConfig selects log level and output format ("text" or "json").
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults returns a Config populated with the built-in defaults.
func Defaults() *Config {
	return &Config{
		Adapter: "hci0",
		Target:  TargetConfig{Name: DefaultTargetName},
		Service: ServiceConfig{
			UUID:      DefaultServiceUUID,
			WriteUUID: DefaultWriteUUID,
			ReadUUID:  DefaultReadUUID,
		},
		Scan: ScanConfig{Window: ScanWindow},
		Calibration: CalibrationConfig{
			ReferenceDistances: append([]float64(nil), DefaultReferenceDistances...),
			SamplesPerPoint:    SamplesPerPoint,
			ReadingInterval:    ReadingInterval,
		},
		Bridge: BridgeConfig{
			Confirmed:    true,
			InboundQueue: InboundQueue,
			DrainWindow:  DrainWindow,
		},
		MQTT: MQTTConfig{
			TopicPrefix:    TopicPrefix,
			QoS:            PublishQoS,
			ConnectTimeout: 10 * time.Second,
		},
		Logger: LoggerConfig{Level: "info", Format: "text"},
	}
}

// Load reads a YAML config on top of the defaults. An empty path yields the
// defaults with environment overrides applied.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("BLEBRIDGE_ADAPTER"); v != "" {
		cfg.Adapter = v
	}
	if v := os.Getenv("BLEBRIDGE_TARGET_NAME"); v != "" {
		cfg.Target.Name = v
	}
	if v := os.Getenv("BLEBRIDGE_TARGET_ADDRESS"); v != "" {
		cfg.Target.Address = v
	}
	if v := os.Getenv("BLEBRIDGE_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("BLEBRIDGE_MQTT_CLIENT_ID"); v != "" {
		cfg.MQTT.ClientID = v
	}
	if v := os.Getenv("BLEBRIDGE_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("BLEBRIDGE_SCAN_MAX_PASSES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scan.MaxPasses = n
		}
	}
}

// Validate checks the fields every mode depends on.
func (c *Config) Validate() error {
	if c.Target.Name == "" && c.Target.Address == "" {
		return fmt.Errorf("config: target name or address is required")
	}
	if c.Service.UUID == "" || c.Service.WriteUUID == "" || c.Service.ReadUUID == "" {
		return fmt.Errorf("config: service uuid, write_uuid and read_uuid are required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("config: mqtt qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if c.Scan.MaxPasses < 0 {
		return fmt.Errorf("config: scan max_passes must not be negative")
	}
	if c.Bridge.InboundQueue <= 0 {
		c.Bridge.InboundQueue = InboundQueue
	}
	if c.Bridge.DrainWindow < 0 {
		return fmt.Errorf("config: bridge drain_window must not be negative")
	}
	if c.Scan.Window <= 0 {
		c.Scan.Window = ScanWindow
	}
	return nil
}

// DeviceID returns the identifier used to name the publish topic.
func (c *Config) DeviceID(address string) string {
	if c.Bridge.DeviceID != "" {
		return c.Bridge.DeviceID
	}
	if c.MQTT.ClientID != "" {
		return c.MQTT.ClientID
	}
	return strings.ToUpper(strings.ReplaceAll(address, ":", ""))
}
