package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

const (
	SensorTypeReal       = "real"
	SensorTypeSimulation = "simulation"

	OutputConsole   = "console"
	OutputSerial    = "serial"
	OutputMQTT      = "mqtt"
	OutputWebsocket = "websocket"

	FormatText   = "text"
	FormatBinary = "binary"
)

type I2CConfig struct {
	Bus     string `json:"bus" yaml:"bus"`
	Address int    `json:"address" yaml:"address"`
}

// ADCConfig selects the ADS1115 input carrying the pressure loop.
type ADCConfig struct {
	Channel    int `json:"channel" yaml:"channel"`
	SampleRate int `json:"sample_rate" yaml:"sample_rate"` // SPS
}

// PressureConfig describes the 4-20 mA transducer and its shunt.
type PressureConfig struct {
	ShuntOhms    float64 `json:"shunt_ohms" yaml:"shunt_ohms"`
	MinCurrentMA float64 `json:"min_current_ma" yaml:"min_current_ma"`
	MaxCurrentMA float64 `json:"max_current_ma" yaml:"max_current_ma"`
	MinPressure  float64 `json:"min_pressure" yaml:"min_pressure"`
	MaxPressure  float64 `json:"max_pressure" yaml:"max_pressure"`
	Unit         string  `json:"unit" yaml:"unit"`
}

// ThermocoupleConfig names the SPI device (bus + chip select) of one MAX6675.
type ThermocoupleConfig struct {
	SPIPort string `json:"spi_port" yaml:"spi_port"`
	SpeedHz int    `json:"speed_hz,omitempty" yaml:"speed_hz,omitempty"`
}

type LoadCellConfig struct {
	DataPin           string  `json:"data_pin" yaml:"data_pin"`
	ClockPin          string  `json:"clock_pin" yaml:"clock_pin"`
	CalibrationFactor float64 `json:"calibration_factor" yaml:"calibration_factor"` // counts per unit
	Unit              string  `json:"unit" yaml:"unit"`
	TareSamples       int     `json:"tare_samples" yaml:"tare_samples"`
}

type SerialConfig struct {
	Port           string `json:"port" yaml:"port"`
	BaudRate       int    `json:"baud_rate" yaml:"baud_rate"`
	Format         string `json:"format" yaml:"format"`
	WriteTimeoutMs int    `json:"write_timeout_ms" yaml:"write_timeout_ms"`
	QueueSize      int    `json:"queue_size" yaml:"queue_size"`
}

type MQTTConfig struct {
	Server            string `json:"server" yaml:"server"`
	Username          string `json:"username" yaml:"username"`
	Password          string `json:"password" yaml:"password"`
	ClientID          string `json:"client_id" yaml:"client_id"`
	StateTopic        string `json:"state_topic" yaml:"state_topic"`
	DiscoveryTopic    string `json:"discovery_topic,omitempty" yaml:"discovery_topic,omitempty"`
	DiscoveryName     string `json:"discovery_name,omitempty" yaml:"discovery_name,omitempty"`
	DiscoveryUniqueID string `json:"discovery_unique_id,omitempty" yaml:"discovery_unique_id,omitempty"`
}

type WebsocketConfig struct {
	Listen string `json:"listen" yaml:"listen"`
}

type OutputConfig struct {
	Type       string           `json:"type" yaml:"type"`
	IntervalMs int              `json:"interval_ms,omitempty" yaml:"interval_ms,omitempty"`
	MQTT       *MQTTConfig      `json:"mqtt,omitempty" yaml:"mqtt,omitempty"`
	Websocket  *WebsocketConfig `json:"websocket,omitempty" yaml:"websocket,omitempty"`
}

type SimulationConfig struct {
	FaultRate float64 `json:"fault_rate" yaml:"fault_rate"` // per read, 0..1
	Seed      int64   `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// Config is the complete set of calibration parameters and knobs. It is built
// once at startup and treated as read-only afterwards.
type Config struct {
	SensorType     string             `json:"sensor_type" yaml:"sensor_type"`
	SamplePeriodMs int                `json:"sample_period_ms" yaml:"sample_period_ms"`
	PhaseLocked    bool               `json:"phase_locked" yaml:"phase_locked"`
	PollIntervalUs int                `json:"poll_interval_us" yaml:"poll_interval_us"`
	ReadTimeoutMs  int                `json:"read_timeout_ms" yaml:"read_timeout_ms"`
	LogLevel       string             `json:"log_level" yaml:"log_level"`
	I2C            I2CConfig          `json:"i2c" yaml:"i2c"`
	ADC            ADCConfig          `json:"adc" yaml:"adc"`
	Pressure       PressureConfig     `json:"pressure" yaml:"pressure"`
	Thermocouple1  ThermocoupleConfig `json:"thermocouple1" yaml:"thermocouple1"`
	Thermocouple2  ThermocoupleConfig `json:"thermocouple2" yaml:"thermocouple2"`
	LoadCell       LoadCellConfig     `json:"load_cell" yaml:"load_cell"`
	Serial         SerialConfig       `json:"serial" yaml:"serial"`
	Outputs        []OutputConfig     `json:"outputs" yaml:"outputs"`
	Simulation     SimulationConfig   `json:"simulation" yaml:"simulation"`
}

// DefaultConfig returns the bench rig wiring: ADS1115 at 0x48 channel 0 behind
// a 150 ohm shunt, two MAX6675 on SPI0, HX711 on GPIO6/GPIO7, 10 ms period.
func DefaultConfig() Config {
	return Config{
		SensorType:     SensorTypeReal,
		SamplePeriodMs: 10,
		PollIntervalUs: 100,
		ReadTimeoutMs:  15,
		LogLevel:       "info",
		I2C:            I2CConfig{Bus: "1", Address: 0x48},
		ADC:            ADCConfig{Channel: 0, SampleRate: 860},
		Pressure: PressureConfig{
			ShuntOhms:    150,
			MinCurrentMA: 4,
			MaxCurrentMA: 20,
			MinPressure:  0,
			MaxPressure:  300,
			Unit:         "kPa",
		},
		Thermocouple1: ThermocoupleConfig{SPIPort: "SPI0.0", SpeedHz: 4_000_000},
		Thermocouple2: ThermocoupleConfig{SPIPort: "SPI0.1", SpeedHz: 4_000_000},
		LoadCell: LoadCellConfig{
			DataPin:           "GPIO6",
			ClockPin:          "GPIO7",
			CalibrationFactor: 86.39632,
			Unit:              "g",
			TareSamples:       10,
		},
		Serial: SerialConfig{
			Port:           "/dev/ttyAMA0",
			BaudRate:       115200,
			Format:         FormatText,
			WriteTimeoutMs: 5,
			QueueSize:      64,
		},
		Outputs: []OutputConfig{{Type: OutputSerial}},
	}
}

func (c Config) SamplePeriod() time.Duration {
	return time.Duration(c.SamplePeriodMs) * time.Millisecond
}

func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalUs) * time.Microsecond
}

func (c Config) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutMs) * time.Millisecond
}

func (s SerialConfig) WriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutMs) * time.Millisecond
}

// LoadFile reads a JSON or, for .yaml/.yml files, YAML document over cfg.
// Keys missing from the file keep their current values.
func LoadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, cfg)
	default:
		err = json.Unmarshal(b, cfg)
	}
	if err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// LoadFromFlags loads configuration from a JSON/YAML file (optional) and flags.
// Flags override values present in the file.
func LoadFromFlags(args []string) (Config, error) {
	fs := flag.NewFlagSet("tms-daq", flag.ContinueOnError)

	cfgPath := fs.String("config", "", "Path to JSON or YAML config file")
	flagSensorType := fs.String("sensor-type", "", "sensor type: real|simulation")
	flagPeriod := fs.Int("sample-period-ms", 0, "Sample period in ms (<= 0 samples as fast as possible)")
	flagPhaseLocked := fs.Bool("phase-locked", false, "Keep fires on the start-time grid instead of re-anchoring at each fire")
	flagPoll := fs.Int("poll-interval-us", 0, "Idle sleep between scheduler polls in µs")
	flagReadTimeout := fs.Int("read-timeout-ms", 0, "Upper bound for one sensor read in ms")
	flagLogLevel := fs.String("log-level", "", "debug|info|warn|error")
	flagI2CBus := fs.String("i2c-bus", "", "I2C bus (e.g., '1' -> /dev/i2c-1)")
	flagI2CAddStr := fs.String("i2c-address", "", "ADS1115 I2C address (decimal or 0x hex)")
	flagADCChannel := fs.Int("adc-channel", 0, "ADS1115 channel of the pressure loop (0-3)")
	flagADCRate := fs.Int("adc-sample-rate", 0, "ADS1115 data rate (SPS)")
	flagShunt := fs.Float64("shunt-ohms", 0, "Pressure loop shunt resistance")
	flagPMin := fs.Float64("pressure-min", 0, "Pressure at 4 mA")
	flagPMax := fs.Float64("pressure-max", 0, "Pressure at 20 mA")
	flagPUnit := fs.String("pressure-unit", "", "Pressure unit label")
	flagTC1 := fs.String("tc1-spi", "", "SPI device of thermocouple 1 (e.g. SPI0.0)")
	flagTC2 := fs.String("tc2-spi", "", "SPI device of thermocouple 2 (e.g. SPI0.1)")
	flagHXData := fs.String("hx711-data", "", "HX711 data GPIO name")
	flagHXClk := fs.String("hx711-clk", "", "HX711 clock GPIO name")
	flagCalibration := fs.Float64("calibration", 0, "Load cell calibration factor (counts per unit)")
	flagTare := fs.Int("tare-samples", 0, "Load cell readings averaged for tare")
	flagSerialPort := fs.String("serial-port", "", "Serial device for records")
	flagBaud := fs.Int("baud", 0, "Serial baud rate")
	flagFormat := fs.String("serial-format", "", "Serial record format: text|binary")
	flagOutputs := fs.String("outputs", "", "Comma-separated outputs (serial,console,mqtt,websocket)")
	flagOutputIntervals := fs.String("output-intervals", "", "Comma-separated output intervals e.g. console=1000,mqtt=5000")
	flagMQTTServer := fs.String("mqtt-server", "", "MQTT server (tcp://host:port)")
	flagMQTTUser := fs.String("mqtt-user", "", "MQTT username")
	flagMQTTPass := fs.String("mqtt-pass", "", "MQTT password")
	flagClientID := fs.String("mqtt-client-id", "", "MQTT client id")
	flagTopic := fs.String("mqtt-topic", "", "MQTT state topic")
	flagWSListen := fs.String("ws-listen", "", "Websocket listen address (e.g. :8080)")
	flagFaultRate := fs.Float64("sim-fault-rate", 0, "Simulation: probability of a read fault")
	flagSeed := fs.Int64("sim-seed", 0, "Simulation: random seed")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := DefaultConfig()

	if *cfgPath != "" {
		if err := LoadFile(*cfgPath, &cfg); err != nil {
			return cfg, err
		}
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if set["sensor-type"] {
		cfg.SensorType = *flagSensorType
	}
	if set["sample-period-ms"] {
		cfg.SamplePeriodMs = *flagPeriod
	}
	if set["phase-locked"] {
		cfg.PhaseLocked = *flagPhaseLocked
	}
	if set["poll-interval-us"] {
		cfg.PollIntervalUs = *flagPoll
	}
	if set["read-timeout-ms"] {
		cfg.ReadTimeoutMs = *flagReadTimeout
	}
	if set["log-level"] {
		cfg.LogLevel = *flagLogLevel
	}
	if set["i2c-bus"] {
		cfg.I2C.Bus = *flagI2CBus
	}
	if set["i2c-address"] {
		v, err := parseIntOrHex(*flagI2CAddStr)
		if err != nil {
			return cfg, fmt.Errorf("i2c-address: %w", err)
		}
		cfg.I2C.Address = v
	}
	if set["adc-channel"] {
		cfg.ADC.Channel = *flagADCChannel
	}
	if set["adc-sample-rate"] {
		cfg.ADC.SampleRate = *flagADCRate
	}
	if set["shunt-ohms"] {
		cfg.Pressure.ShuntOhms = *flagShunt
	}
	if set["pressure-min"] {
		cfg.Pressure.MinPressure = *flagPMin
	}
	if set["pressure-max"] {
		cfg.Pressure.MaxPressure = *flagPMax
	}
	if set["pressure-unit"] {
		cfg.Pressure.Unit = *flagPUnit
	}
	if set["tc1-spi"] {
		cfg.Thermocouple1.SPIPort = *flagTC1
	}
	if set["tc2-spi"] {
		cfg.Thermocouple2.SPIPort = *flagTC2
	}
	if set["hx711-data"] {
		cfg.LoadCell.DataPin = *flagHXData
	}
	if set["hx711-clk"] {
		cfg.LoadCell.ClockPin = *flagHXClk
	}
	if set["calibration"] {
		cfg.LoadCell.CalibrationFactor = *flagCalibration
	}
	if set["tare-samples"] {
		cfg.LoadCell.TareSamples = *flagTare
	}
	if set["serial-port"] {
		cfg.Serial.Port = *flagSerialPort
	}
	if set["baud"] {
		cfg.Serial.BaudRate = *flagBaud
	}
	if set["serial-format"] {
		cfg.Serial.Format = *flagFormat
	}
	if set["sim-fault-rate"] {
		cfg.Simulation.FaultRate = *flagFaultRate
	}
	if set["sim-seed"] {
		cfg.Simulation.Seed = *flagSeed
	}
	if *flagOutputs != "" {
		// convert simple CSV of types into structured OutputConfig entries
		parts := parseCSV(*flagOutputs)
		outs := make([]OutputConfig, 0, len(parts))
		for _, p := range parts {
			outs = append(outs, OutputConfig{Type: strings.ToLower(p)})
		}
		cfg.Outputs = outs
	}
	if *flagOutputIntervals != "" {
		intervals, err := parseKeyIntMap(*flagOutputIntervals)
		if err != nil {
			return cfg, fmt.Errorf("output-intervals: %w", err)
		}
		for i := range cfg.Outputs {
			if v, ok := intervals[cfg.Outputs[i].Type]; ok {
				cfg.Outputs[i].IntervalMs = v
			}
		}
	}
	// Apply MQTT flags to all mqtt outputs; if none exist, create one.
	if *flagMQTTServer != "" || *flagMQTTUser != "" || *flagMQTTPass != "" || *flagClientID != "" || *flagTopic != "" {
		applied := false
		apply := func(m *MQTTConfig) {
			if *flagMQTTServer != "" {
				m.Server = *flagMQTTServer
			}
			if *flagMQTTUser != "" {
				m.Username = *flagMQTTUser
			}
			if *flagMQTTPass != "" {
				m.Password = *flagMQTTPass
			}
			if *flagClientID != "" {
				m.ClientID = *flagClientID
			}
			if *flagTopic != "" {
				m.StateTopic = *flagTopic
			}
		}
		for i := range cfg.Outputs {
			if cfg.Outputs[i].Type == OutputMQTT {
				if cfg.Outputs[i].MQTT == nil {
					cfg.Outputs[i].MQTT = &MQTTConfig{}
				}
				apply(cfg.Outputs[i].MQTT)
				applied = true
			}
		}
		if !applied {
			out := OutputConfig{Type: OutputMQTT, MQTT: &MQTTConfig{}}
			apply(out.MQTT)
			cfg.Outputs = append(cfg.Outputs, out)
		}
	}
	if *flagWSListen != "" {
		applied := false
		for i := range cfg.Outputs {
			if cfg.Outputs[i].Type == OutputWebsocket {
				cfg.Outputs[i].Websocket = &WebsocketConfig{Listen: *flagWSListen}
				applied = true
			}
		}
		if !applied {
			cfg.Outputs = append(cfg.Outputs, OutputConfig{Type: OutputWebsocket, Websocket: &WebsocketConfig{Listen: *flagWSListen}})
		}
	}

	cfg.applyOutputDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyOutputDefaults fills per-output settings left empty.
func (c *Config) applyOutputDefaults() {
	for i := range c.Outputs {
		o := &c.Outputs[i]
		switch o.Type {
		case OutputMQTT:
			if o.MQTT == nil {
				o.MQTT = &MQTTConfig{}
			}
			if o.MQTT.Server == "" {
				o.MQTT.Server = "tcp://localhost:1883"
			}
			if o.MQTT.ClientID == "" {
				o.MQTT.ClientID = "tms-daq"
			}
			if o.MQTT.StateTopic == "" {
				o.MQTT.StateTopic = "tms-daq/state"
			}
		case OutputWebsocket:
			if o.Websocket == nil {
				o.Websocket = &WebsocketConfig{}
			}
			if o.Websocket.Listen == "" {
				o.Websocket.Listen = ":8080"
			}
		}
	}
}

// Validate rejects configurations the acquisition loop cannot run with. A
// sample period <= 0 is allowed: it selects free-running sampling.
func (c Config) Validate() error {
	var errs []error
	switch c.SensorType {
	case SensorTypeReal, SensorTypeSimulation:
	default:
		errs = append(errs, fmt.Errorf("sensor_type must be %q or %q, got %q", SensorTypeReal, SensorTypeSimulation, c.SensorType))
	}
	if c.ReadTimeoutMs <= 0 {
		errs = append(errs, errors.New("read_timeout_ms must be > 0"))
	}
	if c.PollIntervalUs < 0 {
		errs = append(errs, errors.New("poll_interval_us must be >= 0"))
	}
	if c.I2C.Address < 0 || c.I2C.Address > 0x7F {
		errs = append(errs, fmt.Errorf("i2c address 0x%X out of range", c.I2C.Address))
	}
	if c.ADC.Channel < 0 || c.ADC.Channel > 3 {
		errs = append(errs, fmt.Errorf("adc channel must be 0-3, got %d", c.ADC.Channel))
	}
	if c.Pressure.ShuntOhms <= 0 {
		errs = append(errs, errors.New("pressure shunt_ohms must be > 0"))
	}
	if c.Pressure.MinCurrentMA >= c.Pressure.MaxCurrentMA {
		errs = append(errs, fmt.Errorf("pressure current band %.3f-%.3f mA is empty", c.Pressure.MinCurrentMA, c.Pressure.MaxCurrentMA))
	}
	if c.Pressure.MinPressure >= c.Pressure.MaxPressure {
		errs = append(errs, fmt.Errorf("pressure span %g-%g is empty", c.Pressure.MinPressure, c.Pressure.MaxPressure))
	}
	if c.LoadCell.CalibrationFactor == 0 {
		errs = append(errs, errors.New("load cell calibration_factor must not be 0"))
	}
	if c.LoadCell.TareSamples < 1 {
		errs = append(errs, errors.New("load cell tare_samples must be >= 1"))
	}
	if c.Simulation.FaultRate < 0 || c.Simulation.FaultRate > 1 {
		errs = append(errs, fmt.Errorf("simulation fault_rate must be within 0..1, got %g", c.Simulation.FaultRate))
	}
	if len(c.Outputs) == 0 {
		errs = append(errs, errors.New("at least one output is required"))
	}
	for _, o := range c.Outputs {
		switch o.Type {
		case OutputConsole, OutputMQTT, OutputWebsocket:
		case OutputSerial:
			if c.Serial.Port == "" {
				errs = append(errs, errors.New("serial output requires serial.port"))
			}
			if c.Serial.BaudRate <= 0 {
				errs = append(errs, errors.New("serial baud_rate must be > 0"))
			}
			if c.Serial.Format != FormatText && c.Serial.Format != FormatBinary {
				errs = append(errs, fmt.Errorf("serial format must be %q or %q, got %q", FormatText, FormatBinary, c.Serial.Format))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown output type %q", o.Type))
		}
		if o.IntervalMs < 0 {
			errs = append(errs, fmt.Errorf("output %s interval_ms must be >= 0", o.Type))
		}
	}
	return multierr.Combine(errs...)
}

func parseIntOrHex(s string) (int, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseInt(s[2:], 16, 0)
		return int(v), err
	}
	v, err := strconv.Atoi(s)
	return v, err
}

func parseCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// parseKeyIntMap parses "a=1,b=2" into a map.
func parseKeyIntMap(s string) (map[string]int, error) {
	out := map[string]int{}
	for _, p := range parseCSV(s) {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid pair %q, want key=value", p)
		}
		v, err := strconv.Atoi(strings.TrimSpace(kv[1]))
		if err != nil {
			return nil, fmt.Errorf("invalid value in %q: %w", p, err)
		}
		out[strings.TrimSpace(kv[0])] = v
	}
	return out, nil
}
