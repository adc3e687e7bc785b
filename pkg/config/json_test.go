package config

import (
	"encoding/json"
	"testing"
)

func TestUnmarshalConfigJSON(t *testing.T) {
	js := `{
        "i2c": { "bus": "2", "address": 72 },
        "adc": { "channel": 1, "sample_rate": 475 },
        "outputs": [{"type":"serial"}, {"type":"mqtt", "interval_ms": 1000, "mqtt": {"server": "tcp://pi:1883"}}],
        "sensor_type":"real",
        "thermocouple1": { "spi_port": "SPI1.0" },
        "load_cell": { "data_pin": "GPIO5", "clock_pin": "GPIO6", "calibration_factor": 101.5, "tare_samples": 20 },
        "serial": { "port": "/dev/ttyUSB0", "baud_rate": 230400, "format": "binary" }
    }`

	var cfg Config
	if err := json.Unmarshal([]byte(js), &cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if cfg.I2C.Address != 72 || cfg.I2C.Bus != "2" {
		t.Fatalf("i2c: got %+v", cfg.I2C)
	}
	if cfg.ADC.Channel != 1 || cfg.ADC.SampleRate != 475 {
		t.Fatalf("adc: got %+v", cfg.ADC)
	}
	if cfg.SensorType != SensorTypeReal {
		t.Fatalf("sensor_type: got %q", cfg.SensorType)
	}
	if len(cfg.Outputs) != 2 || cfg.Outputs[0].Type != OutputSerial {
		t.Fatalf("outputs: %+v", cfg.Outputs)
	}
	if cfg.Outputs[1].MQTT == nil || cfg.Outputs[1].MQTT.Server != "tcp://pi:1883" || cfg.Outputs[1].IntervalMs != 1000 {
		t.Fatalf("mqtt output incorrect: %+v", cfg.Outputs[1])
	}
	if cfg.Thermocouple1.SPIPort != "SPI1.0" {
		t.Fatalf("thermocouple1: %+v", cfg.Thermocouple1)
	}
	if cfg.LoadCell.CalibrationFactor != 101.5 || cfg.LoadCell.TareSamples != 20 || cfg.LoadCell.DataPin != "GPIO5" {
		t.Fatalf("load cell incorrect: %+v", cfg.LoadCell)
	}
	if cfg.Serial.Format != FormatBinary || cfg.Serial.BaudRate != 230400 {
		t.Fatalf("serial incorrect: %+v", cfg.Serial)
	}
}

func TestUnmarshalKeepsDefaults(t *testing.T) {
	cfg := DefaultConfig()
	if err := json.Unmarshal([]byte(`{"sample_period_ms": 40}`), &cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if cfg.SamplePeriodMs != 40 {
		t.Fatalf("sample_period_ms: got %d", cfg.SamplePeriodMs)
	}
	if cfg.Pressure.ShuntOhms != 150 || cfg.Serial.BaudRate != 115200 {
		t.Fatalf("defaults lost: %+v %+v", cfg.Pressure, cfg.Serial)
	}
}
