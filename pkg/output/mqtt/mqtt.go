package mqtt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ericogr/tms-daq/pkg/config"
	"github.com/ericogr/tms-daq/pkg/output"
	"github.com/ericogr/tms-daq/pkg/record"
)

const (
	// defaults
	DefaultPublishTimeout = 50 * time.Millisecond
	connectTimeout        = 10 * time.Second
	// discovery payload keys/values
	keyName                = "name"
	keyStateTopic          = "state_topic"
	keyUnitOfMeasurement   = "unit_of_measurement"
	keyDeviceClass         = "device_class"
	keyStateClass          = "state_class"
	keyValueTemplate       = "value_template"
	keyJSONAttributesTopic = "json_attributes_topic"
	keyUniqueID            = "unique_id"
	stateClassMeasurement  = "measurement"
	valueTemplateFmt       = "{{ value_json.%s }}"
)

// Units are the engineering units advertised in discovery payloads.
type Units struct {
	Pressure    string
	Temperature string
	Force       string
}

// UnitsFromConfig picks the configured units; temperatures are always °C.
func UnitsFromConfig(cfg config.Config) Units {
	return Units{Pressure: cfg.Pressure.Unit, Temperature: "°C", Force: cfg.LoadCell.Unit}
}

// MQTTOutput publishes every cycle as one JSON document on the state topic.
type MQTTOutput struct {
	client     mqtt.Client
	stateTopic string
	timeout    time.Duration
}

// NewMQTT connects to the broker and, when a discovery topic is configured,
// announces one Home Assistant sensor per field.
func NewMQTT(cfg config.MQTTConfig, units Units, timeout time.Duration) (*MQTTOutput, error) {
	opts := mqtt.NewClientOptions().AddBroker(cfg.Server).SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt connect %s: timed out", cfg.Server)
	}
	if token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	slog.Info("mqtt output ready", "server", cfg.Server, "topic", cfg.StateTopic)
	return newMQTT(client, cfg, units, timeout), nil
}

func newMQTT(client mqtt.Client, cfg config.MQTTConfig, units Units, timeout time.Duration) *MQTTOutput {
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	m := &MQTTOutput{client: client, stateTopic: cfg.StateTopic, timeout: timeout}

	// Publish Home Assistant discovery payload(s) if requested
	if cfg.DiscoveryTopic != "" {
		for _, f := range record.Fields {
			dTopic := discoveryTopic(cfg.DiscoveryTopic, f)
			payload := baseDiscoveryPayload(discoveryName(cfg, f), m.stateTopic, discoveryUniqueID(cfg, f))
			payload[keyValueTemplate] = fmt.Sprintf(valueTemplateFmt, f)
			unit, class := fieldUnit(units, f)
			if unit != "" {
				payload[keyUnitOfMeasurement] = unit
			}
			if class != "" {
				payload[keyDeviceClass] = class
			}
			if err := m.publishJSON(dTopic, true, payload); err != nil {
				slog.Warn("mqtt discovery publish error", "topic", dTopic, "err", err)
			}
		}
	}
	return m
}

// Publish sends the cycle; faulted fields are null and listed in "faults".
// A broker that does not acknowledge within the timeout costs the record.
func (m *MQTTOutput) Publish(c record.Cycle) error {
	b, err := json.Marshal(record.NewPayload(c))
	if err != nil {
		return err
	}
	return m.publish(m.stateTopic, false, b)
}

func (m *MQTTOutput) Close() error {
	if m.client != nil {
		m.client.Disconnect(250)
	}
	return nil
}

func (m *MQTTOutput) publish(topic string, retained bool, payload []byte) error {
	token := m.client.Publish(topic, 0, retained, payload)
	if !token.WaitTimeout(m.timeout) {
		return fmt.Errorf("%w: mqtt publish to %s timed out", output.ErrDropped, topic)
	}
	return token.Error()
}

// helper: marshal and publish JSON payload
func (m *MQTTOutput) publishJSON(topic string, retained bool, payload map[string]interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return m.publish(topic, retained, b)
}

// helper: discovery topic for a field; base may contain a %s formatter,
// otherwise the field becomes the object id under base.
func discoveryTopic(base string, f record.Field) string {
	if strings.Contains(base, "%s") {
		return fmt.Sprintf(base, f)
	}
	return strings.TrimSuffix(base, "/") + "/" + f.String() + "/config"
}

// helper: build a human-friendly discovery name
func discoveryName(cfg config.MQTTConfig, f record.Field) string {
	name := cfg.DiscoveryName
	if name == "" {
		name = fmt.Sprintf("DAQ %s", cfg.ClientID)
	}
	return fmt.Sprintf("%s %s", name, f)
}

// helper: build a unique id for discovery
func discoveryUniqueID(cfg config.MQTTConfig, f record.Field) string {
	uid := cfg.DiscoveryUniqueID
	if uid == "" {
		uid = cfg.ClientID
	}
	if uid == "" {
		return ""
	}
	return fmt.Sprintf("%s_%s", uid, f)
}

func fieldUnit(u Units, f record.Field) (unit, deviceClass string) {
	switch f {
	case record.FieldPressure:
		return u.Pressure, "pressure"
	case record.FieldTemperature1, record.FieldTemperature2:
		return u.Temperature, "temperature"
	case record.FieldForce:
		return u.Force, "weight"
	}
	return "", ""
}

// helper: base discovery payload map common to all entries
func baseDiscoveryPayload(name, stateTopic, uniqueID string) map[string]interface{} {
	payload := map[string]interface{}{
		keyName:                name,
		keyStateTopic:          stateTopic,
		keyStateClass:          stateClassMeasurement,
		keyJSONAttributesTopic: stateTopic,
	}
	if uniqueID != "" {
		payload[keyUniqueID] = uniqueID
	}
	return payload
}
