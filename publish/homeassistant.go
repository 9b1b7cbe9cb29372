package publish

import (
	"encoding/json"
	"strings"
)

type mqttMessage struct {
	Topic   string
	Payload []byte
}

type haDeviceConfig struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
}

type haEntityConfig struct {
	Name             string         `json:"name"`
	DeviceClass      string         `json:"device_class"`
	StateTopic       string         `json:"state_topic"`
	UnitOfMeasure    string         `json:"unit_of_measurement"`
	ValueTemplate    string         `json:"value_template"`
	UniqueId         string         `json:"unique_id"`
	ExpireAfter      uint           `json:"expire_after,omitempty"`
	StateClass       string         `json:"state_class"`
	DisplayPrecision int            `json:"suggested_display_precision"`
	Device           haDeviceConfig `json:"device"`
}

type haEntity struct {
	name, class, unit, jsonKey string
	precision                  int
}

var haEntities = []haEntity{
	{"Battery", "battery", "%", "percentage", 0},
	{"Battery voltage", "voltage", "V", "voltage", 2},
	{"Battery current", "current", "A", "current", 3},
}

// discoveryMessages returns the retained Home Assistant MQTT discovery configs
// for the sensors read out of the battery state topic.
func discoveryMessages(stateTopic, deviceID string) ([]mqttMessage, error) {
	deviceID = strings.ReplaceAll(strings.ToLower(deviceID), " ", "_")
	device := haDeviceConfig{
		Identifiers:  []string{deviceID},
		Name:         "UPS " + deviceID,
		Manufacturer: "Waveshare",
		Model:        "UPS (INA219, 4 cell Li-ion)",
	}

	msgs := make([]mqttMessage, 0, len(haEntities))
	for _, e := range haEntities {
		config := haEntityConfig{
			Name:             e.name,
			DeviceClass:      e.class,
			StateTopic:       stateTopic,
			UnitOfMeasure:    e.unit,
			ValueTemplate:    "{{ value_json." + e.jsonKey + " }}",
			UniqueId:         deviceID + "_" + e.jsonKey,
			ExpireAfter:      60, // A minute without a sample marks the sensor unavailable.
			StateClass:       "measurement",
			DisplayPrecision: e.precision,
			Device:           device,
		}
		payload, err := json.Marshal(config)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, mqttMessage{
			Topic:   "homeassistant/sensor/" + deviceID + "_" + e.jsonKey + "/config",
			Payload: payload,
		})
	}
	return msgs, nil
}
