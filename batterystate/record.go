package batterystate

import (
	"fmt"
	"math"
	"time"
)

// State of charge is linear over the usable range of a 4 cell lithium-ion pack, 6.0V to 8.4V.
const (
	emptyVoltage   = 6.0
	voltageSpan    = 2.4
	fullPercentage = 100

	location = "UPS"
)

// Reading holds the raw measurements from one sample of the sensor.
type Reading struct {
	BusVoltage             float64 `json:"bus_voltage"`
	ShuntVoltageMillivolts float64 `json:"shunt_voltage_mv"`
	CurrentMilliamps       float64 `json:"current_ma"`
	PowerWatts             float64 `json:"power_w"`
}

// Status is the power supply status. Values follow the battery state message schema.
type Status uint8

const (
	StatusCharging    Status = 1
	StatusDischarging Status = 2
)

func (s Status) String() string {
	switch s {
	case StatusCharging:
		return "CHARGING"
	case StatusDischarging:
		return "DISCHARGING"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	switch string(text) {
	case "CHARGING":
		*s = StatusCharging
	case "DISCHARGING":
		*s = StatusDischarging
	default:
		return fmt.Errorf("unknown power supply status '%s'", text)
	}
	return nil
}

// Technology is the power supply technology. TechnologyLithiumIon has the value
// the battery state message schema gives LION, and is named LITHIUM_ION in JSON.
type Technology uint8

const TechnologyLithiumIon Technology = 2

func (t Technology) String() string {
	if t == TechnologyLithiumIon {
		return "LITHIUM_ION"
	}
	return fmt.Sprintf("Technology(%d)", uint8(t))
}

func (t Technology) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Technology) UnmarshalText(text []byte) error {
	if string(text) != "LITHIUM_ION" {
		return fmt.Errorf("unknown power supply technology '%s'", text)
	}
	*t = TechnologyLithiumIon
	return nil
}

// Record is the battery state published on each tick.
type Record struct {
	Timestamp      time.Time  `json:"timestamp"`
	Voltage        float64    `json:"voltage"`
	Current        float64    `json:"current"`
	Percentage     int        `json:"percentage"`
	Location       string     `json:"location"`
	Present        bool       `json:"present"`
	DesignCapacity *float64   `json:"design_capacity,omitempty"`
	Technology     Technology `json:"power_supply_technology"`
	Status         Status     `json:"power_supply_status"`
}

// Derive builds the record for a reading. designCapacity is copied through when set.
func Derive(r Reading, designCapacity *float64, t time.Time) Record {
	record := Record{
		Timestamp:  t,
		Voltage:    r.BusVoltage,
		Current:    r.CurrentMilliamps / 1000,
		Percentage: Percentage(r.BusVoltage),
		Location:   location,
		Present:    true,
		Technology: TechnologyLithiumIon,
		Status:     StatusFromCurrent(r.CurrentMilliamps),
	}
	if designCapacity != nil {
		c := *designCapacity
		record.DesignCapacity = &c
	}
	return record
}

// Percentage estimates the state of charge from the pack voltage, clamped to [0, 100].
func Percentage(busVoltage float64) int {
	soc := math.Round((busVoltage - emptyVoltage) / voltageSpan * fullPercentage)
	if math.IsNaN(soc) {
		return 0
	}
	if soc > fullPercentage {
		return fullPercentage
	}
	if soc < 0 {
		return 0
	}
	return int(soc)
}

// StatusFromCurrent returns charging only for a positive current, zero is discharging.
func StatusFromCurrent(currentMilliamps float64) Status {
	if currentMilliamps > 0 {
		return StatusCharging
	}
	return StatusDischarging
}
