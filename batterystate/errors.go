package batterystate

import "fmt"

// SensorUnavailableError is returned when a measurement could not be read from the sensor.
type SensorUnavailableError struct {
	Measurement string
	Err         error
}

func (e *SensorUnavailableError) Error() string {
	return fmt.Sprintf("sensor unavailable reading %s: %v", e.Measurement, e.Err)
}

func (e *SensorUnavailableError) Unwrap() error {
	return e.Err
}
