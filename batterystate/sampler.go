/*
ups-battery-monitor - Publishes battery state from a Waveshare UPS
Copyright (C) 2026, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package batterystate

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// SamplePeriod is the fixed time between samples.
const SamplePeriod = time.Second

// Sensor produces the four raw measurements.
type Sensor interface {
	BusVoltage() (float64, error)
	ShuntVoltageMillivolts() (float64, error)
	CurrentMilliamps() (float64, error)
	PowerWatts() (float64, error)
}

// Publisher accepts records without waiting for them to be delivered.
type Publisher interface {
	Publish(Record) error
}

type Sampler struct {
	sensor         Sensor
	publisher      Publisher
	designCapacity *float64
	log            *logrus.Logger

	period time.Duration
	now    func() time.Time
}

func NewSampler(sensor Sensor, publisher Publisher, designCapacity *float64, log *logrus.Logger) *Sampler {
	var capacity *float64
	if designCapacity != nil {
		c := *designCapacity
		capacity = &c
	}
	return &Sampler{
		sensor:         sensor,
		publisher:      publisher,
		designCapacity: capacity,
		log:            log,
		period:         SamplePeriod,
		now:            time.Now,
	}
}

// Run samples and publishes once a period until ctx is cancelled.
// A tick that overruns the period delays the next one, missed ticks are not made up.
func (s *Sampler) Run(ctx context.Context) error {
	s.log.Infof("Publishing battery state every %s", s.period)
	for ctx.Err() == nil {
		start := s.now()
		s.tick()
		if !sleepCtx(ctx, s.period-s.now().Sub(start)) {
			break
		}
	}
	s.log.Info("Stopping battery state sampling")
	return nil
}

// sleepCtx waits for d or until ctx is done, returning false if ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (s *Sampler) tick() {
	record, err := s.Sample()
	if err != nil {
		var unavailable *SensorUnavailableError
		if errors.As(err, &unavailable) {
			s.log.WithError(unavailable.Err).Errorf("Skipping battery state, failed to read %s", unavailable.Measurement)
		} else {
			s.log.WithError(err).Error("Skipping battery state")
		}
		return
	}
	if err := s.publisher.Publish(record); err != nil {
		s.log.WithError(err).Warn("Failed to publish battery state")
	}
}

// Sample reads the sensor and derives a record. No record is made from a partial reading.
func (s *Sampler) Sample() (Record, error) {
	reading, err := s.Read()
	if err != nil {
		return Record{}, err
	}
	s.log.Debugf("Bus voltage = %.3fV, shunt voltage = %.2fmV, current = %.1fmA, power = %.3fW",
		reading.BusVoltage, reading.ShuntVoltageMillivolts, reading.CurrentMilliamps, reading.PowerWatts)
	return Derive(reading, s.designCapacity, s.now()), nil
}

// Read takes all four measurements from the sensor.
func (s *Sampler) Read() (Reading, error) {
	var r Reading
	var err error
	if r.BusVoltage, err = s.sensor.BusVoltage(); err != nil {
		return Reading{}, &SensorUnavailableError{Measurement: "bus voltage", Err: err}
	}
	if r.ShuntVoltageMillivolts, err = s.sensor.ShuntVoltageMillivolts(); err != nil {
		return Reading{}, &SensorUnavailableError{Measurement: "shunt voltage", Err: err}
	}
	if r.CurrentMilliamps, err = s.sensor.CurrentMilliamps(); err != nil {
		return Reading{}, &SensorUnavailableError{Measurement: "current", Err: err}
	}
	if r.PowerWatts, err = s.sensor.PowerWatts(); err != nil {
		return Reading{}, &SensorUnavailableError{Measurement: "power", Err: err}
	}
	return r, nil
}
