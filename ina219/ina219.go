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

// Package ina219 drives the INA219 current/power monitor found on the
// Waveshare UPS boards.
package ina219

import (
	"fmt"
)

const (
	// BusName and Address of the INA219 on the Waveshare UPS.
	BusName = "1"
	Address = 0x42
)

// Registers
const (
	regConfig       = 0x00
	regShuntVoltage = 0x01
	regBusVoltage   = 0x02
	regPower        = 0x03
	regCurrent      = 0x04
	regCalibration  = 0x05
)

// Config register fields
const (
	busVoltageRange32V = 0x01
	gainDiv8_320mV     = 0x03
	adcRes12Bit32S     = 0x0D
	modeShuntAndBusCon = 0x07
)

const (
	calibrationValue  = 4096
	currentLSBmA      = 0.1   // 100uA per bit
	powerLSBW         = 0.002 // 2mW per bit
	shuntLSBmV        = 0.01  // 10uV per bit
	busVoltageLSBVolt = 0.004 // 4mV per bit
)

// configValue is the 32V 2A configuration: 32V bus range, /8 gain (320mV shunt range),
// 12 bit 32 sample averaging on both ADCs, continuous shunt and bus conversion.
const configValue = busVoltageRange32V<<13 | gainDiv8_320mV<<11 | adcRes12Bit32S<<7 | adcRes12Bit32S<<3 | modeShuntAndBusCon

// Bus is a connection to a single device on an I2C bus.
type Bus interface {
	Tx(w, r []byte) error
}

type Dev struct {
	bus Bus
}

// New calibrates the INA219 for 32V 2A and returns the device.
func New(bus Bus) (*Dev, error) {
	d := &Dev{bus: bus}
	if err := d.writeRegister(regCalibration, calibrationValue); err != nil {
		return nil, fmt.Errorf("failed to write INA219 calibration: %w", err)
	}
	if err := d.writeRegister(regConfig, configValue); err != nil {
		return nil, fmt.Errorf("failed to write INA219 config: %w", err)
	}
	return d, nil
}

// BusVoltage returns the voltage at the V- pin, in volts.
func (d *Dev) BusVoltage() (float64, error) {
	raw, err := d.readMeasurement(regBusVoltage)
	if err != nil {
		return 0, err
	}
	// Lowest three bits are the CNVR and OVF flags.
	return float64(raw>>3) * busVoltageLSBVolt, nil
}

// ShuntVoltageMillivolts returns the voltage across the shunt resistor, in millivolts.
func (d *Dev) ShuntVoltageMillivolts() (float64, error) {
	raw, err := d.readMeasurement(regShuntVoltage)
	if err != nil {
		return 0, err
	}
	return float64(int16(raw)) * shuntLSBmV, nil
}

// CurrentMilliamps returns the current through the shunt, in milliamps.
// Positive is charging.
func (d *Dev) CurrentMilliamps() (float64, error) {
	raw, err := d.readMeasurement(regCurrent)
	if err != nil {
		return 0, err
	}
	return float64(int16(raw)) * currentLSBmA, nil
}

// PowerWatts returns the power, in watts.
func (d *Dev) PowerWatts() (float64, error) {
	raw, err := d.readMeasurement(regPower)
	if err != nil {
		return 0, err
	}
	return float64(int16(raw)) * powerLSBW, nil
}

// readMeasurement rewrites the calibration before reading, the current and power
// registers read zero if the chip has reset and lost it.
func (d *Dev) readMeasurement(register byte) (uint16, error) {
	if err := d.writeRegister(regCalibration, calibrationValue); err != nil {
		return 0, fmt.Errorf("failed to write INA219 calibration: %w", err)
	}
	return d.readRegister(register)
}

func (d *Dev) readRegister(register byte) (uint16, error) {
	data := make([]byte, 2)
	if err := d.bus.Tx([]byte{register}, data); err != nil {
		return 0, fmt.Errorf("failed to read INA219 register 0x%02X: %w", register, err)
	}
	return uint16(data[0])<<8 | uint16(data[1]), nil
}

func (d *Dev) writeRegister(register byte, value uint16) error {
	return d.bus.Tx([]byte{register, byte(value >> 8), byte(value & 0xFF)}, nil)
}
