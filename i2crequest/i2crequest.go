// Package i2crequest makes I2C transactions through the org.cacophony.i2c D-Bus
// service, for hosts where that service owns the bus.
package i2crequest

import (
	"fmt"

	"github.com/godbus/dbus"
)

const (
	dbusName = "org.cacophony.i2c"
	dbusPath = "/org/cacophony/i2c"

	// DefaultTimeout is how long, in milliseconds, the service waits for the bus.
	DefaultTimeout = 1000
)

var txFn = dbusTx

// Tx writes `write` to the device at address then reads readLen bytes back.
func Tx(address byte, write []byte, readLen, timeout int) ([]byte, error) {
	return txFn(address, write, readLen, timeout)
}

func dbusTx(address byte, write []byte, readLen, timeout int) ([]byte, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, err
	}
	obj := conn.Object(dbusName, dbusPath)

	var response []byte
	if err := obj.Call(dbusName+".Tx", 0, address, write, readLen, timeout).Store(&response); err != nil {
		return nil, err
	}
	return response, nil
}

// CheckAddress returns an error if nothing responds at the address.
func CheckAddress(address byte, timeout int) error {
	_, err := Tx(address, []byte{0x00}, 1, timeout)
	return err
}

// Device is a single I2C device reached through the D-Bus service.
type Device struct {
	Address byte
	Timeout int
}

func NewDevice(address byte) *Device {
	return &Device{Address: address, Timeout: DefaultTimeout}
}

// Tx reads len(r) bytes into r after writing w.
func (d *Device) Tx(w, r []byte) error {
	response, err := Tx(d.Address, w, len(r), d.Timeout)
	if err != nil {
		return err
	}
	if len(response) != len(r) {
		return fmt.Errorf("expected %d bytes from 0x%02X, got %d", len(r), d.Address, len(response))
	}
	copy(r, response)
	return nil
}

func (d *Device) String() string {
	return fmt.Sprintf("%s(0x%02X)", dbusName, d.Address)
}
