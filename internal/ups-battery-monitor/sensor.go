package upsmonitor

import (
	"fmt"

	"github.com/TheCacophonyProject/ups-battery-monitor/i2crequest"
	"github.com/TheCacophonyProject/ups-battery-monitor/ina219"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// openSensor connects to the INA219, either directly on I2C bus 1 or through the
// org.cacophony.i2c service. Failing here is fatal as every sample would fail.
func openSensor(viaService bool) (*ina219.Dev, func(), error) {
	if viaService {
		log.Debug("Using org.cacophony.i2c service for the I2C bus")
		if err := i2crequest.CheckAddress(ina219.Address, i2crequest.DefaultTimeout); err != nil {
			return nil, nil, fmt.Errorf("no INA219 found at 0x%02X through the i2c service: %w", ina219.Address, err)
		}
		device := i2crequest.NewDevice(ina219.Address)
		log.Debugf("Connecting to INA219 through %s", device)
		dev, err := ina219.New(device)
		if err != nil {
			return nil, nil, err
		}
		return dev, func() {}, nil
	}

	log.Debug("Initializing host")
	if _, err := host.Init(); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize host: %w", err)
	}
	bus, err := i2creg.Open(ina219.BusName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open I2C bus %s: %w", ina219.BusName, err)
	}
	log.Debugf("Connecting to INA219 at 0x%02X on I2C bus %s", ina219.Address, ina219.BusName)
	dev, err := ina219.New(&i2c.Dev{Addr: ina219.Address, Bus: bus})
	if err != nil {
		bus.Close()
		return nil, nil, fmt.Errorf("no INA219 found at 0x%02X on I2C bus %s: %w", ina219.Address, ina219.BusName, err)
	}
	return dev, func() {
		if err := bus.Close(); err != nil {
			log.WithError(err).Warn("Failed to close I2C bus")
		}
	}, nil
}
