package publish

import (
	"context"

	"github.com/TheCacophonyProject/ups-battery-monitor/batterystate"
	"github.com/godbus/dbus"
)

const (
	dbusPath       = "/org/cacophony/UPS"
	dbusSignalName = "org.cacophony.UPS.BatteryState"
)

type emitter interface {
	Emit(path dbus.ObjectPath, name string, values ...interface{}) error
}

// DBusSink emits each record as a signal on the system bus.
type DBusSink struct {
	conn emitter
}

func NewDBusSink() (*DBusSink, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, err
	}
	return &DBusSink{conn: conn}, nil
}

func (s *DBusSink) Name() string {
	return "dbus"
}

// Send emits (voltage, current, percentage, status).
func (s *DBusSink) Send(_ context.Context, record batterystate.Record) error {
	return s.conn.Emit(dbusPath, dbusSignalName,
		record.Voltage,
		record.Current,
		int32(record.Percentage),
		record.Status.String(),
	)
}
