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

package upsmonitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/TheCacophonyProject/ups-battery-monitor/batterystate"
	"github.com/TheCacophonyProject/ups-battery-monitor/logging"
	"github.com/TheCacophonyProject/ups-battery-monitor/publish"
	arg "github.com/alexflint/go-arg"
	"github.com/joho/godotenv"
)

var version = "<not set>"
var log = logging.NewLogger("info")

var sinkTypes = []string{"stdout", "mqtt", "dbus"}

var stdout io.Writer = os.Stdout

type Args struct {
	Service *subcommand `arg:"subcommand:service" help:"Sample the UPS and publish battery state (default)."`
	Read    *subcommand `arg:"subcommand:read"    help:"Take one sample and print it."`

	DesignCapacity *float64 `arg:"--design-capacity,env:DESIGN_CAPACITY" help:"Design capacity of the battery pack, added to each battery state"`
	Sinks          []string `arg:"--sink,separate" help:"Where to publish battery state (stdout, mqtt, dbus), can be repeated"`
	I2CService     bool     `arg:"--i2c-service" help:"Use the org.cacophony.i2c service instead of opening the I2C bus"`
	ConfigDir      string   `arg:"-c,--config-dir" help:"Configuration folder"`

	MQTTBroker      string `arg:"--mqtt-broker,env:MQTT_BROKER" help:"MQTT broker, host[:port] or URL"`
	MQTTClientID    string `arg:"--mqtt-client-id,env:MQTT_CLIENT_ID" help:"MQTT client ID, defaults to one based on the hostname"`
	MQTTUsername    string `arg:"--mqtt-username,env:MQTT_USERNAME" help:"MQTT username"`
	MQTTPassword    string `arg:"--mqtt-password,env:MQTT_PASSWORD" help:"MQTT password"`
	MQTTTopicPrefix string `arg:"--mqtt-topic-prefix,env:MQTT_TOPIC_PREFIX" help:"Prefix added to the battery_state topic"`
	HomeAssistant   bool   `arg:"--homeassistant" help:"Publish Home Assistant MQTT discovery config"`

	logging.LogArgs
}

type subcommand struct{}

func (Args) Version() string {
	return version
}

func procArgs(input []string) (Args, error) {
	args := Args{}

	parser, err := arg.NewParser(arg.Config{}, &args)
	if err != nil {
		return Args{}, err
	}
	err = parser.Parse(input)
	if errors.Is(err, arg.ErrHelp) {
		parser.WriteHelp(os.Stdout)
		os.Exit(0)
	}
	if errors.Is(err, arg.ErrVersion) {
		fmt.Println(version)
		os.Exit(0)
	}
	if err != nil {
		return Args{}, err
	}

	if len(args.Sinks) == 0 {
		args.Sinks = []string{"stdout"}
	}
	for i, s := range args.Sinks {
		args.Sinks[i] = strings.ToLower(s)
		if !validSink(args.Sinks[i]) {
			return Args{}, fmt.Errorf("invalid sink '%s', should be one of '%s'", s, strings.Join(sinkTypes, "', '"))
		}
	}
	return args, nil
}

func validSink(s string) bool {
	for _, t := range sinkTypes {
		if s == t {
			return true
		}
	}
	return false
}

func Run(inputArgs []string, ver string) error {
	version = ver
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	args, err := procArgs(inputArgs)
	if err != nil {
		return fmt.Errorf("failed to parse args: %v", err)
	}
	log = logging.NewLogger(args.LogLevel)
	log.Infof("Running version: %s", version)

	designCapacity, err := resolveDesignCapacity(args)
	if err != nil {
		return err
	}
	if designCapacity != nil {
		log.Infof("Design capacity: %g", *designCapacity)
	} else {
		log.Debug("No design capacity configured")
	}

	sensor, closeSensor, err := openSensor(args.I2CService)
	if err != nil {
		return err
	}
	defer closeSensor()

	if args.Read != nil {
		return readOnce(sensor, designCapacity)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return runService(ctx, args, sensor, designCapacity)
}

func readOnce(sensor batterystate.Sensor, designCapacity *float64) error {
	sampler := batterystate.NewSampler(sensor, nil, designCapacity, log)
	reading, err := sampler.Read()
	if err != nil {
		return err
	}
	out := struct {
		Reading      batterystate.Reading `json:"reading"`
		BatteryState batterystate.Record  `json:"battery_state"`
	}{
		Reading:      reading,
		BatteryState: batterystate.Derive(reading, designCapacity, time.Now()),
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func runService(ctx context.Context, args Args, sensor batterystate.Sensor, designCapacity *float64) error {
	sinks, closeSinks, err := makeSinks(args)
	if err != nil {
		return err
	}
	defer closeSinks()

	queue := publish.NewQueue(publish.DefaultQueueSize, log, sinks...)
	done := make(chan struct{})
	go func() {
		queue.Run(ctx)
		close(done)
	}()

	sampler := batterystate.NewSampler(sensor, queue, designCapacity, log)
	err = sampler.Run(ctx)
	<-done
	log.Infof("Shut down, %d battery states were dropped from a full publish queue", queue.Dropped())
	return err
}

func makeSinks(args Args) ([]publish.Sink, func(), error) {
	sinks := []publish.Sink{}
	closers := []func(){}
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	seen := map[string]bool{}
	for _, name := range args.Sinks {
		if seen[name] {
			continue
		}
		seen[name] = true

		switch name {
		case "stdout":
			sinks = append(sinks, publish.NewWriterSink(stdout))
		case "dbus":
			s, err := publish.NewDBusSink()
			if err != nil {
				closeAll()
				return nil, nil, fmt.Errorf("failed to connect to system bus: %w", err)
			}
			sinks = append(sinks, s)
		case "mqtt":
			s, err := publish.NewMQTTSink(publish.MQTTConfig{
				Broker:        args.MQTTBroker,
				ClientID:      args.MQTTClientID,
				Username:      args.MQTTUsername,
				Password:      args.MQTTPassword,
				TopicPrefix:   args.MQTTTopicPrefix,
				HomeAssistant: args.HomeAssistant,
			}, log)
			if err != nil {
				closeAll()
				return nil, nil, fmt.Errorf("failed to set up MQTT: %w", err)
			}
			s.Connect()
			sinks = append(sinks, s)
			closers = append(closers, s.Close)
		}
		log.Infof("Publishing %s to %s", publish.Channel, name)
	}
	return sinks, closeAll, nil
}
