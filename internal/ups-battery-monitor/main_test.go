package upsmonitor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/TheCacophonyProject/ups-battery-monitor/batterystate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcArgsDefaults(t *testing.T) {
	os.Unsetenv("DESIGN_CAPACITY")
	args, err := procArgs([]string{})
	require.NoError(t, err)
	assert.Equal(t, []string{"stdout"}, args.Sinks)
	assert.Nil(t, args.DesignCapacity)
	assert.Nil(t, args.Read)
	assert.Equal(t, "info", args.LogLevel)
}

func TestProcArgsDesignCapacity(t *testing.T) {
	args, err := procArgs([]string{"--design-capacity", "2.6"})
	require.NoError(t, err)
	require.NotNil(t, args.DesignCapacity)
	assert.Equal(t, 2.6, *args.DesignCapacity)
}

func TestProcArgsDesignCapacityFromEnv(t *testing.T) {
	t.Setenv("DESIGN_CAPACITY", "10")
	args, err := procArgs([]string{})
	require.NoError(t, err)
	require.NotNil(t, args.DesignCapacity)
	assert.Equal(t, 10.0, *args.DesignCapacity)
}

func TestProcArgsSinks(t *testing.T) {
	args, err := procArgs([]string{"--sink", "MQTT", "--sink", "dbus", "--mqtt-broker", "localhost", "service"})
	require.NoError(t, err)
	assert.Equal(t, []string{"mqtt", "dbus"}, args.Sinks)
	assert.Equal(t, "localhost", args.MQTTBroker)
	assert.NotNil(t, args.Service)

	_, err = procArgs([]string{"--sink", "ros"})
	require.Error(t, err)
}

func TestProcArgsRead(t *testing.T) {
	args, err := procArgs([]string{"read"})
	require.NoError(t, err)
	assert.NotNil(t, args.Read)
}

func mockUPSConfig(t *testing.T, c *UPSConfig, err error) *string {
	var dir string
	original := loadUPSConfig
	loadUPSConfig = func(configDir string) (*UPSConfig, error) {
		dir = configDir
		return c, err
	}
	t.Cleanup(func() { loadUPSConfig = original })
	return &dir
}

func TestResolveDesignCapacityFlagWins(t *testing.T) {
	fromFile := 1.0
	mockUPSConfig(t, &UPSConfig{DesignCapacity: &fromFile}, nil)
	flag := 2.0

	c, err := resolveDesignCapacity(Args{DesignCapacity: &flag, ConfigDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, 2.0, *c)
}

func TestResolveDesignCapacityFromConfig(t *testing.T) {
	fromFile := 1.5
	dir := mockUPSConfig(t, &UPSConfig{DesignCapacity: &fromFile}, nil)
	configDir := t.TempDir()

	c, err := resolveDesignCapacity(Args{ConfigDir: configDir})
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, 1.5, *c)
	assert.Equal(t, configDir, *dir)
}

func TestResolveDesignCapacityMissing(t *testing.T) {
	mockUPSConfig(t, &UPSConfig{}, nil)
	c, err := resolveDesignCapacity(Args{ConfigDir: t.TempDir()})
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestResolveDesignCapacityConfigError(t *testing.T) {
	mockUPSConfig(t, nil, errors.New("bad toml"))
	_, err := resolveDesignCapacity(Args{ConfigDir: t.TempDir()})
	require.Error(t, err)
}

func TestMakeSinksMQTTNeedsBroker(t *testing.T) {
	_, _, err := makeSinks(Args{Sinks: []string{"stdout", "mqtt"}})
	require.Error(t, err)
}

func TestMakeSinksDeduplicates(t *testing.T) {
	sinks, closeSinks, err := makeSinks(Args{Sinks: []string{"stdout", "stdout"}})
	require.NoError(t, err)
	defer closeSinks()
	require.Len(t, sinks, 1)
	assert.Equal(t, "stdout", sinks[0].Name())
}

func useDefaultConfigDir(t *testing.T, dir string) {
	original := defaultConfigDir
	defaultConfigDir = dir
	t.Cleanup(func() { defaultConfigDir = original })
}

func TestResolveDesignCapacityDefaultConfigMissing(t *testing.T) {
	useDefaultConfigDir(t, t.TempDir())

	c, err := resolveDesignCapacity(Args{})
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestResolveDesignCapacityDefaultConfigPresent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, configFileName), []byte("[ups]\n"), 0644))
	useDefaultConfigDir(t, dir)
	fromFile := 4.0
	loadedFrom := mockUPSConfig(t, &UPSConfig{DesignCapacity: &fromFile}, nil)

	c, err := resolveDesignCapacity(Args{})
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, 4.0, *c)
	assert.Equal(t, dir, *loadedFrom)
}

func TestResolveDesignCapacityDefaultConfigNotPermitted(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, configFileName), []byte("[ups]\n"), 0644))
	useDefaultConfigDir(t, dir)
	mockUPSConfig(t, nil, &os.PathError{Op: "open", Path: filepath.Join(dir, "config.toml.lock"), Err: os.ErrPermission})

	c, err := resolveDesignCapacity(Args{})
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestResolveDesignCapacityExplicitConfigMissing(t *testing.T) {
	_, err := resolveDesignCapacity(Args{ConfigDir: t.TempDir()})
	require.Error(t, err)
}

// syncBuffer is written to by the publish queue while the test reads it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fixedSensor struct {
	busVoltage, currentMilliamps float64
}

func (s fixedSensor) BusVoltage() (float64, error) { return s.busVoltage, nil }
func (s fixedSensor) ShuntVoltageMillivolts() (float64, error) { return 0, nil }
func (s fixedSensor) CurrentMilliamps() (float64, error) { return s.currentMilliamps, nil }
func (s fixedSensor) PowerWatts() (float64, error) { return 0, nil }

func TestRunServicePublishesToStdoutUntilCancelled(t *testing.T) {
	out := &syncBuffer{}
	original := stdout
	stdout = out
	t.Cleanup(func() { stdout = original })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	capacity := 2.0
	done := make(chan error)
	go func() {
		done <- runService(ctx, Args{Sinks: []string{"stdout"}}, fixedSensor{busVoltage: 7.2, currentMilliamps: 500}, &capacity)
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "\n")
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not shut down")
	}

	line := strings.SplitN(out.String(), "\n", 2)[0]
	var record batterystate.Record
	require.NoError(t, json.Unmarshal([]byte(line), &record))
	assert.Equal(t, 50, record.Percentage)
	assert.Equal(t, 0.5, record.Current)
	assert.Equal(t, batterystate.StatusCharging, record.Status)
	require.NotNil(t, record.DesignCapacity)
	assert.Equal(t, 2.0, *record.DesignCapacity)
}
