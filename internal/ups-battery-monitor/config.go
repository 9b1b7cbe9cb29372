package upsmonitor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	goconfig "github.com/TheCacophonyProject/go-config"
)

const (
	upsKey         = "ups"
	configFileName = "config.toml"
)

var defaultConfigDir = goconfig.DefaultConfigDir

// UPSConfig is the [ups] section of the config file.
type UPSConfig struct {
	DesignCapacity *float64 `mapstructure:"design-capacity"`
}

var loadUPSConfig = func(configDir string) (*UPSConfig, error) {
	conf, err := goconfig.New(configDir)
	if err != nil {
		return nil, err
	}
	c := &UPSConfig{}
	if err := conf.Unmarshal(upsKey, c); err != nil {
		return nil, err
	}
	return c, nil
}

// resolveDesignCapacity returns the design capacity from the flag or environment,
// falling back to the config file. nil means no capacity is configured.
// The default config file is optional, one given with --config-dir is not.
func resolveDesignCapacity(args Args) (*float64, error) {
	if args.DesignCapacity != nil {
		return args.DesignCapacity, nil
	}

	configDir := args.ConfigDir
	explicit := configDir != ""
	if !explicit {
		configDir = defaultConfigDir
		configFile := filepath.Join(configDir, configFileName)
		if _, err := os.Stat(configFile); errors.Is(err, os.ErrNotExist) {
			log.Debugf("No config file at %s", configFile)
			return nil, nil
		}
	}

	c, err := loadUPSConfig(configDir)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrPermission) {
			log.Debugf("Can't use config from %s: %v", configDir, err)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read config from %s: %w", configDir, err)
	}
	return c.DesignCapacity, nil
}
