// Package config holds the tunables of a mounted filesystem. Values come from
// an optional dotenv file, then the process environment, then the caller.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/mit-pdos/go-ftlfs/common"
)

const (
	KeyDevice        = "FTLFS_DEVICE"
	KeyDevicePages   = "FTLFS_DEVICE_PAGES"
	KeyShards        = "FTLFS_SHARDS"
	KeyPoolSize      = "FTLFS_POOL_SIZE"
	KeyFlushInterval = "FTLFS_FLUSH_INTERVAL"
	KeyFetchTimeout  = "FTLFS_FETCH_TIMEOUT"
	KeyDebug         = "FTLFS_DEBUG"
)

var keys = []string{
	KeyDevice, KeyDevicePages, KeyShards, KeyPoolSize,
	KeyFlushInterval, KeyFetchTimeout, KeyDebug,
}

type Config struct {
	DevicePath     string
	DevicePages    uint64 // 0 means use the device's own size
	Shards         uint64
	FramesPerShard uint64
	FlushInterval  time.Duration
	FetchTimeout   time.Duration // 0 waits forever
	Debug          uint64
}

func Default() Config {
	return Config{
		Shards:         1,
		FramesPerShard: 20,
		FlushInterval:  10 * time.Millisecond,
		FetchTimeout:   time.Second,
	}
}

// Load reads the given dotenv files, if any, and overlays the process
// environment on top. Keys that are absent keep their defaults.
func Load(filenames ...string) (Config, error) {
	envMap := make(map[string]string)
	if len(filenames) > 0 {
		m, err := godotenv.Read(filenames...)
		if err != nil {
			return Config{}, fmt.Errorf("(config-godotenv) %w", err)
		}
		envMap = m
	}
	for _, k := range keys {
		if v, ok := os.LookupEnv(k); ok {
			envMap[k] = v
		}
	}
	return FromMap(envMap)
}

// FromMap builds a Config from already parsed key/value pairs.
func FromMap(envMap map[string]string) (Config, error) {
	c := Default()
	var err error
	if v, ok := envMap[KeyDevice]; ok {
		c.DevicePath = v
	}
	if c.DevicePages, err = mapKeyToUint64(envMap, KeyDevicePages, c.DevicePages); err != nil {
		return Config{}, err
	}
	if c.Shards, err = mapKeyToUint64(envMap, KeyShards, c.Shards); err != nil {
		return Config{}, err
	}
	if c.FramesPerShard, err = mapKeyToUint64(envMap, KeyPoolSize, c.FramesPerShard); err != nil {
		return Config{}, err
	}
	if c.FlushInterval, err = mapKeyToDuration(envMap, KeyFlushInterval, c.FlushInterval); err != nil {
		return Config{}, err
	}
	if c.FetchTimeout, err = mapKeyToDuration(envMap, KeyFetchTimeout, c.FetchTimeout); err != nil {
		return Config{}, err
	}
	if c.Debug, err = mapKeyToUint64(envMap, KeyDebug, c.Debug); err != nil {
		return Config{}, err
	}
	return c, nil
}

func mapKeyToUint64(envMap map[string]string, key string, def uint64) (uint64, error) {
	value, ok := envMap[key]
	if !ok || value == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

// mapKeyToDuration accepts Go duration strings; a bare integer is taken as
// milliseconds.
func mapKeyToDuration(envMap map[string]string, key string, def time.Duration) (time.Duration, error) {
	value, ok := envMap[key]
	if !ok || value == "" {
		return def, nil
	}
	if ms, err := strconv.ParseUint(value, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}

func (c Config) Validate() error {
	if c.Shards == 0 {
		return fmt.Errorf("config: need at least one shard")
	}
	if c.FramesPerShard == 0 {
		return fmt.Errorf("config: need at least one frame per shard")
	}
	if c.DevicePages != 0 && c.DevicePages <= uint64(common.DATASTART) {
		return fmt.Errorf("config: %d pages leaves no data region (need more than %d)",
			c.DevicePages, common.DATASTART)
	}
	if c.FlushInterval < 0 || c.FetchTimeout < 0 {
		return fmt.Errorf("config: negative interval")
	}
	return nil
}
