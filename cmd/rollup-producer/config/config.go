// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config loads the rollup-producer's layered configuration: flags
// override a config file, which overrides built-in defaults, matching the
// flag-to-config wiring this codebase's cmd/evm-node/chaincmd commands use
// (pflag.FlagSet bound to a urfave/cli command, decoded through viper).
package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config is the rollup-producer's full runtime configuration.
type Config struct {
	DataDir       string        `mapstructure:"data-dir"`
	L1RPCEndpoint string        `mapstructure:"l1-rpc-endpoint"`
	MetricsAddr   string        `mapstructure:"metrics-addr"`
	LogFile       string        `mapstructure:"log-file"`
	LogMaxSizeMB  int           `mapstructure:"log-max-size-mb"`
	LogMaxBackups int           `mapstructure:"log-max-backups"`
	SubmitTimeout time.Duration `mapstructure:"submit-timeout"`
}

// Defaults returns the configuration used when neither a config file nor
// flags set a value.
func Defaults() Config {
	return Config{
		DataDir:       "./data/rollup-producer",
		L1RPCEndpoint: "http://127.0.0.1:8114",
		MetricsAddr:   ":9100",
		LogFile:       "",
		LogMaxSizeMB:  100,
		LogMaxBackups: 5,
		SubmitTimeout: 0,
	}
}

// BindFlags registers the configuration's flags on fs, matching
// cmd/evm-node's DatabaseFlags pattern of plain pflag registration rather
// than urfave/cli's own flag types, so the same flag set can be decoded
// through viper regardless of which command parses it.
func BindFlags(fs *pflag.FlagSet) {
	d := Defaults()
	fs.String("data-dir", d.DataDir, "directory for the pebble progress store")
	fs.String("l1-rpc-endpoint", d.L1RPCEndpoint, "L1 node JSON-RPC endpoint")
	fs.String("metrics-addr", d.MetricsAddr, "address to serve Prometheus metrics on")
	fs.String("log-file", d.LogFile, "rotating log file path (empty logs to stderr only)")
	fs.Int("log-max-size-mb", d.LogMaxSizeMB, "max size in MB before a log file is rotated")
	fs.Int("log-max-backups", d.LogMaxBackups, "max number of rotated log files to retain")
	fs.Duration("submit-timeout", d.SubmitTimeout, "unused placeholder for a future submit deadline (0 disables)")
}

// Load builds a Config by layering, in increasing priority: built-in
// defaults, an optional config file at configPath, and fs's bound flags.
func Load(configPath string, fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	d := Defaults()
	v.SetDefault("data-dir", d.DataDir)
	v.SetDefault("l1-rpc-endpoint", d.L1RPCEndpoint)
	v.SetDefault("metrics-addr", d.MetricsAddr)
	v.SetDefault("log-file", d.LogFile)
	v.SetDefault("log-max-size-mb", d.LogMaxSizeMB)
	v.SetDefault("log-max-backups", d.LogMaxBackups)
	v.SetDefault("submit-timeout", d.SubmitTimeout)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", configPath, err)
		}
	}

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// LogWriter returns the rotating file sink described by cfg, or nil if
// LogFile is unset (stderr-only logging).
func (c Config) LogWriter() *lumberjack.Logger {
	if c.LogFile == "" {
		return nil
	}
	return &lumberjack.Logger{
		Filename:   c.LogFile,
		MaxSize:    c.LogMaxSizeMB,
		MaxBackups: c.LogMaxBackups,
		Compress:   true,
	}
}
