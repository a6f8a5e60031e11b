package main

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"

	"github.com/objectfs/bucketcache/internal/config"
)

// Output formats.
const (
	formatJSON = "json"
	formatYAML = "yaml"
)

// rootOptions holds the flags shared by every subcommand.
type rootOptions struct {
	configFile  string
	logLevel    string
	logFormat   string
	metricsAddr string
	format      string
	noCache     bool
}

func newRootOptions() *rootOptions {
	return &rootOptions{format: formatJSON}
}

func (o *rootOptions) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.configFile, "config", o.configFile, "YAML config file (defaults apply when unset)")
	fs.StringVar(&o.logLevel, "log-level", o.logLevel, "log level: DEBUG, INFO, WARN or ERROR (overrides the config file)")
	fs.StringVar(&o.logFormat, "log-format", o.logFormat, "log format: text or json (overrides the config file)")
	fs.StringVar(&o.metricsAddr, "metrics-addr", o.metricsAddr, "serve Prometheus metrics on this address while the command runs")
	fs.StringVarP(&o.format, "output-format", "o", o.format, "result format: json or yaml")
	fs.BoolVar(&o.noCache, "no-cache", o.noCache, "bypass the cache and talk to the remote store only")
}

func (o *rootOptions) validate() error {
	switch strings.ToLower(o.format) {
	case formatJSON, formatYAML:
		return nil
	default:
		return fmt.Errorf("invalid output format %q (must be json or yaml)", o.format)
	}
}

// load builds the configuration: defaults, then the config file, then
// BUCKETCACHE_* environment variables, then flags.
func (o *rootOptions) load() (*config.Configuration, error) {
	cfg := config.NewDefault()
	if o.configFile != "" {
		if err := cfg.LoadFromFile(o.configFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}

	if o.logLevel != "" {
		cfg.Global.LogLevel = strings.ToUpper(o.logLevel)
	}
	if o.logFormat != "" {
		cfg.Global.LogFormat = o.logFormat
	}
	if o.metricsAddr != "" {
		cfg.Monitoring.Metrics.Enabled = true
		cfg.Monitoring.Metrics.Addr = o.metricsAddr
	}
	if o.noCache {
		cfg.Cache.Enabled = false
	}
	return cfg, cfg.Validate()
}
