// Package config loads the host PDR agent configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/smccarney/pldm/pkg/pldm"
)

// ServiceName names the config and env files and prefixes env variables.
const ServiceName = "pldm"

// Config contains all configuration for the agent
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Host      HostConfig      `yaml:"host"`
	Transport TransportConfig `yaml:"transport"`
	PDR       PDRConfig       `yaml:"pdr"`
	Store     StoreConfig     `yaml:"store"`
	HTTP      HTTPConfig      `yaml:"http"`
}

// LogConfig configures logging behavior
type LogConfig struct {
	Level  string `yaml:"level" default:"info"`
	Format string `yaml:"format" default:"console"`
	Debug  bool   `yaml:"debug" default:"false"`
	// Verbose logs every PLDM message as hex at debug level.
	Verbose bool `yaml:"verbose" default:"false"`
}

// HostConfig addresses the host terminus.
type HostConfig struct {
	EID        uint8         `yaml:"eid" default:"9"`
	TID        uint8         `yaml:"tid" default:"1"`
	Timeout    time.Duration `yaml:"timeout" default:"2s"`
	Retries    int           `yaml:"retries" default:"2"`
	WatchState bool          `yaml:"watch_state" default:"true"`
}

// TransportConfig selects the MCTP demux socket.
type TransportConfig struct {
	Socket string `yaml:"socket" default:"@mctp-mux"`
}

// PDRConfig tunes the host PDR exchange.
type PDRConfig struct {
	// BMCTree is a YAML file describing the BMC's own entity tree.
	BMCTree string `yaml:"bmc_tree" default:"/usr/share/pldm/entity_tree.yaml"`
	// EventDir holds state sensor event JSON files.
	EventDir string `yaml:"event_dir" default:"/usr/share/pldm/events"`
	// HostFRUParents maps host container entity types to BMC parents.
	HostFRUParents string `yaml:"host_fru_parents" default:"/usr/share/pldm/host_frus.json"`
	// NotifyTypes filters the records reported to the host. Empty is all.
	NotifyTypes []uint8 `yaml:"notify_types"`
	// NotifyFormat is "handles" or "types".
	NotifyFormat     string `yaml:"notify_format" default:"handles"`
	SyncSensorStates bool   `yaml:"sync_sensor_states" default:"true"`
	FetchOnHostUp    bool   `yaml:"fetch_on_host_up" default:"true"`
}

// StoreConfig configures the fetch cycle history database.
type StoreConfig struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Path    string `yaml:"path" default:"file:/var/lib/pldm/pdr-history.db"`
	Keep    int    `yaml:"keep" default:"50"`
	Debug   bool   `yaml:"debug" default:"false"`
}

// HTTPConfig configures the status endpoint.
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Listen  string `yaml:"listen" default:"127.0.0.1:8095"`
	// MetricsInterval is how often gauges are refreshed from handler state.
	MetricsInterval time.Duration `yaml:"metrics_interval" default:"15s"`
}

// Load loads the configuration from defaults, configFile, envFile and
// PLDM_* environment variables, then validates it.
func Load(configFile, envFile string) (*Config, error) {
	cfg := &Config{}
	loader := Loader{
		ConfigFile: configFile,
		EnvFile:    envFile,
		Prefix:     strings.ToUpper(ServiceName),
	}
	if err := loader.Load(cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []error
	if c.Host.EID == 0 || c.Host.EID == 0xFF {
		errs = append(errs, fmt.Errorf("host eid %d is reserved", c.Host.EID))
	}
	if c.Host.TID == 0 || c.Host.TID == 0xFF {
		errs = append(errs, fmt.Errorf("tid %d is reserved", c.Host.TID))
	}
	if c.Host.Timeout <= 0 {
		errs = append(errs, errors.New("host timeout must be positive"))
	}
	if c.Host.Retries < 0 {
		errs = append(errs, errors.New("host retries must not be negative"))
	}
	if c.Transport.Socket == "" {
		errs = append(errs, errors.New("transport socket is required"))
	}
	if _, err := c.PDR.Format(); err != nil {
		errs = append(errs, err)
	}
	if c.Store.Enabled && c.Store.Path == "" {
		errs = append(errs, errors.New("store path is required when the store is enabled"))
	}
	if c.Store.Keep < 0 {
		errs = append(errs, errors.New("store keep must not be negative"))
	}
	if c.HTTP.Enabled && c.HTTP.Listen == "" {
		errs = append(errs, errors.New("http listen address is required when http is enabled"))
	}
	return errors.Join(errs...)
}

// Format returns the PDRRepositoryChgEvent data format for NotifyFormat.
func (c PDRConfig) Format() (uint8, error) {
	switch strings.ToLower(c.NotifyFormat) {
	case "", "handles":
		return pldm.FormatIsPDRHandles, nil
	case "types":
		return pldm.FormatIsPDRTypes, nil
	default:
		return 0, fmt.Errorf("unknown notify format %q", c.NotifyFormat)
	}
}

// ConfigureZerolog sets the global level and the output writer.
func (c *LogConfig) ConfigureZerolog() {
	c.configure(os.Stderr)
}

func (c *LogConfig) configure(out io.Writer) {
	level := zerolog.InfoLevel
	if c.Debug || c.Verbose {
		level = zerolog.DebugLevel
	} else if parsed, err := zerolog.ParseLevel(strings.ToLower(c.Level)); err == nil && parsed != zerolog.NoLevel {
		level = parsed
	}
	zerolog.SetGlobalLevel(level)

	if strings.EqualFold(c.Format, "json") {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen})
}
