package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/opencgm/glucose.report/internal/units"
)

// DefaultMultiplier converts a Libre 1 raw 13-bit code to mg/dL. The value
// is sensor-family dependent and can be overridden per deployment.
const DefaultMultiplier = 0.117647

// Config represents the root configuration for the gateway. Fields use
// pointers so that partial config files are safe: anything omitted from the
// JSON keeps its default via the Get* accessors.
type Config struct {
	// Calibration
	LibreMultiplier *float64 `json:"libre_multiplier,omitempty"`

	// Display units for the API ("mgdl" or "mmol")
	Units *string `json:"units,omitempty"`

	// How often the bridge is asked to scan the sensor. The sensor buffers
	// eight hours of history, so long intervals lose nothing but latency.
	ScanInterval *string `json:"scan_interval,omitempty"` // duration string like "5m"

	// Remote decode service. The remote path is only used when endpoint,
	// token, and sensor serial are all present; otherwise the gateway
	// decodes locally.
	RemoteEndpoint *string `json:"remote_endpoint,omitempty"`
	RemoteToken    *string `json:"remote_token,omitempty"`
	SensorSerial   *string `json:"sensor_serial,omitempty"`
	PatchInfo      *string `json:"patch_info,omitempty"`
	RequestTimeout *string `json:"request_timeout,omitempty"` // duration string like "10s"
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }

// DefaultConfig returns a Config populated with every default value.
func DefaultConfig() *Config {
	return &Config{
		LibreMultiplier: ptrFloat64(DefaultMultiplier),
		Units:           ptrString(units.MGDL),
		ScanInterval:    ptrString("5m"),
		RequestTimeout:  ptrString("10s"),
	}
}

// LoadConfig loads a Config from a JSON file.
// The file is validated to ensure it has a .json extension and is under the
// max file size. Fields omitted from the JSON file retain their default
// values, so partial configs are safe.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into an empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	if c.LibreMultiplier != nil && *c.LibreMultiplier <= 0 {
		return fmt.Errorf("libre_multiplier must be positive, got %f", *c.LibreMultiplier)
	}

	if c.Units != nil && !units.IsValid(*c.Units) {
		return fmt.Errorf("invalid units %q: expected one of %s", *c.Units, units.GetValidUnitsString())
	}

	if c.RemoteEndpoint != nil && *c.RemoteEndpoint != "" {
		u, err := url.Parse(*c.RemoteEndpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid remote_endpoint %q: must be an absolute URL", *c.RemoteEndpoint)
		}
	}

	if c.RequestTimeout != nil && *c.RequestTimeout != "" {
		if _, err := time.ParseDuration(*c.RequestTimeout); err != nil {
			return fmt.Errorf("invalid request_timeout '%s': %w", *c.RequestTimeout, err)
		}
	}

	if c.ScanInterval != nil && *c.ScanInterval != "" {
		d, err := time.ParseDuration(*c.ScanInterval)
		if err != nil {
			return fmt.Errorf("invalid scan_interval '%s': %w", *c.ScanInterval, err)
		}
		if d < time.Minute {
			return fmt.Errorf("scan_interval %s too short: minimum is 1m", d)
		}
	}

	return nil
}

// GetLibreMultiplier returns the libre_multiplier value or the default.
func (c *Config) GetLibreMultiplier() float64 {
	if c.LibreMultiplier == nil {
		return DefaultMultiplier
	}
	return *c.LibreMultiplier
}

// GetUnits returns the units value or the default.
func (c *Config) GetUnits() string {
	if c.Units == nil || *c.Units == "" {
		return units.MGDL
	}
	return *c.Units
}

// GetRemoteEndpoint returns the remote_endpoint value or empty.
func (c *Config) GetRemoteEndpoint() string {
	if c.RemoteEndpoint == nil {
		return ""
	}
	return *c.RemoteEndpoint
}

// GetRemoteToken returns the remote_token value or empty.
func (c *Config) GetRemoteToken() string {
	if c.RemoteToken == nil {
		return ""
	}
	return *c.RemoteToken
}

// GetSensorSerial returns the sensor_serial value or empty.
func (c *Config) GetSensorSerial() string {
	if c.SensorSerial == nil {
		return ""
	}
	return *c.SensorSerial
}

// GetPatchInfo returns the patch_info value or empty.
func (c *Config) GetPatchInfo() string {
	if c.PatchInfo == nil {
		return ""
	}
	return *c.PatchInfo
}

// GetRequestTimeout parses and returns the RequestTimeout as a time.Duration.
func (c *Config) GetRequestTimeout() time.Duration {
	if c.RequestTimeout == nil || *c.RequestTimeout == "" {
		return 10 * time.Second // default
	}
	d, err := time.ParseDuration(*c.RequestTimeout)
	if err != nil {
		return 10 * time.Second // default on parse error
	}
	return d
}

// GetScanInterval parses and returns the ScanInterval as a time.Duration.
func (c *Config) GetScanInterval() time.Duration {
	if c.ScanInterval == nil || *c.ScanInterval == "" {
		return 5 * time.Minute // default matches the trend cadence
	}
	d, err := time.ParseDuration(*c.ScanInterval)
	if err != nil {
		return 5 * time.Minute // default on parse error
	}
	return d
}

// RemoteEnabled reports whether the remote decode path has everything it
// needs: endpoint, token, and the sensor serial number.
func (c *Config) RemoteEnabled() bool {
	return c.GetRemoteEndpoint() != "" && c.GetRemoteToken() != "" && c.GetSensorSerial() != ""
}
