package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.LibreMultiplier == nil || *cfg.LibreMultiplier != DefaultMultiplier {
		t.Errorf("Expected LibreMultiplier %f, got %v", DefaultMultiplier, cfg.LibreMultiplier)
	}
	if cfg.Units == nil || *cfg.Units != "mgdl" {
		t.Errorf("Expected Units 'mgdl', got %v", cfg.Units)
	}
	if cfg.GetRequestTimeout() != 10*time.Second {
		t.Errorf("GetRequestTimeout() = %v, want 10s", cfg.GetRequestTimeout())
	}
	if cfg.GetScanInterval() != 5*time.Minute {
		t.Errorf("GetScanInterval() = %v, want 5m", cfg.GetScanInterval())
	}
	if cfg.RemoteEnabled() {
		t.Error("RemoteEnabled() = true for default config, want false")
	}
}

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test_config.json")

	testJSON := `{
  "libre_multiplier": 0.125,
  "units": "mmol",
  "remote_endpoint": "https://decode.example.com/v1",
  "remote_token": "secret",
  "sensor_serial": "0M0001ABCDE",
  "scan_interval": "10m",
  "request_timeout": "5s"
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.GetLibreMultiplier() != 0.125 {
		t.Errorf("GetLibreMultiplier() = %f, want 0.125", cfg.GetLibreMultiplier())
	}
	if cfg.GetUnits() != "mmol" {
		t.Errorf("GetUnits() = %q, want 'mmol'", cfg.GetUnits())
	}
	if cfg.GetRequestTimeout() != 5*time.Second {
		t.Errorf("GetRequestTimeout() = %v, want 5s", cfg.GetRequestTimeout())
	}
	if cfg.GetScanInterval() != 10*time.Minute {
		t.Errorf("GetScanInterval() = %v, want 10m", cfg.GetScanInterval())
	}
	if !cfg.RemoteEnabled() {
		t.Error("RemoteEnabled() = false, want true with endpoint+token+serial set")
	}
}

func TestLoadConfigPartial(t *testing.T) {
	// Partial config: only override units; everything else keeps defaults.
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "partial.json")

	partialJSON := `{
  "units": "mmol"
}`
	if err := os.WriteFile(configPath, []byte(partialJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load partial config: %v", err)
	}

	if cfg.GetUnits() != "mmol" {
		t.Errorf("GetUnits() = %q, want overridden 'mmol'", cfg.GetUnits())
	}
	if cfg.GetLibreMultiplier() != DefaultMultiplier {
		t.Errorf("GetLibreMultiplier() = %f, want default %f", cfg.GetLibreMultiplier(), DefaultMultiplier)
	}
	if cfg.GetRequestTimeout() != 10*time.Second {
		t.Errorf("GetRequestTimeout() = %v, want default 10s", cfg.GetRequestTimeout())
	}
}

func TestLoadConfigMissing(t *testing.T) {
	_, err := LoadConfig("/nonexistent/path/to/config.json")
	if err == nil {
		t.Error("Expected error when loading missing file, got nil")
	}
}

func TestLoadConfigRejectsNonJSON(t *testing.T) {
	_, err := LoadConfig("/some/path/config.yaml")
	if err == nil {
		t.Error("Expected error for non-.json extension, got nil")
	}
}

func TestLoadConfigInvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.json")

	if err := os.WriteFile(configPath, []byte(`{"units": `), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	if _, err := LoadConfig(configPath); err == nil {
		t.Error("Expected error when loading invalid JSON, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{
			name:    "valid config",
			cfg:     DefaultConfig(),
			wantErr: false,
		},
		{
			name:    "empty config is valid",
			cfg:     &Config{},
			wantErr: false,
		},
		{
			name: "zero multiplier",
			cfg: &Config{
				LibreMultiplier: ptrFloat64(0),
			},
			wantErr: true,
		},
		{
			name: "negative multiplier",
			cfg: &Config{
				LibreMultiplier: ptrFloat64(-0.1),
			},
			wantErr: true,
		},
		{
			name: "invalid units",
			cfg: &Config{
				Units: ptrString("furlongs"),
			},
			wantErr: true,
		},
		{
			name: "relative remote endpoint",
			cfg: &Config{
				RemoteEndpoint: ptrString("/v1/decode"),
			},
			wantErr: true,
		},
		{
			name: "invalid request timeout",
			cfg: &Config{
				RequestTimeout: ptrString("soon"),
			},
			wantErr: true,
		},
		{
			name: "unparseable scan interval",
			cfg: &Config{
				ScanInterval: ptrString("often"),
			},
			wantErr: true,
		},
		{
			name: "scan interval below minimum",
			cfg: &Config{
				ScanInterval: ptrString("10s"),
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRemoteEnabled(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		token    string
		serial   string
		want     bool
	}{
		{"all present", "https://x.test", "tok", "serial", true},
		{"missing token", "https://x.test", "", "serial", false},
		{"missing serial", "https://x.test", "tok", "", false},
		{"missing endpoint", "", "tok", "serial", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				RemoteEndpoint: ptrString(tt.endpoint),
				RemoteToken:    ptrString(tt.token),
				SensorSerial:   ptrString(tt.serial),
			}
			if got := cfg.RemoteEnabled(); got != tt.want {
				t.Errorf("RemoteEnabled() = %v, want %v", got, tt.want)
			}
		})
	}
}
