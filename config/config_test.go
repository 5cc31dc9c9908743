package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type testConfig struct {
	ServiceConfig `yaml:",inline" mapstructure:",squash"`
	Discovery     struct {
		QueryTimeout string `mapstructure:"query_timeout"`
		PollInterval string `mapstructure:"poll_interval"`
	} `mapstructure:"discovery"`
}

func TestServiceConfigApplyDefaults(t *testing.T) {
	cfg := ServiceConfig{Name: "orders"}
	cfg.ApplyDefaults()
	if cfg.Environment != "development" {
		t.Errorf("expected 'development', got %q", cfg.Environment)
	}
	if cfg.Logging.ServiceName != "orders" {
		t.Errorf("expected logging service name propagated, got %q", cfg.Logging.ServiceName)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected logging defaults applied, got level %q", cfg.Logging.Level)
	}
}

func TestServiceConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ServiceConfig
		wantErr string
	}{
		{"valid", ServiceConfig{Name: "svc", Environment: "staging"}, ""},
		{"missing name", ServiceConfig{Environment: "production"}, "config.name is required"},
		{"invalid environment", ServiceConfig{Name: "svc", Environment: "qa"}, "config.environment must be one of"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.cfg.Logging.ApplyDefaults()
			err := tc.cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestLoadConfigWithYAMLAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yml")

	yamlContent := `
name: orders
environment: staging
discovery:
  query_timeout: 2s
  poll_interval: 10s
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv("REGISTRYKIT_DISCOVERY__POLL_INTERVAL", "1m")

	var cfg testConfig
	if err := LoadConfig("orders", &cfg, WithConfigFile(configPath)); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Name != "orders" {
		t.Errorf("expected name 'orders', got %q", cfg.Name)
	}
	if cfg.Discovery.QueryTimeout != "2s" {
		t.Errorf("expected query_timeout from file, got %q", cfg.Discovery.QueryTimeout)
	}
	if cfg.Discovery.PollInterval != "1m" {
		t.Errorf("expected poll_interval overridden by env, got %q", cfg.Discovery.PollInterval)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	var cfg testConfig
	err := LoadConfig("nonexistent-service", &cfg, WithConfigFile("/nonexistent/path.yml"))
	if err != nil {
		t.Fatalf("expected LoadConfig to succeed with missing file, got %v", err)
	}
}

func TestResolveFilesWithMockFS(t *testing.T) {
	fs := &mockFS{files: map[string]bool{
		"./config/orders.yml": true,
		".env":                true,
	}}
	configFile, envFile := ResolveFiles("orders", LoaderConfig{FileSystem: fs})
	if configFile != "./config/orders.yml" {
		t.Errorf("expected ./config/orders.yml, got %q", configFile)
	}
	if envFile != ".env" {
		t.Errorf("expected .env, got %q", envFile)
	}
}

func TestEnvKeyToPath(t *testing.T) {
	tests := map[string]string{
		"NAME":                     "name",
		"DISCOVERY__QUERY_TIMEOUT": "discovery.query_timeout",
		"DISCOVERY__CONSUL__TOKEN": "discovery.consul.token",
	}
	for in, want := range tests {
		if got := EnvKeyToPath(in); got != want {
			t.Errorf("EnvKeyToPath(%q) = %q, want %q", in, got, want)
		}
	}
}

type mockFS struct {
	files map[string]bool
}

func (m *mockFS) Exists(path string) bool  { return m.files[path] }
func (m *mockFS) LoadEnv(path string) error { return nil }
