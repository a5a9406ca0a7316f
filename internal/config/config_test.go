package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"tillsync/internal/models"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
app:
  name: "tillsync"
  environment: "test"
terminal:
  id: "till-01"
  store_id: "store-9"
database:
  path: "data/queue.db"
remote:
  base_url: "http://central.local:8080"
  api_key: "secret"
sync:
  interval_sec: 15
  max_retries: 3
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Terminal.ID != "till-01" {
		t.Errorf("expected terminal id till-01, got %s", cfg.Terminal.ID)
	}
	if cfg.Sync.IntervalSec != 15 {
		t.Errorf("expected interval 15, got %d", cfg.Sync.IntervalSec)
	}
	if cfg.Sync.MaxRetries != 3 {
		t.Errorf("expected max_retries 3, got %d", cfg.Sync.MaxRetries)
	}

	// Defaults
	if cfg.Sync.BackoffBaseSec != models.DefaultBackoffBaseSec {
		t.Errorf("expected default backoff base, got %d", cfg.Sync.BackoffBaseSec)
	}
	if cfg.Remote.IngestPath != "/v1/sales" {
		t.Errorf("expected default ingest path, got %s", cfg.Remote.IngestPath)
	}
	if cfg.API.Port != 8090 {
		t.Errorf("expected default api port 8090, got %d", cfg.API.Port)
	}
	if cfg.SyncInterval() != 15*time.Second {
		t.Errorf("expected 15s interval, got %s", cfg.SyncInterval())
	}
}

func TestLoadConfigExpandsEnv(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	t.Setenv("TILLSYNC_TEST_API_KEY", "from-env")

	yamlContent := `
database:
  path: "data/queue.db"
remote:
  base_url: "http://central.local"
  api_key: "${TILLSYNC_TEST_API_KEY}"
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Remote.APIKey != "from-env" {
		t.Errorf("expected api key from env, got %s", cfg.Remote.APIKey)
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid config",
			cfg: Config{
				Database: DatabaseConfig{Path: "queue.db"},
				Remote:   RemoteConfig{BaseURL: "http://central.local"},
			},
			wantErr: false,
		},
		{
			name: "missing database path",
			cfg: Config{
				Remote: RemoteConfig{BaseURL: "http://central.local"},
			},
			wantErr: true,
		},
		{
			name: "missing remote base url",
			cfg: Config{
				Database: DatabaseConfig{Path: "queue.db"},
			},
			wantErr: true,
		},
		{
			name: "backoff base above max",
			cfg: Config{
				Database: DatabaseConfig{Path: "queue.db"},
				Remote:   RemoteConfig{BaseURL: "http://central.local"},
				Sync:     SyncConfig{BackoffBaseSec: 120, BackoffMaxSec: 60},
			},
			wantErr: true,
		},
		{
			name: "auth without keys",
			cfg: Config{
				Database: DatabaseConfig{Path: "queue.db"},
				Remote:   RemoteConfig{BaseURL: "http://central.local"},
				API:      APIConfig{Enabled: true, Auth: APIAuthConfig{Enabled: true}},
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
