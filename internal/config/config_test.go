package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	cleanup := setEnvs(t, map[string]string{
		"DATABASE_URL":    "postgres://localhost/test",
		"MQTT_BROKER_URL": "tcp://localhost:1883",
	})
	defer cleanup()

	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.HTTPAddr != ":8080" {
			t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
		}
		if cfg.LogLevel != "info" {
			t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
		}
		if cfg.StorageDir != "./data" {
			t.Errorf("StorageDir = %q, want ./data", cfg.StorageDir)
		}
		if cfg.GapThreshold != 1500*time.Millisecond {
			t.Errorf("GapThreshold = %s, want 1.5s", cfg.GapThreshold)
		}
		if cfg.IngestBatchSize != 100 {
			t.Errorf("IngestBatchSize = %d, want 100", cfg.IngestBatchSize)
		}
		if cfg.QueryTopK != 20 {
			t.Errorf("QueryTopK = %d, want 20", cfg.QueryTopK)
		}
		if cfg.ContextMaxChars != 4000 {
			t.Errorf("ContextMaxChars = %d, want 4000", cfg.ContextMaxChars)
		}
		if cfg.CitationPolicy != "drop" {
			t.Errorf("CitationPolicy = %q, want drop", cfg.CitationPolicy)
		}
		if cfg.MQTTClientID != "interview-kb" {
			t.Errorf("MQTTClientID = %q, want interview-kb", cfg.MQTTClientID)
		}
		if cfg.MQTTJobTopic != "interview-kb/recordings" {
			t.Errorf("MQTTJobTopic = %q, want interview-kb/recordings", cfg.MQTTJobTopic)
		}
		if cfg.S3.Enabled() {
			t.Error("S3.Enabled() = true, want false without a bucket")
		}
	})

	t.Run("cli_overrides_take_priority", func(t *testing.T) {
		cfg, err := Load(Overrides{
			EnvFile:        "nonexistent.env",
			HTTPAddr:       ":9090",
			LogLevel:       "debug",
			DatabaseURL:    "postgres://override/db",
			MQTTBrokerURL:  "tcp://override:1883",
			StorageDir:     "/tmp/kb",
			CitationPolicy: "FLAG",
		})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.HTTPAddr != ":9090" {
			t.Errorf("HTTPAddr = %q, want :9090", cfg.HTTPAddr)
		}
		if cfg.LogLevel != "debug" {
			t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
		}
		if cfg.DatabaseURL != "postgres://override/db" {
			t.Errorf("DatabaseURL = %q, want override", cfg.DatabaseURL)
		}
		if cfg.MQTTBrokerURL != "tcp://override:1883" {
			t.Errorf("MQTTBrokerURL = %q, want override", cfg.MQTTBrokerURL)
		}
		if cfg.StorageDir != "/tmp/kb" {
			t.Errorf("StorageDir = %q, want /tmp/kb", cfg.StorageDir)
		}
		if cfg.CitationPolicy != "flag" {
			t.Errorf("CitationPolicy = %q, want flag", cfg.CitationPolicy)
		}
	})

	t.Run("env_vars_read", func(t *testing.T) {
		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.DatabaseURL != "postgres://localhost/test" {
			t.Errorf("DatabaseURL = %q, want postgres://localhost/test", cfg.DatabaseURL)
		}
		if err := cfg.RequireDatabase(); err != nil {
			t.Errorf("RequireDatabase: %v", err)
		}
	})
}

func TestLoadExcludedSpeakers(t *testing.T) {
	cleanup := setEnvs(t, map[string]string{"EXCLUDED_SPEAKERS": "Interviewer,Moderator"})
	defer cleanup()

	cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.ExcludedSpeakers) != 2 || cfg.ExcludedSpeakers[1] != "Moderator" {
		t.Errorf("ExcludedSpeakers = %v", cfg.ExcludedSpeakers)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		envs map[string]string
	}{
		{"citation_policy", map[string]string{"CITATION_POLICY": "trust"}},
		{"embedding_dim", map[string]string{"EMBEDDING_DIM": "0"}},
		{"batch_size", map[string]string{"INGEST_BATCH_SIZE": "-1"}},
		{"duration", map[string]string{"GAP_THRESHOLD": "soon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cleanup := setEnvs(t, tt.envs)
			defer cleanup()
			if _, err := Load(Overrides{EnvFile: "nonexistent.env"}); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestRequireDatabase(t *testing.T) {
	cfg := &Config{}
	if err := cfg.RequireDatabase(); err == nil {
		t.Error("expected error when DATABASE_URL is empty")
	}
	if err := cfg.RequireSpeech(); err == nil {
		t.Error("expected error when speech URLs are empty")
	}
}

// setEnvs sets environment variables and returns a cleanup function.
func setEnvs(t *testing.T, envs map[string]string) func() {
	t.Helper()
	originals := make(map[string]string)
	unset := make([]string, 0)

	for k, v := range envs {
		if orig, ok := os.LookupEnv(k); ok {
			originals[k] = orig
		} else {
			unset = append(unset, k)
		}
		os.Setenv(k, v)
	}

	return func() {
		for k, v := range originals {
			os.Setenv(k, v)
		}
		for _, k := range unset {
			os.Unsetenv(k)
		}
	}
}
