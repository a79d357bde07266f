package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "askdoc.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	viper.Reset()
	cfg, err := LoadConfig(writeConfig(t, "server:\n  listen: \":9090\"\n"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Listen != ":9090" {
		t.Errorf("listen = %q, want :9090", cfg.Server.Listen)
	}
	if cfg.Retrieval.ChunkSize != 1000 || cfg.Retrieval.ChunkOverlap != 200 {
		t.Errorf("chunking defaults wrong: %+v", cfg.Retrieval)
	}
	if cfg.Retrieval.SimilarityThreshold != 0.7 {
		t.Errorf("threshold default = %v, want 0.7", cfg.Retrieval.SimilarityThreshold)
	}
	if cfg.Pipeline.MaxConcurrentQuestions != 5 || cfg.Pipeline.MaxAgentIterations != 5 {
		t.Errorf("pipeline defaults wrong: %+v", cfg.Pipeline)
	}
	if cfg.LLM.Model != "gpt-4o-mini" {
		t.Errorf("model default = %q", cfg.LLM.Model)
	}
}

func TestLoadConfigRejectsBadOverlap(t *testing.T) {
	viper.Reset()
	_, err := LoadConfig(writeConfig(t, "retrieval:\n  chunk_size: 100\n  chunk_overlap: 100\n"))
	if err == nil {
		t.Fatal("overlap equal to chunk size must be rejected")
	}
}

func TestLoadConfigSecretEnvOverride(t *testing.T) {
	viper.Reset()
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("ASKDOC_API_TOKEN", "token-from-env")

	cfg, err := LoadConfig(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.LLM.APIKey != "sk-test" {
		t.Errorf("llm.api_key = %q, want env value", cfg.LLM.APIKey)
	}
	if cfg.Server.APIToken != "token-from-env" {
		t.Errorf("server.api_token = %q, want env value", cfg.Server.APIToken)
	}
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", DBName: "askdoc", User: "app", Password: "pw"}
	dsn, err := p.DSN()
	if err != nil {
		t.Fatalf("DSN: %v", err)
	}
	if dsn != "postgres://app:pw@db:5432/askdoc?sslmode=disable" {
		t.Errorf("dsn = %q", dsn)
	}

	p = PostgresConfig{URL: "postgres://u@h/d"}
	dsn, err = p.DSN()
	if err != nil || dsn != "postgres://u@h/d" {
		t.Errorf("url passthrough failed: %q, %v", dsn, err)
	}

	if _, err := (PostgresConfig{}).DSN(); err == nil {
		t.Error("unconfigured postgres must error")
	}
	if (PostgresConfig{}).Configured() {
		t.Error("empty config must not report configured")
	}
}
