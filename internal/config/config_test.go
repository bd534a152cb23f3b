package config

import (
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.App.Port != 8080 {
		t.Fatalf("default port = %d, want 8080", cfg.App.Port)
	}
	if cfg.Predict.ModelUnavailableStatus != 500 {
		t.Fatalf("default model_unavailable_status = %d, want 500", cfg.Predict.ModelUnavailableStatus)
	}
	if len(cfg.Model.Paths) == 0 {
		t.Fatal("default model paths empty")
	}
	if got := cfg.HTTPAddr(); got != "0.0.0.0:8080" {
		t.Fatalf("HTTPAddr = %q, want 0.0.0.0:8080", got)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))
	t.Setenv("APP_PORT", "9090")
	t.Setenv("PREDICT_MODEL_UNAVAILABLE_STATUS", "503")
	t.Setenv("MODEL_PATHS", " a.onnx , b.onnx ,")
	t.Setenv("MYSQL_DB", "digits")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.App.Port != 9090 {
		t.Fatalf("port = %d, want 9090", cfg.App.Port)
	}
	if cfg.Predict.ModelUnavailableStatus != 503 {
		t.Fatalf("model_unavailable_status = %d, want 503", cfg.Predict.ModelUnavailableStatus)
	}
	if len(cfg.Model.Paths) != 2 || cfg.Model.Paths[0] != "a.onnx" || cfg.Model.Paths[1] != "b.onnx" {
		t.Fatalf("model paths = %v, want [a.onnx b.onnx]", cfg.Model.Paths)
	}
	if cfg.MySQL.DB != "digits" {
		t.Fatalf("mysql db = %q, want digits", cfg.MySQL.DB)
	}
}

func TestMySQLDSN(t *testing.T) {
	cfg := defaultConfig()
	cfg.MySQL.User = "svc"
	cfg.MySQL.Password = "pw"
	cfg.MySQL.Host = "db.local"
	cfg.MySQL.Port = 3307
	cfg.MySQL.DB = "mnist"
	cfg.MySQL.Params = "parseTime=true"

	want := "svc:pw@tcp(db.local:3307)/mnist?parseTime=true"
	if got := cfg.MySQLDSN(); got != want {
		t.Fatalf("MySQLDSN = %q, want %q", got, want)
	}
}

func TestLoadBadEnvIntFallsBack(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))
	t.Setenv("APP_PORT", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.App.Port != 8080 {
		t.Fatalf("port = %d, want default 8080 for unparsable override", cfg.App.Port)
	}
}
