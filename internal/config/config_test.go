package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmerrifield20/captcha/internal/captcha/artifact"
	"github.com/jmerrifield20/captcha/internal/captcha/service"
	"github.com/jmerrifield20/captcha/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "captcha.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_FileValues(t *testing.T) {
	path := writeConfig(t, `
captcha:
  lifetime_seconds: 80
  code_length: 6
  artifact_base_path: /var/lib/captcha
  artifact_base_url: https://cdn.example.com/captcha/
sweep:
  interval: 1m
storage:
  driver: memory
http:
  port: 9090
`)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := service.Config{
		LifetimeSeconds:  80,
		CodeLength:       6,
		ArtifactBasePath: "/var/lib/captcha",
		ArtifactBaseURL:  "https://cdn.example.com/captcha/",
	}
	if cfg.Captcha != want {
		t.Errorf("Captcha = %+v, want %+v", cfg.Captcha, want)
	}
	if cfg.Sweep.Interval != time.Minute {
		t.Errorf("Sweep.Interval = %v, want 1m", cfg.Sweep.Interval)
	}
	if cfg.Sweep.Timeout != 30*time.Second {
		t.Errorf("Sweep.Timeout = %v, want default 30s", cfg.Sweep.Timeout)
	}
	if cfg.Storage.Driver != config.DriverMemory {
		t.Errorf("Storage.Driver = %q", cfg.Storage.Driver)
	}
	if cfg.HTTP.Port != 9090 {
		t.Errorf("HTTP.Port = %d, want 9090", cfg.HTTP.Port)
	}
	if cfg.Artifacts.Driver != config.ArtifactsFile {
		t.Errorf("Artifacts.Driver = %q, want default file", cfg.Artifacts.Driver)
	}
	if cfg.Image.Width != 175 || cfg.Image.Height != 50 {
		t.Errorf("Image = %+v, want 175x50", cfg.Image)
	}
}

func TestLoad_S3Keys(t *testing.T) {
	path := writeConfig(t, `
captcha:
  lifetime_seconds: 80
  code_length: 6
artifacts:
  driver: s3
  s3:
    endpoint: minio:9000
    access_key_id: AKID
    access_key_secret: SECRET
    bucket: images
    enable_ssl: true
`)
	t.Setenv("ARTIFACTS_S3_REGION", "eu-west-1")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := artifact.MinioConfig{
		Endpoint:        "minio:9000",
		AccessKeyID:     "AKID",
		AccessKeySecret: "SECRET",
		Region:          "eu-west-1",
		Bucket:          "images",
		EnableSSL:       true,
	}
	if cfg.Artifacts.S3 != want {
		t.Errorf("S3 = %+v, want %+v", cfg.Artifacts.S3, want)
	}
}

func TestLoad_QuotedIntegerRejected(t *testing.T) {
	path := writeConfig(t, `
captcha:
  lifetime_seconds: "80"
  code_length: 6
`)
	_, err := config.Load(path)
	if !errors.Is(err, service.ErrInvalidConfig) {
		t.Fatalf("Load err = %v, want ErrInvalidConfig", err)
	}
	var ce *service.ConfigError
	if !errors.As(err, &ce) || ce.Option != "lifetime_seconds" {
		t.Errorf("ConfigError option = %v, want lifetime_seconds", err)
	}
}

func TestLoad_FractionalRejected(t *testing.T) {
	path := writeConfig(t, `
captcha:
  lifetime_seconds: 80
  code_length: 4.5
`)
	_, err := config.Load(path)
	var ce *service.ConfigError
	if !errors.As(err, &ce) || ce.Option != "code_length" {
		t.Fatalf("Load err = %v, want code_length ConfigError", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
captcha:
  lifetime_seconds: 80
  code_length: 6
`)
	t.Setenv("CAPTCHA_LIFETIME_SECONDS", "120")
	t.Setenv("STORAGE_DRIVER", "redis")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Captcha.LifetimeSeconds != 120 {
		t.Errorf("LifetimeSeconds = %d, want 120", cfg.Captcha.LifetimeSeconds)
	}
	if cfg.Storage.Driver != config.DriverRedis {
		t.Errorf("Storage.Driver = %q, want redis", cfg.Storage.Driver)
	}
}

func TestLoad_EnvNonInteger(t *testing.T) {
	path := writeConfig(t, "captcha:\n  code_length: 6\n")
	t.Setenv("CAPTCHA_LIFETIME_SECONDS", "soon")

	_, err := config.Load(path)
	if !errors.Is(err, service.ErrInvalidConfig) {
		t.Fatalf("Load err = %v, want ErrInvalidConfig", err)
	}
}

func TestLoad_MissingRequiredLeftForValidation(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, "storage:\n  driver: memory\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Captcha.LifetimeSeconds != 0 || cfg.Captcha.CodeLength != 0 {
		t.Errorf("Captcha = %+v, want zero values", cfg.Captcha)
	}
	if err := cfg.Captcha.Validate(); !errors.Is(err, service.ErrInvalidConfig) {
		t.Errorf("Validate err = %v, want ErrInvalidConfig", err)
	}
}

func TestLoad_BadFile(t *testing.T) {
	if _, err := config.Load(writeConfig(t, "captcha: [unterminated")); err == nil {
		t.Fatal("expected parse error")
	}
}
