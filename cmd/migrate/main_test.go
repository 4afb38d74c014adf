package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jmerrifield20/captcha/internal/captcha/repository"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "captcha.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestPrint_usesConfiguredTable(t *testing.T) {
	path := writeConfig(t, `
captcha:
  lifetime_seconds: 80
  code_length: 6
storage:
  driver: postgres
  table: app.challenges
`)
	out, err := runCmd(t, "print", "--config", path)
	if err != nil {
		t.Fatalf("print: %v", err)
	}

	repo, err := repository.NewPostgresChallengeRepository(nil, "app.challenges")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, repo.Schema()) {
		t.Errorf("output does not carry the repository DDL:\n%s", out)
	}
	if !strings.Contains(out, repo.DropSchema()) {
		t.Errorf("output does not carry the drop DDL:\n%s", out)
	}
	if strings.Contains(out, `"captchas"`) {
		t.Errorf("output names the default table:\n%s", out)
	}
}

func TestPrint_rejectsNonPostgresDriver(t *testing.T) {
	path := writeConfig(t, `
captcha:
  lifetime_seconds: 80
  code_length: 6
storage:
  driver: redis
`)
	_, err := runCmd(t, "print", "--config", path)
	if err == nil || !strings.Contains(err.Error(), "postgres") {
		t.Errorf("print with redis driver = %v, want driver error", err)
	}
}
