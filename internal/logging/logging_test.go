package logging_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jmerrifield20/captcha/internal/logging"
	"go.uber.org/zap/zapcore"
)

func TestNew_fileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "captcha.log")
	logger, err := logging.New(logging.Config{Level: "debug", File: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("hello")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"hello"`) {
		t.Errorf("log file content: %s", data)
	}
}

func TestNew_badLevel(t *testing.T) {
	if _, err := logging.New(logging.Config{Level: "loud"}); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestNew_defaults(t *testing.T) {
	logger, err := logging.New(logging.Config{})
	if err != nil {
		t.Fatal(err)
	}
	if !logger.Core().Enabled(zapcore.InfoLevel) {
		t.Error("info level should be enabled by default")
	}
}
