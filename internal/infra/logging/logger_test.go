package logging

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func setupTestLogger(output *bytes.Buffer, level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	SetLoggerForTest(zerolog.New(output).With().Timestamp().Logger().Level(lvl))
}

func TestInfoLogging(t *testing.T) {
	var buf bytes.Buffer
	setupTestLogger(&buf, "info")

	Info("pdf rendered", "bytes", 42, "cached", true)

	out := buf.String()
	if !strings.Contains(out, "pdf rendered") {
		t.Error("expected log message not found in output")
	}
	if !strings.Contains(out, `"bytes":42`) || !strings.Contains(out, `"cached":true`) {
		t.Error("expected key-value pairs not found in output")
	}
}

func TestWarnLoggingWithError(t *testing.T) {
	var buf bytes.Buffer
	setupTestLogger(&buf, "warn")

	Warn("wait timed out", "error", errors.New("selector .ready"))

	if !strings.Contains(buf.String(), "wait timed out") || !strings.Contains(buf.String(), `"error":"selector .ready"`) {
		t.Errorf("warn output missing expected content: %s", buf.String())
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	setupTestLogger(&buf, "error")

	Info("hidden")
	Error("shown", "fatal", false)

	if strings.Contains(buf.String(), "hidden") {
		t.Error("info message should be filtered at error level")
	}
	if !strings.Contains(buf.String(), `"fatal":false`) {
		t.Error("error output missing expected content")
	}
}

func TestSetLogLevel(t *testing.T) {
	var buf bytes.Buffer
	setupTestLogger(&buf, "warn")

	SetLogLevel("info")
	Info("should be visible", "k", "v", "dangling")

	if !strings.Contains(buf.String(), "should be visible") {
		t.Error("expected info log after SetLogLevel not found")
	}
	if !strings.Contains(buf.String(), `"dangling":null`) {
		t.Error("expected dangling key to be logged with null value")
	}
}

func TestInitLoggerWritesFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "pagepress.log")
	InitLogger(logFile, 1, 1, 1, false, "invalid")
	Info("to file", "k", "v")

	raw, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(raw), "to file") {
		t.Fatalf("expected message in log file, got %q", raw)
	}
}
