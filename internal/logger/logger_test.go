package logger

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestBorderOnlyOnErrors(t *testing.T) {
	var buf bytes.Buffer
	InitLoggerTo(&buf, "debug")
	t.Cleanup(func() { InitLoggerTo(&bytes.Buffer{}, "info") })

	log.Info("task stored")
	if strings.Contains(buf.String(), "+---") {
		t.Fatalf("info entry should not be framed: %q", buf.String())
	}

	buf.Reset()
	LogError(errors.New("put failed"), "storage.Put", map[string]interface{}{"task_id": "abc"})
	out := buf.String()
	if strings.Count(out, "+----------------------------------------+") != 2 {
		t.Fatalf("expected framed error entry, got %q", out)
	}
	for _, want := range []string{"put failed", "storage.Put", "task_id=abc", "logger_test.go"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in %q", want, out)
		}
	}
}

func TestInvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	InitLoggerTo(&buf, "chatty")
	t.Cleanup(func() { InitLoggerTo(&bytes.Buffer{}, "info") })

	if log.GetLevel() != log.InfoLevel {
		t.Fatalf("expected info level, got %s", log.GetLevel())
	}
}
