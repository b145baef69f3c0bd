package logger

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestSetup_DevelopmentEmitsDebug(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf, false)

	l.Debug("debug message")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not valid JSON: %v", err)
	}
	if entry["msg"] != "debug message" {
		t.Errorf("msg = %v, want debug message", entry["msg"])
	}
	if entry["level"] != "DEBUG" {
		t.Errorf("level = %v, want DEBUG", entry["level"])
	}
}

func TestSetup_ProductionSuppressesDebug(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf, true)

	l.Debug("should be suppressed")
	if buf.Len() != 0 {
		t.Errorf("production logger emitted debug output: %q", buf.String())
	}

	l.Info("visible")
	if buf.Len() == 0 {
		t.Error("production logger suppressed info output")
	}
}
