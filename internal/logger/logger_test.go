package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestConfigureJSON(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	if err := Configure(l, &buf, "debug", "json"); err != nil {
		t.Fatal(err)
	}
	l.WithField("session_id", "s1").Debug("transition applied")
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected json line, got %q", buf.String())
	}
	if line["session_id"] != "s1" || line["msg"] != "transition applied" {
		t.Fatalf("unexpected entry %v", line)
	}
}

func TestConfigureRejectsBadInput(t *testing.T) {
	l := logrus.New()
	if err := Configure(l, &bytes.Buffer{}, "loud", "text"); err == nil {
		t.Fatalf("expected level error")
	}
	if err := Configure(l, &bytes.Buffer{}, "info", "xml"); err == nil {
		t.Fatalf("expected format error")
	}
}
