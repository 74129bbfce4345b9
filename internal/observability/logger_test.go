package observability

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		want    logrus.Level
		wantErr bool
	}{
		{"defaults", "", "", logrus.InfoLevel, false},
		{"debug text", "debug", "text", logrus.DebugLevel, false},
		{"warn json", "warn", "json", logrus.WarnLevel, false},
		{"bad level", "loud", "text", 0, true},
		{"bad format", "info", "xml", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := NewLogger(tt.level, tt.format, &bytes.Buffer{})
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewLogger: %v", err)
			}
			if l.GetLevel() != tt.want {
				t.Errorf("level = %s, want %s", l.GetLevel(), tt.want)
			}
		})
	}
}

func TestNewLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogger("info", "json", &buf)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	l.WithField("tag", "task:T-1").Info("alert delivered")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("output is not JSON: %v: %s", err, buf.String())
	}
	if entry["tag"] != "task:T-1" || entry["msg"] != "alert delivered" {
		t.Errorf("entry = %v", entry)
	}
}

func TestNewLogger_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l, _ := NewLogger("warn", "text", &buf)
	l.Info("quiet")
	l.Warn("loud")
	if strings.Contains(buf.String(), "quiet") || !strings.Contains(buf.String(), "loud") {
		t.Errorf("output = %q", buf.String())
	}
}
