package vcplog

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestLoggerEmitsSortedJSONFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewDefaultLogger(&buf, "vcpaudit")
	l.now = fixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	l.Info("event sealed", F("event_id", "E1"), F("merkle_index", 3))

	line := strings.TrimSpace(buf.String())
	if !strings.HasPrefix(line, `{"event_id":"E1"`) {
		t.Fatalf("expected keys in sorted order with event_id first, got: %s", line)
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(line), &decoded); err != nil {
		t.Fatalf("line is not valid JSON: %v", err)
	}
	if decoded["level"] != "info" {
		t.Fatalf("expected level info, got %v", decoded["level"])
	}
	if decoded["service"] != "vcpaudit" {
		t.Fatalf("expected service vcpaudit, got %v", decoded["service"])
	}
	if decoded["message"] != "event sealed" {
		t.Fatalf("expected message, got %v", decoded["message"])
	}
}

func TestLoggerFiltersBelowMinLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, "svc", LevelWarn)
	l.Debug("should not appear")
	l.Info("should not appear either")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below min level, got: %s", buf.String())
	}
	l.Warn("this appears")
	if buf.Len() == 0 {
		t.Fatal("expected warn output")
	}
}

func TestLoggerWithAttachesBaseFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewDefaultLogger(&buf, "svc")
	child := l.With(F("request_id", "r1"))
	child.Info("handled")

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["request_id"] != "r1" {
		t.Fatalf("expected request_id field from With, got %v", decoded["request_id"])
	}
}

func TestLoggerTruncatesOversizedValues(t *testing.T) {
	var buf bytes.Buffer
	l := NewDefaultLogger(&buf, "svc")
	huge := strings.Repeat("x", maxValueLen+100)
	l.Info("big", F("blob", huge))

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatal(err)
	}
	got, ok := decoded["blob"].(string)
	if !ok {
		t.Fatalf("expected blob field to be a string, got %T", decoded["blob"])
	}
	if len(got) > maxValueLen+30 {
		t.Fatalf("expected truncated value, got length %d", len(got))
	}
	if !strings.HasSuffix(got, "(truncated)") {
		t.Fatalf("expected truncation suffix, got %q", got[len(got)-20:])
	}
}

func TestNopLoggerDiscardsOutput(t *testing.T) {
	Nop.Info("anything", F("k", "v"))
	Nop.Error("anything else")
}
