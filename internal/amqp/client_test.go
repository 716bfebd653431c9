package amqp

import (
	"testing"
	"time"
)

func TestNewClosureReportMessage(t *testing.T) {
	msg := NewClosureReportMessage(42)

	if msg.ClosureID != 42 {
		t.Errorf("ClosureID = %v, want 42", msg.ClosureID)
	}
	if msg.Timestamp.IsZero() {
		t.Error("Timestamp should not be zero")
	}
	if time.Since(msg.Timestamp) > time.Second {
		t.Error("Timestamp should be recent")
	}
}

func TestClosureReportMessage_JSON(t *testing.T) {
	timestamp := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	msg := &ClosureReportMessage{
		ClosureID: 7,
		Timestamp: timestamp,
	}

	jsonBytes, err := msg.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error = %v", err)
	}

	parsed, err := ClosureReportMessageFromJSON(jsonBytes)
	if err != nil {
		t.Fatalf("ClosureReportMessageFromJSON() error = %v", err)
	}

	if parsed.ClosureID != msg.ClosureID {
		t.Errorf("Parsed ClosureID = %v, want %v", parsed.ClosureID, msg.ClosureID)
	}
	if !parsed.Timestamp.Equal(msg.Timestamp) {
		t.Errorf("Parsed Timestamp = %v, want %v", parsed.Timestamp, msg.Timestamp)
	}
}

func TestClosureReportMessage_InvalidJSON(t *testing.T) {
	invalidJSON := []byte(`{"closure_id": "not_a_number"}`)

	if _, err := ClosureReportMessageFromJSON(invalidJSON); err == nil {
		t.Error("ClosureReportMessageFromJSON() should fail with invalid JSON")
	}
}
