package amqp

import (
	"encoding/json"
	"time"
)

// ClosureReportMessage asks the export worker to build and write the report
// for one saved closure. It carries only the id; the worker loads everything
// else from the database so stale messages never export stale data.
type ClosureReportMessage struct {
	ClosureID int64     `json:"closure_id"`
	Timestamp time.Time `json:"timestamp"`
}

func NewClosureReportMessage(closureID int64) *ClosureReportMessage {
	return &ClosureReportMessage{
		ClosureID: closureID,
		Timestamp: time.Now(),
	}
}

func (m *ClosureReportMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func ClosureReportMessageFromJSON(data []byte) (*ClosureReportMessage, error) {
	var msg ClosureReportMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
