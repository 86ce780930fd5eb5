package amqp

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"tally/internal/core"
)

// TransactionRecordedMessage announces a newly appended ledger entry.
// It carries only the id; consumers fetch the full row from the store so a
// redelivered message can never resurrect stale data.
type TransactionRecordedMessage struct {
	EventID   string    `json:"event_id"`
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

func NewTransactionRecordedMessage(id int64) *TransactionRecordedMessage {
	return &TransactionRecordedMessage{
		EventID:   uuid.NewString(),
		ID:        id,
		Timestamp: time.Now(),
	}
}

func (m *TransactionRecordedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func TransactionRecordedMessageFromJSON(data []byte) (*TransactionRecordedMessage, error) {
	var msg TransactionRecordedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// AlertRaisedMessage carries a budget alert to the notification consumer.
// Unlike transaction events it embeds the full alert: the band transition
// that produced it is not reconstructible from the ledger later.
type AlertRaisedMessage struct {
	EventID   string          `json:"event_id"`
	Alert     core.AlertEvent `json:"alert"`
	Timestamp time.Time       `json:"timestamp"`
}

func NewAlertRaisedMessage(ev core.AlertEvent) *AlertRaisedMessage {
	return &AlertRaisedMessage{
		EventID:   uuid.NewString(),
		Alert:     ev,
		Timestamp: time.Now(),
	}
}

func (m *AlertRaisedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func AlertRaisedMessageFromJSON(data []byte) (*AlertRaisedMessage, error) {
	var msg AlertRaisedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
