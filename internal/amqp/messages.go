package amqp

import (
	"encoding/json"
	"time"
)

// TransactionCreatedMessage announces a ledger transaction written by
// one of the scheduling engines. Consumers fetch the full row by id;
// the message itself stays small.
type TransactionCreatedMessage struct {
	ID        int64     `json:"id"`
	Origin    string    `json:"origin"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTransactionCreatedMessage builds a message for a transaction
// created by the given engine ("recurrence" or "autoreload").
func NewTransactionCreatedMessage(id int64, origin string) *TransactionCreatedMessage {
	return &TransactionCreatedMessage{
		ID:        id,
		Origin:    origin,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes.
func (m *TransactionCreatedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// TransactionCreatedMessageFromJSON parses a message from JSON bytes.
func TransactionCreatedMessageFromJSON(data []byte) (*TransactionCreatedMessage, error) {
	var msg TransactionCreatedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
