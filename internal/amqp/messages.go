package amqp

import (
	"encoding/json"
	"time"
)

// EventType distinguishes the ledger events that travel over the wire.
type EventType string

const (
	EventTransactionPosted EventType = "transaction.posted"
	EventAccountDeleted    EventType = "account.deleted"
)

// Event is a lightweight notification about a ledger change. It carries
// only identifiers; the worker fetches the full transaction from the
// database before mirroring it.
type Event struct {
	Type          EventType `json:"type"`
	TransactionID int64     `json:"transaction_id,omitempty"`
	AccountID     int64     `json:"account_id"`
	Timestamp     time.Time `json:"timestamp"`
}

func NewTransactionPostedEvent(transactionID, accountID int64) *Event {
	return &Event{
		Type:          EventTransactionPosted,
		TransactionID: transactionID,
		AccountID:     accountID,
		Timestamp:     time.Now(),
	}
}

func NewAccountDeletedEvent(accountID int64) *Event {
	return &Event{
		Type:      EventAccountDeleted,
		AccountID: accountID,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the event to JSON bytes
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// EventFromJSON creates an event from JSON bytes
func EventFromJSON(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
