// Package notify fans relayed ledger events out to live consumers: websocket
// clients and an AMQP exchange.
package notify

import (
	"encoding/json"

	"compliance-ledger/internal/domain"
)

// Message is the wire form of an event. Amounts are encoded as strings so that
// JavaScript consumers do not lose precision above 2^53.
type Message struct {
	Seq       uint64 `json:"seq"`
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Contract  string `json:"contract"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Value     uint64 `json:"value,string"`
	Fee       uint64 `json:"fee,string"`
	Amount    uint64 `json:"amount,string"`
	Nonce     uint64 `json:"nonce,string"`
	Reason    uint64 `json:"reason,string"`
	Previous  string `json:"previous,omitempty"`
	Current   string `json:"current,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// NewMessage converts e to its wire form.
func NewMessage(e *domain.Event) Message {
	return Message{
		Seq:       e.Seq,
		ID:        e.ID,
		Kind:      string(e.Kind),
		Contract:  e.Contract.String(),
		From:      e.From.String(),
		To:        e.To.String(),
		Value:     e.Value,
		Fee:       e.Fee,
		Amount:    e.Amount,
		Nonce:     e.Nonce,
		Reason:    e.Reason,
		Previous:  e.Previous,
		Current:   e.Current,
		Timestamp: e.Timestamp,
	}
}

func encode(e *domain.Event) ([]byte, error) {
	return json.Marshal(NewMessage(e))
}
